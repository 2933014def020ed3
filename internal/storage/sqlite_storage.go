package storage

import (
	"context"
	"errors"
	"time"

	"raffled/internal/logger"
	"raffled/internal/raffle"

	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
)

type SqliteStorage struct {
	db *gorm.DB
}

func NewSqliteStorage(path string) (*SqliteStorage, error) {

	logger.Debug("initializing database...", zap.String("path", path))
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, err
	}

	err = db.AutoMigrate(
		&RoundRecord{},
		&EntryRecord{},
		&Cursor{},
	)
	if err != nil {
		return nil, err
	}

	logger.Debug("initializing database... done")
	return &SqliteStorage{
		db: db,
	}, nil
}

func (s *SqliteStorage) LoadRound(ctx context.Context) (*raffle.Round, error) {
	logger.Debug("loading round...")

	var record RoundRecord
	err := s.db.WithContext(ctx).First(&record, roundRecordID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		logger.Debug("loading round... no round stored")
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var entries []*EntryRecord
	err = s.db.WithContext(ctx).Order("position").Find(&entries).Error
	if err != nil {
		return nil, err
	}

	round := &raffle.Round{
		State:            raffle.State(record.State),
		Entries:          make([]raffle.Entry, 0, len(entries)),
		EscrowBalance:    raffle.Amount(record.EscrowBalance),
		LastTimestamp:    time.Unix(0, record.LastTimestamp),
		PendingRequestID: record.PendingRequestID,
		RecentWinner:     record.RecentWinner,
		EntranceFee:      raffle.Amount(record.EntranceFee),
		Interval:         time.Duration(record.IntervalNanos),
	}
	for _, entry := range entries {
		round.Entries = append(round.Entries, raffle.Entry{
			Participant: entry.Participant,
			Amount:      raffle.Amount(entry.Amount),
		})
	}

	logger.Debug("loading round... done", zap.Int("entries", len(round.Entries)))
	return round, nil
}

func (s *SqliteStorage) SaveRound(ctx context.Context, round *raffle.Round, commit func() error) error {
	logger.Debug("saving round...", zap.Stringer("state", round.State), zap.Int("entries", len(round.Entries)))

	record := &RoundRecord{
		ID:               roundRecordID,
		State:            uint8(round.State),
		EscrowBalance:    uint64(round.EscrowBalance),
		LastTimestamp:    round.LastTimestamp.UnixNano(),
		PendingRequestID: round.PendingRequestID,
		RecentWinner:     round.RecentWinner,
		EntranceFee:      uint64(round.EntranceFee),
		IntervalNanos:    int64(round.Interval),
	}

	entries := make([]*EntryRecord, 0, len(round.Entries))
	for i, entry := range round.Entries {
		entries = append(entries, &EntryRecord{
			Position:    i,
			Participant: entry.Participant,
			Amount:      uint64(entry.Amount),
		})
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Save(record).Error; err != nil {
			return err
		}

		if err := tx.Where("position >= ?", len(entries)).Delete(&EntryRecord{}).Error; err != nil {
			return err
		}

		if len(entries) > 0 {
			err := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "position"}},
				DoUpdates: clause.AssignmentColumns([]string{"participant", "amount"}),
			}).CreateInBatches(entries, 100).Error
			if err != nil {
				return err
			}
		}

		if commit != nil {
			return commit()
		}
		return nil
	})
	if err != nil {
		logger.Debug("saving round... failed", zap.Error(err))
		return err
	}

	logger.Debug("saving round... done")
	return nil
}

func (s *SqliteStorage) GetCursor(ctx context.Context, name string) (*Cursor, error) {
	logger.Debug("getting cursor...", zap.String("name", name))

	cursor := &Cursor{Name: name}
	err := s.db.WithContext(ctx).Where("name = ?", name).First(cursor).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return cursor, nil
	}
	if err != nil {
		return nil, err
	}

	logger.Debug("getting cursor... done", zap.Int64("transactionLt", cursor.TransactionLt))
	return cursor, nil
}

func (s *SqliteStorage) UpdateCursor(ctx context.Context, cursor *Cursor) error {
	logger.Debug("updating cursor...", zap.String("name", cursor.Name), zap.Int64("transactionLt", cursor.TransactionLt))

	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "name"}},
		DoUpdates: clause.AssignmentColumns([]string{"transaction_lt", "transaction_hash"}),
	}).Create(cursor).Error
	if err != nil {
		return err
	}

	logger.Debug("updating cursor... done")
	return nil
}

func (s *SqliteStorage) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
