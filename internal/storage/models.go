package storage

const roundRecordID = 1

// RoundRecord is the single persisted row of the current round.
type RoundRecord struct {
	ID               uint   `gorm:"primaryKey"`
	State            uint8  `gorm:"not null"`
	EscrowBalance    uint64 `gorm:"not null;default:0"`
	LastTimestamp    int64  `gorm:"not null"`
	PendingRequestID uint64 `gorm:"default:0"`
	RecentWinner     string `gorm:"default:''"`
	EntranceFee      uint64 `gorm:"not null"`
	IntervalNanos    int64  `gorm:"not null"`
}

type EntryRecord struct {
	Position    int    `gorm:"primaryKey;autoIncrement:false"`
	Participant string `gorm:"not null;index"`
	Amount      uint64 `gorm:"not null"`
}

// Cursor remembers how far a chain source has been processed.
type Cursor struct {
	Name            string `gorm:"primaryKey"`
	TransactionLt   int64  `gorm:"not null"`
	TransactionHash string `gorm:"default:''"`
}
