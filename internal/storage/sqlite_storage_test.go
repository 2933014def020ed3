package storage_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"raffled/internal/raffle"
	"raffled/internal/storage"

	"github.com/stretchr/testify/require"
)

func newStorage(t *testing.T) *storage.SqliteStorage {
	s, err := storage.NewSqliteStorage(filepath.Join(t.TempDir(), "raffle.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestRoundPersistence(t *testing.T) {
	ctx := context.Background()
	s := newStorage(t)

	round, err := s.LoadRound(ctx)
	require.NoError(t, err)
	require.Nil(t, round)

	start := time.Unix(1_700_000_000, 500)
	expected := raffle.NewRound(10, 30*time.Second, start)
	expected.Entries = []raffle.Entry{
		{Participant: "A", Amount: 10},
		{Participant: "B", Amount: 12},
		{Participant: "A", Amount: 10},
	}
	expected.EscrowBalance = 32
	expected.State = raffle.StateCalculating
	expected.PendingRequestID = 4
	expected.RecentWinner = "C"

	require.NoError(t, s.SaveRound(ctx, expected, nil))

	round, err = s.LoadRound(ctx)
	require.NoError(t, err)
	require.Equal(t, expected.State, round.State)
	require.Equal(t, expected.Entries, round.Entries)
	require.Equal(t, expected.EscrowBalance, round.EscrowBalance)
	require.True(t, expected.LastTimestamp.Equal(round.LastTimestamp))
	require.Equal(t, expected.PendingRequestID, round.PendingRequestID)
	require.Equal(t, expected.RecentWinner, round.RecentWinner)
	require.Equal(t, expected.EntranceFee, round.EntranceFee)
	require.Equal(t, expected.Interval, round.Interval)

	// shrinking the entry list removes the stale rows
	expected.Entries = []raffle.Entry{{Participant: "D", Amount: 11}}
	expected.EscrowBalance = 11
	expected.State = raffle.StateOpen
	expected.PendingRequestID = 0
	require.NoError(t, s.SaveRound(ctx, expected, nil))

	round, err = s.LoadRound(ctx)
	require.NoError(t, err)
	require.Equal(t, expected.Entries, round.Entries)
	require.Equal(t, raffle.StateOpen, round.State)
	require.Zero(t, round.PendingRequestID)
}

func TestSaveRoundCommit(t *testing.T) {
	ctx := context.Background()
	s := newStorage(t)

	calculating := raffle.NewRound(10, 30*time.Second, time.Unix(100, 0))
	calculating.Entries = []raffle.Entry{{Participant: "A", Amount: 10}}
	calculating.EscrowBalance = 10
	calculating.State = raffle.StateCalculating
	calculating.PendingRequestID = 1
	require.NoError(t, s.SaveRound(ctx, calculating, nil))

	reopened := raffle.NewRound(10, 30*time.Second, time.Unix(200, 0))
	reopened.RecentWinner = "A"

	failure := errors.New("transfer bounced")
	err := s.SaveRound(ctx, reopened, func() error { return failure })
	require.ErrorIs(t, err, failure)

	round, err := s.LoadRound(ctx)
	require.NoError(t, err)
	require.Equal(t, raffle.StateCalculating, round.State)
	require.Equal(t, uint64(1), round.PendingRequestID)
	require.Len(t, round.Entries, 1)
	require.Empty(t, round.RecentWinner)

	committed := false
	require.NoError(t, s.SaveRound(ctx, reopened, func() error {
		committed = true
		return nil
	}))
	require.True(t, committed)

	round, err = s.LoadRound(ctx)
	require.NoError(t, err)
	require.Equal(t, raffle.StateOpen, round.State)
	require.Empty(t, round.Entries)
	require.Equal(t, "A", round.RecentWinner)
}

func TestCursor(t *testing.T) {
	ctx := context.Background()
	s := newStorage(t)

	cursor, err := s.GetCursor(ctx, storage.EntryTrackerCursor)
	require.NoError(t, err)
	require.Equal(t, storage.EntryTrackerCursor, cursor.Name)
	require.Zero(t, cursor.TransactionLt)

	cursor.TransactionLt = 42
	cursor.TransactionHash = "abc"
	require.NoError(t, s.UpdateCursor(ctx, cursor))

	cursor.TransactionLt = 43
	require.NoError(t, s.UpdateCursor(ctx, cursor))

	stored, err := s.GetCursor(ctx, storage.EntryTrackerCursor)
	require.NoError(t, err)
	require.Equal(t, int64(43), stored.TransactionLt)
	require.Equal(t, "abc", stored.TransactionHash)
}

func TestRaffleWithStorage(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "raffle.db")
	config := raffle.Config{EntranceFee: 10, Interval: 30 * time.Second}
	start := time.Unix(1_700_000_000, 0)

	s, err := storage.NewSqliteStorage(path)
	require.NoError(t, err)
	r, err := raffle.New(ctx, config, oracleStub{}, payerStub{}, raffle.WithStore(s), raffle.WithClock(func() time.Time { return start }))
	require.NoError(t, err)
	require.NoError(t, r.Enter(ctx, "A", 10))
	require.NoError(t, r.Enter(ctx, "B", 10))
	requestID, err := r.PerformUpkeep(ctx, start.Add(time.Minute))
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = storage.NewSqliteStorage(path)
	require.NoError(t, err)
	defer s.Close()

	restored, err := raffle.New(ctx, config, oracleStub{}, payerStub{}, raffle.WithStore(s))
	require.NoError(t, err)
	require.Equal(t, raffle.StateCalculating, restored.State())
	require.Equal(t, 2, restored.NumberOfEntrants())

	picked, err := restored.Fulfill(ctx, requestID, bigOne, start.Add(2*time.Minute))
	require.NoError(t, err)
	require.Equal(t, "B", picked.Winner)
}
