package raffle

import (
	"math/big"
	"time"
)

const (
	StateOpen State = iota
	StateCalculating
)

type State uint8

func (s State) String() string {
	switch s {
	case StateOpen:
		return "OPEN"
	case StateCalculating:
		return "CALCULATING"
	default:
		return "UNKNOWN"
	}
}

// Amount is a value in the smallest unit of the payout currency (nanotons).
type Amount uint64

type Entry struct {
	Participant string
	Amount      Amount
}

// Round is the raffle's single mutable aggregate. PendingRequestID is only
// meaningful while State is StateCalculating.
type Round struct {
	State            State
	Entries          []Entry
	EscrowBalance    Amount
	LastTimestamp    time.Time
	PendingRequestID uint64
	RecentWinner     string
	EntranceFee      Amount
	Interval         time.Duration
}

func NewRound(entranceFee Amount, interval time.Duration, now time.Time) *Round {
	return &Round{
		State:         StateOpen,
		Entries:       make([]Entry, 0),
		LastTimestamp: now,
		EntranceFee:   entranceFee,
		Interval:      interval,
	}
}

func (r *Round) clone() *Round {
	c := *r
	c.Entries = append(make([]Entry, 0, len(r.Entries)), r.Entries...)
	return &c
}

// WinnerIndex maps an oracle word onto an entry position: randomValue mod count.
func WinnerIndex(randomValue *big.Int, count int) int {
	return int(new(big.Int).Mod(randomValue, big.NewInt(int64(count))).Int64())
}
