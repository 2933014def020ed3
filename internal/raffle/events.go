package raffle

import "time"

type Event interface {
	isEvent()
}

type EntryAccepted struct {
	Participant string
	Amount      Amount
}

type RoundClosing struct {
	RequestID uint64
	ClosedAt  time.Time
}

type WinnerPicked struct {
	RequestID   uint64
	Winner      string
	WinnerIndex int
	Payout      Amount
	PickedAt    time.Time
}

func (EntryAccepted) isEvent() {}
func (RoundClosing) isEvent()  {}
func (WinnerPicked) isEvent()  {}

// Listener receives events synchronously while the raffle lock is held; it
// must not call back into the Raffle.
type Listener func(Event)
