package raffle

import "time"

// UpkeepStatus breaks the upkeep predicate into its four conditions.
type UpkeepStatus struct {
	IsOpen       bool
	TimePassed   bool
	HasEntrants  bool
	HasBalance   bool
	SinceLastRun time.Duration
}

func (s UpkeepStatus) Needed() bool {
	return s.IsOpen && s.TimePassed && s.HasEntrants && s.HasBalance
}

func evaluateUpkeep(round *Round, now time.Time) UpkeepStatus {
	clock := roundClock{round}
	return UpkeepStatus{
		IsOpen:       round.State == StateOpen,
		TimePassed:   clock.intervalElapsed(now),
		HasEntrants:  entryLedger{round}.count() > 0,
		HasBalance:   round.EscrowBalance > 0,
		SinceLastRun: clock.elapsedSince(now),
	}
}
