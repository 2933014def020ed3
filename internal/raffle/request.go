package raffle

import (
	"context"
	"fmt"
	"time"
)

// requestManager closes a round by issuing its single randomness request.
type requestManager struct {
	oracle  Oracle
	request RandomnessRequest
}

func (m requestManager) close(ctx context.Context, round *Round, now time.Time, consumer Consumer) (uint64, error) {
	if round.State == StateCalculating {
		return 0, fmt.Errorf("%w: request %d already pending", ErrInvalidState, round.PendingRequestID)
	}

	status := evaluateUpkeep(round, now)
	if !status.Needed() {
		return 0, fmt.Errorf(
			"%w: balance %d, entrants %d, state %s, elapsed %s",
			ErrUpkeepNotNeeded, round.EscrowBalance, len(round.Entries), round.State, status.SinceLastRun,
		)
	}

	requestID, err := m.oracle.RequestRandomWords(ctx, m.request, consumer)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRequestFailed, err)
	}

	round.PendingRequestID = requestID
	round.State = StateCalculating
	return requestID, nil
}
