package raffle

import (
	"context"
	"fmt"
	"math/big"
	"time"
)

type settleFunc func(ctx context.Context, round *Round, transfer func() error) error

// winnerSelector resolves a fulfilled request into a paid winner.
type winnerSelector struct {
	payer Payer
}

func (s winnerSelector) fulfill(
	ctx context.Context, round *Round, requestID uint64, randomValue *big.Int, now time.Time, settle settleFunc,
) (*WinnerPicked, error) {
	if round.State != StateCalculating || round.PendingRequestID != requestID {
		return nil, fmt.Errorf("%w: %d", ErrUnknownRequest, requestID)
	}
	if randomValue == nil || randomValue.Sign() < 0 {
		return nil, ErrInvalidRandomWord
	}

	ledger := entryLedger{round}
	if ledger.count() == 0 {
		return nil, fmt.Errorf("%w: calculating round without entrants", ErrInvalidState)
	}
	index := WinnerIndex(randomValue, ledger.count())
	entry, err := ledger.at(index)
	if err != nil {
		return nil, err
	}

	previous := round.clone()
	payout := round.EscrowBalance

	round.RecentWinner = entry.Participant
	ledger.clear()
	roundClock{round}.reset(now)
	round.State = StateOpen
	round.PendingRequestID = 0

	paid := false
	transfer := func() error {
		if err := s.payer.Transfer(ctx, entry.Participant, payout); err != nil {
			return fmt.Errorf("%w: %d to %s: %v", ErrTransferFailed, payout, entry.Participant, err)
		}
		paid = true
		return nil
	}

	picked := &WinnerPicked{
		RequestID:   requestID,
		Winner:      entry.Participant,
		WinnerIndex: index,
		Payout:      payout,
		PickedAt:    now,
	}

	if err := settle(ctx, round, transfer); err != nil {
		// the escrow has left, the round must not go back to Calculating
		if paid {
			return picked, fmt.Errorf("%w: request %d: %v", ErrPayoutNotPersisted, requestID, err)
		}
		*round = *previous
		return nil, err
	}

	return picked, nil
}
