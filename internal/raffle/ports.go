package raffle

import (
	"context"
	"math/big"
)

type RandomnessRequest struct {
	KeyHash              string
	SubscriptionID       uint64
	RequestConfirmations uint16
	CallbackGasLimit     uint32
	NumWords             uint32
}

// Consumer is the callback side of the randomness oracle protocol.
type Consumer interface {
	FulfillRandomWords(ctx context.Context, requestID uint64, words []*big.Int) error
}

// Oracle issues randomness requests on behalf of a consumer and answers them
// later through Consumer.FulfillRandomWords.
type Oracle interface {
	RequestRandomWords(ctx context.Context, request RandomnessRequest, consumer Consumer) (uint64, error)
}

type Payer interface {
	Transfer(ctx context.Context, to string, amount Amount) error
}

// Store persists the round. SaveRound writes round and then runs commit (when
// non-nil) inside the same transaction; a commit error discards the write.
// LoadRound returns nil, nil when nothing has been stored yet.
type Store interface {
	LoadRound(ctx context.Context) (*Round, error)
	SaveRound(ctx context.Context, round *Round, commit func() error) error
}
