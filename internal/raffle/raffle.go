package raffle

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"raffled/internal/logger"

	"go.uber.org/zap"
)

const (
	DefaultRequestConfirmations uint16 = 3
	DefaultNumWords             uint32 = 1
	DefaultCallbackGasLimit     uint32 = 500_000
)

type Config struct {
	EntranceFee          Amount
	Interval             time.Duration
	KeyHash              string
	SubscriptionID       uint64
	RequestConfirmations uint16
	CallbackGasLimit     uint32
	NumWords             uint32
}

type Option func(*Raffle)

func WithStore(store Store) Option {
	return func(r *Raffle) {
		r.store = store
	}
}

func WithListener(listener Listener) Option {
	return func(r *Raffle) {
		r.listeners = append(r.listeners, listener)
	}
}

// WithClock replaces time.Now for the fulfillment timestamp of oracle callbacks
// and for the creation time of a fresh round.
func WithClock(now func() time.Time) Option {
	return func(r *Raffle) {
		r.now = now
	}
}

// Raffle owns the round and serializes every mutation of it.
type Raffle struct {
	mu        sync.RWMutex
	round     *Round
	request   RandomnessRequest
	requests  requestManager
	winners   winnerSelector
	store     Store
	listeners []Listener
	now       func() time.Time
}

func New(ctx context.Context, config Config, oracle Oracle, payer Payer, opts ...Option) (*Raffle, error) {
	if oracle == nil {
		return nil, errors.New("raffle: missing randomness oracle")
	}
	if payer == nil {
		return nil, errors.New("raffle: missing payer")
	}
	if config.Interval < 0 {
		return nil, fmt.Errorf("raffle: negative interval %s", config.Interval)
	}

	request := RandomnessRequest{
		KeyHash:              config.KeyHash,
		SubscriptionID:       config.SubscriptionID,
		RequestConfirmations: config.RequestConfirmations,
		CallbackGasLimit:     config.CallbackGasLimit,
		NumWords:             config.NumWords,
	}
	if request.RequestConfirmations == 0 {
		request.RequestConfirmations = DefaultRequestConfirmations
	}
	if request.NumWords == 0 {
		request.NumWords = DefaultNumWords
	}
	if request.CallbackGasLimit == 0 {
		request.CallbackGasLimit = DefaultCallbackGasLimit
	}

	r := &Raffle{
		request:  request,
		requests: requestManager{oracle: oracle, request: request},
		winners:  winnerSelector{payer: payer},
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}

	if err := r.restore(ctx, config); err != nil {
		return nil, err
	}

	logger.Info(
		"raffle: initialized",
		zap.Uint64("entrance fee", uint64(r.round.EntranceFee)),
		zap.Duration("interval", r.round.Interval),
		zap.Stringer("state", r.round.State),
		zap.Int("entrants", len(r.round.Entries)),
	)
	return r, nil
}

func (r *Raffle) restore(ctx context.Context, config Config) error {
	if r.store != nil {
		stored, err := r.store.LoadRound(ctx)
		if err != nil {
			return fmt.Errorf("raffle: load round: %w", err)
		}

		if stored != nil {
			if stored.EntranceFee != config.EntranceFee || stored.Interval != config.Interval {
				return fmt.Errorf(
					"%w: stored fee %d interval %s, configured fee %d interval %s",
					ErrConfigMismatch, stored.EntranceFee, stored.Interval, config.EntranceFee, config.Interval,
				)
			}
			logger.Debug("raffle: round restored from store", zap.Uint64("pending request", stored.PendingRequestID))
			r.round = stored
			return nil
		}
	}

	r.round = NewRound(config.EntranceFee, config.Interval, r.now())
	return r.settle(ctx, r.round, nil)
}

func (r *Raffle) settle(ctx context.Context, round *Round, commit func() error) error {
	if r.store == nil {
		if commit == nil {
			return nil
		}
		return commit()
	}

	err := r.store.SaveRound(ctx, round, commit)
	if err == nil || errors.Is(err, ErrTransferFailed) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrPersistFailed, err)
}

func (r *Raffle) emit(event Event) {
	for _, listener := range r.listeners {
		listener(event)
	}
}

// Enter records one paid entry for participant in the open round.
func (r *Raffle) Enter(ctx context.Context, participant string, paid Amount) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	previous := r.round.clone()
	if err := (entryLedger{r.round}).add(participant, paid); err != nil {
		logger.Debug("raffle: entry rejected", zap.String("participant", participant), zap.Uint64("paid", uint64(paid)), zap.Error(err))
		return err
	}

	if err := r.settle(ctx, r.round, nil); err != nil {
		r.round = previous
		logger.Error("raffle: entry not persisted", zap.String("participant", participant), zap.Error(err))
		return err
	}

	logger.Info("raffle: entry accepted", zap.String("participant", participant), zap.Uint64("amount", uint64(paid)))
	r.emit(EntryAccepted{Participant: participant, Amount: paid})
	return nil
}

// CheckUpkeep reports whether the round may be closed at now. It never mutates.
func (r *Raffle) CheckUpkeep(now time.Time) (bool, UpkeepStatus) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	status := evaluateUpkeep(r.round, now)
	return status.Needed(), status
}

// PerformUpkeep closes the round and requests randomness for it.
func (r *Raffle) PerformUpkeep(ctx context.Context, now time.Time) (uint64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	previous := r.round.clone()
	requestID, err := r.requests.close(ctx, r.round, now, r)
	if err != nil {
		return 0, err
	}

	if err := r.settle(ctx, r.round, nil); err != nil {
		r.round = previous
		logger.Error("raffle: closing not persisted, request orphaned", zap.Uint64("request", requestID), zap.Error(err))
		return 0, err
	}

	logger.Info("raffle: round closing", zap.Uint64("request", requestID), zap.Int("entrants", len(r.round.Entries)))
	r.emit(RoundClosing{RequestID: requestID, ClosedAt: now})
	return requestID, nil
}

// Fulfill picks the winner for requestID and pays out the escrow. When the
// payout went out but the reopened round could not be stored, the round stays
// reopened in memory and the picked winner is returned with
// ErrPayoutNotPersisted.
func (r *Raffle) Fulfill(ctx context.Context, requestID uint64, randomValue *big.Int, now time.Time) (*WinnerPicked, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	picked, err := r.winners.fulfill(ctx, r.round, requestID, randomValue, now, r.settle)
	if errors.Is(err, ErrPayoutNotPersisted) {
		logger.Error(
			"raffle: payout sent but round not persisted, saving reopened round again",
			zap.Uint64("request", requestID),
			zap.String("winner", picked.Winner),
			zap.Uint64("payout", uint64(picked.Payout)),
			zap.Error(err),
		)
		if retryErr := r.settle(ctx, r.round, nil); retryErr != nil {
			logger.Error("raffle: reopened round still not persisted", zap.Uint64("request", requestID), zap.Error(retryErr))
			r.emit(*picked)
			return picked, err
		}
		err = nil
	}
	if err != nil {
		logger.Warn("raffle: fulfillment rejected", zap.Uint64("request", requestID), zap.Error(err))
		return nil, err
	}

	logger.Info(
		"raffle: winner picked",
		zap.Uint64("request", requestID),
		zap.String("winner", picked.Winner),
		zap.Int("index", picked.WinnerIndex),
		zap.Uint64("payout", uint64(picked.Payout)),
	)
	r.emit(*picked)
	return picked, nil
}

// FulfillRandomWords is the oracle callback; only the first word is used.
func (r *Raffle) FulfillRandomWords(ctx context.Context, requestID uint64, words []*big.Int) error {
	var word *big.Int
	if len(words) > 0 {
		word = words[0]
	}

	_, err := r.Fulfill(ctx, requestID, word, r.now())
	return err
}

func (r *Raffle) EntranceFee() Amount {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.round.EntranceFee
}

func (r *Raffle) Interval() time.Duration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.round.Interval
}

func (r *Raffle) State() State {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.round.State
}

func (r *Raffle) Entry(index int) (Entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return entryLedger{r.round}.at(index)
}

func (r *Raffle) NumberOfEntrants() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return entryLedger{r.round}.count()
}

func (r *Raffle) EscrowBalance() Amount {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.round.EscrowBalance
}

func (r *Raffle) LastTimestamp() time.Time {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.round.LastTimestamp
}

// RecentWinner returns the last paid winner, if any.
func (r *Raffle) RecentWinner() (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.round.RecentWinner, r.round.RecentWinner != ""
}

// PendingRequestID returns the outstanding request while the round is calculating.
func (r *Raffle) PendingRequestID() (uint64, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.round.State != StateCalculating {
		return 0, false
	}
	return r.round.PendingRequestID, true
}

func (r *Raffle) RandomnessRequest() RandomnessRequest {
	return r.request
}

// Snapshot returns a copy of the current round.
func (r *Raffle) Snapshot() *Round {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.round.clone()
}
