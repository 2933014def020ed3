package oracle

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math/big"
	mrand "math/rand/v2"
	"sort"
	"sync"
	"time"

	"raffled/internal/logger"
	"raffled/internal/raffle"

	"go.uber.org/zap"
)

const (
	MaxRequestConfirmations uint16 = 200
	MaxNumWords             uint32 = 500
	wordSize                       = 32
	maxRetryDelay                  = time.Minute
)

var (
	ErrInvalidSubscription      = errors.New("invalid subscription")
	ErrInvalidConsumer          = errors.New("invalid consumer")
	ErrInvalidRequestParameters = errors.New("invalid request parameters")
	ErrNonexistentRequest       = errors.New("nonexistent request")
)

type subscription struct {
	consumers map[raffle.Consumer]struct{}
}

type pendingRequest struct {
	id             uint64
	subscriptionID uint64
	numWords       uint32
	consumer       raffle.Consumer
	readyAt        time.Time
	attempts       int
	// words are drawn on the first delivery and reused by every retry
	words []*big.Int
}

// Coordinator is an in-process randomness oracle speaking the two-phase
// request/fulfill protocol. Requests are answered either explicitly through
// FulfillRandomWords or by the Run worker once their confirmations elapsed.
// A request is bound to the words of its first delivery.
type Coordinator struct {
	mu            sync.Mutex
	source        io.Reader
	blockTime     time.Duration
	nextSubID     uint64
	nextRequestID uint64
	subscriptions map[uint64]*subscription
	requests      map[uint64]*pendingRequest
	now           func() time.Time
}

type Option func(*Coordinator)

// WithSeed makes the generated words deterministic.
func WithSeed(seed uint64) Option {
	return func(c *Coordinator) {
		var key [32]byte
		binary.LittleEndian.PutUint64(key[:], seed)
		c.source = mrand.NewChaCha8(key)
	}
}

func WithSource(source io.Reader) Option {
	return func(c *Coordinator) {
		c.source = source
	}
}

// WithBlockTime sets how long one request confirmation takes.
func WithBlockTime(blockTime time.Duration) Option {
	return func(c *Coordinator) {
		c.blockTime = blockTime
	}
}

func NewCoordinator(opts ...Option) *Coordinator {
	c := &Coordinator{
		source:        rand.Reader,
		blockTime:     time.Second,
		subscriptions: make(map[uint64]*subscription),
		requests:      make(map[uint64]*pendingRequest),
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Coordinator) CreateSubscription() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.nextSubID++
	c.subscriptions[c.nextSubID] = &subscription{consumers: make(map[raffle.Consumer]struct{})}
	logger.Info("oracle: subscription created", zap.Uint64("subscription", c.nextSubID))
	return c.nextSubID
}

// CancelSubscription drops the subscription along with its pending requests.
func (c *Coordinator) CancelSubscription(subID uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.subscriptions[subID]; !ok {
		return fmt.Errorf("%w: %d", ErrInvalidSubscription, subID)
	}
	delete(c.subscriptions, subID)
	for id, request := range c.requests {
		if request.subscriptionID == subID {
			delete(c.requests, id)
		}
	}

	logger.Info("oracle: subscription canceled", zap.Uint64("subscription", subID))
	return nil
}

func (c *Coordinator) AddConsumer(subID uint64, consumer raffle.Consumer) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	sub, ok := c.subscriptions[subID]
	if !ok {
		return fmt.Errorf("%w: %d", ErrInvalidSubscription, subID)
	}
	sub.consumers[consumer] = struct{}{}
	return nil
}

func (c *Coordinator) RemoveConsumer(subID uint64, consumer raffle.Consumer) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	sub, ok := c.subscriptions[subID]
	if !ok {
		return fmt.Errorf("%w: %d", ErrInvalidSubscription, subID)
	}
	if _, ok := sub.consumers[consumer]; !ok {
		return ErrInvalidConsumer
	}
	delete(sub.consumers, consumer)
	return nil
}

// RequestRandomWords records a request and returns its id. It never calls the
// consumer back synchronously.
func (c *Coordinator) RequestRandomWords(_ context.Context, request raffle.RandomnessRequest, consumer raffle.Consumer) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	sub, ok := c.subscriptions[request.SubscriptionID]
	if !ok {
		return 0, fmt.Errorf("%w: %d", ErrInvalidSubscription, request.SubscriptionID)
	}
	if _, ok := sub.consumers[consumer]; !ok {
		return 0, fmt.Errorf("%w: not registered on subscription %d", ErrInvalidConsumer, request.SubscriptionID)
	}
	if request.NumWords == 0 || request.NumWords > MaxNumWords {
		return 0, fmt.Errorf("%w: %d words", ErrInvalidRequestParameters, request.NumWords)
	}
	if request.RequestConfirmations > MaxRequestConfirmations {
		return 0, fmt.Errorf("%w: %d confirmations", ErrInvalidRequestParameters, request.RequestConfirmations)
	}

	c.nextRequestID++
	c.requests[c.nextRequestID] = &pendingRequest{
		id:             c.nextRequestID,
		subscriptionID: request.SubscriptionID,
		numWords:       request.NumWords,
		consumer:       consumer,
		readyAt:        c.now().Add(time.Duration(request.RequestConfirmations) * c.blockTime),
	}

	logger.Info(
		"oracle: random words requested",
		zap.Uint64("request", c.nextRequestID),
		zap.Uint64("subscription", request.SubscriptionID),
		zap.String("key hash", request.KeyHash),
		zap.Uint16("confirmations", request.RequestConfirmations),
		zap.Uint32("words", request.NumWords),
	)
	return c.nextRequestID, nil
}

// Resume re-registers a request issued before a restart so that it can be
// fulfilled again. Later request ids continue after it.
func (c *Coordinator) Resume(subID uint64, requestID uint64, numWords uint32, consumer raffle.Consumer) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	sub, ok := c.subscriptions[subID]
	if !ok {
		return fmt.Errorf("%w: %d", ErrInvalidSubscription, subID)
	}
	if _, ok := sub.consumers[consumer]; !ok {
		return fmt.Errorf("%w: not registered on subscription %d", ErrInvalidConsumer, subID)
	}
	if requestID == 0 || numWords == 0 || numWords > MaxNumWords {
		return ErrInvalidRequestParameters
	}
	if _, ok := c.requests[requestID]; ok {
		return fmt.Errorf("%w: request %d already pending", ErrInvalidRequestParameters, requestID)
	}

	c.requests[requestID] = &pendingRequest{
		id:             requestID,
		subscriptionID: subID,
		numWords:       numWords,
		consumer:       consumer,
		readyAt:        c.now(),
	}
	if requestID > c.nextRequestID {
		c.nextRequestID = requestID
	}

	logger.Info("oracle: request resumed", zap.Uint64("request", requestID), zap.Uint64("subscription", subID))
	return nil
}

// FulfillRandomWords delivers the words of requestID, drawing them on the
// first attempt. A consumer error keeps the request pending so it can be
// fulfilled again with the same words, unless the consumer does not recognise
// the request or has already paid it out.
func (c *Coordinator) FulfillRandomWords(ctx context.Context, requestID uint64) error {
	c.mu.Lock()
	request, ok := c.requests[requestID]
	if !ok {
		c.mu.Unlock()
		return fmt.Errorf("%w: %d", ErrNonexistentRequest, requestID)
	}

	if request.words == nil {
		drawn, err := c.drawWords(request.numWords)
		if err != nil {
			c.mu.Unlock()
			return err
		}
		request.words = drawn
	}
	words := copyWords(request.words)
	c.mu.Unlock()

	err := request.consumer.FulfillRandomWords(ctx, requestID, words)

	c.mu.Lock()
	defer c.mu.Unlock()

	if err != nil && !errors.Is(err, raffle.ErrUnknownRequest) && !errors.Is(err, raffle.ErrPayoutNotPersisted) {
		if pending, ok := c.requests[requestID]; ok {
			pending.attempts++
			pending.readyAt = c.now().Add(c.retryDelay(pending.attempts))
		}
		logger.Warn("oracle: fulfillment failed, request kept", zap.Uint64("request", requestID), zap.Error(err))
		return fmt.Errorf("oracle: fulfill request %d: %w", requestID, err)
	}

	delete(c.requests, requestID)
	if err != nil {
		logger.Warn("oracle: consumer rejected request, dropped", zap.Uint64("request", requestID), zap.Error(err))
		return fmt.Errorf("oracle: fulfill request %d: %w", requestID, err)
	}

	logger.Info("oracle: random words fulfilled", zap.Uint64("request", requestID), zap.Int("words", len(words)))
	return nil
}

func (c *Coordinator) drawWords(count uint32) ([]*big.Int, error) {
	words := make([]*big.Int, 0, count)
	buf := make([]byte, wordSize)
	for i := uint32(0); i < count; i++ {
		if _, err := io.ReadFull(c.source, buf); err != nil {
			return nil, fmt.Errorf("oracle: read randomness: %w", err)
		}
		words = append(words, new(big.Int).SetBytes(buf))
	}
	return words, nil
}

func copyWords(words []*big.Int) []*big.Int {
	copied := make([]*big.Int, len(words))
	for i, word := range words {
		copied[i] = new(big.Int).Set(word)
	}
	return copied
}

// retryDelay doubles the block time per failed attempt, up to maxRetryDelay.
func (c *Coordinator) retryDelay(attempts int) time.Duration {
	delay := c.blockTime
	for i := 1; i < attempts && delay < maxRetryDelay; i++ {
		delay *= 2
	}
	return min(delay, maxRetryDelay)
}

// Pending returns the ids of requests not yet fulfilled, in order.
func (c *Coordinator) Pending() []uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	ids := make([]uint64, 0, len(c.requests))
	for id := range c.requests {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (c *Coordinator) ready(now time.Time) []uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	ids := make([]uint64, 0)
	for id, request := range c.requests {
		if !now.Before(request.readyAt) {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Run fulfills requests once their confirmations elapsed, until ctx is done.
// Failed deliveries are retried with a growing delay.
func (c *Coordinator) Run(ctx context.Context) {
	logger.Info("oracle: coordinator started", zap.Duration("block time", c.blockTime))
	ticker := time.NewTicker(c.blockTime)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("oracle: coordinator stopped")
			return
		case <-ticker.C:
			for _, id := range c.ready(c.now()) {
				if err := c.FulfillRandomWords(ctx, id); err != nil {
					logger.Error("oracle: auto fulfillment failed", zap.Uint64("request", id), zap.Error(err))
				}
			}
		}
	}
}
