package oracle_test

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"raffled/internal/oracle"
	"raffled/internal/raffle"

	"github.com/stretchr/testify/require"
)

type fulfillment struct {
	requestID uint64
	words     []*big.Int
}

type mockConsumer struct {
	mu        sync.Mutex
	err       error
	fulfilled []fulfillment
}

func (c *mockConsumer) FulfillRandomWords(_ context.Context, requestID uint64, words []*big.Int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.fulfilled = append(c.fulfilled, fulfillment{requestID, words})
	return nil
}

func (c *mockConsumer) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.fulfilled)
}

// flakyConsumer fails the first failures deliveries and records every word it
// was offered.
type flakyConsumer struct {
	mu        sync.Mutex
	failures  int
	delivered []*big.Int
	accepted  int
}

func (c *flakyConsumer) FulfillRandomWords(_ context.Context, _ uint64, words []*big.Int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.delivered = append(c.delivered, words[0])
	if c.failures > 0 {
		c.failures--
		return raffle.ErrTransferFailed
	}
	c.accepted++
	return nil
}

func (c *flakyConsumer) snapshot() ([]*big.Int, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*big.Int{}, c.delivered...), c.accepted
}

func request(subID uint64) raffle.RandomnessRequest {
	return raffle.RandomnessRequest{
		KeyHash:              "0x474e34a077df58807dbe9c96d3c009b23b3c6d0cce433e59bbf5b34f823bc56c",
		SubscriptionID:       subID,
		RequestConfirmations: 3,
		CallbackGasLimit:     500_000,
		NumWords:             1,
	}
}

func TestRequestRandomWords(t *testing.T) {
	ctx := context.Background()
	coordinator := oracle.NewCoordinator(oracle.WithSeed(1))
	consumer := &mockConsumer{}

	_, err := coordinator.RequestRandomWords(ctx, request(1), consumer)
	require.ErrorIs(t, err, oracle.ErrInvalidSubscription)

	subID := coordinator.CreateSubscription()
	_, err = coordinator.RequestRandomWords(ctx, request(subID), consumer)
	require.ErrorIs(t, err, oracle.ErrInvalidConsumer)

	require.NoError(t, coordinator.AddConsumer(subID, consumer))

	fixtures := []struct {
		name   string
		mutate func(*raffle.RandomnessRequest)
	}{
		{"zero words", func(r *raffle.RandomnessRequest) { r.NumWords = 0 }},
		{"too many words", func(r *raffle.RandomnessRequest) { r.NumWords = oracle.MaxNumWords + 1 }},
		{"too many confirmations", func(r *raffle.RandomnessRequest) { r.RequestConfirmations = oracle.MaxRequestConfirmations + 1 }},
	}
	for _, tc := range fixtures {
		t.Run(tc.name, func(t *testing.T) {
			req := request(subID)
			tc.mutate(&req)
			_, err := coordinator.RequestRandomWords(ctx, req, consumer)
			require.ErrorIs(t, err, oracle.ErrInvalidRequestParameters)
		})
	}

	first, err := coordinator.RequestRandomWords(ctx, request(subID), consumer)
	require.NoError(t, err)
	second, err := coordinator.RequestRandomWords(ctx, request(subID), consumer)
	require.NoError(t, err)
	require.Equal(t, uint64(1), first)
	require.Equal(t, uint64(2), second)
	require.Equal(t, []uint64{1, 2}, coordinator.Pending())
	require.Zero(t, consumer.count())

	require.NoError(t, coordinator.RemoveConsumer(subID, consumer))
	require.ErrorIs(t, coordinator.RemoveConsumer(subID, consumer), oracle.ErrInvalidConsumer)
	_, err = coordinator.RequestRandomWords(ctx, request(subID), consumer)
	require.ErrorIs(t, err, oracle.ErrInvalidConsumer)

	require.NoError(t, coordinator.CancelSubscription(subID))
	require.Empty(t, coordinator.Pending())
	require.ErrorIs(t, coordinator.CancelSubscription(subID), oracle.ErrInvalidSubscription)
}

func TestFulfillRandomWords(t *testing.T) {
	ctx := context.Background()

	t.Run("nonexistent request", func(t *testing.T) {
		coordinator := oracle.NewCoordinator()
		err := coordinator.FulfillRandomWords(ctx, 0)
		require.ErrorIs(t, err, oracle.ErrNonexistentRequest)
	})

	t.Run("delivers words", func(t *testing.T) {
		coordinator := oracle.NewCoordinator(oracle.WithSeed(7))
		consumer := &mockConsumer{}
		subID := coordinator.CreateSubscription()
		require.NoError(t, coordinator.AddConsumer(subID, consumer))

		req := request(subID)
		req.NumWords = 3
		requestID, err := coordinator.RequestRandomWords(ctx, req, consumer)
		require.NoError(t, err)

		require.NoError(t, coordinator.FulfillRandomWords(ctx, requestID))
		require.Len(t, consumer.fulfilled, 1)
		require.Equal(t, requestID, consumer.fulfilled[0].requestID)
		require.Len(t, consumer.fulfilled[0].words, 3)
		for _, word := range consumer.fulfilled[0].words {
			require.LessOrEqual(t, word.BitLen(), 256)
		}
		require.Empty(t, coordinator.Pending())

		err = coordinator.FulfillRandomWords(ctx, requestID)
		require.ErrorIs(t, err, oracle.ErrNonexistentRequest)
	})

	t.Run("seeded words are reproducible", func(t *testing.T) {
		draw := func() *big.Int {
			coordinator := oracle.NewCoordinator(oracle.WithSeed(99))
			consumer := &mockConsumer{}
			subID := coordinator.CreateSubscription()
			require.NoError(t, coordinator.AddConsumer(subID, consumer))
			requestID, err := coordinator.RequestRandomWords(ctx, request(subID), consumer)
			require.NoError(t, err)
			require.NoError(t, coordinator.FulfillRandomWords(ctx, requestID))
			return consumer.fulfilled[0].words[0]
		}
		require.Zero(t, draw().Cmp(draw()))
	})

	t.Run("consumer failure keeps the request", func(t *testing.T) {
		coordinator := oracle.NewCoordinator(oracle.WithSeed(3))
		consumer := &mockConsumer{err: raffle.ErrTransferFailed}
		subID := coordinator.CreateSubscription()
		require.NoError(t, coordinator.AddConsumer(subID, consumer))
		requestID, err := coordinator.RequestRandomWords(ctx, request(subID), consumer)
		require.NoError(t, err)

		err = coordinator.FulfillRandomWords(ctx, requestID)
		require.ErrorIs(t, err, raffle.ErrTransferFailed)
		require.Equal(t, []uint64{requestID}, coordinator.Pending())

		consumer.err = nil
		require.NoError(t, coordinator.FulfillRandomWords(ctx, requestID))
		require.Empty(t, coordinator.Pending())
	})

	t.Run("retries deliver the same words", func(t *testing.T) {
		coordinator := oracle.NewCoordinator(oracle.WithSeed(21))
		consumer := &flakyConsumer{failures: 2}
		subID := coordinator.CreateSubscription()
		require.NoError(t, coordinator.AddConsumer(subID, consumer))
		requestID, err := coordinator.RequestRandomWords(ctx, request(subID), consumer)
		require.NoError(t, err)

		require.ErrorIs(t, coordinator.FulfillRandomWords(ctx, requestID), raffle.ErrTransferFailed)
		require.ErrorIs(t, coordinator.FulfillRandomWords(ctx, requestID), raffle.ErrTransferFailed)
		require.NoError(t, coordinator.FulfillRandomWords(ctx, requestID))

		delivered, accepted := consumer.snapshot()
		require.Equal(t, 1, accepted)
		require.Len(t, delivered, 3)
		for _, word := range delivered[1:] {
			require.Zero(t, delivered[0].Cmp(word))
		}
	})

	t.Run("payout without persistence drops the request", func(t *testing.T) {
		coordinator := oracle.NewCoordinator(oracle.WithSeed(3))
		consumer := &mockConsumer{err: raffle.ErrPayoutNotPersisted}
		subID := coordinator.CreateSubscription()
		require.NoError(t, coordinator.AddConsumer(subID, consumer))
		requestID, err := coordinator.RequestRandomWords(ctx, request(subID), consumer)
		require.NoError(t, err)

		err = coordinator.FulfillRandomWords(ctx, requestID)
		require.ErrorIs(t, err, raffle.ErrPayoutNotPersisted)
		require.Empty(t, coordinator.Pending())
	})

	t.Run("unknown to consumer drops the request", func(t *testing.T) {
		coordinator := oracle.NewCoordinator(oracle.WithSeed(3))
		consumer := &mockConsumer{err: raffle.ErrUnknownRequest}
		subID := coordinator.CreateSubscription()
		require.NoError(t, coordinator.AddConsumer(subID, consumer))
		requestID, err := coordinator.RequestRandomWords(ctx, request(subID), consumer)
		require.NoError(t, err)

		err = coordinator.FulfillRandomWords(ctx, requestID)
		require.ErrorIs(t, err, raffle.ErrUnknownRequest)
		require.Empty(t, coordinator.Pending())
	})

	t.Run("broken source", func(t *testing.T) {
		coordinator := oracle.NewCoordinator(oracle.WithSource(failingReader{}))
		consumer := &mockConsumer{}
		subID := coordinator.CreateSubscription()
		require.NoError(t, coordinator.AddConsumer(subID, consumer))
		requestID, err := coordinator.RequestRandomWords(ctx, request(subID), consumer)
		require.NoError(t, err)

		require.Error(t, coordinator.FulfillRandomWords(ctx, requestID))
		require.Equal(t, []uint64{requestID}, coordinator.Pending())
	})
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) {
	return 0, errors.New("entropy exhausted")
}

func TestRun(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	coordinator := oracle.NewCoordinator(oracle.WithSeed(5), oracle.WithBlockTime(5*time.Millisecond))
	consumer := &mockConsumer{}
	subID := coordinator.CreateSubscription()
	require.NoError(t, coordinator.AddConsumer(subID, consumer))

	done := make(chan struct{})
	go func() {
		coordinator.Run(ctx)
		close(done)
	}()

	_, err := coordinator.RequestRandomWords(ctx, request(subID), consumer)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return consumer.count() == 1 && len(coordinator.Pending()) == 0
	}, time.Second, 5*time.Millisecond)

	cancel()
	<-done
}

func TestRunRetriesFailedDelivery(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	coordinator := oracle.NewCoordinator(oracle.WithSeed(8), oracle.WithBlockTime(2*time.Millisecond))
	consumer := &flakyConsumer{failures: 2}
	subID := coordinator.CreateSubscription()
	require.NoError(t, coordinator.AddConsumer(subID, consumer))

	done := make(chan struct{})
	go func() {
		coordinator.Run(ctx)
		close(done)
	}()

	_, err := coordinator.RequestRandomWords(ctx, request(subID), consumer)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		_, accepted := consumer.snapshot()
		return accepted == 1 && len(coordinator.Pending()) == 0
	}, 2*time.Second, 2*time.Millisecond)

	delivered, _ := consumer.snapshot()
	require.Len(t, delivered, 3)
	require.Zero(t, delivered[0].Cmp(delivered[2]))

	cancel()
	<-done
}

func TestRaffleRoundTrip(t *testing.T) {
	ctx := context.Background()
	start := time.Unix(1_700_000_000, 0)
	coordinator := oracle.NewCoordinator(oracle.WithSeed(11))
	subID := coordinator.CreateSubscription()

	payer := &recordingPayer{}
	r, err := raffle.New(ctx, raffle.Config{
		EntranceFee:    10,
		Interval:       30 * time.Second,
		SubscriptionID: subID,
	}, coordinator, payer, raffle.WithClock(func() time.Time { return start }))
	require.NoError(t, err)
	require.NoError(t, coordinator.AddConsumer(subID, r))

	for _, p := range []string{"A", "B", "C"} {
		require.NoError(t, r.Enter(ctx, p, 10))
	}
	requestID, err := r.PerformUpkeep(ctx, start.Add(31*time.Second))
	require.NoError(t, err)

	require.NoError(t, coordinator.FulfillRandomWords(ctx, requestID))
	require.Equal(t, raffle.StateOpen, r.State())
	require.Len(t, payer.winners, 1)

	winner, ok := r.RecentWinner()
	require.True(t, ok)
	require.Equal(t, payer.winners[0], winner)
	require.Contains(t, []string{"A", "B", "C"}, winner)
}

func TestResume(t *testing.T) {
	ctx := context.Background()
	coordinator := oracle.NewCoordinator(oracle.WithSeed(13))
	consumer := &mockConsumer{}
	subID := coordinator.CreateSubscription()

	require.ErrorIs(t, coordinator.Resume(subID, 4, 1, consumer), oracle.ErrInvalidConsumer)
	require.NoError(t, coordinator.AddConsumer(subID, consumer))
	require.ErrorIs(t, coordinator.Resume(subID, 0, 1, consumer), oracle.ErrInvalidRequestParameters)

	require.NoError(t, coordinator.Resume(subID, 4, 1, consumer))
	require.ErrorIs(t, coordinator.Resume(subID, 4, 1, consumer), oracle.ErrInvalidRequestParameters)

	next, err := coordinator.RequestRandomWords(ctx, request(subID), consumer)
	require.NoError(t, err)
	require.Equal(t, uint64(5), next)

	require.NoError(t, coordinator.FulfillRandomWords(ctx, 4))
	require.Equal(t, uint64(4), consumer.fulfilled[0].requestID)
	require.Equal(t, []uint64{5}, coordinator.Pending())
}

type recordingPayer struct {
	winners []string
}

func (p *recordingPayer) Transfer(_ context.Context, to string, amount raffle.Amount) error {
	p.winners = append(p.winners, to)
	return nil
}
