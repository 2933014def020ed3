package tracker

import (
	"context"
	"errors"
	"sort"
	"time"

	"raffled/internal/blockchain"
	"raffled/internal/logger"
	"raffled/internal/raffle"
	"raffled/internal/storage"

	"github.com/tonkeeper/tonapi-go"
	"github.com/tonkeeper/tongo/ton"
	"go.uber.org/zap"
)

// Entrant accepts paid entries; *raffle.Raffle satisfies it.
type Entrant interface {
	Enter(ctx context.Context, participant string, paid raffle.Amount) error
}

type cursorStore interface {
	GetCursor(ctx context.Context, name string) (*storage.Cursor, error)
	UpdateCursor(ctx context.Context, cursor *storage.Cursor) error
}

// payment is an inbound value transfer to the raffle account.
type payment struct {
	Lt     int64
	Hash   string
	Source string
	Amount raffle.Amount
}

// page is one window of account transactions, newest first. Size counts every
// transaction in the window, payments only the usable ones.
type page struct {
	Payments []payment
	LowestLt int64
	Size     int
}

type fetchFunc func(ctx context.Context, beforeLt int64) (*page, error)

// Tracker turns payments received by the raffle account into raffle entries.
type Tracker struct {
	storage       cursorStore
	entrant       Entrant
	client        *tonapi.Client
	fetch         fetchFunc
	raffleAddress string
}

type Func[T any] func() (T, error)

func infinityRateLimitRetry[T any](
	ctx context.Context,
	fn Func[T],
) (T, error) {
	for {
		result, err := fn()
		if err != nil {
			var e *tonapi.ErrorStatusCode
			if errors.As(err, &e) && e.StatusCode == 429 {
				select {
				case <-ctx.Done():
					return result, ctx.Err()
				case <-time.After(500 * time.Millisecond):
				}
				continue
			}
		}

		return result, err
	}
}

func NewClient(token string, testnet bool) (*tonapi.Client, error) {
	url := tonapi.TonApiURL
	if testnet {
		url = tonapi.TestnetTonApiURL
	}
	return tonapi.NewClient(url, tonapi.WithToken(token))
}

func NewTracker(client *tonapi.Client, store cursorStore, entrant Entrant, raffleAddress string) *Tracker {
	t := &Tracker{
		storage:       store,
		entrant:       entrant,
		client:        client,
		raffleAddress: raffleAddress,
	}
	t.fetch = t.accountTransactions
	return t
}

func (t *Tracker) VerifyRaffleAccount(ctx context.Context) error {
	logger.Debug("verify raffle account: verifying raffle address...")

	raffleAccountID, err := ton.ParseAccountID(t.raffleAddress)
	if err != nil {
		logger.Error("verify raffle account: failed to parse raffle address", zap.String("raffle address", t.raffleAddress), zap.Error(err))
		return err
	}

	raffleAccount, err := infinityRateLimitRetry(ctx,
		func() (*tonapi.Account, error) {
			return t.client.GetAccount(ctx, tonapi.GetAccountParams{
				AccountID: raffleAccountID.ToRaw(),
			})
		})
	if err != nil {
		logger.Error("verify raffle account: failed to get raffle account state", zap.Error(err))
		return err
	}

	if raffleAccount.Status != tonapi.AccountStatusActive {
		logger.Warn("verify raffle account: raffle account is not active", zap.String("status", string(raffleAccount.Status)))
	}

	logger.Debug("verify raffle account: raffle account info", zap.Int64("balance", raffleAccount.GetBalance()))
	return nil
}

func (t *Tracker) accountTransactions(ctx context.Context, beforeLt int64) (*page, error) {
	result, err := infinityRateLimitRetry(ctx,
		func() (*tonapi.Transactions, error) {
			return t.client.GetBlockchainAccountTransactions(ctx, tonapi.GetBlockchainAccountTransactionsParams{
				AccountID: t.raffleAddress,
				BeforeLt: tonapi.OptInt64{
					Value: beforeLt,
					Set:   beforeLt > 0,
				},
				Limit: tonapi.NewOptInt32(GlobalLimitWindowSize),
			})
		})
	if err != nil {
		return nil, err
	}

	p := &page{Size: len(result.Transactions)}
	for _, transaction := range result.Transactions {
		if p.LowestLt == 0 || transaction.Lt < p.LowestLt {
			p.LowestLt = transaction.Lt
		}

		if !transaction.Success {
			continue
		}

		message, ok := transaction.InMsg.Get()
		if !ok || message.Bounced || message.Value <= 0 {
			continue
		}

		source, ok := message.Source.Get()
		if !ok {
			continue
		}

		p.Payments = append(p.Payments, payment{
			Lt:     transaction.Lt,
			Hash:   transaction.Hash,
			Source: source.Address,
			Amount: raffle.Amount(message.Value),
		})
	}

	return p, nil
}

// collect walks the account history backwards until the cursor and returns the
// newer payments oldest first.
func (t *Tracker) collect(ctx context.Context, lastLt int64) ([]payment, error) {
	payments := make([]payment, 0)

	var beforeLt int64
	for {
		logger.Debug("entry tracker: collect transactions... iteration", zap.Int64("current beforeLt", beforeLt))
		p, err := t.fetch(ctx, beforeLt)
		if err != nil {
			logger.Error("entry tracker: collect transactions... failed", zap.Error(err))
			return nil, err
		}

		for _, pay := range p.Payments {
			if pay.Lt > lastLt {
				payments = append(payments, pay)
			}
		}

		if p.Size < GlobalLimitWindowSize || p.LowestLt <= lastLt {
			logger.Debug("entry tracker: exit condition reached, finalize results...")
			break
		}
		beforeLt = p.LowestLt
	}

	sort.Slice(payments, func(i, j int) bool { return payments[i].Lt < payments[j].Lt })
	return payments, nil
}

// Run processes every payment received since the last run.
func (t *Tracker) Run(ctx context.Context) error {
	cursor, err := t.storage.GetCursor(ctx, storage.EntryTrackerCursor)
	if err != nil {
		return err
	}

	payments, err := t.collect(ctx, cursor.TransactionLt)
	if err != nil {
		return err
	}

	for _, pay := range payments {
		if err := t.enter(ctx, pay); err != nil {
			return err
		}

		cursor.TransactionLt = pay.Lt
		cursor.TransactionHash = pay.Hash
		if err := t.storage.UpdateCursor(ctx, cursor); err != nil {
			logger.Error("entry tracker: failed to update cursor", zap.Error(err))
			return err
		}
	}

	logger.Debug("entry tracker: run... done", zap.Int("payments", len(payments)))
	return nil
}

func (t *Tracker) enter(ctx context.Context, pay payment) error {
	participant, err := blockchain.NormalizeAddress(pay.Source)
	if err == nil {
		err = t.entrant.Enter(ctx, participant, pay.Amount)
	}

	switch {
	case err == nil:
		return nil
	case errors.Is(err, raffle.ErrInsufficientFee),
		errors.Is(err, raffle.ErrRoundNotOpen),
		errors.Is(err, raffle.ErrInvalidParticipant),
		errors.Is(err, raffle.ErrEscrowOverflow):
		// TODO: refund payments that could not become entries.
		logger.Warn(
			"entry tracker: payment not accepted as entry",
			zap.String("source", pay.Source),
			zap.String("hash", pay.Hash),
			zap.Uint64("amount", uint64(pay.Amount)),
			zap.Error(err),
		)
		return nil
	default:
		return err
	}
}

// Watch runs the tracker every interval until ctx is done.
func (t *Tracker) Watch(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if err := t.Run(ctx); err != nil && ctx.Err() == nil {
			logger.Error("entry tracker: run failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			logger.Info("entry tracker: stopped")
			return
		case <-ticker.C:
		}
	}
}
