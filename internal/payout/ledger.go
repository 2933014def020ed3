package payout

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"raffled/internal/logger"
	"raffled/internal/raffle"

	"go.uber.org/zap"
)

var (
	ErrInsufficientFunds = errors.New("insufficient treasury funds")
	ErrAccountBlocked    = errors.New("account does not accept transfers")
)

// Ledger is an in-memory account book used on the local network: the
// treasury collects entry fees and pays winners out of them.
type Ledger struct {
	mu       sync.Mutex
	treasury raffle.Amount
	balances map[string]raffle.Amount
	blocked  map[string]bool
}

func NewLedger() *Ledger {
	return &Ledger{
		balances: make(map[string]raffle.Amount),
		blocked:  make(map[string]bool),
	}
}

// Deposit credits the treasury with an accepted entry fee.
func (l *Ledger) Deposit(amount raffle.Amount) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.treasury += amount
}

// Block makes transfers to account fail, as a bounced payout would.
func (l *Ledger) Block(account string, blocked bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.blocked[account] = blocked
}

func (l *Ledger) Transfer(_ context.Context, to string, amount raffle.Amount) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.blocked[to] {
		return fmt.Errorf("%w: %s", ErrAccountBlocked, to)
	}
	if amount > l.treasury {
		return fmt.Errorf("%w: have %d, need %d", ErrInsufficientFunds, l.treasury, amount)
	}

	l.treasury -= amount
	l.balances[to] += amount
	logger.Info("payout: ledger transfer", zap.String("to", to), zap.Uint64("amount", uint64(amount)))
	return nil
}

func (l *Ledger) Balance(account string) raffle.Amount {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balances[account]
}

func (l *Ledger) Treasury() raffle.Amount {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.treasury
}

// Listener keeps the treasury in step with accepted entries.
func (l *Ledger) Listener() raffle.Listener {
	return func(event raffle.Event) {
		if accepted, ok := event.(raffle.EntryAccepted); ok {
			l.Deposit(accepted.Amount)
		}
	}
}
