package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"raffled/internal/automation"
	"raffled/internal/blockchain"
	"raffled/internal/config"
	"raffled/internal/logger"
	"raffled/internal/oracle"
	"raffled/internal/payout"
	"raffled/internal/raffle"
	"raffled/internal/storage"
	"raffled/internal/tracker"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
)

// flags
var (
	envFileFlag = &cli.StringFlag{
		Name:  "env-file",
		Usage: "dotenv file read before the environment",
		Value: ".env",
	}
	entrantsFlag = &cli.IntFlag{
		Name:  "entrants",
		Usage: "number of simulated participants",
		Value: 5,
	}
	roundsFlag = &cli.IntFlag{
		Name:  "rounds",
		Usage: "number of simulated rounds",
		Value: 1,
	}
	seedFlag = &cli.Uint64Flag{
		Name:  "seed",
		Usage: "oracle seed for reproducible draws",
		Value: 1,
	}
)

// commands
var (
	runCmd = &cli.Command{
		Name:   "run",
		Usage:  "Serve the raffle until interrupted",
		Action: runAction,
	}
	simulateCmd = &cli.Command{
		Name:   "simulate",
		Usage:  "Play seeded rounds against the local ledger and print the winners",
		Action: simulateAction,
		Flags:  []cli.Flag{entrantsFlag, roundsFlag, seedFlag},
	}
)

func setup(ctx *cli.Context) (*config.Configuration, error) {
	configuration, err := config.Load(ctx.String(envFileFlag.Name))
	if err != nil {
		return nil, err
	}
	if err := logger.Initialize(configuration.Logger); err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	return configuration, nil
}

func newCoordinator(configuration *config.Configuration) *oracle.Coordinator {
	opts := []oracle.Option{oracle.WithBlockTime(configuration.BlockTime)}
	if configuration.OracleSeed != 0 {
		opts = append(opts, oracle.WithSeed(configuration.OracleSeed))
	}
	return oracle.NewCoordinator(opts...)
}

func runAction(ctx *cli.Context) error {
	configuration, err := setup(ctx)
	if err != nil {
		return err
	}
	defer logger.Sync()

	runCtx, cancel := context.WithCancel(ctx.Context)
	defer cancel()

	store, err := storage.NewSqliteStorage(configuration.DatabasePath)
	if err != nil {
		return err
	}
	defer store.Close()

	coordinator := newCoordinator(configuration)
	subID := coordinator.CreateSubscription()
	configuration.Raffle.SubscriptionID = subID

	r, _, err := newRaffle(runCtx, configuration, coordinator, store)
	if err != nil {
		return err
	}
	if err := coordinator.AddConsumer(subID, r); err != nil {
		return err
	}
	if requestID, ok := r.PendingRequestID(); ok {
		if err := coordinator.Resume(subID, requestID, r.RandomnessRequest().NumWords, r); err != nil {
			return err
		}
	}

	keeper := automation.NewKeeper(r, configuration.PollInterval)
	if err := keeper.Start(runCtx); err != nil {
		return err
	}
	defer keeper.Stop()

	go coordinator.Run(runCtx)

	if configuration.RaffleAddress != "" {
		client, err := tracker.NewClient(configuration.TonapiToken, configuration.IsTestnet())
		if err != nil {
			return err
		}
		entryTracker := tracker.NewTracker(client, store, r, configuration.RaffleAddress)
		if err := entryTracker.VerifyRaffleAccount(runCtx); err != nil {
			return err
		}
		go entryTracker.Watch(runCtx, configuration.PollInterval)
	}

	logger.Info("raffled: running", zap.String("network", string(configuration.Network)))
	select {
	case <-runCtx.Done():
	case sig := <-waitForInterrupt():
		logger.Info("raffled: interrupted", zap.Stringer("signal", sig))
	}
	return nil
}

// newRaffle builds the raffle over store, paying winners from the local ledger
// on localnet and from the TON wallet elsewhere. The returned ledger is nil
// outside localnet.
func newRaffle(
	ctx context.Context, configuration *config.Configuration, coordinator raffle.Oracle, store storage.Storage,
) (*raffle.Raffle, *payout.Ledger, error) {
	var (
		payer  raffle.Payer
		ledger *payout.Ledger
		opts   = []raffle.Option{raffle.WithStore(store), raffle.WithListener(logEvent)}
	)
	if configuration.IsDevelopment() {
		ledger = payout.NewLedger()
		payer = ledger
		opts = append(opts, raffle.WithListener(ledger.Listener()))
	} else {
		walletPayer, err := blockchain.NewWalletPayer(configuration.WalletMnemonic, configuration.WalletVersion, configuration.IsTestnet())
		if err != nil {
			return nil, nil, err
		}
		payer = walletPayer
	}

	r, err := raffle.New(ctx, configuration.Raffle, coordinator, payer, opts...)
	if err != nil {
		return nil, nil, err
	}

	// the ledger lives in memory, a restored round brings its escrow back
	if ledger != nil && r.EscrowBalance() > 0 {
		ledger.Deposit(r.EscrowBalance())
		logger.Info("raffled: ledger treasury restored", zap.Uint64("escrow", uint64(r.EscrowBalance())))
	}
	return r, ledger, nil
}

func simulateAction(ctx *cli.Context) error {
	configuration, err := setup(ctx)
	if err != nil {
		return err
	}
	defer logger.Sync()

	entrants := ctx.Int(entrantsFlag.Name)
	rounds := ctx.Int(roundsFlag.Name)
	if entrants < 1 || rounds < 1 {
		return errors.New("entrants and rounds must be positive")
	}

	coordinator := oracle.NewCoordinator(oracle.WithSeed(ctx.Uint64(seedFlag.Name)))
	subID := coordinator.CreateSubscription()
	configuration.Raffle.SubscriptionID = subID

	start := time.Now()
	clock := start
	ledger := payout.NewLedger()
	r, err := raffle.New(
		ctx.Context, configuration.Raffle, coordinator, ledger,
		raffle.WithListener(ledger.Listener()),
		raffle.WithClock(func() time.Time { return clock }),
	)
	if err != nil {
		return err
	}
	if err := coordinator.AddConsumer(subID, r); err != nil {
		return err
	}

	fee := r.EntranceFee()
	for round := 1; round <= rounds; round++ {
		for i := 0; i < entrants; i++ {
			if err := r.Enter(ctx.Context, fmt.Sprintf("player-%d", i+1), fee); err != nil {
				return err
			}
		}

		clock = clock.Add(r.Interval() + time.Second)
		requestID, err := r.PerformUpkeep(ctx.Context, clock)
		if err != nil {
			return err
		}
		if err := coordinator.FulfillRandomWords(ctx.Context, requestID); err != nil {
			return err
		}

		winner, _ := r.RecentWinner()
		fmt.Printf("round %d: %s won %d (balance %d)\n", round, winner, uint64(fee)*uint64(entrants), ledger.Balance(winner))
	}
	return nil
}

func logEvent(event raffle.Event) {
	switch e := event.(type) {
	case raffle.EntryAccepted:
		logger.Info("raffle: entry accepted", zap.String("participant", e.Participant), zap.Uint64("amount", uint64(e.Amount)))
	case raffle.RoundClosing:
		logger.Info("raffle: round closing", zap.Uint64("request", e.RequestID), zap.Time("closed at", e.ClosedAt))
	case raffle.WinnerPicked:
		logger.Info(
			"raffle: winner picked",
			zap.Uint64("request", e.RequestID),
			zap.String("winner", e.Winner),
			zap.Int("index", e.WinnerIndex),
			zap.Uint64("payout", uint64(e.Payout)),
		)
	}
}

func waitForInterrupt() <-chan os.Signal {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	return sigCh
}
