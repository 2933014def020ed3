package automation

import (
	"context"
	"errors"
	"time"

	"raffled/internal/logger"
	"raffled/internal/raffle"

	"github.com/go-co-op/gocron"
	"go.uber.org/zap"
)

// Upkeeper is the automation-facing side of the raffle.
type Upkeeper interface {
	CheckUpkeep(now time.Time) (bool, raffle.UpkeepStatus)
	PerformUpkeep(ctx context.Context, now time.Time) (uint64, error)
}

// Keeper periodically closes the raffle round once upkeep is needed.
type Keeper struct {
	target    Upkeeper
	scheduler *gocron.Scheduler
	interval  time.Duration
	now       func() time.Time
}

func NewKeeper(target Upkeeper, interval time.Duration) *Keeper {
	return &Keeper{
		target:    target,
		scheduler: gocron.NewScheduler(time.UTC),
		interval:  interval,
		now:       time.Now,
	}
}

// Check runs one automation cycle and reports whether a round was closed.
func (k *Keeper) Check(ctx context.Context) (bool, error) {
	now := k.now()

	needed, status := k.target.CheckUpkeep(now)
	if !needed {
		logger.Debug(
			"keeper: upkeep not needed",
			zap.Bool("open", status.IsOpen),
			zap.Bool("time passed", status.TimePassed),
			zap.Bool("has entrants", status.HasEntrants),
			zap.Bool("has balance", status.HasBalance),
		)
		return false, nil
	}

	requestID, err := k.target.PerformUpkeep(ctx, now)
	switch {
	case err == nil:
		logger.Info("keeper: upkeep performed", zap.Uint64("request", requestID))
		return true, nil
	case errors.Is(err, raffle.ErrUpkeepNotNeeded), errors.Is(err, raffle.ErrInvalidState):
		logger.Debug("keeper: upkeep raced, polling later", zap.Error(err))
		return false, nil
	default:
		return false, err
	}
}

func (k *Keeper) Start(ctx context.Context) error {
	seconds := int(k.interval / time.Second)
	if seconds < 1 {
		seconds = 1
	}

	_, err := k.scheduler.Every(seconds).Seconds().SingletonMode().Do(func() {
		if _, err := k.Check(ctx); err != nil {
			logger.Error("keeper: upkeep failed", zap.Error(err))
		}
	})
	if err != nil {
		return err
	}

	logger.Info("keeper: started", zap.Int("poll seconds", seconds))
	k.scheduler.StartAsync()
	return nil
}

func (k *Keeper) Stop() {
	k.scheduler.Stop()
	logger.Info("keeper: stopped")
}
