package app

import (
	"context"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"
)

// CheckoutSweeper abandons unpaid checkouts older than a TTL.
type CheckoutSweeper interface {
	AbandonExpired(ctx context.Context, ttl time.Duration) (int, error)
}

// startJobs schedules background jobs. The returned scheduler must be shut
// down by the caller.
func startJobs(ctx context.Context, sweeper CheckoutSweeper, cfg JobsConfig) (gocron.Scheduler, error) {
	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, errors.Wrap(err, "create scheduler")
	}

	lg := zctx.From(ctx).Named("jobs")
	_, err = s.NewJob(
		gocron.DurationJob(cfg.SweepInterval),
		gocron.NewTask(func() {
			sweepCheckouts(ctx, lg, sweeper, cfg.CheckoutTTL)
		}),
		gocron.WithName("abandon-expired-checkouts"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		_ = s.Shutdown()
		return nil, errors.Wrap(err, "schedule checkout sweep")
	}

	s.Start()
	return s, nil
}

func sweepCheckouts(ctx context.Context, lg *zap.Logger, sweeper CheckoutSweeper, ttl time.Duration) {
	if ctx.Err() != nil {
		return
	}
	n, err := sweeper.AbandonExpired(ctx, ttl)
	if err != nil {
		lg.Error("Checkout sweep failed", zap.Error(err))
		return
	}
	if n > 0 {
		lg.Info("Abandoned expired checkouts", zap.Int("count", n), zap.Duration("ttl", ttl))
	}
}
