package queue

import (
	"context"
	"time"

	"github.com/go-co-op/gocron/v2"
	"go.uber.org/zap"

	"github.com/tavla-games/gammon-server/internal/obslog"
)

// MatchSweeper closes matches whose turn deadline has passed and retries
// failed stake settlements; the match manager implements it.
type MatchSweeper interface {
	SweepDeadlines(ctx context.Context) (int, error)
	SweepSettlements(ctx context.Context) (int, error)
}

// StartJanitor schedules the periodic queue sweep plus the match deadline
// and settlement-retry sweeps on one gocron scheduler. Callers shut it down
// on exit.
func StartJanitor(mgr *Manager, matches MatchSweeper, interval time.Duration) (gocron.Scheduler, error) {
	sched, err := gocron.NewScheduler()
	if err != nil {
		return nil, err
	}

	_, err = sched.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(func() {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			expired, paired, err := mgr.Sweep(ctx)
			if err != nil {
				obslog.L().Warn("queue_sweep_failed", zap.Error(err))
			} else if expired+paired > 0 {
				obslog.L().Info("queue_sweep",
					zap.Int("expired", expired),
					zap.Int("paired", paired),
				)
			}

			if matches == nil {
				return
			}
			closed, err := matches.SweepDeadlines(ctx)
			if err != nil {
				obslog.L().Warn("deadline_sweep_failed", zap.Error(err))
			} else if closed > 0 {
				obslog.L().Info("deadline_sweep", zap.Int("closed", closed))
			}
			settled, err := matches.SweepSettlements(ctx)
			if err != nil {
				obslog.L().Warn("settlement_sweep_failed", zap.Error(err))
			} else if settled > 0 {
				obslog.L().Info("settlement_sweep", zap.Int("settled", settled))
			}
		}),
	)
	if err != nil {
		return nil, err
	}

	sched.Start()
	return sched, nil
}
