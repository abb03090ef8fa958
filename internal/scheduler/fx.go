package scheduler

import (
	"context"

	"github.com/diewo77/recurring-invoices/internal/config"
	"github.com/diewo77/recurring-invoices/internal/numbering"
	"github.com/diewo77/recurring-invoices/internal/recurring"
	"go.uber.org/fx"
)

var Module = fx.Module("scheduler",
	fx.Provide(
		func(e *recurring.Engine) Advancer { return e },
		func(a *numbering.Allocator) Sweeper { return a },
		NewScheduler,
	),
	fx.Invoke(runScheduler),
)

func runScheduler(lc fx.Lifecycle, cfg config.SchedulerConfig, s *Scheduler) {
	if !cfg.Enabled {
		s.log.Info("scheduler disabled")
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				defer close(done)
				_ = s.Run(ctx)
			}()
			return nil
		},
		OnStop: func(stop context.Context) error {
			cancel()
			select {
			case <-done:
				return nil
			case <-stop.Done():
				return stop.Err()
			}
		},
	})
}
