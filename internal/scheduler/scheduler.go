// Package scheduler drives the recurring engine on a fixed interval.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/diewo77/recurring-invoices/internal/clock"
	"github.com/diewo77/recurring-invoices/internal/config"
	"github.com/diewo77/recurring-invoices/internal/models"
	"github.com/diewo77/recurring-invoices/internal/observability/metrics"
	"github.com/diewo77/recurring-invoices/internal/recurring"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

var tracer = otel.Tracer("github.com/diewo77/recurring-invoices/internal/scheduler")

// Advancer runs one cycle of a template.
type Advancer interface {
	Advance(ctx context.Context, tpl *models.Invoice) (recurring.Outcome, error)
}

// Sweeper cleans up abandoned number reservations.
type Sweeper interface {
	Sweep(ctx context.Context, olderThan time.Duration) (committed, deleted int64, err error)
}

type Params struct {
	fx.In

	DB      *gorm.DB
	Repo    recurring.Repository
	Engine  Advancer
	Sweeper Sweeper `optional:"true"`
	Clock   clock.Clock
	Metrics *metrics.SchedulerMetrics `optional:"true"`
	Log     *zap.Logger
	Config  config.SchedulerConfig
}

// Summary reports what one tick did.
type Summary struct {
	Due       int   `json:"due"`
	Generated int   `json:"generated"`
	Completed int   `json:"completed"`
	Skipped   int   `json:"skipped"`
	Failed    int   `json:"failed"`
	Busy      int   `json:"busy"`
	Committed int64 `json:"reservations_committed"`
	Released  int64 `json:"reservations_released"`
}

func (s *Summary) add(o recurring.Outcome) {
	switch o {
	case recurring.OutcomeGenerated:
		s.Generated++
	case recurring.OutcomeCompleted:
		s.Completed++
	case recurring.OutcomeSkipped:
		s.Skipped++
	case recurring.OutcomeBusy:
		s.Busy++
	default:
		s.Failed++
	}
}

type Scheduler struct {
	db      *gorm.DB
	repo    recurring.Repository
	engine  Advancer
	sweeper Sweeper
	clock   clock.Clock
	metrics *metrics.SchedulerMetrics
	log     *zap.Logger
	cfg     config.SchedulerConfig

	// Serializes manual and periodic ticks within this process.
	mu sync.Mutex
}

func NewScheduler(p Params) *Scheduler {
	cfg := p.Config
	if cfg.Interval <= 0 {
		cfg.Interval = 10 * time.Minute
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	return &Scheduler{
		db:      p.DB,
		repo:    p.Repo,
		engine:  p.Engine,
		sweeper: p.Sweeper,
		clock:   p.Clock,
		metrics: p.Metrics,
		log:     p.Log.Named("scheduler"),
		cfg:     cfg,
	}
}

// Run ticks every configured interval until ctx is done. A failed tick is
// logged and the loop carries on with the next one.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := s.clock.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	s.log.Info("scheduler started",
		zap.Duration("interval", s.cfg.Interval),
		zap.Int("batch_size", s.cfg.BatchSize),
		zap.Int("concurrency", s.cfg.Concurrency),
	)
	if s.cfg.RunOnStart {
		s.runTick(ctx)
	}
	for {
		select {
		case <-ctx.Done():
			s.log.Info("scheduler stopped")
			return ctx.Err()
		case <-ticker.C():
			s.runTick(ctx)
		}
	}
}

func (s *Scheduler) runTick(ctx context.Context) {
	summary, err := s.Tick(ctx)
	if err != nil {
		s.log.Error("scheduler tick failed", zap.Error(err))
		return
	}
	if summary.Due > 0 {
		s.log.Info("scheduler tick finished",
			zap.Int("due", summary.Due),
			zap.Int("generated", summary.Generated),
			zap.Int("completed", summary.Completed),
			zap.Int("skipped", summary.Skipped),
			zap.Int("failed", summary.Failed),
			zap.Int("busy", summary.Busy),
		)
	}
}

// Tick does one pass: sweeps stale reservations, then advances every template
// due at the current time, up to BatchSize of them. Failures of individual
// templates are counted in the Summary and do not fail the tick.
func (s *Scheduler) Tick(ctx context.Context) (summary Summary, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ctx, span := tracer.Start(ctx, "scheduler.Tick")
	start := s.clock.Now()
	defer func() {
		s.metrics.ObserveTick(start, s.clock.Now().Sub(start), err)
		span.SetAttributes(
			attribute.Int("due", summary.Due),
			attribute.Int("generated", summary.Generated),
			attribute.Int("failed", summary.Failed),
		)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	s.sweep(ctx, &summary)

	due, err := s.repo.ListDue(ctx, s.db, start, s.cfg.BatchSize)
	if err != nil {
		return summary, fmt.Errorf("scheduler: list due templates: %w", err)
	}
	summary.Due = len(due)
	s.metrics.SetDue(len(due))

	var (
		g  errgroup.Group
		mu sync.Mutex
	)
	g.SetLimit(s.cfg.Concurrency)
	for i := range due {
		if ctx.Err() != nil {
			break
		}
		tpl := &due[i]
		g.Go(func() error {
			outcome, err := s.engine.Advance(ctx, tpl)
			if err != nil {
				s.log.Warn("template advance failed", zap.Uint("template_id", tpl.ID), zap.Error(err))
			}
			s.metrics.IncOutcome(string(outcome))
			mu.Lock()
			summary.add(outcome)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return summary, ctx.Err()
}

func (s *Scheduler) sweep(ctx context.Context, summary *Summary) {
	if s.sweeper == nil || s.cfg.ReservationTTL <= 0 {
		return
	}
	committed, deleted, err := s.sweeper.Sweep(ctx, s.cfg.ReservationTTL)
	if err != nil {
		s.log.Warn("reservation sweep failed", zap.Error(err))
		return
	}
	summary.Committed, summary.Released = committed, deleted
	s.metrics.AddSwept(committed, deleted)
}
