// Package recurring turns due recurring templates into invoices.
package recurring

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/diewo77/recurring-invoices/internal/clock"
	"github.com/diewo77/recurring-invoices/internal/config"
	"github.com/diewo77/recurring-invoices/internal/models"
	"github.com/diewo77/recurring-invoices/internal/notify"
	"github.com/diewo77/recurring-invoices/internal/numbering"
	"github.com/diewo77/recurring-invoices/internal/recurrence"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Outcome says what one Advance call did to a template.
type Outcome string

const (
	OutcomeGenerated Outcome = "generated"
	OutcomeCompleted Outcome = "completed"
	OutcomeFailed    Outcome = "failed"
	OutcomeSkipped   Outcome = "skipped"
	// OutcomeBusy means another worker holds the template or it is no longer due.
	OutcomeBusy Outcome = "busy"
)

var (
	ErrLeaseLost = errors.New("recurring: template changed while generating")
	ErrNoNextRun = errors.New("recurring: template has no next run date")
)

var tracer = otel.Tracer("github.com/diewo77/recurring-invoices/internal/recurring")

// Allocator is the part of numbering.Allocator the engine needs.
type Allocator interface {
	Reserve(ctx context.Context, clientID uint) (*numbering.Reservation, error)
	Commit(ctx context.Context, tx *gorm.DB, res *numbering.Reservation, invoiceID uint) error
	Release(ctx context.Context, res *numbering.Reservation) error
}

type Params struct {
	fx.In

	DB        *gorm.DB
	Repo      Repository
	Allocator Allocator
	Notifier  notify.Notifier
	Clock     clock.Clock
	Node      *snowflake.Node
	Log       *zap.Logger
	Config    config.SchedulerConfig
}

type Engine struct {
	db       *gorm.DB
	repo     Repository
	alloc    Allocator
	notifier notify.Notifier
	clock    clock.Clock
	node     *snowflake.Node
	log      *zap.Logger
	cfg      config.SchedulerConfig
}

func NewEngine(p Params) *Engine {
	cfg := p.Config
	if cfg.LeaseTTL <= 0 {
		cfg.LeaseTTL = 5 * time.Minute
	}
	if cfg.DueInDays <= 0 {
		cfg.DueInDays = 7
	}
	if cfg.OnMissingClient == "" {
		cfg.OnMissingClient = config.OnMissingClientRetry
	}
	return &Engine{
		db:       p.DB,
		repo:     p.Repo,
		alloc:    p.Allocator,
		notifier: p.Notifier,
		clock:    p.Clock,
		node:     p.Node,
		log:      p.Log.Named("recurring.engine"),
		cfg:      cfg,
	}
}

// Advance runs one cycle of tpl: it either disables a template past its end
// date or generates the invoice for tpl's current NextRunAt and moves the
// schedule forward. Failures are confined to tpl; a panic is recovered and
// reported as OutcomeFailed.
func (e *Engine) Advance(ctx context.Context, tpl *models.Invoice) (outcome Outcome, err error) {
	ctx, span := tracer.Start(ctx, "recurring.Advance",
		trace.WithAttributes(attribute.Int64("template_id", int64(tpl.ID))))
	defer func() {
		if r := recover(); r != nil {
			outcome = OutcomeFailed
			err = fmt.Errorf("recurring: template %d: panic: %v", tpl.ID, r)
			e.log.Error("panic while advancing template",
				zap.Uint("template_id", tpl.ID),
				zap.Any("panic", r),
				zap.Stack("stack"),
			)
		}
		span.SetAttributes(attribute.String("outcome", string(outcome)))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	if tpl.Recurring.NextRunAt == nil {
		return OutcomeFailed, fmt.Errorf("template %d: %w", tpl.ID, ErrNoNextRun)
	}
	scheduled := tpl.Recurring.NextRunAt.UTC()
	log := e.log.With(
		zap.Uint("template_id", tpl.ID),
		zap.Uint("client_id", tpl.ClientID),
		zap.Time("scheduled_for", scheduled),
	)

	owner := uuid.NewString()
	now := e.clock.Now()
	acquired, err := e.repo.Acquire(ctx, e.db, tpl.ID, scheduled, owner, now, now.Add(e.cfg.LeaseTTL))
	if err != nil {
		return OutcomeFailed, err
	}
	if !acquired {
		log.Debug("template busy or no longer due")
		return OutcomeBusy, nil
	}

	if end := tpl.Recurring.EndDate; end != nil && scheduled.After(*end) {
		return e.complete(ctx, log, tpl, scheduled, owner)
	}

	res, err := e.alloc.Reserve(ctx, tpl.ClientID)
	if err != nil {
		if errors.Is(err, numbering.ErrClientNotFound) && e.cfg.OnMissingClient == config.OnMissingClientSkip {
			return e.skip(ctx, log, tpl, scheduled, owner, err)
		}
		return e.fail(ctx, log, tpl, scheduled, owner, "", err)
	}

	schedule := tpl.Recurring.Schedule()
	schedule.NextRunAt = scheduled
	next := recurrence.NextRun(schedule)

	child := BuildChild(tpl, res.Number, scheduled, e.cfg.DueInDays)
	run := &models.RecurringRun{
		ID:             e.node.Generate(),
		OrganizationID: tpl.OrganizationID,
		TemplateID:     tpl.ID,
		ScheduledFor:   scheduled,
		Outcome:        models.RunGenerated,
		InvoiceNumber:  res.Number,
	}

	err = e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := e.repo.CreateChild(ctx, tx, child); err != nil {
			return err
		}
		if err := e.alloc.Commit(ctx, tx, res, child.ID); err != nil {
			return err
		}
		advanced, err := e.repo.Advance(ctx, tx, tpl.ID, scheduled, next, owner, true, "")
		if err != nil {
			return err
		}
		if !advanced {
			return ErrLeaseLost
		}
		run.ChildInvoiceID = &child.ID
		return e.repo.RecordRun(ctx, tx, run)
	})
	if err != nil {
		if rerr := e.alloc.Release(context.WithoutCancel(ctx), res); rerr != nil {
			log.Warn("failed to release invoice number", zap.String("invoice_number", res.Number), zap.Error(rerr))
		}
		return e.fail(ctx, log, tpl, scheduled, owner, res.Number, err)
	}

	log.Info("recurring invoice generated",
		zap.String("invoice_number", child.Number),
		zap.Uint("invoice_id", child.ID),
		zap.Time("next_run_at", next),
	)

	if tpl.Recurring.AutoSend {
		e.send(ctx, log, tpl, child, run)
	}
	if tpl.Recurring.AutoCharge {
		// Payment collection is not wired to a provider yet.
		log.Info("auto-charge requested, no payment taken", zap.String("invoice_number", child.Number))
	}
	return OutcomeGenerated, nil
}

func (e *Engine) complete(ctx context.Context, log *zap.Logger, tpl *models.Invoice, scheduled time.Time, owner string) (Outcome, error) {
	if err := e.repo.Complete(ctx, e.db, tpl.ID, owner); err != nil {
		return e.fail(ctx, log, tpl, scheduled, owner, "", err)
	}
	e.record(ctx, log, &models.RecurringRun{
		OrganizationID: tpl.OrganizationID,
		TemplateID:     tpl.ID,
		ScheduledFor:   scheduled,
		Outcome:        models.RunCompleted,
	})
	log.Info("recurring template reached its end date", zap.Time("end_date", *tpl.Recurring.EndDate))
	return OutcomeCompleted, nil
}

// skip moves past a cycle that cannot be generated without counting it as a run.
func (e *Engine) skip(ctx context.Context, log *zap.Logger, tpl *models.Invoice, scheduled time.Time, owner string, cause error) (Outcome, error) {
	schedule := tpl.Recurring.Schedule()
	schedule.NextRunAt = scheduled
	next := recurrence.NextRun(schedule)

	advanced, err := e.repo.Advance(ctx, e.db, tpl.ID, scheduled, next, owner, false, cause.Error())
	if err != nil {
		return e.fail(ctx, log, tpl, scheduled, owner, "", err)
	}
	if !advanced {
		return e.fail(ctx, log, tpl, scheduled, owner, "", ErrLeaseLost)
	}
	e.record(ctx, log, &models.RecurringRun{
		OrganizationID: tpl.OrganizationID,
		TemplateID:     tpl.ID,
		ScheduledFor:   scheduled,
		Outcome:        models.RunSkipped,
		Error:          cause.Error(),
	})
	log.Warn("recurring cycle skipped", zap.Time("next_run_at", next), zap.Error(cause))
	return OutcomeSkipped, nil
}

// fail leaves the schedule where it is so the next pass retries the cycle.
func (e *Engine) fail(ctx context.Context, log *zap.Logger, tpl *models.Invoice, scheduled time.Time, owner, number string, cause error) (Outcome, error) {
	ctx = context.WithoutCancel(ctx)
	if err := e.repo.Release(ctx, e.db, tpl.ID, owner, cause.Error()); err != nil {
		log.Warn("failed to release template lease", zap.Error(err))
	}
	e.record(ctx, log, &models.RecurringRun{
		OrganizationID: tpl.OrganizationID,
		TemplateID:     tpl.ID,
		ScheduledFor:   scheduled,
		Outcome:        models.RunFailed,
		InvoiceNumber:  number,
		Error:          cause.Error(),
	})
	log.Warn("recurring cycle failed", zap.Error(cause))
	return OutcomeFailed, fmt.Errorf("recurring: template %d: %w", tpl.ID, cause)
}

func (e *Engine) record(ctx context.Context, log *zap.Logger, run *models.RecurringRun) {
	if run.ID == 0 {
		run.ID = e.node.Generate()
	}
	if err := e.repo.RecordRun(ctx, e.db, run); err != nil {
		log.Warn("failed to record recurring run", zap.String("outcome", string(run.Outcome)), zap.Error(err))
	}
}

// send mails the generated invoice. Delivery problems are logged and kept on
// the run row; the invoice stays generated.
func (e *Engine) send(ctx context.Context, log *zap.Logger, tpl, child *models.Invoice, run *models.RecurringRun) {
	err := e.deliver(ctx, tpl, child)
	if err == nil {
		return
	}
	log.Warn("invoice notification failed", zap.String("invoice_number", child.Number), zap.Error(err))
	if uerr := e.repo.SetNotificationError(context.WithoutCancel(ctx), e.db, run.ID, err.Error()); uerr != nil {
		log.Warn("failed to record notification error", zap.Error(uerr))
	}
}

func (e *Engine) deliver(ctx context.Context, tpl, child *models.Invoice) error {
	client, err := e.repo.Contact(ctx, e.db, tpl.ClientID)
	if err != nil {
		return err
	}
	if client.Email == "" {
		return fmt.Errorf("%w: client %d has no email", notify.ErrDeliveryFailed, client.ID)
	}
	sender, err := e.repo.SenderName(ctx, e.db, tpl.OrganizationID)
	if err != nil {
		return err
	}
	return e.notifier.Send(ctx, InvoiceMessage(client, sender, child))
}

// InvoiceMessage renders the email announcing inv to client.
func InvoiceMessage(client *models.Client, sender string, inv *models.Invoice) notify.Message {
	body := fmt.Sprintf(
		"Hello %s,\n\nInvoice %s was issued on %s.\nAmount due: %s %s\nDue date: %s\n\n%s\n",
		client.Name,
		inv.Number,
		inv.IssueDate.Format("2006-01-02"),
		inv.Amount.StringFixed(2),
		inv.Currency,
		inv.DueDate.Format("2006-01-02"),
		sender,
	)
	return notify.Message{
		Email:   client.Email,
		Subject: fmt.Sprintf("Invoice %s from %s", inv.Number, sender),
		Body:    body,
	}
}
