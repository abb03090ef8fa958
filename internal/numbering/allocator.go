package numbering

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/diewo77/recurring-invoices/internal/clock"
	"github.com/diewo77/recurring-invoices/internal/models"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// DefaultMaxAttempts bounds the read-compute-claim loop of Reserve.
const DefaultMaxAttempts = 50

var tracer = otel.Tracer("github.com/diewo77/recurring-invoices/internal/numbering")

// Reservation is a claimed number not yet bound to a persisted invoice.
type Reservation struct {
	Number     string
	Base       string
	Seq        int
	ClientID   uint
	Token      string
	ReservedAt time.Time
}

// Allocator hands out invoice numbers. Interactive invoice creation and the
// recurring scheduler share one Allocator.
type Allocator struct {
	db          *gorm.DB
	store       Store
	clock       clock.Clock
	log         *zap.Logger
	maxAttempts int
}

func NewAllocator(db *gorm.DB, store Store, clk clock.Clock, log *zap.Logger) *Allocator {
	return &Allocator{
		db:          db,
		store:       store,
		clock:       clk,
		log:         log.Named("numbering"),
		maxAttempts: DefaultMaxAttempts,
	}
}

// WithMaxAttempts overrides DefaultMaxAttempts. Non-positive values are ignored.
func (a *Allocator) WithMaxAttempts(n int) *Allocator {
	if n > 0 {
		a.maxAttempts = n
	}
	return a
}

// Reserve claims the next number for the client's prefix in the current month.
// It returns ErrClientNotFound when the client does not exist and
// ErrAllocationExhausted when every attempt lost its claim to a concurrent
// allocator.
func (a *Allocator) Reserve(ctx context.Context, clientID uint) (*Reservation, error) {
	ctx, span := tracer.Start(ctx, "numbering.Reserve",
		trace.WithAttributes(attribute.Int64("client_id", int64(clientID))))
	defer span.End()

	res, err := a.reserve(ctx, clientID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.String("invoice_number", res.Number))
	return res, nil
}

func (a *Allocator) reserve(ctx context.Context, clientID uint) (*Reservation, error) {
	prefix, err := a.store.ClientPrefix(ctx, a.db, clientID)
	if err != nil {
		return nil, err
	}

	now := a.clock.Now().UTC()
	base := Base(prefix, now)
	token := uuid.NewString()

	for attempt := 1; attempt <= a.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		last, err := a.store.LastSeq(ctx, a.db, base)
		if err != nil {
			return nil, err
		}
		row := &models.InvoiceNumber{
			Number:     Format(base, last+1),
			Base:       base,
			Seq:        last + 1,
			State:      models.NumberReserved,
			Token:      token,
			ClientID:   clientID,
			ReservedAt: now,
		}

		err = a.store.Claim(ctx, a.db, row)
		if errors.Is(err, ErrDuplicateNumber) {
			a.log.Debug("number already claimed, retrying",
				zap.String("invoice_number", row.Number),
				zap.Int("attempt", attempt),
			)
			continue
		}
		if err != nil {
			return nil, err
		}

		return &Reservation{
			Number:     row.Number,
			Base:       base,
			Seq:        row.Seq,
			ClientID:   clientID,
			Token:      token,
			ReservedAt: now,
		}, nil
	}

	a.log.Error("invoice number allocation exhausted",
		zap.String("base", base),
		zap.Uint("client_id", clientID),
		zap.Int("attempts", a.maxAttempts),
	)
	return nil, fmt.Errorf("%w: %d attempts for %s", ErrAllocationExhausted, a.maxAttempts, base)
}

// Allocate reserves a number and returns it. The reservation stays in the
// ledger until committed, released or swept.
func (a *Allocator) Allocate(ctx context.Context, clientID uint) (string, error) {
	res, err := a.Reserve(ctx, clientID)
	if err != nil {
		return "", err
	}
	return res.Number, nil
}

// Commit binds res to the persisted invoice. Pass the transaction that created
// the invoice so both become visible together; a nil tx uses the allocator's
// connection.
func (a *Allocator) Commit(ctx context.Context, tx *gorm.DB, res *Reservation, invoiceID uint) error {
	if tx == nil {
		tx = a.db
	}
	return a.store.MarkCommitted(ctx, tx, res.Number, res.Token, invoiceID, a.clock.Now().UTC())
}

// Release gives the number back after the invoice could not be persisted.
func (a *Allocator) Release(ctx context.Context, res *Reservation) error {
	if err := a.store.Delete(ctx, a.db, res.Number, res.Token); err != nil {
		return err
	}
	a.log.Debug("reservation released", zap.String("invoice_number", res.Number))
	return nil
}

// Sweep settles reservations older than olderThan and returns how many were
// committed to an existing invoice and how many orphans were deleted.
func (a *Allocator) Sweep(ctx context.Context, olderThan time.Duration) (committed, deleted int64, err error) {
	ctx, span := tracer.Start(ctx, "numbering.Sweep")
	defer span.End()

	now := a.clock.Now().UTC()
	committed, deleted, err = a.store.Sweep(ctx, a.db, now.Add(-olderThan), now)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return 0, 0, err
	}
	if committed > 0 || deleted > 0 {
		a.log.Info("swept stale reservations",
			zap.Int64("committed", committed),
			zap.Int64("deleted", deleted),
		)
	}
	return committed, deleted, nil
}
