package numbering

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/diewo77/recurring-invoices/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrClientNotFound = errors.New("numbering: client not found")
	// ErrDuplicateNumber reports a lost claim. The allocator retries on it and
	// never returns it to callers.
	ErrDuplicateNumber     = errors.New("numbering: duplicate invoice number")
	ErrAllocationExhausted = errors.New("numbering: allocation attempts exhausted")
	ErrReservationNotFound = errors.New("numbering: reservation not found")
)

// Store is the persistence the allocator depends on. Every method takes the
// *gorm.DB to run on so callers can pass a transaction.
type Store interface {
	ClientPrefix(ctx context.Context, db *gorm.DB, clientID uint) (string, error)
	LastSeq(ctx context.Context, db *gorm.DB, base string) (int, error)
	Claim(ctx context.Context, db *gorm.DB, row *models.InvoiceNumber) error
	MarkCommitted(ctx context.Context, db *gorm.DB, number, token string, invoiceID uint, at time.Time) error
	Delete(ctx context.Context, db *gorm.DB, number, token string) error
	Sweep(ctx context.Context, db *gorm.DB, before, now time.Time) (committed, deleted int64, err error)
}

// GormStore implements Store on the invoice_numbers and invoices tables.
type GormStore struct{}

func NewGormStore() *GormStore {
	return &GormStore{}
}

func (GormStore) ClientPrefix(ctx context.Context, db *gorm.DB, clientID uint) (string, error) {
	var client models.Client
	err := db.WithContext(ctx).Select("id", "invoice_prefix").First(&client, clientID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", ErrClientNotFound
	}
	if err != nil {
		return "", fmt.Errorf("numbering: load client %d: %w", clientID, err)
	}
	return client.NumberPrefix(), nil
}

// LastSeq returns the highest sequence used under base, looking at both the
// ledger and invoice numbers that predate it.
func (GormStore) LastSeq(ctx context.Context, db *gorm.DB, base string) (int, error) {
	db = db.WithContext(ctx)

	var ledger models.InvoiceNumber
	err := db.Where("base = ?", base).Order("seq DESC").Limit(1).Find(&ledger).Error
	if err != nil {
		return 0, fmt.Errorf("numbering: last ledger seq: %w", err)
	}
	last := ledger.Seq

	var numbers []string
	err = db.Unscoped().Model(&models.Invoice{}).
		Where("number LIKE ?", base+"-%").
		Order("created_at DESC").
		Limit(50).
		Pluck("number", &numbers).Error
	if err != nil {
		return 0, fmt.Errorf("numbering: last invoice number: %w", err)
	}
	for _, n := range numbers {
		if seq, ok := ParseSeq(base, n); ok && seq > last {
			last = seq
		}
	}
	return last, nil
}

// Claim inserts row unless its number is taken, in which case it returns
// ErrDuplicateNumber.
func (GormStore) Claim(ctx context.Context, db *gorm.DB, row *models.InvoiceNumber) error {
	res := db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "number"}},
			DoNothing: true,
		}).
		Create(row)
	if res.Error != nil {
		if errors.Is(res.Error, gorm.ErrDuplicatedKey) {
			return ErrDuplicateNumber
		}
		return fmt.Errorf("numbering: claim %s: %w", row.Number, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrDuplicateNumber
	}

	// An invoice may already carry the number without a ledger row.
	var taken int64
	err := db.WithContext(ctx).Unscoped().Model(&models.Invoice{}).
		Where("number = ?", row.Number).
		Count(&taken).Error
	if err != nil {
		return fmt.Errorf("numbering: check %s: %w", row.Number, err)
	}
	if taken > 0 {
		return ErrDuplicateNumber
	}
	return nil
}

func (GormStore) MarkCommitted(ctx context.Context, db *gorm.DB, number, token string, invoiceID uint, at time.Time) error {
	res := db.WithContext(ctx).Model(&models.InvoiceNumber{}).
		Where("number = ? AND token = ? AND state = ?", number, token, models.NumberReserved).
		Updates(map[string]any{
			"state":        models.NumberCommitted,
			"invoice_id":   invoiceID,
			"committed_at": at,
		})
	if res.Error != nil {
		return fmt.Errorf("numbering: commit %s: %w", number, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrReservationNotFound
	}
	return nil
}

func (GormStore) Delete(ctx context.Context, db *gorm.DB, number, token string) error {
	res := db.WithContext(ctx).
		Where("number = ? AND token = ? AND state = ?", number, token, models.NumberReserved).
		Delete(&models.InvoiceNumber{})
	if res.Error != nil {
		return fmt.Errorf("numbering: release %s: %w", number, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrReservationNotFound
	}
	return nil
}

// Sweep settles reservations older than before. Those whose number ended up on
// an invoice are committed; the rest are orphans and get deleted.
func (GormStore) Sweep(ctx context.Context, db *gorm.DB, before, now time.Time) (int64, int64, error) {
	var committed, deleted int64
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		owner := func() *gorm.DB {
			return tx.Session(&gorm.Session{NewDB: true}).Unscoped().Model(&models.Invoice{}).
				Select("id").
				Where("invoices.number = invoice_numbers.number").
				Limit(1)
		}
		res := tx.Model(&models.InvoiceNumber{}).
			Where("state = ? AND reserved_at < ?", models.NumberReserved, before).
			Where("EXISTS (?)", owner()).
			Updates(map[string]any{
				"state":        models.NumberCommitted,
				"invoice_id":   owner(),
				"committed_at": now,
			})
		if res.Error != nil {
			return res.Error
		}
		committed = res.RowsAffected

		res = tx.Where("state = ? AND reserved_at < ?", models.NumberReserved, before).
			Delete(&models.InvoiceNumber{})
		if res.Error != nil {
			return res.Error
		}
		deleted = res.RowsAffected
		return nil
	})
	if err != nil {
		return 0, 0, fmt.Errorf("numbering: sweep: %w", err)
	}
	return committed, deleted, nil
}
