package recurring

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/diewo77/recurring-invoices/internal/models"
	"github.com/diewo77/recurring-invoices/internal/numbering"
	"gorm.io/gorm"
)

// Repository is the persistence used by the engine and the scheduler. Every
// method takes the *gorm.DB to run on so it can join a transaction.
type Repository interface {
	ListDue(ctx context.Context, db *gorm.DB, now time.Time, limit int) ([]models.Invoice, error)
	Acquire(ctx context.Context, db *gorm.DB, templateID uint, scheduledFor time.Time, owner string, now, until time.Time) (bool, error)
	Release(ctx context.Context, db *gorm.DB, templateID uint, owner, lastError string) error
	Advance(ctx context.Context, db *gorm.DB, templateID uint, scheduledFor, next time.Time, owner string, countRun bool, lastError string) (bool, error)
	Complete(ctx context.Context, db *gorm.DB, templateID uint, owner string) error
	CreateChild(ctx context.Context, db *gorm.DB, child *models.Invoice) error
	RecordRun(ctx context.Context, db *gorm.DB, run *models.RecurringRun) error
	SetNotificationError(ctx context.Context, db *gorm.DB, runID snowflake.ID, msg string) error
	Contact(ctx context.Context, db *gorm.DB, clientID uint) (*models.Client, error)
	SenderName(ctx context.Context, db *gorm.DB, organizationID uint) (string, error)
}

type GormRepository struct{}

func NewGormRepository() *GormRepository {
	return &GormRepository{}
}

// ListDue returns enabled, unpaused templates whose next run is at or before
// now and that no worker currently holds, oldest first.
func (GormRepository) ListDue(ctx context.Context, db *gorm.DB, now time.Time, limit int) ([]models.Invoice, error) {
	var templates []models.Invoice
	q := db.WithContext(ctx).
		Where("recurring_enabled = ? AND recurring_paused = ?", true, false).
		Where("recurring_next_run_at IS NOT NULL AND recurring_next_run_at <= ?", now).
		Where("recurring_locked_until IS NULL OR recurring_locked_until < ?", now).
		Order("recurring_next_run_at ASC, id ASC").
		Preload("Items", func(db *gorm.DB) *gorm.DB { return db.Order("position ASC, id ASC") })
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&templates).Error; err != nil {
		return nil, err
	}
	return templates, nil
}

// Acquire takes the lease on a template for one cycle. It fails (false, nil)
// when the template moved on, was paused or disabled, or is leased by someone
// else.
func (GormRepository) Acquire(ctx context.Context, db *gorm.DB, templateID uint, scheduledFor time.Time, owner string, now, until time.Time) (bool, error) {
	res := db.WithContext(ctx).Model(&models.Invoice{}).
		Where("id = ? AND recurring_enabled = ? AND recurring_paused = ?", templateID, true, false).
		Where("recurring_next_run_at = ?", scheduledFor).
		Where("recurring_locked_until IS NULL OR recurring_locked_until < ?", now).
		Updates(map[string]any{
			"recurring_locked_until": until,
			"recurring_lock_owner":   owner,
		})
	if res.Error != nil {
		return false, fmt.Errorf("recurring: acquire template %d: %w", templateID, res.Error)
	}
	return res.RowsAffected == 1, nil
}

// Release drops the lease and records why the cycle did not complete.
func (GormRepository) Release(ctx context.Context, db *gorm.DB, templateID uint, owner, lastError string) error {
	return db.WithContext(ctx).Model(&models.Invoice{}).
		Where("id = ? AND recurring_lock_owner = ?", templateID, owner).
		Updates(map[string]any{
			"recurring_locked_until": nil,
			"recurring_lock_owner":   "",
			"recurring_last_error":   lastError,
		}).Error
}

// Advance moves the schedule from scheduledFor to next and drops the lease.
// countRun marks a cycle that produced an invoice. The update only applies
// while owner still holds the lease on scheduledFor, so two workers can never
// advance the same cycle.
func (GormRepository) Advance(ctx context.Context, db *gorm.DB, templateID uint, scheduledFor, next time.Time, owner string, countRun bool, lastError string) (bool, error) {
	updates := map[string]any{
		"recurring_next_run_at":  next,
		"recurring_locked_until": nil,
		"recurring_lock_owner":   "",
		"recurring_last_error":   lastError,
	}
	if countRun {
		updates["recurring_last_run_at"] = scheduledFor
		updates["recurring_run_count"] = gorm.Expr("recurring_run_count + 1")
	}
	res := db.WithContext(ctx).Model(&models.Invoice{}).
		Where("id = ? AND recurring_next_run_at = ? AND recurring_lock_owner = ?", templateID, scheduledFor, owner).
		Updates(updates)
	if res.Error != nil {
		return false, fmt.Errorf("recurring: advance template %d: %w", templateID, res.Error)
	}
	return res.RowsAffected == 1, nil
}

// Complete disables a template whose end date has passed.
func (GormRepository) Complete(ctx context.Context, db *gorm.DB, templateID uint, owner string) error {
	res := db.WithContext(ctx).Model(&models.Invoice{}).
		Where("id = ? AND recurring_lock_owner = ?", templateID, owner).
		Updates(map[string]any{
			"recurring_enabled":      false,
			"recurring_locked_until": nil,
			"recurring_lock_owner":   "",
			"recurring_last_error":   "",
		})
	if res.Error != nil {
		return fmt.Errorf("recurring: complete template %d: %w", templateID, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrLeaseLost
	}
	return nil
}

func (GormRepository) CreateChild(ctx context.Context, db *gorm.DB, child *models.Invoice) error {
	if err := db.WithContext(ctx).Create(child).Error; err != nil {
		return fmt.Errorf("recurring: create child %s: %w", child.Number, err)
	}
	return nil
}

func (GormRepository) RecordRun(ctx context.Context, db *gorm.DB, run *models.RecurringRun) error {
	return db.WithContext(ctx).Create(run).Error
}

func (GormRepository) SetNotificationError(ctx context.Context, db *gorm.DB, runID snowflake.ID, msg string) error {
	return db.WithContext(ctx).Model(&models.RecurringRun{}).
		Where("id = ?", runID).
		Update("notification_error", msg).Error
}

// Contact loads the client billed by a template.
func (GormRepository) Contact(ctx context.Context, db *gorm.DB, clientID uint) (*models.Client, error) {
	var client models.Client
	err := db.WithContext(ctx).First(&client, clientID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, numbering.ErrClientNotFound
	}
	if err != nil {
		return nil, err
	}
	return &client, nil
}

// SenderName prefers the company settings name and falls back to the
// organization name.
func (GormRepository) SenderName(ctx context.Context, db *gorm.DB, organizationID uint) (string, error) {
	var org models.Organization
	if err := db.WithContext(ctx).Select("id", "name").First(&org, organizationID).Error; err != nil {
		return "", err
	}
	var settings models.CompanySettings
	err := db.WithContext(ctx).Where("organization_id = ?", organizationID).Limit(1).Find(&settings).Error
	if err != nil {
		return "", err
	}
	if settings.ID == 0 {
		return org.Name, nil
	}
	return settings.SenderName(org.Name), nil
}
