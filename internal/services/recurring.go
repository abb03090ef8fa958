package services

import (
	"context"
	"time"

	"github.com/diewo77/recurring-invoices/internal/auth"
	"github.com/diewo77/recurring-invoices/internal/models"
	"github.com/diewo77/recurring-invoices/internal/recurrence"
	"go.uber.org/zap"
)

// ScheduleView describes a template's schedule with its next few run dates.
type ScheduleView struct {
	TemplateID uint             `json:"template_id"`
	Recurring  models.Recurring `json:"recurring"`
	Upcoming   []time.Time      `json:"upcoming"`
}

// Schedule returns the template's recurrence state and the next n run dates.
func (s *InvoiceService) Schedule(ctx context.Context, p auth.Principal, id uint, n int) (*ScheduleView, error) {
	inv, err := s.template(ctx, p, id)
	if err != nil {
		return nil, err
	}
	if n <= 0 {
		n = 5
	}
	view := &ScheduleView{TemplateID: inv.ID, Recurring: inv.Recurring, Upcoming: []time.Time{}}
	if inv.Recurring.NextRunAt == nil || inv.Recurring.Paused {
		return view, nil
	}
	next := *inv.Recurring.NextRunAt
	for _, at := range append([]time.Time{next}, recurrence.Upcoming(inv.Recurring.Schedule(), n-1)...) {
		if end := inv.Recurring.EndDate; end != nil && at.After(*end) {
			break
		}
		view.Upcoming = append(view.Upcoming, at)
	}
	return view, nil
}

// Pause stops generation until Resume. The schedule keeps its next run date.
func (s *InvoiceService) Pause(ctx context.Context, p auth.Principal, id uint) (*models.Invoice, error) {
	return s.setPaused(ctx, p, id, true)
}

// Resume re-enables a paused template. Cycles missed while paused are
// generated by the following ticks, one per tick.
func (s *InvoiceService) Resume(ctx context.Context, p auth.Principal, id uint) (*models.Invoice, error) {
	return s.setPaused(ctx, p, id, false)
}

func (s *InvoiceService) setPaused(ctx context.Context, p auth.Principal, id uint, paused bool) (*models.Invoice, error) {
	inv, err := s.template(ctx, p, id)
	if err != nil {
		return nil, err
	}
	err = s.db.WithContext(ctx).Model(&models.Invoice{}).
		Where("id = ?", inv.ID).
		Update("recurring_paused", paused).Error
	if err != nil {
		return nil, err
	}
	inv.Recurring.Paused = paused
	s.log.Info("recurring template updated", zap.Uint("template_id", inv.ID), zap.Bool("paused", paused))
	return inv, nil
}

// Stop ends the schedule for good. The template stays as a plain invoice.
func (s *InvoiceService) Stop(ctx context.Context, p auth.Principal, id uint) (*models.Invoice, error) {
	inv, err := s.template(ctx, p, id)
	if err != nil {
		return nil, err
	}
	err = s.db.WithContext(ctx).Model(&models.Invoice{}).
		Where("id = ?", inv.ID).
		Update("recurring_enabled", false).Error
	if err != nil {
		return nil, err
	}
	inv.Recurring.Enabled = false
	s.log.Info("recurring template stopped", zap.Uint("template_id", inv.ID))
	return inv, nil
}

// Runs lists the latest cycle outcomes of a template, newest first.
func (s *InvoiceService) Runs(ctx context.Context, p auth.Principal, id uint, limit int) ([]models.RecurringRun, error) {
	if _, err := s.Get(ctx, p, id); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	var runs []models.RecurringRun
	err := s.db.WithContext(ctx).
		Where("organization_id = ? AND template_id = ?", p.OrganizationID, id).
		Order("created_at DESC, id DESC").
		Limit(limit).
		Find(&runs).Error
	return runs, err
}

func (s *InvoiceService) template(ctx context.Context, p auth.Principal, id uint) (*models.Invoice, error) {
	inv, err := s.Get(ctx, p, id)
	if err != nil {
		return nil, err
	}
	if !inv.IsTemplate() {
		return nil, ErrNotRecurring
	}
	return inv, nil
}
