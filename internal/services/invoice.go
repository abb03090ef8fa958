// Package services implements invoice and schedule operations on behalf of
// a signed-in principal.
package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/diewo77/recurring-invoices/internal/auth"
	"github.com/diewo77/recurring-invoices/internal/clock"
	"github.com/diewo77/recurring-invoices/internal/httpx"
	"github.com/diewo77/recurring-invoices/internal/models"
	"github.com/diewo77/recurring-invoices/internal/numbering"
	"github.com/diewo77/recurring-invoices/internal/recurrence"
	"github.com/diewo77/recurring-invoices/internal/validation"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	ErrNotEditable  = httpx.NewError(http.StatusConflict, "invoice_not_editable")
	ErrNotRecurring = httpx.NewError(http.StatusConflict, "invoice_not_recurring")
	ErrAlreadyPaid  = httpx.NewError(http.StatusConflict, "invoice_already_paid")
)

// NumberAllocator hands out invoice numbers.
type NumberAllocator interface {
	Reserve(ctx context.Context, clientID uint) (*numbering.Reservation, error)
	Commit(ctx context.Context, tx *gorm.DB, res *numbering.Reservation, invoiceID uint) error
	Release(ctx context.Context, res *numbering.Reservation) error
}

type ItemInput struct {
	Description string          `json:"description"`
	Quantity    decimal.Decimal `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	Unit        string          `json:"unit,omitempty"`
	VATRate     decimal.Decimal `json:"vat_rate"`
}

// RecurringInput turns the created invoice into a template.
type RecurringInput struct {
	Frequency   recurrence.Frequency `json:"frequency"`
	SpecificDay int                  `json:"specific_day,omitempty"`
	CustomDays  int                  `json:"custom_days,omitempty"`
	StartDate   time.Time            `json:"start_date"`
	EndDate     *time.Time           `json:"end_date,omitempty"`
	AutoSend    bool                 `json:"auto_send"`
	AutoCharge  bool                 `json:"auto_charge"`
}

type CreateInvoiceInput struct {
	ClientID    uint                `json:"client_id"`
	Reference   string              `json:"reference,omitempty"`
	IssueDate   *time.Time          `json:"issue_date,omitempty"`
	DueDate     *time.Time          `json:"due_date,omitempty"`
	Currency    string              `json:"currency,omitempty"`
	Discount    decimal.Decimal     `json:"discount"`
	TaxType     models.TaxType      `json:"tax_type,omitempty"`
	Notes       string              `json:"notes,omitempty"`
	TemplateRef string              `json:"template_ref,omitempty"`
	Attachments []models.Attachment `json:"attachments,omitempty"`
	Items       []ItemInput         `json:"items"`
	Recurring   *RecurringInput     `json:"recurring,omitempty"`
}

// Validate reports every problem with in at once.
func (in *CreateInvoiceInput) Validate() error {
	v := validation.Violations{}
	if in.ClientID == 0 {
		v["client_id"] = "required"
	}
	if in.Currency != "" && len(in.Currency) != 3 {
		v["currency"] = "invalid_currency"
	}
	if in.TaxType != "" {
		validation.OneOf("tax_type", string(in.TaxType), []string{string(models.TaxExclusive), string(models.TaxInclusive)}, v)
	}
	validation.NonNegativeDecimal("discount", in.Discount, v)
	if in.IssueDate != nil && in.DueDate != nil && in.DueDate.Before(*in.IssueDate) {
		v["due_date"] = "before_issue_date"
	}
	if len(in.Items) == 0 {
		v["items"] = "required"
	}
	for i, item := range in.Items {
		prefix := fmt.Sprintf("items[%d].", i)
		validation.Required(prefix+"description", item.Description, v)
		validation.PositiveDecimal(prefix+"quantity", item.Quantity, v)
		validation.NonNegativeDecimal(prefix+"unit_price", item.UnitPrice, v)
		validation.RangeDecimal(prefix+"vat_rate", item.VATRate, decimal.Zero, decimal.NewFromInt(1), v)
	}
	if r := in.Recurring; r != nil {
		if !r.Frequency.Valid() {
			v["recurring.frequency"] = "invalid_choice"
		}
		if r.Frequency == recurrence.MonthlySpecificDay {
			validation.RangeInt("recurring.specific_day", r.SpecificDay, 1, 31, v)
		}
		if r.Frequency == recurrence.CustomDays && r.CustomDays < 1 {
			v["recurring.custom_days"] = "must_be_positive"
		}
		if r.StartDate.IsZero() {
			v["recurring.start_date"] = "required"
		}
		if r.EndDate != nil && r.EndDate.Before(r.StartDate) {
			v["recurring.end_date"] = "before_start_date"
		}
	}
	return v.Err()
}

type InvoiceService struct {
	db    *gorm.DB
	alloc NumberAllocator
	clock clock.Clock
	log   *zap.Logger
}

func NewInvoiceService(db *gorm.DB, alloc NumberAllocator, clk clock.Clock, log *zap.Logger) *InvoiceService {
	return &InvoiceService{db: db, alloc: alloc, clock: clk, log: log.Named("invoices")}
}

// Create persists a new invoice for p's organization under a freshly
// allocated number. With a recurring block the invoice becomes a template
// whose first cycle runs on StartDate.
func (s *InvoiceService) Create(ctx context.Context, p auth.Principal, in CreateInvoiceInput) (*models.Invoice, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}

	var client models.Client
	err := s.db.WithContext(ctx).Where("organization_id = ?", p.OrganizationID).First(&client, in.ClientID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, validation.Violations{"client_id": "not_found"}
	}
	if err != nil {
		return nil, err
	}

	inv := s.build(p, &client, in)

	res, err := s.alloc.Reserve(ctx, client.ID)
	if err != nil {
		return nil, fmt.Errorf("allocate invoice number: %w", err)
	}
	inv.Number = res.Number

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(inv).Error; err != nil {
			return err
		}
		return s.alloc.Commit(ctx, tx, res, inv.ID)
	})
	if err != nil {
		if rerr := s.alloc.Release(context.WithoutCancel(ctx), res); rerr != nil {
			s.log.Warn("failed to release invoice number", zap.String("invoice_number", res.Number), zap.Error(rerr))
		}
		return nil, fmt.Errorf("create invoice: %w", err)
	}

	s.log.Info("invoice created",
		zap.Uint("invoice_id", inv.ID),
		zap.String("invoice_number", inv.Number),
		zap.Bool("recurring", inv.IsTemplate()),
	)
	return inv, nil
}

func (s *InvoiceService) build(p auth.Principal, client *models.Client, in CreateInvoiceInput) *models.Invoice {
	today := s.clock.Now().UTC().Truncate(24 * time.Hour)
	issue := today
	if in.IssueDate != nil {
		issue = in.IssueDate.UTC()
	}
	due := issue.AddDate(0, 0, 7)
	if in.DueDate != nil {
		due = in.DueDate.UTC()
	}
	currency := strings.ToUpper(in.Currency)
	if currency == "" {
		currency = "EUR"
	}
	taxType := in.TaxType
	if taxType == "" {
		taxType = models.TaxExclusive
	}

	inv := &models.Invoice{
		OrganizationID: p.OrganizationID,
		CreatedByID:    p.UserID,
		Reference:      in.Reference,
		ClientID:       client.ID,
		IssueDate:      issue,
		DueDate:        due,
		Status:         models.InvoiceStatusDraft,
		Currency:       currency,
		Discount:       in.Discount,
		TaxType:        taxType,
		Notes:          in.Notes,
		TemplateRef:    in.TemplateRef,
		Attachments:    in.Attachments,
	}
	for i, item := range in.Items {
		unit := item.Unit
		if unit == "" {
			unit = "unit"
		}
		inv.Items = append(inv.Items, models.InvoiceItem{
			Description: item.Description,
			Quantity:    item.Quantity,
			UnitPrice:   item.UnitPrice,
			Unit:        unit,
			VATRate:     item.VATRate,
			Position:    i,
		})
	}
	inv.Amount = inv.ComputeAmount()

	if r := in.Recurring; r != nil {
		start := r.StartDate.UTC()
		next := start
		inv.Recurring = models.Recurring{
			Enabled:     true,
			Frequency:   r.Frequency,
			SpecificDay: r.SpecificDay,
			CustomDays:  r.CustomDays,
			StartDate:   &start,
			NextRunAt:   &next,
			AutoSend:    r.AutoSend,
			AutoCharge:  r.AutoCharge,
		}
		if r.EndDate != nil {
			end := r.EndDate.UTC()
			inv.Recurring.EndDate = &end
		}
	}
	return inv
}

// Get loads an invoice of p's organization with its client and items.
func (s *InvoiceService) Get(ctx context.Context, p auth.Principal, id uint) (*models.Invoice, error) {
	var inv models.Invoice
	err := s.db.WithContext(ctx).
		Where("organization_id = ?", p.OrganizationID).
		Preload("Client").
		Preload("Items", func(db *gorm.DB) *gorm.DB { return db.Order("position, id") }).
		First(&inv, id).Error
	if err != nil {
		return nil, err
	}
	return &inv, nil
}

type ListFilter struct {
	Query     string
	Status    models.InvoiceStatus
	Templates bool
	Page      int
	Limit     int
}

func (s *InvoiceService) List(ctx context.Context, p auth.Principal, f ListFilter) ([]models.Invoice, int64, error) {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.Limit <= 0 || f.Limit > 100 {
		f.Limit = 20
	}

	db := s.db.WithContext(ctx).Model(&models.Invoice{}).Where("organization_id = ?", p.OrganizationID)
	if f.Query != "" {
		like := "%" + strings.ToLower(f.Query) + "%"
		db = db.Where("LOWER(number) LIKE ? OR LOWER(reference) LIKE ?", like, like)
	}
	if f.Status != "" {
		db = db.Where("status = ?", f.Status)
	}
	if f.Templates {
		db = db.Where("recurring_enabled = ?", true)
	}

	var total int64
	if err := db.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var invoices []models.Invoice
	err := db.Preload("Client").
		Order("created_at DESC, id DESC").
		Limit(f.Limit).Offset((f.Page - 1) * f.Limit).
		Find(&invoices).Error
	if err != nil {
		return nil, 0, err
	}
	return invoices, total, nil
}

// Delete soft-deletes a draft invoice or a template. Issued invoices keep
// their numbers forever.
func (s *InvoiceService) Delete(ctx context.Context, p auth.Principal, id uint) error {
	inv, err := s.Get(ctx, p, id)
	if err != nil {
		return err
	}
	if !inv.CanEdit() && !inv.IsTemplate() {
		return ErrNotEditable
	}
	return s.db.WithContext(ctx).Delete(inv).Error
}

// MarkPaid records payment of a pending invoice.
func (s *InvoiceService) MarkPaid(ctx context.Context, p auth.Principal, id uint) (*models.Invoice, error) {
	inv, err := s.Get(ctx, p, id)
	if err != nil {
		return nil, err
	}
	switch {
	case inv.Status == models.InvoiceStatusPaid:
		return nil, ErrAlreadyPaid
	case inv.Status == models.InvoiceStatusCancelled, inv.IsTemplate():
		return nil, ErrNotEditable
	}
	now := s.clock.Now()
	inv.Status = models.InvoiceStatusPaid
	inv.PaidDate = &now
	err = s.db.WithContext(ctx).Model(inv).Updates(map[string]any{
		"status":    inv.Status,
		"paid_date": now,
	}).Error
	if err != nil {
		return nil, err
	}
	return inv, nil
}

// Revenue sums the amounts of paid invoices, per currency.
func (s *InvoiceService) Revenue(ctx context.Context, p auth.Principal) (map[string]decimal.Decimal, error) {
	var invoices []models.Invoice
	err := s.db.WithContext(ctx).
		Select("currency", "amount").
		Where("organization_id = ? AND status = ?", p.OrganizationID, models.InvoiceStatusPaid).
		Find(&invoices).Error
	if err != nil {
		return nil, err
	}
	totals := map[string]decimal.Decimal{}
	for _, inv := range invoices {
		totals[inv.Currency] = totals[inv.Currency].Add(inv.Amount)
	}
	return totals, nil
}
