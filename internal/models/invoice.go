package models

import (
	"time"

	"github.com/diewo77/recurring-invoices/internal/recurrence"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// InvoiceStatus represents the status of an invoice.
type InvoiceStatus string

const (
	InvoiceStatusDraft     InvoiceStatus = "draft"
	InvoiceStatusPending   InvoiceStatus = "pending"
	InvoiceStatusPaid      InvoiceStatus = "paid"
	InvoiceStatusCancelled InvoiceStatus = "cancelled"
)

// TaxType says whether item prices already include VAT.
type TaxType string

const (
	TaxExclusive TaxType = "exclusive"
	TaxInclusive TaxType = "inclusive"
)

// Invoice is a billing document. An invoice with Recurring.Enabled set is a
// template: the scheduler mints a child invoice from it on every due cycle.
type Invoice struct {
	ID        uint           `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`

	OrganizationID uint `gorm:"index;not null" json:"organization_id"`
	CreatedByID    uint `gorm:"index" json:"created_by_id,omitempty"`

	// Number is globally unique and never changes once assigned.
	Number    string `gorm:"size:50;uniqueIndex;not null" json:"number"`
	Reference string `gorm:"size:100" json:"reference,omitempty"`

	ClientID uint    `gorm:"index;not null" json:"client_id"`
	Client   *Client `gorm:"foreignKey:ClientID" json:"client,omitempty"`

	IssueDate time.Time     `gorm:"not null" json:"issue_date"`
	DueDate   time.Time     `gorm:"not null" json:"due_date"`
	PaidDate  *time.Time    `json:"paid_date,omitempty"`
	Status    InvoiceStatus `gorm:"size:20;default:'draft'" json:"status"`

	Currency    string                         `gorm:"size:3;not null;default:'EUR'" json:"currency"`
	Discount    decimal.Decimal                `gorm:"type:decimal(12,2);not null;default:0" json:"discount"`
	TaxType     TaxType                        `gorm:"size:20;default:'exclusive'" json:"tax_type"`
	Amount      decimal.Decimal                `gorm:"type:decimal(12,2);not null;default:0" json:"amount"`
	Notes       string                         `gorm:"type:text" json:"notes,omitempty"`
	Attachments datatypes.JSONSlice[Attachment] `json:"attachments,omitempty"`
	TemplateRef string                         `gorm:"size:100" json:"template_ref,omitempty"`

	Items []InvoiceItem `gorm:"foreignKey:InvoiceID" json:"items,omitempty"`

	Recurring Recurring `gorm:"embedded;embeddedPrefix:recurring_" json:"recurring"`

	// ParentRecurringID points from a generated invoice back to its template.
	ParentRecurringID *uint `gorm:"index" json:"parent_recurring_id,omitempty"`
}

func (i *Invoice) GetOrganizationID() uint {
	return i.OrganizationID
}

// IsTemplate reports whether the invoice drives a recurring schedule.
func (i *Invoice) IsTemplate() bool {
	return i.Recurring.Enabled
}

// CanEdit returns true if the invoice can still be edited.
func (i *Invoice) CanEdit() bool {
	return i.Status == InvoiceStatusDraft
}

// Subtotal is the sum of line totals before tax.
func (i *Invoice) Subtotal() decimal.Decimal {
	total := decimal.Zero
	for _, item := range i.Items {
		total = total.Add(item.LineTotal())
	}
	return total
}

// TaxTotal is the VAT on all lines. With inclusive pricing the tax is
// extracted from the line totals instead of added on top.
func (i *Invoice) TaxTotal() decimal.Decimal {
	total := decimal.Zero
	for _, item := range i.Items {
		line := item.LineTotal()
		if i.TaxType == TaxInclusive {
			net := line.Div(decimal.NewFromInt(1).Add(item.VATRate))
			total = total.Add(line.Sub(net))
			continue
		}
		total = total.Add(line.Mul(item.VATRate))
	}
	return total.Round(2)
}

// ComputeAmount returns the amount due: subtotal, plus tax when prices are
// tax-exclusive, minus the invoice discount. It never goes below zero.
func (i *Invoice) ComputeAmount() decimal.Decimal {
	amount := i.Subtotal()
	if i.TaxType != TaxInclusive {
		amount = amount.Add(i.TaxTotal())
	}
	amount = amount.Sub(i.Discount)
	if amount.IsNegative() {
		return decimal.Zero
	}
	return amount.Round(2)
}

// InvoiceItem represents a line item on an invoice.
type InvoiceItem struct {
	ID        uint           `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`

	InvoiceID uint `gorm:"index;not null" json:"invoice_id"`

	Description string          `gorm:"size:500;not null" json:"description"`
	Quantity    decimal.Decimal `gorm:"type:decimal(10,3);not null;default:1" json:"quantity"`
	UnitPrice   decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"unit_price"`
	Unit        string          `gorm:"size:50;default:'unit'" json:"unit"`
	VATRate     decimal.Decimal `gorm:"type:decimal(5,4);not null;default:0" json:"vat_rate"`
	Position    int             `gorm:"default:0" json:"position"`
}

func (item *InvoiceItem) LineTotal() decimal.Decimal {
	return item.Quantity.Mul(item.UnitPrice)
}

// Attachment references a stored file. Upload itself happens elsewhere.
type Attachment struct {
	Name string `json:"name"`
	URL  string `json:"url"`
	Size int64  `json:"size,omitempty"`
}

// Recurring holds the schedule state of a template. On generated invoices it is
// the zero value.
type Recurring struct {
	Enabled     bool                 `gorm:"index;default:false" json:"enabled"`
	Frequency   recurrence.Frequency `gorm:"size:32" json:"frequency,omitempty"`
	SpecificDay int                  `gorm:"default:0" json:"specific_day,omitempty"`
	CustomDays  int                  `gorm:"default:0" json:"custom_days,omitempty"`
	StartDate   *time.Time           `json:"start_date,omitempty"`
	NextRunAt   *time.Time           `gorm:"index" json:"next_run_at,omitempty"`
	EndDate     *time.Time           `json:"end_date,omitempty"`
	Paused      bool                 `gorm:"default:false" json:"paused"`
	AutoSend    bool                 `gorm:"default:false" json:"auto_send"`
	AutoCharge  bool                 `gorm:"default:false" json:"auto_charge"`
	LastRunAt   *time.Time           `json:"last_run_at,omitempty"`
	RunCount    int                  `gorm:"default:0" json:"run_count"`
	LastError   string               `gorm:"type:text" json:"last_error,omitempty"`

	// Lease held by the worker currently generating a cycle for this template.
	LockedUntil *time.Time `json:"-"`
	LockOwner   string     `gorm:"size:64" json:"-"`
}

// Schedule extracts the inputs of recurrence.NextRun.
func (r Recurring) Schedule() recurrence.Schedule {
	s := recurrence.Schedule{
		Frequency:   r.Frequency,
		SpecificDay: r.SpecificDay,
		CustomDays:  r.CustomDays,
	}
	if r.NextRunAt != nil {
		s.NextRunAt = *r.NextRunAt
	}
	return s
}
