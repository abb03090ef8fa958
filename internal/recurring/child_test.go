package recurring

import (
	"strings"
	"testing"
	"time"

	"github.com/diewo77/recurring-invoices/internal/models"
	"github.com/diewo77/recurring-invoices/internal/recurrence"
	"github.com/shopspring/decimal"
)

func TestBuildChild(t *testing.T) {
	runAt := time.Date(2024, 11, 1, 0, 0, 0, 0, time.UTC)
	tpl := &models.Invoice{
		ID:             7,
		OrganizationID: 3,
		ClientID:       9,
		Number:         "INV-2024-10-001",
		Currency:       "EUR",
		Amount:         decimal.NewFromInt(150),
		Attachments:    []models.Attachment{{Name: "terms.pdf"}},
		Items: []models.InvoiceItem{
			{ID: 11, InvoiceID: 7, Description: "Hosting", Quantity: decimal.NewFromInt(1), UnitPrice: decimal.NewFromInt(150)},
		},
		Recurring: models.Recurring{Enabled: true, Frequency: recurrence.Weekly, RunCount: 4},
	}

	child := BuildChild(tpl, "INV-2024-11-002", runAt, 14)

	if child.ID != 0 || child.Number != "INV-2024-11-002" {
		t.Errorf("id=%d number=%q", child.ID, child.Number)
	}
	if child.Recurring != (models.Recurring{}) {
		t.Errorf("child carries recurring state: %+v", child.Recurring)
	}
	if child.ParentRecurringID == nil || *child.ParentRecurringID != 7 {
		t.Errorf("parent = %v", child.ParentRecurringID)
	}
	if !child.DueDate.Equal(runAt.AddDate(0, 0, 14)) {
		t.Errorf("due = %v", child.DueDate)
	}
	if len(child.Items) != 1 || child.Items[0].ID != 0 || child.Items[0].InvoiceID != 0 {
		t.Errorf("items must be fresh copies: %+v", child.Items)
	}

	child.Attachments[0].Name = "changed.pdf"
	if tpl.Attachments[0].Name != "terms.pdf" {
		t.Error("attachments share backing array with template")
	}
}

func TestInvoiceMessage(t *testing.T) {
	inv := &models.Invoice{
		Number:    "INV-2024-11-001",
		IssueDate: time.Date(2024, 11, 1, 0, 0, 0, 0, time.UTC),
		DueDate:   time.Date(2024, 11, 8, 0, 0, 0, 0, time.UTC),
		Amount:    decimal.RequireFromString("144.5"),
		Currency:  "EUR",
	}
	msg := InvoiceMessage(&models.Client{Name: "Globex", Email: "ap@globex.test"}, "Acme", inv)
	if msg.Email != "ap@globex.test" || msg.Subject != "Invoice INV-2024-11-001 from Acme" {
		t.Errorf("unexpected message header: %+v", msg)
	}
	if want := "Amount due: 144.50 EUR"; !strings.Contains(msg.Body, want) {
		t.Errorf("body missing %q: %s", want, msg.Body)
	}
}
