package recurring

import (
	"time"

	"github.com/diewo77/recurring-invoices/internal/models"
)

// BuildChild materializes the invoice a template produces for the cycle
// scheduled at runAt. Billing content is copied; the child never recurs.
func BuildChild(tpl *models.Invoice, number string, runAt time.Time, dueInDays int) *models.Invoice {
	parentID := tpl.ID
	child := &models.Invoice{
		OrganizationID:    tpl.OrganizationID,
		CreatedByID:       tpl.CreatedByID,
		Number:            number,
		Reference:         tpl.Reference,
		ClientID:          tpl.ClientID,
		IssueDate:         runAt,
		DueDate:           runAt.AddDate(0, 0, dueInDays),
		Status:            models.InvoiceStatusPending,
		Currency:          tpl.Currency,
		Discount:          tpl.Discount,
		TaxType:           tpl.TaxType,
		Amount:            tpl.Amount,
		Notes:             tpl.Notes,
		TemplateRef:       tpl.TemplateRef,
		ParentRecurringID: &parentID,
	}
	if len(tpl.Attachments) > 0 {
		child.Attachments = append([]models.Attachment(nil), tpl.Attachments...)
	}
	if len(tpl.Items) > 0 {
		child.Items = make([]models.InvoiceItem, len(tpl.Items))
		for i, item := range tpl.Items {
			child.Items[i] = models.InvoiceItem{
				Description: item.Description,
				Quantity:    item.Quantity,
				UnitPrice:   item.UnitPrice,
				Unit:        item.Unit,
				VATRate:     item.VATRate,
				Position:    item.Position,
			}
		}
	}
	return child
}
