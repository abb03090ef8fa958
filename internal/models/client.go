package models

import (
	"strings"
	"time"

	"gorm.io/gorm"
)

// DefaultInvoicePrefix is used when a client has no prefix configured.
const DefaultInvoicePrefix = "INV"

// Client is a customer billed by an organization.
type Client struct {
	ID        uint           `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`

	OrganizationID uint `gorm:"index;not null" json:"organization_id"`

	Name    string `gorm:"size:255;not null" json:"name"`
	Email   string `gorm:"size:255" json:"email,omitempty"`
	Phone   string `gorm:"size:50" json:"phone,omitempty"`
	Company string `gorm:"size:255" json:"company,omitempty"`

	// InvoicePrefix is the first segment of every invoice number minted for this client.
	InvoicePrefix string `gorm:"size:20" json:"invoice_prefix,omitempty"`

	Address    string `gorm:"size:500" json:"address,omitempty"`
	City       string `gorm:"size:100" json:"city,omitempty"`
	PostalCode string `gorm:"size:20" json:"postal_code,omitempty"`
	Country    string `gorm:"size:100" json:"country,omitempty"`
	VATNumber  string `gorm:"size:20" json:"vat_number,omitempty"`
}

func (c *Client) GetOrganizationID() uint {
	return c.OrganizationID
}

// NumberPrefix returns the upper-cased invoice prefix, falling back to DefaultInvoicePrefix.
func (c *Client) NumberPrefix() string {
	p := strings.ToUpper(strings.TrimSpace(c.InvoicePrefix))
	if p == "" {
		return DefaultInvoicePrefix
	}
	return p
}
