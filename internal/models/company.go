package models

import (
	"time"

	"gorm.io/gorm"
)

// CompanySettings holds the sender identity an organization prints on its invoices
// and uses when mailing them.
type CompanySettings struct {
	ID        uint           `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`

	OrganizationID uint `gorm:"uniqueIndex;not null" json:"organization_id"`

	Name    string `gorm:"size:255;not null" json:"name"`
	Email   string `gorm:"size:255" json:"email,omitempty"`
	Phone   string `gorm:"size:50" json:"phone,omitempty"`
	Website string `gorm:"size:255" json:"website,omitempty"`

	Address    string `gorm:"size:500" json:"address,omitempty"`
	City       string `gorm:"size:100" json:"city,omitempty"`
	PostalCode string `gorm:"size:20" json:"postal_code,omitempty"`
	Country    string `gorm:"size:100" json:"country,omitempty"`

	VATNumber string `gorm:"size:20" json:"vat_number,omitempty"`
}

func (c *CompanySettings) GetOrganizationID() uint {
	return c.OrganizationID
}

// SenderName is the display name used in outgoing mail, falling back to fallback
// when no company name is configured.
func (c *CompanySettings) SenderName(fallback string) string {
	if c == nil || c.Name == "" {
		return fallback
	}
	return c.Name
}
