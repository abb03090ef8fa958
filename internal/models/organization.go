package models

import (
	"time"

	"gorm.io/gorm"
)

// Organization is the tenant boundary: every client and invoice belongs to exactly one.
type Organization struct {
	ID        uint           `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`

	Name     string `gorm:"size:255;not null" json:"name"`
	Currency string `gorm:"size:3;default:'EUR'" json:"currency"`

	Users []User `gorm:"foreignKey:OrganizationID" json:"-"`
}
