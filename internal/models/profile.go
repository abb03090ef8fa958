package models

import (
	"strings"
	"time"

	"gorm.io/gorm"
)

// Profile is a named role. Users inherit every capability granted to their profile.
type Profile struct {
	ID          uint           `gorm:"primaryKey" json:"id"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
	DeletedAt   gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
	Name        string         `gorm:"uniqueIndex;size:100;not null" json:"name"`
	Description string         `gorm:"size:500" json:"description,omitempty"`
	IsSystem    bool           `gorm:"default:false" json:"is_system"`

	Permissions []Permission `gorm:"many2many:profile_permissions;" json:"permissions,omitempty"`
}

// Codes returns the "resource:action" codes granted by the profile.
func (p *Profile) Codes() []string {
	codes := make([]string, 0, len(p.Permissions))
	for _, perm := range p.Permissions {
		codes = append(codes, perm.Code())
	}
	return codes
}

// Permission grants one action on one resource type, "*" being a wildcard on either side.
type Permission struct {
	ID           uint           `gorm:"primaryKey" json:"id"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
	DeletedAt    gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
	ResourceType string         `gorm:"size:50;not null;index:idx_perm_resource_action" json:"resource_type"`
	Action       string         `gorm:"size:50;not null;index:idx_perm_resource_action" json:"action"`
	Description  string         `gorm:"size:200" json:"description,omitempty"`
}

func (p Permission) Code() string {
	return p.ResourceType + ":" + p.Action
}

// SplitCode is the inverse of Code. ok is false when code has no separator.
func SplitCode(code string) (resource, action string, ok bool) {
	return strings.Cut(code, ":")
}
