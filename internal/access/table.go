package access

import (
	"context"
	"fmt"

	"github.com/diewo77/recurring-invoices/internal/models"
	"gorm.io/gorm"
)

// Table is the role to capability lookup. It is loaded once from the
// profiles table at startup and read-only afterwards.
type Table struct {
	profiles map[string]*StaticProfile
}

// NewTable builds a table from in-memory profiles.
func NewTable(profiles ...*StaticProfile) *Table {
	t := &Table{profiles: make(map[string]*StaticProfile, len(profiles))}
	for _, p := range profiles {
		t.profiles[p.Name()] = p
	}
	return t
}

// LoadTable reads every profile with its permissions.
func LoadTable(ctx context.Context, db *gorm.DB) (*Table, error) {
	var rows []models.Profile
	if err := db.WithContext(ctx).Preload("Permissions").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("access: load profiles: %w", err)
	}
	profiles := make([]*StaticProfile, 0, len(rows))
	for _, row := range rows {
		perms := make([]Permission, 0, len(row.Permissions))
		for _, code := range row.Codes() {
			perms = append(perms, Permission(code))
		}
		profiles = append(profiles, NewStaticProfile(row.ID, row.Name, perms...))
	}
	return NewTable(profiles...), nil
}

// Profile returns the named profile, or nil.
func (t *Table) Profile(role string) Profile {
	if p, ok := t.profiles[role]; ok {
		return p
	}
	return nil
}

// CapabilityOf reports whether role grants perm. Unknown roles grant nothing.
func (t *Table) CapabilityOf(role string, perm Permission) bool {
	p, ok := t.profiles[role]
	return ok && p.HasPermission(perm)
}
