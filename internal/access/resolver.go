package access

import (
	"context"
	"errors"

	"github.com/diewo77/recurring-invoices/internal/auth"
	"github.com/diewo77/recurring-invoices/internal/models"
	"gorm.io/gorm"
)

// DBProfileResolver finds the profile assigned to a user and answers with the
// capabilities recorded in the Table.
type DBProfileResolver struct {
	db    *gorm.DB
	table *Table
}

func NewDBProfileResolver(db *gorm.DB, table *Table) *DBProfileResolver {
	return &DBProfileResolver{db: db, table: table}
}

// Resolve returns nil when the user has no profile or does not exist.
func (r *DBProfileResolver) Resolve(ctx context.Context, p auth.Principal) (Profile, error) {
	var user models.User
	err := r.db.WithContext(ctx).Preload("Profile").
		Where("organization_id = ?", p.OrganizationID).
		First(&user, p.UserID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if user.Profile == nil {
		return nil, nil
	}
	return r.table.Profile(user.Profile.Name), nil
}
