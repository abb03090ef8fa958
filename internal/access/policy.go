package access

import (
	"context"

	"github.com/diewo77/recurring-invoices/internal/auth"
)

// Tenanted is implemented by models that belong to one organization.
type Tenanted interface {
	GetOrganizationID() uint
}

// OrganizationPolicy lets a principal touch only resources of their own
// organization. Resources that are not Tenanted are denied.
type OrganizationPolicy struct{}

func (OrganizationPolicy) Can(_ context.Context, p auth.Principal, _ Action, resource any) bool {
	if resource == nil {
		return true
	}
	t, ok := resource.(Tenanted)
	if !ok {
		return false
	}
	return p.OrganizationID != 0 && t.GetOrganizationID() == p.OrganizationID
}
