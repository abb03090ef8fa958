package access

import (
	"context"
	"net/http"

	"github.com/diewo77/recurring-invoices/internal/auth"
	"github.com/diewo77/recurring-invoices/internal/httpx"
)

// AuthGate authorizes the principal carried by a request context.
type AuthGate struct {
	Gate          *Gate[auth.Principal]
	CacheResolver *CachedResolver[auth.Principal]
}

// NewAuthGate wires the gate with organization policies for every tenant resource.
func NewAuthGate(resolver *CachedResolver[auth.Principal]) *AuthGate {
	g := NewGate[auth.Principal](resolver)
	for _, resource := range []string{ResourceInvoice, ResourceRecurring, ResourceClient, ResourceCompany} {
		g.Register(resource, OrganizationPolicy{})
	}
	return &AuthGate{Gate: g, CacheResolver: resolver}
}

// Authorize checks the context principal against action on resourceType and,
// when given, the loaded resource.
func (ag *AuthGate) Authorize(ctx context.Context, action Action, resourceType string, resource any) error {
	p, ok := auth.PrincipalFromContext(ctx)
	if !ok {
		return ErrUnauthorized
	}
	return ag.Gate.Authorize(ctx, p, action, resourceType, resource)
}

func (ag *AuthGate) Can(ctx context.Context, action Action, resourceType string, resource any) bool {
	return ag.Authorize(ctx, action, resourceType, resource) == nil
}

func (ag *AuthGate) CanProfile(ctx context.Context, action Action, resourceType string) bool {
	p, ok := auth.PrincipalFromContext(ctx)
	if !ok {
		return false
	}
	return ag.Gate.CanProfile(ctx, p, action, resourceType)
}

// InvalidateUser clears the cached profile of a principal.
func (ag *AuthGate) InvalidateUser(p auth.Principal) {
	ag.CacheResolver.Invalidate(p)
}

// RequirePermission returns middleware that checks profile permission.
func (ag *AuthGate) RequirePermission(resourceType string, action Action) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := auth.PrincipalFromContext(r.Context()); !ok {
				httpx.JSONError(w, http.StatusUnauthorized, "unauthorized", nil)
				return
			}
			if !ag.CanProfile(r.Context(), action, resourceType) {
				httpx.JSONError(w, http.StatusForbidden, "forbidden", nil)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireAdmin only lets through profiles holding "*:*".
func (ag *AuthGate) RequireAdmin() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, ok := auth.PrincipalFromContext(r.Context())
			if !ok {
				httpx.JSONError(w, http.StatusUnauthorized, "unauthorized", nil)
				return
			}
			profile, err := ag.CacheResolver.Resolve(r.Context(), p)
			if err != nil || profile == nil || !profile.HasPermission(PermissionSuperAdmin) {
				httpx.JSONError(w, http.StatusForbidden, "forbidden", nil)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
