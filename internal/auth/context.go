package auth

import "context"

type ctxKey string

const principalCtxKey = ctxKey("principal")

// Principal is the signed-in user and the organization they act for.
type Principal struct {
	UserID         uint
	OrganizationID uint
}

// WithPrincipal stores p in ctx.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalCtxKey, p)
}

// PrincipalFromContext extracts the principal set by Authenticator.Middleware.
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalCtxKey).(Principal)
	return p, ok && p.UserID != 0
}
