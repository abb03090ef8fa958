package auth

import (
	"context"
	"errors"
	"net/http"

	"github.com/diewo77/recurring-invoices/internal/httpx"
	"github.com/diewo77/recurring-invoices/internal/models"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ErrUnknownUser means a session refers to a user that no longer exists.
var ErrUnknownUser = errors.New("auth: unknown user")

// Directory resolves a session's user id to a principal.
type Directory interface {
	Lookup(ctx context.Context, userID uint) (Principal, error)
}

type GormDirectory struct {
	db *gorm.DB
}

func NewGormDirectory(db *gorm.DB) *GormDirectory {
	return &GormDirectory{db: db}
}

func (d *GormDirectory) Lookup(ctx context.Context, userID uint) (Principal, error) {
	var user models.User
	err := d.db.WithContext(ctx).Select("id", "organization_id").First(&user, userID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Principal{}, ErrUnknownUser
	}
	if err != nil {
		return Principal{}, err
	}
	return Principal{UserID: user.ID, OrganizationID: user.OrganizationID}, nil
}

// Authenticator turns session cookies into principals.
type Authenticator struct {
	sessions *Sessions
	dir      Directory
	log      *zap.Logger
}

func NewAuthenticator(sessions *Sessions, dir Directory, log *zap.Logger) *Authenticator {
	return &Authenticator{sessions: sessions, dir: dir, log: log.Named("auth")}
}

// Middleware attaches the principal to the request context when the session
// is valid. Sessions of deleted users are cleared.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		uid, ok := a.sessions.Parse(r)
		if !ok {
			next.ServeHTTP(w, r)
			return
		}
		p, err := a.dir.Lookup(r.Context(), uid)
		switch {
		case errors.Is(err, ErrUnknownUser):
			a.sessions.Clear(w)
		case err != nil:
			a.log.Error("session lookup failed", zap.Uint("user_id", uid), zap.Error(err))
			httpx.JSONError(w, http.StatusInternalServerError, "internal_error", nil)
			return
		default:
			r = r.WithContext(WithPrincipal(r.Context(), p))
		}
		next.ServeHTTP(w, r)
	})
}

// RequireAuth rejects requests without a principal with a JSON 401.
func RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := PrincipalFromContext(r.Context()); !ok {
			httpx.JSONError(w, http.StatusUnauthorized, "unauthorized", nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}
