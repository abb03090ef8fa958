package handlers

import (
	"context"
	"net/http"

	"github.com/diewo77/recurring-invoices/internal/access"
	"github.com/diewo77/recurring-invoices/internal/auth"
	"github.com/diewo77/recurring-invoices/internal/httpx"
	"github.com/diewo77/recurring-invoices/internal/models"
	"github.com/diewo77/recurring-invoices/internal/scheduler"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var errUnknownProfile = httpx.NewError(http.StatusBadRequest, "unknown_profile")

// Ticker runs one scheduler pass.
type Ticker interface {
	Tick(ctx context.Context) (scheduler.Summary, error)
}

// AdminHandler manages the users of the caller's organization and lets an
// operator trigger the scheduler.
type AdminHandler struct {
	db     *gorm.DB
	gate   *access.AuthGate
	ticker Ticker
	log    *zap.Logger
}

func NewAdminHandler(db *gorm.DB, gate *access.AuthGate, ticker Ticker, log *zap.Logger) *AdminHandler {
	return &AdminHandler{db: db, gate: gate, ticker: ticker, log: log.Named("http.admin")}
}

// ListUsers returns the users of the organization with their profile.
func (h *AdminHandler) ListUsers(w http.ResponseWriter, r *http.Request) {
	var users []models.User
	err := h.db.WithContext(r.Context()).
		Preload("Profile").
		Where("organization_id = ?", principal(r).OrganizationID).
		Order("email").
		Find(&users).Error
	if err != nil {
		httpx.Error(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, users)
}

type assignProfileInput struct {
	Profile string `json:"profile"`
}

// AssignProfile gives a user one of the loaded profiles by name.
func (h *AdminHandler) AssignProfile(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		httpx.Error(w, err)
		return
	}
	var in assignProfileInput
	if err := httpx.Decode(r, &in); err != nil {
		httpx.Error(w, err)
		return
	}

	p := principal(r)
	var user models.User
	if err := h.db.WithContext(r.Context()).Where("organization_id = ?", p.OrganizationID).First(&user, id).Error; err != nil {
		httpx.Error(w, err)
		return
	}

	var profile models.Profile
	if err := h.db.WithContext(r.Context()).Where("name = ?", in.Profile).First(&profile).Error; err != nil {
		httpx.Error(w, errUnknownProfile)
		return
	}

	if err := h.db.WithContext(r.Context()).Model(&user).Update("profile_id", profile.ID).Error; err != nil {
		httpx.Error(w, err)
		return
	}
	h.gate.InvalidateUser(auth.Principal{UserID: user.ID, OrganizationID: user.OrganizationID})
	h.log.Info("profile assigned",
		zap.Uint("user_id", user.ID),
		zap.String("profile", profile.Name),
		zap.Uint("by", p.UserID))

	user.ProfileID = &profile.ID
	user.Profile = &profile
	httpx.JSON(w, http.StatusOK, user)
}

// Tick runs a scheduler pass immediately and returns its summary.
func (h *AdminHandler) Tick(w http.ResponseWriter, r *http.Request) {
	summary, err := h.ticker.Tick(r.Context())
	if err != nil {
		httpx.Error(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, summary)
}
