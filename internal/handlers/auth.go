package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/diewo77/recurring-invoices/internal/auth"
	"github.com/diewo77/recurring-invoices/internal/httpx"
	"github.com/diewo77/recurring-invoices/internal/models"
	"github.com/diewo77/recurring-invoices/internal/validation"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// signupProfile is granted to the user who creates an organization.
const signupProfile = "admin"

var (
	errBadCredentials = httpx.NewError(http.StatusUnauthorized, "invalid_credentials")
	errEmailTaken     = httpx.NewError(http.StatusConflict, "email_taken")
)

type AuthHandler struct {
	db       *gorm.DB
	sessions *auth.Sessions
	log      *zap.Logger
}

func NewAuthHandler(db *gorm.DB, sessions *auth.Sessions, log *zap.Logger) *AuthHandler {
	return &AuthHandler{db: db, sessions: sessions, log: log.Named("http.auth")}
}

type credentials struct {
	Email        string `json:"email"`
	Password     string `json:"password"`
	Name         string `json:"name,omitempty"`
	Organization string `json:"organization,omitempty"`
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var in credentials
	if err := httpx.Decode(r, &in); err != nil {
		httpx.Error(w, err)
		return
	}

	var user models.User
	err := h.db.WithContext(r.Context()).Where("email = ?", strings.ToLower(strings.TrimSpace(in.Email))).First(&user).Error
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			h.log.Error("login lookup failed", zap.Error(err))
		}
		httpx.Error(w, errBadCredentials)
		return
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(in.Password)); err != nil {
		httpx.Error(w, errBadCredentials)
		return
	}

	h.sessions.Create(w, user.ID)
	httpx.JSON(w, http.StatusOK, user)
}

// Signup creates an organization and its first user, then signs them in.
func (h *AuthHandler) Signup(w http.ResponseWriter, r *http.Request) {
	var in credentials
	if err := httpx.Decode(r, &in); err != nil {
		httpx.Error(w, err)
		return
	}
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))

	v := validation.Violations{}
	validation.Required("email", in.Email, v)
	validation.Email("email", in.Email, v)
	validation.Required("organization", in.Organization, v)
	if len(in.Password) < 8 {
		v["password"] = "too_short"
	}
	if !v.Empty() {
		httpx.Error(w, v)
		return
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(in.Password), bcrypt.DefaultCost)
	if err != nil {
		httpx.Error(w, err)
		return
	}

	var user models.User
	err = h.db.WithContext(r.Context()).Transaction(func(tx *gorm.DB) error {
		var taken int64
		if err := tx.Model(&models.User{}).Where("email = ?", in.Email).Count(&taken).Error; err != nil {
			return err
		}
		if taken > 0 {
			return errEmailTaken
		}
		org := models.Organization{Name: in.Organization, Currency: "EUR"}
		if err := tx.Create(&org).Error; err != nil {
			return err
		}
		var profile models.Profile
		if err := tx.Where("name = ?", signupProfile).First(&profile).Error; err != nil {
			return err
		}
		user = models.User{
			Email:          in.Email,
			Name:           in.Name,
			Password:       string(hashed),
			OrganizationID: org.ID,
			ProfileID:      &profile.ID,
		}
		return tx.Create(&user).Error
	})
	if err != nil {
		if !errors.Is(err, errEmailTaken) {
			h.log.Error("signup failed", zap.Error(err))
		}
		httpx.Error(w, err)
		return
	}

	h.log.Info("organization created", zap.Uint("organization_id", user.OrganizationID), zap.Uint("user_id", user.ID))
	h.sessions.Create(w, user.ID)
	httpx.JSON(w, http.StatusCreated, user)
}

func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	h.sessions.Clear(w)
	w.WriteHeader(http.StatusNoContent)
}
