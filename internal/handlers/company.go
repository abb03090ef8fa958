package handlers

import (
	"errors"
	"net/http"

	"github.com/diewo77/recurring-invoices/internal/httpx"
	"github.com/diewo77/recurring-invoices/internal/models"
	"github.com/diewo77/recurring-invoices/internal/validation"
	"gorm.io/gorm"
)

type CompanyHandler struct {
	db *gorm.DB
}

func NewCompanyHandler(db *gorm.DB) *CompanyHandler {
	return &CompanyHandler{db: db}
}

func (h *CompanyHandler) load(r *http.Request) (*models.CompanySettings, error) {
	orgID := principal(r).OrganizationID
	var settings models.CompanySettings
	err := h.db.WithContext(r.Context()).Where("organization_id = ?", orgID).First(&settings).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &models.CompanySettings{OrganizationID: orgID}, nil
	}
	if err != nil {
		return nil, err
	}
	return &settings, nil
}

// Get returns the company settings, or empty ones when none are saved yet.
func (h *CompanyHandler) Get(w http.ResponseWriter, r *http.Request) {
	settings, err := h.load(r)
	if err != nil {
		httpx.Error(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, settings)
}

type companyInput struct {
	Name       string `json:"name"`
	Email      string `json:"email"`
	Phone      string `json:"phone"`
	Website    string `json:"website"`
	Address    string `json:"address"`
	City       string `json:"city"`
	PostalCode string `json:"postal_code"`
	Country    string `json:"country"`
	VATNumber  string `json:"vat_number"`
}

// Update saves the company settings. The name is used as the sender of
// invoice emails.
func (h *CompanyHandler) Update(w http.ResponseWriter, r *http.Request) {
	var in companyInput
	if err := httpx.Decode(r, &in); err != nil {
		httpx.Error(w, err)
		return
	}
	v := validation.Violations{}
	validation.Required("name", in.Name, v)
	validation.Email("email", in.Email, v)
	if !v.Empty() {
		httpx.Error(w, v)
		return
	}

	settings, err := h.load(r)
	if err != nil {
		httpx.Error(w, err)
		return
	}
	settings.Name = in.Name
	settings.Email = in.Email
	settings.Phone = in.Phone
	settings.Website = in.Website
	settings.Address = in.Address
	settings.City = in.City
	settings.PostalCode = in.PostalCode
	settings.Country = in.Country
	settings.VATNumber = in.VATNumber

	if err := h.db.WithContext(r.Context()).Save(settings).Error; err != nil {
		httpx.Error(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, settings)
}
