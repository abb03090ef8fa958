package handlers

import (
	"net/http"
	"strings"

	"github.com/diewo77/recurring-invoices/internal/access"
	"github.com/diewo77/recurring-invoices/internal/httpx"
	"github.com/diewo77/recurring-invoices/internal/models"
	"github.com/diewo77/recurring-invoices/internal/validation"
	"gorm.io/gorm"
)

type ClientHandler struct {
	db   *gorm.DB
	gate *access.AuthGate
}

func NewClientHandler(db *gorm.DB, gate *access.AuthGate) *ClientHandler {
	return &ClientHandler{db: db, gate: gate}
}

func (h *ClientHandler) List(w http.ResponseWriter, r *http.Request) {
	p := principal(r)
	query := r.URL.Query().Get("q")
	pg := page[models.Client]{Page: max(queryInt(r, "page", 1), 1), Limit: 20}

	db := h.db.WithContext(r.Context()).Model(&models.Client{}).Where("organization_id = ?", p.OrganizationID)
	if query != "" {
		like := "%" + strings.ToLower(query) + "%"
		db = db.Where("LOWER(name) LIKE ? OR LOWER(company) LIKE ?", like, like)
	}
	if err := db.Count(&pg.Total).Error; err != nil {
		httpx.Error(w, err)
		return
	}
	pg.Items = []models.Client{}
	if err := db.Order("name").Limit(pg.Limit).Offset((pg.Page - 1) * pg.Limit).Find(&pg.Items).Error; err != nil {
		httpx.Error(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, pg)
}

type clientInput struct {
	Name          string `json:"name"`
	Email         string `json:"email"`
	Phone         string `json:"phone"`
	Company       string `json:"company"`
	InvoicePrefix string `json:"invoice_prefix"`
	Address       string `json:"address"`
	City          string `json:"city"`
	PostalCode    string `json:"postal_code"`
	Country       string `json:"country"`
	VATNumber     string `json:"vat_number"`
}

func (in clientInput) validate() error {
	v := validation.Violations{}
	validation.Required("name", in.Name, v)
	validation.Email("email", in.Email, v)
	validation.MaxLength("invoice_prefix", in.InvoicePrefix, 20, v)
	if strings.ContainsAny(in.InvoicePrefix, " -") {
		v["invoice_prefix"] = "invalid_characters"
	}
	return v.Err()
}

func (h *ClientHandler) Create(w http.ResponseWriter, r *http.Request) {
	var in clientInput
	if err := httpx.Decode(r, &in); err != nil {
		httpx.Error(w, err)
		return
	}
	if err := in.validate(); err != nil {
		httpx.Error(w, err)
		return
	}

	client := models.Client{
		OrganizationID: principal(r).OrganizationID,
		Name:           in.Name,
		Email:          in.Email,
		Phone:          in.Phone,
		Company:        in.Company,
		InvoicePrefix:  strings.ToUpper(strings.TrimSpace(in.InvoicePrefix)),
		Address:        in.Address,
		City:           in.City,
		PostalCode:     in.PostalCode,
		Country:        in.Country,
		VATNumber:      in.VATNumber,
	}
	if err := h.db.WithContext(r.Context()).Create(&client).Error; err != nil {
		httpx.Error(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, client)
}

func (h *ClientHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		httpx.Error(w, err)
		return
	}
	var client models.Client
	if err := h.db.WithContext(r.Context()).First(&client, id).Error; err != nil {
		httpx.Error(w, err)
		return
	}
	if err := h.gate.Authorize(r.Context(), access.ActionView, access.ResourceClient, &client); err != nil {
		// Do not reveal clients of other organizations.
		httpx.Error(w, gorm.ErrRecordNotFound)
		return
	}
	httpx.JSON(w, http.StatusOK, client)
}
