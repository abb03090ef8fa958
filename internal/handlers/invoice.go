package handlers

import (
	"net/http"

	"github.com/diewo77/recurring-invoices/internal/httpx"
	"github.com/diewo77/recurring-invoices/internal/models"
	"github.com/diewo77/recurring-invoices/internal/services"
	"github.com/shopspring/decimal"
)

type InvoiceHandler struct {
	svc *services.InvoiceService
}

func NewInvoiceHandler(svc *services.InvoiceService) *InvoiceHandler {
	return &InvoiceHandler{svc: svc}
}

// List supports ?q=, ?status=, ?templates=1 and ?page=.
func (h *InvoiceHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := services.ListFilter{
		Query:     q.Get("q"),
		Status:    models.InvoiceStatus(q.Get("status")),
		Templates: q.Get("templates") == "1" || q.Get("templates") == "true",
		Page:      max(queryInt(r, "page", 1), 1),
		Limit:     queryInt(r, "limit", 20),
	}
	invoices, total, err := h.svc.List(r.Context(), principal(r), f)
	if err != nil {
		httpx.Error(w, err)
		return
	}
	if invoices == nil {
		invoices = []models.Invoice{}
	}
	httpx.JSON(w, http.StatusOK, page[models.Invoice]{Items: invoices, Total: total, Page: f.Page, Limit: f.Limit})
}

func (h *InvoiceHandler) Create(w http.ResponseWriter, r *http.Request) {
	var in services.CreateInvoiceInput
	if err := httpx.Decode(r, &in); err != nil {
		httpx.Error(w, err)
		return
	}
	inv, err := h.svc.Create(r.Context(), principal(r), in)
	if err != nil {
		httpx.Error(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, inv)
}

func (h *InvoiceHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		httpx.Error(w, err)
		return
	}
	inv, err := h.svc.Get(r.Context(), principal(r), id)
	if err != nil {
		httpx.Error(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, inv)
}

func (h *InvoiceHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		httpx.Error(w, err)
		return
	}
	if err := h.svc.Delete(r.Context(), principal(r), id); err != nil {
		httpx.Error(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *InvoiceHandler) MarkPaid(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		httpx.Error(w, err)
		return
	}
	inv, err := h.svc.MarkPaid(r.Context(), principal(r), id)
	if err != nil {
		httpx.Error(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, inv)
}

func (h *InvoiceHandler) Revenue(w http.ResponseWriter, r *http.Request) {
	totals, err := h.svc.Revenue(r.Context(), principal(r))
	if err != nil {
		httpx.Error(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]map[string]decimal.Decimal{"revenue": totals})
}
