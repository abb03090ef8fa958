package handlers

import (
	"context"
	"net/http"

	"github.com/diewo77/recurring-invoices/internal/auth"
	"github.com/diewo77/recurring-invoices/internal/httpx"
	"github.com/diewo77/recurring-invoices/internal/models"
	"github.com/diewo77/recurring-invoices/internal/services"
)

// RecurringHandler manages the schedule of template invoices.
type RecurringHandler struct {
	svc *services.InvoiceService
}

func NewRecurringHandler(svc *services.InvoiceService) *RecurringHandler {
	return &RecurringHandler{svc: svc}
}

func (h *RecurringHandler) Schedule(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		httpx.Error(w, err)
		return
	}
	view, err := h.svc.Schedule(r.Context(), principal(r), id, queryInt(r, "n", 5))
	if err != nil {
		httpx.Error(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, view)
}

func (h *RecurringHandler) Pause(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.svc.Pause)
}

func (h *RecurringHandler) Resume(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.svc.Resume)
}

func (h *RecurringHandler) Stop(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.svc.Stop)
}

type transitionFunc func(context.Context, auth.Principal, uint) (*models.Invoice, error)

func (h *RecurringHandler) transition(w http.ResponseWriter, r *http.Request, fn transitionFunc) {
	id, err := pathID(r, "id")
	if err != nil {
		httpx.Error(w, err)
		return
	}
	inv, err := fn(r.Context(), principal(r), id)
	if err != nil {
		httpx.Error(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, inv)
}

func (h *RecurringHandler) Runs(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		httpx.Error(w, err)
		return
	}
	runs, err := h.svc.Runs(r.Context(), principal(r), id, queryInt(r, "limit", 50))
	if err != nil {
		httpx.Error(w, err)
		return
	}
	if runs == nil {
		runs = []models.RecurringRun{}
	}
	httpx.JSON(w, http.StatusOK, runs)
}
