package handlers

import (
	"net/http"

	"github.com/diewo77/recurring-invoices/internal/access"
	"github.com/diewo77/recurring-invoices/internal/auth"
	"go.uber.org/fx"
)

type RouterParams struct {
	fx.In

	Auth          *AuthHandler
	Clients       *ClientHandler
	Company       *CompanyHandler
	Invoices      *InvoiceHandler
	Recurring     *RecurringHandler
	Admin         *AdminHandler
	Health        *HealthHandler
	Authenticator *auth.Authenticator
	Gate          *access.AuthGate
}

// Router serves the JSON API. Every request goes through the session
// middleware so handlers can read the principal from the context.
type Router struct {
	mux  *http.ServeMux
	p    RouterParams
	root http.Handler
}

func NewRouter(p RouterParams) *Router {
	rt := &Router{mux: http.NewServeMux(), p: p}
	rt.setupRoutes()
	rt.root = p.Authenticator.Middleware(rt.mux)
	return rt
}

func (rt *Router) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	rt.root.ServeHTTP(w, r)
}

// Handle mounts an extra handler outside the API routes, e.g. /metrics.
func (rt *Router) Handle(pattern string, h http.Handler) {
	rt.mux.Handle(pattern, h)
}

func (rt *Router) protected(resource string, action access.Action, h http.HandlerFunc) http.Handler {
	return auth.RequireAuth(rt.p.Gate.RequirePermission(resource, action)(h))
}

func (rt *Router) setupRoutes() {
	// Public
	ah := rt.p.Auth
	rt.mux.Handle("GET /healthz", rt.p.Health)
	rt.mux.HandleFunc("POST /login", ah.Login)
	rt.mux.HandleFunc("POST /signup", ah.Signup)
	rt.mux.HandleFunc("POST /logout", ah.Logout)

	// Clients
	ch := rt.p.Clients
	rt.mux.Handle("GET /clients", rt.protected(access.ResourceClient, access.ActionList, ch.List))
	rt.mux.Handle("POST /clients", rt.protected(access.ResourceClient, access.ActionCreate, ch.Create))
	rt.mux.Handle("GET /clients/{id}", rt.protected(access.ResourceClient, access.ActionView, ch.Get))

	// Company settings
	co := rt.p.Company
	rt.mux.Handle("GET /company", rt.protected(access.ResourceCompany, access.ActionView, co.Get))
	rt.mux.Handle("POST /company", rt.protected(access.ResourceCompany, access.ActionUpdate, co.Update))

	// Invoices
	ih := rt.p.Invoices
	rt.mux.Handle("GET /invoices", rt.protected(access.ResourceInvoice, access.ActionList, ih.List))
	rt.mux.Handle("POST /invoices", rt.protected(access.ResourceInvoice, access.ActionCreate, ih.Create))
	rt.mux.Handle("GET /invoices/{id}", rt.protected(access.ResourceInvoice, access.ActionView, ih.Get))
	rt.mux.Handle("POST /invoices/{id}/delete", rt.protected(access.ResourceInvoice, access.ActionDelete, ih.Delete))
	rt.mux.Handle("POST /invoices/{id}/pay", rt.protected(access.ResourceInvoice, access.ActionUpdate, ih.MarkPaid))
	rt.mux.Handle("GET /revenue", rt.protected(access.ResourceInvoice, access.ActionList, ih.Revenue))

	// Recurring schedules
	rh := rt.p.Recurring
	rt.mux.Handle("GET /invoices/{id}/recurring", rt.protected(access.ResourceRecurring, access.ActionView, rh.Schedule))
	rt.mux.Handle("GET /invoices/{id}/recurring/runs", rt.protected(access.ResourceRecurring, access.ActionView, rh.Runs))
	rt.mux.Handle("POST /invoices/{id}/recurring/pause", rt.protected(access.ResourceRecurring, access.ActionUpdate, rh.Pause))
	rt.mux.Handle("POST /invoices/{id}/recurring/resume", rt.protected(access.ResourceRecurring, access.ActionUpdate, rh.Resume))
	rt.mux.Handle("POST /invoices/{id}/recurring/stop", rt.protected(access.ResourceRecurring, access.ActionUpdate, rh.Stop))

	// Admin
	adm := rt.p.Admin
	requireAdmin := rt.p.Gate.RequireAdmin()
	rt.mux.Handle("GET /admin/users", auth.RequireAuth(requireAdmin(http.HandlerFunc(adm.ListUsers))))
	rt.mux.Handle("POST /admin/users/{id}/profile", auth.RequireAuth(requireAdmin(http.HandlerFunc(adm.AssignProfile))))
	rt.mux.Handle("POST /admin/scheduler/tick", rt.protected(access.ResourceScheduler, access.ActionRun, adm.Tick))
}
