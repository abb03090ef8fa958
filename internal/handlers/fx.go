package handlers

import (
	"github.com/diewo77/recurring-invoices/internal/scheduler"
	"go.uber.org/fx"
)

var Module = fx.Module("handlers",
	fx.Provide(
		NewAuthHandler,
		NewClientHandler,
		NewCompanyHandler,
		NewInvoiceHandler,
		NewRecurringHandler,
		NewHealthHandler,
		func(s *scheduler.Scheduler) Ticker { return s },
		NewAdminHandler,
		NewRouter,
	),
)
