package services

import (
	"github.com/diewo77/recurring-invoices/internal/numbering"
	"go.uber.org/fx"
)

var Module = fx.Module("services",
	fx.Provide(
		func(a *numbering.Allocator) NumberAllocator { return a },
		NewInvoiceService,
	),
)
