package access

import (
	"net/http"

	"github.com/diewo77/recurring-invoices/internal/httpx"
)

// ErrUnauthorized is returned when the principal may not perform an action.
var ErrUnauthorized = httpx.NewError(http.StatusForbidden, "unauthorized")
