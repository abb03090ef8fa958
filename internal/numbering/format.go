// Package numbering allocates invoice numbers of the form PREFIX-YYYY-MM-NNN.
//
// Numbers are claimed in the invoice_numbers ledger by insert-if-absent against a
// unique index, so concurrent allocators (in this process or another) never hand
// out the same number. A claim starts as a reservation and is committed in the
// same transaction that persists the invoice carrying the number.
package numbering

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/diewo77/recurring-invoices/internal/models"
)

// Base returns the period part of a number, e.g. "INV-2024-11".
func Base(prefix string, at time.Time) string {
	prefix = strings.ToUpper(strings.TrimSpace(prefix))
	if prefix == "" {
		prefix = models.DefaultInvoicePrefix
	}
	return fmt.Sprintf("%s-%d-%02d", prefix, at.Year(), int(at.Month()))
}

// Format appends the zero-padded sequence to base.
func Format(base string, seq int) string {
	return fmt.Sprintf("%s-%03d", base, seq)
}

// ParseSeq extracts the trailing sequence of a number under base. ok is false
// when number does not belong to base or has no numeric suffix.
func ParseSeq(base, number string) (seq int, ok bool) {
	rest, found := strings.CutPrefix(number, base+"-")
	if !found || rest == "" {
		return 0, false
	}
	n, err := strconv.Atoi(rest)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}
