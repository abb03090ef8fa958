// Package notify delivers generated invoices to clients.
package notify

import (
	"context"
	"errors"
)

// ErrDeliveryFailed wraps every transport failure reported by a Notifier.
var ErrDeliveryFailed = errors.New("notify: delivery failed")

// Message is a plain-text email.
type Message struct {
	Email   string
	Subject string
	Body    string
}

// Notifier sends a message. Implementations must be safe for concurrent use.
type Notifier interface {
	Send(ctx context.Context, msg Message) error
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, msg Message) error

func (f NotifierFunc) Send(ctx context.Context, msg Message) error {
	return f(ctx, msg)
}
