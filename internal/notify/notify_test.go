package notify

import (
	"context"
	"errors"
	"net/smtp"
	"strings"
	"testing"
	"time"

	"github.com/diewo77/recurring-invoices/internal/config"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func testMailConfig() config.MailConfig {
	return config.MailConfig{
		Driver: config.MailDriverSMTP,
		Host:   "smtp.test",
		Port:   2525,
		From:   "billing@acme.test",
	}
}

func TestSMTPNotifier_Send(t *testing.T) {
	var (
		gotAddr string
		gotTo   []string
		gotMsg  string
	)
	n := NewSMTPNotifier(testMailConfig(), zap.NewNop()).
		WithSendFunc(func(addr string, _ smtp.Auth, from string, to []string, msg []byte) error {
			gotAddr, gotTo, gotMsg = addr, to, string(msg)
			return nil
		})
	n.now = func() time.Time { return time.Date(2024, 11, 1, 0, 0, 0, 0, time.UTC) }

	err := n.Send(context.Background(), Message{
		Email:   "client@globex.test",
		Subject: "Invoice INV-2024-11-001\r\nBcc: evil@test",
		Body:    "Hello\nAmount due: 150.00 EUR",
	})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if gotAddr != "smtp.test:2525" {
		t.Errorf("addr = %q", gotAddr)
	}
	if len(gotTo) != 1 || gotTo[0] != "client@globex.test" {
		t.Errorf("to = %v", gotTo)
	}
	if !strings.Contains(gotMsg, "Subject: Invoice INV-2024-11-001  Bcc: evil@test\r\n") {
		t.Errorf("subject header not sanitized:\n%s", gotMsg)
	}
	if !strings.Contains(gotMsg, "\r\n\r\nHello\r\nAmount due: 150.00 EUR") {
		t.Errorf("unexpected body:\n%s", gotMsg)
	}
}

func TestSMTPNotifier_SendFailureWrapsSentinel(t *testing.T) {
	transport := errors.New("connection refused")
	n := NewSMTPNotifier(testMailConfig(), zap.NewNop()).
		WithSendFunc(func(string, smtp.Auth, string, []string, []byte) error { return transport })

	err := n.Send(context.Background(), Message{Email: "client@globex.test"})
	if !errors.Is(err, ErrDeliveryFailed) {
		t.Fatalf("expected ErrDeliveryFailed, got %v", err)
	}
	if !errors.Is(err, transport) {
		t.Fatalf("expected transport error to be wrapped, got %v", err)
	}
}

func TestNotifiers_RejectEmptyRecipient(t *testing.T) {
	for name, n := range map[string]Notifier{
		"smtp": NewSMTPNotifier(testMailConfig(), zap.NewNop()),
		"log":  NewLogNotifier(zap.NewNop()),
	} {
		if err := n.Send(context.Background(), Message{}); !errors.Is(err, ErrDeliveryFailed) {
			t.Errorf("%s: expected ErrDeliveryFailed, got %v", name, err)
		}
	}
}

func TestLogNotifier(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	n := NewLogNotifier(zap.New(core))

	if err := n.Send(context.Background(), Message{Email: "a@b.test", Subject: "hi", Body: "body"}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	entries := logs.FilterMessage("mail").All()
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	if entries[0].ContextMap()["to"] != "a@b.test" {
		t.Errorf("unexpected fields: %v", entries[0].ContextMap())
	}
}

func TestNew(t *testing.T) {
	n, err := New(config.MailConfig{Driver: config.MailDriverLog}, zap.NewNop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, ok := n.(*LogNotifier); !ok {
		t.Errorf("expected *LogNotifier, got %T", n)
	}
	if _, err := New(config.MailConfig{Driver: "pigeon"}, zap.NewNop()); err == nil {
		t.Error("expected error for unknown driver")
	}
}
