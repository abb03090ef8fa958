package notify

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/smtp"
	"strings"
	"time"

	"github.com/diewo77/recurring-invoices/internal/config"
	"go.uber.org/zap"
)

// SendFunc matches smtp.SendMail.
type SendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// SMTPNotifier sends mail through an SMTP relay.
type SMTPNotifier struct {
	cfg  config.MailConfig
	auth smtp.Auth
	send SendFunc
	now  func() time.Time
	log  *zap.Logger
}

func NewSMTPNotifier(cfg config.MailConfig, log *zap.Logger) *SMTPNotifier {
	var auth smtp.Auth
	if cfg.Username != "" {
		auth = smtp.PlainAuth("", cfg.Username, cfg.Password, cfg.Host)
	}
	return &SMTPNotifier{
		cfg:  cfg,
		auth: auth,
		send: smtp.SendMail,
		now:  time.Now,
		log:  log.Named("notify.smtp"),
	}
}

// WithSendFunc replaces the transport, mainly for tests.
func (n *SMTPNotifier) WithSendFunc(send SendFunc) *SMTPNotifier {
	n.send = send
	return n
}

func (n *SMTPNotifier) Send(ctx context.Context, msg Message) error {
	if msg.Email == "" {
		return fmt.Errorf("%w: empty recipient", ErrDeliveryFailed)
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrDeliveryFailed, err)
	}

	body := n.render(msg)
	if err := n.send(n.cfg.Addr(), n.auth, n.cfg.From, []string{msg.Email}, body); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrDeliveryFailed, msg.Email, err)
	}
	n.log.Debug("mail sent", zap.String("to", msg.Email), zap.String("subject", msg.Subject))
	return nil
}

func (n *SMTPNotifier) render(msg Message) []byte {
	var b bytes.Buffer
	fmt.Fprintf(&b, "From: %s\r\n", n.cfg.From)
	fmt.Fprintf(&b, "To: %s\r\n", msg.Email)
	fmt.Fprintf(&b, "Subject: %s\r\n", sanitizeHeader(msg.Subject))
	fmt.Fprintf(&b, "Date: %s\r\n", n.now().Format(time.RFC1123Z))
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	b.WriteString("\r\n")
	b.WriteString(strings.ReplaceAll(msg.Body, "\n", "\r\n"))
	return b.Bytes()
}

func sanitizeHeader(v string) string {
	return strings.NewReplacer("\r", " ", "\n", " ").Replace(v)
}

// LogNotifier only logs messages. It is the default driver in development.
type LogNotifier struct {
	log *zap.Logger
}

func NewLogNotifier(log *zap.Logger) *LogNotifier {
	return &LogNotifier{log: log.Named("notify.log")}
}

func (n *LogNotifier) Send(_ context.Context, msg Message) error {
	if msg.Email == "" {
		return fmt.Errorf("%w: empty recipient", ErrDeliveryFailed)
	}
	n.log.Info("mail",
		zap.String("to", msg.Email),
		zap.String("subject", msg.Subject),
		zap.Int("body_bytes", len(msg.Body)),
	)
	return nil
}

// New picks the notifier for cfg.Driver.
func New(cfg config.MailConfig, log *zap.Logger) (Notifier, error) {
	switch cfg.Driver {
	case config.MailDriverSMTP:
		return NewSMTPNotifier(cfg, log), nil
	case config.MailDriverLog, "":
		return NewLogNotifier(log), nil
	default:
		return nil, errors.New("notify: unknown mail driver " + cfg.Driver)
	}
}
