// Package notify e-mails operators about background events that have no
// caller to report to.
package notify

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"mime"
	"strings"
	"time"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"
	"github.com/google/uuid"
)

// Notifier delivers a short operator message
type Notifier interface {
	Notify(ctx context.Context, subject, body string) error
}

// Nop drops every notification
type Nop struct{}

func (Nop) Notify(ctx context.Context, subject, body string) error { return nil }

// Config contains relay settings
type Config struct {
	Addr     string
	Username string
	Password string
	From     string
	To       []string
}

// Mailer sends notifications through an SMTP relay. STARTTLS is used when
// the relay offers it and PLAIN auth when a username is set.
type Mailer struct {
	cfg    Config
	logger *slog.Logger

	sendMail func(addr string, a sasl.Client, from string, to []string, msg []byte) error
}

// NewMailer creates a relay mailer
func NewMailer(cfg Config, logger *slog.Logger) *Mailer {
	return &Mailer{
		cfg:    cfg,
		logger: logger.With("component", "notify"),
		sendMail: func(addr string, a sasl.Client, from string, to []string, msg []byte) error {
			return smtp.SendMail(addr, a, from, to, bytes.NewReader(msg))
		},
	}
}

// Notify sends one message to every configured recipient
func (m *Mailer) Notify(ctx context.Context, subject, body string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	var auth sasl.Client
	if m.cfg.Username != "" {
		auth = sasl.NewPlainClient("", m.cfg.Username, m.cfg.Password)
	}

	msg := m.buildMessage(subject, body, time.Now())
	if err := m.sendMail(m.cfg.Addr, auth, m.cfg.From, m.cfg.To, msg); err != nil {
		return fmt.Errorf("failed to send notification: %w", err)
	}

	m.logger.Debug("notification sent", "subject", subject, "to", m.cfg.To)
	return nil
}

func (m *Mailer) buildMessage(subject, body string, at time.Time) []byte {
	domain := "localhost"
	if i := strings.LastIndexByte(m.cfg.From, '@'); i >= 0 {
		domain = m.cfg.From[i+1:]
	}

	var b bytes.Buffer
	fmt.Fprintf(&b, "From: %s\r\n", m.cfg.From)
	fmt.Fprintf(&b, "To: %s\r\n", strings.Join(m.cfg.To, ", "))
	fmt.Fprintf(&b, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", "[janus] "+subject))
	fmt.Fprintf(&b, "Date: %s\r\n", at.Format(time.RFC1123Z))
	fmt.Fprintf(&b, "Message-ID: <%s@%s>\r\n", uuid.New().String(), domain)
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=utf-8\r\n")
	b.WriteString("\r\n")
	b.WriteString(strings.ReplaceAll(strings.ReplaceAll(body, "\r\n", "\n"), "\n", "\r\n"))
	b.WriteString("\r\n")
	return b.Bytes()
}

// Async wraps a notifier so callers never wait on the relay. Failures are
// logged.
type Async struct {
	next    Notifier
	timeout time.Duration
	logger  *slog.Logger
}

// NewAsync creates an asynchronous notifier
func NewAsync(next Notifier, timeout time.Duration, logger *slog.Logger) *Async {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Async{next: next, timeout: timeout, logger: logger.With("component", "notify")}
}

func (a *Async) Notify(ctx context.Context, subject, body string) error {
	go func() {
		sendCtx, cancel := context.WithTimeout(context.Background(), a.timeout)
		defer cancel()
		if err := a.next.Notify(sendCtx, subject, body); err != nil {
			a.logger.Warn("notification failed", "subject", subject, "error", err)
		}
	}()
	return nil
}
