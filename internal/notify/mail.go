// Package notify holds the mail and push transports and the message text
// rendered for each notification category.
package notify

import (
	"context"
	"fmt"
	"log/slog"
)

// Mailer delivers one rendered email.
type Mailer interface {
	Send(ctx context.Context, to, subject, body string) error
}

// MailerFunc adapts a function to Mailer.
type MailerFunc func(ctx context.Context, to, subject, body string) error

func (f MailerFunc) Send(ctx context.Context, to, subject, body string) error {
	return f(ctx, to, subject, body)
}

// TransportError wraps a delivery failure from a mail or push channel.
type TransportError struct {
	Channel string
	Err     error
}

func (e TransportError) Error() string {
	return fmt.Sprintf("%s transport: %v", e.Channel, e.Err)
}

func (e TransportError) Unwrap() error { return e.Err }

// LogMailer writes messages to the log instead of sending them.
type LogMailer struct {
	Logger *slog.Logger
}

func (m LogMailer) Send(ctx context.Context, to, subject, body string) error {
	logger := m.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.InfoContext(ctx, "mail not sent (log transport)", "to", to, "subject", subject, "body_bytes", len(body))
	return nil
}
