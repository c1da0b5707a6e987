// Package sms delivers rendered token messages. Providers are called after
// the dispatcher has checked the message is still deliverable; a provider
// error leaves the message queued.
package sms

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"votegate/internal/platform/config"
)

// Provider sends one SMS.
type Provider interface {
	Name() string
	Send(ctx context.Context, to, body string) error
}

// New builds the provider selected by cfg.Provider.
func New(cfg config.SMSConfig, logger *slog.Logger) (Provider, error) {
	switch cfg.Provider {
	case "", "console":
		return NewConsole(logger), nil
	case "webhook":
		return NewWebhook(cfg, WithWebhookLogger(logger))
	default:
		return nil, fmt.Errorf("unknown SMS provider %q", cfg.Provider)
	}
}

const redacted = "********"

// Render fills the {token} and {server_name} placeholders of a template.
func Render(template, serverName, token string) string {
	return strings.NewReplacer("{token}", token, "{server_name}", serverName).Replace(template)
}

// Redact renders the template with the token masked, for storage.
func Redact(template, serverName string) string {
	return Render(template, serverName, redacted)
}

// Console logs messages instead of sending them. For development only: the
// log line carries the token.
type Console struct {
	logger *slog.Logger
}

func NewConsole(logger *slog.Logger) *Console {
	if logger == nil {
		logger = slog.Default()
	}
	return &Console{logger: logger}
}

func (c *Console) Name() string { return "console" }

func (c *Console) Send(ctx context.Context, to, body string) error {
	c.logger.InfoContext(ctx, "sending sms",
		"provider", c.Name(),
		"to", to,
		"body", body,
	)
	return nil
}
