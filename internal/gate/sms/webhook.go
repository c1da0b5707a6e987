package sms

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"votegate/internal/platform/config"
	"votegate/pkg/platform/circuit"
	"votegate/pkg/platform/sentinel"
)

// ErrCircuitOpen is returned without calling the endpoint while the breaker
// is open and no probe is due.
var ErrCircuitOpen = fmt.Errorf("sms webhook circuit open: %w", sentinel.ErrUnavailable)

type webhookPayload struct {
	To     string `json:"to"`
	Body   string `json:"body"`
	Sender string `json:"sender"`
}

// Webhook POSTs {to, body, sender} as JSON to a relay that speaks the
// vendor protocol.
type Webhook struct {
	url           string
	token         string
	sender        string
	client        *http.Client
	breaker       *circuit.Breaker
	probeInterval time.Duration
	logger        *slog.Logger

	mu        sync.Mutex
	lastProbe time.Time
	now       func() time.Time
}

type WebhookOption func(*Webhook)

func WithWebhookLogger(logger *slog.Logger) WebhookOption {
	return func(w *Webhook) {
		if logger != nil {
			w.logger = logger
		}
	}
}

func WithHTTPClient(c *http.Client) WebhookOption {
	return func(w *Webhook) {
		w.client = c
	}
}

// WithProbeInterval sets how often one request is let through while the
// breaker is open.
func WithProbeInterval(d time.Duration) WebhookOption {
	return func(w *Webhook) {
		w.probeInterval = d
	}
}

func NewWebhook(cfg config.SMSConfig, opts ...WebhookOption) (*Webhook, error) {
	if cfg.WebhookURL == "" {
		return nil, errors.New("sms webhook URL is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	w := &Webhook{
		url:    cfg.WebhookURL,
		token:  cfg.WebhookToken,
		sender: cfg.Sender,
		client: &http.Client{Timeout: timeout},
		breaker: circuit.New("sms-webhook",
			circuit.WithFailureThreshold(cfg.BreakerTrips),
			circuit.WithSuccessThreshold(cfg.BreakerResets),
		),
		probeInterval: 5 * time.Second,
		logger:        slog.Default(),
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

func (w *Webhook) Name() string { return "webhook" }

// Send delivers one message. Failures feed the breaker; while it is open only
// periodic probes reach the endpoint.
func (w *Webhook) Send(ctx context.Context, to, body string) error {
	if w.breaker.IsOpen() && !w.probeDue() {
		return ErrCircuitOpen
	}

	err := w.post(ctx, to, body)
	if err != nil {
		if _, change := w.breaker.RecordFailure(); change.Opened {
			w.mu.Lock()
			w.lastProbe = w.now()
			w.mu.Unlock()
			w.logger.WarnContext(ctx, "sms webhook circuit opened", "error", err)
		}
		return err
	}
	if _, change := w.breaker.RecordSuccess(); change.Closed {
		w.logger.InfoContext(ctx, "sms webhook circuit closed")
	}
	return nil
}

func (w *Webhook) probeDue() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	now := w.now()
	if now.Sub(w.lastProbe) < w.probeInterval {
		return false
	}
	w.lastProbe = now
	return true
}

func (w *Webhook) post(ctx context.Context, to, body string) error {
	payload, err := json.Marshal(webhookPayload{To: to, Body: body, Sender: w.sender})
	if err != nil {
		return fmt.Errorf("marshal sms payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build sms request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if w.token != "" {
		req.Header.Set("Authorization", "Bearer "+w.token)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("send sms: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("sms webhook returned status %d", resp.StatusCode)
	}
	return nil
}
