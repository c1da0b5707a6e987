package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"votegate/internal/gate/metrics"
	"votegate/internal/gate/models"
	"votegate/internal/gate/observability"
	"votegate/internal/gate/sms"
	"votegate/internal/platform/config"
	"votegate/pkg/platform/audit"
	"votegate/pkg/platform/sentinel"
	"votegate/pkg/platform/tx"
	"votegate/pkg/requestcontext"
)

// Dispatch results, used as the metrics label.
const (
	ResultSent    = "sent"
	ResultSkipped = "skipped"
	ResultExpired = "expired"
	ResultFailed  = "failed"

	// ResultUnrecorded is an SMS the provider accepted whose SENT state
	// could not be stored. The voter stays CREATED until an operator
	// reconciles it.
	ResultUnrecorded = "unrecorded"
)

// Store is the persistence the dispatcher needs.
type Store interface {
	GetMessage(ctx context.Context, id int64) (*models.Message, error)
	UpdateMessage(ctx context.Context, m *models.Message) error
	GetVoterByMessage(ctx context.Context, messageID int64) (*models.Voter, error)
	UpdateVoter(ctx context.Context, v *models.Voter) error
}

// Dispatcher drains the queue with a fixed pool of workers.
type Dispatcher struct {
	queue          Queue
	store          Store
	serializer     *tx.Serializer
	provider       sms.Provider
	template       string
	serverName     string
	workers        int
	pollInterval   time.Duration
	retryDelay     time.Duration
	logger         *slog.Logger
	auditPublisher observability.AuditPublisher
	metrics        *metrics.Metrics
	now            func() time.Time
}

type Option func(*Dispatcher)

func WithLogger(logger *slog.Logger) Option {
	return func(d *Dispatcher) {
		d.logger = logger
	}
}

func WithAuditPublisher(publisher observability.AuditPublisher) Option {
	return func(d *Dispatcher) {
		d.auditPublisher = publisher
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(d *Dispatcher) {
		d.metrics = m
	}
}

// WithRetryDelay sets how long a job waits after a provider error.
func WithRetryDelay(delay time.Duration) Option {
	return func(d *Dispatcher) {
		if delay > 0 {
			d.retryDelay = delay
		}
	}
}

// WithClock replaces time.Now. Tests use it to step through delays.
func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) {
		d.now = now
	}
}

func New(queue Queue, store Store, serializer *tx.Serializer, provider sms.Provider, cfg config.SMSConfig, opts ...Option) (*Dispatcher, error) {
	if queue == nil {
		return nil, errors.New("sms queue is required")
	}
	if store == nil {
		return nil, errors.New("dispatch store is required")
	}
	if serializer == nil {
		return nil, errors.New("serializer is required")
	}
	if provider == nil {
		return nil, errors.New("sms provider is required")
	}
	d := &Dispatcher{
		queue:        queue,
		store:        store,
		serializer:   serializer,
		provider:     provider,
		template:     cfg.Message,
		serverName:   cfg.ServerName,
		workers:      cfg.Workers,
		pollInterval: cfg.PollInterval,
		retryDelay:   5 * time.Second,
		logger:       slog.Default(),
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.workers < 1 {
		d.workers = 1
	}
	if d.pollInterval <= 0 {
		d.pollInterval = 250 * time.Millisecond
	}
	return d, nil
}

// Run starts the workers and blocks until ctx is cancelled or a worker hits
// a queue error it cannot recover from.
func (d *Dispatcher) Run(ctx context.Context) error {
	d.logger.InfoContext(ctx, "sms dispatcher started",
		"workers", d.workers,
		"provider", d.provider.Name(),
	)
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < d.workers; i++ {
		g.Go(func() error {
			return d.work(ctx)
		})
	}
	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	d.logger.Info("sms dispatcher stopped")
	return err
}

func (d *Dispatcher) work(ctx context.Context) error {
	ticker := time.NewTicker(d.pollInterval)
	defer ticker.Stop()
	for {
		handled, err := d.ProcessNext(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			d.logger.ErrorContext(ctx, "sms dispatch failed", "error", err)
		}
		if handled && err == nil {
			continue
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// ProcessNext handles at most one due job. It reports whether a job was
// taken from the queue.
func (d *Dispatcher) ProcessNext(ctx context.Context) (bool, error) {
	now := d.now()
	job, ok, err := d.queue.Dequeue(ctx, now)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}
	return true, d.handle(requestcontext.WithTime(ctx, now), job)
}

func (d *Dispatcher) handle(ctx context.Context, job models.SMSJob) error {
	now := requestcontext.Now(ctx)
	if job.Expired(now) {
		d.record(ResultExpired)
		d.logger.WarnContext(ctx, "sms job expired before delivery",
			"job_id", job.ID,
			"message_id", job.MessageID,
		)
		return nil
	}

	msg, reason, err := d.deliverable(ctx, job.MessageID)
	if err != nil {
		return err
	}
	if reason != "" {
		d.skip(ctx, job, reason)
		return nil
	}

	body := sms.Render(d.template, d.serverName, job.Token)
	if err := d.provider.Send(ctx, msg.Tlf, body); err != nil {
		d.record(ResultFailed)
		observability.LogAudit(ctx, d.logger, d.auditPublisher, audit.EventSMSFailed,
			"tlf", msg.Tlf,
			"ip", msg.IP,
			"message_id", job.MessageID,
			"error", err.Error(),
		)
		return d.retry(ctx, job, now)
	}

	var skipped string
	err = d.serializer.Run(ctx, func(ctx context.Context) error {
		skipped = ""
		msg, reason, err := d.deliverable(ctx, job.MessageID)
		if err != nil {
			return err
		}
		if reason != "" {
			skipped = reason
			return nil
		}
		v, err := d.store.GetVoterByMessage(ctx, msg.ID)
		if err != nil {
			return fmt.Errorf("load voter: %w", err)
		}
		if err := v.TransitionTo(models.StatusSent, now); err != nil {
			return err
		}
		if err := d.store.UpdateVoter(ctx, v); err != nil {
			return fmt.Errorf("mark voter sent: %w", err)
		}
		msg.Status = models.MessageSent
		msg.Content = sms.Redact(d.template, d.serverName)
		msg.Modified = now
		if err := d.store.UpdateMessage(ctx, msg); err != nil {
			return fmt.Errorf("mark message sent: %w", err)
		}
		return nil
	})
	if err != nil {
		d.record(ResultUnrecorded)
		observability.LogAudit(ctx, d.logger, d.auditPublisher, audit.EventSMSFailed,
			"tlf", msg.Tlf,
			"ip", msg.IP,
			"message_id", job.MessageID,
			"reason", "delivered but not recorded as sent",
			"error", err.Error(),
		)
		return fmt.Errorf("record sms %d as sent: %w", job.MessageID, err)
	}
	if skipped != "" {
		// Delivered, but the registration was superseded while the
		// provider call was in flight.
		d.skip(ctx, job, skipped)
		return nil
	}

	d.record(ResultSent)
	observability.LogAudit(ctx, d.logger, d.auditPublisher, audit.EventSMSSent,
		"tlf", msg.Tlf,
		"ip", msg.IP,
		"message_id", job.MessageID,
		"provider", d.provider.Name(),
	)
	return nil
}

// deliverable loads the message and returns a non-empty reason when it must
// not be sent.
func (d *Dispatcher) deliverable(ctx context.Context, messageID int64) (*models.Message, string, error) {
	msg, err := d.store.GetMessage(ctx, messageID)
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil, "message not found", nil
	}
	if err != nil {
		return nil, "", fmt.Errorf("load message %d: %w", messageID, err)
	}
	if msg.Status != models.MessageQueued {
		return msg, "message is " + string(msg.Status), nil
	}
	v, err := d.store.GetVoterByMessage(ctx, messageID)
	if errors.Is(err, sentinel.ErrNotFound) {
		return msg, "message has no voter", nil
	}
	if err != nil {
		return nil, "", fmt.Errorf("load voter of message %d: %w", messageID, err)
	}
	if !v.IsActive {
		return msg, "voter is inactive", nil
	}
	if v.Status != models.StatusCreated {
		return msg, "voter is " + string(v.Status), nil
	}
	return msg, "", nil
}

func (d *Dispatcher) retry(ctx context.Context, job models.SMSJob, now time.Time) error {
	job.NotBefore = now.Add(d.retryDelay)
	if job.Expired(job.NotBefore) {
		d.logger.WarnContext(ctx, "sms job dropped after provider error",
			"job_id", job.ID,
			"message_id", job.MessageID,
		)
		return nil
	}
	if err := d.queue.Enqueue(ctx, job); err != nil {
		return fmt.Errorf("requeue sms job: %w", err)
	}
	return nil
}

func (d *Dispatcher) skip(ctx context.Context, job models.SMSJob, reason string) {
	d.record(ResultSkipped)
	d.logger.WarnContext(ctx, "sms job skipped",
		"job_id", job.ID,
		"message_id", job.MessageID,
		"reason", reason,
	)
	observability.LogAudit(ctx, d.logger, d.auditPublisher, audit.EventSMSSkipped,
		"message_id", job.MessageID,
		"reason", reason,
	)
}

func (d *Dispatcher) record(result string) {
	if d.metrics != nil {
		d.metrics.IncrementSMS(result)
	}
}
