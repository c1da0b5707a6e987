package tx

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"
	"time"

	"github.com/lib/pq"

	dErrors "votegate/pkg/domain-errors"
	"votegate/pkg/platform/sentinel"
)

// ErrSerialization marks a conflict between concurrent serializable
// transactions. Non-SQL transactors return it to request a retry.
var ErrSerialization = errors.New("serialization failure")

const (
	pqSerializationFailure = "40001"
	pqDeadlockDetected     = "40P01"
)

// IsSerializationFailure reports whether err is a retryable transaction conflict.
func IsSerializationFailure(err error) bool {
	if errors.Is(err, ErrSerialization) {
		return true
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == pqSerializationFailure || pqErr.Code == pqDeadlockDetected
	}
	return false
}

// Handle is an open transaction driven by the Serializer.
type Handle interface {
	Commit() error
	Rollback() error
}

// Beginner opens a transaction at serializable isolation and returns a
// context carrying it.
type Beginner interface {
	BeginSerializable(ctx context.Context) (context.Context, Handle, error)
}

// SQLBeginner opens serializable transactions on a *sql.DB. Isolation is a
// per-transaction option, so pooled connections keep their default level.
type SQLBeginner struct {
	DB *sql.DB
}

func (b SQLBeginner) BeginSerializable(ctx context.Context) (context.Context, Handle, error) {
	sqlTx, err := b.DB.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return ctx, nil, fmt.Errorf("begin serializable transaction: %w", err)
	}
	return WithTx(ctx, sqlTx), sqlTx, nil
}

// Backoff computes base^(retry+1) units scaled by a U(0.5, 1.5) jitter.
type Backoff struct {
	Base float64
	Unit time.Duration
	Max  time.Duration
	rand func() float64
}

// DefaultBackoff gives 25ms, 125ms, 625ms... capped at two seconds.
func DefaultBackoff() Backoff {
	return Backoff{Base: 5, Unit: time.Millisecond, Max: 2 * time.Second}
}

// Delay returns the wait before the given retry (1-based).
func (b Backoff) Delay(retry int) time.Duration {
	r := b.rand
	if r == nil {
		r = rand.Float64
	}
	scaled := math.Pow(b.Base, float64(retry+1)) * (r() + 0.5) * float64(b.Unit)
	if b.Max > 0 && scaled > float64(b.Max) {
		return b.Max
	}
	return time.Duration(scaled)
}

// Serializer runs critical sections in serializable transactions and retries
// them on conflicts.
type Serializer struct {
	beginner   Beginner
	maxRetries int
	backoff    Backoff
	sleep      func(ctx context.Context, d time.Duration) error
	onRetry    func(retry int, err error)
	logger     *slog.Logger
}

type Option func(*Serializer)

func WithMaxRetries(n int) Option {
	return func(s *Serializer) {
		if n >= 0 {
			s.maxRetries = n
		}
	}
}

func WithBackoff(b Backoff) Option {
	return func(s *Serializer) {
		s.backoff = b
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Serializer) {
		s.logger = logger
	}
}

// WithRetryHook is called before each retry sleep, for metrics.
func WithRetryHook(fn func(retry int, err error)) Option {
	return func(s *Serializer) {
		s.onRetry = fn
	}
}

func NewSerializer(beginner Beginner, opts ...Option) *Serializer {
	s := &Serializer{
		beginner:   beginner,
		maxRetries: 5,
		backoff:    DefaultBackoff(),
		sleep:      sleepContext,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run executes fn inside a serializable transaction. fn must be idempotent
// up to its writes: a conflicting attempt is rolled back and fn runs again.
// After maxRetries retries the last conflict surfaces as CodeConflict.
// Returning an error from fn rolls the attempt back; policy outcomes that
// must still persist writes should be recorded by fn and returned as nil.
func (s *Serializer) Run(ctx context.Context, fn func(ctx context.Context) error) error {
	var lastErr error
	for retry := 0; ; retry++ {
		err := s.attempt(ctx, fn)
		if err == nil {
			return nil
		}
		if !IsSerializationFailure(err) {
			return err
		}
		lastErr = err
		if retry >= s.maxRetries {
			break
		}

		if s.onRetry != nil {
			s.onRetry(retry+1, err)
		}
		delay := s.backoff.Delay(retry + 1)
		if s.logger != nil {
			s.logger.DebugContext(ctx, "serialization conflict, retrying",
				"retry", retry+1,
				"delay", delay,
				"error", err,
			)
		}
		if err := s.sleep(ctx, delay); err != nil {
			return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction retry aborted")
		}
	}

	if s.logger != nil {
		s.logger.WarnContext(ctx, "serializable transaction retries exhausted",
			"retries", s.maxRetries,
			"error", lastErr,
		)
	}
	return dErrors.Wrap(fmt.Errorf("%w: %w", sentinel.ErrConflict, lastErr),
		dErrors.CodeConflict, "serializable transaction retries exhausted")
}

func (s *Serializer) attempt(ctx context.Context, fn func(ctx context.Context) error) error {
	txCtx, handle, err := s.beginner.BeginSerializable(ctx)
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			_ = handle.Rollback()
		}
	}()

	if err := fn(txCtx); err != nil {
		return err
	}
	if err := handle.Commit(); err != nil {
		return fmt.Errorf("commit serializable transaction: %w", err)
	}
	committed = true
	return nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
