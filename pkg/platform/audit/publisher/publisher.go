// Package publisher delivers audit events to a Sink.
//
// In sync mode Emit writes straight through. With WithAsyncBuffer, Emit only
// enqueues into a bounded ring buffer and a background goroutine flushes
// batches to the sink; when the buffer is full the oldest event is dropped so
// request paths never block on the sink. Close drains what is left.
package publisher

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	audit "votegate/pkg/platform/audit"
)

// ErrClosed is returned by Emit after Close.
var ErrClosed = errors.New("audit publisher closed")

type Publisher struct {
	sink          audit.Sink
	logger        *slog.Logger
	sampler       *Sampler
	buffer        *ringBuffer
	batchSize     int
	flushInterval time.Duration
	writeTimeout  time.Duration

	mu      sync.RWMutex
	closed  bool
	wake    chan struct{}
	done    chan struct{}
	stopped chan struct{}
}

type Option func(*Publisher)

// WithAsyncBuffer enables asynchronous delivery through a buffer of n events.
func WithAsyncBuffer(n int) Option {
	return func(p *Publisher) {
		p.buffer = newRingBuffer(n)
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(p *Publisher) {
		p.logger = logger
	}
}

// WithSampler samples operations events. Other categories are always kept.
func WithSampler(s *Sampler) Option {
	return func(p *Publisher) {
		p.sampler = s
	}
}

func WithBatchSize(n int) Option {
	return func(p *Publisher) {
		if n > 0 {
			p.batchSize = n
		}
	}
}

func WithFlushInterval(d time.Duration) Option {
	return func(p *Publisher) {
		if d > 0 {
			p.flushInterval = d
		}
	}
}

func NewPublisher(sink audit.Sink, opts ...Option) *Publisher {
	p := &Publisher{
		sink:          sink,
		batchSize:     100,
		flushInterval: time.Second,
		writeTimeout:  5 * time.Second,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}
	if p.buffer != nil {
		p.wake = make(chan struct{}, 1)
		p.done = make(chan struct{})
		p.stopped = make(chan struct{})
		go p.run()
	}
	return p
}

// Emit stamps the event and hands it to the sink. The ID, timestamp and
// category are filled in when missing.
func (p *Publisher) Emit(ctx context.Context, event audit.Event) error {
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	if event.Category == "" {
		event.Category = audit.AuditEvent(event.Action).Category()
	}
	if p.sampler != nil && event.Category == audit.CategoryOperations && !p.sampler.Keep(event.Action) {
		return nil
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrClosed
	}

	if p.buffer == nil {
		return p.sink.Write(ctx, []audit.Event{event})
	}
	if p.buffer.enqueue(event) {
		p.logger.WarnContext(ctx, "audit buffer full, dropped oldest event",
			"dropped_total", p.buffer.droppedCount(),
		)
	}
	if p.buffer.len() >= p.batchSize {
		select {
		case p.wake <- struct{}{}:
		default:
		}
	}
	return nil
}

// Dropped is the number of events lost to buffer overflow.
func (p *Publisher) Dropped() int64 {
	if p.buffer == nil {
		return 0
	}
	return p.buffer.droppedCount()
}

// Close stops accepting events and flushes everything still buffered.
func (p *Publisher) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.mu.Unlock()

	if p.buffer != nil {
		close(p.done)
		<-p.stopped
	}
}

func (p *Publisher) run() {
	defer close(p.stopped)
	ticker := time.NewTicker(p.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.done:
			p.flush()
			return
		case <-ticker.C:
			p.flush()
		case <-p.wake:
			p.flush()
		}
	}
}

func (p *Publisher) flush() {
	for {
		batch := p.buffer.dequeueBatch(p.batchSize)
		if len(batch) == 0 {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), p.writeTimeout)
		err := p.sink.Write(ctx, batch)
		cancel()
		if err != nil {
			p.logger.Error("failed to write audit batch",
				"error", err,
				"events", len(batch),
			)
		}
	}
}
