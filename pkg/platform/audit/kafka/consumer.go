package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/twmb/franz-go/pkg/kgo"

	audit "votegate/pkg/platform/audit"
)

// Handler processes one decoded audit event.
type Handler interface {
	Handle(ctx context.Context, event audit.Event) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, event audit.Event) error

func (f HandlerFunc) Handle(ctx context.Context, event audit.Event) error {
	return f(ctx, event)
}

// Router dispatches events to category-specific handlers.
type Router struct {
	handlers map[audit.EventCategory]Handler
	fallback Handler
	logger   *slog.Logger
}

// NewRouter creates a category router with an optional fallback handler.
func NewRouter(logger *slog.Logger, fallback Handler) *Router {
	return &Router{
		handlers: make(map[audit.EventCategory]Handler),
		fallback: fallback,
		logger:   logger,
	}
}

// Register adds a handler for a category.
func (r *Router) Register(category audit.EventCategory, handler Handler) {
	r.handlers[category] = handler
}

// Handle routes the event to its category handler.
func (r *Router) Handle(ctx context.Context, event audit.Event) error {
	handler, ok := r.handlers[event.Category]
	if !ok {
		if r.fallback != nil {
			return r.fallback.Handle(ctx, event)
		}
		r.logger.DebugContext(ctx, "no handler for audit category, skipping event",
			"category", string(event.Category),
			"action", event.Action,
		)
		return nil
	}
	return handler.Handle(ctx, event)
}

// Consumer reads audit events back from the topic the Sink produces to.
type Consumer struct {
	client *kgo.Client
	logger *slog.Logger
}

// NewConsumer joins no group; it reads every partition from the start or
// from the current end of the topic.
func NewConsumer(brokers []string, topic string, fromStart bool, logger *slog.Logger) (*Consumer, error) {
	if len(brokers) == 0 {
		return nil, errors.New("kafka consumer: no brokers configured")
	}
	offset := kgo.NewOffset().AtEnd()
	if fromStart {
		offset = kgo.NewOffset().AtStart()
	}
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.ConsumeTopics(topic),
		kgo.ConsumeResetOffset(offset),
	)
	if err != nil {
		return nil, fmt.Errorf("create kafka client: %w", err)
	}
	return &Consumer{client: client, logger: logger}, nil
}

// Run polls until ctx is cancelled or the handler fails. Records that do
// not decode are logged and skipped.
func (c *Consumer) Run(ctx context.Context, handler Handler) error {
	for {
		fetches := c.client.PollFetches(ctx)
		if ctx.Err() != nil || fetches.IsClientClosed() {
			return nil
		}
		fetches.EachError(func(topic string, partition int32, err error) {
			c.logger.WarnContext(ctx, "audit fetch failed",
				"topic", topic,
				"partition", partition,
				"error", err,
			)
		})

		var handleErr error
		fetches.EachRecord(func(r *kgo.Record) {
			if handleErr != nil {
				return
			}
			var event audit.Event
			if err := json.Unmarshal(r.Value, &event); err != nil {
				c.logger.WarnContext(ctx, "failed to decode audit record",
					"partition", r.Partition,
					"offset", r.Offset,
					"error", err,
				)
				return
			}
			handleErr = handler.Handle(ctx, event)
		})
		if handleErr != nil {
			return handleErr
		}
	}
}

func (c *Consumer) Close() {
	c.client.Close()
}
