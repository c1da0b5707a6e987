package kafka

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	audit "votegate/pkg/platform/audit"
)

type recorder struct {
	events []audit.Event
}

func (r *recorder) Handle(_ context.Context, e audit.Event) error {
	r.events = append(r.events, e)
	return nil
}

func TestRouter(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ctx := context.Background()

	t.Run("routes by category", func(t *testing.T) {
		security, compliance := &recorder{}, &recorder{}
		r := NewRouter(logger, nil)
		r.Register(audit.CategorySecurity, security)
		r.Register(audit.CategoryCompliance, compliance)

		require.NoError(t, r.Handle(ctx, audit.Event{Category: audit.CategorySecurity, Action: "auto_blacklisted"}))
		require.NoError(t, r.Handle(ctx, audit.Event{Category: audit.CategoryCompliance, Action: "vote_recorded"}))

		require.Len(t, security.events, 1)
		require.Len(t, compliance.events, 1)
		assert.Equal(t, "auto_blacklisted", security.events[0].Action)
	})

	t.Run("unrouted events go to the fallback", func(t *testing.T) {
		fallback := &recorder{}
		r := NewRouter(logger, fallback)
		require.NoError(t, r.Handle(ctx, audit.Event{Category: audit.CategoryOperations, Action: "sms_sent"}))
		assert.Len(t, fallback.events, 1)
	})

	t.Run("unrouted events without fallback are skipped", func(t *testing.T) {
		r := NewRouter(logger, nil)
		assert.NoError(t, r.Handle(ctx, audit.Event{Category: audit.CategoryOperations}))
	})

	t.Run("handler errors propagate", func(t *testing.T) {
		boom := errors.New("boom")
		r := NewRouter(logger, nil)
		r.Register(audit.CategorySecurity, HandlerFunc(func(context.Context, audit.Event) error { return boom }))
		assert.ErrorIs(t, r.Handle(ctx, audit.Event{Category: audit.CategorySecurity}), boom)
	})
}

func TestNewConsumerRequiresBrokers(t *testing.T) {
	_, err := NewConsumer(nil, "votegate.audit", true, slog.Default())
	assert.Error(t, err)
}
