//go:build integration

package kafka

import (
	"context"
	"encoding/json"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twmb/franz-go/pkg/kgo"

	audit "votegate/pkg/platform/audit"
	"votegate/pkg/testutil/containers"
)

func TestSinkProducesEvents(t *testing.T) {
	broker := containers.GetManager().GetRedpanda(t).Broker
	topic := "audit-" + uuid.NewString()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	sink, err := NewSink([]string{broker}, topic)
	require.NoError(t, err)
	defer sink.Close()

	require.NoError(t, sink.EnsureTopic(ctx, 1, 1))
	require.NoError(t, sink.EnsureTopic(ctx, 1, 1), "existing topic is not an error")

	sent := audit.Event{
		ID:        uuid.New(),
		Category:  audit.CategorySecurity,
		Timestamp: time.Now().UTC().Truncate(time.Millisecond),
		Action:    string(audit.EventAutoBlacklisted),
		Subject:   "+34600000000",
		IP:        "1.2.3.4",
	}
	require.NoError(t, sink.Write(ctx, []audit.Event{sent}))

	consumer, err := kgo.NewClient(
		kgo.SeedBrokers(broker),
		kgo.ConsumeTopics(topic),
		kgo.ConsumeResetOffset(kgo.NewOffset().AtStart()),
	)
	require.NoError(t, err)
	defer consumer.Close()

	fetches := consumer.PollFetches(ctx)
	require.NoError(t, fetches.Err())
	records := fetches.Records()
	require.Len(t, records, 1)

	assert.Equal(t, "security", string(records[0].Key))
	var got audit.Event
	require.NoError(t, json.Unmarshal(records[0].Value, &got))
	assert.Equal(t, sent.ID, got.ID)
	assert.Equal(t, sent.Action, got.Action)
	assert.Equal(t, sent.Subject, got.Subject)
	assert.True(t, sent.Timestamp.Equal(got.Timestamp))
}

func TestConsumerRoutesEventsByCategory(t *testing.T) {
	broker := containers.GetManager().GetRedpanda(t).Broker
	topic := "audit-" + uuid.NewString()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	sink, err := NewSink([]string{broker}, topic)
	require.NoError(t, err)
	defer sink.Close()
	require.NoError(t, sink.EnsureTopic(ctx, 1, 1))
	require.NoError(t, sink.Write(ctx, []audit.Event{
		{ID: uuid.New(), Category: audit.CategorySecurity, Action: string(audit.EventAutoBlacklisted)},
		{ID: uuid.New(), Category: audit.CategoryOperations, Action: string(audit.EventSMSSent)},
		{ID: uuid.New(), Category: audit.CategorySecurity, Action: string(audit.EventColorListAdded)},
	}))

	consumer, err := NewConsumer([]string{broker}, topic, true, slog.Default())
	require.NoError(t, err)
	defer consumer.Close()

	var got []string
	runCtx, stop := context.WithCancel(ctx)
	router := NewRouter(slog.Default(), nil)
	router.Register(audit.CategorySecurity, HandlerFunc(func(_ context.Context, e audit.Event) error {
		got = append(got, e.Action)
		if len(got) == 2 {
			stop()
		}
		return nil
	}))

	require.NoError(t, consumer.Run(runCtx, router))
	assert.Equal(t, []string{string(audit.EventAutoBlacklisted), string(audit.EventColorListAdded)}, got)
}
