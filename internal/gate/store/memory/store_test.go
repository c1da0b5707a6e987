package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"votegate/internal/gate/models"
	"votegate/internal/gate/ports"
	"votegate/pkg/platform/sentinel"
	"votegate/pkg/platform/tx"
)

var now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newVoter(tlf string, status models.VoterStatus, created time.Time) *models.Voter {
	v := models.NewRequestedVoter(1, models.Identity{Tlf: tlf}, "10.0.0.1", "en", created)
	v.Status = status
	return v
}

func TestRollbackRestoresSnapshot(t *testing.T) {
	ctx := context.Background()
	s := New()
	kept := newVoter("+34600000001", models.StatusSent, now)
	require.NoError(t, s.CreateVoter(ctx, kept))

	txCtx, h, err := s.BeginSerializable(ctx)
	require.NoError(t, err)
	require.NoError(t, s.CreateVoter(txCtx, newVoter("+34600000002", models.StatusCreated, now)))
	kept.Deactivate(now)
	require.NoError(t, s.UpdateVoter(txCtx, kept))
	require.NoError(t, h.Rollback())
	require.NoError(t, h.Rollback(), "rollback is idempotent")

	got, err := s.GetVoter(ctx, kept.ID)
	require.NoError(t, err)
	assert.True(t, got.IsActive)
	_, err = s.GetVoter(ctx, kept.ID+1)
	assert.ErrorIs(t, err, sentinel.ErrNotFound)
}

func TestFailNextCommitsDrivesSerializerRetry(t *testing.T) {
	ctx := context.Background()
	s := New()
	s.FailNextCommits(2)
	ser := tx.NewSerializer(s, tx.WithBackoff(tx.Backoff{Base: 1, Unit: time.Microsecond}))

	calls := 0
	err := ser.Run(ctx, func(ctx context.Context) error {
		calls++
		return s.CreateMessage(ctx, &models.Message{Tlf: "+34600000001", Status: models.MessageQueued, Created: now})
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)

	msgs, err := s.ListMessages(ctx, ports.MessageQuery{Tlf: "+34600000001"})
	require.NoError(t, err)
	assert.Len(t, msgs, 1, "failed attempts were rolled back")
}

func TestErrorInsideRunRollsBack(t *testing.T) {
	ctx := context.Background()
	s := New()
	ser := tx.NewSerializer(s)
	boom := errors.New("boom")

	err := ser.Run(ctx, func(ctx context.Context) error {
		require.NoError(t, s.AddColorList(ctx, &models.ColorListEntry{Dimension: models.DimensionIP, Action: models.ActionBlacklist, Value: "10.0.0.1"}))
		return boom
	})
	require.ErrorIs(t, err, boom)

	entries, err := s.FindColorList(ctx, models.ColorListFilter{})
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestFindActiveVotersOrderAndFilters(t *testing.T) {
	ctx := context.Background()
	s := New()
	older := newVoter("+34600000001", models.StatusSent, now)
	newer := newVoter("+34600000001", models.StatusCreated, now.Add(time.Minute))
	other := newVoter("+34600000002", models.StatusSent, now)
	other.NationalID = "12345678Z"
	inactive := newVoter("+34600000001", models.StatusSent, now)
	inactive.IsActive = false
	for _, v := range []*models.Voter{older, newer, other, inactive} {
		require.NoError(t, s.CreateVoter(ctx, v))
	}

	all, err := s.FindActiveVoters(ctx, ports.VoterQuery{ElectionID: 1, Tlf: "+34600000001"})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, newer.ID, all[0].ID)

	sent, err := s.FindActiveVoters(ctx, ports.VoterQuery{ElectionID: 1, Tlf: "+34600000001", NationalID: "12345678Z", Statuses: []models.VoterStatus{models.StatusSent}})
	require.NoError(t, err)
	assert.Len(t, sent, 2, "phone match plus national ID match")

	otherElection, err := s.FindActiveVoters(ctx, ports.VoterQuery{ElectionID: 2, Tlf: "+34600000001"})
	require.NoError(t, err)
	assert.Empty(t, otherElection)
}

func TestReturnedVotersAreCopies(t *testing.T) {
	ctx := context.Background()
	s := New()
	msgID := int64(7)
	v := newVoter("+34600000001", models.StatusSent, now)
	v.MessageID = &msgID
	require.NoError(t, s.CreateVoter(ctx, v))

	got, err := s.GetVoter(ctx, v.ID)
	require.NoError(t, err)
	*got.MessageID = 99
	got.Status = models.StatusVoted

	again, err := s.GetVoter(ctx, v.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(7), *again.MessageID)
	assert.Equal(t, models.StatusSent, again.Status)
}

func TestCountAndRemove(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.NoError(t, s.CreateMessage(ctx, &models.Message{Tlf: "+34600000001", IP: "10.0.0.1", Status: models.MessageSent, Created: now}))
	require.NoError(t, s.CreateMessage(ctx, &models.Message{Tlf: "+34600000001", IP: "10.0.0.1", Status: models.MessageSent, Authenticated: true, Created: now}))
	require.NoError(t, s.CreateMessage(ctx, &models.Message{Tlf: "+34600000001", IP: "10.0.0.1", Status: models.MessageQueued, Created: now}))

	n, err := s.CountMessages(ctx, models.CountFilter{IP: "10.0.0.1", ExcludeAuthenticated: true})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	require.NoError(t, s.AddColorList(ctx, &models.ColorListEntry{Dimension: models.DimensionIP, Action: models.ActionBlacklist, Value: "10.0.0.1"}))
	require.NoError(t, s.AddColorList(ctx, &models.ColorListEntry{Dimension: models.DimensionIP, Action: models.ActionBlacklist, Value: "10.0.0.1"}))
	removed, err := s.RemoveColorList(ctx, models.ColorListFilter{Dimension: models.DimensionIP, Value: "10.0.0.1"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), removed)
}

func TestBeginSerializableStopsWaitingOnCancel(t *testing.T) {
	s := New()
	_, held, err := s.BeginSerializable(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, h, err := s.BeginSerializable(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Nil(t, h)

	require.NoError(t, held.Commit())
	_, h, err = s.BeginSerializable(context.Background())
	require.NoError(t, err, "lock is free after commit")
	require.NoError(t, h.Rollback())
}
