package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"votegate/pkg/platform/sentinel"
)

var now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newVoter() *Voter {
	return NewRequestedVoter(1, Identity{
		FirstName: "Fulanito",
		LastName:  "de Tal",
		Email:     "fulanito@example.com",
		Tlf:       "+34600000000",
	}, "1.2.3.4", "en", now)
}

func TestVoterHappyPath(t *testing.T) {
	v := newVoter()
	assert.Equal(t, StatusRequested, v.Status)
	assert.True(t, v.IsActive)

	for _, to := range []VoterStatus{StatusCreated, StatusSent, StatusAuthenticated, StatusVoted} {
		require.NoError(t, v.TransitionTo(to, now), "transition to %s", to)
	}
	assert.Equal(t, StatusVoted, v.Status)
}

func TestVoterRejectsShortcuts(t *testing.T) {
	tests := []struct {
		from VoterStatus
		to   VoterStatus
	}{
		{StatusSent, StatusVoted},
		{StatusCreated, StatusAuthenticated},
		{StatusRequested, StatusSent},
		{StatusRequestedIgnore, StatusCreated},
		{StatusVoted, StatusAuthenticated},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			v := newVoter()
			v.Status = tt.from
			err := v.TransitionTo(tt.to, now)
			assert.ErrorIs(t, err, sentinel.ErrInvalidState)
			assert.Equal(t, tt.from, v.Status)
		})
	}
}

func TestDeactivateKeepsStatus(t *testing.T) {
	v := newVoter()
	v.Status = StatusAuthenticated
	v.Deactivate(now.Add(time.Minute))

	assert.False(t, v.IsActive)
	assert.Equal(t, StatusAuthenticated, v.Status)
	assert.Equal(t, now.Add(time.Minute), v.Modified)
}

func TestTokenExhausted(t *testing.T) {
	ttl := 10 * time.Minute

	t.Run("fresh token with guesses left", func(t *testing.T) {
		v := newVoter()
		v.TokenGuesses = 4
		assert.False(t, v.TokenExhausted(5, now.Add(-time.Minute), ttl, now))
	})

	t.Run("guess budget spent", func(t *testing.T) {
		v := newVoter()
		v.TokenGuesses = 5
		assert.True(t, v.TokenExhausted(5, now, ttl, now))
	})

	t.Run("token older than ttl", func(t *testing.T) {
		v := newVoter()
		assert.True(t, v.TokenExhausted(5, now.Add(-ttl), ttl, now))
	})
}

func TestHasIdentity(t *testing.T) {
	v := newVoter()
	v.NationalID = "12345678Z"

	assert.True(t, v.HasIdentity(1, "+34600000000", ""))
	assert.True(t, v.HasIdentity(1, "+34611111111", "12345678Z"))
	assert.False(t, v.HasIdentity(1, "+34611111111", ""))
	assert.False(t, v.HasIdentity(2, "+34600000000", ""))
}

func TestCountFilterMatches(t *testing.T) {
	since := now.Add(-time.Hour)
	msg := &Message{Tlf: "+34600000000", IP: "1.2.3.4", Status: MessageSent, Created: now}

	assert.True(t, CountFilter{Phone: "+34600000000", ExcludeAuthenticated: true}.Matches(msg))
	assert.True(t, CountFilter{IP: "1.2.3.4", Since: &since}.Matches(msg))
	assert.False(t, CountFilter{Phone: "+34611111111"}.Matches(msg))

	msg.Authenticated = true
	assert.False(t, CountFilter{Phone: "+34600000000", ExcludeAuthenticated: true}.Matches(msg))

	queued := &Message{Tlf: "+34600000000", Status: MessageQueued, Created: now}
	assert.False(t, CountFilter{Phone: "+34600000000"}.Matches(queued))
	assert.True(t, CountFilter{Phone: "+34600000000", Statuses: []MessageStatus{MessageQueued, MessageSent}}.Matches(queued))
}
