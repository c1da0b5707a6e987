package circuit

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// trip records failures until the breaker opens and returns how many it took.
func trip(t *testing.T, b *Breaker) int {
	t.Helper()
	for n := 1; n <= 100; n++ {
		if _, change := b.RecordFailure(); change.Opened {
			return n
		}
	}
	require.FailNow(t, "breaker never opened")
	return 0
}

// heal records successes until the breaker closes and returns how many it took.
func heal(t *testing.T, b *Breaker) int {
	t.Helper()
	for n := 1; n <= 100; n++ {
		if _, change := b.RecordSuccess(); change.Closed {
			return n
		}
	}
	require.FailNow(t, "breaker never closed")
	return 0
}

func TestBreakerStartsClosed(t *testing.T) {
	b := New("sms-webhook")
	assert.False(t, b.IsOpen())
	assert.Equal(t, StateClosed, b.State())
	assert.Equal(t, "closed", b.State().String())
	assert.Equal(t, "sms-webhook", b.Name())
}

func TestBreakerThresholds(t *testing.T) {
	tests := []struct {
		name      string
		opts      []Option
		wantTrips int
		wantHeals int
	}{
		{"defaults", nil, 5, 3},
		{"sms webhook settings", []Option{WithFailureThreshold(5), WithSuccessThreshold(2)}, 5, 2},
		{"single failure", []Option{WithFailureThreshold(1), WithSuccessThreshold(1)}, 1, 1},
		{"non-positive values keep defaults", []Option{WithFailureThreshold(0), WithSuccessThreshold(-1)}, 5, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := New("sms-webhook", tt.opts...)
			assert.Equal(t, tt.wantTrips, trip(t, b))
			assert.Equal(t, "open", b.State().String())
			assert.Equal(t, tt.wantHeals, heal(t, b))
			assert.False(t, b.IsOpen())
		})
	}
}

func TestBreakerFallbackWhileOpen(t *testing.T) {
	b := New("sms-webhook", WithFailureThreshold(2))

	useFallback, _ := b.RecordFailure()
	assert.False(t, useFallback)
	useFallback, change := b.RecordFailure()
	assert.True(t, useFallback)
	assert.True(t, change.Opened)

	useFallback, change = b.RecordFailure()
	assert.True(t, useFallback)
	assert.False(t, change.Opened, "already open")
}

func TestBreakerCountersReset(t *testing.T) {
	t.Run("a success clears the failure streak", func(t *testing.T) {
		b := New("sms-webhook", WithFailureThreshold(3))
		b.RecordFailure()
		b.RecordFailure()
		b.RecordSuccess()
		b.RecordFailure()
		b.RecordFailure()
		assert.False(t, b.IsOpen())
		b.RecordFailure()
		assert.True(t, b.IsOpen())
	})

	t.Run("a failure while open clears the success streak", func(t *testing.T) {
		b := New("sms-webhook", WithFailureThreshold(1), WithSuccessThreshold(3))
		b.RecordFailure()
		b.RecordSuccess()
		b.RecordSuccess()
		b.RecordFailure()
		assert.Equal(t, 3, heal(t, b))
	})

	t.Run("reset closes", func(t *testing.T) {
		b := New("sms-webhook", WithFailureThreshold(1))
		b.RecordFailure()
		b.Reset()
		assert.Equal(t, StateClosed, b.State())
		assert.Equal(t, 1, trip(t, b))
	})
}
