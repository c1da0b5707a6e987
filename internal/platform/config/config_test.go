package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromEnv(t *testing.T) {
	t.Run("unset variables keep defaults", func(t *testing.T) {
		t.Setenv("AGORA_SHARED_SECRET_KEY", "s3cret")

		cfg, err := FromEnv()
		require.NoError(t, err)

		assert.Equal(t, 5, cfg.Gate.MaxTokenGuesses)
		assert.Equal(t, 600*time.Second, cfg.Gate.TokenTTL())
		assert.Equal(t, 120*time.Second, cfg.Gate.SMSExpiry())
		assert.Equal(t, time.Second, cfg.SMS.Delay)
		assert.Equal(t, `^\+34[67][0-9]{8}$`, cfg.Gate.AllowedTlfPattern)
		assert.Equal(t, DefaultPipelines(), cfg.Pipelines)
	})

	t.Run("environment overrides defaults", func(t *testing.T) {
		t.Setenv("AGORA_SHARED_SECRET_KEY", "s3cret")
		t.Setenv("MAX_TOKEN_GUESSES", "3")
		t.Setenv("CURRENT_ELECTION_ID", "42")
		t.Setenv("SMS_DELAY", "5s")
		t.Setenv("KAFKA_BROKERS", "a:9092,b:9092")
		t.Setenv("REAL_IP_HEADER", "X-Real-IP")

		cfg, err := FromEnv()
		require.NoError(t, err)

		assert.Equal(t, 3, cfg.Gate.MaxTokenGuesses)
		assert.Equal(t, int64(42), cfg.Gate.ElectionID)
		assert.Equal(t, 5*time.Second, cfg.SMS.Delay)
		assert.Equal(t, []string{"a:9092", "b:9092"}, cfg.Kafka.Brokers)
		assert.Equal(t, "X-Real-IP", cfg.Server.RealIPHeader)
	})

	t.Run("missing shared secret is rejected", func(t *testing.T) {
		t.Setenv("AGORA_SHARED_SECRET_KEY", "")

		_, err := FromEnv()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "AGORA_SHARED_SECRET_KEY")
	})

	t.Run("webhook provider needs a URL", func(t *testing.T) {
		t.Setenv("AGORA_SHARED_SECRET_KEY", "s3cret")
		t.Setenv("SMS_PROVIDER", "webhook")
		t.Setenv("SMS_WEBHOOK_URL", "")

		_, err := FromEnv()
		require.Error(t, err)
	})
}

func TestParsePipelines(t *testing.T) {
	t.Run("steps keep order and inline params", func(t *testing.T) {
		p, err := ParsePipelines([]byte(`
register:
  - check: tlf_whitelisted
  - check: tlf_hour_max
    hour_max: 2
  - check: blacklisted
`))
		require.NoError(t, err)
		require.Len(t, p.Register, 3)
		assert.Equal(t, "tlf_whitelisted", p.Register[0].Check)
		assert.Equal(t, "tlf_hour_max", p.Register[1].Check)
		assert.Equal(t, 2, p.Register[1].Params["hour_max"])
		assert.Equal(t, DefaultPipelines().Notify, p.Notify, "missing flow keeps its default")
	})

	t.Run("explicit empty list is kept", func(t *testing.T) {
		p, err := ParsePipelines([]byte("register: []\n"))
		require.NoError(t, err)
		assert.NotNil(t, p.Register)
		assert.Empty(t, p.Register)
	})

	t.Run("step without identifier is rejected", func(t *testing.T) {
		_, err := ParsePipelines([]byte("register:\n  - day_max: 3\n"))
		require.Error(t, err)
	})

	t.Run("malformed yaml is rejected", func(t *testing.T) {
		_, err := ParsePipelines([]byte("register: [unclosed"))
		require.Error(t, err)
	})
}
