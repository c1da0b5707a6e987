package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// Config is the complete runtime configuration of the gate server and CLI.
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Kafka     KafkaConfig
	Audit     AuditConfig
	Gate      GateConfig
	SMS       SMSConfig
	Admin     AdminConfig
	Tracing   TracingConfig
	Pipelines PipelinesConfig `ignored:"true"`

	LogLevel      string `envconfig:"LOG_LEVEL"`
	PipelinesFile string `envconfig:"PIPELINES_FILE"`
}

// ServerConfig captures HTTP server level configuration.
type ServerConfig struct {
	Addr            string        `envconfig:"GATE_ADDR"`
	RealIPHeader    string        `envconfig:"REAL_IP_HEADER"`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT"`
}

type DatabaseConfig struct {
	URL             string        `envconfig:"DATABASE_URL"`
	MaxOpenConns    int           `envconfig:"DB_MAX_OPEN_CONNS"`
	MaxIdleConns    int           `envconfig:"DB_MAX_IDLE_CONNS"`
	ConnMaxLifetime time.Duration `envconfig:"DB_CONN_MAX_LIFETIME"`
}

// RedisConfig backs the SMS dispatch queue. An empty URL selects the
// in-process queue.
type RedisConfig struct {
	URL          string        `envconfig:"REDIS_URL"`
	PoolSize     int           `envconfig:"REDIS_POOL_SIZE"`
	MinIdleConns int           `envconfig:"REDIS_MIN_IDLE_CONNS"`
	DialTimeout  time.Duration `envconfig:"REDIS_DIAL_TIMEOUT"`
	ReadTimeout  time.Duration `envconfig:"REDIS_READ_TIMEOUT"`
	WriteTimeout time.Duration `envconfig:"REDIS_WRITE_TIMEOUT"`
	QueueKey     string        `envconfig:"REDIS_QUEUE_KEY"`
}

// KafkaConfig enables the audit sink when Brokers is non-empty.
type KafkaConfig struct {
	Brokers    []string `envconfig:"KAFKA_BROKERS"`
	AuditTopic string   `envconfig:"KAFKA_AUDIT_TOPIC"`
}

// AuditConfig tunes the asynchronous audit publisher. OpsSampleRate applies
// to SMS dispatch events only.
type AuditConfig struct {
	BufferSize    int     `envconfig:"AUDIT_BUFFER_SIZE"`
	OpsSampleRate float64 `envconfig:"AUDIT_OPS_SAMPLE_RATE"`
}

// GateConfig holds the thresholds and identity settings consumed by the gate.
type GateConfig struct {
	ElectionID              int64         `envconfig:"CURRENT_ELECTION_ID"`
	DefaultLangCode         string        `envconfig:"DEFAULT_LANG_CODE"`
	SharedSecretKey         string        `envconfig:"AGORA_SHARED_SECRET_KEY"`
	AllowedTlfPattern       string        `envconfig:"ALLOWED_TLF_NUMS_RX"`
	StrictPhoneValidation   bool          `envconfig:"STRICT_PHONE_VALIDATION"`
	DefaultRegion           string        `envconfig:"DEFAULT_PHONE_REGION"`
	MaxTokenGuesses         int           `envconfig:"MAX_TOKEN_GUESSES"`
	TokenExpireSecs         int           `envconfig:"SMS_TOKEN_EXPIRE_SECS"`
	SMSExpireSecs           int           `envconfig:"SMS_EXPIRE_SECS"`
	MaxSerializedRetries    int           `envconfig:"MAX_NUM_SERIALIZED_RETRIES"`
	SerializedRetryBaseMs   int           `envconfig:"SERIALIZED_RETRY_BASE_MS"`
	SerializedRetryMaxDelay time.Duration `envconfig:"SERIALIZED_RETRY_MAX_DELAY"`
}

// TokenTTL is how long an SMS token can be redeemed.
func (g GateConfig) TokenTTL() time.Duration {
	return time.Duration(g.TokenExpireSecs) * time.Second
}

// SMSExpiry is the resend interval and the dispatch job lifetime.
func (g GateConfig) SMSExpiry() time.Duration {
	return time.Duration(g.SMSExpireSecs) * time.Second
}

// SMSConfig selects and configures the SMS provider and dispatcher.
type SMSConfig struct {
	Provider      string        `envconfig:"SMS_PROVIDER"`
	Sender        string        `envconfig:"SMS_SENDER"`
	Message       string        `envconfig:"SMS_MESSAGE"`
	ServerName    string        `envconfig:"SERVER_NAME"`
	WebhookURL    string        `envconfig:"SMS_WEBHOOK_URL"`
	WebhookToken  string        `envconfig:"SMS_WEBHOOK_TOKEN"`
	Timeout       time.Duration `envconfig:"SMS_TIMEOUT"`
	Delay         time.Duration `envconfig:"SMS_DELAY"`
	Workers       int           `envconfig:"SMS_WORKERS"`
	PollInterval  time.Duration `envconfig:"SMS_POLL_INTERVAL"`
	TokenLength   int           `envconfig:"SMS_TOKEN_LENGTH"`
	AudioTokens   bool          `envconfig:"SMS_AUDIO_TOKENS"`
	BreakerTrips  int           `envconfig:"SMS_BREAKER_FAILURES"`
	BreakerResets int           `envconfig:"SMS_BREAKER_SUCCESSES"`
}

// AdminConfig protects the color list API.
type AdminConfig struct {
	JWTSigningKey string        `envconfig:"ADMIN_JWT_KEY"`
	Issuer        string        `envconfig:"ADMIN_JWT_ISSUER"`
	TokenTTL      time.Duration `envconfig:"ADMIN_TOKEN_TTL"`
}

// TracingConfig enables OpenTelemetry spans around pipeline steps. The OTLP
// endpoint is read from the standard OTEL_EXPORTER_OTLP_* variables.
type TracingConfig struct {
	Enabled bool `envconfig:"TRACING_ENABLED"`
	Stdout  bool `envconfig:"TRACING_STDOUT"`
}

// StepConfig is one configured pipeline step: a check identifier plus its
// static parameters.
type StepConfig struct {
	Check  string         `yaml:"check"`
	Params map[string]any `yaml:",inline"`
}

// PipelinesConfig holds the ordered step lists of each flow.
type PipelinesConfig struct {
	Register []StepConfig `yaml:"register"`
	Notify   []StepConfig `yaml:"notify"`
}

// DefaultPipelines is the canonical ordering used when no file is given.
func DefaultPipelines() PipelinesConfig {
	return PipelinesConfig{
		Register: []StepConfig{
			{Check: "has_not_voted"},
			{Check: "tlf_whitelisted"},
			{Check: "ip_whitelisted"},
			{Check: "blacklisted"},
			{Check: "tlf_total_max", Params: map[string]any{"total_max": 7}},
			{Check: "tlf_day_max", Params: map[string]any{"day_max": 5}},
			{Check: "tlf_hour_max", Params: map[string]any{"hour_max": 3}},
			{Check: "tlf_expire"},
			{Check: "ip_total_max", Params: map[string]any{"total_max": 7}},
		},
		Notify: []StepConfig{
			{Check: "check_vote_hmac"},
			{Check: "check_voter_authenticated"},
		},
	}
}

// DefaultConfig returns the configuration with every default applied and no
// environment consulted.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ShutdownTimeout: 10 * time.Second,
		},
		Database: DatabaseConfig{
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Redis: RedisConfig{
			PoolSize:     10,
			MinIdleConns: 2,
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
			QueueKey:     "votegate:sms:queue",
		},
		Kafka: KafkaConfig{
			AuditTopic: "votegate.audit",
		},
		Audit: AuditConfig{
			BufferSize:    10000,
			OpsSampleRate: 1,
		},
		Gate: GateConfig{
			DefaultLangCode:         "en",
			AllowedTlfPattern:       `^\+34[67][0-9]{8}$`,
			DefaultRegion:           "ES",
			MaxTokenGuesses:         5,
			TokenExpireSecs:         600,
			SMSExpireSecs:           120,
			MaxSerializedRetries:    5,
			SerializedRetryBaseMs:   5,
			SerializedRetryMaxDelay: 2 * time.Second,
		},
		SMS: SMSConfig{
			Provider:      "console",
			Sender:        "votegate",
			Message:       "{server_name}: your code is {token}",
			ServerName:    "votegate",
			Timeout:       10 * time.Second,
			Delay:         time.Second,
			Workers:       2,
			PollInterval:  250 * time.Millisecond,
			TokenLength:   8,
			BreakerTrips:  5,
			BreakerResets: 2,
		},
		Admin: AdminConfig{
			Issuer:   "votegate",
			TokenTTL: time.Hour,
		},
		Pipelines: DefaultPipelines(),
		LogLevel:  "info",
	}
}

// FromEnv loads the configuration with Load and validates it.
func FromEnv() (*Config, error) {
	cfg, err := Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Load reads .env if present, then the process environment, then the
// optional pipelines file. The result is not validated; gatectl uses it for
// commands that need only part of the configuration.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	// Unset variables keep the values from DefaultConfig.
	cfg := DefaultConfig()
	if err := envconfig.Process("", cfg); err != nil {
		return nil, fmt.Errorf("process env: %w", err)
	}

	if cfg.PipelinesFile != "" {
		p, err := LoadPipelines(cfg.PipelinesFile)
		if err != nil {
			return nil, err
		}
		cfg.Pipelines = p
	}
	return cfg, nil
}

// LoadPipelines reads a YAML pipelines file. A flow missing from the file
// keeps its default step list.
func LoadPipelines(path string) (PipelinesConfig, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return PipelinesConfig{}, fmt.Errorf("read pipelines file: %w", err)
	}
	return ParsePipelines(buf)
}

// ParsePipelines decodes pipeline step lists from YAML.
func ParsePipelines(buf []byte) (PipelinesConfig, error) {
	var p PipelinesConfig
	if err := yaml.Unmarshal(buf, &p); err != nil {
		return PipelinesConfig{}, fmt.Errorf("parse pipelines: %w", err)
	}
	def := DefaultPipelines()
	if p.Register == nil {
		p.Register = def.Register
	}
	if p.Notify == nil {
		p.Notify = def.Notify
	}
	for _, steps := range [][]StepConfig{p.Register, p.Notify} {
		for i, s := range steps {
			if s.Check == "" {
				return PipelinesConfig{}, fmt.Errorf("pipeline step %d: missing check identifier", i)
			}
		}
	}
	return p, nil
}

// Validate rejects configurations the gate cannot run with.
func (c *Config) Validate() error {
	if c.Gate.SharedSecretKey == "" {
		return errors.New("AGORA_SHARED_SECRET_KEY is required")
	}
	if c.Gate.MaxTokenGuesses < 1 {
		return errors.New("MAX_TOKEN_GUESSES must be positive")
	}
	if c.Gate.MaxSerializedRetries < 0 {
		return errors.New("MAX_NUM_SERIALIZED_RETRIES must not be negative")
	}
	if c.SMS.Provider == "webhook" && c.SMS.WebhookURL == "" {
		return errors.New("SMS_WEBHOOK_URL is required for the webhook provider")
	}
	return nil
}
