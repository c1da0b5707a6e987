package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the gate's Prometheus collectors.
type Metrics struct {
	Registrations         prometheus.Counter
	Rejections            *prometheus.CounterVec
	Authentications       prometheus.Counter
	VotesRecorded         prometheus.Counter
	AutoBlacklisted       *prometheus.CounterVec
	SerializationRetries  prometheus.Counter
	SerializationExhausts prometheus.Counter
	SMSDispatched         *prometheus.CounterVec
	PipelineStepDuration  *prometheus.HistogramVec
}

// New registers the gate collectors with reg. Tests pass a fresh registry.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Registrations: f.NewCounter(prometheus.CounterOpts{
			Name: "votegate_registrations_total",
			Help: "Registrations that created a voter and queued a token",
		}),
		Rejections: f.NewCounterVec(prometheus.CounterOpts{
			Name: "votegate_rejections_total",
			Help: "Requests rejected by policy, by flow and error code",
		}, []string{"flow", "code"}),
		Authentications: f.NewCounter(prometheus.CounterOpts{
			Name: "votegate_authentications_total",
			Help: "Successful token redemptions",
		}),
		VotesRecorded: f.NewCounter(prometheus.CounterOpts{
			Name: "votegate_votes_recorded_total",
			Help: "Voters moved to voted by a notify callback",
		}),
		AutoBlacklisted: f.NewCounterVec(prometheus.CounterOpts{
			Name: "votegate_auto_blacklisted_total",
			Help: "Color list entries added by the rate limiter",
		}, []string{"dimension"}),
		SerializationRetries: f.NewCounter(prometheus.CounterOpts{
			Name: "votegate_serialization_retries_total",
			Help: "Serializable transactions retried after a conflict",
		}),
		SerializationExhausts: f.NewCounter(prometheus.CounterOpts{
			Name: "votegate_serialization_exhausted_total",
			Help: "Operations that gave up after exhausting conflict retries",
		}),
		SMSDispatched: f.NewCounterVec(prometheus.CounterOpts{
			Name: "votegate_sms_dispatched_total",
			Help: "SMS dispatch jobs by result",
		}, []string{"result"}),
		PipelineStepDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "votegate_pipeline_step_duration_seconds",
			Help:    "Duration of pipeline steps by step and outcome",
			Buckets: []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
		}, []string{"step", "outcome"}),
	}
}

func (m *Metrics) IncrementRegistrations() {
	m.Registrations.Inc()
}

func (m *Metrics) IncrementRejections(flow, code string) {
	m.Rejections.WithLabelValues(flow, code).Inc()
}

func (m *Metrics) IncrementAuthentications() {
	m.Authentications.Inc()
}

func (m *Metrics) IncrementVotesRecorded() {
	m.VotesRecorded.Inc()
}

func (m *Metrics) IncrementAutoBlacklisted(dimension string) {
	m.AutoBlacklisted.WithLabelValues(dimension).Inc()
}

func (m *Metrics) IncrementSerializationRetries() {
	m.SerializationRetries.Inc()
}

func (m *Metrics) IncrementSerializationExhausted() {
	m.SerializationExhausts.Inc()
}

// IncrementSMS records a dispatch result: sent, skipped, expired or failed.
func (m *Metrics) IncrementSMS(result string) {
	m.SMSDispatched.WithLabelValues(result).Inc()
}

func (m *Metrics) ObserveStep(step, outcome string, elapsed time.Duration) {
	m.PipelineStepDuration.WithLabelValues(step, outcome).Observe(elapsed.Seconds())
}
