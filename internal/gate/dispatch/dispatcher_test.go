package dispatch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"go.uber.org/goleak"

	"votegate/internal/gate/metrics"
	"votegate/internal/gate/models"
	"votegate/internal/gate/store/memory"
	"votegate/internal/platform/config"
	"votegate/pkg/platform/audit"
	"votegate/pkg/platform/tx"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type sentSMS struct {
	to   string
	body string
}

type fakeProvider struct {
	mu   sync.Mutex
	sent []sentSMS
	err  error
}

func (p *fakeProvider) Name() string { return "fake" }

func (p *fakeProvider) Send(_ context.Context, to, body string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.sent = append(p.sent, sentSMS{to: to, body: body})
	return nil
}

func (p *fakeProvider) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.sent)
}

type DispatcherSuite struct {
	suite.Suite
	ctx      context.Context
	now      time.Time
	store    *memory.Store
	queue    *MemoryQueue
	provider *fakeProvider
	metrics  *metrics.Metrics
	d        *Dispatcher
}

func TestDispatcherSuite(t *testing.T) {
	suite.Run(t, new(DispatcherSuite))
}

func (s *DispatcherSuite) SetupTest() {
	s.ctx = context.Background()
	s.now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s.store = memory.New()
	s.queue = NewMemoryQueue()
	s.provider = &fakeProvider{}
	s.metrics = metrics.New(prometheus.NewRegistry())

	d, err := New(s.queue, s.store, tx.NewSerializer(s.store), s.provider, config.SMSConfig{
		Message:    "{server_name}: your code is {token}",
		ServerName: "votegate",
		Workers:    2,
	}, WithMetrics(s.metrics), WithClock(func() time.Time { return s.now }), WithRetryDelay(10*time.Second))
	s.Require().NoError(err)
	s.d = d
}

// seed stores a queued message and its created voter and queues a job for
// it that is due one second from now.
func (s *DispatcherSuite) seed(tlf string) (*models.Message, *models.Voter, models.SMSJob) {
	msg := &models.Message{
		Tlf:       tlf,
		IP:        "1.2.3.4",
		TokenHash: "digest",
		Status:    models.MessageQueued,
		Created:   s.now,
		Modified:  s.now,
	}
	s.Require().NoError(s.store.CreateMessage(s.ctx, msg))

	v := models.NewRequestedVoter(1, models.Identity{Tlf: tlf}, "1.2.3.4", "en", s.now)
	s.Require().NoError(v.TransitionTo(models.StatusCreated, s.now))
	v.MessageID = &msg.ID
	s.Require().NoError(s.store.CreateVoter(s.ctx, v))

	job := models.SMSJob{
		ID:        tlf,
		MessageID: msg.ID,
		Token:     "ABCD2345",
		NotBefore: s.now.Add(time.Second),
		ExpiresAt: s.now.Add(2 * time.Minute),
	}
	s.Require().NoError(s.queue.Enqueue(s.ctx, job))
	return msg, v, job
}

func (s *DispatcherSuite) result(result string) float64 {
	return testutil.ToFloat64(s.metrics.SMSDispatched.WithLabelValues(result))
}

func (s *DispatcherSuite) TestJobWaitsForDelay() {
	s.seed("+34600000001")

	handled, err := s.d.ProcessNext(s.ctx)
	s.Require().NoError(err)
	s.False(handled)
	s.Zero(s.provider.count())
}

func (s *DispatcherSuite) TestDueJobIsSentAndRecorded() {
	msg, v, _ := s.seed("+34600000001")
	s.now = s.now.Add(time.Second)

	handled, err := s.d.ProcessNext(s.ctx)
	s.Require().NoError(err)
	s.True(handled)

	s.Require().Equal(1, s.provider.count())
	s.Equal("+34600000001", s.provider.sent[0].to)
	s.Equal("votegate: your code is ABCD2345", s.provider.sent[0].body)

	storedMsg, err := s.store.GetMessage(s.ctx, msg.ID)
	s.Require().NoError(err)
	s.Equal(models.MessageSent, storedMsg.Status)
	s.Equal("votegate: your code is ********", storedMsg.Content)
	s.NotContains(storedMsg.Content, "ABCD2345")

	storedVoter, err := s.store.GetVoter(s.ctx, v.ID)
	s.Require().NoError(err)
	s.Equal(models.StatusSent, storedVoter.Status)
	s.Equal(float64(1), s.result(ResultSent))
}

func (s *DispatcherSuite) TestExpiredJobIsDiscarded() {
	msg, _, _ := s.seed("+34600000001")
	s.now = s.now.Add(2 * time.Minute)

	handled, err := s.d.ProcessNext(s.ctx)
	s.Require().NoError(err)
	s.True(handled)
	s.Zero(s.provider.count())

	stored, err := s.store.GetMessage(s.ctx, msg.ID)
	s.Require().NoError(err)
	s.Equal(models.MessageQueued, stored.Status)
	s.Equal(float64(1), s.result(ResultExpired))
}

func (s *DispatcherSuite) TestSupersededVoterIsSkipped() {
	msg, v, _ := s.seed("+34600000001")
	v.Deactivate(s.now)
	s.Require().NoError(s.store.UpdateVoter(s.ctx, v))
	s.now = s.now.Add(time.Second)

	handled, err := s.d.ProcessNext(s.ctx)
	s.Require().NoError(err)
	s.True(handled)
	s.Zero(s.provider.count())

	stored, err := s.store.GetMessage(s.ctx, msg.ID)
	s.Require().NoError(err)
	s.Equal(models.MessageQueued, stored.Status)
	s.Equal(float64(1), s.result(ResultSkipped))
}

func (s *DispatcherSuite) TestIgnoredMessageIsSkipped() {
	msg, _, _ := s.seed("+34600000001")
	msg.Status = models.MessageIgnore
	s.Require().NoError(s.store.UpdateMessage(s.ctx, msg))
	s.now = s.now.Add(time.Second)

	_, err := s.d.ProcessNext(s.ctx)
	s.Require().NoError(err)
	s.Zero(s.provider.count())
	s.Equal(float64(1), s.result(ResultSkipped))
}

func (s *DispatcherSuite) TestProviderErrorKeepsMessageQueued() {
	msg, v, job := s.seed("+34600000001")
	s.provider.err = errors.New("gateway down")
	s.now = s.now.Add(time.Second)

	handled, err := s.d.ProcessNext(s.ctx)
	s.Require().NoError(err)
	s.True(handled)

	stored, err := s.store.GetMessage(s.ctx, msg.ID)
	s.Require().NoError(err)
	s.Equal(models.MessageQueued, stored.Status)
	storedVoter, err := s.store.GetVoter(s.ctx, v.ID)
	s.Require().NoError(err)
	s.Equal(models.StatusCreated, storedVoter.Status)
	s.Equal(float64(1), s.result(ResultFailed))

	n, err := s.queue.Len(s.ctx)
	s.Require().NoError(err)
	s.Equal(1, n, "job is re-queued")

	s.provider.err = nil
	handled, err = s.d.ProcessNext(s.ctx)
	s.Require().NoError(err)
	s.False(handled, "retry waits for the retry delay")

	s.now = s.now.Add(10 * time.Second)
	_, err = s.d.ProcessNext(s.ctx)
	s.Require().NoError(err)
	s.Equal(1, s.provider.count())
	s.Equal("votegate: your code is "+job.Token, s.provider.sent[0].body)
	s.Equal(float64(1), s.result(ResultSent))
}

type brokenVoterStore struct {
	*memory.Store
}

func (brokenVoterStore) UpdateVoter(context.Context, *models.Voter) error {
	return errors.New("disk full")
}

type capturedAudit struct {
	mu     sync.Mutex
	events []audit.Event
}

func (c *capturedAudit) Emit(_ context.Context, e audit.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, e)
	return nil
}

func (s *DispatcherSuite) TestDeliveredButUnrecordedIsAudited() {
	msg, v, _ := s.seed("+34600000001")
	events := &capturedAudit{}
	d, err := New(s.queue, brokenVoterStore{s.store}, tx.NewSerializer(s.store), s.provider, config.SMSConfig{
		Message:    "{token}",
		ServerName: "votegate",
	}, WithMetrics(s.metrics), WithClock(func() time.Time { return s.now }), WithAuditPublisher(events))
	s.Require().NoError(err)
	s.now = s.now.Add(time.Second)

	handled, err := d.ProcessNext(s.ctx)
	s.True(handled)
	s.Require().ErrorContains(err, "disk full")
	s.Equal(1, s.provider.count(), "provider accepted the sms")

	s.Require().Len(events.events, 1)
	e := events.events[0]
	s.Equal(string(audit.EventSMSFailed), e.Action)
	s.Equal("+34600000001", e.Subject)
	s.Equal("delivered but not recorded as sent", e.Reason)
	s.Equal(float64(1), s.result(ResultUnrecorded))
	s.Zero(s.result(ResultSent))

	stored, err := s.store.GetVoter(s.ctx, v.ID)
	s.Require().NoError(err)
	s.Equal(models.StatusCreated, stored.Status)
	storedMsg, err := s.store.GetMessage(s.ctx, msg.ID)
	s.Require().NoError(err)
	s.Equal(models.MessageQueued, storedMsg.Status)
}

func (s *DispatcherSuite) TestRetryPastExpiryIsDropped() {
	s.seed("+34600000001")
	s.provider.err = errors.New("gateway down")
	s.now = s.now.Add(115 * time.Second)

	_, err := s.d.ProcessNext(s.ctx)
	s.Require().NoError(err)

	n, err := s.queue.Len(s.ctx)
	s.Require().NoError(err)
	s.Zero(n)
}

func (s *DispatcherSuite) TestRunDrainsQueueAndStops() {
	s.seed("+34600000001")
	s.seed("+34600000002")
	s.seed("+34600000003")
	s.now = s.now.Add(time.Second)

	ctx, cancel := context.WithCancel(s.ctx)
	done := make(chan error, 1)
	go func() {
		done <- s.d.Run(ctx)
	}()

	s.Eventually(func() bool { return s.provider.count() == 3 }, 2*time.Second, 10*time.Millisecond)
	cancel()
	s.Require().NoError(<-done)
	s.Equal(float64(3), s.result(ResultSent))
}

func TestMemoryQueueOrdersByNotBefore(t *testing.T) {
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	q := NewMemoryQueue()

	for i, offset := range []time.Duration{3 * time.Second, time.Second, 2 * time.Second} {
		require.NoError(t, q.Enqueue(ctx, models.SMSJob{
			MessageID: int64(i + 1),
			NotBefore: base.Add(offset),
		}))
	}

	var order []int64
	for {
		job, ok, err := q.Dequeue(ctx, base.Add(time.Minute))
		require.NoError(t, err)
		if !ok {
			break
		}
		order = append(order, job.MessageID)
	}
	assert.Equal(t, []int64{2, 3, 1}, order)

	_, ok, err := q.Dequeue(ctx, base)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestNewRequiresCollaborators(t *testing.T) {
	store := memory.New()
	_, err := New(nil, store, tx.NewSerializer(store), &fakeProvider{}, config.SMSConfig{})
	assert.Error(t, err)
	_, err = New(NewMemoryQueue(), store, tx.NewSerializer(store), nil, config.SMSConfig{})
	assert.Error(t, err)
}
