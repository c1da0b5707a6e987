// Package service assembles validation output, the configured pipelines, the
// voter state machine and the serializable retry wrapper into the three gate
// operations: register, authenticate and notify-vote.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"votegate/internal/gate/metrics"
	"votegate/internal/gate/models"
	"votegate/internal/gate/observability"
	"votegate/internal/gate/pipeline"
	"votegate/internal/gate/ports"
	"votegate/internal/gate/token"
	"votegate/internal/platform/config"
	dErrors "votegate/pkg/domain-errors"
	"votegate/pkg/platform/audit"
	"votegate/pkg/platform/sentinel"
	"votegate/pkg/platform/tx"
	"votegate/pkg/requestcontext"
)

// Config is the gate's view of the runtime configuration.
type Config struct {
	ElectionID      int64
	LangCode        string
	MaxTokenGuesses int
	TokenTTL        time.Duration
	SMSExpiry       time.Duration
	SMSDelay        time.Duration
	TokenLength     int
	AudioTokens     bool
}

// ConfigFrom extracts the gate settings from the process configuration.
func ConfigFrom(cfg *config.Config) Config {
	return Config{
		ElectionID:      cfg.Gate.ElectionID,
		LangCode:        cfg.Gate.DefaultLangCode,
		MaxTokenGuesses: cfg.Gate.MaxTokenGuesses,
		TokenTTL:        cfg.Gate.TokenTTL(),
		SMSExpiry:       cfg.Gate.SMSExpiry(),
		SMSDelay:        cfg.SMS.Delay,
		TokenLength:     cfg.SMS.TokenLength,
		AudioTokens:     cfg.SMS.AudioTokens,
	}
}

// Pipelines are the resolved step lists of each flow.
type Pipelines struct {
	Register []pipeline.Step
	Notify   []pipeline.Step
}

// ResolvePipelines binds the configured step lists against reg.
func ResolvePipelines(reg *pipeline.Registry, cfg config.PipelinesConfig) (Pipelines, error) {
	register, err := reg.Resolve(cfg.Register)
	if err != nil {
		return Pipelines{}, fmt.Errorf("register pipeline: %w", err)
	}
	notify, err := reg.Resolve(cfg.Notify)
	if err != nil {
		return Pipelines{}, fmt.Errorf("notify pipeline: %w", err)
	}
	return Pipelines{Register: register, Notify: notify}, nil
}

// Gate is the facade over the registration and authentication flows.
type Gate struct {
	store          ports.Store
	serializer     *tx.Serializer
	executor       *pipeline.Executor
	pipelines      Pipelines
	queue          ports.SMSQueue
	signer         *token.Signer
	hasher         token.Hasher
	cfg            Config
	logger         *slog.Logger
	auditPublisher observability.AuditPublisher
	metrics        *metrics.Metrics
}

type Option func(*Gate)

func WithLogger(logger *slog.Logger) Option {
	return func(g *Gate) {
		g.logger = logger
	}
}

func WithAuditPublisher(publisher observability.AuditPublisher) Option {
	return func(g *Gate) {
		g.auditPublisher = publisher
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(g *Gate) {
		g.metrics = m
	}
}

// WithHasher overrides the token digest cost. Tests use bcrypt.MinCost.
func WithHasher(h token.Hasher) Option {
	return func(g *Gate) {
		g.hasher = h
	}
}

func WithExecutor(e *pipeline.Executor) Option {
	return func(g *Gate) {
		g.executor = e
	}
}

func New(store ports.Store, serializer *tx.Serializer, queue ports.SMSQueue, signer *token.Signer, pipelines Pipelines, cfg Config, opts ...Option) (*Gate, error) {
	if store == nil {
		return nil, errors.New("gate store is required")
	}
	if serializer == nil {
		return nil, errors.New("serializer is required")
	}
	if queue == nil {
		return nil, errors.New("sms queue is required")
	}
	if signer == nil {
		return nil, errors.New("assertion signer is required")
	}
	if cfg.MaxTokenGuesses < 1 {
		return nil, errors.New("max token guesses must be positive")
	}
	g := &Gate{
		store:      store,
		serializer: serializer,
		executor:   pipeline.NewExecutor(),
		pipelines:  pipelines,
		queue:      queue,
		signer:     signer,
		hasher:     token.NewHasher(),
		cfg:        cfg,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.cfg.TokenLength <= 0 {
		g.cfg.TokenLength = token.DefaultLength
	}
	return g, nil
}

// Register runs the registration pipeline and, when it passes, supersedes
// older attempts for the identity and creates a voter with a queued token
// message. The token is handed to the dispatcher after commit.
func (g *Gate) Register(ctx context.Context, req models.RegisterRequest) error {
	now := requestcontext.Now(ctx)

	plain, err := g.generateToken()
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to generate token")
	}
	digest, err := g.hasher.Hash(plain)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to hash token")
	}

	var (
		pc        *pipeline.Context
		rejection *dErrors.Error
		job       *models.SMSJob
	)
	err = g.serializer.Run(ctx, func(ctx context.Context) error {
		pc = &pipeline.Context{
			IP:         req.IP,
			ElectionID: g.cfg.ElectionID,
			Now:        now,
			Identity:   req.Identity,
		}
		rejection, job = nil, nil

		res, err := g.executor.Execute(ctx, pc, g.pipelines.Register)
		if err != nil {
			return err
		}
		if res.Outcome == pipeline.Fail {
			rejection = res.Err
			if res.Err.Code == dErrors.CodeBlacklisted {
				return g.recordIgnored(ctx, req, now)
			}
			return nil
		}

		created, err := g.createVoter(ctx, req, digest, now)
		if err != nil {
			return err
		}
		job = &models.SMSJob{
			ID:        uuid.NewString(),
			MessageID: *created.MessageID,
			Token:     plain,
			NotBefore: now.Add(g.cfg.SMSDelay),
			ExpiresAt: now.Add(g.cfg.SMSExpiry),
		}
		return nil
	})
	if err != nil {
		return g.fault(ctx, "register", err)
	}

	g.reportAutoBlacklist(ctx, pc, req.Identity.Tlf)
	if rejection != nil {
		g.reject(ctx, "register", audit.EventRegistrationRejected, rejection,
			"tlf", req.Identity.Tlf,
			"ip", req.IP,
		)
		return rejection
	}
	if job == nil {
		return g.fault(ctx, "register", errors.New("registration committed without a token job"))
	}

	if err := g.queue.Enqueue(ctx, *job); err != nil {
		return g.fault(ctx, "register", fmt.Errorf("enqueue sms job: %w", err))
	}

	if g.metrics != nil {
		g.metrics.IncrementRegistrations()
	}
	observability.LogAudit(ctx, g.logger, g.auditPublisher, audit.EventVoterRegistered,
		"tlf", req.Identity.Tlf,
		"ip", req.IP,
		"message_id", job.MessageID,
	)
	return nil
}

// createVoter deactivates every active voter sharing the identity key, then
// creates the queued message and its voter in state created.
func (g *Gate) createVoter(ctx context.Context, req models.RegisterRequest, digest string, now time.Time) (*models.Voter, error) {
	prior, err := g.store.FindActiveVoters(ctx, ports.VoterQuery{
		ElectionID: g.cfg.ElectionID,
		Tlf:        req.Identity.Tlf,
		NationalID: req.Identity.NationalID,
	})
	if err != nil {
		return nil, fmt.Errorf("find prior voters: %w", err)
	}
	for _, v := range prior {
		v.Deactivate(now)
		if err := g.store.UpdateVoter(ctx, v); err != nil {
			return nil, fmt.Errorf("deactivate voter %d: %w", v.ID, err)
		}
	}

	msg := &models.Message{
		Tlf:       req.Identity.Tlf,
		IP:        req.IP,
		LangCode:  g.cfg.LangCode,
		TokenHash: digest,
		Status:    models.MessageQueued,
		Created:   now,
		Modified:  now,
	}
	if err := g.store.CreateMessage(ctx, msg); err != nil {
		return nil, fmt.Errorf("create message: %w", err)
	}

	voter := models.NewRequestedVoter(g.cfg.ElectionID, req.Identity, req.IP, g.cfg.LangCode, now)
	if err := voter.TransitionTo(models.StatusCreated, now); err != nil {
		return nil, err
	}
	voter.MessageID = &msg.ID
	if err := g.store.CreateVoter(ctx, voter); err != nil {
		return nil, fmt.Errorf("create voter: %w", err)
	}
	return voter, nil
}

// recordIgnored keeps a trace of a blacklisted attempt as an inactive voter
// without a message.
func (g *Gate) recordIgnored(ctx context.Context, req models.RegisterRequest, now time.Time) error {
	voter := models.NewRequestedVoter(g.cfg.ElectionID, req.Identity, req.IP, g.cfg.LangCode, now)
	if err := voter.TransitionTo(models.StatusRequestedIgnore, now); err != nil {
		return err
	}
	voter.Deactivate(now)
	if err := g.store.CreateVoter(ctx, voter); err != nil {
		return fmt.Errorf("record ignored voter: %w", err)
	}
	return nil
}

// Authenticate redeems a token for the newest active sent voter of the phone
// and returns the signed assertion for the voting system.
func (g *Gate) Authenticate(ctx context.Context, req models.AuthRequest) (*models.AuthAssertion, error) {
	now := requestcontext.Now(ctx)

	var (
		assertion *models.AuthAssertion
		rejection *dErrors.Error
		voterID   int64
	)
	err := g.serializer.Run(ctx, func(ctx context.Context) error {
		assertion, rejection, voterID = nil, nil, 0

		v, err := g.sentVoter(ctx, req)
		if err != nil {
			return err
		}
		if v == nil || v.MessageID == nil {
			rejection = dErrors.New(dErrors.CodeSMSNotSent, "Voter has not any sms")
			return nil
		}
		voterID = v.ID

		msg, err := g.store.GetMessage(ctx, *v.MessageID)
		if err != nil {
			return fmt.Errorf("load token message: %w", err)
		}
		if v.TokenExhausted(g.cfg.MaxTokenGuesses, msg.Created, g.cfg.TokenTTL, now) {
			rejection = dErrors.NewField(dErrors.CodeNeedNewToken, "token",
				"Voter provided invalid token, please try a new one")
			return nil
		}

		ok, err := g.hasher.Verify(req.Token, msg.TokenHash)
		if err != nil {
			return fmt.Errorf("verify token: %w", err)
		}
		if !ok {
			v.RecordFailedGuess(now)
			if err := g.store.UpdateVoter(ctx, v); err != nil {
				return fmt.Errorf("record failed guess: %w", err)
			}
			rejection = dErrors.NewField(dErrors.CodeInvalidToken, "token", "Voter provided invalid token")
			return nil
		}

		if err := v.TransitionTo(models.StatusAuthenticated, now); err != nil {
			return err
		}
		if err := g.store.UpdateVoter(ctx, v); err != nil {
			return fmt.Errorf("authenticate voter: %w", err)
		}
		msg.Authenticated = true
		msg.Modified = now
		if err := g.store.UpdateMessage(ctx, msg); err != nil {
			return fmt.Errorf("mark message authenticated: %w", err)
		}
		if err := g.deactivateSiblings(ctx, v, now); err != nil {
			return err
		}

		message := fmt.Sprintf("%d#%d", now.Unix(), v.ID)
		assertion = &models.AuthAssertion{Message: message, SHA1HMAC: g.signer.Sign(message)}
		return nil
	})
	if err != nil {
		return nil, g.fault(ctx, "sms_auth", err)
	}

	if rejection != nil {
		g.reject(ctx, "sms_auth", audit.EventTokenRejected, rejection,
			"tlf", req.Tlf,
			"ip", req.IP,
			"voter_id", fmt.Sprint(voterID),
		)
		return nil, rejection
	}

	if g.metrics != nil {
		g.metrics.IncrementAuthentications()
	}
	observability.LogAudit(ctx, g.logger, g.auditPublisher, audit.EventVoterAuthenticated,
		"tlf", req.Tlf,
		"ip", req.IP,
		"voter_id", fmt.Sprint(voterID),
	)
	return assertion, nil
}

// sentVoter picks the newest active sent voter for the phone. A voter that
// registered a national ID is only returned when the request carries the same
// one.
func (g *Gate) sentVoter(ctx context.Context, req models.AuthRequest) (*models.Voter, error) {
	voters, err := g.store.FindActiveVoters(ctx, ports.VoterQuery{
		ElectionID: g.cfg.ElectionID,
		Tlf:        req.Tlf,
		Statuses:   []models.VoterStatus{models.StatusSent},
	})
	if err != nil {
		return nil, fmt.Errorf("find sent voters: %w", err)
	}
	for _, v := range voters {
		if v.Tlf != req.Tlf {
			continue
		}
		if v.NationalID != "" && v.NationalID != req.NationalID {
			continue
		}
		return v, nil
	}
	return nil, nil
}

func (g *Gate) deactivateSiblings(ctx context.Context, v *models.Voter, now time.Time) error {
	siblings, err := g.store.FindActiveVoters(ctx, ports.VoterQuery{
		ElectionID: v.ElectionID,
		Tlf:        v.Tlf,
		NationalID: v.NationalID,
	})
	if err != nil {
		return fmt.Errorf("find sibling voters: %w", err)
	}
	for _, s := range siblings {
		if s.ID == v.ID {
			continue
		}
		s.Deactivate(now)
		if err := g.store.UpdateVoter(ctx, s); err != nil {
			return fmt.Errorf("deactivate sibling %d: %w", s.ID, err)
		}
	}
	return nil
}

// NotifyVote runs the notify pipeline and moves the authenticated voter it
// resolves to voted.
func (g *Gate) NotifyVote(ctx context.Context, req models.NotifyRequest) error {
	now := requestcontext.Now(ctx)

	var (
		rejection *dErrors.Error
		voterID   int64
	)
	err := g.serializer.Run(ctx, func(ctx context.Context) error {
		rejection, voterID = nil, 0
		pc := &pipeline.Context{
			IP:         req.IP,
			ElectionID: g.cfg.ElectionID,
			Now:        now,
			Identifier: req.Identifier,
			Proof:      req.Proof,
		}

		res, err := g.executor.Execute(ctx, pc, g.pipelines.Notify)
		if err != nil {
			return err
		}
		if res.Outcome == pipeline.Fail {
			rejection = res.Err
			return nil
		}

		v := pc.Voter
		if v == nil {
			rejection = dErrors.New(dErrors.CodeNotAuthenticated, "Voter is not authenticated")
			return nil
		}
		voterID = v.ID
		if err := v.TransitionTo(models.StatusVoted, now); err != nil {
			if errors.Is(err, sentinel.ErrInvalidState) {
				rejection = dErrors.New(dErrors.CodeNotAuthenticated, "Voter is not authenticated")
				return nil
			}
			return err
		}
		if err := g.store.UpdateVoter(ctx, v); err != nil {
			return fmt.Errorf("record vote: %w", err)
		}
		return nil
	})
	if err != nil {
		return g.fault(ctx, "notify_vote", err)
	}

	if rejection != nil {
		g.reject(ctx, "notify_vote", audit.EventVoteRejected, rejection,
			"ip", req.IP,
			"identifier", req.Identifier,
		)
		return rejection
	}

	if g.metrics != nil {
		g.metrics.IncrementVotesRecorded()
	}
	observability.LogAudit(ctx, g.logger, g.auditPublisher, audit.EventVoteRecorded,
		"voter_id", fmt.Sprint(voterID),
		"ip", req.IP,
	)
	return nil
}

func (g *Gate) generateToken() (string, error) {
	if g.cfg.AudioTokens {
		return token.GenerateAudio(g.cfg.TokenLength)
	}
	return token.Generate(g.cfg.TokenLength, token.DefaultAlphabet)
}

func (g *Gate) reportAutoBlacklist(ctx context.Context, pc *pipeline.Context, tlf string) {
	if pc == nil {
		return
	}
	for _, dim := range pc.AutoBlacklisted {
		value := tlf
		if dim == models.DimensionIP {
			value = pc.IP
		}
		if g.metrics != nil {
			g.metrics.IncrementAutoBlacklisted(string(dim))
		}
		observability.LogAudit(ctx, g.logger, g.auditPublisher, audit.EventAutoBlacklisted,
			"dimension", string(dim),
			"value", value,
			"ip", pc.IP,
		)
	}
}

func (g *Gate) reject(ctx context.Context, flow string, event audit.AuditEvent, rejection *dErrors.Error, attrs ...any) {
	if g.metrics != nil {
		g.metrics.IncrementRejections(flow, string(rejection.Code))
	}
	attrs = append(attrs, "reason", string(rejection.Code))
	observability.LogAudit(ctx, g.logger, g.auditPublisher, event, attrs...)
}

func (g *Gate) fault(ctx context.Context, flow string, err error) error {
	if g.metrics != nil && dErrors.Is(err, dErrors.CodeConflict) {
		g.metrics.IncrementSerializationExhausted()
	}
	g.logger.ErrorContext(ctx, "gate operation failed",
		"flow", flow,
		"request_id", requestcontext.RequestID(ctx),
		"error", err,
	)
	return wrapFault(err, "failed to process "+flow)
}

// wrapFault keeps coded errors (conflict, timeout) and hides everything else
// behind an internal error.
func wrapFault(err error, msg string) error {
	if _, ok := dErrors.As(err); ok {
		return err
	}
	return dErrors.Wrap(err, dErrors.CodeInternal, msg)
}
