package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"votegate/internal/gate/checks"
	"votegate/internal/gate/dispatch"
	"votegate/internal/gate/handler"
	"votegate/internal/gate/metrics"
	"votegate/internal/gate/observability"
	"votegate/internal/gate/pipeline"
	"votegate/internal/gate/ports"
	"votegate/internal/gate/service"
	"votegate/internal/gate/sms"
	"votegate/internal/gate/store/memory"
	gatepostgres "votegate/internal/gate/store/postgres"
	"votegate/internal/gate/token"
	"votegate/internal/gate/validation"
	"votegate/internal/platform/admintoken"
	"votegate/internal/platform/config"
	platformmetrics "votegate/internal/platform/metrics"
	"votegate/internal/platform/postgres"
	redisclient "votegate/internal/platform/redis"
	"votegate/pkg/platform/audit"
	auditkafka "votegate/pkg/platform/audit/kafka"
	"votegate/pkg/platform/audit/publisher"
	auditpostgres "votegate/pkg/platform/audit/store/postgres"
	"votegate/pkg/platform/tx"
)

type app struct {
	router     http.Handler
	dispatcher *dispatch.Dispatcher
	closers    []func()
}

// close releases resources in reverse order of acquisition.
func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

func build(ctx context.Context, cfg *config.Config, log *slog.Logger) (a *app, err error) {
	a = &app{}
	defer func() {
		if err != nil {
			a.close()
		}
	}()

	reg := platformmetrics.NewRegistry(version)
	m := metrics.New(reg)
	health := map[string]handler.HealthCheck{}

	var (
		store ports.Store
		db    *sql.DB
	)
	if cfg.Database.URL != "" {
		db, err = postgres.Open(ctx, cfg.Database)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func() { _ = db.Close() })
		store = gatepostgres.New(db)
		health["postgres"] = db.PingContext
	} else {
		log.Warn("DATABASE_URL is not set, using the in-memory store")
		store = memory.New()
	}

	var queue dispatch.Queue
	rc, err := redisclient.New(ctx, cfg.Redis)
	if err != nil {
		return nil, err
	}
	if rc != nil {
		a.closers = append(a.closers, func() { _ = rc.Close() })
		queue = dispatch.NewRedisQueue(rc.Client, cfg.Redis.QueueKey)
		health["redis"] = rc.Health
	} else {
		log.Warn("REDIS_URL is not set, using the in-process SMS queue")
		queue = dispatch.NewMemoryQueue()
	}

	auditPublisher, err := newAuditPublisher(ctx, cfg, db, log, health, a)
	if err != nil {
		return nil, err
	}

	serializer := tx.NewSerializer(store,
		tx.WithMaxRetries(cfg.Gate.MaxSerializedRetries),
		tx.WithBackoff(tx.Backoff{
			Base: float64(cfg.Gate.SerializedRetryBaseMs),
			Unit: time.Millisecond,
			Max:  cfg.Gate.SerializedRetryMaxDelay,
		}),
		tx.WithLogger(log),
		tx.WithRetryHook(func(int, error) { m.IncrementSerializationRetries() }),
	)

	colors, err := service.NewColorListService(store, serializer,
		service.WithColorListLogger(log),
		service.WithColorListAuditPublisher(auditPublisher),
	)
	if err != nil {
		return nil, err
	}

	signer := token.NewSigner(cfg.Gate.SharedSecretKey)
	registry := pipeline.NewRegistry()
	checks.Register(registry, checks.Deps{
		Voters:    store,
		Messages:  store,
		ColorList: colors,
		Signer:    signer,
		SMSExpiry: cfg.Gate.SMSExpiry(),
	})
	pipelines, err := service.ResolvePipelines(registry, cfg.Pipelines)
	if err != nil {
		return nil, err
	}
	executor := pipeline.NewExecutor(pipeline.WithObserver(func(step string, outcome pipeline.Outcome, elapsed time.Duration) {
		m.ObserveStep(step, outcome.String(), elapsed)
	}))

	gate, err := service.New(store, serializer, queue, signer, pipelines, service.ConfigFrom(cfg),
		service.WithLogger(log),
		service.WithMetrics(m),
		service.WithAuditPublisher(auditPublisher),
		service.WithExecutor(executor),
	)
	if err != nil {
		return nil, err
	}

	provider, err := sms.New(cfg.SMS, log)
	if err != nil {
		return nil, err
	}
	a.dispatcher, err = dispatch.New(queue, store, serializer, provider, cfg.SMS,
		dispatch.WithLogger(log),
		dispatch.WithAuditPublisher(auditPublisher),
		dispatch.WithMetrics(m),
	)
	if err != nil {
		return nil, err
	}

	validator, err := validation.New(validation.Options{
		AllowedTlfPattern: cfg.Gate.AllowedTlfPattern,
		StrictPhone:       cfg.Gate.StrictPhoneValidation,
		DefaultRegion:     cfg.Gate.DefaultRegion,
	})
	if err != nil {
		return nil, err
	}

	var adminHandler *handler.AdminHandler
	if cfg.Admin.JWTSigningKey != "" {
		verifier := admintoken.New(cfg.Admin.JWTSigningKey, cfg.Admin.Issuer)
		adminHandler = handler.NewAdmin(colors, verifier, log)
	} else {
		log.Warn("ADMIN_JWT_KEY is not set, color list admin API disabled")
	}

	a.router = handler.NewRouter(handler.New(gate, validator, log), adminHandler, log, handler.RouterConfig{
		RealIPHeader: cfg.Server.RealIPHeader,
		Gatherer:     reg,
		Health:       health,
	})
	return a, nil
}

// newAuditPublisher sends audit events to Kafka when brokers are configured,
// otherwise to the audit_events table. Without either, events are only
// logged.
func newAuditPublisher(ctx context.Context, cfg *config.Config, db *sql.DB, log *slog.Logger, health map[string]handler.HealthCheck, a *app) (observability.AuditPublisher, error) {
	var sink audit.Sink
	switch {
	case len(cfg.Kafka.Brokers) > 0:
		ks, err := auditkafka.NewSink(cfg.Kafka.Brokers, cfg.Kafka.AuditTopic)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, ks.Close)
		if err := ks.EnsureTopic(ctx, -1, -1); err != nil {
			return nil, fmt.Errorf("audit sink: %w", err)
		}
		health["kafka"] = ks.Health
		sink = ks
	case db != nil:
		sink = auditpostgres.New(db)
	default:
		log.Warn("no audit sink configured, audit events are only logged")
		return nil, nil
	}

	sampler := publisher.NewSampler(cfg.Audit.OpsSampleRate)
	p := publisher.NewPublisher(sink,
		publisher.WithAsyncBuffer(cfg.Audit.BufferSize),
		publisher.WithLogger(log),
		publisher.WithSampler(sampler),
	)
	a.closers = append(a.closers, p.Close)
	return p, nil
}
