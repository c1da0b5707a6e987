// Package pipeline runs ordered, externally configured check steps.
//
// A step sees the shared *Context and its static params and answers Continue,
// Success (stop, accept) or Fail (stop, reject with a coded policy error).
// A returned Go error is a fault: execution stops and the caller aborts the
// whole operation.
package pipeline

import (
	"context"
	"fmt"
	"math"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"votegate/internal/gate/models"
	"votegate/internal/platform/config"
	dErrors "votegate/pkg/domain-errors"
)

// Outcome is the verdict of one step or of a whole pipeline.
type Outcome int

const (
	Continue Outcome = iota
	Success
	Fail
)

func (o Outcome) String() string {
	switch o {
	case Continue:
		return "continue"
	case Success:
		return "success"
	case Fail:
		return "fail"
	default:
		return "unknown"
	}
}

// Result carries the outcome and, for Fail, the policy error to report.
type Result struct {
	Outcome Outcome
	Err     *dErrors.Error
}

func Next() Result   { return Result{Outcome: Continue} }
func Accept() Result { return Result{Outcome: Success} }

func Reject(err *dErrors.Error) Result {
	return Result{Outcome: Fail, Err: err}
}

// Context is the only channel between steps. Fields are grouped by the flow
// that fills them; steps document which ones they read and write.
type Context struct {
	// Set by the caller for every flow.
	IP         string
	ElectionID int64
	Now        time.Time

	// Registration flow input.
	Identity models.Identity

	// Written by the color list steps and read by blacklisted.
	PhoneChecked     bool
	PhoneBlacklisted bool
	IPChecked        bool
	IPBlacklisted    bool
	IPWhitelisted    bool

	// Dimensions the rate limiter blacklisted during this run, so the caller
	// can report them once the transaction commits.
	AutoBlacklisted []models.Dimension

	// Notify flow input, and the voter resolved by check_vote_hmac.
	Identifier string
	Proof      string
	VoterID    int64
	Voter      *models.Voter
}

// Params are the static parameters configured for one step.
type Params map[string]any

// Int returns an integer parameter. YAML and JSON decoders produce different
// numeric types, all of which are accepted when integral.
func (p Params) Int(key string) (int, error) {
	raw, ok := p[key]
	if !ok {
		return 0, fmt.Errorf("missing parameter %q", key)
	}
	switch v := raw.(type) {
	case int:
		return v, nil
	case int64:
		return int(v), nil
	case uint64:
		return int(v), nil
	case float64:
		if v != math.Trunc(v) {
			return 0, fmt.Errorf("parameter %q must be an integer", key)
		}
		return int(v), nil
	default:
		return 0, fmt.Errorf("parameter %q must be an integer, got %T", key, raw)
	}
}

// CheckFunc is one pipeline step implementation.
type CheckFunc func(ctx context.Context, pc *Context, params Params) (Result, error)

// Step is a resolved, ready-to-run pipeline entry.
type Step struct {
	Name   string
	Check  CheckFunc
	Params Params
}

type registration struct {
	fn        CheckFunc
	intParams []string
}

// Registry maps check identifiers to implementations.
type Registry struct {
	checks map[string]registration
}

func NewRegistry() *Registry {
	return &Registry{checks: make(map[string]registration)}
}

// Register binds name to fn. intParams are checked at Resolve time so a
// misconfigured threshold fails start-up rather than a request.
func (r *Registry) Register(name string, fn CheckFunc, intParams ...string) {
	r.checks[name] = registration{fn: fn, intParams: intParams}
}

// Has reports whether name is registered.
func (r *Registry) Has(name string) bool {
	_, ok := r.checks[name]
	return ok
}

// Resolve binds configured steps to their implementations.
func (r *Registry) Resolve(cfgs []config.StepConfig) ([]Step, error) {
	steps := make([]Step, 0, len(cfgs))
	for i, c := range cfgs {
		reg, ok := r.checks[c.Check]
		if !ok {
			return nil, fmt.Errorf("pipeline step %d: unknown check %q", i, c.Check)
		}
		params := Params(c.Params)
		for _, key := range reg.intParams {
			if _, err := params.Int(key); err != nil {
				return nil, fmt.Errorf("pipeline step %d (%s): %w", i, c.Check, err)
			}
		}
		steps = append(steps, Step{Name: c.Check, Check: reg.fn, Params: params})
	}
	return steps, nil
}

// Observer is told about every executed step.
type Observer func(step string, outcome Outcome, elapsed time.Duration)

// Executor runs resolved steps.
type Executor struct {
	tracer   trace.Tracer
	observer Observer
}

type Option func(*Executor)

func WithTracer(t trace.Tracer) Option {
	return func(e *Executor) {
		e.tracer = t
	}
}

func WithObserver(o Observer) Option {
	return func(e *Executor) {
		e.observer = o
	}
}

func NewExecutor(opts ...Option) *Executor {
	e := &Executor{tracer: otel.Tracer("votegate/internal/gate/pipeline")}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute runs steps in order and stops at the first non-Continue result.
// An empty pipeline, or one where every step continues, succeeds.
func (e *Executor) Execute(ctx context.Context, pc *Context, steps []Step) (Result, error) {
	for _, step := range steps {
		res, err := e.run(ctx, pc, step)
		if err != nil {
			return Result{}, fmt.Errorf("pipeline step %s: %w", step.Name, err)
		}
		switch res.Outcome {
		case Continue:
			continue
		case Fail:
			if res.Err == nil {
				return Result{}, fmt.Errorf("pipeline step %s failed without an error", step.Name)
			}
			return res, nil
		default:
			return res, nil
		}
	}
	return Accept(), nil
}

func (e *Executor) run(ctx context.Context, pc *Context, step Step) (Result, error) {
	ctx, span := e.tracer.Start(ctx, "pipeline."+step.Name,
		trace.WithAttributes(attribute.String("pipeline.step", step.Name)))
	defer span.End()

	start := time.Now()
	res, err := step.Check(ctx, pc, step.Params)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "step fault")
		return Result{}, err
	}

	span.SetAttributes(attribute.String("pipeline.outcome", res.Outcome.String()))
	if res.Err != nil {
		span.SetAttributes(attribute.String("pipeline.error_code", string(res.Err.Code)))
	}
	if e.observer != nil {
		e.observer(step.Name, res.Outcome, time.Since(start))
	}
	return res, nil
}
