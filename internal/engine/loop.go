package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/basket/go-refine/internal/bus"
	"github.com/basket/go-refine/internal/config"
	otelPkg "github.com/basket/go-refine/internal/otel"
	"github.com/basket/go-refine/internal/shared"
)

// Generator produces the next artifact from the session input and every
// attempt recorded so far. An error means the collaborator itself failed,
// not that it produced a bad artifact.
type Generator interface {
	Generate(ctx context.Context, input string, history []Attempt) (string, error)
}

// Verifier judges one artifact. Expected failures are reported as a Failure
// outcome; an error is reserved for the verifier itself breaking.
type Verifier interface {
	Verify(ctx context.Context, artifact string) (Outcome, error)
}

type GeneratorFunc func(ctx context.Context, input string, history []Attempt) (string, error)

func (f GeneratorFunc) Generate(ctx context.Context, input string, history []Attempt) (string, error) {
	return f(ctx, input, history)
}

type VerifierFunc func(ctx context.Context, artifact string) (Outcome, error)

func (f VerifierFunc) Verify(ctx context.Context, artifact string) (Outcome, error) {
	return f(ctx, artifact)
}

// SessionStore checkpoints sessions so they can be resumed after a restart.
// LoadSession returns ErrSessionNotFound for unknown ids.
type SessionStore interface {
	SaveSession(ctx context.Context, s *Session) error
	LoadSession(ctx context.Context, id string) (*Session, error)
}

// Result is what the caller gets back once a session stops.
type Result struct {
	SessionID  string
	Terminal   Terminal
	History    []Attempt
	Iterations int
}

func resultOf(s *Session) *Result {
	t, _ := s.Terminal()
	return &Result{
		SessionID:  s.ID(),
		Terminal:   t,
		History:    s.History(),
		Iterations: s.IterationCount(),
	}
}

type DriverOptions struct {
	Config  config.LoopConfig
	Store   SessionStore
	Bus     *bus.Bus
	Logger  *slog.Logger
	Tracer  trace.Tracer
	Metrics *otelPkg.Metrics
}

// Driver runs the generate, verify, decide loop for sessions. One Driver may
// run many sessions concurrently; each session is driven sequentially.
type Driver struct {
	gen     Generator
	ver     Verifier
	cfg     config.LoopConfig
	store   SessionStore
	bus     *bus.Bus
	logger  *slog.Logger
	tracer  trace.Tracer
	metrics *otelPkg.Metrics
	backoff backoff
}

func NewDriver(gen Generator, ver Verifier, opts DriverOptions) *Driver {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	tracer := opts.Tracer
	if tracer == nil {
		tracer = otelPkg.NoopTracer()
	}
	return &Driver{
		gen:     gen,
		ver:     ver,
		cfg:     opts.Config,
		store:   opts.Store,
		bus:     opts.Bus,
		logger:  logger,
		tracer:  tracer,
		metrics: opts.Metrics,
		backoff: backoff{base: opts.Config.RetryBaseDelay, max: opts.Config.RetryMaxDelay},
	}
}

// Run starts a new session for input and drives it to a terminal outcome.
func (d *Driver) Run(ctx context.Context, input string, iterationCap int) (*Result, error) {
	s, err := NewSession("", input, iterationCap)
	if err != nil {
		return nil, err
	}
	return d.RunSession(ctx, s)
}

// Resume loads a checkpointed session and continues it. A session that
// already finished returns its stored result without calling collaborators.
func (d *Driver) Resume(ctx context.Context, sessionID string) (*Result, error) {
	if d.store == nil {
		return nil, ErrNoStore
	}
	s, err := d.store.LoadSession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("load session %s: %w", sessionID, err)
	}
	return d.RunSession(ctx, s)
}

// RunSession drives s until the router stops it or ctx is cancelled.
// Verification failures and exhaustion are results, not errors. The only
// error returned is a collaborator infrastructure failure (*StepError), in
// which case s is left unfinished and can be resumed.
func (d *Driver) RunSession(ctx context.Context, s *Session) (*Result, error) {
	if s.Done() {
		return resultOf(s), nil
	}

	ctx = shared.WithSessionID(ctx, s.ID())
	if shared.TraceID(ctx) == "-" {
		ctx = shared.WithTraceID(ctx, shared.NewTraceID())
	}
	logger := d.logger.With("session_id", s.ID(), "trace_id", shared.TraceID(ctx))

	ctx, span := otelPkg.StartSpan(ctx, d.tracer, otelPkg.SpanSession,
		otelPkg.AttrSessionID.String(s.ID()),
		otelPkg.AttrIterationCap.Int(s.IterationCap()),
	)
	defer span.End()

	started := time.Now()
	outcomeLabel := "FAILED"
	d.metrics.SessionStarted(ctx)
	defer func() {
		d.metrics.SessionFinished(context.WithoutCancel(ctx), outcomeLabel, time.Since(started))
	}()

	d.bus.Publish(bus.TopicSessionStarted, bus.SessionEvent{
		SessionID:    s.ID(),
		Sequence:     s.IterationCount(),
		IterationCap: s.IterationCap(),
	})
	logger.Info("session started", "iteration_cap", s.IterationCap(), "resumed_at", s.IterationCount())

	for {
		// Cancellation is only observed between attempts; nothing partial is recorded.
		if ctx.Err() != nil {
			return d.finish(ctx, logger, span, s, CancelledTerminal(s), &outcomeLabel)
		}
		seq := s.IterationCount() + 1

		artifact, err := d.generate(ctx, logger, s, seq)
		if err != nil {
			if ctx.Err() != nil {
				return d.finish(ctx, logger, span, s, CancelledTerminal(s), &outcomeLabel)
			}
			return nil, d.fail(ctx, logger, span, s, err)
		}

		outcome, err := d.verify(ctx, s, seq, artifact)
		if err != nil {
			if ctx.Err() != nil {
				return d.finish(ctx, logger, span, s, CancelledTerminal(s), &outcomeLabel)
			}
			return nil, d.fail(ctx, logger, span, s, err)
		}

		attempt, err := s.Append(artifact, outcome)
		if err != nil {
			return nil, d.fail(ctx, logger, span, s, fmt.Errorf("record attempt %d: %w", seq, err))
		}
		d.checkpoint(ctx, logger, s)
		d.metrics.AttemptRecorded(ctx, string(outcome.Kind))
		d.bus.Publish(bus.TopicSessionAttempt, bus.SessionEvent{
			SessionID:    s.ID(),
			Sequence:     attempt.Sequence,
			IterationCap: s.IterationCap(),
			Outcome:      string(outcome.Kind),
			Detail:       shared.Redact(outcome.Detail),
		})

		decision := Route(s)
		logger.Info("attempt recorded",
			"sequence", attempt.Sequence,
			"outcome", outcome.Kind,
			"source", outcome.Source,
			"decision", decision.String(),
		)
		switch decision {
		case DecisionStopSuccess:
			return d.finish(ctx, logger, span, s, SucceededTerminal(attempt), &outcomeLabel)
		case DecisionStopExhausted:
			return d.finish(ctx, logger, span, s, ExhaustedTerminal(s), &outcomeLabel)
		}
	}
}

// generate calls the generator, retrying retryable infrastructure errors
// with backoff. Retries never consume an attempt.
func (d *Driver) generate(ctx context.Context, logger *slog.Logger, s *Session, seq int) (string, error) {
	history := s.History()
	maxCalls := d.cfg.GenerationRetries + 1
	if maxCalls < 1 {
		maxCalls = 1
	}
	for call := 1; ; call++ {
		artifact, err := d.callGenerator(ctx, s, seq, history)
		if err == nil {
			return artifact, nil
		}
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		class := ClassifyError(err)
		if !class.Retryable() || call >= maxCalls {
			return "", &StepError{Step: StepGenerate, SessionID: s.ID(), Sequence: seq, Class: class, Calls: call, Err: err}
		}
		delay := d.backoff.delay(call - 1)
		logger.Warn("generation failed, retrying",
			"sequence", seq,
			"call", call,
			"class", class,
			"delay", delay,
			"error", err,
		)
		d.metrics.GenerateRetried(ctx, string(class))
		if err := sleep(ctx, delay); err != nil {
			return "", err
		}
	}
}

func (d *Driver) callGenerator(ctx context.Context, s *Session, seq int, history []Attempt) (string, error) {
	ctx, span := otelPkg.StartSpan(ctx, d.tracer, otelPkg.SpanGenerate,
		otelPkg.AttrSessionID.String(s.ID()),
		otelPkg.AttrSequence.Int(seq),
	)
	defer span.End()
	if d.cfg.GenerateTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.cfg.GenerateTimeout)
		defer cancel()
	}

	started := time.Now()
	artifact, err := d.gen.Generate(ctx, s.Input(), history)
	d.metrics.GenerateObserved(ctx, time.Since(started), err != nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "generate failed")
	}
	return artifact, err
}

func (d *Driver) verify(ctx context.Context, s *Session, seq int, artifact string) (Outcome, error) {
	ctx, span := otelPkg.StartSpan(ctx, d.tracer, otelPkg.SpanVerify,
		otelPkg.AttrSessionID.String(s.ID()),
		otelPkg.AttrSequence.Int(seq),
	)
	defer span.End()
	if d.cfg.VerifyTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.cfg.VerifyTimeout)
		defer cancel()
	}

	started := time.Now()
	outcome, err := d.ver.Verify(ctx, artifact)
	if err == nil && outcome.Kind != OutcomeSuccess && outcome.Kind != OutcomeFailure {
		err = fmt.Errorf("%w: kind %q", ErrUnresolvedOutcome, outcome.Kind)
	}
	d.metrics.VerifyObserved(ctx, time.Since(started), err != nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "verify failed")
		return Outcome{}, &StepError{Step: StepVerify, SessionID: s.ID(), Sequence: seq, Class: ClassifyError(err), Calls: 1, Err: err}
	}
	span.SetAttributes(otelPkg.AttrOutcome.String(string(outcome.Kind)))
	return outcome, nil
}

func (d *Driver) finish(ctx context.Context, logger *slog.Logger, span trace.Span, s *Session, t Terminal, label *string) (*Result, error) {
	if err := s.Finalize(t); err != nil {
		return nil, err
	}
	*label = string(t.Kind)
	d.checkpoint(ctx, logger, s)
	span.SetAttributes(otelPkg.AttrTerminal.String(string(t.Kind)))
	d.bus.Publish(bus.TopicSessionFinished, bus.SessionEvent{
		SessionID:    s.ID(),
		Sequence:     s.IterationCount(),
		IterationCap: s.IterationCap(),
		Terminal:     string(t.Kind),
		Detail:       shared.Redact(t.LastDetail),
	})
	logger.Info("session finished", "terminal", t.Kind, "iterations", s.IterationCount())
	return resultOf(s), nil
}

func (d *Driver) fail(ctx context.Context, logger *slog.Logger, span trace.Span, s *Session, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, "session failed")
	d.checkpoint(ctx, logger, s)
	d.bus.Publish(bus.TopicSessionFailed, bus.SessionEvent{
		SessionID:    s.ID(),
		Sequence:     s.IterationCount(),
		IterationCap: s.IterationCap(),
		Error:        shared.Redact(err.Error()),
	})
	var stepErr *StepError
	if errors.As(err, &stepErr) {
		logger.Error("session aborted", "step", stepErr.Step, "class", stepErr.Class, "calls", stepErr.Calls, "error", err)
	} else {
		logger.Error("session aborted", "error", err)
	}
	return err
}

// checkpoint saves s even when ctx is already cancelled; failures are logged.
func (d *Driver) checkpoint(ctx context.Context, logger *slog.Logger, s *Session) {
	if d.store == nil {
		return
	}
	if err := d.store.SaveSession(context.WithoutCancel(ctx), s); err != nil {
		logger.Error("failed to save session checkpoint", "sequence", s.IterationCount(), "error", err)
	}
}
