package otel

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds the refinement loop instruments. A nil *Metrics records
// nothing, so callers never need to check.
type Metrics struct {
	SessionDuration  metric.Float64Histogram
	Attempts         metric.Int64Counter
	Sessions         metric.Int64Counter
	GenerateDuration metric.Float64Histogram
	VerifyDuration   metric.Float64Histogram
	GenerateRetries  metric.Int64Counter
	ActiveSessions   metric.Int64UpDownCounter
	FactsStored      metric.Int64Counter
	MemoryErrors     metric.Int64Counter
}

// NewMetrics creates all metric instruments from the given meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	m.SessionDuration, err = meter.Float64Histogram("refine.session.duration",
		metric.WithDescription("Refinement session duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	m.Attempts, err = meter.Int64Counter("refine.attempts",
		metric.WithDescription("Attempts recorded, by outcome"),
	)
	if err != nil {
		return nil, err
	}

	m.Sessions, err = meter.Int64Counter("refine.sessions",
		metric.WithDescription("Sessions finished, by terminal outcome"),
	)
	if err != nil {
		return nil, err
	}

	m.GenerateDuration, err = meter.Float64Histogram("refine.generate.duration",
		metric.WithDescription("Generation step duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	m.VerifyDuration, err = meter.Float64Histogram("refine.verify.duration",
		metric.WithDescription("Verification step duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	m.GenerateRetries, err = meter.Int64Counter("refine.generate.retries",
		metric.WithDescription("Generation calls retried after an infrastructure error"),
	)
	if err != nil {
		return nil, err
	}

	m.ActiveSessions, err = meter.Int64UpDownCounter("refine.sessions.active",
		metric.WithDescription("Number of sessions currently running"),
	)
	if err != nil {
		return nil, err
	}

	m.FactsStored, err = meter.Int64Counter("refine.memory.facts_stored",
		metric.WithDescription("Memory facts persisted"),
	)
	if err != nil {
		return nil, err
	}

	m.MemoryErrors, err = meter.Int64Counter("refine.memory.errors",
		metric.WithDescription("Memory side-channel failures swallowed"),
	)
	if err != nil {
		return nil, err
	}

	return m, nil
}

func (m *Metrics) SessionStarted(ctx context.Context) {
	if m == nil {
		return
	}
	m.ActiveSessions.Add(ctx, 1)
}

func (m *Metrics) SessionFinished(ctx context.Context, terminal string, elapsed time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(AttrTerminal.String(terminal))
	m.ActiveSessions.Add(ctx, -1)
	m.Sessions.Add(ctx, 1, attrs)
	m.SessionDuration.Record(ctx, elapsed.Seconds(), attrs)
}

func (m *Metrics) AttemptRecorded(ctx context.Context, outcome string) {
	if m == nil {
		return
	}
	m.Attempts.Add(ctx, 1, metric.WithAttributes(AttrOutcome.String(outcome)))
}

func (m *Metrics) GenerateObserved(ctx context.Context, elapsed time.Duration, failed bool) {
	if m == nil {
		return
	}
	m.GenerateDuration.Record(ctx, elapsed.Seconds(), metric.WithAttributes(attribute.Bool("error", failed)))
}

func (m *Metrics) GenerateRetried(ctx context.Context, class string) {
	if m == nil {
		return
	}
	m.GenerateRetries.Add(ctx, 1, metric.WithAttributes(attribute.String("class", class)))
}

func (m *Metrics) VerifyObserved(ctx context.Context, elapsed time.Duration, failed bool) {
	if m == nil {
		return
	}
	m.VerifyDuration.Record(ctx, elapsed.Seconds(), metric.WithAttributes(attribute.Bool("error", failed)))
}

func (m *Metrics) FactsPersisted(ctx context.Context, n int) {
	if m == nil || n == 0 {
		return
	}
	m.FactsStored.Add(ctx, int64(n))
}

func (m *Metrics) MemoryFailed(ctx context.Context, stage string) {
	if m == nil {
		return
	}
	m.MemoryErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("stage", stage)))
}
