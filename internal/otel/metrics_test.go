package otel

import (
	"context"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Metrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("collect: %v", err)
	}
	out := make(map[string]metricdata.Metrics)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m
		}
	}
	return out
}

func sumValue(t *testing.T, m metricdata.Metrics) int64 {
	t.Helper()
	sum, ok := m.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("%s: data type %T, want Sum[int64]", m.Name, m.Data)
	}
	var total int64
	for _, dp := range sum.DataPoints {
		total += dp.Value
	}
	return total
}

func TestMetrics_RecordSessionLifecycle(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	defer mp.Shutdown(context.Background())

	m, err := NewMetrics(mp.Meter(MeterName))
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	ctx := context.Background()
	m.SessionStarted(ctx)
	m.GenerateObserved(ctx, 10*time.Millisecond, false)
	m.VerifyObserved(ctx, 5*time.Millisecond, false)
	m.AttemptRecorded(ctx, "FAILURE")
	m.GenerateRetried(ctx, "RATE_LIMIT")
	m.AttemptRecorded(ctx, "SUCCESS")
	m.SessionFinished(ctx, "SUCCEEDED", time.Second)
	m.FactsPersisted(ctx, 2)
	m.FactsPersisted(ctx, 0)
	m.MemoryFailed(ctx, "extract")

	got := collect(t, reader)
	if v := sumValue(t, got["refine.attempts"]); v != 2 {
		t.Fatalf("attempts = %d, want 2", v)
	}
	if v := sumValue(t, got["refine.sessions"]); v != 1 {
		t.Fatalf("sessions = %d, want 1", v)
	}
	if v := sumValue(t, got["refine.sessions.active"]); v != 0 {
		t.Fatalf("active sessions = %d, want 0", v)
	}
	if v := sumValue(t, got["refine.generate.retries"]); v != 1 {
		t.Fatalf("retries = %d, want 1", v)
	}
	if v := sumValue(t, got["refine.memory.facts_stored"]); v != 2 {
		t.Fatalf("facts stored = %d, want 2", v)
	}
	if v := sumValue(t, got["refine.memory.errors"]); v != 1 {
		t.Fatalf("memory errors = %d, want 1", v)
	}
	for _, name := range []string{"refine.session.duration", "refine.generate.duration", "refine.verify.duration"} {
		if _, ok := got[name]; !ok {
			t.Fatalf("missing histogram %s", name)
		}
	}
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	ctx := context.Background()
	m.SessionStarted(ctx)
	m.AttemptRecorded(ctx, "SUCCESS")
	m.SessionFinished(ctx, "SUCCEEDED", time.Second)
	m.MemoryFailed(ctx, "store")
}

func TestNewMetrics_NoopMeter(t *testing.T) {
	p, err := Init(context.Background(), Config{Enabled: false})
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	defer p.Shutdown(context.Background())

	m, err := NewMetrics(p.Meter)
	if err != nil {
		t.Fatalf("NewMetrics with noop: %v", err)
	}
	if m == nil {
		t.Fatal("expected non-nil Metrics")
	}
}
