package memory

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/basket/go-refine/internal/bus"
	otelPkg "github.com/basket/go-refine/internal/otel"
	"github.com/basket/go-refine/internal/shared"
)

// SideChannel extracts and stores facts from each incoming message. It never
// returns an error: every failure is logged and swallowed.
type SideChannel struct {
	Facts     FactStore
	Extractor Extractor
	Bus       *bus.Bus
	Logger    *slog.Logger
	Tracer    trace.Tracer
	Metrics   *otelPkg.Metrics
}

// Remember runs one extraction pass for message and returns how many facts
// were stored.
func (s *SideChannel) Remember(ctx context.Context, owner, message string) (stored int) {
	if s == nil || s.Facts == nil || s.Extractor == nil || owner == "" {
		return 0
	}
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "memory", "owner_key", owner, "trace_id", shared.TraceID(ctx))

	ctx, span := otelPkg.StartSpan(ctx, s.Tracer, otelPkg.SpanRemember, otelPkg.AttrOwnerKey.String(owner))
	defer span.End()

	fail := func(stage string, err error) {
		logger.Warn("memory extraction failed", "stage", stage, "error", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, stage)
		s.Metrics.MemoryFailed(ctx, stage)
	}
	defer func() {
		if r := recover(); r != nil {
			fail("panic", fmt.Errorf("recovered: %v", r))
		}
	}()

	existing, err := s.Facts.ListFacts(ctx, owner)
	if err != nil {
		fail("list", err)
		return 0
	}
	candidates, err := s.Extractor.Extract(ctx, existing, message)
	if err != nil {
		fail("extract", err)
		return 0
	}

	known := make(map[string]bool, len(existing)+len(candidates))
	for _, f := range existing {
		known[Normalize(f.Text)] = true
	}
	for _, c := range candidates {
		if !c.IsNew {
			continue
		}
		key := Normalize(c.Text)
		if key == "" || known[key] {
			continue
		}
		known[key] = true

		fact := NewFact(owner, c.Text)
		inserted, err := s.Facts.PutFact(ctx, fact)
		if err != nil {
			fail("put", err)
			continue
		}
		if !inserted {
			continue
		}
		stored++
		s.Bus.Publish(bus.TopicMemoryStored, bus.MemoryStoredEvent{
			OwnerKey: owner,
			FactID:   fact.ID,
			Text:     shared.Redact(fact.Text),
		})
	}
	s.Metrics.FactsPersisted(ctx, stored)
	if stored > 0 {
		logger.Info("memory facts stored", "count", stored)
	}
	return stored
}
