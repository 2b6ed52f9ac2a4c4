package memory

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/basket/go-refine/internal/bus"
	otelPkg "github.com/basket/go-refine/internal/otel"
)

func fixedExtractor(cands ...Candidate) Extractor {
	return ExtractorFunc(func(context.Context, []Fact, string) ([]Candidate, error) {
		return cands, nil
	})
}

func TestRemember_DuplicateNotPersisted(t *testing.T) {
	store := newFactMap(NewFact("user_1", "likes Python"))
	sc := &SideChannel{Facts: store, Extractor: RuleExtractor{}}

	if n := sc.Remember(context.Background(), "user_1", "I like Python"); n != 0 {
		t.Fatalf("stored %d facts, want 0", n)
	}
	if store.puts != 0 {
		t.Fatalf("PutFact called %d times", store.puts)
	}
}

func TestRemember_NewFactPersistedOnce(t *testing.T) {
	store := newFactMap(NewFact("user_1", "likes Python"))
	b := bus.New()
	sub := b.Subscribe(bus.TopicMemoryStored)
	defer b.Unsubscribe(sub)
	sc := &SideChannel{Facts: store, Extractor: RuleExtractor{}, Bus: b}

	if n := sc.Remember(context.Background(), "user_1", "I live in Lisbon. I live in Lisbon!"); n != 1 {
		t.Fatalf("stored %d facts, want 1", n)
	}
	facts, _ := store.ListFacts(context.Background(), "user_1")
	if len(facts) != 2 {
		t.Fatalf("facts = %+v", facts)
	}
	ev := (<-sub.Ch()).Payload.(bus.MemoryStoredEvent)
	if ev.OwnerKey != "user_1" || ev.Text != "lives in Lisbon" || ev.FactID != FactID("user_1", "lives in Lisbon") {
		t.Fatalf("event = %+v", ev)
	}

	// A second pass sees the stored fact and writes nothing.
	if n := sc.Remember(context.Background(), "user_1", "I live in Lisbon"); n != 0 {
		t.Fatalf("second pass stored %d", n)
	}
}

func TestRemember_SkipsNotNewAndBatchDuplicates(t *testing.T) {
	store := newFactMap()
	sc := &SideChannel{Facts: store, Extractor: fixedExtractor(
		Candidate{Text: "likes tea", IsNew: true},
		Candidate{Text: "Likes tea.", IsNew: true},
		Candidate{Text: "likes coffee", IsNew: false},
		Candidate{Text: "   ", IsNew: true},
	)}
	if n := sc.Remember(context.Background(), "u", "whatever"); n != 1 {
		t.Fatalf("stored %d, want 1", n)
	}
	if store.puts != 1 {
		t.Fatalf("puts = %d", store.puts)
	}
}

func TestRemember_ExtractorClaimsNewButAlreadyKnown(t *testing.T) {
	store := newFactMap(NewFact("u", "likes tea"))
	sc := &SideChannel{Facts: store, Extractor: fixedExtractor(Candidate{Text: "likes TEA", IsNew: true})}
	if n := sc.Remember(context.Background(), "u", "x"); n != 0 {
		t.Fatalf("stored %d, want 0", n)
	}
}

func TestRemember_OwnersArePartitioned(t *testing.T) {
	store := newFactMap(NewFact("alice", "likes Python"))
	sc := &SideChannel{Facts: store, Extractor: RuleExtractor{}}
	if n := sc.Remember(context.Background(), "bob", "I like Python"); n != 1 {
		t.Fatalf("stored %d, want 1", n)
	}
}

func TestRemember_FailuresAreSwallowed(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	metrics, err := otelPkg.NewMetrics(provider.Meter("test"))
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	listFail := newFactMap()
	listFail.listErr = errBoom
	putFail := newFactMap()
	putFail.putErr = errBoom

	cases := []struct {
		name string
		sc   *SideChannel
	}{
		{"list", &SideChannel{Facts: listFail, Extractor: RuleExtractor{}, Metrics: metrics}},
		{"extract", &SideChannel{Facts: newFactMap(), Extractor: ExtractorFunc(func(context.Context, []Fact, string) ([]Candidate, error) {
			return nil, errBoom
		}), Metrics: metrics}},
		{"put", &SideChannel{Facts: putFail, Extractor: RuleExtractor{}, Metrics: metrics}},
		{"panic", &SideChannel{Facts: newFactMap(), Extractor: ExtractorFunc(func(context.Context, []Fact, string) ([]Candidate, error) {
			panic("extractor bug")
		}), Metrics: metrics}},
	}
	for _, tc := range cases {
		if n := tc.sc.Remember(context.Background(), "u", "I like tea"); n != 0 {
			t.Errorf("%s: stored %d", tc.name, n)
		}
	}

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("collect: %v", err)
	}
	stages := map[string]int64{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != "refine.memory.errors" {
				continue
			}
			for _, dp := range m.Data.(metricdata.Sum[int64]).DataPoints {
				v, _ := dp.Attributes.Value(attribute.Key("stage"))
				stages[v.AsString()] += dp.Value
			}
		}
	}
	for _, stage := range []string{"list", "extract", "put", "panic"} {
		if stages[stage] != 1 {
			t.Errorf("stage %s errors = %d, want 1", stage, stages[stage])
		}
	}
}

func TestRemember_NilSafe(t *testing.T) {
	var sc *SideChannel
	if sc.Remember(context.Background(), "u", "I like tea") != 0 {
		t.Fatal("nil side-channel should store nothing")
	}
	if (&SideChannel{Facts: newFactMap(), Extractor: RuleExtractor{}}).Remember(context.Background(), "", "I like tea") != 0 {
		t.Fatal("empty owner should store nothing")
	}
}
