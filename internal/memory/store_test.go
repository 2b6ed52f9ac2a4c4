package memory

import (
	"context"
	"errors"
	"sync"
)

// factMap is an in-memory AdminStore for tests.
type factMap struct {
	mu      sync.Mutex
	facts   map[string]Fact
	listErr error
	putErr  error
	puts    int
}

func newFactMap(existing ...Fact) *factMap {
	m := &factMap{facts: map[string]Fact{}}
	for _, f := range existing {
		m.facts[f.ID] = f
	}
	return m
}

func (m *factMap) ListFacts(_ context.Context, owner string) ([]Fact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listErr != nil {
		return nil, m.listErr
	}
	var out []Fact
	for _, f := range m.facts {
		if f.OwnerKey == owner {
			out = append(out, f)
		}
	}
	return out, nil
}

func (m *factMap) PutFact(_ context.Context, f Fact) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.puts++
	if m.putErr != nil {
		return false, m.putErr
	}
	if _, ok := m.facts[f.ID]; ok {
		return false, nil
	}
	m.facts[f.ID] = f
	return true, nil
}

func (m *factMap) DeleteFact(_ context.Context, owner, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.facts[id]
	if !ok || f.OwnerKey != owner {
		return false, nil
	}
	delete(m.facts, id)
	return true, nil
}

func (m *factMap) DeleteFacts(_ context.Context, owner string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for id, f := range m.facts {
		if f.OwnerKey == owner {
			delete(m.facts, id)
			n++
		}
	}
	return n, nil
}

var errBoom = errors.New("boom")
