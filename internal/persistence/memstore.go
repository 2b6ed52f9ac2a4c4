package persistence

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/basket/go-refine/internal/engine"
	"github.com/basket/go-refine/internal/memory"
)

// MemStore keeps everything in process memory. Sessions are stored as JSON
// snapshots so callers never share a *engine.Session with the store.
type MemStore struct {
	mu       sync.RWMutex
	facts    map[string]memory.Fact
	sessions map[string][]byte
	messages map[string][]engine.Message
}

func NewMemStore() *MemStore {
	return &MemStore{
		facts:    make(map[string]memory.Fact),
		sessions: make(map[string][]byte),
		messages: make(map[string][]engine.Message),
	}
}

func (m *MemStore) ListFacts(_ context.Context, owner string) ([]memory.Fact, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []memory.Fact
	for _, f := range m.facts {
		if f.OwnerKey == owner {
			out = append(out, f)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (m *MemStore) PutFact(_ context.Context, f memory.Fact) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.facts[f.ID]; ok {
		return false, nil
	}
	m.facts[f.ID] = f
	return true, nil
}

func (m *MemStore) DeleteFact(_ context.Context, owner, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.facts[id]
	if !ok || f.OwnerKey != owner {
		return false, nil
	}
	delete(m.facts, id)
	return true, nil
}

func (m *MemStore) DeleteFacts(_ context.Context, owner string) (int, error) {
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

func (m *MemStore) SaveSession(_ context.Context, sess *engine.Session) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	m.mu.Lock()
	m.sessions[sess.ID()] = data
	m.mu.Unlock()
	return nil
}

func (m *MemStore) LoadSession(_ context.Context, id string) (*engine.Session, error) {
	m.mu.RLock()
	data, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", engine.ErrSessionNotFound, id)
	}
	return decodeSession(data)
}

func (m *MemStore) ListSessions(_ context.Context, limit int) ([]SessionSummary, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]SessionSummary, 0, len(m.sessions))
	for _, data := range m.sessions {
		sess, err := decodeSession(data)
		if err != nil {
			return nil, err
		}
		out = append(out, summarize(sess))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemStore) CleanupFinishedSessions(_ context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().Add(-olderThan)
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, data := range m.sessions {
		sess, err := decodeSession(data)
		if err != nil {
			return n, err
		}
		if sess.Done() && sess.UpdatedAt().Before(cutoff) {
			delete(m.sessions, id)
			n++
		}
	}
	return n, nil
}

func (m *MemStore) AppendMessages(_ context.Context, threadID string, msgs ...engine.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages[threadID] = append(m.messages[threadID], msgs...)
	return nil
}

func (m *MemStore) LoadMessages(_ context.Context, threadID string, limit int) ([]engine.Message, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	all := m.messages[threadID]
	if len(all) > limit {
		all = all[len(all)-limit:]
	}
	out := make([]engine.Message, len(all))
	copy(out, all)
	return out, nil
}
