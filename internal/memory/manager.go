package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
)

var ErrFactNotFound = errors.New("memory fact not found")

// Manager offers maintenance operations over an owner's facts.
type Manager struct {
	Store AdminStore
}

func NewManager(store AdminStore) *Manager {
	return &Manager{Store: store}
}

// List returns an owner's facts, oldest first.
func (m *Manager) List(ctx context.Context, owner string) ([]Fact, error) {
	facts, err := m.Store.ListFacts(ctx, owner)
	if err != nil {
		return nil, fmt.Errorf("list facts: %w", err)
	}
	sort.SliceStable(facts, func(i, j int) bool {
		return facts[i].CreatedAt.Before(facts[j].CreatedAt)
	})
	return facts, nil
}

// Search returns facts whose text contains query, ignoring case.
func (m *Manager) Search(ctx context.Context, owner, query string) ([]Fact, error) {
	facts, err := m.List(ctx, owner)
	if err != nil {
		return nil, err
	}
	q := strings.ToLower(strings.TrimSpace(query))
	var out []Fact
	for _, f := range facts {
		if strings.Contains(strings.ToLower(f.Text), q) {
			out = append(out, f)
		}
	}
	return out, nil
}

func (m *Manager) Delete(ctx context.Context, owner, id string) error {
	ok, err := m.Store.DeleteFact(ctx, owner, id)
	if err != nil {
		return fmt.Errorf("delete fact: %w", err)
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrFactNotFound, id)
	}
	return nil
}

func (m *Manager) DeleteAll(ctx context.Context, owner string) (int, error) {
	n, err := m.Store.DeleteFacts(ctx, owner)
	if err != nil {
		return 0, fmt.Errorf("delete facts: %w", err)
	}
	return n, nil
}

func (m *Manager) Count(ctx context.Context, owner string) (int, error) {
	facts, err := m.Store.ListFacts(ctx, owner)
	if err != nil {
		return 0, fmt.Errorf("list facts: %w", err)
	}
	return len(facts), nil
}
