package persistence

import (
	"context"
	"fmt"

	"github.com/basket/go-refine/internal/memory"
)

func (s *Store) ListFacts(ctx context.Context, owner string) ([]memory.Fact, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, owner_key, text, created_at
		FROM memory_facts
		WHERE owner_key = ?
		ORDER BY created_at ASC, id ASC;
	`, owner)
	if err != nil {
		return nil, fmt.Errorf("query facts: %w", err)
	}
	defer rows.Close()

	var out []memory.Fact
	for rows.Next() {
		var f memory.Fact
		if err := rows.Scan(&f.ID, &f.OwnerKey, &f.Text, &f.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan fact: %w", err)
		}
		out = append(out, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("fact rows: %w", err)
	}
	return out, nil
}

// PutFact inserts f unless its ID already exists.
func (s *Store) PutFact(ctx context.Context, f memory.Fact) (bool, error) {
	var inserted bool
	err := retryOnBusy(ctx, busyRetries, func() error {
		res, err := s.db.ExecContext(ctx, `
			INSERT INTO memory_facts (id, owner_key, text, created_at)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(id) DO NOTHING;
		`, f.ID, f.OwnerKey, f.Text, f.CreatedAt.UTC())
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		inserted = n > 0
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("insert fact: %w", err)
	}
	return inserted, nil
}

func (s *Store) DeleteFact(ctx context.Context, owner, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM memory_facts WHERE owner_key = ? AND id = ?;`, owner, id)
	if err != nil {
		return false, fmt.Errorf("delete fact: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete fact: %w", err)
	}
	return n > 0, nil
}

func (s *Store) DeleteFacts(ctx context.Context, owner string) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM memory_facts WHERE owner_key = ?;`, owner)
	if err != nil {
		return 0, fmt.Errorf("delete facts: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete facts: %w", err)
	}
	return int(n), nil
}
