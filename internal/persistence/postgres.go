package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/basket/go-refine/internal/engine"
	"github.com/basket/go-refine/internal/memory"
)

const pgSchema = `
CREATE TABLE IF NOT EXISTS refine_sessions (
	id TEXT PRIMARY KEY,
	input TEXT NOT NULL,
	iteration_cap INTEGER NOT NULL CHECK (iteration_cap >= 1),
	iterations INTEGER NOT NULL DEFAULT 0,
	terminal TEXT,
	state JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS refine_memory_facts (
	id TEXT PRIMARY KEY,
	owner_key TEXT NOT NULL,
	text TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_refine_memory_facts_owner ON refine_memory_facts (owner_key, created_at);
`

// PGStore keeps sessions and memory facts in Postgres for deployments where
// several processes share one fact store.
type PGStore struct {
	pool *pgxpool.Pool
}

// OpenPostgres connects, pings and applies the idempotent schema.
func OpenPostgres(ctx context.Context, databaseURL string) (*PGStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if _, err := pool.Exec(ctx, pgSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("execute migration: %w", err)
	}
	return &PGStore{pool: pool}, nil
}

func (p *PGStore) Close() error {
	p.pool.Close()
	return nil
}

func (p *PGStore) ListFacts(ctx context.Context, owner string) ([]memory.Fact, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT id, owner_key, text, created_at
		FROM refine_memory_facts
		WHERE owner_key = $1
		ORDER BY created_at, id
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
	return out, rows.Err()
}

func (p *PGStore) PutFact(ctx context.Context, f memory.Fact) (bool, error) {
	tag, err := p.pool.Exec(ctx, `
		INSERT INTO refine_memory_facts (id, owner_key, text, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO NOTHING
	`, f.ID, f.OwnerKey, f.Text, f.CreatedAt)
	if err != nil {
		return false, fmt.Errorf("insert fact: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (p *PGStore) DeleteFact(ctx context.Context, owner, id string) (bool, error) {
	tag, err := p.pool.Exec(ctx, `DELETE FROM refine_memory_facts WHERE owner_key = $1 AND id = $2`, owner, id)
	if err != nil {
		return false, fmt.Errorf("delete fact: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (p *PGStore) DeleteFacts(ctx context.Context, owner string) (int, error) {
	tag, err := p.pool.Exec(ctx, `DELETE FROM refine_memory_facts WHERE owner_key = $1`, owner)
	if err != nil {
		return 0, fmt.Errorf("delete facts: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (p *PGStore) SaveSession(ctx context.Context, sess *engine.Session) error {
	state, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	sum := summarize(sess)
	var terminal *string
	if sum.Terminal != "" {
		terminal = &sum.Terminal
	}
	_, err = p.pool.Exec(ctx, `
		INSERT INTO refine_sessions (id, input, iteration_cap, iterations, terminal, state, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			iterations = EXCLUDED.iterations,
			terminal = EXCLUDED.terminal,
			state = EXCLUDED.state,
			updated_at = EXCLUDED.updated_at
	`, sum.ID, sum.Input, sum.IterationCap, sum.Iterations, terminal, state, sum.CreatedAt, sum.UpdatedAt)
	if err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

func (p *PGStore) LoadSession(ctx context.Context, id string) (*engine.Session, error) {
	var state []byte
	err := p.pool.QueryRow(ctx, `SELECT state FROM refine_sessions WHERE id = $1`, id).Scan(&state)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", engine.ErrSessionNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	return decodeSession(state)
}
