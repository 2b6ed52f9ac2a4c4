package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/basket/go-refine/internal/bus"
	"github.com/basket/go-refine/internal/engine"
)

// SessionSummary is a listing row for a stored session.
type SessionSummary struct {
	ID           string    `json:"id"`
	Input        string    `json:"input"`
	IterationCap int       `json:"iteration_cap"`
	Iterations   int       `json:"iterations"`
	Terminal     string    `json:"terminal,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func summarize(sess *engine.Session) SessionSummary {
	sum := SessionSummary{
		ID:           sess.ID(),
		Input:        sess.Input(),
		IterationCap: sess.IterationCap(),
		Iterations:   sess.IterationCount(),
		CreatedAt:    sess.CreatedAt().UTC(),
		UpdatedAt:    sess.UpdatedAt().UTC(),
	}
	if t, ok := sess.Terminal(); ok {
		sum.Terminal = string(t.Kind)
	}
	return sum
}

func decodeSession(data []byte) (*engine.Session, error) {
	var sess engine.Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	return &sess, nil
}

// SaveSession upserts the full session snapshot.
func (s *Store) SaveSession(ctx context.Context, sess *engine.Session) error {
	state, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	sum := summarize(sess)
	var terminal sql.NullString
	if sum.Terminal != "" {
		terminal = sql.NullString{String: sum.Terminal, Valid: true}
	}
	err = retryOnBusy(ctx, busyRetries, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO sessions (id, input, iteration_cap, iterations, terminal, state, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				iterations = excluded.iterations,
				terminal = excluded.terminal,
				state = excluded.state,
				updated_at = excluded.updated_at;
		`, sum.ID, sum.Input, sum.IterationCap, sum.Iterations, terminal, string(state), sum.CreatedAt, sum.UpdatedAt)
		return err
	})
	if err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

func (s *Store) LoadSession(ctx context.Context, id string) (*engine.Session, error) {
	var state string
	err := s.db.QueryRowContext(ctx, `SELECT state FROM sessions WHERE id = ?;`, id).Scan(&state)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", engine.ErrSessionNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	return decodeSession([]byte(state))
}

// ListSessions returns the most recently updated sessions first.
func (s *Store) ListSessions(ctx context.Context, limit int) ([]SessionSummary, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, input, iteration_cap, iterations, COALESCE(terminal, ''), created_at, updated_at
		FROM sessions
		ORDER BY updated_at DESC
		LIMIT ?;
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	var out []SessionSummary
	for rows.Next() {
		var sum SessionSummary
		if err := rows.Scan(&sum.ID, &sum.Input, &sum.IterationCap, &sum.Iterations, &sum.Terminal, &sum.CreatedAt, &sum.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		out = append(out, sum)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sessions rows: %w", err)
	}
	return out, nil
}

// CleanupFinishedSessions deletes terminal sessions last updated before
// now-olderThan. Unfinished sessions are kept so they can be resumed.
func (s *Store) CleanupFinishedSessions(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-olderThan)
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM sessions WHERE terminal IS NOT NULL AND updated_at < ?;
	`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("cleanup sessions: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("cleanup sessions: %w", err)
	}
	if n > 0 {
		s.bus.Publish(bus.TopicSessionsPruned, bus.PrunedEvent{Removed: n})
	}
	return n, nil
}
