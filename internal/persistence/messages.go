package persistence

import (
	"context"
	"fmt"

	"github.com/basket/go-refine/internal/engine"
)

// AppendMessages stores msgs on a chat thread atomically.
func (s *Store) AppendMessages(ctx context.Context, threadID string, msgs ...engine.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	err := retryOnBusy(ctx, busyRetries, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback() }()
		for _, m := range msgs {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO messages (thread_id, role, content) VALUES (?, ?, ?);
			`, threadID, string(m.Role), m.Content); err != nil {
				return err
			}
		}
		return tx.Commit()
	})
	if err != nil {
		return fmt.Errorf("append messages: %w", err)
	}
	return nil
}

// LoadMessages returns the newest limit messages of a thread, oldest first.
func (s *Store) LoadMessages(ctx context.Context, threadID string, limit int) ([]engine.Message, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT role, content FROM (
			SELECT id, role, content FROM messages
			WHERE thread_id = ?
			ORDER BY id DESC
			LIMIT ?
		) ORDER BY id ASC;
	`, threadID, limit)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var out []engine.Message
	for rows.Next() {
		var role, content string
		if err := rows.Scan(&role, &content); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		out = append(out, engine.Message{Role: engine.Role(role), Content: content})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("message rows: %w", err)
	}
	return out, nil
}
