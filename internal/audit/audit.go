// Package audit appends approval decisions and session outcomes to
// <home>/logs/audit.jsonl.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/basket/go-refine/internal/bus"
	"github.com/basket/go-refine/internal/shared"
)

// Entry is one audit line.
type Entry struct {
	Timestamp  string `json:"timestamp"`
	Topic      string `json:"topic"`
	SessionID  string `json:"session_id,omitempty"`
	ApprovalID string `json:"approval_id,omitempty"`
	Decision   string `json:"decision"`
	Reason     string `json:"reason,omitempty"`
}

// Log is an append-only audit file. A nil *Log records nothing.
type Log struct {
	mu       sync.Mutex
	file     *os.File
	now      func() time.Time
	rejected atomic.Int64
}

func Open(homeDir string) (*Log, error) {
	logDir := filepath.Join(homeDir, "logs")
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	f, err := os.OpenFile(filepath.Join(logDir, "audit.jsonl"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open audit log: %w", err)
	}
	return &Log{file: f, now: time.Now}, nil
}

// Path returns the audit file location for homeDir.
func Path(homeDir string) string {
	return filepath.Join(homeDir, "logs", "audit.jsonl")
}

func (l *Log) Close() error {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}

// Rejections counts rejected approvals recorded since Open.
func (l *Log) Rejections() int64 {
	if l == nil {
		return 0
	}
	return l.rejected.Load()
}

// Record writes e with secrets redacted. Timestamp is filled when empty.
func (l *Log) Record(e Entry) error {
	if l == nil {
		return nil
	}
	if e.Decision == "rejected" {
		l.rejected.Add(1)
	}
	if e.Timestamp == "" {
		e.Timestamp = l.now().UTC().Format(time.RFC3339Nano)
	}
	e.Reason = shared.Redact(e.Reason)

	b, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal audit entry: %w", err)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return fmt.Errorf("audit log closed")
	}
	if _, err := l.file.Write(append(b, '\n')); err != nil {
		return fmt.Errorf("write audit entry: %w", err)
	}
	return nil
}

// Follow records bus events until ctx ends. The returned channel closes once
// the subscription is drained.
func (l *Log) Follow(ctx context.Context, b *bus.Bus) <-chan struct{} {
	done := make(chan struct{})
	if l == nil || b == nil {
		close(done)
		return done
	}
	approvals := b.Subscribe(bus.TopicApprovalResolved)
	sessions := b.Subscribe("session.")
	go func() {
		defer close(done)
		defer b.Unsubscribe(approvals)
		defer b.Unsubscribe(sessions)
		for {
			var ev bus.Event
			select {
			case <-ctx.Done():
				l.drain(approvals, sessions)
				return
			case ev = <-approvals.Ch():
			case ev = <-sessions.Ch():
			}
			if e, ok := entryFor(ev); ok {
				_ = l.Record(e)
			}
		}
	}()
	return done
}

// drain records events already buffered when Follow stops.
func (l *Log) drain(subs ...*bus.Subscription) {
	for _, sub := range subs {
		for {
			select {
			case ev := <-sub.Ch():
				if e, ok := entryFor(ev); ok {
					_ = l.Record(e)
				}
				continue
			default:
			}
			break
		}
	}
}

// entryFor maps the events worth auditing; everything else is skipped.
func entryFor(ev bus.Event) (Entry, bool) {
	switch p := ev.Payload.(type) {
	case bus.ApprovalEvent:
		return Entry{
			Topic:      ev.Topic,
			SessionID:  p.SessionID,
			ApprovalID: p.ApprovalID,
			Decision:   strings.ToLower(p.Status),
			Reason:     p.Feedback,
		}, true
	case bus.SessionEvent:
		switch ev.Topic {
		case bus.TopicSessionFinished:
			return Entry{Topic: ev.Topic, SessionID: p.SessionID, Decision: strings.ToLower(p.Terminal), Reason: p.Detail}, true
		case bus.TopicSessionFailed:
			return Entry{Topic: ev.Topic, SessionID: p.SessionID, Decision: "failed", Reason: p.Error}, true
		}
	}
	return Entry{}, false
}
