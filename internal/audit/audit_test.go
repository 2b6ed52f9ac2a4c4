package audit

import (
	"context"
	"encoding/json"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/basket/go-refine/internal/bus"
)

func readEntries(t *testing.T, home string) []Entry {
	t.Helper()
	raw, err := os.ReadFile(Path(home))
	if err != nil {
		t.Fatalf("read audit file: %v", err)
	}
	var out []Entry
	for _, line := range strings.Split(strings.TrimSpace(string(raw)), "\n") {
		if line == "" {
			continue
		}
		var e Entry
		if err := json.Unmarshal([]byte(line), &e); err != nil {
			t.Fatalf("line %q is not valid JSON: %v", line, err)
		}
		out = append(out, e)
	}
	return out
}

func TestRecordWritesAuditEntry(t *testing.T) {
	home := t.TempDir()
	l, err := Open(home)
	if err != nil {
		t.Fatalf("open audit: %v", err)
	}
	t.Cleanup(func() { _ = l.Close() })

	if err := l.Record(Entry{Topic: bus.TopicApprovalResolved, SessionID: "s1", Decision: "rejected", Reason: "api_key=abcdefghijklmnopqrstuvwxyz"}); err != nil {
		t.Fatalf("record: %v", err)
	}
	if err := l.Record(Entry{Topic: bus.TopicApprovalResolved, SessionID: "s1", Decision: "approved"}); err != nil {
		t.Fatalf("record: %v", err)
	}

	entries := readEntries(t, home)
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].Timestamp == "" {
		t.Fatal("expected timestamp to be filled")
	}
	if strings.Contains(entries[0].Reason, "abcdefghijklmnop") {
		t.Fatalf("secret not redacted: %q", entries[0].Reason)
	}
	if l.Rejections() != 1 {
		t.Fatalf("expected 1 rejection, got %d", l.Rejections())
	}
}

func TestAuditAppendOnly(t *testing.T) {
	home := t.TempDir()
	for i := 0; i < 2; i++ {
		l, err := Open(home)
		if err != nil {
			t.Fatalf("open audit: %v", err)
		}
		if err := l.Record(Entry{Topic: bus.TopicSessionFinished, SessionID: "s", Decision: "succeeded"}); err != nil {
			t.Fatalf("record: %v", err)
		}
		if err := l.Close(); err != nil {
			t.Fatalf("close: %v", err)
		}
	}
	if n := len(readEntries(t, home)); n != 2 {
		t.Fatalf("expected reopen to append, got %d entries", n)
	}
}

func TestRecordAfterClose(t *testing.T) {
	l, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("open audit: %v", err)
	}
	_ = l.Close()
	if err := l.Record(Entry{Decision: "approved"}); err == nil {
		t.Fatal("expected error after close")
	}

	var nilLog *Log
	if err := nilLog.Record(Entry{Decision: "approved"}); err != nil {
		t.Fatalf("nil log should ignore records: %v", err)
	}
}

func TestFollowRecordsBusEvents(t *testing.T) {
	home := t.TempDir()
	l, err := Open(home)
	if err != nil {
		t.Fatalf("open audit: %v", err)
	}
	t.Cleanup(func() { _ = l.Close() })

	b := bus.New()
	ctx, cancel := context.WithCancel(context.Background())
	done := l.Follow(ctx, b)

	b.Publish(bus.TopicApprovalRequired, bus.ApprovalEvent{ApprovalID: "a1", Status: "PENDING"})
	b.Publish(bus.TopicApprovalResolved, bus.ApprovalEvent{ApprovalID: "a1", SessionID: "s1", Status: "REJECTED", Feedback: "shorter"})
	b.Publish(bus.TopicSessionAttempt, bus.SessionEvent{SessionID: "s1", Sequence: 1})
	b.Publish(bus.TopicSessionFinished, bus.SessionEvent{SessionID: "s1", Terminal: "SUCCEEDED"})
	b.Publish(bus.TopicSessionFailed, bus.SessionEvent{SessionID: "s2", Error: "boom"})

	deadline := time.Now().Add(2 * time.Second)
	for {
		raw, _ := os.ReadFile(Path(home))
		if strings.Count(string(raw), "\n") >= 3 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for audit entries")
		}
		time.Sleep(10 * time.Millisecond)
	}
	cancel()
	<-done

	entries := readEntries(t, home)
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %+v", entries)
	}
	got := map[string]Entry{}
	for _, e := range entries {
		got[e.Decision] = e
	}
	if e, ok := got["rejected"]; !ok || e.ApprovalID != "a1" || e.Reason != "shorter" {
		t.Fatalf("missing rejection entry: %+v", entries)
	}
	if _, ok := got["succeeded"]; !ok {
		t.Fatalf("missing session terminal entry: %+v", entries)
	}
	if e, ok := got["failed"]; !ok || e.SessionID != "s2" || e.Reason != "boom" {
		t.Fatalf("missing failed entry: %+v", entries)
	}
	if b.SubscriberCount() != 0 {
		t.Fatalf("expected Follow to unsubscribe, %d left", b.SubscriberCount())
	}
}
