package persistence_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/basket/go-refine/internal/engine"
	"github.com/basket/go-refine/internal/memory"
)

type factStore interface {
	memory.AdminStore
}

// testFactStore exercises the fact contract shared by every backend.
func testFactStore(t *testing.T, store factStore) {
	t.Helper()
	ctx := context.Background()

	f := memory.NewFact("user_1", "likes Python")
	inserted, err := store.PutFact(ctx, f)
	if err != nil || !inserted {
		t.Fatalf("first PutFact = %v, %v", inserted, err)
	}
	again := f
	again.Text = "LIKES PYTHON (rewritten)"
	inserted, err = store.PutFact(ctx, again)
	if err != nil || inserted {
		t.Fatalf("duplicate PutFact = %v, %v", inserted, err)
	}
	if _, err := store.PutFact(ctx, memory.NewFact("user_2", "likes Rust")); err != nil {
		t.Fatalf("PutFact user_2: %v", err)
	}

	facts, err := store.ListFacts(ctx, "user_1")
	if err != nil {
		t.Fatalf("ListFacts: %v", err)
	}
	if len(facts) != 1 || facts[0].Text != "likes Python" || facts[0].ID != f.ID {
		t.Fatalf("facts = %+v", facts)
	}

	if ok, err := store.DeleteFact(ctx, "user_2", f.ID); err != nil || ok {
		t.Fatalf("cross-owner delete = %v, %v", ok, err)
	}
	if ok, err := store.DeleteFact(ctx, "user_1", f.ID); err != nil || !ok {
		t.Fatalf("DeleteFact = %v, %v", ok, err)
	}
	n, err := store.DeleteFacts(ctx, "user_2")
	if err != nil || n != 1 {
		t.Fatalf("DeleteFacts = %d, %v", n, err)
	}
}

func testSessionStore(t *testing.T, store engine.SessionStore) {
	t.Helper()
	ctx := context.Background()

	if _, err := store.LoadSession(ctx, "missing"); !errors.Is(err, engine.ErrSessionNotFound) {
		t.Fatalf("missing session err = %v", err)
	}

	sess, err := engine.NewSession("", "write fizzbuzz", 3)
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	if _, err := sess.Append("print(", engine.Failed("SyntaxError: unexpected EOF")); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := store.SaveSession(ctx, sess); err != nil {
		t.Fatalf("SaveSession: %v", err)
	}

	a, err := sess.Append("print('fizz')", engine.Succeeded("fizz\n"))
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := sess.Finalize(engine.SucceededTerminal(a)); err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	if err := store.SaveSession(ctx, sess); err != nil {
		t.Fatalf("SaveSession update: %v", err)
	}

	loaded, err := store.LoadSession(ctx, sess.ID())
	if err != nil {
		t.Fatalf("LoadSession: %v", err)
	}
	if loaded.IterationCount() != 2 || loaded.Input() != "write fizzbuzz" || loaded.IterationCap() != 3 {
		t.Fatalf("loaded = %d attempts, input %q, cap %d", loaded.IterationCount(), loaded.Input(), loaded.IterationCap())
	}
	term, ok := loaded.Terminal()
	if !ok || term.Kind != engine.TerminalSucceeded || term.Output != "fizz\n" {
		t.Fatalf("terminal = %+v, %v", term, ok)
	}
	hist := loaded.History()
	if hist[0].Outcome.Detail != "SyntaxError: unexpected EOF" || hist[1].Sequence != 2 {
		t.Fatalf("history = %+v", hist)
	}
}

type threadStore interface {
	AppendMessages(ctx context.Context, threadID string, msgs ...engine.Message) error
	LoadMessages(ctx context.Context, threadID string, limit int) ([]engine.Message, error)
}

func testThreadStore(t *testing.T, store threadStore) {
	t.Helper()
	ctx := context.Background()
	if err := store.AppendMessages(ctx, "t1",
		engine.Message{Role: engine.RoleUser, Content: "hi"},
		engine.Message{Role: engine.RoleAssistant, Content: "hello"},
	); err != nil {
		t.Fatalf("AppendMessages: %v", err)
	}
	if err := store.AppendMessages(ctx, "t1", engine.Message{Role: engine.RoleUser, Content: "how are you"}); err != nil {
		t.Fatalf("AppendMessages: %v", err)
	}
	if err := store.AppendMessages(ctx, "t2", engine.Message{Role: engine.RoleUser, Content: "other"}); err != nil {
		t.Fatalf("AppendMessages t2: %v", err)
	}

	all, err := store.LoadMessages(ctx, "t1", 0)
	if err != nil {
		t.Fatalf("LoadMessages: %v", err)
	}
	if len(all) != 3 || all[0].Content != "hi" || all[2].Content != "how are you" {
		t.Fatalf("messages = %+v", all)
	}
	last, _ := store.LoadMessages(ctx, "t1", 2)
	if len(last) != 2 || last[0].Content != "hello" || last[0].Role != engine.RoleAssistant {
		t.Fatalf("last two = %+v", last)
	}
}

type sessionLister interface {
	engine.SessionStore
	CleanupFinishedSessions(ctx context.Context, olderThan time.Duration) (int64, error)
}

func testCleanup(t *testing.T, store sessionLister) {
	t.Helper()
	ctx := context.Background()

	done, _ := engine.NewSession("done", "x", 1)
	a, _ := done.Append("a", engine.Succeeded("ok"))
	_ = done.Finalize(engine.SucceededTerminal(a))
	open, _ := engine.NewSession("open", "y", 2)
	_, _ = open.Append("b", engine.Failed("bad"))
	_ = store.SaveSession(ctx, done)
	_ = store.SaveSession(ctx, open)

	// Nothing is old enough yet.
	if n, err := store.CleanupFinishedSessions(ctx, time.Hour); err != nil || n != 0 {
		t.Fatalf("cleanup(1h) = %d, %v", n, err)
	}
	n, err := store.CleanupFinishedSessions(ctx, -time.Minute)
	if err != nil || n != 1 {
		t.Fatalf("cleanup(-1m) = %d, %v", n, err)
	}
	if _, err := store.LoadSession(ctx, "done"); !errors.Is(err, engine.ErrSessionNotFound) {
		t.Fatalf("finished session should be gone: %v", err)
	}
	if _, err := store.LoadSession(ctx, "open"); err != nil {
		t.Fatalf("unfinished session must survive: %v", err)
	}
}
