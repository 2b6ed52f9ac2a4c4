package verify

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestStarlark_PrintCaptured(t *testing.T) {
	ok, out, err := StarlarkExecutor{}.Execute(context.Background(), "x = 6 * 7\nprint(x)\nprint('done')")
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !ok || out != "42\ndone\n" {
		t.Fatalf("ok=%v out=%q", ok, out)
	}
}

func TestStarlark_TopLevelLoops(t *testing.T) {
	code := "total = 0\nfor i in range(4):\n    total += i\nwhile total < 10:\n    total += 1\nprint(total)"
	ok, out, err := StarlarkExecutor{}.Execute(context.Background(), code)
	if err != nil || !ok {
		t.Fatalf("ok=%v err=%v out=%q", ok, err, out)
	}
	if strings.TrimSpace(out) != "10" {
		t.Fatalf("out = %q", out)
	}
}

func TestStarlark_RuntimeErrorIsFailure(t *testing.T) {
	ok, out, err := StarlarkExecutor{}.Execute(context.Background(), "fail('boom')")
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if ok || !strings.Contains(out, "boom") {
		t.Fatalf("ok=%v out=%q", ok, out)
	}
}

func TestStarlark_SyntaxErrorIsFailure(t *testing.T) {
	ok, out, err := StarlarkExecutor{}.Execute(context.Background(), "def (")
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if ok || !strings.Contains(out, "main.star") {
		t.Fatalf("ok=%v out=%q", ok, out)
	}
}

func TestStarlark_StepLimit(t *testing.T) {
	ok, out, err := StarlarkExecutor{MaxSteps: 1000}.Execute(context.Background(), "while True:\n    pass")
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if ok || !strings.Contains(out, "too many steps") {
		t.Fatalf("ok=%v out=%q", ok, out)
	}
}

func TestStarlark_ContextCancel(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, _, err := StarlarkExecutor{MaxSteps: 1 << 62}.Execute(ctx, "while True:\n    pass")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want deadline exceeded", err)
	}
}

func TestStarlark_Eval(t *testing.T) {
	got, err := StarlarkExecutor{}.Eval(context.Background(), "1024 // 2")
	if err != nil {
		t.Fatalf("Eval: %v", err)
	}
	if got != "512" {
		t.Fatalf("got %q", got)
	}
	s, err := StarlarkExecutor{}.Eval(context.Background(), "'a' + 'b'")
	if err != nil || s != "ab" {
		t.Fatalf("got %q err=%v", s, err)
	}
	if _, err := (StarlarkExecutor{}).Eval(context.Background(), "1 / 0"); err == nil {
		t.Fatal("expected division error")
	}
}
