package verify

import (
	"context"
	"errors"
	"strings"
	"sync"

	"go.starlark.net/starlark"
	"go.starlark.net/syntax"
)

// DefaultMaxSteps bounds a Starlark program so generated infinite loops fail
// instead of hanging the session.
const DefaultMaxSteps = 10_000_000

var starlarkFileOptions = &syntax.FileOptions{
	Set:             true,
	While:           true,
	TopLevelControl: true,
	GlobalReassign:  true,
	Recursion:       true,
}

// StarlarkExecutor runs Python-like code in process with go.starlark.net.
// print output is captured and returned on success.
type StarlarkExecutor struct {
	MaxSteps uint64
}

func (e StarlarkExecutor) Execute(ctx context.Context, code string) (bool, string, error) {
	var out strings.Builder
	var mu sync.Mutex
	thread := &starlark.Thread{
		Name: "refine",
		Print: func(_ *starlark.Thread, msg string) {
			mu.Lock()
			out.WriteString(msg)
			out.WriteByte('\n')
			mu.Unlock()
		},
	}
	steps := e.MaxSteps
	if steps == 0 {
		steps = DefaultMaxSteps
	}
	thread.SetMaxExecutionSteps(steps)

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			thread.Cancel(ctx.Err().Error())
		case <-done:
		}
	}()

	_, err := starlark.ExecFileOptions(starlarkFileOptions, thread, "main.star", code, nil)
	if err != nil {
		if ctx.Err() != nil {
			return false, "", ctx.Err()
		}
		return false, describeStarlarkError(err), nil
	}
	mu.Lock()
	defer mu.Unlock()
	return true, out.String(), nil
}

// Eval evaluates a single Starlark expression and returns its string form.
func (e StarlarkExecutor) Eval(ctx context.Context, expr string) (string, error) {
	thread := &starlark.Thread{Name: "refine-eval"}
	steps := e.MaxSteps
	if steps == 0 {
		steps = DefaultMaxSteps
	}
	thread.SetMaxExecutionSteps(steps)
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			thread.Cancel(ctx.Err().Error())
		case <-done:
		}
	}()
	v, err := starlark.EvalOptions(starlarkFileOptions, thread, "expr.star", expr, nil)
	if err != nil {
		return "", errors.New(describeStarlarkError(err))
	}
	if s, ok := starlark.AsString(v); ok {
		return s, nil
	}
	return v.String(), nil
}

func describeStarlarkError(err error) string {
	var evalErr *starlark.EvalError
	if errors.As(err, &evalErr) {
		return evalErr.Backtrace()
	}
	return err.Error()
}
