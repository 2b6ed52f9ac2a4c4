// Package verify holds the verification collaborators of the refinement
// loop: code executors, JSON schema checks and human approval.
package verify

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/basket/go-refine/internal/engine"
	"github.com/basket/go-refine/internal/shared"
)

// maxDetail bounds the failure detail fed back into the next prompt.
const maxDetail = 8 * 1024

// Executor runs generated code. ok=false with output holding the error is an
// expected failure; err means the executor itself could not run.
type Executor interface {
	Execute(ctx context.Context, code string) (ok bool, output string, err error)
}

// CodeVerifier runs artifacts through an Executor after stripping Markdown fences.
type CodeVerifier struct {
	Exec Executor
}

func NewCodeVerifier(exec Executor) *CodeVerifier {
	return &CodeVerifier{Exec: exec}
}

func (v *CodeVerifier) Verify(ctx context.Context, artifact string) (engine.Outcome, error) {
	code := StripFences(artifact)
	if strings.TrimSpace(code) == "" {
		return engine.Failed("no code was generated"), nil
	}
	ok, output, err := v.Exec.Execute(ctx, code)
	if err != nil {
		return engine.Outcome{}, fmt.Errorf("execute: %w", err)
	}
	output = shared.Redact(truncate(output, maxDetail))
	if ok {
		return engine.Succeeded(output), nil
	}
	if strings.TrimSpace(output) == "" {
		output = "execution failed without output"
	}
	return engine.Failed(output), nil
}

// StripFences returns the body of the first fenced code block in text, or the
// trimmed text when it has no fence.
func StripFences(text string) string {
	start := strings.Index(text, "```")
	if start < 0 {
		return strings.TrimSpace(text)
	}
	body := text[start+3:]
	nl := strings.IndexByte(body, '\n')
	if end := strings.Index(body, "```"); end >= 0 && (nl < 0 || end < nl) {
		// Fence closes on the same line: ```print(1)```.
		return strings.TrimSpace(body[:end])
	}
	// Drop the info string (```python).
	if nl >= 0 {
		body = body[nl+1:]
	} else {
		body = ""
	}
	if end := strings.Index(body, "```"); end >= 0 {
		body = body[:end]
	}
	return strings.TrimSpace(body)
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	cut := maxLen
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "\n... (truncated)"
}
