package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/basket/go-refine/internal/engine"
	"github.com/basket/go-refine/internal/memory"
	"github.com/basket/go-refine/internal/verify"
)

const agentSystem = `You are a careful assistant with tools.
Use evaluate for any arithmetic instead of computing in your head; expressions are Starlark (Python-like, no ** operator).
Use current_time when the answer depends on the date or time.
Use search_memory to look up what you know about the user.
When you have the answer, reply with it in plain text.`

type evaluateInput struct {
	Expression string `json:"expression"`
}

type timeInput struct {
	Timezone string `json:"timezone,omitempty"`
}

type searchInput struct {
	Query string `json:"query"`
}

// agentTools builds the built-in tools. now is injectable for tests.
func agentTools(eval verify.StarlarkExecutor, facts *memory.Manager, owner string, now func() time.Time) *engine.ToolSet {
	if now == nil {
		now = time.Now
	}
	tools := []engine.Tool{
		{
			Name:        "evaluate",
			Description: "Evaluate a Starlark expression and return its value, e.g. 17 * 23 or sum([1, 2, 3]).",
			InputSchema: map[string]any{
				"type":       "object",
				"properties": map[string]any{"expression": map[string]any{"type": "string"}},
				"required":   []string{"expression"},
			},
			Run: func(ctx context.Context, raw json.RawMessage) (string, error) {
				var in evaluateInput
				if err := json.Unmarshal(raw, &in); err != nil {
					return "", fmt.Errorf("decode input: %w", err)
				}
				if strings.TrimSpace(in.Expression) == "" {
					return "", fmt.Errorf("expression is required")
				}
				return eval.Eval(ctx, in.Expression)
			},
		},
		{
			Name:        "current_time",
			Description: "Return the current date and time, optionally in an IANA timezone such as Europe/Berlin.",
			InputSchema: map[string]any{
				"type":       "object",
				"properties": map[string]any{"timezone": map[string]any{"type": "string"}},
			},
			Run: func(_ context.Context, raw json.RawMessage) (string, error) {
				var in timeInput
				if len(raw) > 0 {
					if err := json.Unmarshal(raw, &in); err != nil {
						return "", fmt.Errorf("decode input: %w", err)
					}
				}
				t := now()
				if in.Timezone != "" {
					loc, err := time.LoadLocation(in.Timezone)
					if err != nil {
						return "", fmt.Errorf("unknown timezone %q", in.Timezone)
					}
					t = t.In(loc)
				}
				return t.Format("Monday, 02 January 2006 15:04:05 MST"), nil
			},
		},
	}
	if facts != nil && owner != "" {
		tools = append(tools, engine.Tool{
			Name:        "search_memory",
			Description: "Search remembered facts about the user. An empty query lists everything.",
			InputSchema: map[string]any{
				"type":       "object",
				"properties": map[string]any{"query": map[string]any{"type": "string"}},
			},
			Run: func(ctx context.Context, raw json.RawMessage) (string, error) {
				var in searchInput
				if len(raw) > 0 {
					if err := json.Unmarshal(raw, &in); err != nil {
						return "", fmt.Errorf("decode input: %w", err)
					}
				}
				found, err := facts.Search(ctx, owner, in.Query)
				if err != nil {
					return "", err
				}
				if len(found) == 0 {
					return "no matching facts", nil
				}
				lines := make([]string, 0, len(found))
				for _, f := range found {
					lines = append(lines, "- "+f.Text)
				}
				return strings.Join(lines, "\n"), nil
			},
		})
	}
	return engine.NewToolSet(tools...)
}
