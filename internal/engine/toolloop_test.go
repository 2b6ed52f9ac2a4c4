package engine

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

// scriptedToolModel returns turns in order and keeps every transcript.
type scriptedToolModel struct {
	turns       []ModelTurn
	transcripts [][]Message
}

func (m *scriptedToolModel) Turn(ctx context.Context, transcript []Message) (ModelTurn, error) {
	m.transcripts = append(m.transcripts, transcript)
	i := len(m.transcripts) - 1
	if i >= len(m.turns) {
		return ModelTurn{Text: "out of turns"}, nil
	}
	return m.turns[i], nil
}

func echoTools() *ToolSet {
	return NewToolSet(
		Tool{
			Name:        "add",
			Description: "adds a and b",
			Run: func(ctx context.Context, input json.RawMessage) (string, error) {
				var args struct{ A, B int }
				if err := json.Unmarshal(input, &args); err != nil {
					return "", err
				}
				b, _ := json.Marshal(args.A + args.B)
				return string(b), nil
			},
		},
		Tool{
			Name: "fail",
			Run: func(ctx context.Context, input json.RawMessage) (string, error) {
				return "", errors.New("tool exploded")
			},
		},
	)
}

func TestToolLoop_PingPongUntilFinalAnswer(t *testing.T) {
	model := &scriptedToolModel{turns: []ModelTurn{
		{ToolCalls: []ToolCall{{ID: "c1", Name: "add", Input: json.RawMessage(`{"A":2,"B":3}`)}}},
		{Text: "2 + 3 = 5"},
	}}
	d := NewDriver(NewToolGenerator(model), NewToolVerifier(echoTools()), DriverOptions{Config: testLoopConfig()})

	res, err := d.Run(context.Background(), "what is 2+3?", 5)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Terminal.Kind != TerminalSucceeded || res.Terminal.Output != "2 + 3 = 5" {
		t.Fatalf("terminal = %+v", res.Terminal)
	}
	if len(res.History) != 2 {
		t.Fatalf("history length = %d, want 2", len(res.History))
	}
	if res.History[0].Outcome.Source != SourceToolResults {
		t.Fatalf("first attempt source = %q", res.History[0].Outcome.Source)
	}
	text, err := FinalText(res.Terminal.Artifact)
	if err != nil || text != "2 + 3 = 5" {
		t.Fatalf("FinalText = %q, %v", text, err)
	}

	second := model.transcripts[1]
	if len(second) != 3 {
		t.Fatalf("second transcript length = %d, want 3: %+v", len(second), second)
	}
	if second[0].Role != RoleUser || second[1].Role != RoleAssistant || second[2].Role != RoleTool {
		t.Fatalf("roles = %s %s %s", second[0].Role, second[1].Role, second[2].Role)
	}
	if len(second[1].ToolCalls) != 1 || second[1].ToolCalls[0].ID != "c1" {
		t.Fatalf("assistant tool calls = %+v", second[1].ToolCalls)
	}
	if got := second[2].ToolResults; len(got) != 1 || got[0].Output != "5" || got[0].CallID != "c1" {
		t.Fatalf("tool results = %+v", got)
	}
}

func TestToolLoop_CapBoundsPingPong(t *testing.T) {
	call := ModelTurn{ToolCalls: []ToolCall{{Name: "add", Input: json.RawMessage(`{"A":1,"B":1}`)}}}
	model := &scriptedToolModel{turns: []ModelTurn{call, call, call, call}}
	d := NewDriver(NewToolGenerator(model), NewToolVerifier(echoTools()), DriverOptions{Config: testLoopConfig()})

	res, err := d.Run(context.Background(), "loop forever", 3)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Terminal.Kind != TerminalExhausted || len(model.transcripts) != 3 {
		t.Fatalf("terminal=%s model calls=%d", res.Terminal.Kind, len(model.transcripts))
	}
}

func TestToolVerifier_ErrorResults(t *testing.T) {
	v := NewToolVerifier(echoTools())
	turn := ModelTurn{ToolCalls: []ToolCall{
		{ID: "1", Name: "missing"},
		{ID: "2", Name: "fail"},
		{ID: "3", Name: "add", Input: json.RawMessage(`"not an object"`)},
	}}
	artifact, err := json.Marshal(turn)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	out, err := v.Verify(context.Background(), string(artifact))
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if out.Kind != OutcomeFailure || out.Source != SourceToolResults {
		t.Fatalf("outcome = %+v", out)
	}
	var results []ToolResult
	if err := json.Unmarshal([]byte(out.Detail), &results); err != nil {
		t.Fatalf("decode results: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("results = %+v", results)
	}
	for _, r := range results {
		if !r.IsError {
			t.Fatalf("expected error result, got %+v", r)
		}
	}
	if !strings.Contains(results[0].Output, "unknown tool") || results[1].Output != "tool exploded" ||
		!strings.Contains(results[2].Output, "invalid tool input") {
		t.Fatalf("results = %+v", results)
	}
}

func TestToolLoop_InvalidToolInputGoesBackToModel(t *testing.T) {
	model := &scriptedToolModel{turns: []ModelTurn{
		{ToolCalls: []ToolCall{{ID: "c1", Name: "add", Input: json.RawMessage(`{"A":1,`)}}},
		{Text: "done"},
	}}
	d := NewDriver(NewToolGenerator(model), NewToolVerifier(echoTools()), DriverOptions{Config: testLoopConfig()})

	res, err := d.Run(context.Background(), "add", 5)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Terminal.Kind != TerminalSucceeded || res.Terminal.Output != "done" {
		t.Fatalf("terminal = %+v", res.Terminal)
	}
	if len(model.transcripts) != 2 {
		t.Fatalf("model calls = %d", len(model.transcripts))
	}
	second := model.transcripts[1]
	if len(second) != 3 {
		t.Fatalf("transcript = %+v", second)
	}
	got := second[2].ToolResults
	if len(got) != 1 || !got[0].IsError || !strings.Contains(got[0].Output, "invalid tool input") {
		t.Fatalf("tool results = %+v", got)
	}
}

func TestToolVerifier_MalformedTurn(t *testing.T) {
	out, err := NewToolVerifier(echoTools()).Verify(context.Background(), "plain text")
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if out.Kind != OutcomeFailure || out.Source != SourceVerification {
		t.Fatalf("outcome = %+v", out)
	}
	msgs := Transcript("q", []Attempt{{Sequence: 1, Artifact: "plain text", Outcome: out}})
	if len(msgs) != 3 || msgs[1].Content != "plain text" || msgs[2].Role != RoleUser {
		t.Fatalf("transcript = %+v", msgs)
	}
}

func TestToolSet_List(t *testing.T) {
	names := []string{}
	for _, tool := range echoTools().List() {
		names = append(names, tool.Name)
	}
	if strings.Join(names, ",") != "add,fail" {
		t.Fatalf("names = %v", names)
	}
	var nilSet *ToolSet
	if _, ok := nilSet.Get("add"); ok {
		t.Fatal("nil tool set has no tools")
	}
}

func TestFinalText_RejectsPendingToolCalls(t *testing.T) {
	artifact, _ := json.Marshal(ModelTurn{ToolCalls: []ToolCall{{Name: "add"}}})
	if _, err := FinalText(string(artifact)); err == nil {
		t.Fatal("expected error for a turn with tool calls")
	}
}
