package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
)

// Role tags a transcript message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

type ToolCall struct {
	ID    string          `json:"id,omitempty"`
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input,omitempty"`
}

type ToolResult struct {
	CallID  string `json:"call_id,omitempty"`
	Name    string `json:"name"`
	Output  string `json:"output"`
	IsError bool   `json:"is_error,omitempty"`
}

// Message is the single conversation type handed to model collaborators.
type Message struct {
	Role        Role         `json:"role"`
	Content     string       `json:"content,omitempty"`
	ToolCalls   []ToolCall   `json:"tool_calls,omitempty"`
	ToolResults []ToolResult `json:"tool_results,omitempty"`
}

// ModelTurn is one model reply: either final text or a set of tool requests.
type ModelTurn struct {
	Text      string     `json:"text,omitempty"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
}

// ToolModel is a model that can request tools.
type ToolModel interface {
	Turn(ctx context.Context, transcript []Message) (ModelTurn, error)
}

// Tool is a function the model may call. InputSchema is a JSON schema object
// advertised to the model; nil means any object.
type Tool struct {
	Name        string
	Description string
	InputSchema map[string]any
	Run         func(ctx context.Context, input json.RawMessage) (string, error)
}

// ToolSet is an immutable, name-indexed set of tools.
type ToolSet struct {
	tools map[string]Tool
}

func NewToolSet(tools ...Tool) *ToolSet {
	ts := &ToolSet{tools: make(map[string]Tool, len(tools))}
	for _, t := range tools {
		ts.tools[t.Name] = t
	}
	return ts
}

func (ts *ToolSet) Get(name string) (Tool, bool) {
	if ts == nil {
		return Tool{}, false
	}
	t, ok := ts.tools[name]
	return t, ok
}

// List returns the tools sorted by name.
func (ts *ToolSet) List() []Tool {
	if ts == nil {
		return nil
	}
	out := make([]Tool, 0, len(ts.tools))
	for _, t := range ts.tools {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Transcript rebuilds the conversation a tool model sees from the session
// input and the attempts so far. Each attempt contributes the model turn and,
// when tools ran, the tool results.
func Transcript(input string, history []Attempt) []Message {
	msgs := []Message{{Role: RoleUser, Content: input}}
	for _, a := range history {
		turn, err := decodeTurn(a.Artifact)
		if err != nil {
			msgs = append(msgs, Message{Role: RoleAssistant, Content: a.Artifact})
		} else {
			msgs = append(msgs, Message{Role: RoleAssistant, Content: turn.Text, ToolCalls: turn.ToolCalls})
		}
		if a.Outcome.IsSuccess() {
			continue
		}
		if a.Outcome.Source == SourceToolResults {
			var results []ToolResult
			if err := json.Unmarshal([]byte(a.Outcome.Detail), &results); err == nil {
				msgs = append(msgs, Message{Role: RoleTool, ToolResults: results})
				continue
			}
		}
		msgs = append(msgs, Message{Role: RoleUser, Content: "Your previous reply could not be used: " + a.Outcome.Detail})
	}
	return msgs
}

type toolGenerator struct {
	model ToolModel
}

// NewToolGenerator adapts a ToolModel into a Generator whose artifact is the
// JSON-encoded ModelTurn.
func NewToolGenerator(model ToolModel) Generator {
	return toolGenerator{model: model}
}

func (g toolGenerator) Generate(ctx context.Context, input string, history []Attempt) (string, error) {
	turn, err := g.model.Turn(ctx, Transcript(input, history))
	if err != nil {
		return "", err
	}
	turn.ToolCalls = sanitizeCalls(turn.ToolCalls)
	data, err := json.Marshal(turn)
	if err != nil {
		return "", fmt.Errorf("encode model turn: %w", err)
	}
	return string(data), nil
}

// sanitizeCalls replaces tool input that is not valid JSON with the raw text
// as a JSON string so the turn can still be recorded. The verifier reports
// such calls back to the model as malformed.
func sanitizeCalls(calls []ToolCall) []ToolCall {
	var out []ToolCall
	for i, call := range calls {
		if len(call.Input) == 0 || json.Valid(call.Input) {
			continue
		}
		if out == nil {
			out = append([]ToolCall(nil), calls...)
		}
		quoted, _ := json.Marshal(string(call.Input))
		out[i].Input = quoted
	}
	if out == nil {
		return calls
	}
	return out
}

// inputObject reports whether raw is absent or a JSON object.
func inputObject(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || trimmed[0] == '{'
}

type toolVerifier struct {
	tools *ToolSet
}

// NewToolVerifier executes the tool calls of a model turn. A turn without
// tool calls is the final answer. Unknown tools and tool errors are reported
// back to the model as error results.
func NewToolVerifier(tools *ToolSet) Verifier {
	return toolVerifier{tools: tools}
}

func (v toolVerifier) Verify(ctx context.Context, artifact string) (Outcome, error) {
	turn, err := decodeTurn(artifact)
	if err != nil {
		return Failed(fmt.Sprintf("malformed model turn: %v", err)), nil
	}
	if len(turn.ToolCalls) == 0 {
		return Succeeded(turn.Text), nil
	}

	results := make([]ToolResult, 0, len(turn.ToolCalls))
	for _, call := range turn.ToolCalls {
		res := ToolResult{CallID: call.ID, Name: call.Name}
		tool, ok := v.tools.Get(call.Name)
		switch {
		case !ok:
			res.Output = fmt.Sprintf("unknown tool %q", call.Name)
			res.IsError = true
		case !inputObject(call.Input):
			res.Output = fmt.Sprintf("invalid tool input for %q: expected a JSON object, got %s", call.Name, call.Input)
			res.IsError = true
		case tool.Run == nil:
			res.Output = fmt.Sprintf("tool %q is not runnable", call.Name)
			res.IsError = true
		default:
			out, err := tool.Run(ctx, call.Input)
			if err != nil {
				if ctx.Err() != nil {
					return Outcome{}, ctx.Err()
				}
				res.Output = err.Error()
				res.IsError = true
			} else {
				res.Output = out
			}
		}
		results = append(results, res)
	}
	data, err := json.Marshal(results)
	if err != nil {
		return Outcome{}, fmt.Errorf("encode tool results: %w", err)
	}
	return ToolResults(string(data)), nil
}

// FinalText returns the answer text of a model turn artifact.
func FinalText(artifact string) (string, error) {
	turn, err := decodeTurn(artifact)
	if err != nil {
		return "", err
	}
	if len(turn.ToolCalls) > 0 {
		return "", fmt.Errorf("model turn still requests %d tool call(s)", len(turn.ToolCalls))
	}
	return turn.Text, nil
}

func decodeTurn(artifact string) (ModelTurn, error) {
	var turn ModelTurn
	if err := json.Unmarshal([]byte(artifact), &turn); err != nil {
		return ModelTurn{}, err
	}
	return turn, nil
}
