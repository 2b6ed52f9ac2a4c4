package llm

import (
	"encoding/json"

	"github.com/firebase/genkit/go/ai"

	"github.com/basket/go-refine/internal/engine"
)

// toMessages converts the loop's transcript into genkit messages. Tool calls
// become tool request parts on the model message, tool results become a
// tool-role message of response parts.
func toMessages(msgs []engine.Message) []*ai.Message {
	out := make([]*ai.Message, 0, len(msgs))
	for _, m := range msgs {
		switch m.Role {
		case engine.RoleUser:
			out = append(out, ai.NewUserTextMessage(m.Content))
		case engine.RoleAssistant:
			var parts []*ai.Part
			if m.Content != "" {
				parts = append(parts, ai.NewTextPart(m.Content))
			}
			for _, call := range m.ToolCalls {
				parts = append(parts, ai.NewToolRequestPart(&ai.ToolRequest{
					Name:  call.Name,
					Ref:   call.ID,
					Input: decodeInput(call.Input),
				}))
			}
			if len(parts) == 0 {
				continue
			}
			out = append(out, ai.NewModelMessage(parts...))
		case engine.RoleTool:
			parts := make([]*ai.Part, 0, len(m.ToolResults))
			for _, res := range m.ToolResults {
				output := map[string]any{"output": res.Output}
				if res.IsError {
					output = map[string]any{"error": res.Output}
				}
				parts = append(parts, ai.NewToolResponsePart(&ai.ToolResponse{
					Name:   res.Name,
					Ref:    res.CallID,
					Output: output,
				}))
			}
			if len(parts) == 0 {
				continue
			}
			out = append(out, ai.NewMessage(ai.RoleTool, nil, parts...))
		}
	}
	return out
}

// toTurn converts a model response into a loop turn.
func toTurn(resp *ai.ModelResponse) engine.ModelTurn {
	reqs := resp.ToolRequests()
	if len(reqs) == 0 {
		return engine.ModelTurn{Text: resp.Text()}
	}
	turn := engine.ModelTurn{Text: resp.Text()}
	for _, req := range reqs {
		turn.ToolCalls = append(turn.ToolCalls, engine.ToolCall{
			ID:    req.Ref,
			Name:  req.Name,
			Input: encodeInput(req.Input),
		})
	}
	return turn
}

func decodeInput(raw json.RawMessage) any {
	if len(raw) == 0 {
		return map[string]any{}
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return map[string]any{}
	}
	return v
}

func encodeInput(v any) json.RawMessage {
	if v == nil {
		return json.RawMessage(`{}`)
	}
	data, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage(`{}`)
	}
	return data
}
