package llm

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"

	"github.com/basket/go-refine/internal/engine"
)

// ToolModel lets a genkit model request tools. Tool requests are returned to
// the caller instead of being executed by genkit, so execution stays inside
// the refinement loop where every round is recorded as an attempt.
type ToolModel struct {
	client *Client
	system string
	tools  []ai.ToolRef
}

// NewToolModel registers the tools with the client's genkit instance. Names
// must be unique per client.
func NewToolModel(client *Client, system string, tools *engine.ToolSet) *ToolModel {
	m := &ToolModel{client: client, system: system}
	if client == nil || client.g == nil || tools == nil {
		return m
	}
	for _, t := range tools.List() {
		tool := t
		m.tools = append(m.tools, genkit.DefineTool(client.g, tool.Name, describeTool(tool),
			func(ctx *ai.ToolContext, input map[string]any) (string, error) {
				raw, err := json.Marshal(input)
				if err != nil {
					return "", fmt.Errorf("encode %s input: %w", tool.Name, err)
				}
				return tool.Run(ctx, raw)
			},
		))
	}
	return m
}

// describeTool folds a declared input schema into the description since the
// registered input type is a generic object.
func describeTool(t engine.Tool) string {
	if len(t.InputSchema) == 0 {
		return t.Description
	}
	schema, err := json.Marshal(t.InputSchema)
	if err != nil {
		return t.Description
	}
	return fmt.Sprintf("%s\nInput JSON schema: %s", t.Description, schema)
}

// Turn implements engine.ToolModel.
func (m *ToolModel) Turn(ctx context.Context, transcript []engine.Message) (engine.ModelTurn, error) {
	extra := []ai.GenerateOption{ai.WithReturnToolRequests(true)}
	if len(m.tools) > 0 {
		extra = append(extra, ai.WithTools(m.tools...))
	}
	resp, err := m.client.call(ctx, m.system, transcript, extra...)
	if err != nil {
		return engine.ModelTurn{}, err
	}
	return toTurn(resp), nil
}
