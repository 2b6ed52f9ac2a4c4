package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/basket/go-refine/internal/engine"
	"github.com/basket/go-refine/internal/memory"
	"github.com/basket/go-refine/internal/verify"
)

const extractorSystem = `You extract durable personal facts about the user from their latest message.
Only keep facts that will still be true later: name, job, location, preferences, tools they use.
Ignore questions, greetings and one-off requests.
Reply with a JSON array only. Each item is {"text": "<short fact in third person>", "is_new": <true if not already known>}.
Reply with [] when there is nothing worth remembering.`

const candidatesSchema = `{
	"type": "array",
	"items": {
		"type": "object",
		"required": ["text", "is_new"],
		"properties": {
			"text": {"type": "string", "minLength": 1},
			"is_new": {"type": "boolean"}
		}
	}
}`

// Extractor asks the model for candidate facts and validates the reply
// against a JSON schema before trusting it.
type Extractor struct {
	client Completer
	schema *verify.SchemaVerifier
}

func NewExtractor(client Completer) (*Extractor, error) {
	schema, err := verify.NewSchemaVerifier(json.RawMessage(candidatesSchema))
	if err != nil {
		return nil, fmt.Errorf("compile extractor schema: %w", err)
	}
	return &Extractor{client: client, schema: schema}, nil
}

// Extract implements memory.Extractor.
func (e *Extractor) Extract(ctx context.Context, existing []memory.Fact, message string) ([]memory.Candidate, error) {
	if strings.TrimSpace(message) == "" {
		return nil, nil
	}
	var b strings.Builder
	if len(existing) > 0 {
		b.WriteString("Known facts:\n")
		for _, f := range existing {
			fmt.Fprintf(&b, "- %s\n", f.Text)
		}
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "Latest message: %s", message)

	reply, err := e.client.Complete(ctx, extractorSystem, []engine.Message{
		{Role: engine.RoleUser, Content: b.String()},
	})
	if err != nil {
		return nil, err
	}
	return e.parse(reply)
}

func (e *Extractor) parse(reply string) ([]memory.Candidate, error) {
	doc, err := e.schema.Validate(reply)
	if err != nil {
		return nil, fmt.Errorf("extractor reply: %w", err)
	}
	var items []memory.Candidate
	if err := json.Unmarshal([]byte(doc), &items); err != nil {
		return nil, fmt.Errorf("decode extractor reply: %w", err)
	}
	for i := range items {
		items[i].Text = strings.TrimSpace(items[i].Text)
	}
	return items, nil
}
