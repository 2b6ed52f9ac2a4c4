package verify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/basket/go-refine/internal/engine"
)

// SchemaVerifier accepts artifacts whose embedded JSON satisfies a schema.
type SchemaVerifier struct {
	schema *jsonschema.Schema
	raw    json.RawMessage
}

// NewSchemaVerifier compiles schemaJSON.
func NewSchemaVerifier(schemaJSON json.RawMessage) (*SchemaVerifier, error) {
	// jsonschema.UnmarshalJSON keeps numbers as json.Number, which the
	// validator requires.
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(string(schemaJSON)))
	if err != nil {
		return nil, fmt.Errorf("unmarshal schema JSON: %w", err)
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource("schema.json", doc); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	schema, err := c.Compile("schema.json")
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return &SchemaVerifier{schema: schema, raw: schemaJSON}, nil
}

// SchemaJSON returns the raw schema for inclusion in prompts.
func (v *SchemaVerifier) SchemaJSON() json.RawMessage {
	return v.raw
}

// Validate extracts JSON from text and checks it against the schema. It
// returns the extracted document.
func (v *SchemaVerifier) Validate(text string) (string, error) {
	doc := ExtractJSON(text)
	if doc == "" {
		return "", fmt.Errorf("response does not contain valid JSON")
	}
	parsed, err := jsonschema.UnmarshalJSON(strings.NewReader(doc))
	if err != nil {
		return "", fmt.Errorf("invalid JSON: %w", err)
	}
	if err := v.schema.Validate(parsed); err != nil {
		return "", fmt.Errorf("schema validation failed: %w", err)
	}
	return doc, nil
}

func (v *SchemaVerifier) Verify(_ context.Context, artifact string) (engine.Outcome, error) {
	doc, err := v.Validate(artifact)
	if err != nil {
		return engine.Failed(err.Error()), nil
	}
	return engine.Succeeded(doc), nil
}

// ExtractJSON finds a JSON object or array in model output: a ```json fence,
// then a bare fence holding JSON, then the first balanced raw value.
func ExtractJSON(text string) string {
	if idx := strings.Index(text, "```json"); idx >= 0 {
		start := idx + len("```json")
		if start < len(text) && text[start] == '\n' {
			start++
		}
		if end := strings.Index(text[start:], "```"); end >= 0 {
			if candidate := strings.TrimSpace(text[start : start+end]); candidate != "" {
				return candidate
			}
		}
	}

	if idx := strings.Index(text, "```\n"); idx >= 0 {
		start := idx + 4
		if end := strings.Index(text[start:], "```"); end >= 0 {
			candidate := strings.TrimSpace(text[start : start+end])
			if isJSON(candidate) {
				return candidate
			}
		}
	}

	for i := 0; i < len(text); i++ {
		if text[i] == '{' || text[i] == '[' {
			candidate := balancedPrefix(text[i:])
			if candidate != "" && isJSON(candidate) {
				return candidate
			}
		}
	}
	return ""
}

func isJSON(s string) bool {
	var v any
	return json.Unmarshal([]byte(s), &v) == nil
}

// balancedPrefix returns the bracket-balanced value at the start of s.
func balancedPrefix(s string) string {
	if len(s) == 0 {
		return ""
	}
	opener := s[0]
	var closer byte
	switch opener {
	case '{':
		closer = '}'
	case '[':
		closer = ']'
	default:
		return ""
	}

	depth := 0
	inString, escaped := false, false
	for i := 0; i < len(s); i++ {
		ch := s[i]
		switch {
		case escaped:
			escaped = false
		case ch == '\\' && inString:
			escaped = true
		case ch == '"':
			inString = !inString
		case inString:
		case ch == opener:
			depth++
		case ch == closer:
			depth--
			if depth == 0 {
				return s[:i+1]
			}
		}
	}
	return ""
}
