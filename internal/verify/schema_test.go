package verify

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/basket/go-refine/internal/engine"
)

const personSchema = `{
	"type": "object",
	"properties": {
		"name": {"type": "string"},
		"age": {"type": "integer", "minimum": 0}
	},
	"required": ["name", "age"]
}`

func newPersonVerifier(t *testing.T) *SchemaVerifier {
	t.Helper()
	v, err := NewSchemaVerifier(json.RawMessage(personSchema))
	if err != nil {
		t.Fatalf("NewSchemaVerifier: %v", err)
	}
	return v
}

func TestNewSchemaVerifier_InvalidSchema(t *testing.T) {
	if _, err := NewSchemaVerifier(json.RawMessage(`{"type": 5}`)); err == nil {
		t.Fatal("expected compile error")
	}
	if _, err := NewSchemaVerifier(json.RawMessage(`{not json`)); err == nil {
		t.Fatal("expected unmarshal error")
	}
}

func TestSchemaVerifier_Verify(t *testing.T) {
	v := newPersonVerifier(t)
	tests := []struct {
		name     string
		artifact string
		success  bool
		contains string
	}{
		{"fenced valid", "Sure:\n```json\n{\"name\": \"Ada\", \"age\": 36}\n```", true, ""},
		{"raw valid", `The answer is {"name": "Ada", "age": 36} as requested.`, true, ""},
		{"missing field", `{"name": "Ada"}`, false, "schema validation failed"},
		{"wrong type", `{"name": "Ada", "age": "old"}`, false, "schema validation failed"},
		{"no json", "I cannot help with that.", false, "does not contain valid JSON"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			out, err := v.Verify(context.Background(), tc.artifact)
			if err != nil {
				t.Fatalf("Verify: %v", err)
			}
			if out.IsSuccess() != tc.success {
				t.Fatalf("outcome = %+v", out)
			}
			if tc.success && !strings.Contains(out.Output, `"Ada"`) {
				t.Fatalf("output = %q", out.Output)
			}
			if !tc.success {
				if out.Kind != engine.OutcomeFailure || !strings.Contains(out.Detail, tc.contains) {
					t.Fatalf("detail = %q, want substring %q", out.Detail, tc.contains)
				}
			}
		})
	}
}

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"json fence", "```json\n{\"a\":1}\n```", `{"a":1}`},
		{"bare fence", "```\n[1,2]\n```", `[1,2]`},
		{"bare fence not json", "```\nprint(1)\n```", ""},
		{"embedded", `pre {"a":{"b":"}"}} post`, `{"a":{"b":"}"}}`},
		{"escaped quote", `x {"a":"\"{"} y`, `{"a":"\"{"}`},
		{"skips invalid brace", `{oops} then {"ok":true}`, `{"ok":true}`},
		{"none", "nothing here", ""},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := ExtractJSON(tc.in); got != tc.want {
				t.Fatalf("ExtractJSON(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}

func TestSchemaVerifier_SchemaJSON(t *testing.T) {
	v := newPersonVerifier(t)
	if string(v.SchemaJSON()) != personSchema {
		t.Fatal("SchemaJSON should return the raw schema")
	}
}
