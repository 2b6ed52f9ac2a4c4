package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/basket/go-refine/internal/engine"
	"github.com/basket/go-refine/internal/verify"
)

// Completer is a single-shot text model.
type Completer interface {
	Complete(ctx context.Context, system string, msgs []engine.Message) (string, error)
}

// CodeGenerator writes code for a task and, after failed attempts, repairs it
// from the accumulated error history.
type CodeGenerator struct {
	Client   Completer
	Language string // defaults to "Python"
}

func (g CodeGenerator) language() string {
	if strings.TrimSpace(g.Language) == "" {
		return "Python"
	}
	return g.Language
}

// SystemPrompt is the instruction given with every generation call.
func (g CodeGenerator) SystemPrompt() string {
	lang := g.language()
	prompt := fmt.Sprintf("You are an expert %s developer. Output ONLY raw %s code without markdown backticks. The program must print its result.", lang, lang)
	if strings.EqualFold(lang, "starlark") {
		prompt += " Starlark has no imports, no classes, no exceptions and no ** operator; use print() for output."
	}
	return prompt
}

// Generate implements engine.Generator.
func (g CodeGenerator) Generate(ctx context.Context, input string, history []engine.Attempt) (string, error) {
	if g.Client == nil {
		return "", ErrNotConfigured
	}
	prompt := fmt.Sprintf("Task: %s", input)
	if len(history) > 0 {
		prompt = engine.RepairPrompt(input, history)
	}
	reply, err := g.Client.Complete(ctx, g.SystemPrompt(), []engine.Message{
		{Role: engine.RoleUser, Content: prompt},
	})
	if err != nil {
		return "", err
	}
	// Models add fences despite being told not to.
	return verify.StripFences(reply), nil
}
