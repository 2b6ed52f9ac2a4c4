// Package llm adapts genkit models to the generator, tool model and fact
// extractor collaborators of the refinement loop.
package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"github.com/firebase/genkit/go/plugins/anthropic"
	"github.com/firebase/genkit/go/plugins/compat_oai"
	"github.com/firebase/genkit/go/plugins/googlegenai"

	"github.com/basket/go-refine/internal/config"
	"github.com/basket/go-refine/internal/engine"
)

// ErrNotConfigured is returned by every call on a client without an API key.
// Its message classifies as an AUTH error so the loop does not retry it.
var ErrNotConfigured = errors.New("llm: api key not configured")

// Config selects the provider. Empty fields fall back to provider defaults.
type Config struct {
	Provider string
	Model    string
	APIKey   string
	BaseURL  string
	Logger   *slog.Logger
}

// ConfigFrom resolves the effective LLM settings from the loaded config.
func ConfigFrom(cfg config.Config, logger *slog.Logger) Config {
	provider, model, apiKey := cfg.ResolveLLMConfig()
	return Config{
		Provider: provider,
		Model:    model,
		APIKey:   apiKey,
		BaseURL:  cfg.LLM.BaseURL,
		Logger:   logger,
	}
}

type generateFunc func(ctx context.Context, opts ...ai.GenerateOption) (*ai.ModelResponse, error)

// Client is a genkit instance bound to one model.
type Client struct {
	g        *genkit.Genkit
	provider string
	model    string
	enabled  bool
	logger   *slog.Logger
	generate generateFunc
}

// New initializes genkit with the configured provider plugin. Without an API
// key the client is returned disabled rather than failing.
func New(ctx context.Context, cfg Config) *Client {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	provider := strings.ToLower(strings.TrimSpace(cfg.Provider))
	if provider == "" {
		provider = "google"
	}
	apiKey := strings.TrimSpace(cfg.APIKey)

	var g *genkit.Genkit
	enabled := apiKey != ""
	switch {
	case !enabled:
		g = genkit.Init(ctx)
		logger.Warn("llm api key missing; generation disabled", "provider", provider)
	case provider == "anthropic":
		g = genkit.Init(ctx, genkit.WithPlugins(&anthropic.Anthropic{
			APIKey:  apiKey,
			BaseURL: firstNonEmpty(cfg.BaseURL, os.Getenv("ANTHROPIC_BASE_URL")),
		}))
	case provider == "openai":
		g = genkit.Init(ctx, genkit.WithPlugins(&compat_oai.OpenAICompatible{
			Provider: "openai",
			APIKey:   apiKey,
			BaseURL:  firstNonEmpty(cfg.BaseURL, os.Getenv("OPENAI_BASE_URL")),
		}))
	case provider == "openai_compatible":
		g = genkit.Init(ctx, genkit.WithPlugins(&compat_oai.OpenAICompatible{
			Provider: "openai_compatible",
			APIKey:   apiKey,
			BaseURL:  cfg.BaseURL,
		}))
	case provider == "openrouter":
		g = genkit.Init(ctx, genkit.WithPlugins(&compat_oai.OpenAICompatible{
			Provider: "openrouter",
			APIKey:   apiKey,
			BaseURL:  firstNonEmpty(cfg.BaseURL, "https://openrouter.ai/api/v1"),
		}))
	case provider == "google":
		_ = os.Setenv("GEMINI_API_KEY", apiKey)
		g = genkit.Init(ctx, genkit.WithPlugins(&googlegenai.GoogleAI{}))
	default:
		g = genkit.Init(ctx)
		enabled = false
		logger.Warn("unknown llm provider; generation disabled", "provider", provider)
	}

	c := &Client{
		g:        g,
		provider: provider,
		model:    ModelName(provider, cfg.Model),
		enabled:  enabled,
		logger:   logger,
	}
	c.generate = func(ctx context.Context, opts ...ai.GenerateOption) (*ai.ModelResponse, error) {
		return genkit.Generate(ctx, c.g, opts...)
	}
	if enabled {
		logger.Info("llm client initialized", "provider", provider, "model", c.model)
	}
	return c
}

// ModelName returns the genkit model reference for a provider.
func ModelName(provider, model string) string {
	model = strings.TrimSpace(model)
	switch provider {
	case "anthropic":
		return "anthropic/" + model
	case "openai":
		return "openai/" + model
	case "openai_compatible", "openrouter":
		return model
	default:
		return "googleai/" + model
	}
}

func (c *Client) Enabled() bool { return c != nil && c.enabled }

func (c *Client) Model() string { return c.model }

// Genkit exposes the underlying instance for tool registration.
func (c *Client) Genkit() *genkit.Genkit { return c.g }

// Complete sends a system prompt and conversation and returns the reply text.
func (c *Client) Complete(ctx context.Context, system string, msgs []engine.Message) (string, error) {
	resp, err := c.call(ctx, system, msgs)
	if err != nil {
		return "", err
	}
	return resp.Text(), nil
}

func (c *Client) call(ctx context.Context, system string, msgs []engine.Message, extra ...ai.GenerateOption) (*ai.ModelResponse, error) {
	if !c.Enabled() {
		return nil, ErrNotConfigured
	}
	opts := []ai.GenerateOption{ai.WithModelName(c.model)}
	if strings.TrimSpace(system) != "" {
		// WithSystem formats its argument.
		opts = append(opts, ai.WithSystem(strings.ReplaceAll(system, "%", "%%")))
	}
	if converted := toMessages(msgs); len(converted) > 0 {
		opts = append(opts, ai.WithMessages(converted...))
	}
	opts = append(opts, extra...)

	resp, err := c.generate(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("genkit generate: %w", err)
	}
	if resp == nil {
		return nil, fmt.Errorf("genkit generate: empty response")
	}
	return resp, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
