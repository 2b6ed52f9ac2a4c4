package memory

import "github.com/basket/go-refine/internal/engine"

// WindowConfig bounds the conversation history replayed to the model.
type WindowConfig struct {
	MaxMessages int // default 50
	MaxTokens   int // default 8000
}

func DefaultWindowConfig() WindowConfig {
	return WindowConfig{
		MaxMessages: 50,
		MaxTokens:   8000,
	}
}

// Window keeps the newest messages that fit cfg, in their original order.
// It returns the kept messages and how many older ones were dropped.
func Window(messages []engine.Message, cfg WindowConfig) ([]engine.Message, int) {
	if cfg.MaxMessages <= 0 {
		cfg.MaxMessages = DefaultWindowConfig().MaxMessages
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultWindowConfig().MaxTokens
	}

	start := len(messages)
	total := 0
	for i := len(messages) - 1; i >= 0; i-- {
		if len(messages)-i > cfg.MaxMessages {
			break
		}
		tokens := EstimateTokens(messages[i].Content)
		if total+tokens > cfg.MaxTokens {
			break
		}
		total += tokens
		start = i
	}
	kept := make([]engine.Message, len(messages)-start)
	copy(kept, messages[start:])
	return kept, start
}
