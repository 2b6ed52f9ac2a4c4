// Package chat runs conversational turns through the refinement loop: every
// reply is reviewed and regenerated from the reviewer's feedback until it is
// approved or the iteration cap is reached.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/basket/go-refine/internal/config"
	"github.com/basket/go-refine/internal/engine"
	"github.com/basket/go-refine/internal/memory"
)

const (
	defaultSystem = `You are a helpful AI assistant.
Provide clear, concise, and engaging responses. Keep responses conversational and natural.`

	regenerateSystem = `You are a helpful AI assistant. The user was not satisfied with your previous response.
Please improve your answer based on their feedback: %s

Provide a better, more comprehensive response that addresses their concerns.`

	historyLimit = 200
)

// Completer is the text model used for replies.
type Completer interface {
	Complete(ctx context.Context, system string, msgs []engine.Message) (string, error)
}

// MessageStore keeps the short-term conversation of each thread.
type MessageStore interface {
	AppendMessages(ctx context.Context, threadID string, msgs ...engine.Message) error
	LoadMessages(ctx context.Context, threadID string, limit int) ([]engine.Message, error)
}

type Config struct {
	Completer Completer
	// Reviewer judges every reply, normally a verify.ApprovalVerifier.
	Reviewer engine.Verifier

	Memory   *memory.SideChannel // optional
	Facts    memory.FactStore    // optional; facts are injected into the system prompt
	Messages MessageStore        // optional; without it every turn starts fresh

	Driver engine.DriverOptions
	Cap    int // falls back to Driver.Config.MaxIterations, then 3
	Window memory.WindowConfig
	System string
	Logger *slog.Logger
}

type Bot struct {
	cfg    Config
	logger *slog.Logger
}

func New(cfg Config) (*Bot, error) {
	if cfg.Completer == nil {
		return nil, errors.New("chat: completer is required")
	}
	if cfg.Reviewer == nil {
		return nil, errors.New("chat: reviewer is required")
	}
	if cfg.Cap <= 0 {
		cfg.Cap = cfg.Driver.Config.MaxIterations
	}
	if cfg.Cap <= 0 {
		cfg.Cap = 3
	}
	if strings.TrimSpace(cfg.System) == "" {
		cfg.System = defaultSystem
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Driver.Logger == nil {
		cfg.Driver.Logger = logger
	}
	return &Bot{cfg: cfg, logger: logger}, nil
}

// SetLoopConfig replaces the loop settings used by subsequent turns. It must
// not be called while a turn is running.
func (b *Bot) SetLoopConfig(lc config.LoopConfig) {
	b.cfg.Driver.Config = lc
	if lc.MaxIterations > 0 {
		b.cfg.Cap = lc.MaxIterations
	}
}

type TurnInput struct {
	ThreadID string
	OwnerKey string
	Message  string
}

type TurnResult struct {
	SessionID string
	Kind      engine.TerminalKind
	// Reply is the approved answer, or the last rejected one when the cap
	// was reached.
	Reply       string
	Feedback    string // last reviewer feedback when not approved
	Attempts    int
	FactsStored int
}

func (r *TurnResult) Approved() bool { return r.Kind == engine.TerminalSucceeded }

// Turn answers one user message. Infrastructure failures are returned as
// errors and leave the thread untouched.
func (b *Bot) Turn(ctx context.Context, in TurnInput) (*TurnResult, error) {
	if strings.TrimSpace(in.Message) == "" {
		return nil, errors.New("chat: empty message")
	}
	logger := b.logger.With("thread_id", in.ThreadID, "owner_key", in.OwnerKey)

	stored := b.cfg.Memory.Remember(ctx, in.OwnerKey, in.Message)

	history := b.loadHistory(ctx, in.ThreadID, logger)
	system := b.systemPrompt(ctx, in.OwnerKey, logger)
	conversation := append(history, engine.Message{Role: engine.RoleUser, Content: in.Message})

	gen := engine.GeneratorFunc(func(ctx context.Context, _ string, attempts []engine.Attempt) (string, error) {
		if rejected, ok := engine.LastRejection(attempts); ok {
			return b.cfg.Completer.Complete(ctx,
				fmt.Sprintf(regenerateSystem, rejected.Outcome.Detail),
				[]engine.Message{{Role: engine.RoleUser, Content: engine.ImprovementRequest(rejected.Artifact, rejected.Outcome.Detail)}},
			)
		}
		return b.cfg.Completer.Complete(ctx, system, conversation)
	})

	driver := engine.NewDriver(gen, b.cfg.Reviewer, b.cfg.Driver)
	res, err := driver.Run(ctx, in.Message, b.cfg.Cap)
	if err != nil {
		return nil, err
	}

	out := &TurnResult{
		SessionID:   res.SessionID,
		Kind:        res.Terminal.Kind,
		Reply:       res.Terminal.Artifact,
		Attempts:    res.Iterations,
		FactsStored: stored,
	}
	switch res.Terminal.Kind {
	case engine.TerminalSucceeded:
		b.append(ctx, in.ThreadID, logger,
			engine.Message{Role: engine.RoleUser, Content: in.Message},
			engine.Message{Role: engine.RoleAssistant, Content: out.Reply},
		)
	case engine.TerminalExhausted:
		out.Feedback = res.Terminal.LastDetail
		// The question stays in the thread; no answer was accepted.
		b.append(ctx, in.ThreadID, logger, engine.Message{Role: engine.RoleUser, Content: in.Message})
	case engine.TerminalCancelled:
		out.Feedback = res.Terminal.LastDetail
	}
	return out, nil
}

func (b *Bot) loadHistory(ctx context.Context, threadID string, logger *slog.Logger) []engine.Message {
	if b.cfg.Messages == nil || threadID == "" {
		return nil
	}
	msgs, err := b.cfg.Messages.LoadMessages(ctx, threadID, historyLimit)
	if err != nil {
		logger.Warn("load thread history failed; continuing without it", "error", err)
		return nil
	}
	kept, dropped := memory.Window(msgs, b.cfg.Window)
	if dropped > 0 {
		logger.Debug("history windowed", "dropped", dropped, "kept", len(kept))
	}
	return kept
}

func (b *Bot) systemPrompt(ctx context.Context, owner string, logger *slog.Logger) string {
	if b.cfg.Facts == nil || owner == "" {
		return b.cfg.System
	}
	facts, err := b.cfg.Facts.ListFacts(ctx, owner)
	if err != nil {
		logger.Warn("load facts failed; continuing without them", "error", err)
		return b.cfg.System
	}
	if block := memory.FormatFacts(facts); block != "" {
		return b.cfg.System + "\n\n" + block
	}
	return b.cfg.System
}

func (b *Bot) append(ctx context.Context, threadID string, logger *slog.Logger, msgs ...engine.Message) {
	if b.cfg.Messages == nil || threadID == "" {
		return
	}
	if err := b.cfg.Messages.AppendMessages(context.WithoutCancel(ctx), threadID, msgs...); err != nil {
		logger.Warn("store thread messages failed", "error", err)
	}
}
