package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/basket/go-refine/internal/chat"
	"github.com/basket/go-refine/internal/config"
	"github.com/basket/go-refine/internal/engine"
	"github.com/basket/go-refine/internal/verify"
)

// quitWords end the REPL.
var quitWords = map[string]bool{"quit": true, "exit": true, "bye": true}

func isQuit(line string) bool {
	return quitWords[strings.ToLower(strings.TrimSpace(line))]
}

type chatOptions struct {
	owner    string
	thread   string
	approval string
}

func newChatCmd(opts *rootOptions) *cobra.Command {
	co := &chatOptions{}
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Chat with human approval of every reply",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				if err := a.requireLLM(); err != nil {
					return err
				}
				return runChat(ctx, a, co, cmd.InOrStdin(), cmd.OutOrStdout())
			})
		},
	}
	cmd.Flags().StringVar(&co.owner, "user", "", "owner key for long-term memory (default memory.default_owner_key)")
	cmd.Flags().StringVar(&co.thread, "thread", "", "conversation thread id (default: new thread)")
	cmd.Flags().StringVar(&co.approval, "approval", "console", "console, auto or gateway")
	return cmd
}

func runChat(ctx context.Context, a *app, co *chatOptions, in io.Reader, out io.Writer) error {
	console := &verify.ConsoleApprover{In: in, Out: out, Styled: isStyled(out), Bus: a.bus}

	var approver verify.Approver
	switch co.approval {
	case "console":
		approver = console
	case "auto":
		approver = verify.AutoApprover{}
	case "gateway":
		queue := verify.NewApprovalQueue(a.bus, a.cfg.Gateway.ApprovalTimeout, a.logger)
		stopGateway, err := startGateway(ctx, a, queue, out)
		if err != nil {
			return err
		}
		defer stopGateway()
		stopPruner, err := startPruner(ctx, a)
		if err != nil {
			return err
		}
		defer stopPruner()
		writeln(out, "approvals are served on ws://%s/ws", a.cfg.Gateway.BindAddr)
		approver = queue
	default:
		return fmt.Errorf("unknown approval mode %q (want console, auto or gateway)", co.approval)
	}

	side, err := a.sideChannel()
	if err != nil {
		return err
	}
	bot, err := chat.New(chat.Config{
		Completer: a.llm,
		Reviewer:  verify.NewApprovalVerifier(approver),
		Memory:    side,
		Facts:     a.facts,
		Messages:  a.messages,
		Driver:    a.driverOptions(a.cfg.Loop),
		Logger:    a.logger,
	})
	if err != nil {
		return err
	}

	// Loop settings follow config.yaml edits between turns.
	var mu sync.Mutex
	watchCtx, stopWatch := context.WithCancel(ctx)
	defer stopWatch()
	watchLoopConfig(watchCtx, a, func(lc config.LoopConfig) {
		mu.Lock()
		defer mu.Unlock()
		bot.SetLoopConfig(lc)
	})

	thread := co.thread
	if thread == "" {
		thread = uuid.NewString()
	}
	owner := a.ownerOrDefault(co.owner)
	writeln(out, "thread %s (user %s). Type quit, exit or bye to leave.", thread, owner)

	for {
		fmt.Fprint(out, "\nyou> ")
		line, err := console.ReadLine(ctx)
		if err != nil {
			if errors.Is(err, verify.ErrInputClosed) || errors.Is(err, context.Canceled) {
				writeln(out, "")
				return nil
			}
			return err
		}
		if strings.TrimSpace(line) == "" {
			continue
		}
		if isQuit(line) {
			writeln(out, "bye")
			return nil
		}

		mu.Lock()
		res, err := bot.Turn(ctx, chat.TurnInput{ThreadID: thread, OwnerKey: owner, Message: line})
		mu.Unlock()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			writeln(out, "error: %v", err)
			continue
		}
		printTurn(out, res)
	}
}

func printTurn(w io.Writer, res *chat.TurnResult) {
	switch res.Kind {
	case engine.TerminalSucceeded:
		writeln(w, "\nassistant> %s", res.Reply)
	case engine.TerminalExhausted:
		writeln(w, "\nassistant> %s", res.Reply)
		writeln(w, "(not approved after %d attempts; last feedback: %s)", res.Attempts, res.Feedback)
	case engine.TerminalCancelled:
		writeln(w, "(cancelled)")
	}
	if res.FactsStored > 0 {
		writeln(w, "(remembered %d new fact(s))", res.FactsStored)
	}
}

func isStyled(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && isatty.IsTerminal(f.Fd())
}

// watchLoopConfig calls apply with the loop section each time config.yaml
// changes and still validates.
func watchLoopConfig(ctx context.Context, a *app, apply func(config.LoopConfig)) {
	w := config.NewWatcher(a.cfg.HomeDir, a.logger)
	if err := w.Start(ctx); err != nil {
		a.logger.Warn("config watcher unavailable", "error", err)
		return
	}
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-w.Events():
				if !ok {
					return
				}
				cfg, err := config.LoadFrom(a.cfg.HomeDir)
				if err != nil {
					a.logger.Error("config.yaml reload rejected; keeping previous loop settings", "error", err)
					continue
				}
				apply(cfg.Loop)
				a.logger.Info("loop settings reloaded", "path", ev.Path, "max_iterations", cfg.Loop.MaxIterations)
			}
		}
	}()
}
