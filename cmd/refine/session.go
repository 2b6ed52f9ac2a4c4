package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/basket/go-refine/internal/engine"
)

func newSessionCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Inspect, resume and prune checkpointed sessions",
	}

	show := &cobra.Command{
		Use:   "show <id>",
		Short: "Print a session's attempts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				sess, err := a.sessions.LoadSession(ctx, args[0])
				if err != nil {
					return err
				}
				printSession(cmd.OutOrStdout(), sess)
				return nil
			})
		},
	}

	var (
		mode         string
		executorKind string
		owner        string
	)
	resume := &cobra.Command{
		Use:   "resume <id>",
		Short: "Continue an unfinished session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				if err := a.requireLLM(); err != nil {
					return err
				}
				switch mode {
				case "code":
					driver, closeExec, err := a.codeDriver(executorKind)
					if err != nil {
						return err
					}
					defer closeExec()
					res, err := driver.Resume(ctx, args[0])
					if err != nil {
						return err
					}
					printCodeResult(cmd.OutOrStdout(), res)
					return nil
				case "agent":
					driver := a.agentDriver(owner)
					res, err := driver.Resume(ctx, args[0])
					if err != nil {
						return err
					}
					return printAgentResult(cmd, res, false)
				default:
					return fmt.Errorf("unknown mode %q (want code or agent)", mode)
				}
			})
		},
	}
	resume.Flags().StringVar(&mode, "mode", "code", "loop the session was started with: code or agent")
	resume.Flags().StringVar(&owner, "user", "", "owner key for search_memory in agent sessions")
	resume.Flags().StringVar(&executorKind, "executor", "", "executor for code sessions (default executor.kind)")

	var limit int
	list := &cobra.Command{
		Use:   "list",
		Short: "List recent sessions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				if a.lister == nil {
					return errors.New("the configured session backend cannot list sessions")
				}
				sums, err := a.lister.ListSessions(ctx, limit)
				if err != nil {
					return err
				}
				w := cmd.OutOrStdout()
				for _, s := range sums {
					state := s.Terminal
					if state == "" {
						state = "RUNNING"
					}
					writeln(w, "%s  %-17s  %d/%d  %s  %s", s.ID, state, s.Iterations, s.IterationCap, s.UpdatedAt.Local().Format("2006-01-02 15:04"), truncateLine(s.Input, 60))
				}
				return nil
			})
		},
	}
	list.Flags().IntVar(&limit, "limit", 20, "maximum sessions to show")

	var olderThan time.Duration
	prune := &cobra.Command{
		Use:   "prune",
		Short: "Delete finished sessions older than a duration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				if a.lister == nil {
					return errors.New("the configured session backend cannot prune sessions")
				}
				n, err := a.lister.CleanupFinishedSessions(ctx, olderThan)
				if err != nil {
					return err
				}
				writeln(cmd.OutOrStdout(), "pruned %d session(s)", n)
				return nil
			})
		},
	}
	prune.Flags().DurationVar(&olderThan, "older-than", 7*24*time.Hour, "age of finished sessions to delete")

	cmd.AddCommand(show, resume, list, prune)
	return cmd
}

func printSession(w io.Writer, sess *engine.Session) {
	writeln(w, "session %s", sess.ID())
	writeln(w, "input:    %s", sess.Input())
	writeln(w, "attempts: %d/%d", sess.IterationCount(), sess.IterationCap())
	if t, ok := sess.Terminal(); ok {
		writeln(w, "terminal: %s", t.Kind)
	} else {
		writeln(w, "terminal: none (resumable)")
	}
	for _, att := range sess.History() {
		writeln(w, "\n#%d %s %s", att.Sequence, att.Outcome.Kind, att.CreatedAt.Local().Format(time.TimeOnly))
		if att.Outcome.Detail != "" {
			writeln(w, "  %s: %s", att.Outcome.Source, firstLine(att.Outcome.Detail))
		}
	}
}

func truncateLine(s string, n int) string {
	s = firstLine(s)
	if len([]rune(s)) <= n {
		return s
	}
	return string([]rune(s)[:n-3]) + "..."
}
