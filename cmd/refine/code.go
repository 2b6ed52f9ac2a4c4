package main

import (
	"context"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/basket/go-refine/internal/engine"
	"github.com/basket/go-refine/internal/llm"
	"github.com/basket/go-refine/internal/verify"
)

func newCodeCmd(opts *rootOptions) *cobra.Command {
	var (
		maxIterations int
		executorKind  string
	)
	cmd := &cobra.Command{
		Use:   "code <task>",
		Short: "Generate code for a task and run it until it succeeds",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				if err := a.requireLLM(); err != nil {
					return err
				}
				driver, closeExec, err := a.codeDriver(executorKind)
				if err != nil {
					return err
				}
				defer closeExec()

				iterCap := maxIterations
				if iterCap <= 0 {
					iterCap = a.cfg.Loop.MaxIterations
				}
				res, err := driver.Run(ctx, strings.Join(args, " "), iterCap)
				if err != nil {
					return err
				}
				printCodeResult(cmd.OutOrStdout(), res)
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&maxIterations, "max-iterations", 0, "iteration cap (default loop.max_iterations)")
	cmd.Flags().StringVar(&executorKind, "executor", "", "starlark, docker or host (default executor.kind)")
	return cmd
}

// codeDriver wires the code generator and the executor-backed verifier.
func (a *app) codeDriver(executorKind string) (*engine.Driver, func() error, error) {
	if executorKind == "" {
		executorKind = a.cfg.Executor.Kind
	}
	exec, closeExec, err := a.executor(executorKind)
	if err != nil {
		return nil, closeExec, err
	}
	gen := llm.CodeGenerator{Client: a.llm, Language: languageFor(executorKind)}
	return engine.NewDriver(gen, verify.NewCodeVerifier(exec), a.driverOptions(a.cfg.Loop)), closeExec, nil
}

func printCodeResult(w io.Writer, res *engine.Result) {
	writeln(w, "session %s %s after %d attempt(s)", res.SessionID, terminalKindLabel(res.Terminal.Kind), res.Iterations)
	switch res.Terminal.Kind {
	case engine.TerminalSucceeded:
		writeln(w, "\n--- code ---\n%s\n--- output ---\n%s", res.Terminal.Artifact, strings.TrimRight(res.Terminal.Output, "\n"))
	case engine.TerminalExhausted:
		for _, att := range res.History {
			writeln(w, "attempt %d: %s", att.Sequence, firstLine(att.Outcome.Detail))
		}
		writeln(w, "\n--- last code ---\n%s", res.Terminal.Artifact)
	case engine.TerminalCancelled:
		writeln(w, "resume with: refine session resume %s", res.SessionID)
	}
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i] + " ..."
	}
	return s
}
