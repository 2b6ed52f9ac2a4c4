package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/basket/go-refine/internal/engine"
	"github.com/basket/go-refine/internal/llm"
	"github.com/basket/go-refine/internal/memory"
	"github.com/basket/go-refine/internal/verify"
)

func newAgentCmd(opts *rootOptions) *cobra.Command {
	var (
		maxIterations int
		owner         string
		showTools     bool
	)
	cmd := &cobra.Command{
		Use:   "agent <question>",
		Short: "Answer a question with a tool-calling model",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				if err := a.requireLLM(); err != nil {
					return err
				}
				driver := a.agentDriver(owner)

				iterCap := maxIterations
				if iterCap <= 0 {
					// Each tool round is one attempt, so agents get more room.
					iterCap = a.cfg.Loop.MaxIterations * 3
				}
				res, err := driver.Run(ctx, strings.Join(args, " "), iterCap)
				if err != nil {
					return err
				}
				return printAgentResult(cmd, res, showTools)
			})
		},
	}
	cmd.Flags().IntVar(&maxIterations, "max-iterations", 0, "cap on model turns (default 3x loop.max_iterations)")
	cmd.Flags().StringVar(&owner, "user", "", "owner key whose memories search_memory reads")
	cmd.Flags().BoolVar(&showTools, "show-tools", false, "print every tool round")
	return cmd
}

// agentDriver wires the tool-calling loop for owner's memories.
func (a *app) agentDriver(owner string) *engine.Driver {
	tools := agentTools(
		verify.StarlarkExecutor{MaxSteps: a.cfg.Executor.MaxSteps},
		memory.NewManager(a.facts),
		a.ownerOrDefault(owner),
		nil,
	)
	model := llm.NewToolModel(a.llm, agentSystem, tools)
	return engine.NewDriver(engine.NewToolGenerator(model), engine.NewToolVerifier(tools), a.driverOptions(a.cfg.Loop))
}

func printAgentResult(cmd *cobra.Command, res *engine.Result, showTools bool) error {
	w := cmd.OutOrStdout()
	if showTools {
		for _, att := range res.History {
			if att.Outcome.Source == engine.SourceToolResults {
				writeln(w, "[round %d] %s", att.Sequence, att.Outcome.Detail)
			}
		}
	}
	switch res.Terminal.Kind {
	case engine.TerminalSucceeded:
		text, err := engine.FinalText(res.Terminal.Artifact)
		if err != nil {
			return err
		}
		writeln(w, "%s", text)
		return nil
	case engine.TerminalExhausted:
		return fmt.Errorf("agent stopped after %d tool rounds without a final answer", res.Iterations)
	default:
		writeln(w, "cancelled; resume with: refine session resume %s --mode agent", res.SessionID)
		return nil
	}
}
