// Command refine runs generate, verify and retry loops: code that is executed
// until it works, tool-using agents, and a chat whose replies a human approves.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:   "refine",
		Short: "Iterative refinement: generate, verify, retry",
		Long: `refine drives a bounded generate/verify loop.

  refine code "print the first 10 primes"     write code and run it until it works
  refine agent "what is 17 * 23?"              let a model call tools
  refine chat                                  chat with human approval of every reply

Configuration lives in $REFINE_HOME/config.yaml (default ~/.refine).`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.home, "home", "", "refine home directory (default $REFINE_HOME or ~/.refine)")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "override log level (debug, info, warn, error)")
	root.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "also write logs to stdout")

	root.AddCommand(
		newCodeCmd(opts),
		newAgentCmd(opts),
		newChatCmd(opts),
		newMemoriesCmd(opts),
		newSessionCmd(opts),
		newDoctorCmd(opts),
	)
	return root
}

// withApp opens the app for the duration of fn.
func withApp(cmd *cobra.Command, opts *rootOptions, fn func(ctx context.Context, a *app) error) error {
	ctx := cmd.Context()
	a, err := openApp(ctx, *opts)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}
