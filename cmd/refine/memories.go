package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/basket/go-refine/internal/memory"
)

func newMemoriesCmd(opts *rootOptions) *cobra.Command {
	var owner string
	cmd := &cobra.Command{
		Use:     "memories",
		Aliases: []string{"memory"},
		Short:   "Inspect and manage long-term memory",
	}
	cmd.PersistentFlags().StringVar(&owner, "user", "", "owner key (default memory.default_owner_key)")

	run := func(fn func(ctx context.Context, m *memory.Manager, owner string, out io.Writer, args []string) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				return fn(ctx, memory.NewManager(a.facts), a.ownerOrDefault(owner), cmd.OutOrStdout(), args)
			})
		}
	}

	var yes bool
	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete every memory of the user",
		Args:  cobra.NoArgs,
		RunE: run(func(ctx context.Context, m *memory.Manager, owner string, out io.Writer, _ []string) error {
			if !yes {
				return fmt.Errorf("refusing to delete all memories of %s without --yes", owner)
			}
			n, err := m.DeleteAll(ctx, owner)
			if err != nil {
				return err
			}
			writeln(out, "deleted %d memories of %s", n, owner)
			return nil
		}),
	}
	clearCmd.Flags().BoolVar(&yes, "yes", false, "confirm deletion")

	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List memories, oldest first",
			Args:  cobra.NoArgs,
			RunE: run(func(ctx context.Context, m *memory.Manager, owner string, out io.Writer, _ []string) error {
				facts, err := m.List(ctx, owner)
				if err != nil {
					return err
				}
				printFacts(out, owner, facts)
				return nil
			}),
		},
		&cobra.Command{
			Use:   "search <term>",
			Short: "Find memories containing a term",
			Args:  cobra.MinimumNArgs(1),
			RunE: run(func(ctx context.Context, m *memory.Manager, owner string, out io.Writer, args []string) error {
				facts, err := m.Search(ctx, owner, strings.Join(args, " "))
				if err != nil {
					return err
				}
				printFacts(out, owner, facts)
				return nil
			}),
		},
		&cobra.Command{
			Use:   "delete <id>",
			Short: "Delete one memory by id",
			Args:  cobra.ExactArgs(1),
			RunE: run(func(ctx context.Context, m *memory.Manager, owner string, out io.Writer, args []string) error {
				if err := m.Delete(ctx, owner, args[0]); err != nil {
					if errors.Is(err, memory.ErrFactNotFound) {
						return fmt.Errorf("no memory %s for %s", args[0], owner)
					}
					return err
				}
				writeln(out, "deleted %s", args[0])
				return nil
			}),
		},
		&cobra.Command{
			Use:   "count",
			Short: "Count memories",
			Args:  cobra.NoArgs,
			RunE: run(func(ctx context.Context, m *memory.Manager, owner string, out io.Writer, _ []string) error {
				n, err := m.Count(ctx, owner)
				if err != nil {
					return err
				}
				writeln(out, "%d", n)
				return nil
			}),
		},
		clearCmd,
	)
	return cmd
}

func printFacts(w io.Writer, owner string, facts []memory.Fact) {
	if len(facts) == 0 {
		writeln(w, "no memories for %s", owner)
		return
	}
	for _, f := range facts {
		writeln(w, "%s  %s  %s", f.ID, f.CreatedAt.Local().Format("2006-01-02 15:04"), f.Text)
	}
}
