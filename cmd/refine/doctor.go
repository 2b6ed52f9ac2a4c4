package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/basket/go-refine/internal/config"
	"github.com/basket/go-refine/internal/doctor"
)

func newDoctorCmd(opts *rootOptions) *cobra.Command {
	var (
		asJSON  bool
		offline bool
	)
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check configuration, storage, executor and provider reachability",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			home := opts.home
			if home == "" {
				home = config.HomeDir()
			}
			// Loaded directly so a broken store is reported instead of aborting.
			cfg, err := config.LoadFrom(home)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			d := doctor.Run(cmd.Context(), &cfg, offline)
			w := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(w)
				enc.SetIndent("", "  ")
				if err := enc.Encode(d); err != nil {
					return err
				}
			} else {
				printDiagnosis(w, d)
			}
			if d.Failed() {
				return errors.New("doctor found failing checks")
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the diagnosis as JSON")
	cmd.Flags().BoolVar(&offline, "offline", false, "skip the network check")
	return cmd
}

func printDiagnosis(w io.Writer, d doctor.Diagnosis) {
	writeln(w, "refine doctor (%s/%s, %s)", d.System.OS, d.System.Arch, d.System.Go)
	for _, r := range d.Results {
		writeln(w, "[%s] %-12s %s", r.Status, r.Name, r.Message)
		if r.Detail != "" {
			writeln(w, "       %s", r.Detail)
		}
	}
}
