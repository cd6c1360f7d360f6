package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/gritvcs/grit/pkg/odb"
	"github.com/gritvcs/grit/pkg/repo"
)

func newRepackCmd() *cobra.Command {
	var window int

	cmd := &cobra.Command{
		Use:   "repack",
		Short: "Consolidate loose objects into a new pack",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := repo.Open(repoDir)
			if err != nil {
				return err
			}

			summary, err := r.Objects.Repack(odb.RepackOptions{DeltaWindow: window})
			if err != nil {
				return err
			}
			if summary.Packed == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "nothing to pack")
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "packed %d objects (%d deltas) into %s, removed %d loose files\n",
				summary.Packed, summary.Deltas, summary.PackFile, summary.LooseRemoved)
			return nil
		},
	}
	cmd.Flags().IntVar(&window, "window", 0, "delta search window (negative disables deltas)")
	return cmd
}
