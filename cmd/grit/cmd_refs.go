package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/gritvcs/grit/pkg/repo"
)

func newRefsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "refs [prefix]",
		Short: "List references",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := repo.Open(repoDir)
			if err != nil {
				return err
			}
			prefix := "refs/"
			if len(args) > 0 {
				prefix = args[0]
			}

			list, err := r.Refs.List(prefix)
			if err != nil {
				return err
			}
			for _, ref := range list {
				if ref.IsSymbolic() {
					fmt.Fprintf(cmd.OutOrStdout(), "ref: %s %s\n", ref.Symref, ref.Name)
					continue
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", ref.ID, ref.Name)
			}
			return nil
		},
	}
}

func newReflogCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "reflog <name>",
		Short: "Show a reference's update history, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := repo.Open(repoDir)
			if err != nil {
				return err
			}
			entries, err := r.Refs.ReadReflog(args[0], limit)
			if err != nil {
				return err
			}
			for _, e := range entries {
				old := "(none)"
				if !e.Old.IsZero() {
					old = e.Old.Hex()
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s -> %s %d %s\n", old, e.New, e.Timestamp, e.Reason)
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "show at most n entries")
	return cmd
}

func newPackRefsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pack-refs",
		Short: "Fold loose references into the packed-refs file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := repo.Open(repoDir)
			if err != nil {
				return err
			}
			return r.Refs.Compact()
		},
	}
}
