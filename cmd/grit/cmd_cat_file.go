package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/gritvcs/grit/pkg/object"
	"github.com/gritvcs/grit/pkg/repo"
)

func newCatFileCmd() *cobra.Command {
	var (
		showType bool
		showSize bool
	)

	cmd := &cobra.Command{
		Use:   "cat-file <object>",
		Short: "Print a stored object's content, type, or size",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := repo.Open(repoDir)
			if err != nil {
				return err
			}
			id, err := object.IDFromHex(r.Format, args[0])
			if err != nil {
				return err
			}

			t, payload, err := r.Objects.GetRaw(id)
			if err != nil {
				return err
			}

			switch {
			case showType:
				fmt.Fprintln(cmd.OutOrStdout(), t)
			case showSize:
				fmt.Fprintln(cmd.OutOrStdout(), len(payload))
			default:
				cmd.OutOrStdout().Write(payload)
			}
			return nil
		},
	}
	cmd.Flags().BoolVarP(&showType, "type", "t", false, "print the object type")
	cmd.Flags().BoolVarP(&showSize, "size", "s", false, "print the payload size in bytes")
	return cmd
}
