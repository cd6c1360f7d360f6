package main

import (
	"github.com/spf13/cobra"

	"github.com/gritvcs/grit/pkg/object"
	"github.com/gritvcs/grit/pkg/repo"
)

func newUpdateRefCmd() *cobra.Command {
	var del bool

	cmd := &cobra.Command{
		Use:   "update-ref <name> <new> [<old>]",
		Short: "Update a reference with compare-and-swap semantics",
		Long: `Update a reference atomically. With <old> given, the update succeeds
only if the reference currently holds <old>; otherwise the conflict is
reported with the current value. With -d, <new> is the expected current
value and the reference is deleted.`,
		Args: cobra.RangeArgs(2, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := repo.Open(repoDir)
			if err != nil {
				return err
			}
			name := args[0]

			if del {
				old, err := object.IDFromHex(r.Format, args[1])
				if err != nil {
					return err
				}
				return r.Refs.Delete(name, old)
			}

			new, err := object.IDFromHex(r.Format, args[1])
			if err != nil {
				return err
			}
			var old object.ID
			if len(args) == 3 {
				if old, err = object.IDFromHex(r.Format, args[2]); err != nil {
					return err
				}
			} else if current, err := r.Refs.Read(name); err == nil && !current.IsSymbolic() {
				old = current.ID
			}

			return r.Refs.CompareAndSwap(name, old, new, "update-ref")
		},
	}
	cmd.Flags().BoolVarP(&del, "delete", "d", false, "delete the reference")
	return cmd
}
