package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/gritvcs/grit/pkg/object"
	"github.com/gritvcs/grit/pkg/repo"
)

func newHashObjectCmd() *cobra.Command {
	var (
		typeName string
		write    bool
	)

	cmd := &cobra.Command{
		Use:   "hash-object [file]",
		Short: "Compute an object ID, optionally storing the object",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				payload []byte
				err     error
			)
			if len(args) > 0 {
				payload, err = os.ReadFile(args[0])
			} else {
				payload, err = io.ReadAll(cmd.InOrStdin())
			}
			if err != nil {
				return fmt.Errorf("read input: %w", err)
			}

			t, err := object.ParseType(typeName)
			if err != nil {
				return err
			}

			r, err := repo.Open(repoDir)
			if err != nil {
				return err
			}

			var id object.ID
			if write {
				id, err = r.Objects.PutRaw(t, payload)
				if err != nil {
					return err
				}
			} else {
				id = object.HashObject(r.Format, t, payload)
			}

			fmt.Fprintln(cmd.OutOrStdout(), id)
			return nil
		},
	}
	cmd.Flags().StringVarP(&typeName, "type", "t", "blob", "object type")
	cmd.Flags().BoolVarP(&write, "write", "w", false, "store the object in the database")
	return cmd
}
