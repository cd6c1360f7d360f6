package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/gritvcs/grit/pkg/object"
	"github.com/gritvcs/grit/pkg/repo"
)

func newInitCmd() *cobra.Command {
	var sha256 bool

	cmd := &cobra.Command{
		Use:   "init [path]",
		Short: "Create an empty repository",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := repoDir
			if len(args) > 0 {
				path = args[0]
			}

			abs, err := filepath.Abs(path)
			if err != nil {
				return fmt.Errorf("resolve path: %w", err)
			}
			if err := os.MkdirAll(abs, 0o755); err != nil {
				return fmt.Errorf("create directory: %w", err)
			}

			format := object.SHA1
			if sha256 {
				format = object.SHA256
			}
			r, err := repo.Init(abs, repo.Options{Format: format})
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "initialized empty %s repository in %s\n", r.Format, r.Root)
			return nil
		},
	}
	cmd.Flags().BoolVar(&sha256, "sha256", false, "use the 32-byte SHA-256 object format")
	return cmd
}
