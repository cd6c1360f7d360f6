package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var repoDir string

func main() {
	root := &cobra.Command{
		Use:   "grit",
		Short: "Content-addressable object store plumbing",
	}
	root.PersistentFlags().StringVarP(&repoDir, "repo", "C", ".", "repository directory")

	root.AddCommand(newVersionCmd())
	root.AddCommand(newInitCmd())
	root.AddCommand(newHashObjectCmd())
	root.AddCommand(newCatFileCmd())
	root.AddCommand(newUpdateRefCmd())
	root.AddCommand(newRefsCmd())
	root.AddCommand(newReflogCmd())
	root.AddCommand(newPackRefsCmd())
	root.AddCommand(newRepackCmd())
	root.AddCommand(newVerifyCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "grit 0.1.0-dev")
		},
	}
}
