package main

import (
	"fmt"

	"github.com/govm-net/greeter/program/greeter"
	"github.com/spf13/cobra"
)

func newIDCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "id",
		Short: "Print the program id this binary was built with",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := fmt.Fprintln(cmd.OutOrStdout(), greeter.ID())
			return err
		},
	}
}
