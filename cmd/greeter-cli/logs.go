package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func newLogsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logs <deployment|id>",
		Short: "Print the recorded program log of a program",
		Long: `Print every program log message recorded for a program, oldest first.
Only the db context keeps logs across runs.
Example: greeter-cli --context-type db logs greeter`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, cfg, err := openHost(cmd)
			if err != nil {
				return err
			}
			defer engine.Close()

			id, err := resolveProgram(cfg, args[0])
			if err != nil {
				return err
			}
			entries, err := engine.Host().Logs(id)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			for _, e := range entries {
				fmt.Fprintf(out, "%s %s %s\n", e.Time.Format(time.RFC3339), e.InvocationID, e.Message)
			}
			return nil
		},
	}
}
