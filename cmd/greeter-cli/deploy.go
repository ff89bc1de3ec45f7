package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/govm-net/greeter/core"
	"github.com/govm-net/greeter/program/greeter"
	"github.com/spf13/cobra"
)

func newDeployCmd() *cobra.Command {
	var (
		programID string
		wasmFile  string
		builtin   bool
	)

	cmd := &cobra.Command{
		Use:   "deploy",
		Short: "Store a WebAssembly program under an id",
		Long: `Store a WebAssembly program in the program repository under the given id.
Stored programs are loaded again on every start.
Example: greeter-cli deploy --id HD3sxGps2pr36KvHZY4JjaQgG9otncF9SCovGvTvhvdp --builtin`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := core.ParseAddress(programID)
			if err != nil {
				return err
			}

			var code []byte
			switch {
			case builtin && wasmFile != "":
				return fmt.Errorf("--file and --builtin are mutually exclusive")
			case builtin:
				code = greeter.Wasm
			case wasmFile != "":
				if code, err = os.ReadFile(wasmFile); err != nil {
					return fmt.Errorf("failed to read program: %w", err)
				}
			default:
				return fmt.Errorf("one of --file or --builtin is required")
			}

			engine, _, err := openEngine(cmd)
			if err != nil {
				return err
			}
			defer engine.Close()

			slog.Info("deploying program", "program", id, "size", len(code))
			if err := engine.DeployWasm(cmd.Context(), id, code); err != nil {
				return err
			}
			programABI, err := engine.ABI(id)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Deployed %s (%d bytes)\n", id, len(code))
			for _, ix := range programABI.Instructions {
				fmt.Fprintf(out, "  %s discriminator=%x\n", ix.Name, ix.Discriminator[:])
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&programID, "id", "", "program id (base58)")
	cmd.Flags().StringVarP(&wasmFile, "file", "f", "", "WebAssembly program to deploy")
	cmd.Flags().BoolVar(&builtin, "builtin", false, "deploy the built-in greeter module")
	cmd.MarkFlagRequired("id")
	return cmd
}
