package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/govm-net/greeter/abi"
	"github.com/govm-net/greeter/api"
	"github.com/govm-net/greeter/compiler"
	"github.com/govm-net/greeter/program/greeter"
	"github.com/govm-net/greeter/wasi"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func newInspectCmd() *cobra.Command {
	var (
		format     string
		wasmFile   string
		sourceFile string
	)

	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "Print the instruction interface of the greeter program",
		Long: `Print the instruction interface of the greeter program, extracted from its
source. With --source another program source file is checked and described,
with --file the instructions of a WebAssembly program are listed instead.
Example: greeter-cli inspect --format yaml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				programABI *abi.ABI
				err        error
			)
			switch {
			case wasmFile != "" && sourceFile != "":
				return fmt.Errorf("--file and --source are mutually exclusive")
			case wasmFile != "":
				programABI, err = inspectWasm(cmd.Context(), wasmFile)
			case sourceFile != "":
				programABI, err = inspectSource(sourceFile)
			default:
				programABI, err = compiler.NewValidator(api.DefaultProgramConfig()).Validate(greeter.Source)
			}
			if err != nil {
				return err
			}
			return writeABI(cmd.OutOrStdout(), programABI, format)
		},
	}

	cmd.Flags().StringVarP(&format, "format", "o", "text", "output format (text|json|yaml)")
	cmd.Flags().StringVarP(&wasmFile, "file", "f", "", "WebAssembly program to inspect")
	cmd.Flags().StringVarP(&sourceFile, "source", "s", "", "Go program source to validate and inspect")
	return cmd
}

func inspectSource(path string) (*abi.ABI, error) {
	code, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read program source: %w", err)
	}
	return compiler.NewValidator(api.DefaultProgramConfig()).Validate(code)
}

func inspectWasm(ctx context.Context, path string) (*abi.ABI, error) {
	code, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read program: %w", err)
	}
	runtime, err := wasi.NewWazeroVM(ctx)
	if err != nil {
		return nil, err
	}
	defer runtime.Close(ctx)
	return runtime.Inspect(ctx, code)
}

func writeABI(w io.Writer, programABI *abi.ABI, format string) error {
	switch format {
	case "text":
		_, err := io.WriteString(w, programABI.String())
		return err
	case "json":
		data, err := json.MarshalIndent(programABI, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal ABI: %w", err)
		}
		_, err = fmt.Fprintln(w, string(data))
		return err
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(programABI); err != nil {
			return fmt.Errorf("failed to marshal ABI: %w", err)
		}
		return enc.Close()
	default:
		return fmt.Errorf("unknown format %q", format)
	}
}
