package main

import (
	"encoding/json"
	"fmt"

	"github.com/govm-net/greeter/config"
	"github.com/govm-net/greeter/core"
	"github.com/spf13/cobra"
)

func newInvokeCmd() *cobra.Command {
	var (
		accounts []string
		format   string
	)

	cmd := &cobra.Command{
		Use:   "invoke <deployment|id> [instruction]",
		Short: "Invoke an instruction and print the program log",
		Long: `Invoke an instruction of a deployed program and print its execution trace.
The instruction defaults to initialize.
Example: greeter-cli invoke greeter-secondary`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			instruction := "initialize"
			if len(args) > 1 {
				instruction = args[1]
			}
			metas := make([]core.AccountMeta, 0, len(accounts))
			for _, a := range accounts {
				addr, err := core.ParseAddress(a)
				if err != nil {
					return fmt.Errorf("account %s: %w", a, err)
				}
				metas = append(metas, core.AccountMeta{Address: addr})
			}

			engine, cfg, err := openEngine(cmd)
			if err != nil {
				return err
			}
			defer engine.Close()

			id, err := resolveProgram(cfg, args[0])
			if err != nil {
				return err
			}

			inv, invokeErr := engine.InvokeInstruction(cmd.Context(), id, instruction, metas)
			if inv == nil {
				return invokeErr
			}

			out := cmd.OutOrStdout()
			switch format {
			case "json":
				data, err := json.MarshalIndent(inv, "", "  ")
				if err != nil {
					return fmt.Errorf("failed to marshal invocation: %w", err)
				}
				fmt.Fprintln(out, string(data))
			case "text":
				for _, line := range inv.Logs {
					fmt.Fprintln(out, line)
				}
			default:
				return fmt.Errorf("unknown format %q", format)
			}
			return invokeErr
		},
	}

	cmd.Flags().StringSliceVarP(&accounts, "account", "a", nil, "account passed to the instruction (base58, repeatable)")
	cmd.Flags().StringVarP(&format, "format", "o", "text", "output format (text|json)")
	return cmd
}

// resolveProgram accepts a deployment name or any base58 program id
func resolveProgram(cfg *config.Config, ref string) (core.Address, error) {
	if d, err := cfg.Resolve(ref); err == nil {
		return d.ID(), nil
	}
	id, err := core.ParseAddress(ref)
	if err != nil {
		return core.ZeroAddress, fmt.Errorf("unknown deployment %q", ref)
	}
	return id, nil
}
