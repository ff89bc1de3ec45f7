package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/govm-net/greeter/config"
	"github.com/govm-net/greeter/program/greeter"
	"github.com/govm-net/greeter/types"
	"github.com/govm-net/greeter/vm"
	"github.com/spf13/cobra"
)

var (
	configFile string
	verbose    bool
)

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "greeter-cli",
		Short: "Greeter program host",
		Long: `Greeter program host for deploying the greeter program under its ids,
invoking its instructions and reading back the recorded program logs.`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			level := slog.LevelWarn
			if verbose {
				level = slog.LevelDebug
			}
			slog.SetDefault(slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level})))
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&configFile, "config", "c", "", "config file (yaml)")
	flags.BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	config.RegisterFlags(flags)

	rootCmd.AddCommand(newIDCmd())
	rootCmd.AddCommand(newInspectCmd())
	rootCmd.AddCommand(newDeployCmd())
	rootCmd.AddCommand(newInvokeCmd())
	rootCmd.AddCommand(newLogsCmd())
	return rootCmd
}

// openEngine loads the configuration and returns an engine with every
// configured deployment in place. Native deployments run the greeter built
// into this binary, which only accepts its build-time program id. Wasm
// deployments not already stored are attached without being stored.
func openEngine(cmd *cobra.Command) (*vm.Engine, *config.Config, error) {
	cfg, err := config.Load(configFile, cmd.Flags())
	if err != nil {
		return nil, nil, err
	}

	engine, err := vm.NewEngine(cfg.EngineConfig())
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create engine: %w", err)
	}

	for _, d := range cfg.Deployments {
		switch d.Backend {
		case types.BackendWasm:
			if _, err := engine.ABI(d.ID()); err == nil {
				continue
			}
			err = engine.AttachWasm(context.Background(), d.ID(), greeter.Wasm)
		default:
			err = engine.Deploy(d.ID(), greeter.Program())
		}
		if err != nil {
			engine.Close()
			return nil, nil, fmt.Errorf("failed to deploy %s: %w", d.Name, err)
		}
		slog.Debug("deployment ready", "name", d.Name, "program", d.ID(), "backend", d.Backend)
	}
	return engine, cfg, nil
}

// openHost returns an engine without programs for commands that only read
// the host context. The program repository is left untouched.
func openHost(cmd *cobra.Command) (*vm.Engine, *config.Config, error) {
	cfg, err := config.Load(configFile, cmd.Flags())
	if err != nil {
		return nil, nil, err
	}

	engineConfig := cfg.EngineConfig()
	engineConfig.CodeManagerDir = ""
	engine, err := vm.NewEngine(engineConfig)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create engine: %w", err)
	}
	return engine, cfg, nil
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
