// Package config loads the runtime configuration of the greeter host:
// storage locations, program limits and the deployment table.
package config

import (
	"fmt"
	"strings"

	"github.com/govm-net/greeter/api"
	hostctx "github.com/govm-net/greeter/context"
	"github.com/govm-net/greeter/core"
	"github.com/govm-net/greeter/program/greeter"
	"github.com/govm-net/greeter/types"
	"github.com/govm-net/greeter/vm"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable read by Load
const EnvPrefix = "GREETER"

// Configuration keys
const (
	ContextTypeKey        = "context_type"
	DBPathKey             = "db_path"
	RepoDirKey            = "repo_dir"
	LogInstructionNameKey = "log_instruction_name"
	MaxLogBytesKey        = "max_log_bytes"
	DeploymentsKey        = "deployments"
)

// Deployment binds a name to a program id
type Deployment struct {
	Name      string        `mapstructure:"name" yaml:"name"`
	ProgramID string        `mapstructure:"program_id" yaml:"program_id"`
	Backend   types.Backend `mapstructure:"backend" yaml:"backend"`

	id core.Address
}

// ID returns the parsed program id. It is valid after Validate.
func (d Deployment) ID() core.Address {
	return d.id
}

// Config is the runtime configuration
type Config struct {
	ContextType        string       `mapstructure:"context_type"`
	DBPath             string       `mapstructure:"db_path"`
	RepoDir            string       `mapstructure:"repo_dir"`
	LogInstructionName bool         `mapstructure:"log_instruction_name"`
	MaxLogBytes        int          `mapstructure:"max_log_bytes"`
	Deployments        []Deployment `mapstructure:"deployments"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault(ContextTypeKey, string(hostctx.MemoryContextType))
	v.SetDefault(DBPathKey, "greeter.db")
	v.SetDefault(RepoDirKey, "programs")
	v.SetDefault(LogInstructionNameKey, false)
	v.SetDefault(MaxLogBytesKey, api.DefaultProgramConfig().MaxLogBytes)
	v.SetDefault(DeploymentsKey, []map[string]any{
		{"name": "greeter", "program_id": greeter.PrimaryID, "backend": string(types.BackendNative)},
		{"name": "greeter-secondary", "program_id": greeter.SecondaryID, "backend": string(types.BackendWasm)},
	})
}

// RegisterFlags adds the flags Load understands to fs
func RegisterFlags(fs *pflag.FlagSet) {
	fs.String("context-type", string(hostctx.MemoryContextType), "host context type (memory|db)")
	fs.String("db-path", "greeter.db", "sqlite database for the db host context")
	fs.String("repo-dir", "programs", "directory wasm programs are stored in")
	fs.Bool("log-instruction-name", false, "log \"Instruction: <Name>\" before each handler")
	fs.Int("max-log-bytes", api.DefaultProgramConfig().MaxLogBytes, "program log budget per invocation")
}

// Load reads the configuration. Values come, in decreasing priority, from
// flags set on fs, GREETER_* environment variables, the yaml file at path and
// the built-in defaults. path and fs may be empty.
func Load(path string, fs *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if fs != nil {
		for _, key := range []string{ContextTypeKey, DBPathKey, RepoDirKey, LogInstructionNameKey, MaxLogBytesKey} {
			flag := fs.Lookup(strings.ReplaceAll(key, "_", "-"))
			if flag == nil {
				continue
			}
			if err := v.BindPFlag(key, flag); err != nil {
				return nil, fmt.Errorf("failed to bind flag %s: %w", flag.Name, err)
			}
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the configuration and parses deployment ids
func (c *Config) Validate() error {
	switch hostctx.ContextType(c.ContextType) {
	case hostctx.MemoryContextType, hostctx.DBContextType:
	default:
		return fmt.Errorf("invalid context type %q", c.ContextType)
	}
	if c.MaxLogBytes <= 0 {
		return fmt.Errorf("invalid max log bytes: %d", c.MaxLogBytes)
	}

	names := make(map[string]bool, len(c.Deployments))
	ids := make(map[core.Address]bool, len(c.Deployments))
	for i := range c.Deployments {
		d := &c.Deployments[i]
		if d.Name == "" {
			return fmt.Errorf("deployment %d has no name", i)
		}
		if names[d.Name] {
			return fmt.Errorf("duplicate deployment %s", d.Name)
		}
		names[d.Name] = true

		id, err := core.ParseAddress(d.ProgramID)
		if err != nil {
			return fmt.Errorf("deployment %s: %w", d.Name, err)
		}
		if ids[id] {
			return fmt.Errorf("deployment %s: program id %s used twice", d.Name, id)
		}
		ids[id] = true
		d.id = id

		if d.Backend == "" {
			d.Backend = types.BackendNative
		}
		if d.Backend != types.BackendNative && d.Backend != types.BackendWasm {
			return fmt.Errorf("deployment %s: unknown backend %q", d.Name, d.Backend)
		}
	}
	return nil
}

// Resolve finds a deployment by name or by base58 program id
func (c *Config) Resolve(ref string) (*Deployment, error) {
	for i := range c.Deployments {
		if c.Deployments[i].Name == ref || c.Deployments[i].ProgramID == ref {
			return &c.Deployments[i], nil
		}
	}
	return nil, fmt.Errorf("unknown deployment %q", ref)
}

// EngineConfig converts the configuration to the engine's
func (c *Config) EngineConfig() *vm.Config {
	program := api.DefaultProgramConfig()
	program.MaxLogBytes = c.MaxLogBytes
	program.LogInstructionName = c.LogInstructionName

	return &vm.Config{
		CodeManagerDir: c.RepoDir,
		ContextType:    c.ContextType,
		ContextParams:  map[string]any{"db_path": c.DBPath},
		Program:        program,
	}
}
