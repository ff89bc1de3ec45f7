// Package api provides the interfaces for the virtual machine that executes programs.
// This package defines the API between the host and the VM, but is not used by programs.
package api

import (
	"context"

	"github.com/govm-net/greeter/abi"
	"github.com/govm-net/greeter/core"
	"github.com/govm-net/greeter/security"
	"github.com/govm-net/greeter/types"
)

// VM represents the virtual machine that executes programs
type VM interface {
	// Deploy registers a natively compiled program under id
	Deploy(id core.Address, program *core.Program) error

	// DeployWasm registers a WebAssembly program under id
	DeployWasm(ctx context.Context, id core.Address, code []byte) error

	// Invoke executes one instruction and returns the recorded invocation
	Invoke(ctx context.Context, req types.Request) (*types.Invocation, error)

	// ABI returns the instruction interface of a deployed program
	ABI(id core.Address) (*abi.ABI, error)
}

// ProgramConfig bounds what programs may do
type ProgramConfig struct {
	// MaxLogBytes is the program log budget of one invocation
	MaxLogBytes int

	// MaxCodeSize is the maximum size of a program binary in bytes
	MaxCodeSize int

	// LogInstructionName logs "Instruction: <Name>" before each handler runs
	LogInstructionName bool

	// AllowedImports lists the packages program source may import
	AllowedImports []string
}

// CorePackage is the only package program source may import by default
const CorePackage = "github.com/govm-net/greeter/core"

// DefaultProgramConfig returns a default configuration for programs
func DefaultProgramConfig() ProgramConfig {
	return ProgramConfig{
		MaxLogBytes:    security.DefaultMaxLogBytes,
		MaxCodeSize:    1024 * 1024, // 1MB
		AllowedImports: []string{CorePackage},
	}
}
