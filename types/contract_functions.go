// Package types contains shared type definitions and constants
// used by both the host environment and the programs it runs
package types

import (
	"strings"
	"time"

	"github.com/govm-net/greeter/core"
)

// Host function names exported by the "env" module to WebAssembly programs.
//
// These names are the whole contract between a wasm program and the host. A
// program that imports anything else fails to instantiate.
const (
	// HostModule is the import module name programs link against
	HostModule = "env"
	// FuncGetProgramID writes the base58 program id into program memory: (ptr, cap) -> len
	FuncGetProgramID = "get_program_id"
	// FuncLogMessage appends a message to the execution log: (ptr, len)
	FuncLogMessage = "log_message"
)

// Trace line prefixes, as rendered by the host around program output.
const (
	ProgramLogPrefix = "Program log: "
	LogTruncated     = "Log truncated"
)

// Backend selects how a deployed program is executed
type Backend string

const (
	BackendNative Backend = "native"
	BackendWasm   Backend = "wasm"
)

// Request is a single instruction sent to a program.
type Request struct {
	ProgramID core.Address       `json:"program_id"`
	Accounts  []core.AccountMeta `json:"accounts,omitempty"`
	Data      []byte             `json:"data,omitempty"`
}

// Invocation records one executed request and everything it wrote to the log.
type Invocation struct {
	ID          string             `json:"id"`
	ProgramID   core.Address       `json:"program_id"`
	Instruction string             `json:"instruction,omitempty"`
	Accounts    []core.AccountMeta `json:"accounts,omitempty"`
	Logs        []string           `json:"logs"`
	Success     bool               `json:"success"`
	Error       string             `json:"error,omitempty"`
	StartedAt   time.Time          `json:"started_at"`
	Duration    time.Duration      `json:"duration"`
}

// Messages returns only the lines the program itself logged, without the
// host framing.
func (inv *Invocation) Messages() []string {
	out := make([]string, 0, len(inv.Logs))
	for _, line := range inv.Logs {
		if msg, ok := strings.CutPrefix(line, ProgramLogPrefix); ok {
			out = append(out, msg)
		}
	}
	return out
}

// LogEntry is a single program log message as kept by a HostContext.
type LogEntry struct {
	InvocationID string       `json:"invocation_id"`
	ProgramID    core.Address `json:"program_id"`
	Seq          int          `json:"seq"`
	Message      string       `json:"message"`
	Time         time.Time    `json:"time"`
}

// HostContext stores the execution trace of the host: every invocation and
// the log lines programs emitted.
type HostContext interface {
	// RecordInvocation persists a finished invocation together with its logs
	RecordInvocation(inv *Invocation) error
	// Invocation returns a recorded invocation by id
	Invocation(id string) (*Invocation, error)
	// Invocations lists recorded invocations of a program, oldest first
	Invocations(program core.Address) ([]*Invocation, error)
	// Logs lists program log messages of a program, oldest first
	Logs(program core.Address) ([]LogEntry, error)
	// Close releases the underlying storage
	Close() error
}
