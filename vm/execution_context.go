// Package vm deploys programs and executes their instructions
package vm

import (
	"fmt"
	"sync"

	"github.com/govm-net/greeter/core"
	"github.com/govm-net/greeter/security"
	"github.com/govm-net/greeter/types"
)

// ExecutionContext is the core.Context handed to a program for one
// invocation. It collects the framed trace lines of that invocation.
type ExecutionContext struct {
	programID core.Address
	accounts  []core.AccountMeta
	monitor   *security.ResourceMonitor

	mu    sync.Mutex
	lines []string
}

func newExecutionContext(programID core.Address, accounts []core.AccountMeta, monitor *security.ResourceMonitor) *ExecutionContext {
	return &ExecutionContext{
		programID: programID,
		accounts:  append([]core.AccountMeta(nil), accounts...),
		monitor:   monitor,
		lines:     make([]string, 0, 4),
	}
}

// ProgramID returns the address the program was invoked under
func (c *ExecutionContext) ProgramID() core.Address {
	return c.programID
}

// Accounts returns a copy of the accounts passed to the instruction
func (c *ExecutionContext) Accounts() []core.AccountMeta {
	return append([]core.AccountMeta(nil), c.accounts...)
}

// Log appends a program log line, subject to the log budget
func (c *ExecutionContext) Log(format string, args ...any) {
	line := types.ProgramLogPrefix + fmt.Sprintf(format, args...)

	c.mu.Lock()
	defer c.mu.Unlock()
	if admitted, ok := c.monitor.AdmitLog(line, types.LogTruncated); ok {
		c.lines = append(c.lines, admitted)
	}
}

// frame appends a host line. Host lines do not count against the budget.
func (c *ExecutionContext) frame(format string, args ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lines = append(c.lines, fmt.Sprintf(format, args...))
}

func (c *ExecutionContext) trace() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.lines...)
}
