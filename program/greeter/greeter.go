// Package greeter is a minimal program with a single instruction that logs
// the id it runs under.
package greeter

import (
	"github.com/govm-net/greeter/core"
)

// InitializeAccounts is the account set of Initialize. It requires none.
type InitializeAccounts struct{}

// Initialize logs a greeting carrying the program id and succeeds.
func Initialize(ctx core.Context, accounts *InitializeAccounts) error {
	ctx.Log("Greetings from: %s", ctx.ProgramID())
	return nil
}
