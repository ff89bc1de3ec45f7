package directive

import "github.com/govm-net/greeter/core"

type InitializeAccounts struct{}

//go:noinline
func Initialize(ctx core.Context, accounts *InitializeAccounts) error {
	return nil
}
