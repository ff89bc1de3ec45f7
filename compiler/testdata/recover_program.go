package recovering

import "github.com/govm-net/greeter/core"

type InitializeAccounts struct{}

func Initialize(ctx core.Context, accounts *InitializeAccounts) (err error) {
	defer func() {
		recover()
	}()
	return nil
}
