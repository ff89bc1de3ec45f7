package greeting

import "github.com/govm-net/greeter/core"

type InitializeAccounts struct{}

type SetGreetingAccounts struct {
	Greeting core.AccountMeta
	Payer    core.AccountMeta
}

func Initialize(ctx core.Context, accounts *InitializeAccounts) error {
	ctx.Log("Greetings from: %s", ctx.ProgramID())
	return nil
}

func SetGreeting(ctx core.Context, accounts *SetGreetingAccounts, text string, repeat uint8) error {
	return nil
}

// not an instruction: no context parameter
func Helper(a int) int {
	return a
}

func unexported(ctx core.Context) error {
	return nil
}
