package gokeyword

import "github.com/govm-net/greeter/core"

type InitializeAccounts struct{}

func Initialize(ctx core.Context, accounts *InitializeAccounts) error {
	go ctx.Log("Greetings from: %s", ctx.ProgramID())
	return nil
}
