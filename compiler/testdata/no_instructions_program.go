package noinstructions

import "github.com/govm-net/greeter/core"

func helper(ctx core.Context) error {
	return nil
}

func Exported(n int) int {
	return n
}
