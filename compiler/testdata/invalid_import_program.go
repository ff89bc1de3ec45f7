package invalidimport

import (
	"fmt"

	"github.com/govm-net/greeter/core"
)

type InitializeAccounts struct{}

func Initialize(ctx core.Context, accounts *InitializeAccounts) error {
	fmt.Println("hello")
	return nil
}
