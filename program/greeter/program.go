package greeter

import (
	_ "embed"
	"sync"

	"github.com/govm-net/greeter/core"
)

// Identifiers the program has been deployed under.
const (
	PrimaryID   = "EqYLJzQSwpqLa1ByR43TjARd8sxEsyaYnM8mGEGAWmg1"
	SecondaryID = "HD3sxGps2pr36KvHZY4JjaQgG9otncF9SCovGvTvhvdp"
)

// declaredID is the id compiled into the binary. Override it at link time:
//
//	go build -ldflags "-X github.com/govm-net/greeter/program/greeter.declaredID=HD3sxGps2pr36KvHZY4JjaQgG9otncF9SCovGvTvhvdp"
var declaredID = PrimaryID

var id = sync.OnceValue(func() core.Address {
	return core.MustParseAddress(declaredID)
})

// ID returns the program id this binary was built with.
func ID() core.Address {
	return id()
}

// Source is the program source, used to extract its ABI.
//
//go:embed greeter.go
var Source []byte

// Program returns the program declared under the build-time id.
func Program() *core.Program {
	return New(ID())
}

// New returns the program declared under the given id.
func New(declared core.Address) *core.Program {
	return &core.Program{
		Name:       "greeter",
		DeclaredID: declared,
		Instructions: []core.Instruction{
			{
				Name: "initialize",
				Handler: func(ctx core.Context, _ []byte) error {
					return Initialize(ctx, &InitializeAccounts{})
				},
			},
		},
	}
}
