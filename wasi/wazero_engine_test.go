package wasi

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/govm-net/greeter/core"
	"github.com/govm-net/greeter/program/greeter"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// (module (func (export "fail") (result i32) (i32.const 7)))
var failingModule = []byte{
	0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00,
	0x01, 0x05, 0x01, 0x60, 0x00, 0x01, 0x7f,
	0x03, 0x02, 0x01, 0x00,
	0x07, 0x08, 0x01, 0x04, 0x66, 0x61, 0x69, 0x6c, 0x00, 0x00,
	0x0a, 0x06, 0x01, 0x04, 0x00, 0x41, 0x07, 0x0b,
}

// (module (import "env" "abort" (func)))
var foreignImportModule = []byte{
	0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00,
	0x01, 0x04, 0x01, 0x60, 0x00, 0x00,
	0x02, 0x0d, 0x01, 0x03, 0x65, 0x6e, 0x76, 0x05, 0x61, 0x62, 0x6f, 0x72, 0x74, 0x00, 0x00,
}

type testContext struct {
	mu        sync.Mutex
	programID core.Address
	logs      []string
}

func (c *testContext) ProgramID() core.Address { return c.programID }
func (c *testContext) Accounts() []core.AccountMeta { return nil }
func (c *testContext) Log(format string, args ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.logs = append(c.logs, fmt.Sprintf(format, args...))
}

// emptyModule is a valid module without imports or exports
var emptyModule = []byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00}

func compiledCount(vm *WazeroVM) int {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	return len(vm.compiled)
}

func newTestVM(t *testing.T) *WazeroVM {
	ctx := context.Background()
	vm, err := NewWazeroVM(ctx)
	require.NoError(t, err)
	t.Cleanup(func() { vm.Close(ctx) })
	return vm
}

func TestInspectGreeter(t *testing.T) {
	vm := newTestVM(t)

	parsed, err := vm.Inspect(context.Background(), greeter.Wasm)
	require.NoError(t, err)
	require.Len(t, parsed.Instructions, 1)
	assert.Equal(t, "initialize", parsed.Instructions[0].Name)
}

func TestInspectRejects(t *testing.T) {
	vm := newTestVM(t)
	ctx := context.Background()

	_, err := vm.Inspect(ctx, nil)
	assert.Error(t, err)

	_, err = vm.Inspect(ctx, []byte("not wasm"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to compile")

	_, err = vm.Inspect(ctx, foreignImportModule)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported import env.abort")

	_, err = vm.Inspect(ctx, emptyModule)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "program exports no instructions")

	assert.Zero(t, compiledCount(vm))
}

func TestInspectKeepsAcceptedModules(t *testing.T) {
	vm := newTestVM(t)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := vm.Inspect(ctx, foreignImportModule)
		require.Error(t, err)
		_, err = vm.Inspect(ctx, greeter.Wasm)
		require.NoError(t, err)
	}
	assert.Equal(t, 1, compiledCount(vm))

	inv := &testContext{programID: core.MustParseAddress(greeter.SecondaryID)}
	require.NoError(t, vm.Execute(ctx, greeter.Wasm, "initialize", inv))
	assert.Equal(t, 1, compiledCount(vm))
}

func TestExecuteGreeter(t *testing.T) {
	vm := newTestVM(t)

	for _, id := range []string{greeter.PrimaryID, greeter.SecondaryID} {
		t.Run(id, func(t *testing.T) {
			inv := &testContext{programID: core.MustParseAddress(id)}
			require.NoError(t, vm.Execute(context.Background(), greeter.Wasm, "initialize", inv))
			assert.Equal(t, []string{"Greetings from: " + id}, inv.logs)
		})
	}
}

func TestExecuteConcurrently(t *testing.T) {
	vm := newTestVM(t)

	var wg sync.WaitGroup
	invs := make([]*testContext, 16)
	for i := range invs {
		id := greeter.PrimaryID
		if i%2 == 1 {
			id = greeter.SecondaryID
		}
		invs[i] = &testContext{programID: core.MustParseAddress(id)}
		wg.Add(1)
		go func(inv *testContext) {
			defer wg.Done()
			assert.NoError(t, vm.Execute(context.Background(), greeter.Wasm, "initialize", inv))
		}(invs[i])
	}
	wg.Wait()

	for _, inv := range invs {
		assert.Equal(t, []string{"Greetings from: " + inv.programID.String()}, inv.logs)
	}
}

func TestExecuteMissingExport(t *testing.T) {
	vm := newTestVM(t)

	inv := &testContext{programID: greeter.ID()}
	err := vm.Execute(context.Background(), greeter.Wasm, "close", inv)
	require.Error(t, err)
	assert.True(t, errors.Is(err, core.ErrInstructionFallbackNotFound))
	assert.Empty(t, inv.logs)
}

func TestExecuteNonZeroStatus(t *testing.T) {
	vm := newTestVM(t)

	err := vm.Execute(context.Background(), failingModule, "fail", &testContext{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, core.ErrCustomProgramError))
	assert.Contains(t, err.Error(), ": 7")
}

func TestHostFunctionsWithoutInvocation(t *testing.T) {
	assert.Equal(t, int32(-1), getProgramID(context.Background(), nil, 0, 64))
	assert.NotPanics(t, func() { logMessage(context.Background(), nil, 0, 0) })
}
