package vm

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/govm-net/greeter/abi"
	"github.com/govm-net/greeter/api"
	"github.com/govm-net/greeter/core"
	"github.com/govm-net/greeter/program/greeter"
	"github.com/govm-net/greeter/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	primary   = core.MustParseAddress(greeter.PrimaryID)
	secondary = core.MustParseAddress(greeter.SecondaryID)
)

func newTestEngine(t *testing.T, config *Config) *Engine {
	if config == nil {
		config = &Config{}
	}
	engine, err := NewEngine(config)
	require.NoError(t, err)
	t.Cleanup(func() { engine.Close() })
	return engine
}

func expectedTrace(id core.Address, messages ...string) []string {
	lines := []string{fmt.Sprintf("Program %s invoke [1]", id)}
	for _, msg := range messages {
		lines = append(lines, types.ProgramLogPrefix+msg)
	}
	return append(lines, fmt.Sprintf("Program %s success", id))
}

func TestInitializeGreets(t *testing.T) {
	for _, id := range []core.Address{primary, secondary} {
		t.Run(id.String(), func(t *testing.T) {
			engine := newTestEngine(t, nil)
			require.NoError(t, engine.Deploy(id, greeter.New(id)))

			inv, err := engine.InvokeInstruction(context.Background(), id, "initialize", nil)
			require.NoError(t, err)
			assert.True(t, inv.Success)
			assert.Empty(t, inv.Error)
			assert.Equal(t, "initialize", inv.Instruction)
			assert.NotEmpty(t, inv.ID)
			assert.Equal(t, expectedTrace(id, "Greetings from: "+id.String()), inv.Logs)
			assert.Equal(t, []string{"Greetings from: " + id.String()}, inv.Messages())
		})
	}
}

func TestInitializeIsRepeatable(t *testing.T) {
	engine := newTestEngine(t, nil)
	require.NoError(t, engine.Deploy(primary, greeter.New(primary)))

	first, err := engine.InvokeInstruction(context.Background(), primary, "initialize", nil)
	require.NoError(t, err)
	second, err := engine.InvokeInstruction(context.Background(), primary, "initialize", nil)
	require.NoError(t, err)

	assert.Equal(t, expectedTrace(primary, "Greetings from: "+primary.String()), first.Logs)
	assert.Equal(t, first.Logs, second.Logs)
	assert.NotEqual(t, first.ID, second.ID)

	recorded, err := engine.Host().Invocations(primary)
	require.NoError(t, err)
	assert.Len(t, recorded, 2)

	logs, err := engine.Host().Logs(primary)
	require.NoError(t, err)
	require.Len(t, logs, 2)
	for _, entry := range logs {
		assert.Equal(t, "Greetings from: "+primary.String(), entry.Message)
	}
}

func TestInitializeIgnoresAccountsAndTrailingData(t *testing.T) {
	engine := newTestEngine(t, nil)
	require.NoError(t, engine.Deploy(primary, greeter.New(primary)))

	inv, err := engine.Invoke(context.Background(), types.Request{
		ProgramID: primary,
		Accounts:  []core.AccountMeta{{Address: secondary, IsSigner: true}},
		Data:      abi.Encode("initialize", []byte{1, 2, 3}),
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"Greetings from: " + primary.String()}, inv.Messages())
}

func TestInvokeDispatchErrors(t *testing.T) {
	tests := []struct {
		name    string
		data    []byte
		wantErr error
		wantIx  string
	}{
		{
			name:    "no data",
			data:    nil,
			wantErr: core.ErrInstructionMissing,
		},
		{
			name:    "short data",
			data:    []byte{0xaf, 0xaf, 0x6d},
			wantErr: core.ErrInstructionMissing,
		},
		{
			name:    "unknown discriminator",
			data:    abi.Encode("close", nil),
			wantErr: core.ErrInstructionFallbackNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine := newTestEngine(t, nil)
			require.NoError(t, engine.Deploy(primary, greeter.New(primary)))

			inv, err := engine.Invoke(context.Background(), types.Request{ProgramID: primary, Data: tt.data})
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)

			require.NotNil(t, inv)
			assert.False(t, inv.Success)
			assert.Equal(t, tt.wantIx, inv.Instruction)
			assert.Empty(t, inv.Messages())
			require.Len(t, inv.Logs, 2)
			assert.Equal(t, fmt.Sprintf("Program %s failed: %v", primary, err), inv.Logs[1])

			recorded, err := engine.Host().Invocation(inv.ID)
			require.NoError(t, err)
			assert.Equal(t, inv.Error, recorded.Error)
		})
	}
}

func TestDeclaredProgramIDMismatch(t *testing.T) {
	engine := newTestEngine(t, nil)
	require.NoError(t, engine.Deploy(secondary, greeter.New(primary)))

	inv, err := engine.InvokeInstruction(context.Background(), secondary, "initialize", nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, core.ErrDeclaredProgramIDMismatch))
	assert.False(t, inv.Success)
	assert.Empty(t, inv.Messages())
	assert.Equal(t, []string{
		fmt.Sprintf("Program %s invoke [1]", secondary),
		fmt.Sprintf("Program %s failed: %v", secondary, core.ErrDeclaredProgramIDMismatch),
	}, inv.Logs)
}

func TestInvokeUnknownProgram(t *testing.T) {
	engine := newTestEngine(t, nil)

	inv, err := engine.InvokeInstruction(context.Background(), primary, "initialize", nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, core.ErrProgramNotFound))
	assert.Nil(t, inv)

	_, err = engine.ABI(primary)
	assert.True(t, errors.Is(err, core.ErrProgramNotFound))
}

func TestInvokeCanceledContext(t *testing.T) {
	engine := newTestEngine(t, nil)
	require.NoError(t, engine.Deploy(primary, greeter.New(primary)))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := engine.InvokeInstruction(ctx, primary, "initialize", nil)
	assert.True(t, errors.Is(err, context.Canceled))

	recorded, err := engine.Host().Invocations(primary)
	require.NoError(t, err)
	assert.Empty(t, recorded)
}

func TestNotEnoughAccountKeys(t *testing.T) {
	engine := newTestEngine(t, nil)
	program := &core.Program{
		Name:       "payer",
		DeclaredID: primary,
		Instructions: []core.Instruction{{
			Name:     "pay",
			Accounts: 2,
			Handler:  func(ctx core.Context, _ []byte) error { return nil },
		}},
	}
	require.NoError(t, engine.Deploy(primary, program))

	inv, err := engine.InvokeInstruction(context.Background(), primary, "pay", []core.AccountMeta{{Address: secondary}})
	require.Error(t, err)
	assert.True(t, errors.Is(err, core.ErrAccountNotEnoughKeys))
	assert.Equal(t, "pay", inv.Instruction)

	_, err = engine.InvokeInstruction(context.Background(), primary, "pay", []core.AccountMeta{{Address: secondary}, {Address: primary}})
	assert.NoError(t, err)
}

func TestLogInstructionName(t *testing.T) {
	config := &Config{Program: api.DefaultProgramConfig()}
	config.Program.LogInstructionName = true
	engine := newTestEngine(t, config)
	require.NoError(t, engine.Deploy(primary, greeter.New(primary)))

	inv, err := engine.InvokeInstruction(context.Background(), primary, "initialize", nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"Instruction: Initialize", "Greetings from: " + primary.String()}, inv.Messages())
}

func TestLogBudget(t *testing.T) {
	config := &Config{Program: api.DefaultProgramConfig()}
	config.Program.MaxLogBytes = 64
	engine := newTestEngine(t, config)

	program := &core.Program{
		Name:       "chatty",
		DeclaredID: primary,
		Instructions: []core.Instruction{{
			Name: "initialize",
			Handler: func(ctx core.Context, _ []byte) error {
				for i := 0; i < 10; i++ {
					ctx.Log("line %d", i)
				}
				return nil
			},
		}},
	}
	require.NoError(t, engine.Deploy(primary, program))

	inv, err := engine.InvokeInstruction(context.Background(), primary, "initialize", nil)
	require.NoError(t, err)
	assert.True(t, inv.Success)

	// "Program log: line N" is 19 bytes, so three lines fit into 64.
	assert.Equal(t, []string{"line 0", "line 1", "line 2"}, inv.Messages())
	require.Len(t, inv.Logs, 6)
	assert.Equal(t, types.LogTruncated, inv.Logs[4])
	assert.True(t, strings.HasSuffix(inv.Logs[5], "success"))
}

func TestHandlerErrorAndPanic(t *testing.T) {
	engine := newTestEngine(t, nil)
	program := &core.Program{
		Name:       "faulty",
		DeclaredID: primary,
		Instructions: []core.Instruction{
			{
				Name: "fail",
				Handler: func(ctx core.Context, _ []byte) error {
					ctx.Log("about to fail")
					return fmt.Errorf("%w: 6000", core.ErrCustomProgramError)
				},
			},
			{
				Name:    "explode",
				Handler: func(ctx core.Context, _ []byte) error { panic("boom") },
			},
		},
	}
	require.NoError(t, engine.Deploy(primary, program))

	inv, err := engine.InvokeInstruction(context.Background(), primary, "fail", nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, core.ErrCustomProgramError))
	assert.Equal(t, []string{"about to fail"}, inv.Messages())
	assert.Contains(t, inv.Logs[len(inv.Logs)-1], "failed: custom program error: 6000")

	inv, err = engine.InvokeInstruction(context.Background(), primary, "explode", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "program panicked: boom")
	assert.Equal(t, "explode", inv.Instruction)
	assert.False(t, inv.Success)
}

func TestDeployRejects(t *testing.T) {
	engine := newTestEngine(t, nil)

	assert.Error(t, engine.Deploy(core.ZeroAddress, greeter.New(primary)))
	assert.Error(t, engine.Deploy(primary, nil))
	assert.Error(t, engine.Deploy(primary, &core.Program{Name: "empty"}))

	require.NoError(t, engine.Deploy(primary, greeter.New(primary)))
	err := engine.Deploy(primary, greeter.New(primary))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already deployed")

	assert.Error(t, engine.DeployWasm(context.Background(), primary, greeter.Wasm))
	assert.Error(t, engine.DeployWasm(context.Background(), secondary, []byte("not wasm")))
}

func TestDeployWasmSizeLimit(t *testing.T) {
	config := &Config{Program: api.DefaultProgramConfig()}
	config.Program.MaxCodeSize = 16
	engine := newTestEngine(t, config)

	err := engine.DeployWasm(context.Background(), primary, greeter.Wasm)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exceeds limit")
}

func TestWasmBackend(t *testing.T) {
	engine := newTestEngine(t, nil)

	for _, id := range []core.Address{primary, secondary} {
		require.NoError(t, engine.DeployWasm(context.Background(), id, greeter.Wasm))

		inv, err := engine.InvokeInstruction(context.Background(), id, "initialize", nil)
		require.NoError(t, err)
		assert.Equal(t, expectedTrace(id, "Greetings from: "+id.String()), inv.Logs)
	}

	programs := engine.Programs()
	require.Len(t, programs, 2)
	for _, p := range programs {
		assert.Equal(t, types.BackendWasm, p.Backend)
	}
}

func TestWasmProgramsSurviveRestart(t *testing.T) {
	dir := t.TempDir()
	config := &Config{CodeManagerDir: filepath.Join(dir, "programs")}

	engine, err := NewEngine(config)
	require.NoError(t, err)
	require.NoError(t, engine.DeployWasm(context.Background(), secondary, greeter.Wasm))
	require.NoError(t, engine.Close())

	restarted := newTestEngine(t, &Config{CodeManagerDir: filepath.Join(dir, "programs")})
	programABI, err := restarted.ABI(secondary)
	require.NoError(t, err)
	require.Len(t, programABI.Instructions, 1)
	assert.Equal(t, abi.NewDiscriminator("initialize"), programABI.Instructions[0].Discriminator)

	inv, err := restarted.InvokeInstruction(context.Background(), secondary, "initialize", nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"Greetings from: " + secondary.String()}, inv.Messages())
}

func TestAttachWasmIsNotStored(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "programs")

	engine, err := NewEngine(&Config{CodeManagerDir: dir})
	require.NoError(t, err)
	require.NoError(t, engine.AttachWasm(context.Background(), secondary, greeter.Wasm))

	inv, err := engine.InvokeInstruction(context.Background(), secondary, "initialize", nil)
	require.NoError(t, err)
	assert.Equal(t, expectedTrace(secondary, "Greetings from: "+secondary.String()), inv.Logs)
	assert.Error(t, engine.AttachWasm(context.Background(), secondary, greeter.Wasm))
	require.NoError(t, engine.Close())

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)

	restarted := newTestEngine(t, &Config{CodeManagerDir: dir})
	_, err = restarted.ABI(secondary)
	assert.ErrorIs(t, err, core.ErrProgramNotFound)
}

func TestDBHostContext(t *testing.T) {
	engine := newTestEngine(t, &Config{
		ContextType:   "db",
		ContextParams: map[string]any{"db_path": filepath.Join(t.TempDir(), "greeter.db")},
	})
	require.NoError(t, engine.Deploy(primary, greeter.New(primary)))

	inv, err := engine.InvokeInstruction(context.Background(), primary, "initialize", nil)
	require.NoError(t, err)

	stored, err := engine.Host().Invocation(inv.ID)
	require.NoError(t, err)
	assert.Equal(t, inv.Logs, stored.Logs)
	assert.True(t, stored.Success)

	logs, err := engine.Host().Logs(primary)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, "Greetings from: "+primary.String(), logs[0].Message)
	assert.Equal(t, inv.ID, logs[0].InvocationID)
}

func TestUnknownContextType(t *testing.T) {
	_, err := NewEngine(&Config{ContextType: "redis"})
	assert.Error(t, err)

	_, err = NewEngine(nil)
	assert.Error(t, err)
}

func TestProgramsAndABI(t *testing.T) {
	engine := newTestEngine(t, nil)
	require.NoError(t, engine.Deploy(primary, greeter.New(primary)))
	require.NoError(t, engine.DeployWasm(context.Background(), secondary, greeter.Wasm))

	assert.Equal(t, []ProgramInfo{
		{ID: primary, Name: "greeter", Backend: types.BackendNative},
		{ID: secondary, Backend: types.BackendWasm},
	}, engine.Programs())

	native, err := engine.ABI(primary)
	require.NoError(t, err)
	wasm, err := engine.ABI(secondary)
	require.NoError(t, err)
	assert.Equal(t, native.Instructions[0].Discriminator, wasm.Instructions[0].Discriminator)
}
