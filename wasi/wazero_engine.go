package wasi

import (
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/govm-net/greeter/abi"
	"github.com/govm-net/greeter/core"
	"github.com/govm-net/greeter/types"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
)

type invocationKey struct{}

// WithInvocation attaches the invocation context host functions act on.
func WithInvocation(ctx context.Context, inv core.Context) context.Context {
	return context.WithValue(ctx, invocationKey{}, inv)
}

func invocationFrom(ctx context.Context) (core.Context, bool) {
	inv, ok := ctx.Value(invocationKey{}).(core.Context)
	return inv, ok
}

// WazeroVM runs WebAssembly programs on a shared wazero runtime. Each
// execution gets its own anonymous module instance, so concurrent executions
// never share memory.
type WazeroVM struct {
	runtime wazero.Runtime

	mu       sync.Mutex
	compiled map[[32]byte]wazero.CompiledModule
}

// NewWazeroVM creates the runtime and instantiates the host module
func NewWazeroVM(ctx context.Context) (*WazeroVM, error) {
	runtime := wazero.NewRuntime(ctx)

	_, err := runtime.NewHostModuleBuilder(types.HostModule).
		NewFunctionBuilder().
		WithParameterNames("ptr", "cap").
		WithResultNames("len").
		WithFunc(getProgramID).
		Export(types.FuncGetProgramID).
		NewFunctionBuilder().
		WithParameterNames("ptr", "len").
		WithFunc(logMessage).
		Export(types.FuncLogMessage).
		Instantiate(ctx)
	if err != nil {
		runtime.Close(ctx)
		return nil, fmt.Errorf("failed to instantiate host module: %w", err)
	}

	return &WazeroVM{
		runtime:  runtime,
		compiled: make(map[[32]byte]wazero.CompiledModule),
	}, nil
}

// getProgramID writes the base58 program id at ptr and returns its length,
// or -1 when it does not fit into capacity bytes.
func getProgramID(ctx context.Context, m api.Module, ptr, capacity uint32) int32 {
	inv, ok := invocationFrom(ctx)
	if !ok {
		return -1
	}
	id := inv.ProgramID().String()
	if uint32(len(id)) > capacity {
		return -1
	}
	if !m.Memory().Write(ptr, []byte(id)) {
		return -1
	}
	return int32(len(id))
}

func logMessage(ctx context.Context, m api.Module, ptr, length uint32) {
	inv, ok := invocationFrom(ctx)
	if !ok {
		return
	}
	data, ok := m.Memory().Read(ptr, length)
	if !ok {
		slog.Warn("log_message out of range", "ptr", ptr, "len", length)
		return
	}
	inv.Log("%s", string(data))
}

func (vm *WazeroVM) compile(ctx context.Context, code []byte) (wazero.CompiledModule, error) {
	key := sha256.Sum256(code)

	vm.mu.Lock()
	defer vm.mu.Unlock()
	if compiled, ok := vm.compiled[key]; ok {
		return compiled, nil
	}

	compiled, err := vm.runtime.CompileModule(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("failed to compile WebAssembly module: %w", err)
	}
	vm.compiled[key] = compiled
	return compiled, nil
}

// Inspect validates a program binary and returns its instructions: every
// exported function of type () -> i32. Imports outside the host module are
// rejected. Only accepted binaries stay compiled.
func (vm *WazeroVM) Inspect(ctx context.Context, code []byte) (*abi.ABI, error) {
	if len(code) == 0 {
		return nil, fmt.Errorf("program code cannot be empty")
	}
	key := sha256.Sum256(code)

	vm.mu.Lock()
	defer vm.mu.Unlock()
	compiled, cached := vm.compiled[key]
	if !cached {
		var err error
		if compiled, err = vm.runtime.CompileModule(ctx, code); err != nil {
			return nil, fmt.Errorf("failed to compile WebAssembly module: %w", err)
		}
	}

	out, err := describe(compiled)
	if err != nil {
		if !cached {
			compiled.Close(ctx)
		}
		return nil, err
	}
	vm.compiled[key] = compiled
	return out, nil
}

func describe(compiled wazero.CompiledModule) (*abi.ABI, error) {
	for _, def := range compiled.ImportedFunctions() {
		module, name, _ := def.Import()
		if module != types.HostModule || (name != types.FuncGetProgramID && name != types.FuncLogMessage) {
			return nil, fmt.Errorf("unsupported import %s.%s", module, name)
		}
	}

	names := make([]string, 0)
	for name, def := range compiled.ExportedFunctions() {
		results := def.ResultTypes()
		if len(def.ParamTypes()) == 0 && len(results) == 1 && results[0] == api.ValueTypeI32 {
			names = append(names, name)
		}
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("program exports no instructions")
	}
	sort.Strings(names)

	out := &abi.ABI{Instructions: make([]abi.Instruction, 0, len(names))}
	for _, name := range names {
		out.Instructions = append(out.Instructions, abi.Instruction{
			Name:          name,
			Handler:       name,
			Discriminator: abi.NewDiscriminator(name),
			Accounts:      []abi.Parameter{},
			Args:          []abi.Parameter{},
		})
	}
	return out, nil
}

// Execute instantiates code and calls export with inv bound to the host
// functions. A non-zero result is reported as a custom program error.
func (vm *WazeroVM) Execute(ctx context.Context, code []byte, export string, inv core.Context) error {
	compiled, err := vm.compile(ctx, code)
	if err != nil {
		return err
	}

	config := wazero.NewModuleConfig().WithName("").WithStartFunctions()
	module, err := vm.runtime.InstantiateModule(ctx, compiled, config)
	if err != nil {
		return fmt.Errorf("failed to instantiate module: %w", err)
	}
	defer module.Close(ctx)

	fn := module.ExportedFunction(export)
	if fn == nil {
		return fmt.Errorf("%w: export %s", core.ErrInstructionFallbackNotFound, export)
	}

	results, err := fn.Call(WithInvocation(ctx, inv))
	if err != nil {
		return fmt.Errorf("failed to execute %s: %w", export, err)
	}
	if len(results) > 0 {
		if status := int32(uint32(results[0])); status != 0 {
			return fmt.Errorf("%w: %d", core.ErrCustomProgramError, status)
		}
	}
	return nil
}

// Close releases the runtime and every compiled module
func (vm *WazeroVM) Close(ctx context.Context) error {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	vm.compiled = make(map[[32]byte]wazero.CompiledModule)
	if err := vm.runtime.Close(ctx); err != nil {
		return fmt.Errorf("failed to close wazero runtime: %w", err)
	}
	return nil
}
