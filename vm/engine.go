package vm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/govm-net/greeter/abi"
	"github.com/govm-net/greeter/api"
	hostctx "github.com/govm-net/greeter/context"
	_ "github.com/govm-net/greeter/context/db"
	_ "github.com/govm-net/greeter/context/memory"
	"github.com/govm-net/greeter/core"
	"github.com/govm-net/greeter/repository"
	"github.com/govm-net/greeter/security"
	"github.com/govm-net/greeter/types"
	"github.com/govm-net/greeter/wasi"
)

var _ api.VM = (*Engine)(nil)

// Engine is responsible for program deployment and execution
type Engine struct {
	config      *Config
	limiter     *security.ResourceLimiter
	wazero      *wasi.WazeroVM
	codeManager *repository.Manager
	host        types.HostContext

	mu       sync.RWMutex
	programs map[core.Address]*deployment
}

// Config represents engine configuration
type Config struct {
	CodeManagerDir string            // Wasm program storage directory, empty keeps programs in memory only
	ContextType    string            // Host context type
	ContextParams  map[string]any    // Host context parameters
	Program        api.ProgramConfig // Limits applied to every program
}

// ProgramInfo describes a deployed program
type ProgramInfo struct {
	ID      core.Address  `json:"id"`
	Name    string        `json:"name,omitempty"`
	Backend types.Backend `json:"backend"`
}

type deployment struct {
	backend types.Backend
	native  *core.Program
	code    []byte
	abi     *abi.ABI
}

// NewEngine creates a new engine. Wasm programs found in the code manager
// directory are deployed again.
func NewEngine(config *Config) (*Engine, error) {
	if err := validateConfig(config); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	host, err := hostctx.Get(hostctx.ContextType(config.ContextType), config.ContextParams)
	if err != nil {
		return nil, fmt.Errorf("failed to get host context: %w", err)
	}

	wazeroVM, err := wasi.NewWazeroVM(context.Background())
	if err != nil {
		host.Close()
		return nil, fmt.Errorf("failed to create wazero engine: %w", err)
	}

	e := &Engine{
		config:   config,
		limiter:  security.NewResourceLimiter(config.Program.MaxLogBytes, security.DefaultMaxCallDepth),
		wazero:   wazeroVM,
		host:     host,
		programs: make(map[core.Address]*deployment),
	}

	if config.CodeManagerDir != "" {
		e.codeManager, err = repository.NewManager(config.CodeManagerDir)
		if err != nil {
			e.Close()
			return nil, fmt.Errorf("failed to create code manager: %w", err)
		}
		if err := e.loadPrograms(); err != nil {
			e.Close()
			return nil, err
		}
	}

	return e, nil
}

// validateConfig validates the configuration
func validateConfig(config *Config) error {
	if config == nil {
		return fmt.Errorf("config is nil")
	}
	if config.ContextType == "" {
		config.ContextType = string(hostctx.DefaultContextType())
	}
	if config.Program.MaxCodeSize < 0 {
		return fmt.Errorf("invalid max code size: %d", config.Program.MaxCodeSize)
	}
	if config.Program.MaxCodeSize == 0 {
		config.Program.MaxCodeSize = api.DefaultProgramConfig().MaxCodeSize
	}
	return nil
}

func (e *Engine) loadPrograms() error {
	ids, err := e.codeManager.List()
	if err != nil {
		return fmt.Errorf("failed to list stored programs: %w", err)
	}
	for _, id := range ids {
		code, err := e.codeManager.GetCode(id)
		if err != nil {
			return fmt.Errorf("failed to load program %s: %w", id, err)
		}
		programABI := code.ABI
		if programABI == nil {
			if programABI, err = e.wazero.Inspect(context.Background(), code.Code); err != nil {
				return fmt.Errorf("failed to inspect program %s: %w", id, err)
			}
		}
		e.programs[id] = &deployment{backend: types.BackendWasm, code: code.Code, abi: programABI}
		slog.Debug("program loaded", "program", id, "size", len(code.Code))
	}
	return nil
}

// Host returns the host context recording invocations
func (e *Engine) Host() types.HostContext {
	return e.host
}

// Deploy registers a native program under id. The program's declared id is
// checked on every invocation, not here, so one program may be deployed
// under an id it does not accept.
func (e *Engine) Deploy(id core.Address, program *core.Program) error {
	if id.IsZero() {
		return fmt.Errorf("program id cannot be zero")
	}
	if program == nil || len(program.Instructions) == 0 {
		return fmt.Errorf("program has no instructions")
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.programs[id]; ok {
		return fmt.Errorf("program %s already deployed", id)
	}
	e.programs[id] = &deployment{
		backend: types.BackendNative,
		native:  program,
		abi:     abi.FromProgram(program),
	}
	slog.Info("program deployed", "program", id, "name", program.Name, "backend", types.BackendNative)
	return nil
}

// DeployWasm validates a WebAssembly program and registers it under id. With
// a code manager configured the binary is stored and survives restarts.
func (e *Engine) DeployWasm(ctx context.Context, id core.Address, code []byte) error {
	return e.deployWasm(ctx, id, code, true)
}

// AttachWasm registers a WebAssembly program under id for the lifetime of the
// engine. Unlike DeployWasm it never writes to the code manager.
func (e *Engine) AttachWasm(ctx context.Context, id core.Address, code []byte) error {
	return e.deployWasm(ctx, id, code, false)
}

func (e *Engine) deployWasm(ctx context.Context, id core.Address, code []byte, store bool) error {
	if id.IsZero() {
		return fmt.Errorf("program id cannot be zero")
	}
	if len(code) > e.config.Program.MaxCodeSize {
		return fmt.Errorf("program size %d exceeds limit %d", len(code), e.config.Program.MaxCodeSize)
	}

	programABI, err := e.wazero.Inspect(ctx, code)
	if err != nil {
		return fmt.Errorf("program validation failed: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.programs[id]; ok {
		return fmt.Errorf("program %s already deployed", id)
	}
	if store && e.codeManager != nil {
		if err := e.codeManager.RegisterCode(id, code, programABI); err != nil {
			return fmt.Errorf("failed to save program code: %w", err)
		}
	}
	e.programs[id] = &deployment{
		backend: types.BackendWasm,
		code:    append([]byte(nil), code...),
		abi:     programABI,
	}
	slog.Info("program deployed", "program", id, "backend", types.BackendWasm, "size", len(code), "stored", store && e.codeManager != nil)
	return nil
}

func (e *Engine) lookup(id core.Address) (*deployment, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	dep, ok := e.programs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", core.ErrProgramNotFound, id)
	}
	return dep, nil
}

// ABI returns the instruction interface of a deployed program
func (e *Engine) ABI(id core.Address) (*abi.ABI, error) {
	dep, err := e.lookup(id)
	if err != nil {
		return nil, err
	}
	return dep.abi, nil
}

// Programs lists deployed programs ordered by id
func (e *Engine) Programs() []ProgramInfo {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]ProgramInfo, 0, len(e.programs))
	for id, dep := range e.programs {
		info := ProgramInfo{ID: id, Backend: dep.backend}
		if dep.native != nil {
			info.Name = dep.native.Name
		}
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID.String() < out[j].ID.String() })
	return out
}

// InvokeInstruction invokes the named instruction without arguments
func (e *Engine) InvokeInstruction(ctx context.Context, id core.Address, name string, accounts []core.AccountMeta) (*types.Invocation, error) {
	return e.Invoke(ctx, types.Request{
		ProgramID: id,
		Accounts:  accounts,
		Data:      abi.Encode(name, nil),
	})
}

// Invoke executes one instruction. The invocation is recorded in the host
// context whether or not the program succeeds; a program failure is returned
// together with the recorded invocation.
func (e *Engine) Invoke(ctx context.Context, req types.Request) (*types.Invocation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	dep, err := e.lookup(req.ProgramID)
	if err != nil {
		return nil, err
	}

	inv := &types.Invocation{
		ID:        uuid.NewString(),
		ProgramID: req.ProgramID,
		Accounts:  req.Accounts,
		StartedAt: time.Now().UTC(),
	}
	exec := newExecutionContext(req.ProgramID, req.Accounts, e.limiter.StartMonitoring())
	tracer := security.NewCallTracer(e.limiter)

	if depth, ok := tracer.BeginCall(req.ProgramID, ""); !ok {
		err = fmt.Errorf("%w: %d", core.ErrCallDepthExceeded, depth)
	} else {
		exec.frame("Program %s invoke [%d]", req.ProgramID, depth)
		inv.Instruction, err = e.dispatch(ctx, dep, exec, req)
		tracer.EndCall()
	}

	if err != nil {
		exec.frame("Program %s failed: %v", req.ProgramID, err)
		inv.Error = err.Error()
	} else {
		exec.frame("Program %s success", req.ProgramID)
		inv.Success = true
	}
	inv.Logs = exec.trace()
	inv.Duration = time.Since(inv.StartedAt)

	if recErr := e.host.RecordInvocation(inv); recErr != nil {
		return inv, errors.Join(err, fmt.Errorf("failed to record invocation: %w", recErr))
	}

	slog.Info("program invoked",
		"invocation", inv.ID,
		"program", req.ProgramID,
		"instruction", inv.Instruction,
		"success", inv.Success,
		"duration", inv.Duration)
	return inv, err
}

// dispatch runs the entrypoint checks in order: declared id, discriminator,
// accounts. It returns the name of the instruction it resolved, if any.
func (e *Engine) dispatch(ctx context.Context, dep *deployment, exec *ExecutionContext, req types.Request) (name string, err error) {
	if dep.native != nil && dep.native.DeclaredID != req.ProgramID {
		return "", core.ErrDeclaredProgramIDMismatch
	}

	ix, args, err := dep.abi.Resolve(req.Data)
	if err != nil {
		return "", err
	}
	name = ix.Name
	if len(req.Accounts) < len(ix.Accounts) {
		return name, fmt.Errorf("%w: want %d, got %d", core.ErrAccountNotEnoughKeys, len(ix.Accounts), len(req.Accounts))
	}
	if e.config.Program.LogInstructionName {
		exec.Log("Instruction: %s", abi.HandlerName(ix.Name))
	}

	switch dep.backend {
	case types.BackendNative:
		handler, ok := dep.native.Instruction(name)
		if !ok {
			return name, fmt.Errorf("%w: %s", core.ErrInstructionFallbackNotFound, name)
		}
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("program panicked: %v", r)
			}
		}()
		return name, handler.Handler(exec, args)
	case types.BackendWasm:
		return name, e.wazero.Execute(ctx, dep.code, ix.Handler, exec)
	default:
		return name, fmt.Errorf("unknown backend %q", dep.backend)
	}
}

// Close releases the wasm runtime and the host context
func (e *Engine) Close() error {
	var errs []error
	if err := e.wazero.Close(context.Background()); err != nil {
		errs = append(errs, fmt.Errorf("failed to close wazero engine: %w", err))
	}
	if err := e.host.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close host context: %w", err))
	}
	return errors.Join(errs...)
}
