package memory

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/govm-net/greeter/context"
	"github.com/govm-net/greeter/core"
	"github.com/govm-net/greeter/types"
)

// ErrInvocationNotFound is returned when no invocation has the requested id
var ErrInvocationNotFound = errors.New("invocation not found")

// hostContext keeps the execution trace in process memory
type hostContext struct {
	mu          sync.Mutex
	invocations map[string]*types.Invocation
	byProgram   map[core.Address][]string
	logs        map[core.Address][]types.LogEntry
}

func init() {
	if err := context.Register(context.MemoryContextType, NewHostContext); err != nil {
		panic(err)
	}
}

// NewHostContext creates an empty in-memory host context. params are ignored.
func NewHostContext(params map[string]any) (types.HostContext, error) {
	return &hostContext{
		invocations: make(map[string]*types.Invocation),
		byProgram:   make(map[core.Address][]string),
		logs:        make(map[core.Address][]types.LogEntry),
	}, nil
}

// RecordInvocation stores a copy of inv and indexes its program log lines
func (ctx *hostContext) RecordInvocation(inv *types.Invocation) error {
	if inv == nil || inv.ID == "" {
		return fmt.Errorf("invocation without id")
	}

	ctx.mu.Lock()
	defer ctx.mu.Unlock()
	if _, exists := ctx.invocations[inv.ID]; exists {
		return fmt.Errorf("invocation %s already recorded", inv.ID)
	}

	stored := clone(inv)
	ctx.invocations[inv.ID] = stored
	ctx.byProgram[inv.ProgramID] = append(ctx.byProgram[inv.ProgramID], inv.ID)
	for i, msg := range stored.Messages() {
		ctx.logs[inv.ProgramID] = append(ctx.logs[inv.ProgramID], types.LogEntry{
			InvocationID: inv.ID,
			ProgramID:    inv.ProgramID,
			Seq:          i,
			Message:      msg,
			Time:         inv.StartedAt,
		})
	}

	slog.Debug("invocation recorded", "id", inv.ID, "program", inv.ProgramID, "success", inv.Success)
	return nil
}

func (ctx *hostContext) Invocation(id string) (*types.Invocation, error) {
	ctx.mu.Lock()
	defer ctx.mu.Unlock()
	inv, exists := ctx.invocations[id]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrInvocationNotFound, id)
	}
	return clone(inv), nil
}

func (ctx *hostContext) Invocations(program core.Address) ([]*types.Invocation, error) {
	ctx.mu.Lock()
	defer ctx.mu.Unlock()
	ids := ctx.byProgram[program]
	out := make([]*types.Invocation, 0, len(ids))
	for _, id := range ids {
		out = append(out, clone(ctx.invocations[id]))
	}
	return out, nil
}

func (ctx *hostContext) Logs(program core.Address) ([]types.LogEntry, error) {
	ctx.mu.Lock()
	defer ctx.mu.Unlock()
	out := make([]types.LogEntry, len(ctx.logs[program]))
	copy(out, ctx.logs[program])
	return out, nil
}

func (ctx *hostContext) Close() error {
	return nil
}

func clone(inv *types.Invocation) *types.Invocation {
	out := *inv
	out.Logs = append([]string(nil), inv.Logs...)
	out.Accounts = append([]core.AccountMeta(nil), inv.Accounts...)
	return &out
}
