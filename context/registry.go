package context

import (
	"fmt"
	"sort"
	"sync"

	"github.com/govm-net/greeter/types"
)

// ContextType represents the type of host context
type ContextType string

const (
	// MemoryContextType keeps the execution trace in memory
	MemoryContextType ContextType = "memory"
	// DBContextType persists the execution trace in sqlite
	DBContextType ContextType = "db"
)

// ContextConstructor is a function type that creates a new HostContext instance
type ContextConstructor func(params map[string]any) (types.HostContext, error)

// Registry defines the interface for managing HostContext implementations
type Registry interface {
	// Register adds a new HostContext implementation to the registry
	Register(ct ContextType, constructor ContextConstructor) error
	// SetDefault sets the default context type
	SetDefault(ct ContextType) error
	// Get returns a new instance of the specified context type
	Get(ct ContextType, params map[string]any) (types.HostContext, error)
	// GetDefault returns a new instance of the default context type
	GetDefault(params map[string]any) (types.HostContext, error)
	// DefaultContextType returns the current default context type
	DefaultContextType() ContextType
	// ListRegistered returns the registered context types in sorted order
	ListRegistered() []ContextType
}

// registry implements the Registry interface
type registry struct {
	mu        sync.RWMutex
	contexts  map[ContextType]ContextConstructor
	defaultCt ContextType
}

var (
	// defaultRegistry is the global singleton registry instance
	defaultRegistry Registry = NewRegistry()
)

// NewRegistry returns an empty registry
func NewRegistry() Registry {
	return &registry{
		contexts: make(map[ContextType]ContextConstructor),
	}
}

// GetRegistry returns the global Registry instance
func GetRegistry() Registry {
	return defaultRegistry
}

func (r *registry) Register(ct ContextType, constructor ContextConstructor) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.contexts[ct]; exists {
		return fmt.Errorf("context type %s already registered", ct)
	}

	r.contexts[ct] = constructor
	return nil
}

func (r *registry) SetDefault(ct ContextType) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.contexts[ct]; !exists {
		return fmt.Errorf("context type %s not registered", ct)
	}

	r.defaultCt = ct
	return nil
}

func (r *registry) Get(ct ContextType, params map[string]any) (types.HostContext, error) {
	r.mu.RLock()
	constructor, exists := r.contexts[ct]
	r.mu.RUnlock()

	if !exists {
		return nil, fmt.Errorf("context type %s not found", ct)
	}

	return constructor(params)
}

func (r *registry) GetDefault(params map[string]any) (types.HostContext, error) {
	r.mu.RLock()
	ct := r.defaultCt
	r.mu.RUnlock()

	if ct == "" {
		return nil, fmt.Errorf("no default context type set")
	}
	return r.Get(ct, params)
}

// DefaultContextType returns the current default context type, memory if none was set
func (r *registry) DefaultContextType() ContextType {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.defaultCt == "" {
		return MemoryContextType
	}
	return r.defaultCt
}

func (r *registry) ListRegistered() []ContextType {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]ContextType, 0, len(r.contexts))
	for ct := range r.contexts {
		types = append(types, ct)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}

// Package level functions that delegate to defaultRegistry

// Register adds a new HostContext implementation to the registry
func Register(ct ContextType, constructor ContextConstructor) error {
	return GetRegistry().Register(ct, constructor)
}

// SetDefault sets the default context type
func SetDefault(ct ContextType) error {
	return GetRegistry().SetDefault(ct)
}

// Get returns a new instance of the specified context type, or of the
// default type when ct is empty
func Get(ct ContextType, params map[string]any) (types.HostContext, error) {
	if ct == "" {
		ct = GetRegistry().DefaultContextType()
	}
	return GetRegistry().Get(ct, params)
}

// GetDefault returns a new instance of the default context type
func GetDefault(params map[string]any) (types.HostContext, error) {
	return GetRegistry().GetDefault(params)
}

// DefaultContextType returns the current default context type
func DefaultContextType() ContextType {
	return GetRegistry().DefaultContextType()
}

// ListRegistered returns a list of all registered context types
func ListRegistered() []ContextType {
	return GetRegistry().ListRegistered()
}
