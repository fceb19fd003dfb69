// Package agent wires the runtime together: the facade over queue, scheduler,
// executors, and the MCP control plane, plus the executors themselves.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// ErrActionNotFound indicates no capability is registered under a name.
var ErrActionNotFound = errors.New("action not registered")

// ActionFunc is a named opaque capability (speak, listen, patrol_sweep).
// Input and output are free-form; implementations live outside the core.
type ActionFunc func(ctx context.Context, input map[string]any) (map[string]any, error)

// ActionRegistry holds the named capabilities consumed by executors.
type ActionRegistry struct {
	mu      sync.RWMutex
	actions map[string]ActionFunc
	logger  *slog.Logger
}

// NewActionRegistry creates an empty registry.
func NewActionRegistry() *ActionRegistry {
	return &ActionRegistry{
		actions: make(map[string]ActionFunc),
		logger:  slog.With("component", "action_registry"),
	}
}

// Register binds a capability to a name. Re-registration replaces it.
func (r *ActionRegistry) Register(name string, fn ActionFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.actions[name] = fn
}

// Unregister removes a capability.
func (r *ActionRegistry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.actions, name)
}

// UnregisterAll clears the registry. Used during shutdown.
func (r *ActionRegistry) UnregisterAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.actions = make(map[string]ActionFunc)
}

// Names returns the registered capability names.
func (r *ActionRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.actions))
	for name := range r.actions {
		names = append(names, name)
	}
	return names
}

// Execute invokes a capability by name.
func (r *ActionRegistry) Execute(ctx context.Context, name string, input map[string]any) (map[string]any, error) {
	r.mu.RLock()
	fn, ok := r.actions[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrActionNotFound, name)
	}
	return fn(ctx, input)
}

// ExecuteChain invokes capabilities in order, feeding each output as the
// next input. Stops at the first error.
func (r *ActionRegistry) ExecuteChain(ctx context.Context, names []string, input map[string]any) (map[string]any, error) {
	current := input
	for _, name := range names {
		out, err := r.Execute(ctx, name, current)
		if err != nil {
			return nil, fmt.Errorf("chain step %q: %w", name, err)
		}
		current = out
	}
	return current, nil
}
