package mcp

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// LocalServerPrefix marks in-process tools: their server_id starts with
// "local-" and calls never leave the process.
const LocalServerPrefix = "local-"

// LocalTool is an in-process tool callable without an MCP round trip.
type LocalTool interface {
	Name() string
	Description() string
	// InputSchema returns the JSON schema of the tool arguments.
	InputSchema() map[string]any
	// Call executes the tool. Errors are converted to failure envelopes by
	// the registry.
	Call(ctx context.Context, args map[string]any) (map[string]any, error)
}

// IsLocalServer reports whether a server id refers to an in-process tool.
func IsLocalServer(serverID string) bool {
	return strings.HasPrefix(serverID, LocalServerPrefix)
}

// LocalRegistry holds the in-process tools, keyed by tool name.
type LocalRegistry struct {
	mu    sync.RWMutex
	tools map[string]LocalTool
}

// NewLocalRegistry creates an empty registry.
func NewLocalRegistry() *LocalRegistry {
	return &LocalRegistry{tools: make(map[string]LocalTool)}
}

// Register adds a tool. Re-registration replaces the instance.
func (r *LocalRegistry) Register(tool LocalTool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[tool.Name()] = tool
}

// Get returns a tool by name.
func (r *LocalRegistry) Get(name string) (LocalTool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// All returns every registered tool.
func (r *LocalRegistry) All() []LocalTool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]LocalTool, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, t)
	}
	return out
}

// Call dispatches to a registered tool and wraps the outcome in the
// normalized envelope.
func (r *LocalRegistry) Call(ctx context.Context, name string, args map[string]any) Envelope {
	tool, ok := r.Get(name)
	if !ok {
		return ErrorEnvelope(fmt.Errorf("local tool %q not registered", name))
	}
	result, err := tool.Call(ctx, args)
	if err != nil {
		return ErrorEnvelope(fmt.Errorf("local tool %q: %w", name, err))
	}
	if result == nil {
		result = map[string]any{}
	}
	return Envelope{Success: true, Result: result}
}
