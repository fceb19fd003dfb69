package agent

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/homefox/homefox/pkg/task"
)

// ActionExecutor runs the registry-backed task types: periodic patrols,
// direct user commands, and action chains. One invocation completes the
// whole task; there is no successor handoff.
type ActionExecutor struct {
	actions *ActionRegistry
	logger  *slog.Logger
}

// NewActionExecutor wires the executor.
func NewActionExecutor(actions *ActionRegistry) *ActionExecutor {
	return &ActionExecutor{
		actions: actions,
		logger:  slog.With("component", "action_executor"),
	}
}

// Execute dispatches on the task type.
func (e *ActionExecutor) Execute(ctx context.Context, t *task.Task) error {
	switch t.Type {
	case task.TypePatrol, task.TypeUserCommand:
		e.runSingle(ctx, t)
	case task.TypeActionChain:
		e.runChain(ctx, t)
	default:
		e.failWith(t, fmt.Sprintf("unsupported task type %s", t.Type))
	}
	return nil
}

func (e *ActionExecutor) runSingle(ctx context.Context, t *task.Task) {
	name, _ := t.ExecutionData["action_name"].(string)
	if name == "" {
		e.failWith(t, "validation: execution_data.action_name is required")
		return
	}
	input, _ := t.ExecutionData["input"].(map[string]any)

	out, err := e.actions.Execute(ctx, name, input)
	if err != nil {
		e.failWith(t, err.Error())
		return
	}
	t.SetResult(map[string]any{
		"success": true,
		"action":  name,
		"result":  out,
	})
	_ = t.TransitionTo(task.StatusCompleted, "action done")
}

func (e *ActionExecutor) runChain(ctx context.Context, t *task.Task) {
	names := stringSlice(t.ExecutionData["actions"])
	if len(names) == 0 {
		e.failWith(t, "validation: execution_data.actions is required")
		return
	}
	input, _ := t.ExecutionData["input"].(map[string]any)

	out, err := e.actions.ExecuteChain(ctx, names, input)
	if err != nil {
		e.failWith(t, err.Error())
		return
	}
	t.SetResult(map[string]any{
		"success": true,
		"actions": names,
		"result":  out,
	})
	_ = t.TransitionTo(task.StatusCompleted, "chain done")
}

func (e *ActionExecutor) failWith(t *task.Task, reason string) {
	t.SetResult(map[string]any{"success": false, "error": reason})
	_ = t.TransitionTo(task.StatusFailed, reason)
}

// stringSlice accepts []string and the []any shape JSON decoding produces.
func stringSlice(v any) []string {
	switch items := v.(type) {
	case []string:
		return items
	case []any:
		out := make([]string, 0, len(items))
		for _, item := range items {
			if s, ok := item.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}
