package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/homefox/homefox/pkg/events"
	"github.com/homefox/homefox/pkg/task"
)

// ErrInvalidEnvelope indicates an external submission failed validation.
var ErrInvalidEnvelope = errors.New("invalid task envelope")

// TaskEnvelope is the external submission format accepted over the API.
type TaskEnvelope struct {
	TaskType    string         `json:"task_type"`
	TaskName    string         `json:"task_name"`
	Parameters  map[string]any `json:"parameters"`
	Priority    int            `json:"priority,omitempty"`
	Timeout     int            `json:"timeout,omitempty"`
	CallbackURL string         `json:"callback_url,omitempty"`
}

// TaskCallback is the completion notification POSTed to callback_url.
type TaskCallback struct {
	TaskID    string         `json:"task_id"`
	Success   bool           `json:"success"`
	Result    map[string]any `json:"result,omitempty"`
	Timestamp string         `json:"timestamp"`
}

// callbackSlack pads the watch window past the target timeout to absorb
// queue wait and retries.
const callbackSlack = 5 * time.Minute

// Dispatcher converts external task envelopes into dispatcher tasks, mirrors
// their status over the event notifier, and delivers completion callbacks. It
// runs as the executor for the dispatcher task type.
type Dispatcher struct {
	store    TaskStore
	notifier *events.Notifier
	client   *http.Client
	logger   *slog.Logger
}

// NewDispatcher wires the dispatcher.
func NewDispatcher(store TaskStore, notifier *events.Notifier) *Dispatcher {
	return &Dispatcher{
		store:    store,
		notifier: notifier,
		client:   &http.Client{Timeout: 10 * time.Second},
		logger:   slog.With("component", "dispatcher"),
	}
}

// Dispatch validates the envelope and enqueues a dispatcher task carrying it.
// The target task is materialized when the dispatcher task runs.
func (d *Dispatcher) Dispatch(env TaskEnvelope) (*task.Task, error) {
	if _, err := d.buildTask(env); err != nil {
		return nil, err
	}

	t := task.New(task.TypeDispatcher)
	if env.Priority != 0 {
		t.Priority = task.ClampPriority(env.Priority)
	}
	targetTimeout := task.DefaultTimeout
	if env.Timeout > 0 {
		targetTimeout = time.Duration(env.Timeout) * time.Second
	}
	// The dispatcher task outlives its target: queue wait plus the watch.
	t.Timeout = targetTimeout + callbackSlack
	t.ExecutionData["envelope"] = env

	if err := d.store.Enqueue(t); err != nil {
		return nil, fmt.Errorf("enqueue: %w", err)
	}

	d.notifier.Emit(events.StateStatus, map[string]any{
		"task_id":   t.ID,
		"task_type": string(t.Type),
		"status":    string(task.StatusPending),
	})
	return t, nil
}

// Execute runs one dispatcher task: build and enqueue the target, then watch
// the chain and deliver the completion callback when one was requested.
func (d *Dispatcher) Execute(ctx context.Context, t *task.Task) error {
	env, ok := t.ExecutionData["envelope"].(TaskEnvelope)
	if !ok {
		return fmt.Errorf("%w: envelope missing from execution data", ErrInvalidEnvelope)
	}

	target, err := d.buildTask(env)
	if err != nil {
		return err
	}
	if err := d.store.Enqueue(target); err != nil {
		return fmt.Errorf("enqueue target: %w", err)
	}
	t.RecordEvent("dispatched", map[string]any{"target_task_id": target.ID})
	d.notifier.Emit(events.StateStatus, map[string]any{
		"task_id":   target.ID,
		"task_type": string(target.Type),
		"status":    string(task.StatusPending),
	})

	if env.CallbackURL == "" {
		t.SetResult(map[string]any{"success": true, "target_task_id": target.ID})
		_ = t.TransitionTo(task.StatusCompleted, "dispatched")
		return nil
	}

	final, err := d.watchChain(ctx, target)
	if err != nil {
		return err
	}

	snap := final.Snapshot()
	d.notifier.Emit(events.StateStatus, map[string]any{
		"task_id":   t.ID,
		"task_type": string(snap.Type),
		"status":    string(snap.Status),
	})
	d.deliverCallback(env.CallbackURL, TaskCallback{
		TaskID:    t.ID,
		Success:   snap.Status == task.StatusCompleted,
		Result:    snap.Result,
		Timestamp: time.Now().Format(time.RFC3339),
	})

	t.SetResult(map[string]any{
		"success":        snap.Status == task.StatusCompleted,
		"target_task_id": target.ID,
	})
	_ = t.TransitionTo(task.StatusCompleted, "callback delivered")
	return nil
}

// buildTask maps the envelope to the internal task model.
func (d *Dispatcher) buildTask(env TaskEnvelope) (*task.Task, error) {
	if env.TaskName == "" {
		return nil, fmt.Errorf("%w: task_name is required", ErrInvalidEnvelope)
	}

	var t *task.Task
	switch env.TaskType {
	case "mcp":
		t = task.New(task.TypeMCPCall)
		goal := env.TaskName
		if intent, ok := env.Parameters["user_intent"].(string); ok && intent != "" {
			goal = intent
		}
		t.ExecutionData["goal"] = goal
		t.ExecutionData["user_intent"] = goal
		for k, v := range env.Parameters {
			if k == "user_intent" {
				continue
			}
			t.Context[k] = v
		}

	case "action":
		t = task.New(task.TypeUserCommand)
		t.ExecutionData["action_name"] = env.TaskName
		if len(env.Parameters) > 0 {
			t.ExecutionData["input"] = env.Parameters
		}

	case "action_chain":
		t = task.New(task.TypeActionChain)
		actions := stringSlice(env.Parameters["actions"])
		if len(actions) == 0 {
			return nil, fmt.Errorf("%w: parameters.actions is required for action_chain", ErrInvalidEnvelope)
		}
		t.ExecutionData["actions"] = actions
		if input, ok := env.Parameters["input"].(map[string]any); ok {
			t.ExecutionData["input"] = input
		}

	default:
		return nil, fmt.Errorf("%w: unknown task_type %q", ErrInvalidEnvelope, env.TaskType)
	}

	if env.Priority != 0 {
		t.Priority = task.ClampPriority(env.Priority)
	}
	if env.Timeout > 0 {
		t.Timeout = time.Duration(env.Timeout) * time.Second
	}
	return t, nil
}

// watchChain polls the target every second, following successor handoffs,
// until the chain reaches its end or the watch window runs out.
func (d *Dispatcher) watchChain(ctx context.Context, target *task.Task) (*task.Task, error) {
	deadline := time.Now().Add(target.Timeout + callbackSlack)
	current := target

	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Second):
		}
		if !current.IsTerminal() {
			continue
		}
		snap := current.Snapshot()
		if next := successorID(snap); next != "" {
			succ := d.store.GetByID(next)
			if succ == nil {
				// Cleanup only purges terminal tasks, so a missing successor
				// means the chain already finished.
				return current, nil
			}
			current = succ
			continue
		}
		return current, nil
	}
	d.logger.Warn("Callback watch expired", "task_id", target.ID)
	return nil, fmt.Errorf("watch expired for task %s", target.ID)
}

func (d *Dispatcher) deliverCallback(url string, cb TaskCallback) {
	body, err := json.Marshal(cb)
	if err != nil {
		d.logger.Error("Callback marshal failed", "task_id", cb.TaskID, "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		d.logger.Error("Callback request build failed", "task_id", cb.TaskID, "error", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		d.logger.Warn("Callback delivery failed", "task_id", cb.TaskID, "url", url, "error", err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		d.logger.Warn("Callback rejected", "task_id", cb.TaskID, "url", url, "status", resp.StatusCode)
	}
}
