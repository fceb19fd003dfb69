// Package task defines the unified task model shared by every activity in the
// runtime: conversation turns, MCP tool-calling tasks, periodic patrols, user
// commands, and dispatcher-originated requests. A task carries its status,
// retry budget, free-form context, an append-only history of transitions, and
// (for tool-calling tasks) an execution plan.
package task

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// TaskType identifies which executor processes a task.
type TaskType string

// Task type constants. Each type is bound to exactly one executor in the
// scheduler registry.
const (
	TypePatrol       TaskType = "patrol"
	TypeMCPCall      TaskType = "mcp_call"
	TypeUserCommand  TaskType = "user_command"
	TypeActionChain  TaskType = "action_chain"
	TypeConversation TaskType = "conversation"
	TypeDispatcher   TaskType = "dispatcher"
)

// TaskStatus represents the lifecycle state of a task.
type TaskStatus string

// Task status constants.
const (
	StatusPending   TaskStatus = "pending"
	StatusRunning   TaskStatus = "running"
	StatusCompleted TaskStatus = "completed"
	StatusFailed    TaskStatus = "failed"
	StatusCancelled TaskStatus = "cancelled"
	StatusRetrying  TaskStatus = "retrying"
)

// IsTerminal reports whether the status admits no further transitions.
func (s TaskStatus) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// allowedTransitions encodes the status transition graph. Terminal statuses
// have no outgoing edges.
var allowedTransitions = map[TaskStatus][]TaskStatus{
	StatusPending:  {StatusRunning, StatusCancelled, StatusFailed},
	StatusRunning:  {StatusCompleted, StatusFailed, StatusCancelled, StatusRetrying},
	StatusRetrying: {StatusRunning, StatusCompleted, StatusFailed, StatusCancelled},
}

// Sentinel errors for task state transitions.
var (
	// ErrTerminalStatus indicates a transition was attempted on a task that
	// already reached a terminal status.
	ErrTerminalStatus = errors.New("task is in a terminal status")

	// ErrInvalidTransition indicates the requested transition is not in the
	// allowed transition graph.
	ErrInvalidTransition = errors.New("invalid status transition")
)

// HistoryEvent is one entry in a task's append-only history.
// Status transitions record From/To/Reason; executor milestones (plan
// generation, tool calls, revisions) record Event plus Details.
type HistoryEvent struct {
	Event     string         `json:"event"`
	From      TaskStatus     `json:"from,omitempty"`
	To        TaskStatus     `json:"to,omitempty"`
	Reason    string         `json:"reason,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Task is the unit of work flowing through the runtime.
//
// Ownership: before scheduling a task is owned solely by the queue; while
// running it is co-owned by the scheduler (cancellable handle) and the
// executor (which mutates it). Status, history, and result mutations go
// through the mutex-guarded methods below. Context and ExecutionData are
// mutated only by the executor currently running the task; external readers
// must use Snapshot.
type Task struct {
	mu sync.Mutex

	ID         string     `json:"task_id"`
	Type       TaskType   `json:"task_type"`
	Priority   int        `json:"priority"`
	Status     TaskStatus `json:"status"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
	Timeout    time.Duration
	RetryCount int `json:"retry_count"`
	MaxRetries int `json:"max_retries"`

	// Context carries cross-step data (query results, home-automation
	// snapshots, intent classification). Free-form: tool outputs have
	// heterogeneous shapes.
	Context map[string]any `json:"context,omitempty"`

	// ExecutionData carries the task-type-specific inputs: goal, user_text,
	// action_name, mode.
	ExecutionData map[string]any `json:"execution_data,omitempty"`

	History []HistoryEvent `json:"history"`
	Result  map[string]any `json:"result,omitempty"`
	Plan    *Plan          `json:"plan,omitempty"`
}

// Default task parameters applied by New.
const (
	DefaultPriority   = 5
	DefaultTimeout    = 60 * time.Second
	DefaultMaxRetries = 3

	// MinPriority and MaxPriority bound the accepted priority range.
	MinPriority = 1
	MaxPriority = 10
)

// New creates a pending task of the given type with default priority,
// timeout, and retry budget. Callers adjust fields before enqueueing;
// a task is single-owner until it enters the queue.
func New(taskType TaskType) *Task {
	now := time.Now()
	return &Task{
		ID:            uuid.NewString(),
		Type:          taskType,
		Priority:      DefaultPriority,
		Status:        StatusPending,
		CreatedAt:     now,
		UpdatedAt:     now,
		Timeout:       DefaultTimeout,
		MaxRetries:    DefaultMaxRetries,
		Context:       make(map[string]any),
		ExecutionData: make(map[string]any),
	}
}

// ClampPriority forces p into the valid [MinPriority, MaxPriority] range.
func ClampPriority(p int) int {
	if p < MinPriority {
		return MinPriority
	}
	if p > MaxPriority {
		return MaxPriority
	}
	return p
}

// TransitionTo moves the task to a new status, recording the transition in
// history. Returns ErrTerminalStatus when the task already reached a terminal
// status and ErrInvalidTransition when the edge is not in the graph.
func (t *Task) TransitionTo(status TaskStatus, reason string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.Status.IsTerminal() {
		return fmt.Errorf("%w: %s", ErrTerminalStatus, t.Status)
	}
	if !transitionAllowed(t.Status, status) {
		return fmt.Errorf("%w: %s → %s", ErrInvalidTransition, t.Status, status)
	}

	now := time.Now()
	t.History = append(t.History, HistoryEvent{
		Event:     "status_change",
		From:      t.Status,
		To:        status,
		Reason:    reason,
		Timestamp: now,
	})
	t.Status = status
	t.UpdatedAt = now
	return nil
}

func transitionAllowed(from, to TaskStatus) bool {
	for _, allowed := range allowedTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// RecordEvent appends a non-transition milestone to the task history
// (plan_generated, tool_call, plan_revised, ...).
func (t *Task) RecordEvent(event string, details map[string]any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.History = append(t.History, HistoryEvent{
		Event:     event,
		Details:   details,
		Timestamp: time.Now(),
	})
	t.UpdatedAt = time.Now()
}

// SetResult replaces the task result. Safe to call while external readers
// snapshot the task.
func (t *Task) SetResult(result map[string]any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Result = result
	t.UpdatedAt = time.Now()
}

// CurrentStatus returns the status under the task lock.
func (t *Task) CurrentStatus() TaskStatus {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.Status
}

// IsTerminal reports whether the task reached a terminal status.
func (t *Task) IsTerminal() bool {
	return t.CurrentStatus().IsTerminal()
}

// Cancellable reports whether cancel is legal for the current status
// (only Pending and Running tasks may be cancelled).
func (t *Task) Cancellable() bool {
	switch t.CurrentStatus() {
	case StatusPending, StatusRunning:
		return true
	default:
		return false
	}
}

// IncrementRetry bumps the retry counter. Returns false when the retry
// budget is exhausted.
func (t *Task) IncrementRetry() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.RetryCount >= t.MaxRetries {
		return false
	}
	t.RetryCount++
	t.UpdatedAt = time.Now()
	return true
}

// Snapshot returns a deep-enough copy for external observers: history and
// top-level maps are copied, nested values are shared (treated as immutable
// once recorded).
func (t *Task) Snapshot() *Task {
	t.mu.Lock()
	defer t.mu.Unlock()

	cp := &Task{
		ID:         t.ID,
		Type:       t.Type,
		Priority:   t.Priority,
		Status:     t.Status,
		CreatedAt:  t.CreatedAt,
		UpdatedAt:  t.UpdatedAt,
		Timeout:    t.Timeout,
		RetryCount: t.RetryCount,
		MaxRetries: t.MaxRetries,
		Plan:       t.Plan,
	}
	cp.History = append([]HistoryEvent(nil), t.History...)
	cp.Context = copyMap(t.Context)
	cp.ExecutionData = copyMap(t.ExecutionData)
	cp.Result = copyMap(t.Result)
	return cp
}

// Successor creates a fresh pending task that continues this task's work:
// same type, priority, timeout, and retry budget, inheriting the plan,
// context, execution data, and accumulated retry count. Used by the MCP
// executor to process one plan step per task invocation.
func (t *Task) Successor() *Task {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := time.Now()
	succ := &Task{
		ID:            uuid.NewString(),
		Type:          t.Type,
		Priority:      t.Priority,
		Status:        StatusPending,
		CreatedAt:     now,
		UpdatedAt:     now,
		Timeout:       t.Timeout,
		RetryCount:    t.RetryCount,
		MaxRetries:    t.MaxRetries,
		Context:       copyMap(t.Context),
		ExecutionData: copyMap(t.ExecutionData),
		Plan:          t.Plan,
	}
	succ.History = append(succ.History, HistoryEvent{
		Event:     "successor_of",
		Details:   map[string]any{"task_id": t.ID},
		Timestamp: now,
	})
	return succ
}

func copyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	cp := make(map[string]any, len(m))
	for k, v := range m {
		cp[k] = v
	}
	return cp
}
