// Package queue provides the unified task runtime: a priority queue over
// pending tasks, a concurrency-limited scheduler dispatching to per-type
// executors, the cooperating main/cleanup loops, and the periodic trigger.
package queue

import (
	"context"
	"errors"

	"github.com/homefox/homefox/pkg/task"
)

// Sentinel errors for queue operations.
var (
	// ErrQueueEmpty indicates no pending tasks are in the queue.
	ErrQueueEmpty = errors.New("no tasks available")

	// ErrAtCapacity indicates the concurrent task limit has been reached.
	ErrAtCapacity = errors.New("at capacity")

	// ErrNoExecutor indicates no executor is registered for the task type.
	ErrNoExecutor = errors.New("no executor registered for task type")

	// ErrDuplicateTask indicates the task id is already known to the queue.
	ErrDuplicateTask = errors.New("duplicate task id")
)

// Executor processes one task to a terminal state (or to a handoff point:
// the MCP executor processes a single plan step and enqueues a successor).
//
// Execute must return normally and record failures via
// task.TransitionTo(StatusFailed, reason); a returned error is a last-resort
// signal that the scheduler converts to a Failed status. ctx carries the
// task's deadline and cancellation signal.
type Executor interface {
	Execute(ctx context.Context, t *task.Task) error
}

// Enqueuer is the narrow capability handle executors use to enqueue
// successor tasks, documenting the executor→queue dependency without
// exposing the full queue.
type Enqueuer interface {
	Enqueue(t *task.Task) error
}

// Statistics is a point-in-time snapshot of queue state, emitted by the
// cleanup loop and fed to the metrics collectors.
type Statistics struct {
	Pending   int            `json:"pending"`
	ByStatus  map[string]int `json:"by_status"`
	ByType    map[string]int `json:"by_type"`
	Total     int            `json:"total"`
	Submitted uint64         `json:"submitted"`
	Purged    uint64         `json:"purged"`
}
