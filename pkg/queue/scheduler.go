package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/homefox/homefox/pkg/task"
)

// Scheduler dispatches tasks to their type's executor under a deadline,
// enforcing the global concurrency limit. Each accepted task runs as an
// independently cancellable worker goroutine.
type Scheduler struct {
	maxConcurrent int

	mu        sync.Mutex
	executors map[task.TaskType]Executor
	inflight  map[string]*taskHandle

	wg     sync.WaitGroup
	logger *slog.Logger
}

// taskHandle is the scheduler's side of a running task: the cancel function
// and a done channel closed when the worker exits.
type taskHandle struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// NewScheduler creates a scheduler with the given concurrency limit.
func NewScheduler(maxConcurrent int) *Scheduler {
	if maxConcurrent <= 0 {
		maxConcurrent = 5
	}
	return &Scheduler{
		maxConcurrent: maxConcurrent,
		executors:     make(map[task.TaskType]Executor),
		inflight:      make(map[string]*taskHandle),
		logger:        slog.With("component", "scheduler"),
	}
}

// RegisterExecutor binds an executor to a task type. Re-registration
// replaces the binding.
func (s *Scheduler) RegisterExecutor(taskType task.TaskType, exec Executor) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.executors[taskType] = exec
}

// CanSchedule reports whether the scheduler has capacity for another task.
func (s *Scheduler) CanSchedule() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.inflight) < s.maxConcurrent
}

// InflightCount returns the number of tasks currently running.
func (s *Scheduler) InflightCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.inflight)
}

// Schedule accepts a pending task for execution. Returns false when the
// concurrency limit is reached or no executor is registered for the type;
// the caller re-enqueues on rejection. On acceptance the task transitions to
// Running and a worker goroutine runs the executor under the task's timeout.
func (s *Scheduler) Schedule(ctx context.Context, t *task.Task) bool {
	s.mu.Lock()
	if len(s.inflight) >= s.maxConcurrent {
		s.mu.Unlock()
		return false
	}
	exec, ok := s.executors[t.Type]
	if !ok {
		s.mu.Unlock()
		s.logger.Warn("No executor registered", "task_type", t.Type, "task_id", t.ID)
		return false
	}

	if err := t.TransitionTo(task.StatusRunning, "scheduled"); err != nil {
		// Cancelled between dequeue and schedule.
		s.mu.Unlock()
		return false
	}

	taskCtx, cancel := context.WithTimeout(ctx, t.Timeout)
	handle := &taskHandle{cancel: cancel, done: make(chan struct{})}
	s.inflight[t.ID] = handle
	s.mu.Unlock()

	s.wg.Add(1)
	go s.runTask(taskCtx, cancel, handle, exec, t)
	return true
}

// runTask invokes the executor and applies the termination disposition:
// normal return (executor set the terminal status), deadline exceeded →
// Failed "timeout", cancellation → Cancelled, panic or returned error →
// Failed with the message.
func (s *Scheduler) runTask(ctx context.Context, cancel context.CancelFunc, handle *taskHandle, exec Executor, t *task.Task) {
	defer s.wg.Done()
	defer cancel()
	defer close(handle.done)

	log := s.logger.With("task_id", t.ID, "task_type", t.Type)

	err := s.safeExecute(ctx, exec, t)

	switch {
	case err == nil && t.IsTerminal():
		// Executor set the terminal status itself.
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		s.forceFail(t, "timeout")
		log.Warn("Task timed out", "timeout", t.Timeout)
	case errors.Is(ctx.Err(), context.Canceled):
		if !t.IsTerminal() {
			_ = t.TransitionTo(task.StatusCancelled, "cancelled")
		}
		log.Info("Task cancelled")
	case err != nil:
		s.forceFail(t, err.Error())
		log.Error("Task failed", "error", err)
	default:
		// Executor returned without reaching a terminal state: a handoff
		// (successor enqueued). Nothing to do.
	}
}

// safeExecute converts executor panics into errors so a misbehaving executor
// never crashes the scheduler.
func (s *Scheduler) safeExecute(ctx context.Context, exec Executor, t *task.Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("executor panic: %v", r)
		}
	}()
	return exec.Execute(ctx, t)
}

// forceFail drives a task to Failed regardless of its current non-terminal
// status, recording the error in the result.
func (s *Scheduler) forceFail(t *task.Task, reason string) {
	if t.IsTerminal() {
		return
	}
	_ = t.TransitionTo(task.StatusFailed, reason)
	t.SetResult(map[string]any{"success": false, "error": reason})
}

// CancelTask cancels the in-flight worker for a task. Returns false when the
// task is not currently running under this scheduler.
func (s *Scheduler) CancelTask(taskID string) bool {
	s.mu.Lock()
	handle, ok := s.inflight[taskID]
	s.mu.Unlock()
	if !ok {
		return false
	}
	handle.cancel()
	return true
}

// Reap removes handles whose workers have exited. Called by the cleanup
// loop. Returns the number of handles reaped.
func (s *Scheduler) Reap() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	reaped := 0
	for id, handle := range s.inflight {
		select {
		case <-handle.done:
			delete(s.inflight, id)
			reaped++
		default:
		}
	}
	return reaped
}

// Wait blocks until every worker goroutine has exited. Used during shutdown
// after the loops stopped feeding the scheduler.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}
