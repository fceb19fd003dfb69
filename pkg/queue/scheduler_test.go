package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/homefox/homefox/pkg/task"
)

// fakeExecutor lets tests control executor behavior per task.
type fakeExecutor struct {
	mu      sync.Mutex
	fn      func(ctx context.Context, t *task.Task) error
	started chan string
}

func (f *fakeExecutor) Execute(ctx context.Context, t *task.Task) error {
	if f.started != nil {
		f.started <- t.ID
	}
	f.mu.Lock()
	fn := f.fn
	f.mu.Unlock()
	if fn == nil {
		return t.TransitionTo(task.StatusCompleted, "done")
	}
	return fn(ctx, t)
}

func waitTerminal(t *testing.T, tk *task.Task) {
	t.Helper()
	require.Eventually(t, tk.IsTerminal, 2*time.Second, 5*time.Millisecond)
}

func TestScheduler_ExecutesToCompletion(t *testing.T) {
	s := NewScheduler(2)
	s.RegisterExecutor(task.TypeMCPCall, &fakeExecutor{})

	tk := newTestTask(task.TypeMCPCall, 5)
	require.True(t, s.Schedule(context.Background(), tk))

	waitTerminal(t, tk)
	assert.Equal(t, task.StatusCompleted, tk.CurrentStatus())
	s.Wait()
}

func TestScheduler_RejectsWithoutExecutor(t *testing.T) {
	s := NewScheduler(2)
	tk := newTestTask(task.TypeConversation, 5)
	assert.False(t, s.Schedule(context.Background(), tk))
	assert.Equal(t, task.StatusPending, tk.CurrentStatus())
}

func TestScheduler_ConcurrencyLimit(t *testing.T) {
	release := make(chan struct{})
	exec := &fakeExecutor{
		started: make(chan string, 2),
		fn: func(ctx context.Context, tk *task.Task) error {
			<-release
			return tk.TransitionTo(task.StatusCompleted, "done")
		},
	}
	s := NewScheduler(1)
	s.RegisterExecutor(task.TypeMCPCall, exec)

	first := newTestTask(task.TypeMCPCall, 5)
	require.True(t, s.Schedule(context.Background(), first))
	<-exec.started

	assert.False(t, s.CanSchedule())
	second := newTestTask(task.TypeMCPCall, 5)
	assert.False(t, s.Schedule(context.Background(), second))
	assert.Equal(t, task.StatusPending, second.CurrentStatus())

	close(release)
	waitTerminal(t, first)
	s.Wait()
	s.Reap()
	assert.True(t, s.CanSchedule())
}

func TestScheduler_TimeoutMarksFailed(t *testing.T) {
	exec := &fakeExecutor{
		fn: func(ctx context.Context, tk *task.Task) error {
			<-ctx.Done()
			return ctx.Err()
		},
	}
	s := NewScheduler(1)
	s.RegisterExecutor(task.TypeMCPCall, exec)

	tk := newTestTask(task.TypeMCPCall, 5)
	tk.Timeout = 20 * time.Millisecond
	require.True(t, s.Schedule(context.Background(), tk))

	waitTerminal(t, tk)
	assert.Equal(t, task.StatusFailed, tk.CurrentStatus())
	snap := tk.Snapshot()
	assert.Equal(t, "timeout", snap.Result["error"])
	assert.Equal(t, false, snap.Result["success"])
	s.Wait()
}

func TestScheduler_CancelTask(t *testing.T) {
	exec := &fakeExecutor{
		started: make(chan string, 1),
		fn: func(ctx context.Context, tk *task.Task) error {
			<-ctx.Done()
			return ctx.Err()
		},
	}
	s := NewScheduler(1)
	s.RegisterExecutor(task.TypeMCPCall, exec)

	tk := newTestTask(task.TypeMCPCall, 5)
	require.True(t, s.Schedule(context.Background(), tk))
	<-exec.started

	assert.True(t, s.CancelTask(tk.ID))
	waitTerminal(t, tk)
	assert.Equal(t, task.StatusCancelled, tk.CurrentStatus())

	assert.False(t, s.CancelTask("no-such-task"))
	s.Wait()
}

func TestScheduler_PanicMarksFailed(t *testing.T) {
	exec := &fakeExecutor{
		fn: func(ctx context.Context, tk *task.Task) error {
			panic("boom")
		},
	}
	s := NewScheduler(1)
	s.RegisterExecutor(task.TypeMCPCall, exec)

	tk := newTestTask(task.TypeMCPCall, 5)
	require.True(t, s.Schedule(context.Background(), tk))

	waitTerminal(t, tk)
	assert.Equal(t, task.StatusFailed, tk.CurrentStatus())
	snap := tk.Snapshot()
	assert.Contains(t, snap.Result["error"], "executor panic")
	s.Wait()
}

func TestScheduler_ExecutorErrorMarksFailed(t *testing.T) {
	exec := &fakeExecutor{
		fn: func(ctx context.Context, tk *task.Task) error {
			return errors.New("tool exploded")
		},
	}
	s := NewScheduler(1)
	s.RegisterExecutor(task.TypeMCPCall, exec)

	tk := newTestTask(task.TypeMCPCall, 5)
	require.True(t, s.Schedule(context.Background(), tk))

	waitTerminal(t, tk)
	assert.Equal(t, task.StatusFailed, tk.CurrentStatus())
	s.Wait()
}

func TestScheduler_HandoffLeavesTaskNonTerminal(t *testing.T) {
	// An executor that returns without setting a terminal status performed a
	// handoff (successor enqueued); the scheduler must not touch the task.
	exec := &fakeExecutor{
		fn: func(ctx context.Context, tk *task.Task) error {
			return nil
		},
	}
	s := NewScheduler(1)
	s.RegisterExecutor(task.TypeMCPCall, exec)

	tk := newTestTask(task.TypeMCPCall, 5)
	require.True(t, s.Schedule(context.Background(), tk))
	s.Wait()
	assert.Equal(t, task.StatusRunning, tk.CurrentStatus())
}

func TestScheduler_Reap(t *testing.T) {
	s := NewScheduler(2)
	s.RegisterExecutor(task.TypeMCPCall, &fakeExecutor{})

	tk := newTestTask(task.TypeMCPCall, 5)
	require.True(t, s.Schedule(context.Background(), tk))
	waitTerminal(t, tk)
	s.Wait()

	assert.Equal(t, 1, s.InflightCount())
	assert.Equal(t, 1, s.Reap())
	assert.Equal(t, 0, s.InflightCount())
}
