package task

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDefaults(t *testing.T) {
	tk := New(TypeMCPCall)

	assert.NotEmpty(t, tk.ID)
	assert.Equal(t, TypeMCPCall, tk.Type)
	assert.Equal(t, StatusPending, tk.Status)
	assert.Equal(t, DefaultPriority, tk.Priority)
	assert.Equal(t, DefaultTimeout, tk.Timeout)
	assert.Equal(t, DefaultMaxRetries, tk.MaxRetries)
	assert.NotNil(t, tk.Context)
	assert.NotNil(t, tk.ExecutionData)
}

func TestClampPriority(t *testing.T) {
	assert.Equal(t, MinPriority, ClampPriority(0))
	assert.Equal(t, MinPriority, ClampPriority(-5))
	assert.Equal(t, 7, ClampPriority(7))
	assert.Equal(t, MaxPriority, ClampPriority(99))
}

func TestTransitionGraph(t *testing.T) {
	tests := []struct {
		name    string
		path    []TaskStatus
		wantErr error
	}{
		{name: "normal completion", path: []TaskStatus{StatusRunning, StatusCompleted}},
		{name: "failure", path: []TaskStatus{StatusRunning, StatusFailed}},
		{name: "cancel while pending", path: []TaskStatus{StatusCancelled}},
		{name: "retry cycle", path: []TaskStatus{StatusRunning, StatusRetrying, StatusRunning, StatusCompleted}},
		{name: "pending cannot complete directly", path: []TaskStatus{StatusCompleted}, wantErr: ErrInvalidTransition},
		{name: "terminal admits nothing", path: []TaskStatus{StatusRunning, StatusCompleted, StatusRunning}, wantErr: ErrTerminalStatus},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tk := New(TypePatrol)
			var err error
			for _, status := range tt.path {
				err = tk.TransitionTo(status, "test")
				if err != nil {
					break
				}
			}
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestTransitionsRecordHistory(t *testing.T) {
	tk := New(TypeMCPCall)
	require.NoError(t, tk.TransitionTo(StatusRunning, "scheduled"))
	tk.RecordEvent("tool_call", map[string]any{"tool": "GetWeather"})

	require.Len(t, tk.History, 2)
	assert.Equal(t, "status_change", tk.History[0].Event)
	assert.Equal(t, StatusPending, tk.History[0].From)
	assert.Equal(t, StatusRunning, tk.History[0].To)
	assert.Equal(t, "scheduled", tk.History[0].Reason)
	assert.Equal(t, "tool_call", tk.History[1].Event)
	assert.Equal(t, "GetWeather", tk.History[1].Details["tool"])
}

func TestCancellable(t *testing.T) {
	tk := New(TypeMCPCall)
	assert.True(t, tk.Cancellable())

	require.NoError(t, tk.TransitionTo(StatusRunning, ""))
	assert.True(t, tk.Cancellable())

	require.NoError(t, tk.TransitionTo(StatusCompleted, ""))
	assert.False(t, tk.Cancellable())
}

func TestIncrementRetry(t *testing.T) {
	tk := New(TypeMCPCall)
	tk.MaxRetries = 2

	assert.True(t, tk.IncrementRetry())
	assert.True(t, tk.IncrementRetry())
	assert.False(t, tk.IncrementRetry(), "budget exhausted")
	assert.Equal(t, 2, tk.RetryCount)
}

func TestSnapshotIsolation(t *testing.T) {
	tk := New(TypeMCPCall)
	tk.Context["key"] = "original"

	snap := tk.Snapshot()
	snap.Context["key"] = "mutated"
	snap.History = append(snap.History, HistoryEvent{Event: "extra"})

	assert.Equal(t, "original", tk.Context["key"])
	assert.Empty(t, tk.History)
}

func TestSuccessorInheritsState(t *testing.T) {
	tk := New(TypeMCPCall)
	tk.Priority = 8
	tk.RetryCount = 1
	tk.Context["stash"] = "value"
	tk.ExecutionData["goal"] = "goal"
	tk.Plan = NewPlan([]*PlanStep{NewPlanStep("step", "")})

	succ := tk.Successor()

	assert.NotEqual(t, tk.ID, succ.ID)
	assert.Equal(t, StatusPending, succ.Status)
	assert.Equal(t, 8, succ.Priority)
	assert.Equal(t, 1, succ.RetryCount)
	assert.Equal(t, "value", succ.Context["stash"])
	assert.Equal(t, "goal", succ.ExecutionData["goal"])
	assert.Same(t, tk.Plan, succ.Plan, "the plan is shared across the chain")

	require.Len(t, succ.History, 1)
	assert.Equal(t, "successor_of", succ.History[0].Event)
	assert.Equal(t, tk.ID, succ.History[0].Details["task_id"])

	// Successor context is a copy, not an alias.
	succ.Context["stash"] = "changed"
	assert.Equal(t, "value", tk.Context["stash"])
}
