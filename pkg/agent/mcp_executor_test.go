package agent

import (
	"context"
	"errors"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/homefox/homefox/pkg/config"
	"github.com/homefox/homefox/pkg/llm"
	"github.com/homefox/homefox/pkg/mcp"
	"github.com/homefox/homefox/pkg/task"
)

// executorFixture wires an MCPExecutor against local tools and a scripted LLM.
type executorFixture struct {
	exec   *MCPExecutor
	store  *fakeStore
	locals *mcp.LocalRegistry
	llm    *fakeLLM
}

func newExecutorFixture(t *testing.T, cfg config.ExecutorConfig, tools []*stubTool, fn func(llm.Request) (*llm.Response, error)) *executorFixture {
	t.Helper()

	locals := mcp.NewLocalRegistry()
	for _, tool := range tools {
		locals.Register(tool)
	}
	index := mcp.NewToolIndex(locals)
	client := &fakeLLM{fn: fn}
	store := newFakeStore()

	exec := NewMCPExecutor(
		cfg,
		mcp.NewRouter(client, index),
		NewPlanner(client, index, cfg.MaxPlanSteps),
		nil,
		locals,
		NewHomeContextProvider(nil, 0),
		store,
	)
	return &executorFixture{exec: exec, store: store, locals: locals, llm: client}
}

// toolCallResponse scripts the router to pick a tool.
func toolCallResponse(name, args string) func(llm.Request) (*llm.Response, error) {
	return func(req llm.Request) (*llm.Response, error) {
		if len(req.Tools) > 0 {
			return &llm.Response{ToolCalls: []llm.ToolCall{{ID: "1", Name: name, Arguments: args}}}, nil
		}
		return &llm.Response{Content: "ok"}, nil
	}
}

func planCfg() config.ExecutorConfig {
	return config.ExecutorConfig{
		Mode:                config.ExecutorModePlan,
		MaxPlanSteps:        20,
		MaxPlanRevisions:    3,
		CompletionThreshold: 0.7,
	}
}

func newMCPTask(goal string) *task.Task {
	t := task.New(task.TypeMCPCall)
	t.ExecutionData["goal"] = goal
	t.ExecutionData["user_intent"] = goal
	return t
}

func startRunning(t *testing.T, tk *task.Task) {
	t.Helper()
	require.NoError(t, tk.TransitionTo(task.StatusRunning, "test"))
}

func TestMCPExecutorRequiresGoal(t *testing.T) {
	fx := newExecutorFixture(t, planCfg(), nil, func(llm.Request) (*llm.Response, error) {
		return &llm.Response{}, nil
	})

	tk := task.New(task.TypeMCPCall)
	startRunning(t, tk)

	require.NoError(t, fx.exec.Execute(context.Background(), tk))
	assert.Equal(t, task.StatusFailed, tk.CurrentStatus())
	assert.Contains(t, task.GetString(tk.Result, "error"), "goal is required")
	assert.Equal(t, 0, fx.store.count())
}

func TestMCPExecutorClassifiesIntentOnce(t *testing.T) {
	tool := &stubTool{name: "GetWeather", desc: "weather", fn: func(context.Context, map[string]any) (map[string]any, error) {
		return map[string]any{"temp": 25}, nil
	}}
	fx := newExecutorFixture(t, planCfg(), []*stubTool{tool}, toolCallResponse("GetWeather", `{}`))

	tk := newMCPTask("查一下今天的天气")
	tk.Plan = task.NewPlan([]*task.PlanStep{task.NewPlanStep("查询天气", "GetWeather")})
	startRunning(t, tk)

	require.NoError(t, fx.exec.Execute(context.Background(), tk))
	assert.Equal(t, string(IntentQueryOnly), tk.Context["intent_type"])
}

func TestMCPExecutorPlanStepSuccessHandsOff(t *testing.T) {
	tool := &stubTool{name: "TurnOnLight", desc: "turn a light on", fn: func(_ context.Context, args map[string]any) (map[string]any, error) {
		return map[string]any{"state": "on", "entity_id": args["entity_id"]}, nil
	}}
	fx := newExecutorFixture(t, planCfg(), []*stubTool{tool},
		toolCallResponse("TurnOnLight", `{"entity_id": "light.living_room"}`))

	tk := newMCPTask("打开客厅的灯")
	tk.Plan = task.NewPlan([]*task.PlanStep{
		task.NewPlanStep("打开客厅的灯", "TurnOnLight"),
		task.NewPlanStep("确认灯的状态", ""),
	})
	startRunning(t, tk)

	require.NoError(t, fx.exec.Execute(context.Background(), tk))

	assert.Equal(t, task.StatusCompleted, tk.CurrentStatus())
	assert.Equal(t, task.StepCompleted, tk.Plan.Steps[0].Status)
	assert.Equal(t, 1, tk.Plan.CurrentStepIndex)

	succ := fx.store.last()
	require.NotNil(t, succ)
	assert.Equal(t, task.StatusPending, succ.CurrentStatus())
	assert.Same(t, tk.Plan, succ.Plan)
}

func TestMCPExecutorFinalizesCompletedPlan(t *testing.T) {
	tool := &stubTool{name: "GetWeather", desc: "weather", fn: func(context.Context, map[string]any) (map[string]any, error) {
		return map[string]any{"temp": 25}, nil
	}}
	fx := newExecutorFixture(t, planCfg(), []*stubTool{tool}, toolCallResponse("GetWeather", `{}`))

	tk := newMCPTask("查一下天气")
	tk.Plan = task.NewPlan([]*task.PlanStep{
		task.NewPlanStep("查询天气", "GetWeather"),
		task.NewPlanStep("再次确认", "GetWeather"),
	})
	startRunning(t, tk)

	require.NoError(t, fx.exec.Execute(context.Background(), tk))
	succ := fx.store.last()
	require.NotNil(t, succ)

	startRunning(t, succ)
	require.NoError(t, fx.exec.Execute(context.Background(), succ))

	assert.Equal(t, task.StatusCompleted, succ.CurrentStatus())
	assert.Equal(t, true, task.GetBool(succ.Result, "plan_completed"))
	assert.Equal(t, 2, succ.Result["total_steps"])

	final, ok := task.AsMap(task.Unwrap(succ.Result["final_result"]))
	require.True(t, ok)
	assert.Equal(t, 25, final["temp"])
}

func TestMCPExecutorLowConfidenceRetries(t *testing.T) {
	tool := &stubTool{name: "GetWeather", desc: "weather", fn: func(context.Context, map[string]any) (map[string]any, error) {
		return nil, nil
	}}
	// Text reply instead of a tool call: confidence 0.3 is below the gate.
	fx := newExecutorFixture(t, planCfg(), []*stubTool{tool}, func(req llm.Request) (*llm.Response, error) {
		return &llm.Response{Content: "I am not sure"}, nil
	})

	tk := newMCPTask("查一下天气")
	tk.Plan = task.NewPlan([]*task.PlanStep{task.NewPlanStep("查询天气", "GetWeather")})
	startRunning(t, tk)

	require.NoError(t, fx.exec.Execute(context.Background(), tk))

	assert.Equal(t, task.StatusCompleted, tk.CurrentStatus())
	assert.Equal(t, task.StepPending, tk.Plan.Steps[0].Status, "failed step is reset for the retry successor")

	var retried bool
	for _, ev := range tk.Snapshot().History {
		if ev.Event == "status_change" && ev.To == task.StatusRetrying {
			retried = true
		}
	}
	assert.True(t, retried, "retry path passes through the retrying status")

	succ := fx.store.last()
	require.NotNil(t, succ)
	assert.Equal(t, 1, succ.RetryCount)
}

func TestMCPExecutorResourceNotFoundForcesContextRefresh(t *testing.T) {
	tool := &stubTool{name: "TurnOnLight", desc: "light", fn: func(context.Context, map[string]any) (map[string]any, error) {
		return nil, errors.New("entity not found: light.bogus")
	}}
	cfg := planCfg()
	cfg.MaxPlanRevisions = 0 // force the retry path
	fx := newExecutorFixture(t, cfg, []*stubTool{tool},
		toolCallResponse("TurnOnLight", `{"entity_id": "light.bogus"}`))

	tk := newMCPTask("打开那个灯")
	tk.Plan = task.NewPlan([]*task.PlanStep{task.NewPlanStep("打开灯", "TurnOnLight")})
	startRunning(t, tk)

	require.NoError(t, fx.exec.Execute(context.Background(), tk))

	succ := fx.store.last()
	require.NotNil(t, succ)
	assert.Equal(t, true, succ.Context["force_refresh_home_context"])
	assert.Equal(t, 1, succ.RetryCount)
}

func TestMCPExecutorRevisesPlanOnResourceNotFound(t *testing.T) {
	tool := &stubTool{name: "TurnOnLight", desc: "light", fn: func(context.Context, map[string]any) (map[string]any, error) {
		return nil, errors.New("设备未找到")
	}}
	fx := newExecutorFixture(t, planCfg(), []*stubTool{tool}, func(req llm.Request) (*llm.Response, error) {
		if len(req.Tools) > 0 {
			return &llm.Response{ToolCalls: []llm.ToolCall{{ID: "1", Name: "TurnOnLight", Arguments: `{}`}}}, nil
		}
		// Revision prompt.
		return &llm.Response{Content: `{"steps": [{"description": "查询可用设备", "expected_tool": ""}, {"description": "用真实 entity_id 重新打开灯", "expected_tool": "TurnOnLight"}]}`}, nil
	})

	tk := newMCPTask("打开卧室的灯")
	tk.Plan = task.NewPlan([]*task.PlanStep{
		task.NewPlanStep("打开卧室的灯", "TurnOnLight"),
		task.NewPlanStep("确认状态", ""),
	})
	startRunning(t, tk)

	require.NoError(t, fx.exec.Execute(context.Background(), tk))

	plan := tk.Plan
	assert.Equal(t, 1, plan.RevisionCount)
	assert.Len(t, plan.Steps, 4)
	assert.Equal(t, task.StepSkipped, plan.Steps[0].Status, "failed step superseded by revision")
	assert.Equal(t, task.StepSkipped, plan.Steps[1].Status, "pending tail skipped by revision")
	assert.Equal(t, task.StepPending, plan.Steps[2].Status)
	require.NotNil(t, fx.store.last())
}

func TestMCPExecutorFailsWhenRetriesExhausted(t *testing.T) {
	tool := &stubTool{name: "SendCommand", desc: "command", fn: func(context.Context, map[string]any) (map[string]any, error) {
		return nil, errors.New("permission denied")
	}}
	cfg := planCfg()
	fx := newExecutorFixture(t, cfg, []*stubTool{tool}, toolCallResponse("SendCommand", `{}`))

	tk := newMCPTask("发送一个指令")
	tk.MaxRetries = 0
	tk.Plan = task.NewPlan([]*task.PlanStep{task.NewPlanStep("发送指令", "SendCommand")})
	startRunning(t, tk)

	require.NoError(t, fx.exec.Execute(context.Background(), tk))

	assert.Equal(t, task.StatusFailed, tk.CurrentStatus())
	assert.Equal(t, false, task.GetBool(tk.Result, "success"))
	assert.Equal(t, 0, fx.store.count())
}

func TestMCPExecutorStashesQueryResults(t *testing.T) {
	tool := &stubTool{name: "GetSensorData", desc: "sensors", fn: func(context.Context, map[string]any) (map[string]any, error) {
		return map[string]any{"humidity": 40}, nil
	}}
	fx := newExecutorFixture(t, planCfg(), []*stubTool{tool}, toolCallResponse("GetSensorData", `{}`))

	tk := newMCPTask("查一下湿度")
	tk.Plan = task.NewPlan([]*task.PlanStep{
		task.NewPlanStep("读取传感器", "GetSensorData"),
		task.NewPlanStep("汇总", ""),
	})
	startRunning(t, tk)

	require.NoError(t, fx.exec.Execute(context.Background(), tk))

	stashed, ok := task.AsMap(tk.Context["GetSensorData_result"])
	require.True(t, ok)
	assert.Equal(t, 40, stashed["humidity"])

	succ := fx.store.last()
	require.NotNil(t, succ)
	_, ok = task.AsMap(succ.Context["GetSensorData_result"])
	assert.True(t, ok, "stashed result is inherited by the successor")
}

func TestSummarizeEnvelopeTruncatesOnRuneBoundary(t *testing.T) {
	long := strings.Repeat("天气晴朗", 40)
	env := mcp.Envelope{Success: true, Result: map[string]any{
		"content": []any{map[string]any{"type": "text", "text": long}},
	}}

	got := summarizeEnvelope(env)
	assert.LessOrEqual(t, len(got), 200)
	assert.True(t, utf8.ValidString(got), "truncation must not split a rune")
	assert.True(t, strings.HasPrefix(long, got))
}

func TestMCPExecutorGeneratesPlanWhenMissing(t *testing.T) {
	tool := &stubTool{name: "GetWeather", desc: "weather", fn: func(context.Context, map[string]any) (map[string]any, error) {
		return map[string]any{"temp": 20}, nil
	}}
	fx := newExecutorFixture(t, planCfg(), []*stubTool{tool}, func(req llm.Request) (*llm.Response, error) {
		if len(req.Tools) > 0 {
			return &llm.Response{ToolCalls: []llm.ToolCall{{ID: "1", Name: "GetWeather", Arguments: `{}`}}}, nil
		}
		// Planner prompt.
		return &llm.Response{Content: `{"steps": [{"description": "查询天气", "expected_tool": "GetWeather"}]}`}, nil
	})

	tk := newMCPTask("查一下天气")
	startRunning(t, tk)

	require.NoError(t, fx.exec.Execute(context.Background(), tk))

	require.NotNil(t, tk.Plan)
	assert.Len(t, tk.Plan.Steps, 1)

	var sawPlanEvent bool
	for _, event := range tk.History {
		if event.Event == "plan_generated" {
			sawPlanEvent = true
		}
	}
	assert.True(t, sawPlanEvent)
}

func TestMCPExecutorGoalModeCompletesQuery(t *testing.T) {
	tool := &stubTool{name: "GetWeather", desc: "weather", fn: func(context.Context, map[string]any) (map[string]any, error) {
		return map[string]any{"temp": 18}, nil
	}}
	cfg := planCfg()
	cfg.Mode = config.ExecutorModeGoal
	fx := newExecutorFixture(t, cfg, []*stubTool{tool}, toolCallResponse("GetWeather", `{}`))

	tk := newMCPTask("查一下今天的天气")
	startRunning(t, tk)

	require.NoError(t, fx.exec.Execute(context.Background(), tk))

	assert.Equal(t, task.StatusCompleted, tk.CurrentStatus())
	assert.Equal(t, true, task.GetBool(tk.Result, "success"))
	assert.Equal(t, "query_answered", task.GetString(tk.Result, "reason"))
	assert.Equal(t, 0, fx.store.count())
}

func TestMCPExecutorGoalModeEvolvesGoalAfterPreparatoryQuery(t *testing.T) {
	tool := &stubTool{name: "GetSensorData", desc: "sensors", fn: func(context.Context, map[string]any) (map[string]any, error) {
		return map[string]any{"temp": 30}, nil
	}}
	cfg := planCfg()
	cfg.Mode = config.ExecutorModeGoal
	fx := newExecutorFixture(t, cfg, []*stubTool{tool}, toolCallResponse("GetSensorData", `{}`))

	// Action intent: the query is only preparation, so the task hands off.
	tk := newMCPTask("打开空调")
	startRunning(t, tk)

	require.NoError(t, fx.exec.Execute(context.Background(), tk))

	assert.Equal(t, task.StatusCompleted, tk.CurrentStatus())
	succ := fx.store.last()
	require.NotNil(t, succ)

	goal, _ := succ.ExecutionData["goal"].(string)
	assert.Contains(t, goal, "打开空调")
	assert.Contains(t, goal, "objective")
}

func TestEvolveGoalDirectives(t *testing.T) {
	tests := []struct {
		name string
		env  mcp.Envelope
		want string
	}{
		{
			name: "resource not found",
			env:  mcp.Envelope{Error: "entity not found"},
			want: "Re-query",
		},
		{
			name: "invalid parameter",
			env:  mcp.Envelope{Error: "invalid parameter value"},
			want: "Adjust the tool parameters",
		},
		{
			name: "permission denied",
			env:  mcp.Envelope{Error: "permission denied"},
			want: "Abort",
		},
		{
			name: "network issue",
			env:  mcp.Envelope{Error: "connection refused"},
			want: "Retry the operation",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tk := newMCPTask("测试")
			got := EvolveGoal(tk, "SetState", tt.env)
			assert.Contains(t, got, tt.want)
		})
	}
}
