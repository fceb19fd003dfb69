package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/homefox/homefox/pkg/config"
	"github.com/homefox/homefox/pkg/mcp"
	"github.com/homefox/homefox/pkg/queue"
	"github.com/homefox/homefox/pkg/task"
)

// confidenceGate is the minimum router confidence the executor accepts.
const confidenceGate = 0.6

// MCPExecutor runs tool-calling tasks: plan-driven by default, legacy
// goal-driven when configured. Both modes process exactly one step per
// invocation and hand the evolved state to a successor task, which keeps the
// scheduler fair and makes cancellation effective at step boundaries.
type MCPExecutor struct {
	cfg      config.ExecutorConfig
	router   *mcp.Router
	planner  *Planner
	manager  *mcp.Manager
	locals   *mcp.LocalRegistry
	home     *HomeContextProvider
	enqueuer queue.Enqueuer
	logger   *slog.Logger
}

// NewMCPExecutor wires the executor.
func NewMCPExecutor(
	cfg config.ExecutorConfig,
	router *mcp.Router,
	planner *Planner,
	manager *mcp.Manager,
	locals *mcp.LocalRegistry,
	home *HomeContextProvider,
	enqueuer queue.Enqueuer,
) *MCPExecutor {
	return &MCPExecutor{
		cfg:      cfg,
		router:   router,
		planner:  planner,
		manager:  manager,
		locals:   locals,
		home:     home,
		enqueuer: enqueuer,
		logger:   slog.With("component", "mcp_executor"),
	}
}

// Execute processes one step of the task. Failures are recorded through the
// task's status, never by returning an error; a nil return with a
// non-terminal status signals a successor handoff.
func (e *MCPExecutor) Execute(ctx context.Context, t *task.Task) error {
	goal, _ := t.ExecutionData["goal"].(string)
	if goal == "" {
		e.fail(t, "validation: execution_data.goal is required")
		return nil
	}

	// First invocation of this task chain classifies the intent once.
	if _, ok := t.Context["intent_type"]; !ok {
		intent, _ := t.ExecutionData["user_intent"].(string)
		if intent == "" {
			intent = goal
		}
		t.Context["intent_type"] = string(ClassifyIntent(intent))
		t.RecordEvent("intent_classified", map[string]any{
			"intent_type": t.Context["intent_type"],
		})
	}

	if e.cfg.Mode == config.ExecutorModeGoal {
		e.executeGoalStep(ctx, t, goal)
		return nil
	}
	e.executePlanStep(ctx, t, goal)
	return nil
}

// executePlanStep runs the canonical plan-driven step.
func (e *MCPExecutor) executePlanStep(ctx context.Context, t *task.Task, goal string) {
	if t.Plan == nil {
		t.Plan = e.planner.Generate(ctx, goal, t.Context)
		t.RecordEvent("plan_generated", map[string]any{
			"steps": len(t.Plan.Steps),
		})
	}
	plan := t.Plan

	// Walk past steps already resolved by a previous invocation (completed
	// steps, or steps skipped by a revision).
	for s := plan.CurrentStep(); s != nil && (s.Status == task.StepCompleted || s.Status == task.StepSkipped); s = plan.CurrentStep() {
		plan.Advance()
	}

	if plan.IsComplete() {
		e.finalizePlan(t, plan)
		return
	}

	step := plan.CurrentStep()
	if step == nil {
		// Index walked past the end with unfinished steps: a failed step was
		// never resolved. Treat as task failure.
		e.fail(t, "plan exhausted with unfinished steps")
		return
	}
	if step.Status == task.StepFailed {
		e.fail(t, "plan has an unresolved failed step")
		return
	}

	step.MarkInProgress()
	t.RecordEvent("step_started", map[string]any{
		"step":        plan.CurrentStepIndex + 1,
		"description": step.Description,
	})

	// Home-automation tasks get a live device snapshot before routing.
	routeGoal := step.Description
	if IsHomeAutomationTask(t) {
		devices := e.home.EnsureFresh(ctx, t, false)
		routeGoal = EnhanceGoal(step.Description, devices)
	}

	decision, err := e.router.Route(ctx, mcp.RouteContext{
		Goal:        routeGoal,
		CurrentStep: step.Description,
		History:     routeHistory(t),
		Environment: t.Context,
	})
	if err != nil {
		e.stepFailed(ctx, t, plan, step, fmt.Sprintf("router error: %v", err))
		return
	}

	if decision.Tool == "" {
		if decision.Confidence >= confidenceGate {
			// No tool was needed for this step.
			step.MarkCompleted(map[string]any{
				"success":          true,
				"no_tool_required": true,
				"reasoning":        decision.Reasoning,
			})
			plan.Advance()
			e.handoff(t, plan)
			return
		}
		e.stepFailed(ctx, t, plan, step, "router declined: "+decision.Reasoning)
		return
	}
	if decision.Confidence < confidenceGate {
		e.stepFailed(ctx, t, plan, step, fmt.Sprintf("low confidence %.2f for tool %s", decision.Confidence, decision.Tool))
		return
	}

	env := e.callTool(ctx, decision)
	t.RecordEvent("tool_call", map[string]any{
		"tool":    decision.Tool,
		"server":  decision.ServerID,
		"success": env.Success,
	})

	if !env.Success {
		e.stepFailed(ctx, t, plan, step, env.Error)
		return
	}

	// Stash query-class results for downstream steps.
	if ClassifyTool(decision.Tool) == ToolClassQuery {
		t.Context[decision.Tool+"_result"] = env.Result
	}

	formatted := mcp.TextContent(env.Result)
	stepResult := map[string]any{
		"success": true,
		"tool":    decision.Tool,
		"result":  env.Result,
	}
	if formatted != "" {
		stepResult["formatted_output"] = mcp.TruncateForResult(formatted)
	}
	step.MarkCompleted(stepResult)
	plan.Advance()

	// Interim result so observers see progress between steps.
	t.SetResult(map[string]any{
		"success":          true,
		"result":           env.Result,
		"formatted_output": formatted,
	})
	e.handoff(t, plan)
}

// callTool dispatches to a local tool or an MCP connection, then applies the
// isError lift.
func (e *MCPExecutor) callTool(ctx context.Context, decision mcp.Decision) mcp.Envelope {
	if mcp.IsLocalServer(decision.ServerID) {
		return mcp.Lift(e.locals.Call(ctx, decision.Tool, decision.Arguments))
	}
	conn, err := e.manager.Get(decision.ServerID)
	if err != nil {
		return mcp.ErrorEnvelope(err)
	}
	return mcp.Lift(conn.CallTool(ctx, decision.Tool, decision.Arguments))
}

// stepFailed applies the failure disposition: plan revision when warranted,
// then retry, then task failure.
func (e *MCPExecutor) stepFailed(ctx context.Context, t *task.Task, plan *task.Plan, step *task.PlanStep, reason string) {
	step.MarkFailed(reason)
	t.RecordEvent("step_failed", map[string]any{
		"step":   plan.CurrentStepIndex + 1,
		"reason": reason,
	})

	if ShouldRevise(plan, e.cfg.MaxPlanRevisions, reason) && e.planner.Revise(ctx, t, reason) {
		// The appended revision supersedes this step; the successor resumes
		// at the first pending step.
		step.MarkSkipped("superseded by plan revision")
		e.handoff(t, plan)
		return
	}

	if mcp.ClassifyToolError(reason) == mcp.ErrorResourceNotFound {
		// The device snapshot may be stale; retry with a forced refresh.
		t.Context["force_refresh_home_context"] = true
	}

	if t.IncrementRetry() {
		step.ResetForRetry()
		t.RecordEvent("step_retry", map[string]any{
			"retry_count": t.RetryCount,
		})
		_ = t.TransitionTo(task.StatusRetrying, "step retry")
		e.handoff(t, plan)
		return
	}

	t.SetResult(map[string]any{"success": false, "error": reason})
	e.fail(t, reason)
}

// finalizePlan extracts the last completed step's output and completes the
// task.
func (e *MCPExecutor) finalizePlan(t *task.Task, plan *task.Plan) {
	final := task.ExtractOutput(plan.LastCompletedResult())
	t.SetResult(map[string]any{
		"success":          true,
		"plan_completed":   true,
		"total_steps":      len(plan.Steps),
		"revision_count":   plan.RevisionCount,
		"step_results":     plan.StepResults(),
		"final_result":     final,
		"result":           final,
		"formatted_output": final,
	})
	_ = t.TransitionTo(task.StatusCompleted, "plan completed")
}

// handoff completes the current task and enqueues the successor carrying the
// same plan, context, execution data, and retry count.
func (e *MCPExecutor) handoff(t *task.Task, plan *task.Plan) {
	if plan.IsComplete() {
		e.finalizePlan(t, plan)
		return
	}
	succ := t.Successor()
	// Observers following the chain (conversation sub-task polling) find the
	// next link through this event.
	t.RecordEvent("handoff", map[string]any{"successor_id": succ.ID})
	_ = t.TransitionTo(task.StatusCompleted, "step done, handing off")
	if err := e.enqueuer.Enqueue(succ); err != nil {
		e.logger.Error("Failed to enqueue successor",
			"task_id", t.ID, "successor_id", succ.ID, "error", err)
	}
}

func (e *MCPExecutor) fail(t *task.Task, reason string) {
	if t.Result == nil {
		t.SetResult(map[string]any{"success": false, "error": reason})
	}
	_ = t.TransitionTo(task.StatusFailed, reason)
}

// routeHistory summarizes the task's tool calls for the router prompt.
func routeHistory(t *task.Task) []mcp.HistoryEntry {
	var history []mcp.HistoryEntry
	for _, event := range t.History {
		if event.Event != "tool_call" || event.Details == nil {
			continue
		}
		tool, _ := event.Details["tool"].(string)
		success, _ := event.Details["success"].(bool)
		history = append(history, mcp.HistoryEntry{Tool: tool, Success: success})
	}
	return history
}

// executeGoalStep runs the legacy goal-driven mode: route on the evolving
// goal, execute, evaluate completion, evolve the goal or finish.
func (e *MCPExecutor) executeGoalStep(ctx context.Context, t *task.Task, goal string) {
	routeGoal := goal
	if IsHomeAutomationTask(t) {
		devices := e.home.EnsureFresh(ctx, t, false)
		routeGoal = EnhanceGoal(goal, devices)
	}

	decision, err := e.router.Route(ctx, mcp.RouteContext{
		Goal:        routeGoal,
		History:     routeHistory(t),
		Environment: t.Context,
	})
	if err != nil {
		e.goalFailed(t, fmt.Sprintf("router error: %v", err))
		return
	}
	if decision.Tool == "" || decision.Confidence < confidenceGate {
		e.goalFailed(t, "router declined: "+decision.Reasoning)
		return
	}

	env := e.callTool(ctx, decision)
	t.RecordEvent("tool_call", map[string]any{
		"tool":    decision.Tool,
		"server":  decision.ServerID,
		"success": env.Success,
	})

	intentType := IntentType(task.GetString(t.Context, "intent_type"))

	if !env.Success {
		if mcp.ClassifyToolError(env.Error) == mcp.ErrorResourceNotFound {
			t.Context["force_refresh_home_context"] = true
		}
		if t.IncrementRetry() {
			_ = t.TransitionTo(task.StatusRetrying, "tool call retry")
			t.ExecutionData["goal"] = EvolveGoal(t, decision.Tool, env)
			e.goalHandoff(t)
			return
		}
		e.goalFailed(t, env.Error)
		return
	}

	if ClassifyTool(decision.Tool) == ToolClassQuery {
		t.Context[decision.Tool+"_result"] = env.Result
	}

	verdict := EvaluateCompletion(decision.Tool, intentType, env.Result)
	t.RecordEvent("completion_evaluated", map[string]any{
		"completed":  verdict.Completed,
		"confidence": verdict.Confidence,
		"reason":     verdict.Reason,
	})

	if verdict.Completed && verdict.Confidence >= e.cfg.CompletionThreshold {
		formatted := mcp.TextContent(env.Result)
		t.SetResult(map[string]any{
			"success":          true,
			"result":           env.Result,
			"formatted_output": formatted,
			"confidence":       verdict.Confidence,
			"reason":           verdict.Reason,
		})
		_ = t.TransitionTo(task.StatusCompleted, verdict.Reason)
		return
	}

	t.ExecutionData["goal"] = EvolveGoal(t, decision.Tool, env)
	e.goalHandoff(t)
}

func (e *MCPExecutor) goalHandoff(t *task.Task) {
	succ := t.Successor()
	t.RecordEvent("handoff", map[string]any{"successor_id": succ.ID})
	_ = t.TransitionTo(task.StatusCompleted, "step done, handing off")
	if err := e.enqueuer.Enqueue(succ); err != nil {
		e.logger.Error("Failed to enqueue successor",
			"task_id", t.ID, "successor_id", succ.ID, "error", err)
	}
}

func (e *MCPExecutor) goalFailed(t *task.Task, reason string) {
	t.SetResult(map[string]any{"success": false, "error": reason})
	_ = t.TransitionTo(task.StatusFailed, reason)
}

// EvolveGoal synthesizes the next round's goal for legacy mode: original
// intent, a compact previous-result summary, and a policy-driven directive.
func EvolveGoal(t *task.Task, lastTool string, env mcp.Envelope) string {
	intent, _ := t.ExecutionData["user_intent"].(string)
	if intent == "" {
		intent, _ = t.ExecutionData["goal"].(string)
	}

	summary := summarizeEnvelope(env)
	directive := nextDirective(lastTool, env)

	return fmt.Sprintf(
		"Current user intent: %s\nPrevious result summary: %s\nThis round's objective: %s",
		intent, summary, directive)
}

func summarizeEnvelope(env mcp.Envelope) string {
	if !env.Success {
		return "failed: " + env.Error
	}
	text := mcp.TextContent(env.Result)
	if text == "" {
		raw, err := json.Marshal(env.Result)
		if err != nil {
			return "succeeded"
		}
		text = string(raw)
	}
	if len(text) > 200 {
		cut := 200
		for cut > 0 && !utf8.RuneStart(text[cut]) {
			cut--
		}
		text = text[:cut]
	}
	return text
}

func nextDirective(lastTool string, env mcp.Envelope) string {
	if env.Success {
		class := ClassifyTool(lastTool)
		switch {
		case lastTool == liveContextTool || (class == ToolClassQuery && containsHassPrefix(lastTool)):
			return "Execute the real operation now, using the real entity_ids from the query result."
		case class == ToolClassQuery:
			return "Act on the query result to fulfil the user intent."
		default:
			return "Continue any pending operation toward the user intent."
		}
	}

	switch mcp.ClassifyToolError(env.Error) {
	case mcp.ErrorResourceNotFound:
		return "Re-query the available resources, then retry with a valid identifier."
	case mcp.ErrorInvalidParameter:
		return "Adjust the tool parameters and retry."
	case mcp.ErrorToolUnsupported:
		return "Pick an alternate tool capable of the operation."
	case mcp.ErrorPermissionDenied:
		return "Abort the operation and report that permission was denied."
	case mcp.ErrorNetworkIssue:
		return "Retry the operation after the transient network issue."
	default:
		return "Analyze the failure and adjust the approach."
	}
}

func containsHassPrefix(toolName string) bool {
	lower := strings.ToLower(toolName)
	for _, prefix := range hassToolPrefixes {
		if strings.HasPrefix(lower, prefix) {
			return true
		}
	}
	return false
}
