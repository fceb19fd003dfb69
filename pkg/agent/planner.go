package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/homefox/homefox/pkg/llm"
	"github.com/homefox/homefox/pkg/mcp"
	"github.com/homefox/homefox/pkg/task"
)

// Planner generates and revises execution plans via the LLM, degrading to a
// single-step plan when the model misbehaves.
type Planner struct {
	llm          llm.Client
	index        *mcp.ToolIndex
	maxPlanSteps int
	logger       *slog.Logger
}

// NewPlanner creates a planner. maxPlanSteps defaults to 20.
func NewPlanner(client llm.Client, index *mcp.ToolIndex, maxPlanSteps int) *Planner {
	if maxPlanSteps <= 0 {
		maxPlanSteps = 20
	}
	return &Planner{
		llm:          client,
		index:        index,
		maxPlanSteps: maxPlanSteps,
		logger:       slog.With("component", "planner"),
	}
}

// planResponse is the JSON shape the model returns.
type planResponse struct {
	Steps []struct {
		Description  string `json:"description"`
		ExpectedTool string `json:"expected_tool"`
	} `json:"steps"`
}

const planSystemPrompt = `You are a task planner for a smart-home assistant.
Break the goal into the minimal ordered steps, each executable by a single tool call.
Reply with JSON only: {"steps": [{"description": "...", "expected_tool": "..."}]}.
expected_tool is optional; omit it when unsure. Prefer one-step plans for simple goals.`

// Generate builds a plan for the goal. Guards: zero steps → one-step plan
// with the goal; more than maxPlanSteps → truncated; LLM failure → one-step
// fallback.
func (p *Planner) Generate(ctx context.Context, goal string, environment map[string]any) *task.Plan {
	resp, err := p.llm.Chat(ctx, llm.Request{
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: planSystemPrompt},
			{Role: llm.RoleUser, Content: p.buildPlanPrompt(goal, environment)},
		},
		Temperature: 0.3,
	})
	if err != nil {
		p.logger.Warn("Plan generation failed, falling back to single step", "error", err)
		return singleStepPlan(goal)
	}

	var parsed planResponse
	if err := llm.ParseJSON(resp.Content, &parsed); err != nil {
		p.logger.Warn("Unparseable plan, falling back to single step", "error", err)
		return singleStepPlan(goal)
	}

	steps := make([]*task.PlanStep, 0, len(parsed.Steps))
	for _, s := range parsed.Steps {
		desc := strings.TrimSpace(s.Description)
		if desc == "" {
			continue
		}
		steps = append(steps, task.NewPlanStep(desc, strings.TrimSpace(s.ExpectedTool)))
	}
	if len(steps) == 0 {
		return singleStepPlan(goal)
	}
	if len(steps) > p.maxPlanSteps {
		p.logger.Warn("Plan truncated", "steps", len(steps), "max", p.maxPlanSteps)
		steps = steps[:p.maxPlanSteps]
	}
	return task.NewPlan(steps)
}

func (p *Planner) buildPlanPrompt(goal string, environment map[string]any) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Goal: %s\n", goal)

	entries := p.index.All()
	if len(entries) > 0 {
		b.WriteString("\nAvailable tools:\n")
		limit := len(entries)
		if limit > 20 {
			limit = 20
		}
		for _, e := range entries[:limit] {
			fmt.Fprintf(&b, "- %s: %s\n", e.ToolName, e.Description)
		}
	}

	if len(environment) > 0 {
		b.WriteString("\nEnvironment:\n")
		for key, v := range environment {
			fmt.Fprintf(&b, "- %s: %s\n", key, mcp.TruncateForPrompt(fmt.Sprintf("%v", v)))
		}
	}
	return b.String()
}

func singleStepPlan(goal string) *task.Plan {
	return task.NewPlan([]*task.PlanStep{task.NewPlanStep(goal, "")})
}

// ShouldRevise applies the rule-based verification policy: revise only when
// the budget allows and the step failed with a resource-not-found error.
func ShouldRevise(plan *task.Plan, maxRevisions int, failureMessage string) bool {
	if plan.RevisionCount >= maxRevisions {
		return false
	}
	return mcp.ClassifyToolError(failureMessage) == mcp.ErrorResourceNotFound
}

// reviseResponse is the JSON list shape returned for plan revisions.
type reviseResponse struct {
	Steps []struct {
		Description  string `json:"description"`
		ExpectedTool string `json:"expected_tool"`
	} `json:"steps"`
}

const reviseSystemPrompt = `You are revising a partially failed smart-home task plan.
Given the original intent, what already completed, and why the last step failed, produce 1 to 5 replacement steps.
Reply with JSON only: {"steps": [{"description": "...", "expected_tool": "..."}]}.`

// Revise skips the remaining steps, asks the model for 1-5 replacements, and
// appends them (bumping revision_count). Returns false when the model yields
// nothing usable.
func (p *Planner) Revise(ctx context.Context, t *task.Task, reason string) bool {
	plan := t.Plan
	if plan == nil {
		return false
	}

	var completed []string
	for _, step := range plan.Steps {
		if step.Status == task.StepCompleted {
			completed = append(completed, step.Description)
		}
	}
	intent, _ := t.ExecutionData["user_intent"].(string)
	if intent == "" {
		intent, _ = t.ExecutionData["goal"].(string)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Original intent: %s\n", intent)
	if len(completed) > 0 {
		b.WriteString("Completed steps:\n")
		for _, desc := range completed {
			fmt.Fprintf(&b, "- %s\n", desc)
		}
	}
	fmt.Fprintf(&b, "Failure: %s\n", reason)

	resp, err := p.llm.Chat(ctx, llm.Request{
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: reviseSystemPrompt},
			{Role: llm.RoleUser, Content: b.String()},
		},
		Temperature: 0.3,
	})
	if err != nil {
		p.logger.Warn("Plan revision failed", "error", err)
		return false
	}

	var parsed reviseResponse
	if err := llm.ParseJSON(resp.Content, &parsed); err != nil {
		p.logger.Warn("Unparseable revision", "error", err)
		return false
	}

	var replacement []*task.PlanStep
	for _, s := range parsed.Steps {
		desc := strings.TrimSpace(s.Description)
		if desc == "" {
			continue
		}
		replacement = append(replacement, task.NewPlanStep(desc, strings.TrimSpace(s.ExpectedTool)))
		if len(replacement) == 5 {
			break
		}
	}
	if len(replacement) == 0 {
		return false
	}

	plan.SkipRemaining("Plan revised: " + reason)
	plan.AppendSteps(replacement)
	t.RecordEvent("plan_revised", map[string]any{
		"reason":         reason,
		"new_steps":      len(replacement),
		"revision_count": plan.RevisionCount,
	})
	return true
}
