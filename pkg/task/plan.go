package task

import (
	"time"

	"github.com/google/uuid"
)

// StepStatus represents the lifecycle state of a single plan step.
type StepStatus string

// Plan step status constants.
const (
	StepPending    StepStatus = "pending"
	StepInProgress StepStatus = "in_progress"
	StepCompleted  StepStatus = "completed"
	StepSkipped    StepStatus = "skipped"
	StepFailed     StepStatus = "failed"
)

// IsTerminal reports whether the step reached one of its terminal substates.
func (s StepStatus) IsTerminal() bool {
	switch s {
	case StepCompleted, StepSkipped, StepFailed:
		return true
	default:
		return false
	}
}

// PlanStep is one natural-language step of an execution plan, optionally
// annotated with the tool the planner expects the router to pick.
type PlanStep struct {
	StepID          string         `json:"step_id"`
	Description     string         `json:"description"`
	ExpectedTool    string         `json:"expected_tool,omitempty"`
	Status          StepStatus     `json:"status"`
	ExecutionResult map[string]any `json:"execution_result,omitempty"`
	SkipReason      string         `json:"skip_reason,omitempty"`
	StartedAt       *time.Time     `json:"started_at,omitempty"`
	CompletedAt     *time.Time     `json:"completed_at,omitempty"`
}

// NewPlanStep creates a pending step.
func NewPlanStep(description, expectedTool string) *PlanStep {
	return &PlanStep{
		StepID:       uuid.NewString(),
		Description:  description,
		ExpectedTool: expectedTool,
		Status:       StepPending,
	}
}

// MarkInProgress stamps the step as started.
func (s *PlanStep) MarkInProgress() {
	now := time.Now()
	s.Status = StepInProgress
	s.StartedAt = &now
}

// MarkCompleted records the step result and stamps completion.
func (s *PlanStep) MarkCompleted(result map[string]any) {
	now := time.Now()
	s.Status = StepCompleted
	s.ExecutionResult = result
	s.CompletedAt = &now
}

// MarkFailed records the failure and stamps completion.
func (s *PlanStep) MarkFailed(reason string) {
	now := time.Now()
	s.Status = StepFailed
	s.ExecutionResult = map[string]any{"success": false, "error": reason}
	s.CompletedAt = &now
}

// MarkSkipped marks the step as skipped with a reason (plan revision).
func (s *PlanStep) MarkSkipped(reason string) {
	now := time.Now()
	s.Status = StepSkipped
	s.SkipReason = reason
	s.CompletedAt = &now
}

// ResetForRetry returns a failed step to pending so a retry successor can
// re-execute it. Execution result and timestamps are cleared.
func (s *PlanStep) ResetForRetry() {
	s.Status = StepPending
	s.ExecutionResult = nil
	s.StartedAt = nil
	s.CompletedAt = nil
}

// Plan is an ordered list of steps owned by a single task (and inherited by
// its successor tasks). The executor advances CurrentStepIndex monotonically;
// revisions append steps, never remove them.
type Plan struct {
	Steps            []*PlanStep `json:"steps"`
	CurrentStepIndex int         `json:"current_step_index"`
	RevisionCount    int         `json:"revision_count"`
}

// NewPlan builds a plan from ordered steps.
func NewPlan(steps []*PlanStep) *Plan {
	return &Plan{Steps: steps}
}

// CurrentStep returns the step at CurrentStepIndex, or nil when the index
// walked past the end of the plan.
func (p *Plan) CurrentStep() *PlanStep {
	if p.CurrentStepIndex < 0 || p.CurrentStepIndex >= len(p.Steps) {
		return nil
	}
	return p.Steps[p.CurrentStepIndex]
}

// Advance moves to the next step.
func (p *Plan) Advance() {
	p.CurrentStepIndex++
}

// IsComplete reports whether the plan is finished: the index walked past the
// last step and every step terminated as completed or skipped.
func (p *Plan) IsComplete() bool {
	if p.CurrentStepIndex < len(p.Steps) {
		return false
	}
	for _, s := range p.Steps {
		if s.Status != StepCompleted && s.Status != StepSkipped {
			return false
		}
	}
	return true
}

// SkipRemaining marks every pending step from the current index onward as
// skipped. Used when a revision replaces the tail of the plan.
func (p *Plan) SkipRemaining(reason string) {
	for i := p.CurrentStepIndex; i < len(p.Steps); i++ {
		if p.Steps[i].Status == StepPending {
			p.Steps[i].MarkSkipped(reason)
		}
	}
}

// AppendSteps adds revision steps to the end of the plan and bumps the
// revision counter.
func (p *Plan) AppendSteps(steps []*PlanStep) {
	p.Steps = append(p.Steps, steps...)
	p.RevisionCount++
}

// LastCompletedResult walks the steps backward and returns the execution
// result of the most recent completed step, or nil if none completed.
func (p *Plan) LastCompletedResult() map[string]any {
	for i := len(p.Steps) - 1; i >= 0; i-- {
		if p.Steps[i].Status == StepCompleted && p.Steps[i].ExecutionResult != nil {
			return p.Steps[i].ExecutionResult
		}
	}
	return nil
}

// StepResults summarizes every step for the final task result.
func (p *Plan) StepResults() []map[string]any {
	results := make([]map[string]any, 0, len(p.Steps))
	for i, s := range p.Steps {
		entry := map[string]any{
			"step":        i + 1,
			"description": s.Description,
			"status":      string(s.Status),
		}
		if s.SkipReason != "" {
			entry["skip_reason"] = s.SkipReason
		}
		if s.ExecutionResult != nil {
			entry["result"] = s.ExecutionResult
		}
		results = append(results, entry)
	}
	return results
}
