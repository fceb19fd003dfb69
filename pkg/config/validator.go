package config

import (
	"errors"
	"fmt"
	"net/url"
)

// validate checks the assembled configuration. All errors found are reported
// together so the operator fixes them in one pass.
func validate(cfg *Config) error {
	var errs []error

	if cfg.Runtime.MaxConcurrentTasks <= 0 {
		errs = append(errs, NewValidationError("runtime", "runtime", "max_concurrent_tasks", ErrInvalidValue))
	}
	if cfg.Runtime.LoopInterval <= 0 {
		errs = append(errs, NewValidationError("runtime", "runtime", "loop_interval", ErrInvalidValue))
	}

	if cfg.Executor.Mode != ExecutorModePlan && cfg.Executor.Mode != ExecutorModeGoal {
		errs = append(errs, NewValidationError("executor", "executor", "mode", ErrInvalidValue))
	}
	if cfg.Executor.MaxPlanSteps <= 0 {
		errs = append(errs, NewValidationError("executor", "executor", "max_plan_steps", ErrInvalidValue))
	}
	if cfg.Executor.CompletionThreshold < 0 || cfg.Executor.CompletionThreshold > 1 {
		errs = append(errs, NewValidationError("executor", "executor", "completion_threshold", ErrInvalidValue))
	}

	if len(cfg.Conversation.WakeWords) == 0 {
		errs = append(errs, NewValidationError("conversation", "conversation", "wake_words", ErrMissingRequiredField))
	}

	seen := make(map[string]bool, len(cfg.MCP.Servers))
	for _, s := range cfg.MCP.Servers {
		if s.ID == "" {
			errs = append(errs, NewValidationError("mcp_server", s.URL, "id", ErrMissingRequiredField))
			continue
		}
		if seen[s.ID] {
			errs = append(errs, NewValidationError("mcp_server", s.ID, "id", fmt.Errorf("%w: duplicate", ErrInvalidValue)))
		}
		seen[s.ID] = true

		u, err := url.Parse(s.URL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
			errs = append(errs, NewValidationError("mcp_server", s.ID, "url", ErrInvalidValue))
		}
	}

	return errors.Join(errs...)
}
