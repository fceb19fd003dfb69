package config

import "time"

// RuntimeConfig controls the task queue, scheduler, and loops.
type RuntimeConfig struct {
	// MaxConcurrentTasks bounds the number of tasks in flight at once.
	MaxConcurrentTasks int `yaml:"max_concurrent_tasks"`

	// LoopInterval is the main loop's dequeue-and-schedule cadence.
	LoopInterval Duration `yaml:"loop_interval"`

	// CleanupInterval is the cadence of terminal-task purging, in-flight
	// handle reaping, and statistics snapshots.
	CleanupInterval Duration `yaml:"cleanup_interval"`

	// DefaultTaskTimeout applies to submitted tasks that specify none.
	DefaultTaskTimeout Duration `yaml:"default_task_timeout"`
}

// LLMConfig configures the OpenAI-compatible chat completion API used for
// routing, planning, intent analysis, and reply synthesis.
type LLMConfig struct {
	// APIKey authenticates against the API. Usually injected from the
	// environment (LLM_API_KEY / OPENAI_API_KEY).
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the API endpoint for OpenAI-compatible providers.
	BaseURL string `yaml:"base_url"`

	// Model is the chat model used for all core prompts.
	Model string `yaml:"model"`

	// MaxRetries bounds retry attempts on transient API failures.
	MaxRetries int `yaml:"max_retries"`
}

// ConversationConfig controls the wake-word-gated conversation loop.
type ConversationConfig struct {
	// WakeWords unlock a conversation when present in recognized speech.
	WakeWords []string `yaml:"wake_words"`

	// WakeListenTimeout is the per-listen timeout while waiting for a wake
	// word. The wait itself is unbounded; this only lets the loop observe
	// the running flag.
	WakeListenTimeout Duration `yaml:"wake_listen_timeout"`

	// IdleTimeout is the per-round listen timeout inside a conversation.
	IdleTimeout Duration `yaml:"idle_timeout"`

	// MaxIdleRounds is the number of consecutive silent rounds before the
	// conversation closes with a farewell.
	MaxIdleRounds int `yaml:"max_idle_rounds"`

	// MaxRounds caps the rounds of a single conversation window.
	MaxRounds int `yaml:"max_rounds"`

	// HistoryWindow is the number of recent exchanges kept for LLM context.
	HistoryWindow int `yaml:"history_window"`

	// MessageLogCap caps the broadcastable message log.
	MessageLogCap int `yaml:"message_log_cap"`

	// Welcome is spoken when a wake word is detected.
	Welcome string `yaml:"welcome"`

	// Farewell is spoken when a conversation closes.
	Farewell string `yaml:"farewell"`

	// SubTaskWait bounds how long a conversation waits for its MCP sub-task.
	SubTaskWait Duration `yaml:"sub_task_wait"`
}

// ExecutorConfig controls the MCP executor.
type ExecutorConfig struct {
	// Mode selects plan-driven ("plan", canonical) or the legacy
	// goal-driven mode ("goal").
	Mode string `yaml:"mode"`

	// MaxPlanSteps truncates oversized generated plans.
	MaxPlanSteps int `yaml:"max_plan_steps"`

	// MaxPlanRevisions caps plan revisions; the only safeguard against
	// unbounded plan growth.
	MaxPlanRevisions int `yaml:"max_plan_revisions"`

	// HomeContextTTL is the freshness window of the cached home-automation
	// device snapshot.
	HomeContextTTL Duration `yaml:"home_context_ttl"`

	// CompletionThreshold gates task completion in legacy goal-driven mode.
	CompletionThreshold float64 `yaml:"completion_threshold"`
}

// Executor mode constants.
const (
	ExecutorModePlan = "plan"
	ExecutorModeGoal = "goal"
)

// Well-known default durations referenced across packages.
const (
	DefaultCallTimeout    = 60 * time.Second
	DefaultConnectTimeout = 10 * time.Second
	DefaultHealthTimeout  = 5 * time.Second
)
