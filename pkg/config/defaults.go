package config

import "time"

// DefaultConfig returns the built-in defaults. YAML values are merged on top.
func DefaultConfig() *Config {
	return &Config{
		LLM: LLMConfig{
			Model:      "gpt-4o-mini",
			MaxRetries: 3,
		},
		Runtime: RuntimeConfig{
			MaxConcurrentTasks: 5,
			LoopInterval:       Duration(1 * time.Second),
			CleanupInterval:    Duration(10 * time.Second),
			DefaultTaskTimeout: Duration(60 * time.Second),
		},
		Conversation: ConversationConfig{
			WakeWords:         []string{"你好小狐狸"},
			WakeListenTimeout: Duration(60 * time.Second),
			IdleTimeout:       Duration(30 * time.Second),
			MaxIdleRounds:     2,
			MaxRounds:         20,
			HistoryWindow:     10,
			MessageLogCap:     100,
			Welcome:           "我在，请讲。",
			Farewell:          "好的，下次再见。",
			SubTaskWait:       Duration(60 * time.Second),
		},
		Executor: ExecutorConfig{
			Mode:                ExecutorModePlan,
			MaxPlanSteps:        20,
			MaxPlanRevisions:    3,
			HomeContextTTL:      Duration(60 * time.Second),
			CompletionThreshold: 0.7,
		},
		MCP: MCPConfig{
			CachePath:       "./data/tool_index.json",
			CacheTTLSeconds: 3600,
		},
		Patrol: PatrolConfig{
			Enabled:  false,
			Schedule: "@every 300s",
			Action:   "patrol_sweep",
		},
		Server: ServerConfig{
			Addr: ":8080",
		},
	}
}
