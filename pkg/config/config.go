// Package config loads and validates the homefox configuration: LLM access,
// MCP server registry, task runtime limits, conversation behavior, and the
// HTTP surface. Configuration lives in a single YAML file with {{.ENV_VAR}}
// template expansion; defaults are merged for everything omitted.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

// Config is the root configuration object handed to the agent wiring.
type Config struct {
	LLM          LLMConfig          `yaml:"llm"`
	Runtime      RuntimeConfig      `yaml:"runtime"`
	Conversation ConversationConfig `yaml:"conversation"`
	Executor     ExecutorConfig     `yaml:"executor"`
	MCP          MCPConfig          `yaml:"mcp"`
	Patrol       PatrolConfig       `yaml:"patrol"`
	Server       ServerConfig       `yaml:"server"`

	// MCPServerRegistry is built from MCP.Servers during Initialize.
	MCPServerRegistry *MCPServerRegistry `yaml:"-"`
}

// ServerConfig configures the HTTP/WebSocket surface.
type ServerConfig struct {
	Addr             string   `yaml:"addr"`
	AllowedWSOrigins []string `yaml:"allowed_ws_origins"`
}

// PatrolConfig configures the periodic patrol trigger.
type PatrolConfig struct {
	Enabled bool `yaml:"enabled"`

	// Schedule accepts robfig/cron syntax including "@every 300s"
	// descriptors and standard cron expressions.
	Schedule string `yaml:"schedule"`

	// Action is the capability the patrol task invokes.
	Action string `yaml:"action"`
}

// Initialize loads, expands, merges, and validates configuration from the
// given file. A missing file is not an error: defaults are used so the
// runtime can start with environment-only configuration.
func Initialize(path string) (*Config, error) {
	log := slog.With("config_path", path)

	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		loaded, err := parse(ExpandEnv(data))
		if err != nil {
			return nil, NewLoadError(filepath.Base(path), err)
		}
		if err := merge(cfg, loaded); err != nil {
			return nil, NewLoadError(filepath.Base(path), err)
		}
		log.Info("Configuration loaded")
	case os.IsNotExist(err):
		log.Warn("Configuration file not found, using defaults")
	default:
		return nil, NewLoadError(filepath.Base(path), err)
	}

	cfg.applyEnvOverrides()

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrValidationFailed, err)
	}

	cfg.MCPServerRegistry = NewMCPServerRegistry(cfg.MCP.Servers)

	log.Info("Configuration initialized",
		"mcp_servers", len(cfg.MCP.Servers),
		"wake_words", len(cfg.Conversation.WakeWords),
		"max_concurrent_tasks", cfg.Runtime.MaxConcurrentTasks)
	return cfg, nil
}

// applyEnvOverrides reads the LLM credentials from the environment when the
// YAML left them empty. Env var names follow the OpenAI-compatible
// convention used by the LLM client.
func (c *Config) applyEnvOverrides() {
	if c.LLM.APIKey == "" {
		c.LLM.APIKey = os.Getenv("LLM_API_KEY")
	}
	if c.LLM.APIKey == "" {
		c.LLM.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if c.LLM.BaseURL == "" {
		c.LLM.BaseURL = os.Getenv("LLM_BASE_URL")
	}
}
