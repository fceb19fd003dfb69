package config

import (
	"fmt"
	"sync"
)

// MCPServerConfig defines one remote MCP server reachable over streaming HTTP.
type MCPServerConfig struct {
	ID  string `yaml:"id"`
	URL string `yaml:"url"`

	// Timeout is the per-tool-call deadline. Defaults to 60s.
	Timeout Duration `yaml:"timeout,omitempty"`

	// Headers are added to every HTTP request (e.g. Authorization).
	Headers map[string]string `yaml:"headers,omitempty"`
}

// MCPConfig groups the MCP control-plane settings.
type MCPConfig struct {
	Servers []MCPServerConfig `yaml:"servers"`

	// CachePath is where the tool index snapshot is persisted.
	CachePath string `yaml:"cache_path"`

	// CacheTTLSeconds controls tool-index freshness. 0 treats an existing
	// cache as permanent (test aid).
	CacheTTLSeconds int `yaml:"cache_ttl_seconds"`

	// ForceRefreshOnInit bypasses the cache at startup.
	ForceRefreshOnInit bool `yaml:"force_refresh_on_init"`
}

// MCPServerRegistry stores MCP server configurations with thread-safe access.
type MCPServerRegistry struct {
	servers map[string]MCPServerConfig
	order   []string
	mu      sync.RWMutex
}

// NewMCPServerRegistry builds a registry from the configured server list.
// Later entries with a duplicate id replace earlier ones.
func NewMCPServerRegistry(servers []MCPServerConfig) *MCPServerRegistry {
	r := &MCPServerRegistry{servers: make(map[string]MCPServerConfig, len(servers))}
	for _, s := range servers {
		if _, exists := r.servers[s.ID]; !exists {
			r.order = append(r.order, s.ID)
		}
		r.servers[s.ID] = s
	}
	return r
}

// Get retrieves a server configuration by id.
func (r *MCPServerRegistry) Get(serverID string) (MCPServerConfig, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, exists := r.servers[serverID]
	if !exists {
		return MCPServerConfig{}, fmt.Errorf("%w: %s", ErrMCPServerNotFound, serverID)
	}
	return s, nil
}

// Has checks whether a server id is registered.
func (r *MCPServerRegistry) Has(serverID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, exists := r.servers[serverID]
	return exists
}

// ServerIDs returns the configured server ids in declaration order.
func (r *MCPServerRegistry) ServerIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}
