package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// indexFormatVersion is the persisted snapshot format version.
const indexFormatVersion = "1.0.0"

// ToolIndexEntry is the canonical record for one callable tool.
type ToolIndexEntry struct {
	ToolName     string         `json:"tool_name"`
	ServerID     string         `json:"server_id"`
	Description  string         `json:"description,omitempty"`
	InputSchema  map[string]any `json:"input_schema,omitempty"`
	Tags         []string       `json:"tags,omitempty"`
	Blocking     bool           `json:"blocking,omitempty"`
	CostEstimate float64        `json:"cost_estimate,omitempty"`
}

// indexSnapshot is the on-disk format: entries grouped by server plus the
// sync timestamp.
type indexSnapshot struct {
	Version  string           `json:"version"`
	LastSync time.Time        `json:"last_sync"`
	Servers  []serverSnapshot `json:"servers"`
}

type serverSnapshot struct {
	ServerID string           `json:"server_id"`
	Tools    []ToolIndexEntry `json:"tools"`
}

// ToolIndex maps tool_name → ToolIndexEntry. Local tools are registered at
// construction and never invalidated by remote sync; remote entries are
// upserted from Ready connections and snapshot to a JSON cache file.
type ToolIndex struct {
	mu       sync.RWMutex
	entries  map[string]ToolIndexEntry
	lastSync time.Time

	logger *slog.Logger
}

// NewToolIndex creates an index pre-populated with the local tools.
func NewToolIndex(locals *LocalRegistry) *ToolIndex {
	idx := &ToolIndex{
		entries: make(map[string]ToolIndexEntry),
		logger:  slog.With("component", "tool_index"),
	}
	if locals != nil {
		for _, tool := range locals.All() {
			idx.entries[tool.Name()] = ToolIndexEntry{
				ToolName:    tool.Name(),
				ServerID:    LocalServerPrefix + tool.Name(),
				Description: tool.Description(),
				InputSchema: tool.InputSchema(),
			}
		}
	}
	return idx
}

// Lookup returns the entry for a tool name.
func (idx *ToolIndex) Lookup(toolName string) (ToolIndexEntry, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	e, ok := idx.entries[toolName]
	return e, ok
}

// All returns every entry, sorted by tool name for stable prompts.
func (idx *ToolIndex) All() []ToolIndexEntry {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	out := make([]ToolIndexEntry, 0, len(idx.entries))
	for _, e := range idx.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ToolName < out[j].ToolName })
	return out
}

// Len returns the number of indexed tools.
func (idx *ToolIndex) Len() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.entries)
}

// LastSync returns the timestamp of the last successful remote sync (or
// cache load).
func (idx *ToolIndex) LastSync() time.Time {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.lastSync
}

// Sync fetches the tool list from every Ready connection and upserts the
// entries. Best-effort: failing servers contribute nothing; when every remote
// fails and prior entries exist, the stale index is retained.
func (idx *ToolIndex) Sync(ctx context.Context, conns []*Connection) {
	synced := 0
	for _, conn := range conns {
		if !conn.Ready() {
			idx.logger.Debug("Skipping sync for non-ready server", "server", conn.ServerID())
			continue
		}
		tools, err := conn.ListTools(ctx)
		if err != nil {
			idx.logger.Warn("Tool sync failed for server",
				"server", conn.ServerID(), "error", err)
			continue
		}

		idx.mu.Lock()
		for _, tool := range tools {
			entry := ToolIndexEntry{
				ToolName:    tool.Name,
				ServerID:    conn.ServerID(),
				Description: tool.Description,
			}
			if tool.InputSchema != nil {
				if raw, err := json.Marshal(tool.InputSchema); err == nil {
					var schema map[string]any
					if json.Unmarshal(raw, &schema) == nil {
						entry.InputSchema = schema
					}
				}
			}
			idx.entries[tool.Name] = entry
		}
		idx.mu.Unlock()
		synced++
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()
	if synced == 0 && len(conns) > 0 {
		if len(idx.entries) > 0 {
			idx.logger.Warn("All remote servers failed to sync, keeping stale index",
				"tools", len(idx.entries))
		}
		return
	}
	idx.lastSync = time.Now()
}

// Save snapshots the index to path, grouped by server id.
func (idx *ToolIndex) Save(path string) error {
	idx.mu.RLock()
	byServer := make(map[string][]ToolIndexEntry)
	for _, e := range idx.entries {
		byServer[e.ServerID] = append(byServer[e.ServerID], e)
	}
	snapshot := indexSnapshot{
		Version:  indexFormatVersion,
		LastSync: idx.lastSync,
	}
	idx.mu.RUnlock()

	serverIDs := make([]string, 0, len(byServer))
	for id := range byServer {
		serverIDs = append(serverIDs, id)
	}
	sort.Strings(serverIDs)
	for _, id := range serverIDs {
		tools := byServer[id]
		sort.Slice(tools, func(i, j int) bool { return tools[i].ToolName < tools[j].ToolName })
		snapshot.Servers = append(snapshot.Servers, serverSnapshot{ServerID: id, Tools: tools})
	}

	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal tool index: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create cache dir: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write tool index: %w", err)
	}
	return nil
}

// Load merges a snapshot file into the index. Local entries already present
// take precedence over persisted ones with the same tool name.
func (idx *ToolIndex) Load(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read tool index: %w", err)
	}
	var snapshot indexSnapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return fmt.Errorf("decode tool index: %w", err)
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()
	for _, server := range snapshot.Servers {
		for _, entry := range server.Tools {
			if existing, ok := idx.entries[entry.ToolName]; ok && IsLocalServer(existing.ServerID) {
				continue
			}
			idx.entries[entry.ToolName] = entry
		}
	}
	idx.lastSync = snapshot.LastSync
	return nil
}

// ShouldSync decides whether a remote sync is needed given the cache file.
// force always syncs; a missing cache syncs; ttlSeconds=0 treats an existing
// cache as permanent; a fresh cache with at least one tool is valid.
func ShouldSync(cachePath string, ttlSeconds int, force bool) bool {
	if force {
		return true
	}

	data, err := os.ReadFile(cachePath)
	if err != nil {
		return true
	}
	var snapshot indexSnapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return true
	}

	if ttlSeconds == 0 {
		return false
	}

	toolCount := 0
	for _, s := range snapshot.Servers {
		toolCount += len(s.Tools)
	}
	age := time.Since(snapshot.LastSync)
	if age < time.Duration(ttlSeconds)*time.Second && toolCount > 0 {
		return false
	}
	return true
}
