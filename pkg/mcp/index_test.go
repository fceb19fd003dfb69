package mcp

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type echoTool struct {
	name string
}

func (e *echoTool) Name() string        { return e.name }
func (e *echoTool) Description() string { return "echoes input" }
func (e *echoTool) InputSchema() map[string]any {
	return map[string]any{"type": "object", "properties": map[string]any{}}
}
func (e *echoTool) Call(_ context.Context, args map[string]any) (map[string]any, error) {
	return args, nil
}

func TestToolIndex_LocalRegistration(t *testing.T) {
	locals := NewLocalRegistry()
	locals.Register(&echoTool{name: "echo"})

	idx := NewToolIndex(locals)
	entry, ok := idx.Lookup("echo")
	require.True(t, ok)
	assert.Equal(t, "local-echo", entry.ServerID)
	assert.True(t, IsLocalServer(entry.ServerID))
	assert.Equal(t, 1, idx.Len())
}

func TestToolIndex_SaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tool_index.json")

	idx := NewToolIndex(nil)
	idx.entries["HassTurnOn"] = ToolIndexEntry{
		ToolName:    "HassTurnOn",
		ServerID:    "home-assistant",
		Description: "Turn a device on",
	}
	idx.lastSync = time.Now()
	require.NoError(t, idx.Save(path))

	// The snapshot is grouped by server with a version tag.
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var snapshot map[string]any
	require.NoError(t, json.Unmarshal(data, &snapshot))
	assert.Equal(t, "1.0.0", snapshot["version"])
	assert.NotEmpty(t, snapshot["last_sync"])
	servers := snapshot["servers"].([]any)
	require.Len(t, servers, 1)

	loaded := NewToolIndex(nil)
	require.NoError(t, loaded.Load(path))
	entry, ok := loaded.Lookup("HassTurnOn")
	require.True(t, ok)
	assert.Equal(t, "home-assistant", entry.ServerID)
	assert.False(t, loaded.LastSync().IsZero())
}

func TestToolIndex_LoadKeepsLocalPrecedence(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tool_index.json")

	stale := NewToolIndex(nil)
	stale.entries["echo"] = ToolIndexEntry{ToolName: "echo", ServerID: "remote-1"}
	stale.lastSync = time.Now()
	require.NoError(t, stale.Save(path))

	locals := NewLocalRegistry()
	locals.Register(&echoTool{name: "echo"})
	idx := NewToolIndex(locals)
	require.NoError(t, idx.Load(path))

	entry, _ := idx.Lookup("echo")
	assert.Equal(t, "local-echo", entry.ServerID)
}

func writeSnapshot(t *testing.T, path string, lastSync time.Time, toolCount int) {
	t.Helper()
	tools := make([]ToolIndexEntry, toolCount)
	for i := range tools {
		tools[i] = ToolIndexEntry{ToolName: "t", ServerID: "s"}
	}
	snapshot := indexSnapshot{
		Version:  indexFormatVersion,
		LastSync: lastSync,
		Servers:  []serverSnapshot{{ServerID: "s", Tools: tools}},
	}
	data, err := json.Marshal(snapshot)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o644))
}

func TestShouldSync(t *testing.T) {
	dir := t.TempDir()
	fresh := filepath.Join(dir, "fresh.json")
	writeSnapshot(t, fresh, time.Now(), 3)
	stale := filepath.Join(dir, "stale.json")
	writeSnapshot(t, stale, time.Now().Add(-2*time.Hour), 3)
	empty := filepath.Join(dir, "empty.json")
	writeSnapshot(t, empty, time.Now(), 0)

	tests := []struct {
		name  string
		path  string
		ttl   int
		force bool
		want  bool
	}{
		{"force always syncs", fresh, 3600, true, true},
		{"missing cache syncs", filepath.Join(dir, "nope.json"), 3600, false, true},
		{"ttl zero treats cache as permanent", stale, 0, false, false},
		{"fresh cache with tools is valid", fresh, 3600, false, false},
		{"stale cache syncs", stale, 3600, false, true},
		{"fresh but empty cache syncs", empty, 3600, false, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ShouldSync(tt.path, tt.ttl, tt.force))
		})
	}
}

func TestShouldSync_CorruptCache(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "corrupt.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))
	assert.True(t, ShouldSync(path, 3600, false))
}

func TestLocalRegistry_Call(t *testing.T) {
	locals := NewLocalRegistry()
	locals.Register(&echoTool{name: "echo"})

	env := locals.Call(context.Background(), "echo", map[string]any{"msg": "hi"})
	require.True(t, env.Success)
	assert.Equal(t, "hi", env.Result["msg"])

	env = locals.Call(context.Background(), "missing", nil)
	assert.False(t, env.Success)
	assert.Contains(t, env.Error, "not registered")
}
