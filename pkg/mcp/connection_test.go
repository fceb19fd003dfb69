package mcp

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/homefox/homefox/pkg/config"
)

func TestConnection_InvalidScheme(t *testing.T) {
	conn := NewConnection(config.MCPServerConfig{ID: "bad", URL: "ftp://example.com"})
	err := conn.Connect(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidScheme)
	assert.Equal(t, StateError, conn.State())
}

func TestConnection_ConnectFailureEntersError(t *testing.T) {
	// A server that rejects everything: the MCP handshake cannot complete.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusInternalServerError)
	}))
	defer srv.Close()

	conn := NewConnection(config.MCPServerConfig{ID: "broken", URL: srv.URL})
	err := conn.Connect(context.Background())
	require.Error(t, err)
	assert.Equal(t, StateError, conn.State())
	assert.False(t, conn.Ready())
}

func TestConnection_CallToolRequiresReady(t *testing.T) {
	conn := NewConnection(config.MCPServerConfig{ID: "idle", URL: "http://localhost:1"})
	env := conn.CallTool(context.Background(), "anything", nil)
	assert.False(t, env.Success)
	assert.Contains(t, env.Error, "connection not ready")
}

func TestConnection_HealthCheckWithoutSession(t *testing.T) {
	conn := NewConnection(config.MCPServerConfig{ID: "idle", URL: "http://localhost:1"})
	err := conn.HealthCheck(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotReady)
}

func TestConnection_DefaultCallTimeout(t *testing.T) {
	conn := NewConnection(config.MCPServerConfig{ID: "a", URL: "http://localhost:1"})
	assert.Equal(t, config.DefaultCallTimeout, conn.callTimeout)

	conn = NewConnection(config.MCPServerConfig{
		ID: "b", URL: "http://localhost:1",
		Timeout: config.Duration(5 * time.Second),
	})
	assert.Equal(t, 5*time.Second, conn.callTimeout)
}

func TestManager_GetUnknownServer(t *testing.T) {
	registry := config.NewMCPServerRegistry([]config.MCPServerConfig{
		{ID: "hass", URL: "http://localhost:1"},
	})
	m := NewManager(registry)

	conn, err := m.Get("hass")
	require.NoError(t, err)
	assert.Equal(t, "hass", conn.ServerID())

	_, err = m.Get("nope")
	assert.ErrorIs(t, err, ErrUnknownServer)
}

func TestManager_StatusesAndReady(t *testing.T) {
	registry := config.NewMCPServerRegistry([]config.MCPServerConfig{
		{ID: "one", URL: "http://localhost:1"},
		{ID: "two", URL: "http://localhost:1"},
	})
	m := NewManager(registry)

	statuses := m.Statuses()
	assert.Equal(t, StateDisconnected, statuses["one"])
	assert.Equal(t, StateDisconnected, statuses["two"])
	assert.Empty(t, m.ReadyConnections())
	assert.Len(t, m.Connections(), 2)
}
