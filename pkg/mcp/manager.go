package mcp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/homefox/homefox/pkg/config"
)

// ErrUnknownServer indicates a server id with no connection.
var ErrUnknownServer = errors.New("unknown mcp server")

// HealthInterval is the background health probe interval.
const HealthInterval = 15 * time.Second

// Manager owns one Connection per configured server and runs the background
// health loop. Connections in Error are re-connected by the loop.
type Manager struct {
	registry *config.MCPServerRegistry

	mu          sync.RWMutex
	connections map[string]*Connection

	cancel context.CancelFunc
	done   chan struct{}
	logger *slog.Logger
}

// NewManager creates connections for every registered server. Nothing is
// connected until Initialize.
func NewManager(registry *config.MCPServerRegistry) *Manager {
	m := &Manager{
		registry:    registry,
		connections: make(map[string]*Connection),
		logger:      slog.With("component", "mcp_manager"),
	}
	for _, id := range registry.ServerIDs() {
		cfg, err := registry.Get(id)
		if err != nil {
			continue
		}
		m.connections[id] = NewConnection(cfg)
	}
	return m
}

// Initialize connects every server. Failures are logged, not fatal: a server
// that is down at startup is retried by the health loop.
func (m *Manager) Initialize(ctx context.Context) {
	for _, conn := range m.all() {
		if err := conn.Connect(ctx); err != nil {
			m.logger.Warn("MCP server failed to connect",
				"server", conn.ServerID(), "error", err)
		}
	}
}

// Get returns the connection for a server id.
func (m *Manager) Get(serverID string) (*Connection, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	conn, ok := m.connections[serverID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownServer, serverID)
	}
	return conn, nil
}

// Connections returns every managed connection.
func (m *Manager) Connections() []*Connection {
	return m.all()
}

// ReadyConnections returns the connections currently able to serve calls.
func (m *Manager) ReadyConnections() []*Connection {
	var ready []*Connection
	for _, conn := range m.all() {
		if conn.Ready() {
			ready = append(ready, conn)
		}
	}
	return ready
}

func (m *Manager) all() []*Connection {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Connection, 0, len(m.connections))
	for _, id := range m.registry.ServerIDs() {
		if conn, ok := m.connections[id]; ok {
			out = append(out, conn)
		}
	}
	return out
}

// StartHealthLoop launches the background probe loop. No-op when running.
func (m *Manager) StartHealthLoop(ctx context.Context) {
	if m.cancel != nil {
		return
	}
	ctx, m.cancel = context.WithCancel(ctx)
	m.done = make(chan struct{})
	go m.healthLoop(ctx)
}

// StopHealthLoop halts the probe loop and waits for it to exit.
func (m *Manager) StopHealthLoop() {
	if m.cancel == nil {
		return
	}
	m.cancel()
	<-m.done
	m.cancel = nil
	m.done = nil
}

func (m *Manager) healthLoop(ctx context.Context) {
	defer close(m.done)

	ticker := time.NewTicker(HealthInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.probeAll(ctx)
		}
	}
}

func (m *Manager) probeAll(ctx context.Context) {
	for _, conn := range m.all() {
		switch conn.State() {
		case StateReady:
			if err := conn.HealthCheck(ctx); err != nil {
				m.logger.Debug("Health probe failed",
					"server", conn.ServerID(), "error", err)
			}
		case StateError, StateDisconnected:
			// Reconnect broken servers from the health loop.
			if err := conn.Connect(ctx); err != nil {
				m.logger.Debug("Reconnect failed",
					"server", conn.ServerID(), "error", err)
			}
		}
	}
}

// Statuses returns per-server state for the health endpoint.
func (m *Manager) Statuses() map[string]ConnectionState {
	out := make(map[string]ConnectionState)
	for _, conn := range m.all() {
		out[conn.ServerID()] = conn.State()
	}
	return out
}

// Close shuts every connection down.
func (m *Manager) Close() error {
	m.StopHealthLoop()

	var firstErr error
	for _, conn := range m.all() {
		if err := conn.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close %q: %w", conn.ServerID(), err)
		}
	}
	return firstErr
}
