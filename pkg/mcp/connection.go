// Package mcp provides the MCP (Model Context Protocol) control plane:
// per-server connections with a health-checked lifecycle, the tool index with
// persistent cache, and the LLM-backed router that selects tools.
package mcp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/homefox/homefox/pkg/config"
	"github.com/homefox/homefox/pkg/version"
)

// ConnectionState is the lifecycle state of one server connection.
type ConnectionState string

// Connection states. Error is recoverable: a successful connect or health
// probe moves the connection back to Ready.
const (
	StateDisconnected ConnectionState = "disconnected"
	StateConnecting   ConnectionState = "connecting"
	StateReady        ConnectionState = "ready"
	StateError        ConnectionState = "error"
)

// Sentinel errors for connection operations.
var (
	ErrNotReady      = errors.New("connection not ready")
	ErrInvalidScheme = errors.New("server url must be http or https")
)

// Timeouts for connection lifecycle phases.
const (
	ConnectTimeout = 10 * time.Second
	InitTimeout    = 10 * time.Second
	HealthTimeout  = 5 * time.Second

	// healthFailureThreshold is the number of consecutive probe failures
	// before the connection flips to Error.
	healthFailureThreshold = 3
)

// Connection wraps one streamable-HTTP session to a single MCP server.
// Thread-safe: tool calls, health probes, and reconnects may race.
type Connection struct {
	cfg config.MCPServerConfig

	mu             sync.Mutex
	state          ConnectionState
	session        *mcpsdk.ClientSession
	healthFailures int

	callTimeout time.Duration
	logger      *slog.Logger
}

// NewConnection creates a disconnected connection for the given server.
func NewConnection(cfg config.MCPServerConfig) *Connection {
	callTimeout := cfg.Timeout.Std()
	if callTimeout <= 0 {
		callTimeout = config.DefaultCallTimeout
	}
	return &Connection{
		cfg:         cfg,
		state:       StateDisconnected,
		callTimeout: callTimeout,
		logger:      slog.With("component", "mcp_connection", "server", cfg.ID),
	}
}

// ServerID returns the configured server identifier.
func (c *Connection) ServerID() string { return c.cfg.ID }

// State returns the current lifecycle state.
func (c *Connection) State() ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Ready reports whether the connection can serve tool calls.
func (c *Connection) Ready() bool { return c.State() == StateReady }

// Connect validates the URL, establishes the session under the connect
// timeout, and completes MCP initialization under a second timeout. Any
// failure discards the session and leaves the connection in Error.
func (c *Connection) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.state == StateReady {
		c.mu.Unlock()
		return nil
	}
	c.state = StateConnecting
	c.mu.Unlock()

	session, err := c.establish(ctx)
	if err != nil {
		c.mu.Lock()
		c.state = StateError
		c.session = nil
		c.mu.Unlock()
		return err
	}

	c.mu.Lock()
	// Drop a session raced in by a concurrent Connect.
	if c.session != nil {
		_ = c.session.Close()
	}
	c.session = session
	c.state = StateReady
	c.healthFailures = 0
	c.mu.Unlock()

	c.logger.Info("MCP server connected", "url", c.cfg.URL)
	return nil
}

func (c *Connection) establish(ctx context.Context) (*mcpsdk.ClientSession, error) {
	u, err := url.Parse(c.cfg.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, fmt.Errorf("%w: %q", ErrInvalidScheme, c.cfg.URL)
	}

	transport := &mcpsdk.StreamableClientTransport{Endpoint: c.cfg.URL}
	if len(c.cfg.Headers) > 0 {
		transport.HTTPClient = &http.Client{
			Transport: &headerTransport{base: http.DefaultTransport, headers: c.cfg.Headers},
		}
	}

	client := mcpsdk.NewClient(&mcpsdk.Implementation{
		Name:    version.AppName,
		Version: version.GitCommit,
	}, nil)

	// Session establishment and MCP initialization each get their own
	// deadline; Connect in the SDK covers both, so the stricter one applies.
	connectCtx, cancel := context.WithTimeout(ctx, ConnectTimeout+InitTimeout)
	defer cancel()

	session, err := client.Connect(connectCtx, transport, nil)
	if err != nil {
		return nil, fmt.Errorf("connect to %q: %w", c.cfg.ID, err)
	}
	return session, nil
}

// HealthCheck probes the server by listing tools under the health deadline.
// Three consecutive failures flip the state to Error; a success resets the
// failure count and restores Ready.
func (c *Connection) HealthCheck(ctx context.Context) error {
	c.mu.Lock()
	session := c.session
	c.mu.Unlock()
	if session == nil {
		return fmt.Errorf("%w: %s", ErrNotReady, c.cfg.ID)
	}

	probeCtx, cancel := context.WithTimeout(ctx, HealthTimeout)
	defer cancel()

	_, err := session.ListTools(probeCtx, nil)

	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		c.healthFailures++
		if c.healthFailures >= healthFailureThreshold {
			c.state = StateError
			c.logger.Warn("MCP server unhealthy",
				"consecutive_failures", c.healthFailures, "error", err)
		}
		return fmt.Errorf("health probe %q: %w", c.cfg.ID, err)
	}
	c.healthFailures = 0
	if c.state == StateError || c.state == StateReady {
		c.state = StateReady
	}
	return nil
}

// ListTools fetches the server's tool list. Requires Ready.
func (c *Connection) ListTools(ctx context.Context) ([]*mcpsdk.Tool, error) {
	session, err := c.readySession()
	if err != nil {
		return nil, err
	}

	opCtx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()

	result, err := session.ListTools(opCtx, nil)
	if err != nil {
		return nil, fmt.Errorf("list tools from %q: %w", c.cfg.ID, err)
	}
	return result.Tools, nil
}

// CallTool executes a tool on the server and serializes the response into the
// normalized envelope. The remote isError flag is passed through untouched;
// higher layers lift it into success=false. Transport-class failures get one
// retry after a jittered backoff, with a fresh session when the connection
// dropped.
func (c *Connection) CallTool(ctx context.Context, toolName string, args map[string]any) Envelope {
	env, action := c.callOnce(ctx, toolName, args)
	if action == NoRetry {
		return env
	}

	if action == RetryNewSession {
		if err := c.reconnect(ctx); err != nil {
			c.logger.Warn("Session recreation failed", "tool", toolName, "error", err)
			return env
		}
	}
	select {
	case <-ctx.Done():
		return env
	case <-time.After(retryBackoff()):
	}
	c.logger.Debug("Retrying tool call after transport failure", "tool", toolName)
	env, _ = c.callOnce(ctx, toolName, args)
	return env
}

func (c *Connection) callOnce(ctx context.Context, toolName string, args map[string]any) (Envelope, RecoveryAction) {
	session, err := c.readySession()
	if err != nil {
		return ErrorEnvelope(err), NoRetry
	}

	opCtx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()

	result, err := session.CallTool(opCtx, &mcpsdk.CallToolParams{
		Name:      toolName,
		Arguments: args,
	})
	if err != nil {
		return ErrorEnvelope(fmt.Errorf("call %q.%s: %w", c.cfg.ID, toolName, err)),
			ClassifyTransportError(err)
	}
	return EnvelopeFromResult(result), NoRetry
}

// reconnect discards the current session and establishes a fresh one.
func (c *Connection) reconnect(ctx context.Context) error {
	c.mu.Lock()
	if c.session != nil {
		_ = c.session.Close()
		c.session = nil
	}
	c.state = StateDisconnected
	c.mu.Unlock()
	return c.Connect(ctx)
}

func (c *Connection) readySession() (*mcpsdk.ClientSession, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateReady || c.session == nil {
		return nil, fmt.Errorf("%w: %s (state %s)", ErrNotReady, c.cfg.ID, c.state)
	}
	return c.session, nil
}

// Close shuts the session and returns to Disconnected.
func (c *Connection) Close() error {
	c.mu.Lock()
	session := c.session
	c.session = nil
	c.state = StateDisconnected
	c.healthFailures = 0
	c.mu.Unlock()

	if session == nil {
		return nil
	}
	return session.Close()
}

// headerTransport adds configured headers to every request.
type headerTransport struct {
	base    http.RoundTripper
	headers map[string]string
}

func (t *headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	for k, v := range t.headers {
		req.Header.Set(k, v)
	}
	return t.base.RoundTrip(req)
}
