// Package api exposes the runtime over HTTP: task submission and inspection,
// conversation controls, the tool index, health, metrics, and the WebSocket
// event stream.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/homefox/homefox/pkg/agent"
	"github.com/homefox/homefox/pkg/config"
	"github.com/homefox/homefox/pkg/events"
)

// Server is the HTTP/WebSocket surface over the agent.
type Server struct {
	cfg   config.ServerConfig
	agent *agent.Agent
	hub   *events.Hub

	engine *gin.Engine
	http   *http.Server
	logger *slog.Logger
}

// NewServer builds the server and wires the event hub to the agent's
// notifier. gatherer serves /metrics; pass nil to disable the endpoint.
func NewServer(cfg config.ServerConfig, a *agent.Agent, gatherer prometheus.Gatherer) *Server {
	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		cfg:    cfg,
		agent:  a,
		hub:    events.NewHub(),
		engine: gin.New(),
		logger: slog.With("component", "api"),
	}
	s.hub.Attach(a.Notifier())

	s.engine.Use(gin.Recovery(), requestLog(), securityHeaders())
	s.routes(gatherer)

	s.http = &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) routes(gatherer prometheus.Gatherer) {
	s.engine.GET("/healthz", s.health)
	if gatherer != nil {
		s.engine.GET("/metrics", gin.WrapH(
			promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}
	s.engine.GET("/ws", s.handleWebSocket)

	v1 := s.engine.Group("/api/v1")
	{
		v1.POST("/tasks", s.submitTask)
		v1.GET("/tasks", s.listTasks)
		v1.GET("/tasks/:id", s.getTask)
		v1.DELETE("/tasks/:id", s.cancelTask)
		v1.GET("/statistics", s.statistics)
		v1.GET("/tools", s.listTools)

		conv := v1.Group("/conversation")
		{
			conv.POST("/start", s.startConversation)
			conv.POST("/listening/start", s.startListening)
			conv.POST("/listening/stop", s.stopListening)
			conv.GET("/messages", s.getMessages)
			conv.DELETE("/messages", s.clearMessages)
			conv.GET("/status", s.conversationStatus)
		}
	}
}

// Run serves until the context is cancelled, then drains connections.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("HTTP server listening", "addr", s.cfg.Addr)
		errCh <- s.http.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	s.hub.Close()
	return s.http.Shutdown(shutdownCtx)
}
