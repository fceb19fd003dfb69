// homefox runtime server: runs the task queue and scheduler, the MCP
// control plane, the voice conversation loop, and the HTTP/WebSocket API.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/homefox/homefox/pkg/agent"
	"github.com/homefox/homefox/pkg/api"
	"github.com/homefox/homefox/pkg/config"
	"github.com/homefox/homefox/pkg/version"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	configPath := flag.String("config",
		getEnv("HOMEFOX_CONFIG", "./config.yaml"),
		"Path to the configuration file")
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		slog.Debug("No .env file, continuing with existing environment", "error", err)
	}

	slog.Info("Starting homefox",
		"version", version.Full(),
		"config", *configPath)

	cfg, err := config.Initialize(*configPath)
	if err != nil {
		slog.Error("Failed to initialize configuration", "error", err)
		os.Exit(1)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())

	a, err := agent.New(cfg, registry)
	if err != nil {
		slog.Error("Failed to build the agent", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(),
		syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := a.Start(ctx); err != nil {
		slog.Error("Failed to start the agent", "error", err)
		os.Exit(1)
	}

	server := api.NewServer(cfg.Server, a, registry)
	if err := server.Run(ctx); err != nil {
		slog.Error("HTTP server error", "error", err)
	}

	slog.Info("Shutting down")
	if err := a.Close(); err != nil {
		slog.Error("Shutdown error", "error", err)
	}
	slog.Info("Shutdown complete")
}
