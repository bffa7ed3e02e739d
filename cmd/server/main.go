package main

// Package main is the entry point for the pulseboard engine server.
//
// Responsibilities:
//   - Load and validate configuration from YAML and environment variables
//   - Initialize structured application and audit logging
//   - Start the HTTP API server (batch detection, detector registry,
//     anomaly history, stored series)
//   - Start the WebSocket ingest stream and anomaly broadcast
//   - Serve the gRPC health protocol for orchestrator probes
//   - Serve Prometheus metrics on /metrics
//   - Implement graceful shutdown with context cancellation
//
// Architecture Flow:
//   1. WebSocket /stream + REST points → streaming detectors (registry)
//   2. Detected anomalies → emitter → history store, audit log, /ws/anomalies
//   3. REST /api/v1/detect → batch detection with result caching
//   4. Retention loop prunes anomaly history past the configured window
//
// Graceful Shutdown:
//   - Stops accepting HTTP and gRPC traffic
//   - Closes all WebSocket connections
//   - Flushes audit logs and closes the history store

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/pulseboard/pulseboard-engine/internal/audit"
	"github.com/pulseboard/pulseboard-engine/internal/config"
	"github.com/pulseboard/pulseboard-engine/internal/server"
)

func main() {
	configPath := flag.String("config", "/etc/pulseboard/config.yaml", "path to the YAML config file")
	flag.Parse()

	ctx := context.Background()

	// Load configuration from file, environment and defaults.
	mgr, err := config.NewConfigManager(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create config manager: %v\n", err)
		os.Exit(1)
	}
	if err := mgr.Load(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if err := mgr.Validate(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}
	cfg := mgr.Get(ctx)

	// Initialize logging.
	auditLogger, err := audit.NewLogger(&audit.Config{
		AuditLogPath: cfg.Logging.AuditLogPath,
		AppLogPath:   cfg.Logging.AppLogPath,
		MaxSize:      100,
		MaxBackups:   10,
		MaxAge:       30,
		Compress:     true,
		LogLevel:     cfg.Logging.Level,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logging: %v\n", err)
		os.Exit(1)
	}
	defer auditLogger.Close()

	// Create server with all components wired together.
	srv, err := server.NewServer(cfg, auditLogger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create server: %v\n", err)
		os.Exit(1)
	}

	if err := srv.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to start server: %v\n", err)
		os.Exit(1)
	}

	// Wait for shutdown signal (Ctrl+C or SIGTERM).
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	if err := srv.Stop(); err != nil {
		fmt.Fprintf(os.Stderr, "Error stopping server: %v\n", err)
		os.Exit(1)
	}
}
