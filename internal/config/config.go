package config

import "context"

// Package config provides configuration management for the detection
// service.
//
// Responsibilities:
//   - Load configuration from YAML files and environment variables
//   - Validate configuration on startup
//   - Provide runtime access to all configuration
//   - Support configuration reloading via file watching
//   - Establish reasonable defaults
//
// Configuration Sources (priority order, high to low):
//   1. Environment variables (PULSEBOARD_* prefix)
//   2. YAML config files (default: /etc/pulseboard/config.yaml)
//   3. Built-in defaults (lowest priority)
//
// Main Configuration Sections:
//
//   1. Server
//      - port: Listen port (default 8081)
//      - grpc_port: gRPC health listener port (default 9091)
//      - tls_enabled: Enable TLS
//      - allowed_origins: Origins permitted to open WebSocket connections
//
//   2. Detection
//      - default_algorithm: Algorithm used when a request omits one
//      - default_sensitivity: low | medium | high | critical
//      - default_window_size / default_min_samples: Window bounds
//      - enable_collective / enable_contextual: Mode defaults
//
//   3. Database
//      - sqlite_path: Path to the anomaly history SQLite file
//      - retention_days: Keep anomaly records for N days
//
//   4. Cache
//      - enable_caching: Turn on batch result caching
//      - ttl_seconds: Default cache lifetime
//      - max_entries: Maximum cached batch results
//
//   5. Ingest
//      - rate_limit_rps: Per-connection points per second
//      - rate_limit_burst: Burst allowance
//      - max_batch_points: Maximum series length for one batch call
//
//   6. Logging
//      - level: "debug" | "info" | "warn" | "error"
//      - audit_log_path / app_log_path: Rotated log destinations

// Config struct contains all configuration fields
type Config struct {
	// Server configuration
	Server struct {
		Port        int
		GRPCPort    int
		TLSEnabled  bool
		TLSCertPath string
		TLSKeyPath  string
		// AllowedOrigins is a list of origins permitted to open WebSocket
		// connections. Use ["*"] to allow any origin (development only).
		// If empty, defaults to ["http://localhost:3000", "http://localhost:5173"].
		AllowedOrigins []string
	}

	// Detection configuration
	Detection struct {
		DefaultAlgorithm   string
		DefaultSensitivity string
		DefaultWindowSize  int
		DefaultMinSamples  int
		EnableCollective   bool
		EnableContextual   bool
	}

	// Database configuration
	Database struct {
		SQLitePath    string
		RetentionDays int
	}

	// Cache configuration
	Cache struct {
		EnableCaching bool
		TTLSeconds    int
		MaxEntries    int
	}

	// Ingest configuration
	Ingest struct {
		RateLimitRPS   float64
		RateLimitBurst int
		MaxBatchPoints int
	}

	// Logging configuration
	Logging struct {
		Level        string
		AuditLogPath string
		AppLogPath   string
	}
}

// ConfigManager defines the interface for configuration access.
type ConfigManager interface {
	// Load loads configuration from all sources.
	Load(ctx context.Context) error

	// Get returns the current configuration.
	Get(ctx context.Context) *Config

	// Validate validates configuration is correct and complete.
	Validate(ctx context.Context) error

	// Watch watches for configuration changes and reloads (if supported).
	Watch(ctx context.Context) <-chan Config

	// Reload reloads configuration from sources.
	Reload(ctx context.Context) error
}

// NewConfigManager creates a new configuration manager.
func NewConfigManager(configPath string) (ConfigManager, error) {
	mgr := &viperConfigManager{
		configPath: configPath,
		config:     DefaultConfig(),
		watchChan:  make(chan Config, 1),
	}
	return mgr, nil
}

// NewConfigManagerWithDefaults creates a config manager with default config path.
func NewConfigManagerWithDefaults() (ConfigManager, error) {
	return NewConfigManager("/etc/pulseboard/config.yaml")
}
