package config

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// viperConfigManager implements ConfigManager using Viper.
type viperConfigManager struct {
	configPath string
	config     *Config
	viper      *viper.Viper
	watchChan  chan Config
}

// Load loads configuration from all sources.
func (m *viperConfigManager) Load(ctx context.Context) error {
	m.viper = viper.New()

	m.viper.SetConfigFile(m.configPath)
	m.viper.SetConfigType("yaml")

	m.viper.SetEnvPrefix("PULSEBOARD")
	m.viper.AutomaticEnv()
	m.viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	m.setDefaults()

	// Config file is optional; defaults plus env vars are enough to run.
	if err := m.viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			// use defaults
		} else if os.IsNotExist(err) {
			// use defaults
		} else {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}

	if err := m.unmarshalConfig(); err != nil {
		return fmt.Errorf("error unmarshaling config: %w", err)
	}

	m.applyEnvOverrides()

	return nil
}

// Get returns the current configuration.
func (m *viperConfigManager) Get(ctx context.Context) *Config {
	return m.config
}

// Validate validates configuration is correct and complete.
func (m *viperConfigManager) Validate(ctx context.Context) error {
	errs := m.config.Validate()
	if len(errs) > 0 {
		var errMsgs []string
		for _, err := range errs {
			errMsgs = append(errMsgs, err.Error())
		}
		return fmt.Errorf("configuration validation failed:\n  - %s", strings.Join(errMsgs, "\n  - "))
	}
	return nil
}

// Watch watches for configuration changes and reloads.
func (m *viperConfigManager) Watch(ctx context.Context) <-chan Config {
	m.viper.WatchConfig()
	m.viper.OnConfigChange(func(e fsnotify.Event) {
		if err := m.unmarshalConfig(); err != nil {
			return
		}
		select {
		case m.watchChan <- *m.config:
		default:
			// Channel full, skip this update
		}
	})

	return m.watchChan
}

// Reload reloads configuration from sources.
func (m *viperConfigManager) Reload(ctx context.Context) error {
	if err := m.viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}

	if err := m.unmarshalConfig(); err != nil {
		return fmt.Errorf("error unmarshaling config: %w", err)
	}

	m.applyEnvOverrides()

	return nil
}

// setDefaults sets default values in viper.
func (m *viperConfigManager) setDefaults() {
	defaults := DefaultConfig()

	// Server defaults
	m.viper.SetDefault("server.port", defaults.Server.Port)
	m.viper.SetDefault("server.grpc_port", defaults.Server.GRPCPort)
	m.viper.SetDefault("server.tls_enabled", defaults.Server.TLSEnabled)
	m.viper.SetDefault("server.tls_cert_path", defaults.Server.TLSCertPath)
	m.viper.SetDefault("server.tls_key_path", defaults.Server.TLSKeyPath)
	m.viper.SetDefault("server.allowed_origins", defaults.Server.AllowedOrigins)

	// Detection defaults
	m.viper.SetDefault("detection.default_algorithm", defaults.Detection.DefaultAlgorithm)
	m.viper.SetDefault("detection.default_sensitivity", defaults.Detection.DefaultSensitivity)
	m.viper.SetDefault("detection.default_window_size", defaults.Detection.DefaultWindowSize)
	m.viper.SetDefault("detection.default_min_samples", defaults.Detection.DefaultMinSamples)
	m.viper.SetDefault("detection.enable_collective", defaults.Detection.EnableCollective)
	m.viper.SetDefault("detection.enable_contextual", defaults.Detection.EnableContextual)

	// Database defaults
	m.viper.SetDefault("database.sqlite_path", defaults.Database.SQLitePath)
	m.viper.SetDefault("database.retention_days", defaults.Database.RetentionDays)

	// Cache defaults
	m.viper.SetDefault("cache.enable_caching", defaults.Cache.EnableCaching)
	m.viper.SetDefault("cache.ttl_seconds", defaults.Cache.TTLSeconds)
	m.viper.SetDefault("cache.max_entries", defaults.Cache.MaxEntries)

	// Ingest defaults
	m.viper.SetDefault("ingest.rate_limit_rps", defaults.Ingest.RateLimitRPS)
	m.viper.SetDefault("ingest.rate_limit_burst", defaults.Ingest.RateLimitBurst)
	m.viper.SetDefault("ingest.max_batch_points", defaults.Ingest.MaxBatchPoints)

	// Logging defaults
	m.viper.SetDefault("logging.level", defaults.Logging.Level)
	m.viper.SetDefault("logging.audit_log_path", defaults.Logging.AuditLogPath)
	m.viper.SetDefault("logging.app_log_path", defaults.Logging.AppLogPath)
}

// unmarshalConfig unmarshals viper config into Config struct.
func (m *viperConfigManager) unmarshalConfig() error {
	cfg := &Config{}

	// Server
	cfg.Server.Port = m.viper.GetInt("server.port")
	cfg.Server.GRPCPort = m.viper.GetInt("server.grpc_port")
	cfg.Server.TLSEnabled = m.viper.GetBool("server.tls_enabled")
	cfg.Server.TLSCertPath = m.viper.GetString("server.tls_cert_path")
	cfg.Server.TLSKeyPath = m.viper.GetString("server.tls_key_path")
	cfg.Server.AllowedOrigins = m.viper.GetStringSlice("server.allowed_origins")

	// Detection
	cfg.Detection.DefaultAlgorithm = m.viper.GetString("detection.default_algorithm")
	cfg.Detection.DefaultSensitivity = m.viper.GetString("detection.default_sensitivity")
	cfg.Detection.DefaultWindowSize = m.viper.GetInt("detection.default_window_size")
	cfg.Detection.DefaultMinSamples = m.viper.GetInt("detection.default_min_samples")
	cfg.Detection.EnableCollective = m.viper.GetBool("detection.enable_collective")
	cfg.Detection.EnableContextual = m.viper.GetBool("detection.enable_contextual")

	// Database
	cfg.Database.SQLitePath = m.viper.GetString("database.sqlite_path")
	cfg.Database.RetentionDays = m.viper.GetInt("database.retention_days")

	// Cache
	cfg.Cache.EnableCaching = m.viper.GetBool("cache.enable_caching")
	cfg.Cache.TTLSeconds = m.viper.GetInt("cache.ttl_seconds")
	cfg.Cache.MaxEntries = m.viper.GetInt("cache.max_entries")

	// Ingest
	cfg.Ingest.RateLimitRPS = m.viper.GetFloat64("ingest.rate_limit_rps")
	cfg.Ingest.RateLimitBurst = m.viper.GetInt("ingest.rate_limit_burst")
	cfg.Ingest.MaxBatchPoints = m.viper.GetInt("ingest.max_batch_points")

	// Logging
	cfg.Logging.Level = m.viper.GetString("logging.level")
	cfg.Logging.AuditLogPath = m.viper.GetString("logging.audit_log_path")
	cfg.Logging.AppLogPath = m.viper.GetString("logging.app_log_path")

	m.config = cfg
	return nil
}

// applyEnvOverrides applies environment variable overrides for settings
// commonly set per deployment.
func (m *viperConfigManager) applyEnvOverrides() {
	if portEnv := os.Getenv("PULSEBOARD_PORT"); portEnv != "" {
		m.config.Server.Port = m.viper.GetInt("port")
	}

	if dbPath := os.Getenv("PULSEBOARD_DB_PATH"); dbPath != "" {
		m.config.Database.SQLitePath = dbPath
	}

	if level := os.Getenv("PULSEBOARD_LOG_LEVEL"); level != "" {
		m.config.Logging.Level = level
	}
}
