package config

import (
	"fmt"
	"os"
	"strings"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed for %s: %s", e.Field, e.Message)
}

// Validate validates the configuration and returns validation errors.
func (c *Config) Validate() []error {
	var errs []error

	// Validate server configuration
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, &ValidationError{
			Field:   "server.port",
			Message: fmt.Sprintf("port must be between 1 and 65535, got %d", c.Server.Port),
		})
	}

	if c.Server.GRPCPort < 1 || c.Server.GRPCPort > 65535 {
		errs = append(errs, &ValidationError{
			Field:   "server.grpc_port",
			Message: fmt.Sprintf("port must be between 1 and 65535, got %d", c.Server.GRPCPort),
		})
	}

	if c.Server.TLSEnabled {
		if c.Server.TLSCertPath == "" {
			errs = append(errs, &ValidationError{
				Field:   "server.tls_cert_path",
				Message: "tls_cert_path is required when tls_enabled is true",
			})
		} else if _, err := os.Stat(c.Server.TLSCertPath); os.IsNotExist(err) {
			errs = append(errs, &ValidationError{
				Field:   "server.tls_cert_path",
				Message: fmt.Sprintf("certificate file does not exist: %s", c.Server.TLSCertPath),
			})
		}

		if c.Server.TLSKeyPath == "" {
			errs = append(errs, &ValidationError{
				Field:   "server.tls_key_path",
				Message: "tls_key_path is required when tls_enabled is true",
			})
		} else if _, err := os.Stat(c.Server.TLSKeyPath); os.IsNotExist(err) {
			errs = append(errs, &ValidationError{
				Field:   "server.tls_key_path",
				Message: fmt.Sprintf("key file does not exist: %s", c.Server.TLSKeyPath),
			})
		}
	}

	// Validate detection configuration
	validAlgorithms := map[string]bool{
		"zscore":           true,
		"modified_zscore":  true,
		"iqr":              true,
		"isolation_forest": true,
		"seasonal_esd":     true,
		"ensemble":         true,
	}
	if !validAlgorithms[c.Detection.DefaultAlgorithm] {
		errs = append(errs, &ValidationError{
			Field:   "detection.default_algorithm",
			Message: fmt.Sprintf("invalid algorithm '%s', must be one of: zscore, modified_zscore, iqr, isolation_forest, seasonal_esd, ensemble", c.Detection.DefaultAlgorithm),
		})
	}

	validSensitivities := map[string]bool{
		"low":      true,
		"medium":   true,
		"high":     true,
		"critical": true,
	}
	if !validSensitivities[c.Detection.DefaultSensitivity] {
		errs = append(errs, &ValidationError{
			Field:   "detection.default_sensitivity",
			Message: fmt.Sprintf("invalid sensitivity '%s', must be one of: low, medium, high, critical", c.Detection.DefaultSensitivity),
		})
	}

	if c.Detection.DefaultWindowSize < 1 {
		errs = append(errs, &ValidationError{
			Field:   "detection.default_window_size",
			Message: fmt.Sprintf("window size must be at least 1, got %d", c.Detection.DefaultWindowSize),
		})
	}

	if c.Detection.DefaultMinSamples < 0 {
		errs = append(errs, &ValidationError{
			Field:   "detection.default_min_samples",
			Message: fmt.Sprintf("min samples cannot be negative, got %d", c.Detection.DefaultMinSamples),
		})
	}

	if c.Detection.DefaultMinSamples > c.Detection.DefaultWindowSize {
		errs = append(errs, &ValidationError{
			Field:   "detection.default_min_samples",
			Message: fmt.Sprintf("min samples %d exceeds window size %d", c.Detection.DefaultMinSamples, c.Detection.DefaultWindowSize),
		})
	}

	// Validate database configuration
	if c.Database.SQLitePath == "" {
		errs = append(errs, &ValidationError{
			Field:   "database.sqlite_path",
			Message: "sqlite_path is required",
		})
	}

	if c.Database.RetentionDays < 1 {
		errs = append(errs, &ValidationError{
			Field:   "database.retention_days",
			Message: fmt.Sprintf("retention days must be at least 1, got %d", c.Database.RetentionDays),
		})
	}

	// Validate cache configuration
	if c.Cache.TTLSeconds < 0 {
		errs = append(errs, &ValidationError{
			Field:   "cache.ttl_seconds",
			Message: fmt.Sprintf("ttl_seconds cannot be negative, got %d", c.Cache.TTLSeconds),
		})
	}

	if c.Cache.MaxEntries < 0 {
		errs = append(errs, &ValidationError{
			Field:   "cache.max_entries",
			Message: fmt.Sprintf("max_entries cannot be negative, got %d", c.Cache.MaxEntries),
		})
	}

	// Validate ingest configuration
	if c.Ingest.RateLimitRPS < 0 {
		errs = append(errs, &ValidationError{
			Field:   "ingest.rate_limit_rps",
			Message: fmt.Sprintf("rate_limit_rps cannot be negative, got %.2f", c.Ingest.RateLimitRPS),
		})
	}

	if c.Ingest.RateLimitBurst < 0 {
		errs = append(errs, &ValidationError{
			Field:   "ingest.rate_limit_burst",
			Message: fmt.Sprintf("rate_limit_burst cannot be negative, got %d", c.Ingest.RateLimitBurst),
		})
	}

	if c.Ingest.MaxBatchPoints < 1 {
		errs = append(errs, &ValidationError{
			Field:   "ingest.max_batch_points",
			Message: fmt.Sprintf("max_batch_points must be at least 1, got %d", c.Ingest.MaxBatchPoints),
		})
	}

	// Validate logging configuration
	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[strings.ToLower(c.Logging.Level)] {
		errs = append(errs, &ValidationError{
			Field:   "logging.level",
			Message: fmt.Sprintf("invalid log level '%s', must be one of: debug, info, warn, error", c.Logging.Level),
		})
	}

	return errs
}
