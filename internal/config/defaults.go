package config

// DefaultConfig returns a configuration with all default values.
func DefaultConfig() *Config {
	cfg := &Config{}

	// Server defaults
	cfg.Server.Port = 8081
	cfg.Server.GRPCPort = 9091
	cfg.Server.TLSEnabled = false
	cfg.Server.TLSCertPath = ""
	cfg.Server.TLSKeyPath = ""

	// Detection defaults
	cfg.Detection.DefaultAlgorithm = "zscore"
	cfg.Detection.DefaultSensitivity = "medium"
	cfg.Detection.DefaultWindowSize = 50
	cfg.Detection.DefaultMinSamples = 10
	cfg.Detection.EnableCollective = false
	cfg.Detection.EnableContextual = false

	// Database defaults
	cfg.Database.SQLitePath = "/var/lib/pulseboard/pulseboard.db"
	cfg.Database.RetentionDays = 30

	// Cache defaults
	cfg.Cache.EnableCaching = true
	cfg.Cache.TTLSeconds = 300
	cfg.Cache.MaxEntries = 256

	// Ingest defaults
	cfg.Ingest.RateLimitRPS = 1000
	cfg.Ingest.RateLimitBurst = 2000
	cfg.Ingest.MaxBatchPoints = 100000

	// Logging defaults
	cfg.Logging.Level = "info"
	cfg.Logging.AuditLogPath = "logs/audit.log"
	cfg.Logging.AppLogPath = "logs/app.log"

	return cfg
}
