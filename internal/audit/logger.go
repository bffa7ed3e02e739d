package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Logger defines the interface for audit logging
type Logger interface {
	// Log logs an audit event
	Log(ctx context.Context, event *Event) error

	// Detector lifecycle events
	LogDetectorCreated(ctx context.Context, detectorID, metricName, algorithm string) error
	LogDetectorReplaced(ctx context.Context, oldID, newID, metricName string) error
	LogDetectorDisposed(ctx context.Context, detectorID, metricName string) error

	// Detection events
	LogAnomalyDetected(ctx context.Context, anomalyID, metricName, algorithm, severity string) error
	LogBatchCompleted(ctx context.Context, metricName, algorithm string, anomalies int, duration time.Duration) error
	LogBatchFailed(ctx context.Context, metricName string, err error) error

	// App returns the structured application logger sharing the same
	// rotation policy.
	App() *zap.Logger

	// Sync flushes buffered log entries
	Sync() error

	// Close closes the audit logger
	Close() error
}

// Config represents audit logger configuration
type Config struct {
	// AuditLogPath is the path to the audit log file
	AuditLogPath string

	// AppLogPath is the path to the application log file
	AppLogPath string

	// MaxSize is the maximum size in megabytes before rotation
	MaxSize int

	// MaxBackups is the maximum number of old log files to retain
	MaxBackups int

	// MaxAge is the maximum number of days to retain old log files
	MaxAge int

	// Compress determines if rotated files should be compressed
	Compress bool

	// LogLevel is the minimum log level (debug, info, warn, error)
	LogLevel string
}

// DefaultConfig returns default audit logger configuration
func DefaultConfig() *Config {
	return &Config{
		AuditLogPath: "logs/audit.log",
		AppLogPath:   "logs/app.log",
		MaxSize:      100, // megabytes
		MaxBackups:   10,
		MaxAge:       30, // days
		Compress:     true,
		LogLevel:     "info",
	}
}

// auditLogger implements the Logger interface
type auditLogger struct {
	appLogger   *zap.Logger
	auditLogger *zap.Logger
	config      *Config
	mu          sync.Mutex
	buffer      []*Event
	flushTicker *time.Ticker
	stopCh      chan struct{}
}

// NewLogger creates a new audit logger
func NewLogger(config *Config) (Logger, error) {
	if config == nil {
		config = DefaultConfig()
	}

	level, err := zapcore.ParseLevel(config.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %s: %w", config.LogLevel, err)
	}

	encoderConfig := zapcore.EncoderConfig{
		TimeKey:        "timestamp",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		MessageKey:     "message",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.SecondsDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}

	// Application logger with rotation
	appRotator := &lumberjack.Logger{
		Filename:   config.AppLogPath,
		MaxSize:    config.MaxSize,
		MaxBackups: config.MaxBackups,
		MaxAge:     config.MaxAge,
		Compress:   config.Compress,
	}

	appCore := zapcore.NewCore(
		zapcore.NewJSONEncoder(encoderConfig),
		zapcore.AddSync(appRotator),
		level,
	)

	appLogger := zap.New(appCore, zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel))

	// Audit trail with rotation (always INFO level, append-only)
	auditRotator := &lumberjack.Logger{
		Filename:   config.AuditLogPath,
		MaxSize:    config.MaxSize,
		MaxBackups: config.MaxBackups,
		MaxAge:     config.MaxAge,
		Compress:   config.Compress,
	}

	auditCore := zapcore.NewCore(
		zapcore.NewJSONEncoder(encoderConfig),
		zapcore.AddSync(auditRotator),
		zapcore.InfoLevel,
	)

	auditZapLogger := zap.New(auditCore)

	logger := &auditLogger{
		appLogger:   appLogger,
		auditLogger: auditZapLogger,
		config:      config,
		buffer:      make([]*Event, 0, 100),
		flushTicker: time.NewTicker(1 * time.Second),
		stopCh:      make(chan struct{}),
	}

	go logger.autoFlush()

	return logger, nil
}

// Log logs an audit event
func (l *auditLogger) Log(ctx context.Context, event *Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.buffer = append(l.buffer, event)

	if len(l.buffer) >= 100 {
		return l.flushLocked()
	}

	return nil
}

// flushLocked flushes the buffer (caller must hold lock)
func (l *auditLogger) flushLocked() error {
	if len(l.buffer) == 0 {
		return nil
	}

	for _, event := range l.buffer {
		eventJSON, err := json.Marshal(event)
		if err != nil {
			l.appLogger.Error("failed to marshal audit event",
				zap.Error(err),
				zap.String("event_type", string(event.EventType)),
			)
			continue
		}

		l.auditLogger.Info(string(eventJSON),
			zap.String("correlation_id", event.CorrelationID),
			zap.String("event_type", string(event.EventType)),
			zap.String("result", string(event.Result)),
		)
	}

	l.buffer = l.buffer[:0]

	return nil
}

// autoFlush periodically flushes the buffer
func (l *auditLogger) autoFlush() {
	for {
		select {
		case <-l.flushTicker.C:
			l.mu.Lock()
			_ = l.flushLocked()
			l.mu.Unlock()
		case <-l.stopCh:
			return
		}
	}
}

// LogDetectorCreated logs a streaming detector creation
func (l *auditLogger) LogDetectorCreated(ctx context.Context, detectorID, metricName, algorithm string) error {
	event := NewEvent(EventDetectorCreated).
		WithCorrelationID(GetCorrelationID(ctx)).
		WithDetector(detectorID).
		WithMetric(metricName).
		WithAlgorithm(algorithm).
		WithDescription(fmt.Sprintf("Detector %s created for metric %s", detectorID, metricName))

	return l.Log(ctx, event)
}

// LogDetectorReplaced logs a last-create-wins replacement
func (l *auditLogger) LogDetectorReplaced(ctx context.Context, oldID, newID, metricName string) error {
	event := NewEvent(EventDetectorReplaced).
		WithCorrelationID(GetCorrelationID(ctx)).
		WithDetector(newID).
		WithMetric(metricName).
		WithMetadata("replaced_detector_id", oldID).
		WithDescription(fmt.Sprintf("Detector %s replaced %s for metric %s", newID, oldID, metricName))

	return l.Log(ctx, event)
}

// LogDetectorDisposed logs detector disposal
func (l *auditLogger) LogDetectorDisposed(ctx context.Context, detectorID, metricName string) error {
	event := NewEvent(EventDetectorDisposed).
		WithCorrelationID(GetCorrelationID(ctx)).
		WithDetector(detectorID).
		WithMetric(metricName).
		WithDescription(fmt.Sprintf("Detector %s disposed", detectorID))

	return l.Log(ctx, event)
}

// LogAnomalyDetected logs an emitted anomaly
func (l *auditLogger) LogAnomalyDetected(ctx context.Context, anomalyID, metricName, algorithm, severity string) error {
	event := NewEvent(EventAnomalyDetected).
		WithCorrelationID(anomalyID).
		WithMetric(metricName).
		WithAlgorithm(algorithm).
		WithSeverity(severity).
		WithDescription(fmt.Sprintf("Anomaly %s detected on %s (%s)", anomalyID, metricName, severity))

	return l.Log(ctx, event)
}

// LogBatchCompleted logs a finished batch run
func (l *auditLogger) LogBatchCompleted(ctx context.Context, metricName, algorithm string, anomalies int, duration time.Duration) error {
	event := NewEvent(EventBatchCompleted).
		WithCorrelationID(GetCorrelationID(ctx)).
		WithMetric(metricName).
		WithAlgorithm(algorithm).
		WithDuration(duration).
		WithMetadata("anomaly_count", anomalies).
		WithDescription(fmt.Sprintf("Batch run on %s found %d anomalies", metricName, anomalies))

	return l.Log(ctx, event)
}

// LogBatchFailed logs a rejected or failed batch run
func (l *auditLogger) LogBatchFailed(ctx context.Context, metricName string, err error) error {
	event := NewEvent(EventBatchFailed).
		WithCorrelationID(GetCorrelationID(ctx)).
		WithMetric(metricName).
		WithError(err, "batch_error").
		WithDescription(fmt.Sprintf("Batch run on %s failed", metricName))

	return l.Log(ctx, event)
}

// App returns the application logger
func (l *auditLogger) App() *zap.Logger {
	return l.appLogger
}

// Sync flushes buffered log entries
func (l *auditLogger) Sync() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.flushLocked(); err != nil {
		return err
	}

	if err := l.auditLogger.Sync(); err != nil {
		return err
	}

	return l.appLogger.Sync()
}

// Close closes the audit logger
func (l *auditLogger) Close() error {
	close(l.stopCh)
	l.flushTicker.Stop()

	return l.Sync()
}

type correlationIDKey struct{}

// GetCorrelationID extracts correlation ID from context
func GetCorrelationID(ctx context.Context) string {
	if id, ok := ctx.Value(correlationIDKey{}).(string); ok {
		return id
	}
	return ""
}

// WithCorrelationID adds correlation ID to context
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationIDKey{}, id)
}

// GenerateCorrelationID generates a new correlation ID
func GenerateCorrelationID() string {
	return fmt.Sprintf("%d-%d", time.Now().UnixNano(), os.Getpid())
}
