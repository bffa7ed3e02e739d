package audit

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func testConfig(t *testing.T) *Config {
	tmpDir := t.TempDir()
	return &Config{
		AuditLogPath: filepath.Join(tmpDir, "audit.log"),
		AppLogPath:   filepath.Join(tmpDir, "app.log"),
		MaxSize:      10,
		MaxBackups:   3,
		MaxAge:       7,
		LogLevel:     "info",
	}
}

func TestNewLogger(t *testing.T) {
	logger, err := NewLogger(testConfig(t))
	if err != nil {
		t.Fatalf("NewLogger failed: %v", err)
	}
	defer logger.Close()

	if logger.App() == nil {
		t.Fatal("Expected application logger to be available")
	}
}

func TestNewLoggerWithInvalidLevel(t *testing.T) {
	config := testConfig(t)
	config.LogLevel = "invalid"

	_, err := NewLogger(config)
	if err == nil {
		t.Fatal("Expected error for invalid log level")
	}
	if !strings.Contains(err.Error(), "invalid log level") {
		t.Errorf("Expected 'invalid log level' error, got: %v", err)
	}
}

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()

	if config.AuditLogPath != "logs/audit.log" {
		t.Errorf("Expected audit log path 'logs/audit.log', got %s", config.AuditLogPath)
	}
	if config.MaxSize != 100 {
		t.Errorf("Expected max size 100, got %d", config.MaxSize)
	}
	if config.LogLevel != "info" {
		t.Errorf("Expected log level 'info', got %s", config.LogLevel)
	}
}

func TestLogEvent(t *testing.T) {
	config := testConfig(t)
	logger, err := NewLogger(config)
	if err != nil {
		t.Fatalf("NewLogger failed: %v", err)
	}
	defer logger.Close()

	ctx := context.Background()
	event := NewEvent(EventAnomalyDetected).
		WithCorrelationID("anomaly-123").
		WithMetric("cpu_usage").
		WithAlgorithm("zscore").
		WithSeverity("high")

	if err := logger.Log(ctx, event); err != nil {
		t.Fatalf("Log failed: %v", err)
	}
	if err := logger.Sync(); err != nil {
		t.Fatalf("Sync failed: %v", err)
	}

	content, err := os.ReadFile(config.AuditLogPath)
	if err != nil {
		t.Fatalf("Failed to read audit log: %v", err)
	}

	logContent := string(content)
	for _, want := range []string{"anomaly-123", "detection.anomaly", "cpu_usage", "zscore", "high"} {
		if !strings.Contains(logContent, want) {
			t.Errorf("Log does not contain %q", want)
		}
	}
}

func TestLogDetectorLifecycle(t *testing.T) {
	config := testConfig(t)
	logger, err := NewLogger(config)
	if err != nil {
		t.Fatalf("NewLogger failed: %v", err)
	}
	defer logger.Close()

	ctx := context.Background()

	if err := logger.LogDetectorCreated(ctx, "det-1", "cpu_usage", "ensemble"); err != nil {
		t.Fatalf("LogDetectorCreated failed: %v", err)
	}
	if err := logger.LogDetectorReplaced(ctx, "det-1", "det-2", "cpu_usage"); err != nil {
		t.Fatalf("LogDetectorReplaced failed: %v", err)
	}
	if err := logger.LogDetectorDisposed(ctx, "det-2", "cpu_usage"); err != nil {
		t.Fatalf("LogDetectorDisposed failed: %v", err)
	}
	if err := logger.Sync(); err != nil {
		t.Fatalf("Sync failed: %v", err)
	}

	content, err := os.ReadFile(config.AuditLogPath)
	if err != nil {
		t.Fatalf("Failed to read audit log: %v", err)
	}

	logContent := string(content)
	for _, want := range []string{"detector.created", "detector.replaced", "detector.disposed", "det-1", "det-2"} {
		if !strings.Contains(logContent, want) {
			t.Errorf("Log does not contain %q", want)
		}
	}
}

func TestLogBatchLifecycle(t *testing.T) {
	config := testConfig(t)
	logger, err := NewLogger(config)
	if err != nil {
		t.Fatalf("NewLogger failed: %v", err)
	}
	defer logger.Close()

	ctx := context.Background()

	if err := logger.LogBatchCompleted(ctx, "memory_rss", "iqr", 3, 42*time.Millisecond); err != nil {
		t.Fatalf("LogBatchCompleted failed: %v", err)
	}
	if err := logger.LogBatchFailed(ctx, "memory_rss", errors.New("invalid detection config")); err != nil {
		t.Fatalf("LogBatchFailed failed: %v", err)
	}
	if err := logger.Sync(); err != nil {
		t.Fatalf("Sync failed: %v", err)
	}

	content, err := os.ReadFile(config.AuditLogPath)
	if err != nil {
		t.Fatalf("Failed to read audit log: %v", err)
	}

	logContent := string(content)
	for _, want := range []string{"detection.batch_completed", "detection.batch_failed", "invalid detection config"} {
		if !strings.Contains(logContent, want) {
			t.Errorf("Log does not contain %q", want)
		}
	}
}

func TestBufferAutoFlush(t *testing.T) {
	config := testConfig(t)
	logger, err := NewLogger(config)
	if err != nil {
		t.Fatalf("NewLogger failed: %v", err)
	}
	defer logger.Close()

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		event := NewEvent(EventHealthCheck).WithCorrelationID("test")
		if err := logger.Log(ctx, event); err != nil {
			t.Fatalf("Log failed: %v", err)
		}
	}

	// Wait for auto-flush (1 second ticker)
	time.Sleep(1500 * time.Millisecond)

	content, err := os.ReadFile(config.AuditLogPath)
	if err != nil {
		t.Fatalf("Failed to read audit log: %v", err)
	}
	if len(content) == 0 {
		t.Error("Audit log is empty after auto-flush")
	}
}

func TestBufferFullFlush(t *testing.T) {
	config := testConfig(t)
	logger, err := NewLogger(config)
	if err != nil {
		t.Fatalf("NewLogger failed: %v", err)
	}
	defer logger.Close()

	ctx := context.Background()
	for i := 0; i < 105; i++ {
		event := NewEvent(EventHealthCheck).WithCorrelationID("test")
		if err := logger.Log(ctx, event); err != nil {
			t.Fatalf("Log failed: %v", err)
		}
	}
	if err := logger.Sync(); err != nil {
		t.Fatalf("Sync failed: %v", err)
	}

	content, err := os.ReadFile(config.AuditLogPath)
	if err != nil {
		t.Fatalf("Failed to read audit log: %v", err)
	}

	eventCount := 0
	for _, line := range strings.Split(string(content), "\n") {
		if strings.TrimSpace(line) != "" {
			eventCount++
		}
	}
	if eventCount < 105 {
		t.Errorf("Expected at least 105 events, got %d", eventCount)
	}
}

func TestCorrelationID(t *testing.T) {
	id1 := GenerateCorrelationID()
	id2 := GenerateCorrelationID()
	if id1 == id2 {
		t.Error("Generated correlation IDs should be unique")
	}

	ctx := context.Background()
	if id := GetCorrelationID(ctx); id != "" {
		t.Errorf("Expected empty correlation ID, got %s", id)
	}

	ctx = WithCorrelationID(ctx, "test-correlation-id")
	if id := GetCorrelationID(ctx); id != "test-correlation-id" {
		t.Errorf("Expected 'test-correlation-id', got %s", id)
	}
}

func TestEventBuilderChain(t *testing.T) {
	event := NewEvent(EventAnomalyDetected).
		WithCorrelationID("corr-123").
		WithUser("ops").
		WithMetric("api_latency_p99").
		WithDetector("det-7").
		WithAlgorithm("seasonal_esd").
		WithSeverity("critical").
		WithDescription("Latency spike detected").
		WithDuration(3 * time.Second).
		WithMetadata("score", 12.5)

	if event.CorrelationID != "corr-123" {
		t.Errorf("Expected correlation ID 'corr-123', got %s", event.CorrelationID)
	}
	if event.MetricName != "api_latency_p99" {
		t.Errorf("Expected metric 'api_latency_p99', got %s", event.MetricName)
	}
	if event.DetectorID != "det-7" {
		t.Errorf("Expected detector 'det-7', got %s", event.DetectorID)
	}
	if event.Severity != "critical" {
		t.Errorf("Expected severity 'critical', got %s", event.Severity)
	}
	if event.DurationMs != 3000 {
		t.Errorf("Expected duration 3000ms, got %d", event.DurationMs)
	}
	if score, ok := event.Metadata["score"].(float64); !ok || score != 12.5 {
		t.Errorf("Expected metadata score 12.5, got %v", event.Metadata["score"])
	}
}

func TestEventJSONSerialization(t *testing.T) {
	event := NewEvent(EventDetectorCreated).
		WithCorrelationID("det-789").
		WithMetric("disk_used_bytes").
		WithResult(ResultSuccess)

	data, err := json.Marshal(event)
	if err != nil {
		t.Fatalf("Failed to marshal event: %v", err)
	}

	var decoded Event
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Failed to unmarshal event: %v", err)
	}

	if decoded.CorrelationID != "det-789" {
		t.Errorf("Expected correlation ID 'det-789', got %s", decoded.CorrelationID)
	}
	if decoded.MetricName != "disk_used_bytes" {
		t.Errorf("Expected metric 'disk_used_bytes', got %s", decoded.MetricName)
	}
	if decoded.EventType != EventDetectorCreated {
		t.Errorf("Expected event type 'detector.created', got %s", decoded.EventType)
	}
}
