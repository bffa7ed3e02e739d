package severity

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/pulseboard/pulseboard-engine/internal/detection/algorithm"
	"github.com/pulseboard/pulseboard-engine/pkg/models"
)

// Package severity turns raw scoring verdicts into anomaly records:
// severity tier, human-readable explanation, and remediation hints
// keyed off the metric family.

// Classify maps the normalized score ratio (score over threshold) to a
// severity tier. Ratios below 1 can still reach here when a majority
// ensemble vote flags a point whose mean ratio stayed under 1; those
// clamp to low.
func Classify(normalized float64) models.Severity {
	switch {
	case normalized >= 4:
		return models.SeverityCritical
	case normalized >= 2.5:
		return models.SeverityHigh
	case normalized >= 1.5:
		return models.SeverityMedium
	default:
		return models.SeverityLow
	}
}

// Build assembles the full anomaly record for a flagged sample.
func Build(metricName string, sample models.Sample, res algorithm.ScoreResult, algo models.Algorithm) models.Anomaly {
	sev := Classify(res.Normalized)
	meta := map[string]string{
		"algorithm": string(algo),
	}
	if len(res.Contributors) > 0 {
		var flagged []string
		for name, vote := range res.Contributors {
			if vote {
				flagged = append(flagged, name)
			}
		}
		meta["contributors"] = fmt.Sprintf("%d/%d", len(flagged), len(res.Contributors))
	}
	return models.Anomaly{
		ID:              uuid.NewString(),
		MetricName:      metricName,
		Timestamp:       sample.Timestamp,
		Value:           sample.Value,
		ExpectedValue:   res.ExpectedValue,
		Score:           res.Score,
		Severity:        sev,
		Explanation:     Explain(metricName, sample.Value, res.ExpectedValue, res.Normalized, sev),
		Recommendations: Recommendations(metricName, sample.Value > res.ExpectedValue),
		Metadata:        meta,
	}
}

// Explain renders the one-line rationale attached to every anomaly.
func Explain(metricName string, value, expected, normalized float64, sev models.Severity) string {
	direction := "above"
	if value < expected {
		direction = "below"
	}
	return fmt.Sprintf("%s severity: %s value %.2f is %s the expected %.2f (%.1fx the detection threshold)",
		sev, metricName, value, direction, expected, normalized)
}

// metricFamily buckets a metric name into a known family for
// remediation hints. Matching is substring-based so conventional names
// like "node_cpu_usage" or "api.latency.p99" resolve.
func metricFamily(metricName string) string {
	name := strings.ToLower(metricName)
	switch {
	case strings.Contains(name, "cpu"):
		return "cpu"
	case strings.Contains(name, "memory"), strings.Contains(name, "mem"), strings.Contains(name, "rss"):
		return "memory"
	case strings.Contains(name, "disk"), strings.Contains(name, "storage"), strings.Contains(name, "volume"):
		return "disk"
	case strings.Contains(name, "network"), strings.Contains(name, "bandwidth"), strings.Contains(name, "throughput"):
		return "network"
	case strings.Contains(name, "latency"), strings.Contains(name, "duration"), strings.Contains(name, "response_time"):
		return "latency"
	case strings.Contains(name, "error"), strings.Contains(name, "fail"), strings.Contains(name, "5xx"):
		return "error_rate"
	default:
		return ""
	}
}

// Recommendations returns remediation hints for the metric family.
// Unknown families get none; a record with an empty list is still valid.
func Recommendations(metricName string, elevated bool) []string {
	switch metricFamily(metricName) {
	case "cpu":
		if !elevated {
			return []string{"Check whether workload was rescheduled or traffic dropped"}
		}
		return []string{
			"Inspect recent deployments for CPU-heavy changes",
			"Check for runaway processes or tight retry loops",
			"Consider horizontal scaling if load is legitimate",
		}
	case "memory":
		if !elevated {
			return []string{"Verify caches are warming as expected after restart"}
		}
		return []string{
			"Look for memory leaks in recently deployed code",
			"Review heap profiles and large allocation sites",
			"Raise limits only after ruling out a leak",
		}
	case "disk":
		return []string{
			"Check log rotation and temporary file cleanup",
			"Review retention policies for local data stores",
		}
	case "network":
		return []string{
			"Correlate with upstream dependency traffic",
			"Check for retry storms or payload size regressions",
		}
	case "latency":
		return []string{
			"Check downstream dependency latency first",
			"Look for lock contention or connection pool exhaustion",
			"Compare against recent deployment timing",
		}
	case "error_rate":
		return []string{
			"Inspect error logs for the dominant failure signature",
			"Check recent config or dependency changes",
			"Verify circuit breakers and retries are behaving",
		}
	default:
		return nil
	}
}
