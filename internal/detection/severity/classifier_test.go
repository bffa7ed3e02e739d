package severity

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pulseboard/pulseboard-engine/internal/detection/algorithm"
	"github.com/pulseboard/pulseboard-engine/pkg/models"
)

func TestClassifyTiers(t *testing.T) {
	cases := []struct {
		normalized float64
		want       models.Severity
	}{
		{0.4, models.SeverityLow},
		{1.0, models.SeverityLow},
		{1.49, models.SeverityLow},
		{1.5, models.SeverityMedium},
		{2.49, models.SeverityMedium},
		{2.5, models.SeverityHigh},
		{3.99, models.SeverityHigh},
		{4.0, models.SeverityCritical},
		{17, models.SeverityCritical},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, Classify(tc.normalized), "normalized=%f", tc.normalized)
	}
}

func TestBuildAnomalyRecord(t *testing.T) {
	sample := models.Sample{
		Timestamp: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
		Value:     95,
	}
	res := algorithm.ScoreResult{
		Score:         5.2,
		Normalized:    5.2 / 3.0,
		Threshold:     3.0,
		IsAnomaly:     true,
		ExpectedValue: 40,
	}

	a := Build("node_cpu_usage", sample, res, models.AlgorithmZScore)

	require.NotEmpty(t, a.ID)
	assert.Equal(t, "node_cpu_usage", a.MetricName)
	assert.Equal(t, sample.Timestamp, a.Timestamp)
	assert.Equal(t, 95.0, a.Value)
	assert.Equal(t, 40.0, a.ExpectedValue)
	assert.Equal(t, models.SeverityMedium, a.Severity)
	assert.Contains(t, a.Explanation, "node_cpu_usage")
	assert.Contains(t, a.Explanation, "above")
	assert.NotEmpty(t, a.Recommendations)
	assert.Equal(t, string(models.AlgorithmZScore), a.Metadata["algorithm"])

	b := Build("node_cpu_usage", sample, res, models.AlgorithmZScore)
	assert.NotEqual(t, a.ID, b.ID, "ids must be unique per record")
}

func TestBuildRecordsEnsembleContributors(t *testing.T) {
	res := algorithm.ScoreResult{
		Normalized:    1.2,
		IsAnomaly:     true,
		ExpectedValue: 10,
		Contributors:  map[string]bool{"zscore": true, "iqr": true, "seasonal_esd": false},
	}
	a := Build("api_latency_ms", models.Sample{Value: 30}, res, models.AlgorithmEnsemble)
	assert.Equal(t, "2/3", a.Metadata["contributors"])
}

func TestExplainDirection(t *testing.T) {
	up := Explain("queue_depth", 120, 40, 3.0, models.SeverityHigh)
	assert.Contains(t, up, "above")

	down := Explain("queue_depth", 2, 40, 3.0, models.SeverityHigh)
	assert.Contains(t, down, "below")
	assert.True(t, strings.HasPrefix(down, "high severity"))
}

func TestRecommendationsByFamily(t *testing.T) {
	cases := []struct {
		metric   string
		elevated bool
		wantHint string
	}{
		{"node_cpu_usage", true, "scaling"},
		{"container_memory_rss", true, "leak"},
		{"disk_used_bytes", true, "rotation"},
		{"network_throughput_mbps", true, "retry"},
		{"api_latency_p99", true, "dependency"},
		{"http_error_rate", true, "failure signature"},
	}
	for _, tc := range cases {
		recs := Recommendations(tc.metric, tc.elevated)
		require.NotEmpty(t, recs, tc.metric)
		joined := strings.ToLower(strings.Join(recs, " "))
		assert.Contains(t, joined, tc.wantHint, tc.metric)
	}
}

func TestRecommendationsUnknownFamily(t *testing.T) {
	assert.Nil(t, Recommendations("custom_business_kpi", true))
}
