package models

import "time"

// Package models defines core data types shared across the detection engine,
// the serving layer, and the persistence layer.

// Algorithm selects the scoring strategy used by a detector.
type Algorithm string

const (
	AlgorithmZScore          Algorithm = "zscore"
	AlgorithmModifiedZScore  Algorithm = "modified_zscore"
	AlgorithmIQR             Algorithm = "iqr"
	AlgorithmIsolationForest Algorithm = "isolation_forest"
	AlgorithmSeasonalESD     Algorithm = "seasonal_esd"
	AlgorithmEnsemble        Algorithm = "ensemble"
)

// Sensitivity controls how aggressively a detector flags points.
// Higher sensitivity means a lower effective threshold.
type Sensitivity string

const (
	SensitivityLow      Sensitivity = "low"
	SensitivityMedium   Sensitivity = "medium"
	SensitivityHigh     Sensitivity = "high"
	SensitivityCritical Sensitivity = "critical"
)

// Severity classifies how far past its threshold a flagged point landed.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Sample is a single observed metric value. Immutable once created.
type Sample struct {
	Timestamp time.Time `json:"timestamp"`
	Value     float64   `json:"value"`
}

// DetectionConfig is the complete tunable surface of the engine.
type DetectionConfig struct {
	Algorithm   Algorithm   `json:"algorithm"`
	Sensitivity Sensitivity `json:"sensitivity"`

	// WindowSize is the number of trailing samples used as statistical
	// context. MinSamples is the floor below which every verdict is
	// "insufficient data".
	WindowSize int `json:"window_size"`
	MinSamples int `json:"min_samples"`

	// EnableContextual computes expected values against a seasonal cohort
	// instead of a flat mean. EnableCollective promotes runs of borderline
	// points to a single collective anomaly.
	EnableContextual bool `json:"enable_contextual"`
	EnableCollective bool `json:"enable_collective"`

	// EnableRealtime marks the config as targeting a streaming detector.
	// Usage hint only; it does not change scoring.
	EnableRealtime bool `json:"enable_realtime"`

	// Threshold overrides the sensitivity-derived cutoff when > 0.
	Threshold float64 `json:"threshold,omitempty"`
}

// Anomaly is the engine's primary output record. Immutable after creation.
type Anomaly struct {
	ID              string            `json:"id"`
	MetricName      string            `json:"metric_name"`
	Timestamp       time.Time         `json:"timestamp"`
	Value           float64           `json:"value"`
	ExpectedValue   float64           `json:"expected_value"`
	Score           float64           `json:"score"`
	Severity        Severity          `json:"severity"`
	Explanation     string            `json:"explanation"`
	Recommendations []string          `json:"recommendations,omitempty"`
	Metadata        map[string]string `json:"metadata,omitempty"`
}

// DetectionSummary aggregates a batch run.
type DetectionSummary struct {
	// Accuracy is a self-reported recovery rate against injected ground
	// truth when the caller supplied it; 0 otherwise.
	Accuracy      float64   `json:"accuracy"`
	TotalPoints   int       `json:"total_points"`
	AnomalyCount  int       `json:"anomaly_count"`
	AlgorithmUsed Algorithm `json:"algorithm_used"`
}

// AnomalyDetectionResult is the output of a one-shot batch run.
type AnomalyDetectionResult struct {
	Anomalies []Anomaly        `json:"anomalies"`
	Summary   DetectionSummary `json:"summary"`
}

// DetectorState tracks the lifecycle of a streaming detector.
type DetectorState string

const (
	DetectorWarming  DetectorState = "warming"
	DetectorActive   DetectorState = "active"
	DetectorDisposed DetectorState = "disposed"
)

// DetectorInfo is the externally visible state of a streaming detector.
type DetectorInfo struct {
	ID         string          `json:"id"`
	MetricName string          `json:"metric_name"`
	State      DetectorState   `json:"state"`
	Samples    int             `json:"samples"`
	Config     DetectionConfig `json:"config"`
	CreatedAt  time.Time       `json:"created_at"`
}
