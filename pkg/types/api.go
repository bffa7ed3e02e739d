package types

// Package types defines the public REST API contracts of the
// pulseboard engine, shared with API clients and dashboards.

import (
	"time"

	"github.com/pulseboard/pulseboard-engine/pkg/models"
)

// Request types

// DetectRequest runs one-shot batch detection over a supplied series.
type DetectRequest struct {
	MetricName string                 `json:"metric_name"`
	Samples    []models.Sample        `json:"samples"`
	Config     models.DetectionConfig `json:"config"`
	// TruthIndices optionally marks known anomalous sample indices so
	// the response can report a recovery rate.
	TruthIndices []int `json:"truth_indices,omitempty"`
}

// CreateDetectorRequest registers a streaming detector for a metric.
// Creating a second detector for the same metric replaces the first.
type CreateDetectorRequest struct {
	MetricName string                 `json:"metric_name"`
	Config     models.DetectionConfig `json:"config"`
}

// PointsRequest feeds samples to a streaming detector or a stored series.
type PointsRequest struct {
	Samples []models.Sample `json:"samples"`
}

// SeriesDetectRequest runs batch detection over stored samples.
type SeriesDetectRequest struct {
	Config models.DetectionConfig `json:"config"`
	From   time.Time              `json:"from,omitempty"`
	To     time.Time              `json:"to,omitempty"`
}

// Response types

// DetectResponse is the result of a batch detection run.
type DetectResponse struct {
	Result    *models.AnomalyDetectionResult `json:"result"`
	Timestamp time.Time                      `json:"timestamp"`
}

// PointsResponse reports the outcome of feeding points to a detector.
type PointsResponse struct {
	Processed int                 `json:"processed"`
	Anomalies []models.Anomaly    `json:"anomalies,omitempty"`
	Detector  models.DetectorInfo `json:"detector"`
}

// DetectorListResponse lists live streaming detectors.
type DetectorListResponse struct {
	Detectors []models.DetectorInfo `json:"detectors"`
	Count     int                   `json:"count"`
}

// AnomalyListResponse lists anomalies from history or the recent buffer.
type AnomalyListResponse struct {
	Anomalies []models.Anomaly `json:"anomalies"`
	Count     int              `json:"count"`
}

// ErrorResponse is the uniform error body for non-2xx responses.
type ErrorResponse struct {
	Error string `json:"error"`
}
