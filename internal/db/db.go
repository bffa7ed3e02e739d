package db

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pulseboard/pulseboard-engine/pkg/models"
)

// Store is the persistence interface for the engine.
type Store interface {
	AnomalyStore
	DetectorStore

	// Close releases database resources.
	Close() error

	// Ping verifies the connection is alive.
	Ping(ctx context.Context) error
}

// ─── Anomaly store ────────────────────────────────────────────────────────────

// AnomalyRecord is the DB representation of a detected anomaly.
type AnomalyRecord struct {
	ID              string    `json:"id"`
	MetricName      string    `json:"metric_name"`
	Timestamp       time.Time `json:"timestamp"`
	Value           float64   `json:"value"`
	ExpectedValue   float64   `json:"expected_value"`
	Score           float64   `json:"score"`
	Severity        string    `json:"severity"`
	Explanation     string    `json:"explanation"`
	Recommendations string    `json:"recommendations"` // JSON array
	Metadata        string    `json:"metadata"`        // JSON blob
	CreatedAt       time.Time `json:"created_at"`
}

// AnomalyQuery filters anomaly history queries.
type AnomalyQuery struct {
	MetricName string
	Severity   string
	From       time.Time
	To         time.Time
	Limit      int
	Offset     int
}

// AnomalyStore persists anomaly history.
type AnomalyStore interface {
	// AppendAnomaly stores a detected anomaly.
	AppendAnomaly(ctx context.Context, rec *AnomalyRecord) error

	// QueryAnomalies retrieves anomalies with optional filters, newest first.
	QueryAnomalies(ctx context.Context, q AnomalyQuery) ([]*AnomalyRecord, error)

	// GetAnomaly retrieves a single anomaly by ID.
	GetAnomaly(ctx context.Context, id string) (*AnomalyRecord, error)

	// AnomalySummary returns counts grouped by severity for a time window.
	AnomalySummary(ctx context.Context, from, to time.Time) (map[string]int, error)

	// PruneAnomalies removes anomalies detected before the cutoff and
	// returns the number of rows deleted. Called by the retention loop.
	PruneAnomalies(ctx context.Context, before time.Time) (int64, error)
}

// ─── Detector store ───────────────────────────────────────────────────────────

// DetectorRecord is a persisted streaming detector registration. Detectors
// are re-created from these rows on startup so stream consumers survive a
// restart without re-registering.
type DetectorRecord struct {
	ID         string    `json:"id"`
	MetricName string    `json:"metric_name"`
	Config     string    `json:"config"` // JSON DetectionConfig
	CreatedAt  time.Time `json:"created_at"`
}

// DetectorStore persists streaming detector registrations.
type DetectorStore interface {
	// SaveDetector creates or replaces the registration for a metric.
	SaveDetector(ctx context.Context, rec *DetectorRecord) error

	// ListDetectors returns all registrations, oldest first.
	ListDetectors(ctx context.Context) ([]*DetectorRecord, error)

	// DeleteDetector removes a registration by detector ID.
	DeleteDetector(ctx context.Context, id string) error
}

// NewAnomalyRecord converts a detected anomaly to its DB representation.
func NewAnomalyRecord(a models.Anomaly) *AnomalyRecord {
	recs, _ := json.Marshal(a.Recommendations)
	meta, _ := json.Marshal(a.Metadata)
	return &AnomalyRecord{
		ID:              a.ID,
		MetricName:      a.MetricName,
		Timestamp:       a.Timestamp.UTC(),
		Value:           a.Value,
		ExpectedValue:   a.ExpectedValue,
		Score:           a.Score,
		Severity:        string(a.Severity),
		Explanation:     a.Explanation,
		Recommendations: string(recs),
		Metadata:        string(meta),
		CreatedAt:       time.Now().UTC(),
	}
}

// Anomaly converts a DB record back to the API representation.
func (r *AnomalyRecord) Anomaly() models.Anomaly {
	a := models.Anomaly{
		ID:            r.ID,
		MetricName:    r.MetricName,
		Timestamp:     r.Timestamp,
		Value:         r.Value,
		ExpectedValue: r.ExpectedValue,
		Score:         r.Score,
		Severity:      models.Severity(r.Severity),
		Explanation:   r.Explanation,
	}
	if r.Recommendations != "" && r.Recommendations != "null" {
		_ = json.Unmarshal([]byte(r.Recommendations), &a.Recommendations)
	}
	if r.Metadata != "" && r.Metadata != "null" {
		_ = json.Unmarshal([]byte(r.Metadata), &a.Metadata)
	}
	return a
}
