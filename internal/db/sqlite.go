package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // pure-Go SQLite driver (no CGO required)
)

// Schema version is tracked in the schema_versions table.
var migrations = []struct {
	version int
	sql     string
}{
	{
		version: 1,
		sql: `
CREATE TABLE IF NOT EXISTS schema_versions (
    version     INTEGER PRIMARY KEY,
    applied_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS anomalies (
    id              TEXT PRIMARY KEY,
    metric_name     TEXT NOT NULL,
    timestamp       DATETIME NOT NULL,
    value           REAL NOT NULL DEFAULT 0.0,
    expected_value  REAL NOT NULL DEFAULT 0.0,
    score           REAL NOT NULL DEFAULT 0.0,
    severity        TEXT NOT NULL DEFAULT 'low',
    explanation     TEXT NOT NULL DEFAULT '',
    recommendations TEXT NOT NULL DEFAULT '[]',
    metadata        TEXT NOT NULL DEFAULT '{}',
    created_at      DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_anomalies_metric    ON anomalies(metric_name, timestamp DESC);
CREATE INDEX IF NOT EXISTS idx_anomalies_timestamp ON anomalies(timestamp DESC);
CREATE INDEX IF NOT EXISTS idx_anomalies_severity  ON anomalies(severity);
`,
	},
	// Migration 2: detector registrations for restart recovery.
	{
		version: 2,
		sql: `
CREATE TABLE IF NOT EXISTS detectors (
    id          TEXT PRIMARY KEY,
    metric_name TEXT NOT NULL UNIQUE,
    config      TEXT NOT NULL DEFAULT '{}',
    created_at  DATETIME NOT NULL
);
`,
	},
}

// sqliteStore is the SQLite-backed implementation of Store.
type sqliteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at the given path and
// runs all pending schema migrations. Pass ":memory:" for an in-memory store.
func NewSQLiteStore(path string) (Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %q: %w", path, err)
	}

	// Enable WAL mode for better concurrency and performance.
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
	}

	s := &sqliteStore{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// migrate applies any unapplied migrations in order.
func (s *sqliteStore) migrate() error {
	// Ensure schema_versions table exists before reading from it.
	_, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_versions (
        version    INTEGER PRIMARY KEY,
        applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
    )`)
	if err != nil {
		return fmt.Errorf("create schema_versions: %w", err)
	}

	for _, m := range migrations {
		var count int
		err := s.db.QueryRow(`SELECT COUNT(*) FROM schema_versions WHERE version = ?`, m.version).Scan(&count)
		if err != nil {
			return fmt.Errorf("check migration %d: %w", m.version, err)
		}
		if count > 0 {
			continue // already applied
		}

		if _, err := s.db.Exec(m.sql); err != nil {
			return fmt.Errorf("apply migration %d: %w", m.version, err)
		}

		if _, err := s.db.Exec(`INSERT INTO schema_versions(version) VALUES(?)`, m.version); err != nil {
			return fmt.Errorf("record migration %d: %w", m.version, err)
		}
	}
	return nil
}

func (s *sqliteStore) Close() error { return s.db.Close() }

func (s *sqliteStore) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// ─── Anomalies ───────────────────────────────────────────────────────────────

func (s *sqliteStore) AppendAnomaly(ctx context.Context, rec *AnomalyRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
        INSERT INTO anomalies(id, metric_name, timestamp, value, expected_value, score, severity, explanation, recommendations, metadata, created_at)
        VALUES(?,?,?,?,?,?,?,?,?,?,?)
        ON CONFLICT(id) DO NOTHING
    `,
		rec.ID, rec.MetricName, rec.Timestamp.UTC(), rec.Value, rec.ExpectedValue,
		rec.Score, rec.Severity, rec.Explanation, rec.Recommendations, rec.Metadata,
		rec.CreatedAt.UTC(),
	)
	return err
}

func (s *sqliteStore) QueryAnomalies(ctx context.Context, q AnomalyQuery) ([]*AnomalyRecord, error) {
	query := `SELECT id,metric_name,timestamp,value,expected_value,score,severity,explanation,recommendations,metadata,created_at FROM anomalies WHERE 1=1`
	args := []any{}

	if q.MetricName != "" {
		query += ` AND metric_name = ?`
		args = append(args, q.MetricName)
	}
	if q.Severity != "" {
		query += ` AND severity = ?`
		args = append(args, q.Severity)
	}
	if !q.From.IsZero() {
		query += ` AND timestamp >= ?`
		args = append(args, q.From.UTC())
	}
	if !q.To.IsZero() {
		query += ` AND timestamp <= ?`
		args = append(args, q.To.UTC())
	}
	query += ` ORDER BY timestamp DESC`
	if q.Limit > 0 {
		query += fmt.Sprintf(` LIMIT %d OFFSET %d`, q.Limit, q.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*AnomalyRecord
	for rows.Next() {
		rec, err := scanAnomaly(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, rec)
	}
	return result, rows.Err()
}

func (s *sqliteStore) GetAnomaly(ctx context.Context, id string) (*AnomalyRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id,metric_name,timestamp,value,expected_value,score,severity,explanation,recommendations,metadata,created_at FROM anomalies WHERE id=?`, id)
	return scanAnomaly(row)
}

func (s *sqliteStore) AnomalySummary(ctx context.Context, from, to time.Time) (map[string]int, error) {
	query := `SELECT severity, COUNT(*) FROM anomalies WHERE 1=1`
	args := []any{}
	if !from.IsZero() {
		query += ` AND timestamp >= ?`
		args = append(args, from.UTC())
	}
	if !to.IsZero() {
		query += ` AND timestamp <= ?`
		args = append(args, to.UTC())
	}
	query += ` GROUP BY severity`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	summary := map[string]int{}
	for rows.Next() {
		var sev string
		var count int
		if err := rows.Scan(&sev, &count); err != nil {
			return nil, err
		}
		summary[sev] = count
	}
	return summary, rows.Err()
}

func (s *sqliteStore) PruneAnomalies(ctx context.Context, before time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM anomalies WHERE timestamp < ?`, before.UTC())
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// ─── Detectors ───────────────────────────────────────────────────────────────

func (s *sqliteStore) SaveDetector(ctx context.Context, rec *DetectorRecord) error {
	// One registration per metric; replacing a detector for a metric
	// replaces its row.
	_, err := s.db.ExecContext(ctx, `
        INSERT INTO detectors(id, metric_name, config, created_at)
        VALUES(?,?,?,?)
        ON CONFLICT(metric_name) DO UPDATE SET
            id         = excluded.id,
            config     = excluded.config,
            created_at = excluded.created_at
    `,
		rec.ID, rec.MetricName, rec.Config, rec.CreatedAt.UTC(),
	)
	return err
}

func (s *sqliteStore) ListDetectors(ctx context.Context) ([]*DetectorRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id,metric_name,config,created_at FROM detectors ORDER BY created_at ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*DetectorRecord
	for rows.Next() {
		rec := &DetectorRecord{}
		var ts string
		if err := rows.Scan(&rec.ID, &rec.MetricName, &rec.Config, &ts); err != nil {
			return nil, err
		}
		rec.CreatedAt, _ = parseTime(ts)
		result = append(result, rec)
	}
	return result, rows.Err()
}

func (s *sqliteStore) DeleteDetector(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM detectors WHERE id=?`, id)
	return err
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAnomaly(row rowScanner) (*AnomalyRecord, error) {
	rec := &AnomalyRecord{}
	var ts, created string
	err := row.Scan(&rec.ID, &rec.MetricName, &ts, &rec.Value, &rec.ExpectedValue,
		&rec.Score, &rec.Severity, &rec.Explanation, &rec.Recommendations, &rec.Metadata, &created)
	if err != nil {
		return nil, err
	}
	rec.Timestamp, _ = parseTime(ts)
	rec.CreatedAt, _ = parseTime(created)
	return rec, nil
}

// parseTime handles multiple SQLite datetime formats.
func parseTime(s string) (time.Time, error) {
	layouts := []string{
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02T15:04:05.999999999Z07:00",
		"2006-01-02 15:04:05.999999999Z07:00",
		"2006-01-02 15:04:05Z07:00",
		"2006-01-02 15:04:05",
		"2006-01-02T15:04:05",
	}
	for _, l := range layouts {
		if t, err := time.Parse(l, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("cannot parse time %q", s)
}
