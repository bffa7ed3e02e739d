package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/pulseboard/pulseboard-engine/internal/cache"
	"github.com/pulseboard/pulseboard-engine/internal/db"
	"github.com/pulseboard/pulseboard-engine/internal/detection"
	"github.com/pulseboard/pulseboard-engine/internal/metrics"
	"github.com/pulseboard/pulseboard-engine/pkg/models"
	"github.com/pulseboard/pulseboard-engine/pkg/types"
)

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, types.ErrorResponse{Error: msg})
}

// statusForError maps detection errors to HTTP status codes.
func statusForError(err error) int {
	switch {
	case errors.Is(err, detection.ErrInvalidConfig):
		return http.StatusBadRequest
	case errors.Is(err, detection.ErrUnknownDetector):
		return http.StatusNotFound
	case errors.Is(err, detection.ErrDetectorDisposed):
		return http.StatusGone
	default:
		return http.StatusInternalServerError
	}
}

// ─── Health / info ───────────────────────────────────────────────────────────

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if !s.IsRunning() || s.store.Ping(r.Context()) != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not_ready"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "ready",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"name":                "pulseboard-engine",
		"version":             "0.1.0",
		"default_algorithm":   s.config.Detection.DefaultAlgorithm,
		"default_sensitivity": s.config.Detection.DefaultSensitivity,
		"caching_enabled":     s.config.Cache.EnableCaching,
		"active_detectors":    s.registry.Len(),
		"timestamp":           time.Now().UTC().Format(time.RFC3339),
	})
}

// ─── Batch detection ─────────────────────────────────────────────────────────

func (s *Server) handleDetect(w http.ResponseWriter, r *http.Request) {
	var req types.DetectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request: %v", err))
		return
	}
	if req.MetricName == "" {
		writeError(w, http.StatusBadRequest, "metric_name is required")
		return
	}
	if len(req.Samples) == 0 {
		writeError(w, http.StatusBadRequest, "samples cannot be empty")
		return
	}
	if max := s.config.Ingest.MaxBatchPoints; max > 0 && len(req.Samples) > max {
		metrics.IngestRejected.WithLabelValues("oversized_batch").Inc()
		writeError(w, http.StatusRequestEntityTooLarge,
			fmt.Sprintf("series of %d points exceeds the %d point limit", len(req.Samples), max))
		return
	}

	result, err := s.runBatchDetection(r, req)
	if err != nil {
		writeError(w, statusForError(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, types.DetectResponse{
		Result:    result,
		Timestamp: time.Now().UTC(),
	})
}

// runBatchDetection executes one batch run with caching, persistence and
// audit. Cached results are returned as-is and do not re-emit anomalies.
func (s *Server) runBatchDetection(r *http.Request, req types.DetectRequest) (*models.AnomalyDetectionResult, error) {
	cfg := s.detectionDefaults(req.Config)

	var key string
	if s.cache != nil && len(req.TruthIndices) == 0 {
		key = cache.Key(req.MetricName, cfg, req.Samples)
		if cached, ok := s.cache.Get(r.Context(), key); ok {
			metrics.CacheHits.Inc()
			return cached, nil
		}
		metrics.CacheMisses.Inc()
	}

	start := time.Now()
	result, err := detection.DetectAnomaliesWithTruth(req.MetricName, req.Samples, cfg, req.TruthIndices)
	if err != nil {
		metrics.BatchRunsTotal.WithLabelValues(string(cfg.Algorithm), "error").Inc()
		_ = s.audit.LogBatchFailed(r.Context(), req.MetricName, err)
		return nil, err
	}
	elapsed := time.Since(start)

	metrics.BatchRunsTotal.WithLabelValues(string(result.Summary.AlgorithmUsed), "success").Inc()
	metrics.BatchRunDuration.WithLabelValues(string(result.Summary.AlgorithmUsed)).Observe(elapsed.Seconds())
	_ = s.audit.LogBatchCompleted(r.Context(), req.MetricName, string(result.Summary.AlgorithmUsed),
		len(result.Anomalies), elapsed)

	for _, a := range result.Anomalies {
		s.emitter.Emit(r.Context(), a)
	}

	if key != "" {
		s.cache.Set(r.Context(), key, result)
	}
	return result, nil
}

// detectionDefaults fills unset request config fields from server config.
func (s *Server) detectionDefaults(cfg models.DetectionConfig) models.DetectionConfig {
	if cfg.Algorithm == "" {
		cfg.Algorithm = models.Algorithm(s.config.Detection.DefaultAlgorithm)
	}
	if cfg.Sensitivity == "" {
		cfg.Sensitivity = models.Sensitivity(s.config.Detection.DefaultSensitivity)
	}
	if cfg.WindowSize == 0 {
		cfg.WindowSize = s.config.Detection.DefaultWindowSize
	}
	if cfg.MinSamples == 0 {
		cfg.MinSamples = s.config.Detection.DefaultMinSamples
	}
	return cfg
}

// ─── Streaming detectors ─────────────────────────────────────────────────────

func (s *Server) handleDetectorCreate(w http.ResponseWriter, r *http.Request) {
	var req types.CreateDetectorRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request: %v", err))
		return
	}

	cfg := s.detectionDefaults(req.Config)
	prevID, replaced := s.registry.Lookup(req.MetricName)

	id, err := s.registry.Create(req.MetricName, cfg)
	if err != nil {
		writeError(w, statusForError(err), err.Error())
		return
	}

	metrics.DetectorsCreated.Inc()
	if replaced {
		metrics.DetectorsReplaced.Inc()
		_ = s.audit.LogDetectorReplaced(r.Context(), prevID, id, req.MetricName)
		_ = s.store.DeleteDetector(r.Context(), prevID)
	} else {
		_ = s.audit.LogDetectorCreated(r.Context(), id, req.MetricName, string(cfg.Algorithm))
	}
	metrics.ActiveDetectors.Set(float64(s.registry.Len()))

	if err := s.saveDetector(r, id, req.MetricName, cfg); err != nil {
		s.log.Warn("failed to persist detector registration",
			zap.String("detector_id", id), zap.Error(err))
	}

	det, err := s.registry.Get(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, det.Info())
}

func (s *Server) saveDetector(r *http.Request, id, metricName string, cfg models.DetectionConfig) error {
	encoded, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	return s.store.SaveDetector(r.Context(), &db.DetectorRecord{
		ID:         id,
		MetricName: metricName,
		Config:     string(encoded),
		CreatedAt:  time.Now().UTC(),
	})
}

func decodeDetectorConfig(encoded string) (models.DetectionConfig, error) {
	var cfg models.DetectionConfig
	if err := json.Unmarshal([]byte(encoded), &cfg); err != nil {
		return models.DetectionConfig{}, err
	}
	return cfg, nil
}

func (s *Server) handleDetectorList(w http.ResponseWriter, r *http.Request) {
	infos := s.registry.List()
	writeJSON(w, http.StatusOK, types.DetectorListResponse{
		Detectors: infos,
		Count:     len(infos),
	})
}

func (s *Server) handleDetectorGet(w http.ResponseWriter, r *http.Request) {
	det, err := s.registry.Get(r.PathValue("id"))
	if err != nil {
		writeError(w, statusForError(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, det.Info())
}

func (s *Server) handleDetectorDispose(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	det, err := s.registry.Get(id)
	if err != nil {
		writeError(w, statusForError(err), err.Error())
		return
	}
	metricName := det.Info().MetricName

	if err := s.registry.Dispose(id); err != nil {
		writeError(w, statusForError(err), err.Error())
		return
	}
	metrics.ActiveDetectors.Set(float64(s.registry.Len()))
	_ = s.audit.LogDetectorDisposed(r.Context(), id, metricName)
	_ = s.store.DeleteDetector(r.Context(), id)

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDetectorPoints(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var req types.PointsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request: %v", err))
		return
	}
	if len(req.Samples) == 0 {
		writeError(w, http.StatusBadRequest, "samples cannot be empty")
		return
	}

	det, err := s.registry.Get(id)
	if err != nil {
		writeError(w, statusForError(err), err.Error())
		return
	}
	metricName := det.Info().MetricName

	var anomalies []models.Anomaly
	for _, sample := range req.Samples {
		a, err := s.registry.Process(id, sample)
		if err != nil {
			writeError(w, statusForError(err), err.Error())
			return
		}
		metrics.PointsProcessed.WithLabelValues(metricName, string(det.Info().State)).Inc()
		if a != nil {
			metrics.AnomaliesDetected.WithLabelValues(
				a.MetricName, a.Metadata["algorithm"], string(a.Severity)).Inc()
			s.emitter.Emit(r.Context(), *a)
			anomalies = append(anomalies, *a)
		}
	}

	writeJSON(w, http.StatusOK, types.PointsResponse{
		Processed: len(req.Samples),
		Anomalies: anomalies,
		Detector:  det.Info(),
	})
}

// ─── Anomaly history ─────────────────────────────────────────────────────────

func (s *Server) handleAnomaliesQuery(w http.ResponseWriter, r *http.Request) {
	q := db.AnomalyQuery{
		MetricName: r.URL.Query().Get("metric"),
		Severity:   r.URL.Query().Get("severity"),
		Limit:      intParam(r, "limit", 100),
		Offset:     intParam(r, "offset", 0),
	}
	var err error
	if q.From, err = timeParam(r, "from"); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if q.To, err = timeParam(r, "to"); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	records, err := s.store.QueryAnomalies(r.Context(), q)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	anomalies := make([]models.Anomaly, 0, len(records))
	for _, rec := range records {
		anomalies = append(anomalies, rec.Anomaly())
	}
	writeJSON(w, http.StatusOK, types.AnomalyListResponse{
		Anomalies: anomalies,
		Count:     len(anomalies),
	})
}

func (s *Server) handleAnomaliesRecent(w http.ResponseWriter, r *http.Request) {
	anomalies := s.emitter.Recent(r.URL.Query().Get("metric"), intParam(r, "limit", 50))
	writeJSON(w, http.StatusOK, types.AnomalyListResponse{
		Anomalies: anomalies,
		Count:     len(anomalies),
	})
}

func (s *Server) handleAnomaliesSummary(w http.ResponseWriter, r *http.Request) {
	from, err := timeParam(r, "from")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	to, err := timeParam(r, "to")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	summary, err := s.store.AnomalySummary(r.Context(), from, to)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"by_severity": summary,
		"timestamp":   time.Now().UTC(),
	})
}

// ─── Stored series ───────────────────────────────────────────────────────────

func (s *Server) handleSeriesList(w http.ResponseWriter, r *http.Request) {
	names := s.series.Metrics(r.Context())
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"metrics": names,
		"count":   len(names),
	})
}

func (s *Server) handleSeriesAppend(w http.ResponseWriter, r *http.Request) {
	metric := r.PathValue("metric")

	var req types.PointsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request: %v", err))
		return
	}
	if len(req.Samples) == 0 {
		writeError(w, http.StatusBadRequest, "samples cannot be empty")
		return
	}

	if err := s.series.AppendBatch(r.Context(), metric, req.Samples); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	// Stored series changed; any cached batch result for it is stale.
	if s.cache != nil {
		s.cache.InvalidateMetric(r.Context(), metric)
	}
	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"stored": len(req.Samples),
		"total":  s.series.Len(r.Context(), metric),
	})
}

func (s *Server) handleSeriesQuery(w http.ResponseWriter, r *http.Request) {
	metric := r.PathValue("metric")
	from, err := timeParam(r, "from")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	to, err := timeParam(r, "to")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	samples, err := s.series.Query(r.Context(), metric, from, to)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"metric_name": metric,
		"samples":     samples,
		"count":       len(samples),
	})
}

func (s *Server) handleSeriesTrend(w http.ResponseWriter, r *http.Request) {
	metric := r.PathValue("metric")
	from, err := timeParam(r, "from")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	to, err := timeParam(r, "to")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	trend, err := s.series.Trend(r.Context(), metric, from, to)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, trend)
}

func (s *Server) handleSeriesAggregate(w http.ResponseWriter, r *http.Request) {
	metric := r.PathValue("metric")
	kind := r.URL.Query().Get("kind")
	if kind == "" {
		kind = "avg"
	}
	from, err := timeParam(r, "from")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	to, err := timeParam(r, "to")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	value, err := s.series.Aggregate(r.Context(), metric, from, to, kind)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"metric_name": metric,
		"kind":        kind,
		"value":       value,
	})
}

// handleSeriesDetect runs batch detection over the stored samples of a
// metric instead of a caller-supplied series.
func (s *Server) handleSeriesDetect(w http.ResponseWriter, r *http.Request) {
	metric := r.PathValue("metric")

	var req types.SeriesDetectRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request: %v", err))
			return
		}
	}

	samples, err := s.series.Query(r.Context(), metric, req.From, req.To)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	if len(samples) == 0 {
		writeError(w, http.StatusBadRequest, "no stored samples in range")
		return
	}

	result, err := s.runBatchDetection(r, types.DetectRequest{
		MetricName: metric,
		Samples:    samples,
		Config:     req.Config,
	})
	if err != nil {
		writeError(w, statusForError(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, types.DetectResponse{
		Result:    result,
		Timestamp: time.Now().UTC(),
	})
}

// ─── Query param helpers ─────────────────────────────────────────────────────

func intParam(r *http.Request, name string, def int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def
	}
	var v int
	if _, err := fmt.Sscanf(raw, "%d", &v); err != nil {
		return def
	}
	return v
}

func timeParam(r *http.Request, name string) (time.Time, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid %s: %v", name, err)
	}
	return t, nil
}
