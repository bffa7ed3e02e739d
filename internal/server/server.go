package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/pulseboard/pulseboard-engine/internal/audit"
	"github.com/pulseboard/pulseboard-engine/internal/cache"
	"github.com/pulseboard/pulseboard-engine/internal/config"
	"github.com/pulseboard/pulseboard-engine/internal/db"
	"github.com/pulseboard/pulseboard-engine/internal/detection"
	"github.com/pulseboard/pulseboard-engine/internal/integration/events"
	"github.com/pulseboard/pulseboard-engine/internal/metrics"
	"github.com/pulseboard/pulseboard-engine/internal/middleware"
	"github.com/pulseboard/pulseboard-engine/internal/timeseries"
	"github.com/pulseboard/pulseboard-engine/pkg/models"
)

// Server is the detection engine server. It exposes the batch and
// streaming detection APIs over HTTP and WebSocket and a gRPC health
// endpoint for orchestrators.
type Server struct {
	config *config.Config
	audit  audit.Logger
	log    *zap.Logger

	// Core components
	registry *detection.Registry
	emitter  events.Emitter
	store    db.Store
	cache    cache.ResultCache
	series   timeseries.Store
	limiter  *middleware.RateLimiter

	hub *anomalyHub

	// HTTP and gRPC servers
	httpServer *http.Server
	grpcServer *grpc.Server
	healthSrv  *health.Server

	// Lifecycle
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// State
	mu      sync.RWMutex
	running bool
}

// NewServer creates a server with all components wired together.
func NewServer(cfg *config.Config, auditLogger audit.Logger) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if auditLogger == nil {
		return nil, fmt.Errorf("audit logger cannot be nil")
	}

	ctx, cancel := context.WithCancel(context.Background())

	srv := &Server{
		config: cfg,
		audit:  auditLogger,
		log:    auditLogger.App(),
		ctx:    ctx,
		cancel: cancel,
	}

	if err := srv.initializeComponents(); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to initialize components: %w", err)
	}

	return srv, nil
}

// initializeComponents initializes all server components.
func (s *Server) initializeComponents() error {
	// 1. Anomaly history store
	store, err := db.NewSQLiteStore(s.config.Database.SQLitePath)
	if err != nil {
		return fmt.Errorf("failed to open anomaly store: %w", err)
	}
	s.store = store

	// 2. Detection registry and sample store
	s.registry = detection.NewRegistry()
	s.series = timeseries.NewStore(0)

	// 3. Batch result cache (if enabled)
	if s.config.Cache.EnableCaching {
		s.cache = cache.New(
			time.Duration(s.config.Cache.TTLSeconds)*time.Second,
			s.config.Cache.MaxEntries,
		)
	}

	// 4. Ingest rate limiter
	s.limiter = middleware.NewRateLimiter(
		s.config.Ingest.RateLimitRPS,
		s.config.Ingest.RateLimitBurst,
	)

	// 5. Anomaly fan-out: persistence, audit trail, WebSocket broadcast.
	s.hub = newAnomalyHub(s.log)
	s.emitter = events.NewEmitter(s.log)
	s.emitter.Subscribe(s.persistAnomaly)
	s.emitter.Subscribe(func(ctx context.Context, a models.Anomaly) {
		_ = s.audit.LogAnomalyDetected(ctx, a.ID, a.MetricName, a.Metadata["algorithm"], string(a.Severity))
	})
	s.emitter.Subscribe(func(ctx context.Context, a models.Anomaly) {
		s.hub.broadcast(a)
	})

	// 6. Re-create streaming detectors persisted before the last restart.
	if err := s.restoreDetectors(); err != nil {
		s.log.Warn("failed to restore detectors", zap.Error(err))
	}

	return nil
}

// persistAnomaly writes an emitted anomaly to the history store.
func (s *Server) persistAnomaly(ctx context.Context, a models.Anomaly) {
	if err := s.store.AppendAnomaly(ctx, db.NewAnomalyRecord(a)); err != nil {
		metrics.HistoryWriteErrors.Inc()
		s.log.Error("failed to persist anomaly",
			zap.String("anomaly_id", a.ID),
			zap.String("metric", a.MetricName),
			zap.Error(err),
		)
		return
	}
	metrics.AnomaliesPersisted.Inc()
}

// restoreDetectors re-registers streaming detectors from the store.
func (s *Server) restoreDetectors() error {
	records, err := s.store.ListDetectors(s.ctx)
	if err != nil {
		return err
	}
	for _, rec := range records {
		cfg, err := decodeDetectorConfig(rec.Config)
		if err != nil {
			s.log.Warn("skipping detector with bad stored config",
				zap.String("detector_id", rec.ID),
				zap.String("metric", rec.MetricName),
				zap.Error(err),
			)
			continue
		}
		id, err := s.registry.Create(rec.MetricName, cfg)
		if err != nil {
			s.log.Warn("failed to restore detector",
				zap.String("metric", rec.MetricName),
				zap.Error(err),
			)
			continue
		}
		// The restored detector has a fresh id; the stored registration
		// must follow it or a later dispose deletes nothing and the
		// detector resurrects on the next restart.
		rec.ID = id
		if err := s.store.SaveDetector(s.ctx, rec); err != nil {
			s.log.Warn("failed to update restored detector registration",
				zap.String("metric", rec.MetricName),
				zap.Error(err),
			)
		}
	}
	metrics.ActiveDetectors.Set(float64(s.registry.Len()))
	return nil
}

// Start starts the HTTP and gRPC servers and background loops.
func (s *Server) Start() error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("server is already running")
	}
	s.running = true
	s.mu.Unlock()

	mux := http.NewServeMux()
	s.registerHandlers(mux)

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", s.config.Server.Port),
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.log.Info("starting HTTP server", zap.Int("port", s.config.Server.Port))
		var err error
		if s.config.Server.TLSEnabled {
			err = s.httpServer.ListenAndServeTLS(s.config.Server.TLSCertPath, s.config.Server.TLSKeyPath)
		} else {
			err = s.httpServer.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			s.log.Error("HTTP server error", zap.Error(err))
		}
	}()

	if err := s.startGRPCHealth(); err != nil {
		return err
	}

	s.wg.Add(1)
	go s.retentionLoop()

	_ = s.audit.Log(s.ctx, audit.NewEvent(audit.EventServerStarted).
		WithDescription("server started").
		WithResult(audit.ResultSuccess))

	s.log.Info("pulseboard engine started",
		zap.Int("http_port", s.config.Server.Port),
		zap.Int("grpc_port", s.config.Server.GRPCPort),
		zap.String("default_algorithm", s.config.Detection.DefaultAlgorithm),
		zap.Bool("caching", s.config.Cache.EnableCaching),
	)

	return nil
}

// startGRPCHealth serves the standard gRPC health protocol so load
// balancers and orchestrators can probe the engine.
func (s *Server) startGRPCHealth() error {
	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", s.config.Server.GRPCPort))
	if err != nil {
		return fmt.Errorf("failed to listen on gRPC port %d: %w", s.config.Server.GRPCPort, err)
	}

	s.grpcServer = grpc.NewServer()
	s.healthSrv = health.NewServer()
	healthpb.RegisterHealthServer(s.grpcServer, s.healthSrv)
	s.healthSrv.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	s.healthSrv.SetServingStatus("pulseboard.engine", healthpb.HealthCheckResponse_SERVING)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.log.Info("starting gRPC health server", zap.Int("port", s.config.Server.GRPCPort))
		if err := s.grpcServer.Serve(lis); err != nil {
			s.log.Error("gRPC server error", zap.Error(err))
		}
	}()
	return nil
}

// retentionLoop prunes anomaly history past the retention window.
func (s *Server) retentionLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			cutoff := time.Now().UTC().AddDate(0, 0, -s.config.Database.RetentionDays)
			n, err := s.store.PruneAnomalies(s.ctx, cutoff)
			if err != nil {
				s.log.Error("anomaly retention prune failed", zap.Error(err))
				continue
			}
			if n > 0 {
				s.log.Info("pruned anomaly history",
					zap.Int64("deleted", n),
					zap.Time("cutoff", cutoff),
				)
			}
		}
	}
}

// Stop gracefully stops the server.
func (s *Server) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return fmt.Errorf("server is not running")
	}
	s.running = false
	s.mu.Unlock()

	s.log.Info("stopping pulseboard engine")

	if s.healthSrv != nil {
		s.healthSrv.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	}

	if s.httpServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			s.log.Error("error shutting down HTTP server", zap.Error(err))
		}
	}
	if s.grpcServer != nil {
		s.grpcServer.GracefulStop()
	}

	s.cancel()
	s.hub.closeAll()
	s.limiter.Stop()
	s.wg.Wait()

	if err := s.store.Close(); err != nil {
		s.log.Error("error closing anomaly store", zap.Error(err))
	}

	_ = s.audit.Log(context.Background(), audit.NewEvent(audit.EventServerShutdown).
		WithDescription("server stopped").
		WithResult(audit.ResultSuccess))

	s.log.Info("pulseboard engine stopped")
	return nil
}

// Wait blocks until the server is stopped.
func (s *Server) Wait() {
	<-s.ctx.Done()
}

// IsRunning returns whether the server is running.
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// registerHandlers registers HTTP handlers.
func (s *Server) registerHandlers(mux *http.ServeMux) {
	// Liveness, readiness, info
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /ready", s.handleReady)
	mux.HandleFunc("GET /info", s.handleInfo)

	// Prometheus metrics
	mux.Handle("GET /metrics", promhttp.Handler())

	// Batch detection
	mux.HandleFunc("POST /api/v1/detect", s.limiter.Middleware(s.handleDetect))

	// Streaming detectors
	mux.HandleFunc("POST /api/v1/detectors", s.handleDetectorCreate)
	mux.HandleFunc("GET /api/v1/detectors", s.handleDetectorList)
	mux.HandleFunc("GET /api/v1/detectors/{id}", s.handleDetectorGet)
	mux.HandleFunc("DELETE /api/v1/detectors/{id}", s.handleDetectorDispose)
	mux.HandleFunc("POST /api/v1/detectors/{id}/points", s.limiter.Middleware(s.handleDetectorPoints))

	// Anomaly history
	mux.HandleFunc("GET /api/v1/anomalies", s.handleAnomaliesQuery)
	mux.HandleFunc("GET /api/v1/anomalies/recent", s.handleAnomaliesRecent)
	mux.HandleFunc("GET /api/v1/anomalies/summary", s.handleAnomaliesSummary)

	// Stored series
	mux.HandleFunc("GET /api/v1/series", s.handleSeriesList)
	mux.HandleFunc("POST /api/v1/series/{metric}/samples", s.limiter.Middleware(s.handleSeriesAppend))
	mux.HandleFunc("GET /api/v1/series/{metric}", s.handleSeriesQuery)
	mux.HandleFunc("GET /api/v1/series/{metric}/trend", s.handleSeriesTrend)
	mux.HandleFunc("GET /api/v1/series/{metric}/aggregate", s.handleSeriesAggregate)
	mux.HandleFunc("POST /api/v1/series/{metric}/detect", s.handleSeriesDetect)

	// WebSocket ingest and anomaly broadcast
	mux.HandleFunc("GET /stream", s.handleStream)
	mux.HandleFunc("GET /ws/anomalies", s.handleAnomaliesWS)
}
