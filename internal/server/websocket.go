package server

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/pulseboard/pulseboard-engine/internal/metrics"
	"github.com/pulseboard/pulseboard-engine/pkg/models"
)

// WebSocket message types
const (
	MessageTypePoint     = "point"
	MessageTypeAnomaly   = "anomaly"
	MessageTypeAck       = "ack"
	MessageTypeError     = "error"
	MessageTypeHeartbeat = "heartbeat"
)

// StreamRequest is an incoming ingest message on /stream.
type StreamRequest struct {
	Type       string        `json:"type"`
	MetricName string        `json:"metric_name"`
	Sample     models.Sample `json:"sample"`
}

// StreamMessage is an outgoing message on /stream and /ws/anomalies.
type StreamMessage struct {
	Type      string          `json:"type"`
	Anomaly   *models.Anomaly `json:"anomaly,omitempty"`
	Error     string          `json:"error,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// defaultOrigins are the development origins accepted when no allow
// list is configured.
var defaultOrigins = []string{"http://localhost:3000", "http://localhost:5173"}

// newUpgrader builds a WebSocket upgrader enforcing the origin allow
// list. An empty list falls back to defaultOrigins; "*" allows any
// origin. Requests without an Origin header (non-browser clients) are
// always accepted.
func newUpgrader(allowedOrigins []string) websocket.Upgrader {
	allowed := allowedOrigins
	if len(allowed) == 0 {
		allowed = defaultOrigins
	}
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}
			for _, o := range allowed {
				if o == "*" || strings.EqualFold(o, origin) {
					return true
				}
			}
			return false
		},
	}
}

// ─── Ingest stream ───────────────────────────────────────────────────────────

// handleStream handles WebSocket metric ingestion. Each point message is
// routed to the streaming detector registered for its metric; detected
// anomalies are sent back on the same connection and fanned out to all
// anomaly subscribers.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	upgrader := newUpgrader(s.config.Server.AllowedOrigins)
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("WebSocket upgrade failed", zap.Error(err))
		return
	}

	sc := &streamConn{
		conn:   conn,
		server: s,
		client: r.RemoteAddr,
	}

	metrics.WebSocketConnections.Inc()
	defer metrics.WebSocketConnections.Dec()

	s.log.Info("ingest stream connected", zap.String("client", sc.client))
	sc.handle()
}

// streamConn is one active ingest connection.
type streamConn struct {
	conn   *websocket.Conn
	server *Server
	client string
	mu     sync.Mutex
}

func (sc *streamConn) handle() {
	defer func() {
		sc.conn.Close()
		sc.server.log.Info("ingest stream closed", zap.String("client", sc.client))
	}()

	done := make(chan struct{})
	defer close(done)
	go sc.heartbeat(done)

	for {
		select {
		case <-sc.server.ctx.Done():
			return
		default:
		}

		var req StreamRequest
		if err := sc.conn.ReadJSON(&req); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				sc.server.log.Warn("ingest stream read error",
					zap.String("client", sc.client), zap.Error(err))
			}
			return
		}
		metrics.WebSocketMessagesTotal.WithLabelValues("inbound").Inc()
		sc.process(&req)
	}
}

func (sc *streamConn) process(req *StreamRequest) {
	if req.MetricName == "" {
		metrics.IngestRejected.WithLabelValues("malformed").Inc()
		sc.sendError("metric_name is required")
		return
	}
	if !sc.server.limiter.Allow(sc.client) {
		metrics.IngestRejected.WithLabelValues("rate_limited").Inc()
		sc.sendError("rate limit exceeded")
		return
	}

	anomaly, err := sc.server.registry.ProcessMetric(req.MetricName, req.Sample)
	if err != nil {
		metrics.IngestRejected.WithLabelValues("unknown_detector").Inc()
		sc.sendError(err.Error())
		return
	}
	metrics.PointsProcessed.WithLabelValues(req.MetricName, "active").Inc()

	if anomaly == nil {
		return
	}
	metrics.AnomaliesDetected.WithLabelValues(
		anomaly.MetricName, anomaly.Metadata["algorithm"], string(anomaly.Severity)).Inc()
	sc.server.emitter.Emit(sc.server.ctx, *anomaly)
	sc.send(&StreamMessage{
		Type:      MessageTypeAnomaly,
		Anomaly:   anomaly,
		Timestamp: time.Now().UTC(),
	})
}

func (sc *streamConn) send(msg *StreamMessage) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	if err := sc.conn.WriteJSON(msg); err == nil {
		metrics.WebSocketMessagesTotal.WithLabelValues("outbound").Inc()
	}
}

func (sc *streamConn) sendError(errMsg string) {
	sc.send(&StreamMessage{
		Type:      MessageTypeError,
		Error:     errMsg,
		Timestamp: time.Now().UTC(),
	})
}

func (sc *streamConn) heartbeat(done <-chan struct{}) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-sc.server.ctx.Done():
			return
		case <-ticker.C:
			sc.send(&StreamMessage{
				Type:      MessageTypeHeartbeat,
				Timestamp: time.Now().UTC(),
			})
		}
	}
}

// ─── Anomaly broadcast ───────────────────────────────────────────────────────

// anomalyHub pushes every emitted anomaly to all /ws/anomalies clients.
type anomalyHub struct {
	mu      sync.Mutex
	clients map[*websocket.Conn]bool
	log     *zap.Logger
}

func newAnomalyHub(log *zap.Logger) *anomalyHub {
	if log == nil {
		log = zap.NewNop()
	}
	return &anomalyHub{
		clients: make(map[*websocket.Conn]bool),
		log:     log,
	}
}

func (h *anomalyHub) add(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[conn] = true
	metrics.WebSocketConnections.Inc()
}

func (h *anomalyHub) remove(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.clients[conn] {
		delete(h.clients, conn)
		metrics.WebSocketConnections.Dec()
	}
}

// broadcast writes the anomaly to every connected client, dropping
// clients whose writes fail.
func (h *anomalyHub) broadcast(a models.Anomaly) {
	msg := &StreamMessage{
		Type:      MessageTypeAnomaly,
		Anomaly:   &a,
		Timestamp: time.Now().UTC(),
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for conn := range h.clients {
		conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		if err := conn.WriteJSON(msg); err != nil {
			h.log.Warn("dropping anomaly subscriber", zap.Error(err))
			conn.Close()
			delete(h.clients, conn)
			metrics.WebSocketConnections.Dec()
			continue
		}
		metrics.WebSocketMessagesTotal.WithLabelValues("outbound").Inc()
	}
}

func (h *anomalyHub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for conn := range h.clients {
		conn.Close()
		delete(h.clients, conn)
		metrics.WebSocketConnections.Dec()
	}
}

// handleAnomaliesWS streams every detected anomaly to the client.
func (s *Server) handleAnomaliesWS(w http.ResponseWriter, r *http.Request) {
	upgrader := newUpgrader(s.config.Server.AllowedOrigins)
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("WebSocket upgrade failed", zap.Error(err))
		return
	}

	s.hub.add(conn)
	defer s.hub.remove(conn)
	defer conn.Close()

	// Drain control frames until the client disconnects.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
