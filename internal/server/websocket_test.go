package server

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pulseboard/pulseboard-engine/pkg/models"
)

func dialStream(t *testing.T, mux *http.ServeMux, path string) *websocket.Conn {
	t.Helper()
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + path
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// readNonHeartbeat reads messages until a non-heartbeat arrives.
func readNonHeartbeat(t *testing.T, conn *websocket.Conn) StreamMessage {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for {
		require.NoError(t, conn.SetReadDeadline(deadline))
		var msg StreamMessage
		require.NoError(t, conn.ReadJSON(&msg))
		if msg.Type != MessageTypeHeartbeat {
			return msg
		}
	}
}

func TestStreamIngestDetectsAnomaly(t *testing.T) {
	srv, mux := newTestServer(t)

	cfg := models.DetectionConfig{
		Algorithm:   models.AlgorithmZScore,
		Sensitivity: models.SensitivityMedium,
		WindowSize:  50,
		MinSamples:  10,
	}
	_, err := srv.registry.Create("cpu", cfg)
	require.NoError(t, err)

	conn := dialStream(t, mux, "/stream")

	base := time.Now().UTC()
	send := func(value float64, i int) {
		require.NoError(t, conn.WriteJSON(StreamRequest{
			Type:       MessageTypePoint,
			MetricName: "cpu",
			Sample: models.Sample{
				Timestamp: base.Add(time.Duration(i) * time.Second),
				Value:     value,
			},
		}))
	}

	for i := 0; i < 20; i++ {
		send(50+float64(i%3)-1, i)
	}
	send(500, 20)

	msg := readNonHeartbeat(t, conn)
	require.Equal(t, MessageTypeAnomaly, msg.Type)
	require.NotNil(t, msg.Anomaly)
	assert.Equal(t, "cpu", msg.Anomaly.MetricName)
	assert.Equal(t, 500.0, msg.Anomaly.Value)

	// The anomaly also reached the emitter's recent buffer.
	recent := srv.emitter.Recent("cpu", 10)
	require.Len(t, recent, 1)
}

func TestStreamRejectsUnknownMetric(t *testing.T) {
	_, mux := newTestServer(t)
	conn := dialStream(t, mux, "/stream")

	require.NoError(t, conn.WriteJSON(StreamRequest{
		Type:       MessageTypePoint,
		MetricName: "nobody-registered-this",
		Sample:     models.Sample{Timestamp: time.Now(), Value: 1},
	}))

	msg := readNonHeartbeat(t, conn)
	assert.Equal(t, MessageTypeError, msg.Type)
	assert.Contains(t, msg.Error, "unknown detector")
}

func TestStreamRejectsMissingMetricName(t *testing.T) {
	_, mux := newTestServer(t)
	conn := dialStream(t, mux, "/stream")

	require.NoError(t, conn.WriteJSON(StreamRequest{Type: MessageTypePoint}))

	msg := readNonHeartbeat(t, conn)
	assert.Equal(t, MessageTypeError, msg.Type)
}

func TestAnomalyBroadcast(t *testing.T) {
	srv, mux := newTestServer(t)
	conn := dialStream(t, mux, "/ws/anomalies")

	// Give the hub a moment to register the connection.
	require.Eventually(t, func() bool {
		srv.hub.mu.Lock()
		defer srv.hub.mu.Unlock()
		return len(srv.hub.clients) == 1
	}, 2*time.Second, 10*time.Millisecond)

	srv.emitter.Emit(srv.ctx, models.Anomaly{
		ID:         "bc-1",
		MetricName: "cpu",
		Value:      99,
		Severity:   models.SeverityHigh,
		Timestamp:  time.Now().UTC(),
	})

	msg := readNonHeartbeat(t, conn)
	require.Equal(t, MessageTypeAnomaly, msg.Type)
	require.NotNil(t, msg.Anomaly)
	assert.Equal(t, "bc-1", msg.Anomaly.ID)
}
