package audit

import "time"

// EventType represents the type of audit event
type EventType string

const (
	// Detector lifecycle events
	EventDetectorCreated  EventType = "detector.created"
	EventDetectorReplaced EventType = "detector.replaced"
	EventDetectorDisposed EventType = "detector.disposed"

	// Detection events
	EventAnomalyDetected EventType = "detection.anomaly"
	EventBatchCompleted  EventType = "detection.batch_completed"
	EventBatchFailed     EventType = "detection.batch_failed"

	// Configuration events
	EventConfigLoaded   EventType = "config.loaded"
	EventConfigChanged  EventType = "config.changed"
	EventConfigRejected EventType = "config.rejected"

	// Ingest events
	EventIngestRejected EventType = "ingest.rejected"

	// System events
	EventServerStarted  EventType = "system.server_started"
	EventServerShutdown EventType = "system.server_shutdown"
	EventHealthCheck    EventType = "system.health_check"
)

// Result represents the outcome of an audited operation
type Result string

const (
	ResultSuccess Result = "success"
	ResultFailure Result = "failure"
	ResultDenied  Result = "denied"
)

// Event represents a single audit event
type Event struct {
	// Core fields
	Timestamp     time.Time `json:"timestamp"`
	CorrelationID string    `json:"correlation_id"`
	EventType     EventType `json:"event_type"`
	Result        Result    `json:"result"`

	// Caller information
	User      string `json:"user,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`
	SourceIP  string `json:"source_ip,omitempty"`

	// Subject information
	MetricName string `json:"metric_name,omitempty"`
	DetectorID string `json:"detector_id,omitempty"`
	Algorithm  string `json:"algorithm,omitempty"`
	Severity   string `json:"severity,omitempty"`

	// Details
	Description string                 `json:"description,omitempty"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`

	// Error information
	Error     string `json:"error,omitempty"`
	ErrorCode string `json:"error_code,omitempty"`

	// Duration tracking
	DurationMs int64 `json:"duration_ms,omitempty"`
}

// NewEvent creates a new audit event with default values
func NewEvent(eventType EventType) *Event {
	return &Event{
		Timestamp: time.Now().UTC(),
		EventType: eventType,
		Result:    ResultSuccess,
		Metadata:  make(map[string]interface{}),
	}
}

// WithCorrelationID sets the correlation ID for event tracking
func (e *Event) WithCorrelationID(id string) *Event {
	e.CorrelationID = id
	return e
}

// WithUser sets the user who triggered the event
func (e *Event) WithUser(user string) *Event {
	e.User = user
	return e
}

// WithMetric sets the metric the event concerns
func (e *Event) WithMetric(metricName string) *Event {
	e.MetricName = metricName
	return e
}

// WithDetector sets the detector the event concerns
func (e *Event) WithDetector(detectorID string) *Event {
	e.DetectorID = detectorID
	return e
}

// WithAlgorithm sets the algorithm involved
func (e *Event) WithAlgorithm(algorithm string) *Event {
	e.Algorithm = algorithm
	return e
}

// WithSeverity sets the severity of a detected anomaly
func (e *Event) WithSeverity(severity string) *Event {
	e.Severity = severity
	return e
}

// WithDescription sets a human-readable description
func (e *Event) WithDescription(desc string) *Event {
	e.Description = desc
	return e
}

// WithResult sets the result of the event
func (e *Event) WithResult(result Result) *Event {
	e.Result = result
	return e
}

// WithError sets error information
func (e *Event) WithError(err error, code string) *Event {
	if err != nil {
		e.Error = err.Error()
		e.ErrorCode = code
		e.Result = ResultFailure
	}
	return e
}

// WithDuration sets the duration in milliseconds
func (e *Event) WithDuration(duration time.Duration) *Event {
	e.DurationMs = duration.Milliseconds()
	return e
}

// WithMetadata adds metadata to the event
func (e *Event) WithMetadata(key string, value interface{}) *Event {
	e.Metadata[key] = value
	return e
}
