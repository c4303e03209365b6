package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the voice service
type Metrics struct {
	registry *prometheus.Registry

	// HTTP Request Metrics
	httpRequestsTotal    *prometheus.CounterVec
	httpRequestDuration  *prometheus.HistogramVec
	httpRequestsInFlight prometheus.Gauge

	// Database Metrics
	dbQueryDuration    *prometheus.HistogramVec
	dbQueryErrorsTotal *prometheus.CounterVec
	dbConnsInUse       prometheus.Gauge
	dbPoolRejected     prometheus.Counter

	// Redis Metrics
	redisCommandsTotal *prometheus.CounterVec
	redisErrorsTotal   *prometheus.CounterVec
	redisDegraded      prometheus.Gauge

	// WebSocket Metrics
	websocketConnections   *prometheus.GaugeVec
	websocketMessagesTotal *prometheus.CounterVec
	websocketErrorsTotal   *prometheus.CounterVec

	// Call Metrics
	callsTotal       *prometheus.CounterVec
	callsActive      prometheus.Gauge
	callsDuration    *prometheus.HistogramVec
	callsFailedTotal *prometheus.CounterVec

	// Turn Metrics
	turnsTotal        *prometheus.CounterVec
	turnLatency       *prometheus.HistogramVec
	bargeInsTotal     *prometheus.CounterVec
	vadFramesTotal    *prometheus.CounterVec
	vadFallbackTotal  prometheus.Counter
	vadBacklogBytes   prometheus.Histogram
	playbackChunks    *prometheus.CounterVec
	tokensTotal       *prometheus.CounterVec
	persistenceWrites *prometheus.CounterVec

	// Dependency Metrics
	dependencyRequestsTotal *prometheus.CounterVec
	dependencyErrorsTotal   *prometheus.CounterVec
	circuitBreakerState     *prometheus.GaugeVec

	// Push Notification Metrics
	pushNotificationsTotal *prometheus.CounterVec

	// Rate Limiting Metrics
	rateLimitBlockedTotal *prometheus.CounterVec

	requestTimeoutsTotal *prometheus.CounterVec
}

// NewMetrics creates all metrics on a private registry so several instances can coexist in tests
func NewMetrics(serviceName string) *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)
	labels := prometheus.Labels{"service": serviceName}

	m := &Metrics{
		registry: reg,

		httpRequestsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "http_requests_total",
				Help:        "Total number of HTTP requests",
				ConstLabels: labels,
			},
			[]string{"method", "endpoint", "status"},
		),
		httpRequestDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:        "http_request_duration_seconds",
				Help:        "HTTP request latency in seconds",
				ConstLabels: labels,
				Buckets:     prometheus.DefBuckets,
			},
			[]string{"method", "endpoint"},
		),
		httpRequestsInFlight: f.NewGauge(
			prometheus.GaugeOpts{
				Name:        "http_requests_in_flight",
				Help:        "Number of HTTP requests currently being processed",
				ConstLabels: labels,
			},
		),

		dbQueryDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:        "db_query_duration_seconds",
				Help:        "Database query latency in seconds",
				ConstLabels: labels,
				Buckets:     prometheus.DefBuckets,
			},
			[]string{"operation", "table"},
		),
		dbQueryErrorsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "db_query_errors_total",
				Help:        "Total number of database query errors",
				ConstLabels: labels,
			},
			[]string{"operation", "table"},
		),
		dbConnsInUse: f.NewGauge(
			prometheus.GaugeOpts{
				Name:        "db_connections_in_use",
				Help:        "Acquired connections of the database pool",
				ConstLabels: labels,
			},
		),
		dbPoolRejected: f.NewCounter(
			prometheus.CounterOpts{
				Name:        "db_pool_rejected_total",
				Help:        "Requests rejected because the database pool was saturated",
				ConstLabels: labels,
			},
		),

		redisCommandsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "redis_commands_total",
				Help:        "Total number of Redis commands",
				ConstLabels: labels,
			},
			[]string{"command"},
		),
		redisErrorsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "redis_errors_total",
				Help:        "Total number of Redis errors",
				ConstLabels: labels,
			},
			[]string{"command"},
		),
		redisDegraded: f.NewGauge(
			prometheus.GaugeOpts{
				Name:        "redis_degraded_mode",
				Help:        "1 while Redis is unreachable and the service runs without it",
				ConstLabels: labels,
			},
		),

		websocketConnections: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name:        "websocket_connections",
				Help:        "Number of active WebSocket connections",
				ConstLabels: labels,
			},
			[]string{"kind"},
		),
		websocketMessagesTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "websocket_messages_total",
				Help:        "Total number of WebSocket messages",
				ConstLabels: labels,
			},
			[]string{"type", "direction"},
		),
		websocketErrorsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "websocket_errors_total",
				Help:        "Total number of WebSocket errors",
				ConstLabels: labels,
			},
			[]string{"reason"},
		),

		callsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "calls_total",
				Help:        "Total number of calls by mode and final status",
				ConstLabels: labels,
			},
			[]string{"mode", "status"},
		),
		callsActive: f.NewGauge(
			prometheus.GaugeOpts{
				Name:        "calls_active",
				Help:        "Number of call sessions currently open",
				ConstLabels: labels,
			},
		),
		callsDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:        "call_duration_seconds",
				Help:        "Call duration in seconds",
				ConstLabels: labels,
				Buckets:     []float64{5, 15, 30, 60, 120, 300, 600, 1200},
			},
			[]string{"mode"},
		),
		callsFailedTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "calls_failed_total",
				Help:        "Total number of calls that ended on a fatal error",
				ConstLabels: labels,
			},
			[]string{"mode", "reason"},
		),

		turnsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "turns_total",
				Help:        "User turns by outcome",
				ConstLabels: labels,
			},
			[]string{"mode", "outcome"},
		),
		turnLatency: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:        "turn_processing_seconds",
				Help:        "Time from turn end to the last response chunk",
				ConstLabels: labels,
				Buckets:     []float64{0.25, 0.5, 1, 1.5, 2, 3, 5, 8, 13},
			},
			[]string{"mode"},
		),
		bargeInsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "barge_ins_total",
				Help:        "Responses interrupted by caller speech",
				ConstLabels: labels,
			},
			[]string{"mode"},
		),
		vadFramesTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "vad_frames_total",
				Help:        "Frames classified by the activity detector",
				ConstLabels: labels,
			},
			[]string{"class"},
		),
		vadFallbackTotal: f.NewCounter(
			prometheus.CounterOpts{
				Name:        "vad_energy_fallback_total",
				Help:        "Frames classified with the energy heuristic because the speech model was unavailable",
				ConstLabels: labels,
			},
		),
		vadBacklogBytes: f.NewHistogram(
			prometheus.HistogramOpts{
				Name:        "vad_backlog_bytes",
				Help:        "Bytes left in the rolling activity buffer after each push",
				ConstLabels: labels,
				Buckets:     prometheus.ExponentialBuckets(1024, 2, 10),
			},
		),
		playbackChunks: f.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "playback_chunks_total",
				Help:        "Outbound audio chunks by result",
				ConstLabels: labels,
			},
			[]string{"result"},
		),
		tokensTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "llm_tokens_total",
				Help:        "Language model tokens consumed",
				ConstLabels: labels,
			},
			[]string{"source"},
		),
		persistenceWrites: f.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "call_persistence_writes_total",
				Help:        "Call record writes by kind, tier and status",
				ConstLabels: labels,
			},
			[]string{"kind", "tier", "status"},
		),

		dependencyRequestsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "dependency_requests_total",
				Help:        "Requests to external dependencies",
				ConstLabels: labels,
			},
			[]string{"dependency", "operation", "status"},
		),
		dependencyErrorsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "dependency_errors_total",
				Help:        "Errors from external dependencies",
				ConstLabels: labels,
			},
			[]string{"dependency", "operation", "error_type"},
		),
		circuitBreakerState: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name:        "circuit_breaker_state",
				Help:        "State of circuit breaker (0=closed, 1=half_open, 2=open)",
				ConstLabels: labels,
			},
			[]string{"dependency"},
		),

		pushNotificationsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "push_notifications_total",
				Help:        "Supervisor push notification batches by provider and status",
				ConstLabels: labels,
			},
			[]string{"provider", "status"},
		),

		rateLimitBlockedTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "rate_limit_blocked_total",
				Help:        "Total number of requests blocked by rate limiting",
				ConstLabels: labels,
			},
			[]string{"endpoint"},
		),

		requestTimeoutsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "http_request_timeouts_total",
				Help:        "Requests that ran past their deadline",
				ConstLabels: labels,
			},
			[]string{"method", "endpoint"},
		),
	}

	return m
}

// GetRegistry returns the registry backing these metrics
func (m *Metrics) GetRegistry() *prometheus.Registry {
	return m.registry
}

// HTTP Metrics Methods

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, endpoint string, statusCode int, duration time.Duration) {
	m.httpRequestsTotal.WithLabelValues(method, endpoint, strconv.Itoa(statusCode)).Inc()
	m.httpRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

func (m *Metrics) IncrementHTTPRequestsInFlight() { m.httpRequestsInFlight.Inc() }
func (m *Metrics) DecrementHTTPRequestsInFlight() { m.httpRequestsInFlight.Dec() }

// Database Metrics Methods

// RecordDBQuery records a database query
func (m *Metrics) RecordDBQuery(operation, table string, duration time.Duration, err error) {
	m.dbQueryDuration.WithLabelValues(operation, table).Observe(duration.Seconds())
	if err != nil {
		m.dbQueryErrorsTotal.WithLabelValues(operation, table).Inc()
	}
}

// SetDBConnectionsInUse reports acquired pool connections
func (m *Metrics) SetDBConnectionsInUse(n int) { m.dbConnsInUse.Set(float64(n)) }

// RecordDBPoolRejected counts a request shed by the pool guard
func (m *Metrics) RecordDBPoolRejected() { m.dbPoolRejected.Inc() }

// Redis Metrics Methods

// RecordRedisCommand records a Redis command
func (m *Metrics) RecordRedisCommand(command string, err error) {
	m.redisCommandsTotal.WithLabelValues(command).Inc()
	if err != nil {
		m.redisErrorsTotal.WithLabelValues(command).Inc()
	}
}

// SetRedisDegraded flips the degraded-mode gauge
func (m *Metrics) SetRedisDegraded(degraded bool) {
	if degraded {
		m.redisDegraded.Set(1)
		return
	}
	m.redisDegraded.Set(0)
}

// WebSocket Metrics Methods

// SetWebSocketConnections sets the number of active connections of one kind (media, monitor)
func (m *Metrics) SetWebSocketConnections(kind string, count int) {
	m.websocketConnections.WithLabelValues(kind).Set(float64(count))
}

// RecordWebSocketMessage records a WebSocket message
func (m *Metrics) RecordWebSocketMessage(msgType, direction string) {
	m.websocketMessagesTotal.WithLabelValues(msgType, direction).Inc()
}

// RecordWebSocketError records a WebSocket error
func (m *Metrics) RecordWebSocketError(reason string) {
	m.websocketErrorsTotal.WithLabelValues(reason).Inc()
}

// Call Metrics Methods

func (m *Metrics) CallStarted() { m.callsActive.Inc() }

// CallEnded records the final status and duration of a call
func (m *Metrics) CallEnded(mode, status string, duration time.Duration) {
	m.callsActive.Dec()
	m.callsTotal.WithLabelValues(mode, status).Inc()
	m.callsDuration.WithLabelValues(mode).Observe(duration.Seconds())
}

// RecordCallFailure records a failed call
func (m *Metrics) RecordCallFailure(mode, reason string) {
	m.callsFailedTotal.WithLabelValues(mode, reason).Inc()
}

// Turn Metrics Methods

// RecordTurn records a turn outcome (responded, discarded_short, discarded_garbage, error, interrupted)
func (m *Metrics) RecordTurn(mode, outcome string, latency time.Duration) {
	m.turnsTotal.WithLabelValues(mode, outcome).Inc()
	if latency > 0 {
		m.turnLatency.WithLabelValues(mode).Observe(latency.Seconds())
	}
}

func (m *Metrics) RecordBargeIn(mode string) { m.bargeInsTotal.WithLabelValues(mode).Inc() }

// RecordVADFrame counts one classified frame; fallback marks energy-only classification
func (m *Metrics) RecordVADFrame(active, fallback bool) {
	class := "inactive"
	if active {
		class = "active"
	}
	m.vadFramesTotal.WithLabelValues(class).Inc()
	if fallback {
		m.vadFallbackTotal.Inc()
	}
}

// ObserveVADBacklog records the unframed bytes a segmenter still holds
func (m *Metrics) ObserveVADBacklog(bytes int) { m.vadBacklogBytes.Observe(float64(bytes)) }

// RecordPlaybackChunk counts chunks sent, dropped on interrupt, or failed on write
func (m *Metrics) RecordPlaybackChunk(result string) {
	m.playbackChunks.WithLabelValues(result).Inc()
}

func (m *Metrics) RecordTokens(source string, n int) {
	if n > 0 {
		m.tokensTotal.WithLabelValues(source).Add(float64(n))
	}
}

// RecordPersistence records one tiered write attempt
func (m *Metrics) RecordPersistence(kind, tier string, err error) {
	status := "success"
	if err != nil {
		status = "failure"
	}
	m.persistenceWrites.WithLabelValues(kind, tier, status).Inc()
}

// Dependency Metrics Methods, used by resilience.Breaker

func (m *Metrics) RecordDependencyRequest(dependency, operation, status string) {
	m.dependencyRequestsTotal.WithLabelValues(dependency, operation, status).Inc()
}

func (m *Metrics) RecordDependencyError(dependency, operation, errorType string) {
	m.dependencyErrorsTotal.WithLabelValues(dependency, operation, errorType).Inc()
}

func (m *Metrics) SetCircuitBreakerState(dependency string, state float64) {
	m.circuitBreakerState.WithLabelValues(dependency).Set(state)
}

// Push Notification Metrics Methods

// RecordPushNotification counts one provider batch by outcome
func (m *Metrics) RecordPushNotification(provider, status string) {
	m.pushNotificationsTotal.WithLabelValues(provider, status).Inc()
}

// Rate Limiting Metrics Methods

// RecordRateLimitBlocked records a request blocked by rate limiting
func (m *Metrics) RecordRateLimitBlocked(endpoint string) {
	m.rateLimitBlockedTotal.WithLabelValues(endpoint).Inc()
}

// RecordRequestTimeout counts a request answered with 504
func (m *Metrics) RecordRequestTimeout(method, endpoint string) {
	m.requestTimeoutsTotal.WithLabelValues(method, endpoint).Inc()
}
