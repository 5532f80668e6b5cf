package metrics

import (
	"runtime"
	"sync"
	"time"
)

// Cold-start wake durations in seconds.
var coldStartBuckets = []float64{1, 2, 5, 10, 15, 20, 30, 45, 60}

// Similarity-lookup round trips in seconds.
var similarityBuckets = []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0}

// Similarity lookup result labels.
const (
	LookupHit   = "hit"
	LookupMiss  = "miss"
	LookupError = "error"
)

// Metrics holds all activator metrics.
type Metrics struct {
	// Routing metrics
	QueriesTotal      *CounterVec // labels: route_type, layer
	EscalationsTotal  *CounterVec // labels: reason
	RoutingStored     *CounterVec // labels: route_type
	OutcomesStored    *CounterVec // labels: success
	FeedbackTotal     *CounterVec // labels: feedback
	SimilarityLookups *CounterVec // labels: result
	SimilarityLatency *Histogram  // seconds

	// Layer metrics
	ColdStartsTotal   *CounterVec   // labels: layer
	ColdStartDuration *HistogramVec // labels: layer
	PendingRequests   *GaugeVec     // labels: layer
	LayerUp           *GaugeVec     // labels: layer

	// Fabric metrics
	FabricTasksTotal       *CounterVec // labels: task_type, success
	FabricResultsPublished *Counter
	FabricErrors           *CounterVec // labels: stage

	// HTTP metrics
	HTTPRequests         *CounterVec   // labels: method, path, status
	HTTPDuration         *HistogramVec // labels: method, path
	HTTPRequestsInFlight *Gauge

	// System metrics
	GoroutineCount *Gauge
	MemoryUsage    *Gauge // in bytes
	Uptime         *Counter

	// Time-series data for the status surface
	TimeSeries *TimeSeriesData

	// Redis storage (optional)
	redisStorage *RedisStorage

	startTime time.Time
	done      chan struct{}
	closeOnce sync.Once
	mu        sync.RWMutex
}

// New creates a new metrics instance with all metrics initialized.
// Uses in-memory storage only.
func New() *Metrics {
	return NewWithConfig("memory", "")
}

// NewWithRedis creates a new metrics instance with Redis persistence.
// Falls back to in-memory if Redis connection fails.
func NewWithRedis(redisURL string) *Metrics {
	return NewWithConfig("redis", redisURL)
}

// NewWithConfig creates a new metrics instance with specified persistence.
// persistence: "memory" or "redis"
// redisURL: Redis URL (only used if persistence = "redis")
func NewWithConfig(persistence, redisURL string) *Metrics {
	var redisStorage *RedisStorage
	var timeSeries *TimeSeriesData

	// Try to initialize Redis if configured
	if persistence == "redis" && redisURL != "" {
		storage, err := NewRedisStorage(redisURL)
		if err != nil {
			println("WARNING: Failed to connect to Redis for metrics persistence:", err.Error())
			println("         Falling back to in-memory metrics")
		} else {
			redisStorage = storage
			timeSeries = NewTimeSeriesDataWithRedis(redisStorage)
		}
	}

	// If Redis not available, use in-memory
	if timeSeries == nil {
		timeSeries = NewTimeSeriesData()
	}

	m := &Metrics{
		// Routing metrics
		QueriesTotal: NewCounterVec(
			"activator_queries_total",
			"Total queries routed, by cascade tier and execution layer",
			[]string{"route_type", "layer"},
		),
		EscalationsTotal: NewCounterVec(
			"activator_escalations_total",
			"Total mode escalations, by reason",
			[]string{"reason"},
		),
		RoutingStored: NewCounterVec(
			"activator_routing_stored_total",
			"Total routing decisions persisted, by route type",
			[]string{"route_type"},
		),
		OutcomesStored: NewCounterVec(
			"activator_outcomes_stored_total",
			"Total routing outcomes persisted, by success",
			[]string{"success"},
		),
		FeedbackTotal: NewCounterVec(
			"activator_feedback_total",
			"Total user feedback recorded, by polarity",
			[]string{"feedback"},
		),
		SimilarityLookups: NewCounterVec(
			"activator_similarity_lookups_total",
			"Total similarity lookups, by result",
			[]string{"result"},
		),
		SimilarityLatency: NewHistogram(
			"activator_similarity_latency_seconds",
			"Similarity lookup round trip in seconds",
			similarityBuckets,
		),

		// Layer metrics
		ColdStartsTotal: NewCounterVec(
			"activator_cold_starts_total",
			"Total cold starts, by layer",
			[]string{"layer"},
		),
		ColdStartDuration: NewHistogramVec(
			"activator_cold_start_seconds",
			"Cold-start wake duration in seconds, by layer",
			[]string{"layer"},
			coldStartBuckets,
		),
		PendingRequests: NewGaugeVec(
			"activator_pending_requests",
			"Requests currently waiting on a layer, by layer",
			[]string{"layer"},
		),
		LayerUp: NewGaugeVec(
			"activator_layer_up",
			"Layer readiness (1 = warm, 0 = not warm), by layer",
			[]string{"layer"},
		),

		// Fabric metrics
		FabricTasksTotal: NewCounterVec(
			"activator_fabric_tasks_total",
			"Total fabric tasks consumed, by task type and success",
			[]string{"task_type", "success"},
		),
		FabricResultsPublished: NewCounter(
			"activator_fabric_results_published_total",
			"Total results published to the fabric result stream",
			nil,
		),
		FabricErrors: NewCounterVec(
			"activator_fabric_errors_total",
			"Total fabric errors, by stage",
			[]string{"stage"},
		),

		// HTTP metrics
		HTTPRequests: NewCounterVec(
			"activator_http_requests_total",
			"Total number of HTTP requests",
			[]string{"method", "path", "status"},
		),
		HTTPDuration: NewHistogramVec(
			"activator_http_request_duration_seconds",
			"HTTP request duration in seconds",
			[]string{"method", "path"},
			[]float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
		),
		HTTPRequestsInFlight: NewGauge(
			"activator_http_requests_in_flight",
			"Number of HTTP requests currently being processed",
			nil,
		),

		// System metrics
		GoroutineCount: NewGauge(
			"activator_goroutines",
			"Number of goroutines",
			nil,
		),
		MemoryUsage: NewGauge(
			"activator_memory_bytes",
			"Memory usage in bytes",
			nil,
		),
		Uptime: NewCounter(
			"activator_uptime_seconds",
			"Application uptime in seconds",
			nil,
		),

		// Time-series data
		TimeSeries: timeSeries,

		// Redis storage
		redisStorage: redisStorage,

		startTime: time.Now(),
		done:      make(chan struct{}),
	}

	// Start background collector for system metrics
	go m.collectSystemMetrics()

	return m
}

// collectSystemMetrics periodically collects system metrics until Close.
func (m *Metrics) collectSystemMetrics() {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			m.GoroutineCount.Set(float64(runtime.NumGoroutine()))

			var memStats runtime.MemStats
			runtime.ReadMemStats(&memStats)
			m.MemoryUsage.Set(float64(memStats.Alloc))

			m.Uptime.Add(15)
		}
	}
}

// RecordQuery records a routed query by tier and layer.
func (m *Metrics) RecordQuery(routeType, layer string, latencyMs float64) {
	m.QueriesTotal.WithLabels(routeType, layer).Inc()

	if m.TimeSeries != nil {
		m.TimeSeries.RecordQuery(latencyMs)
	}
}

// RecordEscalation records a mode escalation.
func (m *Metrics) RecordEscalation(reason string) {
	m.EscalationsTotal.WithLabels(reason).Inc()
}

// RecordDecisionStored records a persisted routing decision.
func (m *Metrics) RecordDecisionStored(routeType string) {
	m.RoutingStored.WithLabels(routeType).Inc()
}

// RecordOutcomeStored records a persisted routing outcome.
func (m *Metrics) RecordOutcomeStored(success bool) {
	m.OutcomesStored.WithLabels(boolLabel(success)).Inc()
}

// RecordFeedback records user feedback by polarity.
func (m *Metrics) RecordFeedback(feedback string) {
	m.FeedbackTotal.WithLabels(feedback).Inc()
}

// RecordSimilarityLookup records a similarity lookup round trip.
// result is one of LookupHit, LookupMiss, LookupError.
func (m *Metrics) RecordSimilarityLookup(result string, elapsed time.Duration) {
	m.SimilarityLookups.WithLabels(result).Inc()
	m.SimilarityLatency.Observe(elapsed.Seconds())
}

// ColdStartBegun counts a cold-start wake at the moment it starts, so wakes
// that time out are still visible in the total.
func (m *Metrics) ColdStartBegun(layer string) {
	m.ColdStartsTotal.WithLabels(layer).Inc()

	if m.TimeSeries != nil {
		m.TimeSeries.RecordColdStart()
	}
}

// ColdStartCompleted records how long a successful wake took.
func (m *Metrics) ColdStartCompleted(layer string, elapsed time.Duration) {
	m.ColdStartDuration.WithLabels(layer).Observe(elapsed.Seconds())
}

// SetLayerUp publishes a layer's readiness.
func (m *Metrics) SetLayerUp(layer string, up bool) {
	value := 0.0
	if up {
		value = 1.0
	}
	m.LayerUp.WithLabels(layer).Set(value)
}

// PendingInc marks a request waiting on a layer.
func (m *Metrics) PendingInc(layer string) {
	m.PendingRequests.WithLabels(layer).Inc()
}

// PendingDec releases a request waiting on a layer.
func (m *Metrics) PendingDec(layer string) {
	m.PendingRequests.WithLabels(layer).Dec()
}

// RecordFabricTask records a consumed fabric task.
func (m *Metrics) RecordFabricTask(taskType string, success bool) {
	m.FabricTasksTotal.WithLabels(taskType, boolLabel(success)).Inc()
}

// RecordFabricPublish records a published fabric result.
func (m *Metrics) RecordFabricPublish() {
	m.FabricResultsPublished.Inc()
}

// RecordFabricError records a fabric failure at a named stage.
func (m *Metrics) RecordFabricError(stage string) {
	m.FabricErrors.WithLabels(stage).Inc()
}

// RecordHTTP records HTTP request metrics.
// This is called by the HTTP middleware.
func (m *Metrics) RecordHTTP(method, path string, status int, durationSeconds float64) {
	// Normalize path to reduce cardinality
	normalizedPath := normalizePath(path)

	m.HTTPRequests.WithLabels(method, normalizedPath, statusCode(status)).Inc()
	m.HTTPDuration.WithLabels(method, normalizedPath).Observe(durationSeconds)
}

// Snapshot returns a point-in-time stats map for the status surface.
func (m *Metrics) Snapshot() map[string]any {
	stats := map[string]any{
		"uptime_seconds":           m.Uptime.Value(),
		"goroutines":               m.GoroutineCount.Value(),
		"memory_bytes":             m.MemoryUsage.Value(),
		"similarity_lookup_count":  m.SimilarityLatency.Count(),
		"similarity_lookup_sum_s":  m.SimilarityLatency.Sum(),
		"fabric_results_published": m.FabricResultsPublished.Value(),
		"redis_persisted":          m.IsRedisPersisted(),
	}

	queries := make(map[string]int64)
	for _, c := range m.QueriesTotal.GetAll() {
		queries[labelsToKey(c.Labels())] = c.Value()
	}
	stats["queries"] = queries

	coldStarts := make(map[string]int64)
	for _, c := range m.ColdStartsTotal.GetAll() {
		coldStarts[c.Labels()["layer"]] = c.Value()
	}
	stats["cold_starts"] = coldStarts

	if m.TimeSeries != nil {
		stats["history"] = map[string]any{
			"query_rate":       m.TimeSeries.QueryRate.GetHistoryWithCurrent(),
			"query_latency_ms": m.TimeSeries.QueryLatency.GetHistoryWithCurrent(),
			"cold_start_rate":  m.TimeSeries.ColdStartRate.GetHistoryWithCurrent(),
		}
	}

	return stats
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

// Reset resets all scalar metrics to zero (useful for testing).
func (m *Metrics) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.FabricResultsPublished.Reset()
	m.Uptime.Reset()

	m.HTTPRequestsInFlight.Set(0)
	m.GoroutineCount.Set(0)
	m.MemoryUsage.Set(0)

	m.startTime = time.Now()
}

// Close stops the background collector and releases resources.
// Must be called when shutting down if Redis is used.
func (m *Metrics) Close() error {
	m.closeOnce.Do(func() {
		close(m.done)
	})
	if m.redisStorage != nil {
		return m.redisStorage.Close()
	}
	return nil
}

// IsRedisPersisted returns true if metrics are persisted to Redis.
func (m *Metrics) IsRedisPersisted() bool {
	return m.redisStorage != nil
}
