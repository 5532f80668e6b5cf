package metrics

import (
	"context"
	"sync"
	"time"
)

// DataPoint represents a single time-series data point.
type DataPoint struct {
	Timestamp time.Time `json:"timestamp"`
	Value     float64   `json:"value"`
}

// MetricHistory stores time-series data with automatic bucketing and retention.
type MetricHistory struct {
	mu          sync.Mutex
	buckets     []DataPoint
	bucketSize  time.Duration // Duration per bucket (e.g., 5 minutes)
	maxBuckets  int           // Max buckets to retain (e.g., 12 = 1 hour at 5-min buckets)
	accumulator float64       // Current bucket accumulator
	count       int64         // Current bucket count
	lastBucket  time.Time     // Start time of current bucket
	storage     *RedisStorage // Optional Redis backend
	metricName  string        // Metric name for Redis storage
}

// NewMetricHistory creates a new metric history with specified bucket size and retention.
// bucketSize: duration per data point (e.g., 5*time.Minute)
// maxBuckets: number of buckets to retain (e.g., 12 for 1 hour at 5-min buckets)
func NewMetricHistory(bucketSize time.Duration, maxBuckets int) *MetricHistory {
	return &MetricHistory{
		buckets:    make([]DataPoint, 0, maxBuckets),
		bucketSize: bucketSize,
		maxBuckets: maxBuckets,
		lastBucket: time.Now().Truncate(bucketSize),
	}
}

// NewMetricHistoryWithRedis creates a new metric history with Redis persistence.
// If Redis is unreachable the history falls back to in-memory only.
func NewMetricHistoryWithRedis(bucketSize time.Duration, maxBuckets int, storage *RedisStorage, metricName string) *MetricHistory {
	h := &MetricHistory{
		buckets:    make([]DataPoint, 0, maxBuckets),
		bucketSize: bucketSize,
		maxBuckets: maxBuckets,
		lastBucket: time.Now().Truncate(bucketSize),
		storage:    storage,
		metricName: metricName,
	}

	// Try to load existing data from Redis
	if storage != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		since := time.Now().Add(-time.Duration(maxBuckets) * bucketSize)
		if dataPoints, err := storage.LoadHistory(ctx, metricName, since); err == nil && len(dataPoints) > 0 {
			h.buckets = dataPoints
		}
	}

	return h
}

// Record adds a value to the current bucket. Finalized buckets hold the
// average of the recorded values.
func (h *MetricHistory) Record(value float64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	currentBucket := time.Now().Truncate(h.bucketSize)

	// Check if we need to finalize the previous bucket
	if currentBucket.After(h.lastBucket) {
		h.finalizeBucket()
		h.lastBucket = currentBucket
	}

	h.accumulator += value
	h.count++
}

// RecordSum adds to the sum for the current bucket. Finalized buckets hold
// the total, which is what rate series want.
func (h *MetricHistory) RecordSum(value float64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	currentBucket := time.Now().Truncate(h.bucketSize)

	// Check if we need to finalize the previous bucket
	if currentBucket.After(h.lastBucket) {
		h.finalizeSumBucket()
		h.lastBucket = currentBucket
	}

	h.accumulator += value
}

// finalizeBucket saves the average for the current bucket and starts a new one.
// Must be called with lock held.
func (h *MetricHistory) finalizeBucket() {
	if h.count == 0 {
		return
	}

	// Calculate average for the bucket
	avg := h.accumulator / float64(h.count)

	h.appendPoint(DataPoint{
		Timestamp: h.lastBucket,
		Value:     avg,
	})

	h.accumulator = 0
	h.count = 0
}

// finalizeSumBucket saves the sum for the current bucket.
// Must be called with lock held.
func (h *MetricHistory) finalizeSumBucket() {
	h.appendPoint(DataPoint{
		Timestamp: h.lastBucket,
		Value:     h.accumulator,
	})

	h.accumulator = 0
}

// appendPoint stores a finalized point, persists it, and trims retention.
// Must be called with lock held.
func (h *MetricHistory) appendPoint(dp DataPoint) {
	h.buckets = append(h.buckets, dp)

	// Persist to Redis if available (non-blocking)
	if h.storage != nil && h.metricName != "" {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = h.storage.SaveDataPoint(ctx, h.metricName, dp)
		}()
	}

	// Trim to max buckets
	if len(h.buckets) > h.maxBuckets {
		h.buckets = h.buckets[len(h.buckets)-h.maxBuckets:]
	}
}

// currentValue returns the live bucket's value: the average for series fed
// by Record, the running sum for series fed by RecordSum.
// Must be called with lock held.
func (h *MetricHistory) currentValue() (float64, bool) {
	if h.count > 0 {
		return h.accumulator / float64(h.count), true
	}
	if h.accumulator != 0 {
		return h.accumulator, true
	}
	return 0, false
}

// GetHistory returns a copy of the time-series data, finalizing the current
// bucket first when it has aged out.
func (h *MetricHistory) GetHistory() []DataPoint {
	h.mu.Lock()
	defer h.mu.Unlock()

	currentBucket := time.Now().Truncate(h.bucketSize)
	if currentBucket.After(h.lastBucket) && (h.count > 0 || h.accumulator != 0) {
		if h.count > 0 {
			h.finalizeBucket()
		} else {
			h.finalizeSumBucket()
		}
		h.lastBucket = currentBucket
	}

	result := make([]DataPoint, len(h.buckets))
	copy(result, h.buckets)
	return result
}

// GetHistoryWithCurrent returns history including any unflushed current bucket data.
func (h *MetricHistory) GetHistoryWithCurrent() []DataPoint {
	h.mu.Lock()
	defer h.mu.Unlock()

	result := make([]DataPoint, len(h.buckets))
	copy(result, h.buckets)

	if v, ok := h.currentValue(); ok {
		result = append(result, DataPoint{
			Timestamp: h.lastBucket,
			Value:     v,
		})
	}

	return result
}

// GetHistorySince returns data points since the given time.
func (h *MetricHistory) GetHistorySince(since time.Time) []DataPoint {
	all := h.GetHistoryWithCurrent()
	result := make([]DataPoint, 0, len(all))
	for _, dp := range all {
		if !dp.Timestamp.Before(since) {
			result = append(result, dp)
		}
	}
	return result
}

// TimeSeriesData holds the routing time-series surfaced on /status.
type TimeSeriesData struct {
	QueryRate     *MetricHistory // Queries per 5-minute bucket
	QueryLatency  *MetricHistory // Average routing latency per bucket
	ColdStartRate *MetricHistory // Cold starts per bucket
}

// NewTimeSeriesData creates a new time-series data collection.
// Uses 5-minute buckets with 12 buckets (1 hour) retention.
func NewTimeSeriesData() *TimeSeriesData {
	bucketSize := 5 * time.Minute
	maxBuckets := 12 // 1 hour retention

	return &TimeSeriesData{
		QueryRate:     NewMetricHistory(bucketSize, maxBuckets),
		QueryLatency:  NewMetricHistory(bucketSize, maxBuckets),
		ColdStartRate: NewMetricHistory(bucketSize, maxBuckets),
	}
}

// NewTimeSeriesDataWithRedis creates a new time-series data collection with Redis persistence.
// Falls back to in-memory if Redis connection fails.
func NewTimeSeriesDataWithRedis(storage *RedisStorage) *TimeSeriesData {
	bucketSize := 5 * time.Minute
	maxBuckets := 12 // 1 hour retention

	return &TimeSeriesData{
		QueryRate:     NewMetricHistoryWithRedis(bucketSize, maxBuckets, storage, "query_rate"),
		QueryLatency:  NewMetricHistoryWithRedis(bucketSize, maxBuckets, storage, "query_latency"),
		ColdStartRate: NewMetricHistoryWithRedis(bucketSize, maxBuckets, storage, "cold_start_rate"),
	}
}

// RecordQuery records a routed query for time-series tracking.
func (t *TimeSeriesData) RecordQuery(latencyMs float64) {
	t.QueryRate.RecordSum(1)
	t.QueryLatency.Record(latencyMs)
}

// RecordColdStart records a cold-start wake for time-series tracking.
func (t *TimeSeriesData) RecordColdStart() {
	t.ColdStartRate.RecordSum(1)
}
