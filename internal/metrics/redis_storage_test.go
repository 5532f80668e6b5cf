package metrics

import (
	"context"
	"testing"
	"time"
)

func TestEncodeDecodeMember(t *testing.T) {
	dp := DataPoint{Timestamp: time.Unix(1700000000, 0), Value: 42.5}

	member := encodeMember(dp)
	if member != "1700000000:42.50" {
		t.Errorf("encodeMember() = %q, want %q", member, "1700000000:42.50")
	}

	value, err := decodeMember(member)
	if err != nil {
		t.Fatalf("decodeMember failed: %v", err)
	}
	if value != 42.5 {
		t.Errorf("decodeMember() = %f, want 42.5", value)
	}
}

func TestDecodeMemberLegacyFormat(t *testing.T) {
	// Old entries carried only the value
	value, err := decodeMember("17.25")
	if err != nil {
		t.Fatalf("decodeMember failed: %v", err)
	}
	if value != 17.25 {
		t.Errorf("decodeMember() = %f, want 17.25", value)
	}
}

func TestEncodeMemberDistinctTimestamps(t *testing.T) {
	// Equal values at different times must stay distinct members,
	// otherwise the sorted set collapses them into one point.
	a := encodeMember(DataPoint{Timestamp: time.Unix(100, 0), Value: 3})
	b := encodeMember(DataPoint{Timestamp: time.Unix(400, 0), Value: 3})
	if a == b {
		t.Errorf("expected distinct members, both %q", a)
	}
}

func TestNewRedisStorageInvalidURL(t *testing.T) {
	_, err := NewRedisStorage("invalid://url")
	if err == nil {
		t.Fatal("expected error for invalid URL")
	}
}

func TestNewRedisStorageConnectionFailure(t *testing.T) {
	// Try to connect to non-existent Redis
	_, err := NewRedisStorage("redis://localhost:9999")
	if err == nil {
		t.Fatal("expected error for connection failure")
	}
}

func TestRedisStorageSaveAndLoad(t *testing.T) {
	// Skip if Redis not available
	storage, err := NewRedisStorage("redis://localhost:6379/15")
	if err != nil {
		t.Skip("Redis not available:", err)
	}
	defer storage.Close()

	ctx := context.Background()
	defer storage.DeleteMetric(ctx, "test_metric")

	now := time.Now()
	dataPoints := []DataPoint{
		{Timestamp: now.Add(-10 * time.Minute), Value: 10.5},
		{Timestamp: now.Add(-5 * time.Minute), Value: 20.3},
		{Timestamp: now, Value: 30.7},
	}

	for _, dp := range dataPoints {
		if err := storage.SaveDataPoint(ctx, "test_metric", dp); err != nil {
			t.Fatalf("SaveDataPoint failed: %v", err)
		}
	}

	since := now.Add(-15 * time.Minute)
	loaded, err := storage.LoadHistory(ctx, "test_metric", since)
	if err != nil {
		t.Fatalf("LoadHistory failed: %v", err)
	}

	if len(loaded) != len(dataPoints) {
		t.Errorf("expected %d data points, got %d", len(dataPoints), len(loaded))
	}

	// Verify values (allow small float precision differences)
	for i, dp := range loaded {
		if i >= len(dataPoints) {
			break
		}
		expected := dataPoints[i].Value
		if dp.Value < expected-0.1 || dp.Value > expected+0.1 {
			t.Errorf("data point %d: expected value ~%.2f, got %.2f", i, expected, dp.Value)
		}
	}
}

func TestRedisStorageRepeatedValues(t *testing.T) {
	storage, err := NewRedisStorage("redis://localhost:6379/15")
	if err != nil {
		t.Skip("Redis not available:", err)
	}
	defer storage.Close()

	ctx := context.Background()
	defer storage.DeleteMetric(ctx, "test_repeated")

	// Rate series repeat values constantly; every point must survive.
	now := time.Now()
	for i := 0; i < 3; i++ {
		dp := DataPoint{Timestamp: now.Add(time.Duration(-i) * time.Minute), Value: 3.0}
		if err := storage.SaveDataPoint(ctx, "test_repeated", dp); err != nil {
			t.Fatalf("SaveDataPoint failed: %v", err)
		}
	}

	loaded, err := storage.LoadHistory(ctx, "test_repeated", now.Add(-10*time.Minute))
	if err != nil {
		t.Fatalf("LoadHistory failed: %v", err)
	}
	if len(loaded) != 3 {
		t.Errorf("expected 3 data points, got %d", len(loaded))
	}
}

func TestRedisStorageSaveBatch(t *testing.T) {
	storage, err := NewRedisStorage("redis://localhost:6379/15")
	if err != nil {
		t.Skip("Redis not available:", err)
	}
	defer storage.Close()

	ctx := context.Background()
	defer storage.DeleteMetric(ctx, "test_batch")

	now := time.Now()
	batch := []DataPoint{
		{Timestamp: now.Add(-20 * time.Minute), Value: 5.0},
		{Timestamp: now.Add(-15 * time.Minute), Value: 10.0},
		{Timestamp: now.Add(-10 * time.Minute), Value: 15.0},
		{Timestamp: now.Add(-5 * time.Minute), Value: 20.0},
		{Timestamp: now, Value: 25.0},
	}

	if err := storage.SaveBatch(ctx, "test_batch", batch); err != nil {
		t.Fatalf("SaveBatch failed: %v", err)
	}

	loaded, err := storage.LoadHistory(ctx, "test_batch", now.Add(-30*time.Minute))
	if err != nil {
		t.Fatalf("LoadHistory failed: %v", err)
	}

	if len(loaded) != len(batch) {
		t.Errorf("expected %d data points, got %d", len(batch), len(loaded))
	}
}

func TestRedisStorageGetMetricNames(t *testing.T) {
	storage, err := NewRedisStorage("redis://localhost:6379/15")
	if err != nil {
		t.Skip("Redis not available:", err)
	}
	defer storage.Close()

	ctx := context.Background()

	metricNames := []string{"query_rate", "query_latency", "cold_start_rate"}
	dp := DataPoint{Timestamp: time.Now(), Value: 1.0}

	for _, name := range metricNames {
		storage.SaveDataPoint(ctx, name, dp)
		defer storage.DeleteMetric(ctx, name)
	}

	names, err := storage.GetMetricNames(ctx)
	if err != nil {
		t.Fatalf("GetMetricNames failed: %v", err)
	}

	if len(names) < len(metricNames) {
		t.Errorf("expected at least %d metrics, got %d", len(metricNames), len(names))
	}

	nameMap := make(map[string]bool)
	for _, name := range names {
		nameMap[name] = true
	}

	for _, expected := range metricNames {
		if !nameMap[expected] {
			t.Errorf("expected metric %s not found in names", expected)
		}
	}
}

func TestRedisStorageDeleteMetric(t *testing.T) {
	storage, err := NewRedisStorage("redis://localhost:6379/15")
	if err != nil {
		t.Skip("Redis not available:", err)
	}
	defer storage.Close()

	ctx := context.Background()

	dp := DataPoint{Timestamp: time.Now(), Value: 42.0}
	storage.SaveDataPoint(ctx, "test_delete", dp)

	loaded, _ := storage.LoadHistory(ctx, "test_delete", time.Now().Add(-1*time.Minute))
	if len(loaded) == 0 {
		t.Fatal("metric should exist before delete")
	}

	if err := storage.DeleteMetric(ctx, "test_delete"); err != nil {
		t.Fatalf("DeleteMetric failed: %v", err)
	}

	loaded, _ = storage.LoadHistory(ctx, "test_delete", time.Now().Add(-1*time.Minute))
	if len(loaded) != 0 {
		t.Errorf("expected 0 data points after delete, got %d", len(loaded))
	}
}

func TestRedisStorageGetStats(t *testing.T) {
	storage, err := NewRedisStorage("redis://localhost:6379/15")
	if err != nil {
		t.Skip("Redis not available:", err)
	}
	defer storage.Close()

	ctx := context.Background()

	stats, err := storage.GetStats(ctx)
	if err != nil {
		t.Fatalf("GetStats failed: %v", err)
	}

	for _, field := range []string{"total_metrics", "redis_info", "prefix", "ttl_hours"} {
		if _, ok := stats[field]; !ok {
			t.Errorf("stats missing %s", field)
		}
	}
}
