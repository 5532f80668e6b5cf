package journal

import (
	"fmt"
	"testing"
	"time"
)

func entryAt(i int, route string, success bool) Entry {
	return Entry{
		Timestamp: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC).Add(time.Duration(i) * time.Second),
		QueryID:   fmt.Sprintf("q-%d", i),
		Query:     fmt.Sprintf("query %d", i),
		RouteType: route,
		Layer:     "execution-api",
		Success:   success,
		LatencyMs: int64(10 + i),
	}
}

func TestRecordAndRecent(t *testing.T) {
	j := New(100)

	for i := 0; i < 5; i++ {
		j.Record(entryAt(i, "rule-match", true))
	}

	recent := j.Recent(3)
	if len(recent) != 3 {
		t.Fatalf("len(recent) = %d, want 3", len(recent))
	}
	if recent[0].QueryID != "q-4" {
		t.Errorf("recent[0].QueryID = %q, want %q (newest first)", recent[0].QueryID, "q-4")
	}
	if recent[2].QueryID != "q-2" {
		t.Errorf("recent[2].QueryID = %q, want %q", recent[2].QueryID, "q-2")
	}
}

func TestRecentMoreThanHeld(t *testing.T) {
	j := New(100)
	j.Record(entryAt(0, "similarity-reuse", true))

	recent := j.Recent(10)
	if len(recent) != 1 {
		t.Errorf("len(recent) = %d, want 1", len(recent))
	}

	all := j.Recent(0)
	if len(all) != 1 {
		t.Errorf("len(all) = %d, want 1", len(all))
	}
}

func TestTrimKeepsNewest(t *testing.T) {
	j := New(100)

	for i := 0; i < 101; i++ {
		j.Record(entryAt(i, "full-reasoning", true))
	}

	// Exceeding capacity drops the oldest tenth.
	if got := j.Len(); got != 91 {
		t.Fatalf("Len() = %d, want 91", got)
	}

	recent := j.Recent(1)
	if recent[0].QueryID != "q-100" {
		t.Errorf("newest = %q, want %q", recent[0].QueryID, "q-100")
	}

	oldest := j.Recent(0)
	if last := oldest[len(oldest)-1]; last.QueryID != "q-10" {
		t.Errorf("oldest retained = %q, want %q", last.QueryID, "q-10")
	}
}

func TestInRange(t *testing.T) {
	j := New(100)
	for i := 0; i < 10; i++ {
		j.Record(entryAt(i, "rule-match", true))
	}

	from := time.Date(2025, 6, 1, 12, 0, 3, 0, time.UTC)
	to := time.Date(2025, 6, 1, 12, 0, 6, 0, time.UTC)

	got := j.InRange(from, to)
	if len(got) != 4 {
		t.Fatalf("len = %d, want 4", len(got))
	}
	if got[0].QueryID != "q-3" || got[3].QueryID != "q-6" {
		t.Errorf("range = [%q..%q], want [q-3..q-6]", got[0].QueryID, got[3].QueryID)
	}
}

func TestStats(t *testing.T) {
	j := New(100)
	j.Record(entryAt(0, "rule-match", true))
	j.Record(entryAt(1, "rule-match", false))
	j.Record(entryAt(2, "similarity-reuse", true))
	j.Record(entryAt(3, "full-reasoning", true))

	stats := j.Stats()
	if stats.Total != 4 {
		t.Errorf("Total = %d, want 4", stats.Total)
	}
	if stats.Successes != 3 || stats.Failures != 1 {
		t.Errorf("Successes/Failures = %d/%d, want 3/1", stats.Successes, stats.Failures)
	}
	if stats.ByRoute["rule-match"] != 2 {
		t.Errorf("ByRoute[rule-match] = %d, want 2", stats.ByRoute["rule-match"])
	}
}

func TestZeroCapacityUsesDefault(t *testing.T) {
	j := New(0)
	if j.capacity != DefaultCapacity {
		t.Errorf("capacity = %d, want %d", j.capacity, DefaultCapacity)
	}
}
