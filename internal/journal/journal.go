// Package journal keeps an in-memory ring of recent routing decisions for
// the /decisions and /status surfaces.
package journal

import (
	"sync"
	"time"
)

// Entry is one recorded routing decision.
type Entry struct {
	Timestamp  time.Time `json:"timestamp"`
	QueryID    string    `json:"query_id"`
	Site       string    `json:"site,omitempty"`
	Query      string    `json:"query"`
	RouteType  string    `json:"route_type"`
	Tool       string    `json:"tool,omitempty"`
	Layer      string    `json:"layer"`
	Confidence float64   `json:"confidence"`
	Complexity float64   `json:"complexity"`
	Level      string    `json:"level"`
	Mode       string    `json:"mode"`
	Success    bool      `json:"success"`
	LatencyMs  int64     `json:"latency_ms"`
	ColdStart  bool      `json:"cold_start"`
}

// Stats summarizes the journal contents.
type Stats struct {
	Total     int            `json:"total"`
	Successes int            `json:"successes"`
	Failures  int            `json:"failures"`
	ByRoute   map[string]int `json:"by_route"`
}

// Journal records routing decisions in arrival order. Writes trim the
// oldest tenth when the ring exceeds capacity to amortize resize cost.
type Journal struct {
	mu       sync.RWMutex
	entries  []Entry
	capacity int
}

// DefaultCapacity is used when the configured capacity is not positive.
const DefaultCapacity = 100000

// New creates a journal holding up to capacity entries.
func New(capacity int) *Journal {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Journal{
		entries:  make([]Entry, 0, 1000),
		capacity: capacity,
	}
}

// Record appends a decision.
func (j *Journal) Record(entry Entry) {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.entries = append(j.entries, entry)

	if len(j.entries) > j.capacity {
		removeCount := j.capacity / 10
		if removeCount < 1 {
			removeCount = 1
		}
		j.entries = j.entries[removeCount:]
	}
}

// Recent returns the newest n entries, newest first. n <= 0 returns all.
func (j *Journal) Recent(n int) []Entry {
	j.mu.RLock()
	defer j.mu.RUnlock()

	if n <= 0 || n > len(j.entries) {
		n = len(j.entries)
	}

	out := make([]Entry, n)
	for i := 0; i < n; i++ {
		out[i] = j.entries[len(j.entries)-1-i]
	}
	return out
}

// InRange returns entries with timestamps in [from, to], oldest first.
func (j *Journal) InRange(from, to time.Time) []Entry {
	j.mu.RLock()
	defer j.mu.RUnlock()

	var results []Entry
	for _, entry := range j.entries {
		if entry.Timestamp.Before(from) || entry.Timestamp.After(to) {
			continue
		}
		results = append(results, entry)
	}
	return results
}

// Stats returns counts over the current ring contents.
func (j *Journal) Stats() Stats {
	j.mu.RLock()
	defer j.mu.RUnlock()

	stats := Stats{
		Total:   len(j.entries),
		ByRoute: make(map[string]int),
	}
	for _, entry := range j.entries {
		if entry.Success {
			stats.Successes++
		} else {
			stats.Failures++
		}
		stats.ByRoute[entry.RouteType]++
	}
	return stats
}

// Len returns the number of entries currently held.
func (j *Journal) Len() int {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return len(j.entries)
}
