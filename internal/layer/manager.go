// Package layer tracks the readiness of scale-to-zero backend layers:
// health polling, bounded cold-start waits, and per-layer state.
package layer

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/opsfabric/activator/internal/config"
	"github.com/opsfabric/activator/internal/metrics"
	"github.com/opsfabric/activator/internal/pkg/logger"
)

// State is the observed readiness of a backend layer.
type State string

const (
	// StateCold - the layer is scaled to zero or failing health checks.
	StateCold State = "cold"

	// StateWarming - a wake is in progress for the layer.
	StateWarming State = "warming"

	// StateWarm - the last health check returned 200.
	StateWarm State = "warm"

	// StateUnhealthy - the layer has no known configuration.
	StateUnhealthy State = "unhealthy"
)

// Manager polls layer health endpoints and waits out cold starts.
//
// The state map is shared across concurrent queries without locking around
// transitions: every transition is re-derived from an idempotent health
// check, so concurrent writers converge within one poll interval. Readers
// may observe a state that is stale by at most one poll.
type Manager struct {
	topology map[string]config.LayerConfig
	states   sync.Map // layer name -> State

	http         *http.Client
	wakeTimeout  time.Duration
	pollInterval time.Duration

	metrics *metrics.Metrics
	log     *logger.Logger
}

// NewManager creates a layer manager over the configured topology.
// metrics may be nil to disable instrumentation.
func NewManager(cfg config.LayersConfig, m *metrics.Metrics, log *logger.Logger) *Manager {
	mgr := &Manager{
		topology:     cfg.Topology,
		http:         &http.Client{Timeout: cfg.HealthTimeoutDuration()},
		wakeTimeout:  cfg.WakeTimeoutDuration(),
		pollInterval: cfg.PollIntervalDuration(),
		metrics:      m,
		log:          log,
	}

	for name := range cfg.Topology {
		mgr.states.Store(name, StateCold)
	}

	return mgr
}

// Known reports whether a layer is in the configured topology.
func (m *Manager) Known(name string) bool {
	_, ok := m.topology[name]
	return ok
}

// Endpoint returns the configured endpoint for a layer.
func (m *Manager) Endpoint(name string) (config.LayerConfig, bool) {
	cfg, ok := m.topology[name]
	return cfg, ok
}

// Layers returns the names of all configured layers.
func (m *Manager) Layers() []string {
	names := make([]string, 0, len(m.topology))
	for name := range m.topology {
		names = append(names, name)
	}
	return names
}

// State returns the last observed state of a layer without checking health.
func (m *Manager) State(name string) State {
	if v, ok := m.states.Load(name); ok {
		return v.(State)
	}
	return StateUnhealthy
}

// CheckHealth performs a single bounded health check against a layer.
// A 200 response means warm; any other response, including transport
// errors, means cold. Unknown layers are unhealthy.
func (m *Manager) CheckHealth(ctx context.Context, name string) State {
	cfg, ok := m.topology[name]
	if !ok {
		return StateUnhealthy
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, cfg.Endpoint+cfg.HealthPath, nil)
	if err != nil {
		return m.setState(name, StateCold)
	}

	resp, err := m.http.Do(req)
	if err != nil {
		return m.setState(name, StateCold)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK {
		return m.setState(name, StateWarm)
	}

	return m.setState(name, StateCold)
}

// setState records a state transition and publishes the readiness gauge.
func (m *Manager) setState(name string, state State) State {
	m.states.Store(name, state)
	if m.metrics != nil {
		m.metrics.SetLayerUp(name, state == StateWarm)
	}
	return state
}

// WaitForReady polls a layer's health until it turns warm or the wake
// budget elapses. It counts the cold start up front so wakes that time
// out remain visible, and records the wake duration on success.
func (m *Manager) WaitForReady(ctx context.Context, name string) bool {
	if _, ok := m.topology[name]; !ok {
		return false
	}

	m.states.Store(name, StateWarming)
	start := time.Now()

	if m.metrics != nil {
		m.metrics.ColdStartBegun(name)
		m.metrics.PendingInc(name)
		defer m.metrics.PendingDec(name)
	}

	ticker := time.NewTicker(m.pollInterval)
	defer ticker.Stop()

	for time.Since(start) < m.wakeTimeout {
		if state := m.CheckHealth(ctx, name); state == StateWarm {
			elapsed := time.Since(start)
			if m.metrics != nil {
				m.metrics.ColdStartCompleted(name, elapsed)
			}
			m.log.Info("Layer ready",
				"layer", name,
				"duration_seconds", elapsed.Round(10*time.Millisecond).Seconds())
			return true
		}

		select {
		case <-ctx.Done():
			m.log.Warn("Layer wake cancelled", "layer", name, "error", ctx.Err())
			return false
		case <-ticker.C:
		}
	}

	m.log.Warn("Layer wake timed out",
		"layer", name, "timeout_seconds", m.wakeTimeout.Seconds())
	return false
}

// EnsureReady guarantees a layer is warm before execution, waking it if
// necessary. The second return reports whether this call drove the layer
// through a cold start. This is the sole blocking point in the routing
// path.
func (m *Manager) EnsureReady(ctx context.Context, name string) (ready, coldStart bool) {
	switch m.CheckHealth(ctx, name) {
	case StateWarm:
		return true, false
	case StateCold:
		// The autoscaler wakes the layer from our pending-request
		// pressure; all we do is wait for it.
		return m.WaitForReady(ctx, name), true
	default:
		return false, false
	}
}

// States re-derives the state of every configured layer with a fresh
// health check. Used by the status surface.
func (m *Manager) States(ctx context.Context) map[string]State {
	out := make(map[string]State, len(m.topology))
	for name := range m.topology {
		out[name] = m.CheckHealth(ctx, name)
	}
	return out
}

// CachedStates returns the last observed state of every layer without
// touching the network.
func (m *Manager) CachedStates() map[string]State {
	out := make(map[string]State, len(m.topology))
	for name := range m.topology {
		out[name] = m.State(name)
	}
	return out
}
