// Package cascade implements the exit-early routing cascade. Each query
// walks four tiers until one claims it: keyword rules, similarity reuse
// from the learning store, then the lightweight classifier or full
// reasoning layer. The chosen layer is woken if cold, the query executes,
// and the outcome feeds back into the learning store.
package cascade

import (
	"context"

	"github.com/opsfabric/activator/internal/executor"
	"github.com/opsfabric/activator/internal/journal"
	"github.com/opsfabric/activator/internal/layer"
	"github.com/opsfabric/activator/internal/learning"
	"github.com/opsfabric/activator/internal/metrics"
	"github.com/opsfabric/activator/internal/pkg/logger"
	"github.com/opsfabric/activator/internal/routing"
	"github.com/opsfabric/activator/internal/rules"
)

// Request is one operational query to route.
type Request struct {
	// Query is the natural-language query text.
	Query string `json:"query"`

	// Site scopes the query to a managed site, when relevant.
	Site string `json:"site,omitempty"`

	// Context carries caller-supplied hints passed through to tools.
	Context map[string]any `json:"context,omitempty"`
}

// Response is the routing result returned to callers.
type Response struct {
	Success         bool           `json:"success"`
	Result          map[string]any `json:"result,omitempty"`
	Error           string         `json:"error,omitempty"`
	LayersActivated []string       `json:"layers_activated"`
	LatencyMs       int64          `json:"latency_ms"`
	ColdStarts      []string       `json:"cold_starts"`
	QueryID         string         `json:"query_id,omitempty"`
	RouteType       string         `json:"route_type,omitempty"`
	RouteConfidence float64        `json:"route_confidence"`
}

// Learner is the similarity-reuse and persistence surface the cascade
// needs from the learning router. A nil Learner disables tier 2 and all
// learning writes.
type Learner interface {
	Enabled() bool
	FindSimilar(ctx context.Context, query string, minSuccessRate float64) (*learning.SimilarRoute, error)
	StoreDecision(ctx context.Context, d learning.Decision) error
	StoreOutcome(ctx context.Context, o learning.Outcome) error
}

// Config names the layers the cascade dispatches to.
type Config struct {
	// ClassifierLayer receives routine queries that miss tiers 1 and 2.
	ClassifierLayer string

	// ReasoningLayer receives queries with investigative language.
	ReasoningLayer string

	// APILayer and SSHLayer form the execution failover pair: when a call
	// to APILayer fails, the would-be SSHLayer target is logged.
	APILayer string
	SSHLayer string
}

// DefaultConfig returns the default layer names.
func DefaultConfig() Config {
	return Config{
		ClassifierLayer: "reasoning-classifier",
		ReasoningLayer:  "reasoning-llm",
		APILayer:        "execution-api",
		SSHLayer:        "execution-ssh",
	}
}

// Deps holds the collaborators the cascade composes. Metrics, Journal,
// Learner, and Failover may be nil.
type Deps struct {
	Rules    *rules.Engine
	Learner  Learner
	Detector *routing.ModeDetector
	Layers   *layer.Manager
	Executor executor.Executor

	// Failover optionally retries failed API executions over another
	// channel. The cascade holds it but does not dispatch to it; API
	// failures only log the would-be target.
	Failover executor.Executor

	Journal *journal.Journal
	Metrics *metrics.Metrics
	Log     *logger.Logger
}

// Service routes queries through the cascade tiers.
type Service struct {
	cfg      Config
	rules    *rules.Engine
	learner  Learner
	detector *routing.ModeDetector
	layers   *layer.Manager
	exec     executor.Executor
	failover executor.Executor
	journal  *journal.Journal
	metrics  *metrics.Metrics
	log      *logger.Logger
}

// NewService creates a cascade service. Layers and Executor are required;
// a nil rule engine or detector falls back to the built-in defaults.
func NewService(cfg Config, deps Deps) *Service {
	if cfg.ClassifierLayer == "" {
		cfg = DefaultConfig()
	}
	if deps.Rules == nil {
		deps.Rules = rules.NewDefaultEngine()
	}
	if deps.Detector == nil {
		deps.Detector = routing.NewModeDetector()
	}
	if deps.Log == nil {
		deps.Log = logger.Default()
	}

	return &Service{
		cfg:      cfg,
		rules:    deps.Rules,
		learner:  deps.Learner,
		detector: deps.Detector,
		layers:   deps.Layers,
		exec:     deps.Executor,
		failover: deps.Failover,
		journal:  deps.Journal,
		metrics:  deps.Metrics,
		log:      deps.Log,
	}
}

// LearningEnabled reports whether tier 2 lookups reach a live store.
func (s *Service) LearningEnabled() bool {
	return s.learner != nil && s.learner.Enabled()
}

// Layers exposes the layer manager for status surfaces.
func (s *Service) Layers() *layer.Manager {
	return s.layers
}
