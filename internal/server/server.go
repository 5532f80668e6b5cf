// Package server provides the HTTP server that wires all services together.
package server

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/opsfabric/activator/internal/cascade"
	"github.com/opsfabric/activator/internal/config"
	"github.com/opsfabric/activator/internal/embedding"
	"github.com/opsfabric/activator/internal/executor"
	"github.com/opsfabric/activator/internal/fabric"
	"github.com/opsfabric/activator/internal/journal"
	"github.com/opsfabric/activator/internal/layer"
	"github.com/opsfabric/activator/internal/learning"
	"github.com/opsfabric/activator/internal/metrics"
	"github.com/opsfabric/activator/internal/pkg/logger"
	"github.com/opsfabric/activator/internal/pkg/middleware"
	"github.com/opsfabric/activator/internal/rules"
	"github.com/opsfabric/activator/internal/vectorstore"
)

const (
	// learningInitTimeout bounds the startup collection handshake with the
	// vector store.
	learningInitTimeout = 10 * time.Second

	// startupHealthTimeout bounds the initial health sweep over the layer
	// topology.
	startupHealthTimeout = 15 * time.Second
)

// Server is the main HTTP server that wires all services together.
type Server struct {
	cfg    Config
	appCfg config.Config
	log    *logger.Logger

	httpServer *http.Server

	// Services
	metrics *metrics.Metrics
	layers  *layer.Manager
	learner *learning.Router
	journal *journal.Journal
	cascade *cascade.Service
	fabric  *fabric.Client

	ready   atomic.Bool
	mu      sync.Mutex
	started bool
}

// Config configures the server.
type Config struct {
	// Host is the address to bind to.
	Host string

	// Port is the HTTP port.
	Port int

	// Version is the application version.
	Version string

	// ReadTimeout is the HTTP read timeout.
	ReadTimeout time.Duration

	// WriteTimeout is the HTTP write timeout. It must cover the worst-case
	// cold-start wait plus execution, or in-flight wakes get cut off.
	WriteTimeout time.Duration

	// ShutdownTimeout is the graceful shutdown timeout.
	ShutdownTimeout time.Duration
}

// DefaultConfig returns sensible server defaults.
func DefaultConfig() Config {
	return Config{
		Host:            "0.0.0.0",
		Port:            8080,
		Version:         "dev",
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    120 * time.Second,
		ShutdownTimeout: 30 * time.Second,
	}
}

// New creates a new server with all dependencies.
func New(cfg Config, appCfg config.Config, log *logger.Logger) (*Server, error) {
	if cfg.Port == 0 {
		cfg = DefaultConfig()
	}

	s := &Server{
		cfg:    cfg,
		appCfg: appCfg,
		log:    log,
	}

	// Metrics, optionally persisted to Redis.
	persistence := "memory"
	if appCfg.Observability.PersistRedisURL != "" {
		persistence = "redis"
	}
	s.metrics = metrics.NewWithConfig(persistence, appCfg.Observability.PersistRedisURL)

	// Layer readiness tracking over the configured topology.
	s.layers = layer.NewManager(appCfg.Layers, s.metrics, log)

	// Tier 1 rules: file-backed when configured, built-in defaults otherwise.
	// A broken rules file is a deployment error and fails startup.
	engine := rules.NewDefaultEngine()
	if appCfg.Rules.File != "" {
		table, err := rules.LoadFile(appCfg.Rules.File)
		if err != nil {
			return nil, fmt.Errorf("loading rules file: %w", err)
		}
		engine, err = rules.NewEngine(table)
		if err != nil {
			return nil, fmt.Errorf("compiling rules: %w", err)
		}
		log.Info("Loaded routing rules", "file", appCfg.Rules.File, "count", engine.Len())
	}

	// Learning store client. Failures here only cost tier 2; the cascade
	// still routes through rules and reasoning.
	if appCfg.Learning.Enabled {
		store, err := vectorstore.NewClientFromURL(appCfg.Learning.QdrantURL, appCfg.Learning.APIKey)
		if err != nil {
			log.Warn("Learning store client unavailable, similarity reuse disabled", "error", err)
		} else {
			embedder := embedding.NewEmbedder(appCfg.Embedding, appCfg.Learning.VectorSize, log)
			s.learner = learning.NewRouter(store, embedder, appCfg.Learning, log)
		}
	}

	s.journal = journal.New(appCfg.Journal.Capacity)

	deps := cascade.Deps{
		Rules:    engine,
		Layers:   s.layers,
		Executor: executor.NewDispatcher(appCfg.Layers.Topology, log),
		Journal:  s.journal,
		Metrics:  s.metrics,
		Log:      log,
	}
	if s.learner != nil {
		deps.Learner = s.learner
	}
	s.cascade = cascade.NewService(cascade.DefaultConfig(), deps)

	// Fabric worker sharing the cascade with the HTTP surface.
	if appCfg.Fabric.Enabled {
		client, err := fabric.New(appCfg.Fabric, s.cascade, s.metrics, log)
		if err != nil {
			return nil, fmt.Errorf("creating fabric client: %w", err)
		}
		s.fabric = client
	}

	return s, nil
}

// Start starts the fabric consumer and the HTTP server. It blocks until
// the listener fails or Stop shuts it down.
func (s *Server) Start() error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return fmt.Errorf("server already started")
	}
	s.started = true
	s.mu.Unlock()

	// Initialize learning collections. Best effort: a cold vector store
	// must not block startup, tier 2 just stays dark until it recovers.
	if s.learner != nil {
		initCtx, cancel := context.WithTimeout(context.Background(), learningInitTimeout)
		if err := s.learner.Initialize(initCtx); err != nil {
			s.log.Warn("Learning store initialization failed, similarity reuse disabled", "error", err)
		}
		cancel()
	}

	healthCtx, cancel := context.WithTimeout(context.Background(), startupHealthTimeout)
	states := s.layers.States(healthCtx)
	cancel()
	for name, state := range states {
		s.log.Info("Layer health", "layer", name, "state", state)
	}

	if s.fabric != nil {
		if err := s.fabric.Start(context.Background()); err != nil {
			return fmt.Errorf("starting fabric client: %w", err)
		}
	}

	handler := s.setupRoutes()

	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}

	s.ready.Store(true)
	s.log.Info("Starting HTTP server",
		"addr", addr,
		"learning", s.cascade.LearningEnabled(),
		"fabric", s.fabric != nil,
	)
	return s.httpServer.ListenAndServe()
}

// Stop gracefully stops the server.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return nil
	}

	s.log.Info("Shutting down server...")
	s.ready.Store(false)

	shutdownCtx, cancel := context.WithTimeout(ctx, s.cfg.ShutdownTimeout)
	defer cancel()

	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			s.log.Error("HTTP shutdown error", "error", err)
		}
	}

	if s.fabric != nil {
		if err := s.fabric.Stop(shutdownCtx); err != nil {
			s.log.Error("Fabric shutdown error", "error", err)
		}
	}

	if err := s.learner.Close(); err != nil {
		s.log.Error("Learning store close error", "error", err)
	}
	if err := s.metrics.Close(); err != nil {
		s.log.Error("Metrics close error", "error", err)
	}

	s.started = false
	s.log.Info("Server stopped")

	return nil
}

// setupRoutes configures all HTTP routes and the middleware chain.
func (s *Server) setupRoutes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /query", s.handleQuery)
	mux.HandleFunc("POST /feedback", s.handleFeedback)
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	mux.HandleFunc("GET /readyz", s.handleReadyz)
	mux.HandleFunc("GET /status", s.handleStatus)
	mux.HandleFunc("GET /decisions", s.handleDecisions)

	if s.appCfg.Observability.MetricsEnabled {
		path := s.appCfg.Observability.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		mux.Handle("GET "+path, s.metrics.Handler())
	}

	// Innermost to outermost: metrics see every routed request, the rate
	// limiter sheds load before logging, recovery catches everything.
	var handler http.Handler = mux
	handler = metrics.HTTPMiddleware(s.metrics, handler)
	handler = middleware.Logging(s.log)(handler)
	if s.appCfg.Security.RateLimit > 0 {
		limiter := middleware.NewRateLimiter(middleware.RateLimiterConfig{
			RequestsPerSecond: float64(s.appCfg.Security.RateLimit),
			Burst:             2 * s.appCfg.Security.RateLimit,
			CleanupInterval:   time.Minute,
		})
		handler = limiter.Middleware(handler)
	}
	handler = middleware.Recover(s.log)(handler)

	return handler
}
