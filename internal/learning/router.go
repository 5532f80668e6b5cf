package learning

import (
	"context"
	"fmt"

	"github.com/opsfabric/activator/internal/config"
	"github.com/opsfabric/activator/internal/embedding"
	"github.com/opsfabric/activator/internal/pkg/errors"
	"github.com/opsfabric/activator/internal/pkg/logger"
	"github.com/opsfabric/activator/internal/pkg/security"
	"github.com/opsfabric/activator/internal/routing"
	"github.com/opsfabric/activator/internal/vectorstore"
)

// similarCandidates bounds how many search hits are screened for reuse.
const similarCandidates = 5

// Router is the learning-backed similarity router.
//
// A nil Router is valid and disables learning: lookups return nothing and
// writes are dropped.
type Router struct {
	store       *vectorstore.Client
	embedder    *embedding.Embedder
	cfg         config.LearningConfig
	log         *logger.Logger
	initialized bool
}

// NewRouter creates a learning router over a vector store and embedder.
// Initialize must succeed before the router serves lookups.
func NewRouter(store *vectorstore.Client, embedder *embedding.Embedder, cfg config.LearningConfig, log *logger.Logger) *Router {
	return &Router{
		store:    store,
		embedder: embedder,
		cfg:      cfg,
		log:      log,
	}
}

// Initialize verifies store connectivity and bootstraps both collections.
func (r *Router) Initialize(ctx context.Context) error {
	if r == nil {
		return nil
	}

	if err := r.store.HealthCheck(ctx); err != nil {
		return errors.LearningStoreError("health check", err)
	}

	for _, name := range []string{r.cfg.CollectionQueries, r.cfg.CollectionOutcomes} {
		cfg := vectorstore.DefaultCollectionConfig(name)
		if r.cfg.VectorSize > 0 {
			cfg.VectorSize = uint64(r.cfg.VectorSize)
		}
		if err := r.store.EnsureCollection(ctx, cfg); err != nil {
			return errors.LearningStoreError(fmt.Sprintf("ensure collection %s", name), err)
		}
	}

	r.initialized = true
	r.log.Info("Learning router initialized",
		"queries", r.cfg.CollectionQueries,
		"outcomes", r.cfg.CollectionOutcomes,
		"similarity_threshold", r.cfg.SimilarityThreshold)

	return nil
}

// Enabled reports whether lookups and writes will reach the store.
func (r *Router) Enabled() bool {
	return r != nil && r.initialized
}

// HealthCheck reports store connectivity.
func (r *Router) HealthCheck(ctx context.Context) error {
	if r == nil {
		return errors.ServiceUnavailableError("learning store")
	}
	return r.store.HealthCheck(ctx)
}

// FindSimilar looks for a trusted past route for query. minSuccessRate <= 0
// uses the configured default. Returns nil without error when no candidate
// qualifies.
func (r *Router) FindSimilar(ctx context.Context, query string, minSuccessRate float64) (*SimilarRoute, error) {
	if !r.Enabled() {
		return nil, nil
	}
	if minSuccessRate <= 0 {
		minSuccessRate = r.cfg.MinSuccessRate
	}

	vector, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}

	threshold := float32(r.cfg.SimilarityThreshold)
	succeeded := true
	results, err := r.store.Search(ctx, r.cfg.CollectionQueries, vectorstore.SearchRequest{
		Vector:         vector,
		Limit:          similarCandidates,
		ScoreThreshold: &threshold,
		Filter:         &vectorstore.Filter{Success: &succeeded},
		WithPayload:    true,
	})
	if err != nil {
		return nil, errors.LearningStoreError("similarity search", err)
	}

	route := pickCandidate(results, minSuccessRate, r.cfg.MinSamples)
	if route == nil {
		r.log.Debug("No similar route qualified",
			"query", security.SanitizeForLogWithLength(query, 50), "candidates", len(results))
		return nil, nil
	}

	r.log.Info("Similar route found",
		"query", security.SanitizeForLogWithLength(query, 50),
		"similarity", route.Similarity,
		"tool", route.Tool,
		"success_rate", route.SuccessRate,
		"samples", route.SampleCount)

	return route, nil
}

// pickCandidate returns the first hit whose stats clear the trust gates.
func pickCandidate(results []vectorstore.SearchResult, minRate float64, minSamples int) *SimilarRoute {
	for _, res := range results {
		rate := payloadFloat(res.Payload, "success_rate")
		count := payloadInt(res.Payload, "sample_count")
		if rate < minRate || count < minSamples {
			continue
		}

		route := &SimilarRoute{
			QueryID:        payloadString(res.Payload, "query_id"),
			QueryText:      payloadString(res.Payload, "query_text"),
			Similarity:     float64(res.Score),
			RouteType:      routing.RouteType(payloadString(res.Payload, "route_type")),
			Tool:           payloadString(res.Payload, "tool"),
			ExecutionLayer: payloadString(res.Payload, "execution_layer"),
			SuccessRate:    rate,
			SampleCount:    count,
			AvgLatencyMS:   payloadFloat(res.Payload, "avg_latency_ms"),
		}
		if route.QueryID == "" {
			route.QueryID = res.ID
		}
		if route.RouteType == "" {
			route.RouteType = routing.RouteSimilarityReuse
		}

		return route
	}

	return nil
}

// Close releases the underlying store connection.
func (r *Router) Close() error {
	if r == nil || r.store == nil {
		return nil
	}
	return r.store.Close()
}
