package cascade

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/opsfabric/activator/internal/executor"
	"github.com/opsfabric/activator/internal/journal"
	"github.com/opsfabric/activator/internal/learning"
	"github.com/opsfabric/activator/internal/metrics"
	appctx "github.com/opsfabric/activator/internal/pkg/context"
	apperrors "github.com/opsfabric/activator/internal/pkg/errors"
	"github.com/opsfabric/activator/internal/pkg/logger"
	"github.com/opsfabric/activator/internal/pkg/security"
	"github.com/opsfabric/activator/internal/routing"
	"github.com/opsfabric/activator/internal/rules"
)

// route is the cascade's internal selection for one query.
type route struct {
	routeType   routing.RouteType
	tool        string
	layer       string
	confidence  float64
	similarRate *float64
}

// Process routes one query through the cascade. All failures fold into the
// response; the method never returns an error.
func (s *Service) Process(ctx context.Context, req Request) Response {
	start := time.Now()
	queryID := uuid.NewString()

	ctx = appctx.WithQueryID(ctx, queryID)
	if req.Site != "" {
		ctx = appctx.WithSite(ctx, req.Site)
	}
	log := s.log.WithQuery(queryID)

	log.Info("Processing query", "query", security.SanitizeForLogWithLength(req.Query, 100))

	sel := s.selectRoute(ctx, req, log)

	mode := s.detector.Analyze(req.Query, req.Context, sel.similarRate)
	if mode.EscalationReason != "" && s.metrics != nil {
		s.metrics.RecordEscalation(string(mode.EscalationReason))
	}

	s.storeDecision(ctx, queryID, req, sel, mode, log)

	ready, coldStart := s.layers.EnsureReady(ctx, sel.layer)
	if !ready {
		latency := time.Since(start).Milliseconds()
		s.storeOutcome(ctx, queryID, false, latency, "layer_unavailable", log)
		s.observeQuery(sel, latency)
		s.recordJournal(queryID, req, sel, mode, false, latency, false)

		return Response{
			Success:         false,
			Error:           apperrors.LayerUnavailableError(sel.layer).Message,
			LayersActivated: []string{},
			LatencyMs:       latency,
			ColdStarts:      []string{},
			QueryID:         queryID,
			RouteType:       string(sel.routeType),
			RouteConfidence: sel.confidence,
		}
	}

	coldStarts := make([]string, 0, 1)
	if coldStart {
		coldStarts = append(coldStarts, sel.layer)
	}
	layersActivated := []string{sel.layer}

	result, execErr := s.exec.Execute(ctx, sel.layer, executor.Request{
		Tool:    toolOrUnknown(sel.tool),
		Query:   req.Query,
		Site:    req.Site,
		Context: req.Context,
	})
	success := execErr == nil

	var (
		data   map[string]any
		errMsg string
	)
	if success {
		data = result.Data
	} else {
		errMsg = execErr.Error()
		log.Error("Execution failed", "layer", sel.layer, "error", execErr)

		// The alternate executor is held but never dispatched; a failed
		// API execution only logs the would-be SSH target.
		if sel.layer == s.cfg.APILayer {
			log.Info("Failover target identified",
				"layer", sel.layer, "failover_layer", s.cfg.SSHLayer)
		}
	}

	latency := time.Since(start).Milliseconds()
	s.storeOutcome(ctx, queryID, success, latency, errorType(execErr), log)
	s.observeQuery(sel, latency)
	s.recordJournal(queryID, req, sel, mode, success, latency, coldStart)

	return Response{
		Success:         success,
		Result:          data,
		Error:           errMsg,
		LayersActivated: layersActivated,
		LatencyMs:       latency,
		ColdStarts:      coldStarts,
		QueryID:         queryID,
		RouteType:       string(sel.routeType),
		RouteConfidence: sel.confidence,
	}
}

// selectRoute walks tiers 1 through 4 and returns the first claim.
func (s *Service) selectRoute(ctx context.Context, req Request, log *logger.Logger) route {
	if match, ok := s.rules.Match(req.Query); ok {
		log.Debug("Tier 1 rule match",
			"tool", match.Tool, "layer", match.Layer, "pattern", match.Pattern)
		return route{
			routeType:  routing.RouteRuleMatch,
			tool:       match.Tool,
			layer:      match.Layer,
			confidence: rules.MatchConfidence,
		}
	}

	if sel, ok := s.findSimilar(ctx, req.Query, log); ok {
		return sel
	}

	if routing.NeedsFullReasoning(req.Query) {
		log.Debug("Tier 4 full reasoning", "layer", s.cfg.ReasoningLayer)
		return route{routeType: routing.RouteFullReasoning, layer: s.cfg.ReasoningLayer}
	}

	log.Debug("Tier 3 lightweight classifier", "layer", s.cfg.ClassifierLayer)
	return route{routeType: routing.RouteLightweightClassifier, layer: s.cfg.ClassifierLayer}
}

// findSimilar runs the tier-2 lookup. Store errors count and log but never
// block the cascade from falling through to the reasoning tiers.
func (s *Service) findSimilar(ctx context.Context, query string, log *logger.Logger) (route, bool) {
	if !s.LearningEnabled() {
		return route{}, false
	}

	lookupStart := time.Now()
	similar, err := s.learner.FindSimilar(ctx, query, 0)
	elapsed := time.Since(lookupStart)

	switch {
	case err != nil:
		s.countLookup(metrics.LookupError, elapsed)
		log.Warn("Similarity lookup failed", "error", err)
	case similar != nil:
		s.countLookup(metrics.LookupHit, elapsed)
		log.Info("Tier 2 similarity reuse",
			"tool", similar.Tool,
			"layer", similar.ExecutionLayer,
			"similarity", similar.Similarity,
			"success_rate", similar.SuccessRate,
			"lookup_ms", elapsed.Milliseconds())

		rate := similar.SuccessRate
		return route{
			routeType:   routing.RouteSimilarityReuse,
			tool:        similar.Tool,
			layer:       similar.ExecutionLayer,
			confidence:  similar.Similarity * similar.SuccessRate,
			similarRate: &rate,
		}, true
	default:
		s.countLookup(metrics.LookupMiss, elapsed)
	}

	return route{}, false
}

// storeDecision persists the routing decision before execution. Best-effort.
func (s *Service) storeDecision(ctx context.Context, queryID string, req Request, sel route, mode routing.ModeDecision, log *logger.Logger) {
	if !s.LearningEnabled() {
		return
	}

	decision := learning.Decision{
		QueryID:        queryID,
		QueryText:      req.Query,
		RouteType:      sel.routeType,
		Tool:           toolOrUnknown(sel.tool),
		ExecutionLayer: sel.layer,
		Confidence:     sel.confidence,
		Timestamp:      time.Now().UTC(),
		Metadata: map[string]any{
			"site":         req.Site,
			"context_keys": contextKeys(req.Context),
			"mode":         string(mode.Mode),
			"complexity":   mode.Complexity.Score,
			"level":        string(mode.Complexity.Level),
		},
	}

	if err := s.learner.StoreDecision(ctx, decision); err != nil {
		log.Warn("Decision store failed", "error", err)
		return
	}
	if s.metrics != nil {
		s.metrics.RecordDecisionStored(string(sel.routeType))
	}
}

// storeOutcome persists the execution result for learning. Best-effort.
func (s *Service) storeOutcome(ctx context.Context, queryID string, success bool, latencyMs int64, errType string, log *logger.Logger) {
	if !s.LearningEnabled() {
		return
	}

	outcome := learning.Outcome{
		OutcomeID: uuid.NewString(),
		QueryID:   queryID,
		Success:   success,
		LatencyMS: int(latencyMs),
		ErrorType: errType,
		Timestamp: time.Now().UTC(),
	}

	if err := s.learner.StoreOutcome(ctx, outcome); err != nil {
		log.Warn("Outcome store failed", "error", err)
		return
	}
	if s.metrics != nil {
		s.metrics.RecordOutcomeStored(success)
	}
}

func (s *Service) observeQuery(sel route, latencyMs int64) {
	if s.metrics != nil {
		s.metrics.RecordQuery(string(sel.routeType), sel.layer, float64(latencyMs))
	}
}

func (s *Service) countLookup(result string, elapsed time.Duration) {
	if s.metrics != nil {
		s.metrics.RecordSimilarityLookup(result, elapsed)
	}
}

func (s *Service) recordJournal(queryID string, req Request, sel route, mode routing.ModeDecision, success bool, latencyMs int64, coldStart bool) {
	if s.journal == nil {
		return
	}

	s.journal.Record(journal.Entry{
		Timestamp:  time.Now().UTC(),
		QueryID:    queryID,
		Site:       req.Site,
		Query:      req.Query,
		RouteType:  string(sel.routeType),
		Tool:       sel.tool,
		Layer:      sel.layer,
		Confidence: sel.confidence,
		Complexity: float64(mode.Complexity.Score),
		Level:      string(mode.Complexity.Level),
		Mode:       string(mode.Mode),
		Success:    success,
		LatencyMs:  latencyMs,
		ColdStart:  coldStart,
	})
}

// errorType classifies a failed execution for the outcome record.
func errorType(err error) string {
	if err == nil {
		return ""
	}
	if appErr, ok := err.(*apperrors.AppError); ok && appErr.Code == apperrors.CodeExecution {
		return "tool_error"
	}
	return "unknown"
}

func toolOrUnknown(tool string) string {
	if tool == "" {
		return "unknown"
	}
	return tool
}

func contextKeys(context map[string]any) []string {
	keys := make([]string, 0, len(context))
	for k := range context {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
