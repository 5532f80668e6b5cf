package learning

import (
	"context"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/opsfabric/activator/internal/pkg/errors"
	"github.com/opsfabric/activator/internal/vectorstore"
)

// feedbackPenalty is subtracted from a decision's success rate on negative
// feedback, so the route must re-earn trust before it is reused.
const feedbackPenalty = 0.1

// StoreDecision persists a routing decision before execution. The point id
// is the query id, so outcomes and feedback can address it directly.
func (r *Router) StoreDecision(ctx context.Context, d Decision) error {
	if !r.Enabled() {
		return nil
	}

	if d.QueryID == "" {
		d.QueryID = uuid.NewString()
	}
	if d.Timestamp.IsZero() {
		d.Timestamp = time.Now().UTC()
	}

	vector, err := r.embedder.Embed(ctx, d.QueryText)
	if err != nil {
		return err
	}

	point := vectorstore.Point{
		ID:      d.QueryID,
		Vector:  vector,
		Payload: decisionPayload(d),
	}
	if err := r.store.Upsert(ctx, r.cfg.CollectionQueries, []vectorstore.Point{point}); err != nil {
		return errors.LearningStoreError("store decision", err)
	}

	r.log.Debug("Routing decision stored",
		"query_id", d.QueryID, "route_type", string(d.RouteType), "tool", d.Tool)

	return nil
}

// StoreOutcome records an execution result: the decision point's running
// stats advance by one sample and a detailed outcome point is written to
// the outcomes collection.
func (r *Router) StoreOutcome(ctx context.Context, o Outcome) error {
	if !r.Enabled() {
		return nil
	}

	if o.OutcomeID == "" {
		o.OutcomeID = uuid.NewString()
	}
	if o.Timestamp.IsZero() {
		o.Timestamp = time.Now().UTC()
	}

	r.advanceDecisionStats(ctx, o)

	point := vectorstore.Point{
		ID: o.OutcomeID,
		// Zero vector: outcomes are looked up by payload, never by similarity.
		Vector:  make([]float32, r.vectorSize()),
		Payload: outcomePayload(o),
	}
	if err := r.store.Upsert(ctx, r.cfg.CollectionOutcomes, []vectorstore.Point{point}); err != nil {
		return errors.LearningStoreError("store outcome", err)
	}

	r.log.Debug("Outcome stored",
		"query_id", o.QueryID, "success", o.Success, "latency_ms", o.LatencyMS)

	return nil
}

// advanceDecisionStats folds one outcome into the decision point's incremental
// mean stats. A missing point or store error is logged and dropped; the
// outcome record itself still gets written.
func (r *Router) advanceDecisionStats(ctx context.Context, o Outcome) {
	point, err := r.store.GetPoint(ctx, r.cfg.CollectionQueries, o.QueryID)
	if err != nil {
		r.log.Warn("Decision stats lookup failed", "query_id", o.QueryID, "error", err)
		return
	}
	if point == nil {
		return
	}

	stats := statsFromPayload(point.Payload).advance(o.Success, float64(o.LatencyMS))

	err = r.store.SetPayload(ctx, r.cfg.CollectionQueries, o.QueryID, map[string]any{
		"success":        o.Success,
		"success_rate":   stats.SuccessRate,
		"sample_count":   stats.SampleCount,
		"avg_latency_ms": stats.AvgLatencyMS,
	})
	if err != nil {
		r.log.Warn("Decision stats update failed", "query_id", o.QueryID, "error", err)
	}
}

// RecordFeedback attaches user feedback to the stored outcome for queryID.
// Negative feedback additionally penalizes the decision point's success rate.
func (r *Router) RecordFeedback(ctx context.Context, queryID, feedback string) error {
	if !r.Enabled() {
		return nil
	}

	points, err := r.store.Scroll(ctx, r.cfg.CollectionOutcomes, vectorstore.ScrollRequest{
		Filter:      &vectorstore.Filter{QueryID: queryID},
		Limit:       1,
		WithPayload: true,
	})
	if err != nil {
		return errors.LearningStoreError("feedback scroll", err)
	}
	if len(points) == 0 {
		return errors.NotFoundError("outcome for query")
	}

	err = r.store.SetPayload(ctx, r.cfg.CollectionOutcomes, points[0].ID, map[string]any{
		"user_feedback": feedback,
	})
	if err != nil {
		return errors.LearningStoreError("feedback update", err)
	}

	if feedback == FeedbackNegative {
		r.penalizeDecision(ctx, queryID)
	}

	r.log.Info("Feedback recorded", "query_id", queryID, "feedback", feedback)

	return nil
}

// penalizeDecision lowers the decision's success rate after negative
// feedback. Best-effort: the feedback record above already stands.
func (r *Router) penalizeDecision(ctx context.Context, queryID string) {
	point, err := r.store.GetPoint(ctx, r.cfg.CollectionQueries, queryID)
	if err != nil {
		r.log.Warn("Feedback penalty lookup failed", "query_id", queryID, "error", err)
		return
	}
	if point == nil {
		return
	}

	rate := math.Max(0, payloadFloat(point.Payload, "success_rate")-feedbackPenalty)

	err = r.store.SetPayload(ctx, r.cfg.CollectionQueries, queryID, map[string]any{
		"success_rate": rate,
	})
	if err != nil {
		r.log.Warn("Feedback penalty update failed", "query_id", queryID, "error", err)
	}
}

func (r *Router) vectorSize() int {
	if r.cfg.VectorSize > 0 {
		return r.cfg.VectorSize
	}
	return 384
}
