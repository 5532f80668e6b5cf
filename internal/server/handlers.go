package server

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/opsfabric/activator/internal/cascade"
	"github.com/opsfabric/activator/internal/layer"
	apperrors "github.com/opsfabric/activator/internal/pkg/errors"
	"github.com/opsfabric/activator/internal/pkg/security"
)

// defaultDecisionCount is how many journal entries /decisions returns when
// the caller does not ask for a count.
const defaultDecisionCount = 50

// queryRequest is the JSON request body for /query.
type queryRequest struct {
	Query   string         `json:"query"`
	Site    string         `json:"site,omitempty"`
	Context map[string]any `json:"context,omitempty"`
}

// feedbackRequest is the JSON request body for /feedback.
type feedbackRequest struct {
	QueryID  string `json:"query_id"`
	Feedback string `json:"feedback"`
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// handleQuery routes one query through the cascade. Routing failures come
// back as success=false payloads, not HTTP errors; only malformed requests
// get a 4xx.
func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, security.MaxRequestSize)

	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apperrors.WriteError(w, apperrors.InvalidRequestError("invalid request body: "+err.Error()))
		return
	}
	req.Query = security.SanitizeQuery(req.Query)
	if err := security.ValidateQuery(req.Query); err != nil {
		apperrors.WriteError(w, apperrors.ValidationError(err.Error()))
		return
	}
	if err := security.ValidateSiteName(req.Site); err != nil {
		apperrors.WriteError(w, apperrors.ValidationError(err.Error()))
		return
	}

	resp := s.cascade.Process(r.Context(), cascade.Request{
		Query:   req.Query,
		Site:    req.Site,
		Context: req.Context,
	})

	writeJSON(w, http.StatusOK, resp)
}

// handleFeedback applies a positive or negative signal to a stored routing
// outcome.
func (s *Server) handleFeedback(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, security.MaxRequestSize)

	var req feedbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apperrors.WriteError(w, apperrors.InvalidRequestError("invalid request body: "+err.Error()))
		return
	}
	if req.QueryID == "" {
		apperrors.WriteError(w, apperrors.ValidationError("query_id is required"))
		return
	}
	if err := security.ValidateFeedback(req.Feedback); err != nil {
		apperrors.WriteError(w, apperrors.ValidationError(err.Error()))
		return
	}

	if !s.cascade.LearningEnabled() {
		apperrors.WriteError(w, apperrors.ServiceUnavailableError("learning store"))
		return
	}

	if err := s.learner.RecordFeedback(r.Context(), req.QueryID, req.Feedback); err != nil {
		apperrors.WriteError(w, err)
		return
	}
	s.metrics.RecordFeedback(req.Feedback)

	writeJSON(w, http.StatusOK, map[string]any{"recorded": true})
}

// handleHealthz reports process liveness.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"fabric_enabled": s.fabric != nil,
	})
}

// handleReadyz reports routing readiness: the server is accepting work and
// the readiness layer answers its health check.
func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if !s.ready.Load() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "shutting_down"})
		return
	}

	readiness := s.appCfg.Layers.ReadinessLayer
	if state := s.layers.CheckHealth(r.Context(), readiness); state != layer.StateWarm {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"layers": s.layers.CachedStates(),
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}

// handleStatus reports layer states, subsystem flags, and journal/metric
// summaries. Layer states are re-checked, so this endpoint reflects the
// topology as probed now, not the routing cache.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	fabricStatus := map[string]any{"enabled": s.fabric != nil}
	if s.fabric != nil {
		fabricStatus["agent_id"] = s.fabric.AgentID()
		fabricStatus["agent_status"] = s.fabric.Status()
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"version":          s.cfg.Version,
		"layers":           s.layers.States(r.Context()),
		"learning_enabled": s.cascade.LearningEnabled(),
		"fabric":           fabricStatus,
		"journal":          s.journal.Stats(),
		"metrics":          s.metrics.Snapshot(),
	})
}

// handleDecisions returns recent routing decisions from the journal.
func (s *Server) handleDecisions(w http.ResponseWriter, r *http.Request) {
	n := defaultDecisionCount
	if raw := r.URL.Query().Get("n"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			apperrors.WriteError(w, apperrors.ValidationError("n must be a positive integer"))
			return
		}
		n = parsed
	}

	entries := s.journal.Recent(n)
	writeJSON(w, http.StatusOK, map[string]any{
		"decisions": entries,
		"count":     len(entries),
	})
}
