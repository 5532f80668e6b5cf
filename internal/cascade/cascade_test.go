package cascade

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"reflect"
	"sync/atomic"
	"testing"

	"github.com/opsfabric/activator/internal/config"
	"github.com/opsfabric/activator/internal/executor"
	"github.com/opsfabric/activator/internal/journal"
	"github.com/opsfabric/activator/internal/layer"
	"github.com/opsfabric/activator/internal/learning"
	apperrors "github.com/opsfabric/activator/internal/pkg/errors"
	"github.com/opsfabric/activator/internal/pkg/logger"
)

type execCall struct {
	layer string
	req   executor.Request
}

type fakeExecutor struct {
	calls  []execCall
	result *executor.Result
	err    error
}

func (f *fakeExecutor) Execute(_ context.Context, layer string, req executor.Request) (*executor.Result, error) {
	f.calls = append(f.calls, execCall{layer: layer, req: req})
	if f.err != nil {
		return nil, f.err
	}
	if f.result != nil {
		return f.result, nil
	}
	return &executor.Result{Data: map[string]any{"ok": true}}, nil
}

type fakeLearner struct {
	enabled   bool
	similar   *learning.SimilarRoute
	findErr   error
	decisions []learning.Decision
	outcomes  []learning.Outcome
}

func (f *fakeLearner) Enabled() bool { return f.enabled }

func (f *fakeLearner) FindSimilar(_ context.Context, _ string, _ float64) (*learning.SimilarRoute, error) {
	return f.similar, f.findErr
}

func (f *fakeLearner) StoreDecision(_ context.Context, d learning.Decision) error {
	f.decisions = append(f.decisions, d)
	return nil
}

func (f *fakeLearner) StoreOutcome(_ context.Context, o learning.Outcome) error {
	f.outcomes = append(f.outcomes, o)
	return nil
}

func testLayers(endpoint string) *layer.Manager {
	topology := map[string]config.LayerConfig{
		"reasoning-classifier": {Endpoint: endpoint, HealthPath: "/health", Timeout: 5},
		"reasoning-llm":        {Endpoint: endpoint, HealthPath: "/health", Timeout: 5},
		"execution-api":        {Endpoint: endpoint, HealthPath: "/health", Timeout: 5},
		"execution-ssh":        {Endpoint: endpoint, HealthPath: "/health", Timeout: 5},
	}
	return layer.NewManager(config.LayersConfig{
		Topology:      topology,
		HealthTimeout: 1,
		WakeTimeout:   1,
		PollInterval:  20,
	}, nil, logger.Default())
}

func newTestService(endpoint string, learner Learner, exec executor.Executor) (*Service, *journal.Journal) {
	jrnl := journal.New(100)
	svc := NewService(DefaultConfig(), Deps{
		Learner:  learner,
		Layers:   testLayers(endpoint),
		Executor: exec,
		Journal:  jrnl,
		Log:      logger.Default(),
	})
	return svc, jrnl
}

func warmServer(t *testing.T) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(server.Close)
	return server
}

func TestProcessTier1RuleMatch(t *testing.T) {
	server := warmServer(t)
	learner := &fakeLearner{enabled: true}
	exec := &fakeExecutor{}
	svc, jrnl := newTestService(server.URL, learner, exec)

	resp := svc.Process(context.Background(), Request{Query: "list all clients", Site: "hq"})

	if !resp.Success {
		t.Fatalf("Success = false, error = %q", resp.Error)
	}
	if resp.RouteType != "rule-match" {
		t.Errorf("RouteType = %q, want %q", resp.RouteType, "rule-match")
	}
	if resp.RouteConfidence != 0.95 {
		t.Errorf("RouteConfidence = %v, want 0.95", resp.RouteConfidence)
	}
	if !reflect.DeepEqual(resp.LayersActivated, []string{"execution-api"}) {
		t.Errorf("LayersActivated = %v, want [execution-api]", resp.LayersActivated)
	}
	if len(resp.ColdStarts) != 0 {
		t.Errorf("ColdStarts = %v, want empty", resp.ColdStarts)
	}
	if resp.QueryID == "" {
		t.Error("QueryID is empty")
	}

	if len(exec.calls) != 1 {
		t.Fatalf("executor calls = %d, want 1", len(exec.calls))
	}
	if exec.calls[0].layer != "execution-api" {
		t.Errorf("executed layer = %q, want execution-api", exec.calls[0].layer)
	}
	if exec.calls[0].req.Tool != "get_clients" {
		t.Errorf("tool = %q, want get_clients", exec.calls[0].req.Tool)
	}
	if exec.calls[0].req.Site != "hq" {
		t.Errorf("site = %q, want hq", exec.calls[0].req.Site)
	}

	if len(learner.decisions) != 1 {
		t.Fatalf("stored decisions = %d, want 1", len(learner.decisions))
	}
	if learner.decisions[0].RouteType != "rule-match" {
		t.Errorf("decision route type = %q, want rule-match", learner.decisions[0].RouteType)
	}
	if len(learner.outcomes) != 1 || !learner.outcomes[0].Success {
		t.Errorf("outcomes = %+v, want one successful outcome", learner.outcomes)
	}

	if jrnl.Len() != 1 {
		t.Errorf("journal entries = %d, want 1", jrnl.Len())
	}
	entry := jrnl.Recent(1)[0]
	if entry.RouteType != "rule-match" || entry.Layer != "execution-api" || !entry.Success {
		t.Errorf("journal entry = %+v, want successful rule-match on execution-api", entry)
	}
}

func TestProcessTier2SimilarityReuse(t *testing.T) {
	server := warmServer(t)
	learner := &fakeLearner{
		enabled: true,
		similar: &learning.SimilarRoute{
			QueryID:        "past-1",
			QueryText:      "fetch connected laptops",
			Similarity:     0.95,
			Tool:           "get_clients",
			ExecutionLayer: "execution-api",
			SuccessRate:    0.9,
			SampleCount:    5,
		},
	}
	exec := &fakeExecutor{}
	svc, _ := newTestService(server.URL, learner, exec)

	resp := svc.Process(context.Background(), Request{Query: "fetch connected laptops"})

	if !resp.Success {
		t.Fatalf("Success = false, error = %q", resp.Error)
	}
	if resp.RouteType != "similarity-reuse" {
		t.Errorf("RouteType = %q, want similarity-reuse", resp.RouteType)
	}
	want := 0.95 * 0.9
	if diff := resp.RouteConfidence - want; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("RouteConfidence = %v, want %v", resp.RouteConfidence, want)
	}
	if exec.calls[0].layer != "execution-api" || exec.calls[0].req.Tool != "get_clients" {
		t.Errorf("executed %q/%q, want execution-api/get_clients",
			exec.calls[0].layer, exec.calls[0].req.Tool)
	}
}

func TestProcessTier3Classifier(t *testing.T) {
	server := warmServer(t)
	exec := &fakeExecutor{}
	svc, _ := newTestService(server.URL, &fakeLearner{}, exec)

	resp := svc.Process(context.Background(), Request{Query: "hello there"})

	if resp.RouteType != "lightweight-classifier" {
		t.Errorf("RouteType = %q, want lightweight-classifier", resp.RouteType)
	}
	if exec.calls[0].layer != "reasoning-classifier" {
		t.Errorf("layer = %q, want reasoning-classifier", exec.calls[0].layer)
	}
	if resp.RouteConfidence != 0 {
		t.Errorf("RouteConfidence = %v, want 0", resp.RouteConfidence)
	}
}

func TestProcessTier4FullReasoning(t *testing.T) {
	server := warmServer(t)
	exec := &fakeExecutor{}
	svc, _ := newTestService(server.URL, &fakeLearner{}, exec)

	resp := svc.Process(context.Background(), Request{Query: "why is the guest wifi slow"})

	if resp.RouteType != "full-reasoning" {
		t.Errorf("RouteType = %q, want full-reasoning", resp.RouteType)
	}
	if exec.calls[0].layer != "reasoning-llm" {
		t.Errorf("layer = %q, want reasoning-llm", exec.calls[0].layer)
	}
}

func TestProcessLookupErrorFallsThrough(t *testing.T) {
	server := warmServer(t)
	learner := &fakeLearner{enabled: true, findErr: errors.New("store down")}
	exec := &fakeExecutor{}
	svc, _ := newTestService(server.URL, learner, exec)

	resp := svc.Process(context.Background(), Request{Query: "hello there"})

	if !resp.Success {
		t.Fatalf("Success = false, error = %q", resp.Error)
	}
	if resp.RouteType != "lightweight-classifier" {
		t.Errorf("RouteType = %q, want lightweight-classifier after lookup error", resp.RouteType)
	}
}

func TestProcessLayerUnavailable(t *testing.T) {
	learner := &fakeLearner{enabled: true}
	exec := &fakeExecutor{}
	svc, jrnl := newTestService("http://127.0.0.1:1", learner, exec)

	resp := svc.Process(context.Background(), Request{Query: "list all clients"})

	if resp.Success {
		t.Fatal("Success = true, want false for unreachable layer")
	}
	if resp.Error != "layer execution-api failed to become ready" {
		t.Errorf("Error = %q, want layer readiness failure", resp.Error)
	}
	if len(resp.LayersActivated) != 0 {
		t.Errorf("LayersActivated = %v, want empty", resp.LayersActivated)
	}
	if len(exec.calls) != 0 {
		t.Errorf("executor calls = %d, want 0", len(exec.calls))
	}

	if len(learner.outcomes) != 1 {
		t.Fatalf("outcomes = %d, want 1", len(learner.outcomes))
	}
	if learner.outcomes[0].ErrorType != "layer_unavailable" {
		t.Errorf("ErrorType = %q, want layer_unavailable", learner.outcomes[0].ErrorType)
	}

	entry := jrnl.Recent(1)[0]
	if entry.Success {
		t.Error("journal entry Success = true, want false")
	}
}

func TestProcessExecutionError(t *testing.T) {
	server := warmServer(t)
	learner := &fakeLearner{enabled: true}
	exec := &fakeExecutor{err: apperrors.ExecutionError("execution-api", errors.New("boom"))}
	svc, _ := newTestService(server.URL, learner, exec)

	resp := svc.Process(context.Background(), Request{Query: "list all clients"})

	if resp.Success {
		t.Fatal("Success = true, want false")
	}
	if resp.Error == "" {
		t.Error("Error is empty")
	}
	if !reflect.DeepEqual(resp.LayersActivated, []string{"execution-api"}) {
		t.Errorf("LayersActivated = %v, want [execution-api]", resp.LayersActivated)
	}
	if resp.RouteType != "rule-match" {
		t.Errorf("RouteType = %q, want rule-match carried on failure", resp.RouteType)
	}

	if learner.outcomes[0].ErrorType != "tool_error" {
		t.Errorf("ErrorType = %q, want tool_error", learner.outcomes[0].ErrorType)
	}
}

func TestProcessColdStartReported(t *testing.T) {
	var checks atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if checks.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	exec := &fakeExecutor{}
	svc, jrnl := newTestService(server.URL, &fakeLearner{}, exec)

	resp := svc.Process(context.Background(), Request{Query: "list all clients"})

	if !resp.Success {
		t.Fatalf("Success = false, error = %q", resp.Error)
	}
	if !reflect.DeepEqual(resp.ColdStarts, []string{"execution-api"}) {
		t.Errorf("ColdStarts = %v, want [execution-api]", resp.ColdStarts)
	}

	entry := jrnl.Recent(1)[0]
	if !entry.ColdStart {
		t.Error("journal entry ColdStart = false, want true")
	}
}

func TestProcessDecisionMetadata(t *testing.T) {
	server := warmServer(t)
	learner := &fakeLearner{enabled: true}
	svc, _ := newTestService(server.URL, learner, &fakeExecutor{})

	svc.Process(context.Background(), Request{
		Query:   "list all clients",
		Site:    "branch-2",
		Context: map[string]any{"vlan": 30, "ap": "ap-floor-1"},
	})

	if len(learner.decisions) != 1 {
		t.Fatalf("decisions = %d, want 1", len(learner.decisions))
	}
	meta := learner.decisions[0].Metadata
	if meta["site"] != "branch-2" {
		t.Errorf("metadata site = %v, want branch-2", meta["site"])
	}
	keys, ok := meta["context_keys"].([]string)
	if !ok || !reflect.DeepEqual(keys, []string{"ap", "vlan"}) {
		t.Errorf("context_keys = %v, want sorted [ap vlan]", meta["context_keys"])
	}
	if meta["mode"] == "" {
		t.Error("metadata mode is empty")
	}
}

func TestErrorTypeClassification(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, ""},
		{"execution", apperrors.ExecutionError("execution-api", errors.New("boom")), "tool_error"},
		{"plain", errors.New("boom"), "unknown"},
		{"not found", apperrors.NotFoundError("layer"), "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := errorType(tt.err); got != tt.want {
				t.Errorf("errorType(%v) = %q, want %q", tt.err, got, tt.want)
			}
		})
	}
}
