package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/opsfabric/activator/internal/config"
	"github.com/opsfabric/activator/internal/pkg/logger"
)

// fakeLayers serves health checks, tool executions, and chat completions
// for every layer in the test topology.
func fakeLayers(t *testing.T) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/execute", func(w http.ResponseWriter, r *http.Request) {
		var req map[string]any
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"executed": true,
			"tool":     req["tool"],
		})
	})
	mux.HandleFunc("/v1/chat/completions", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"id":      "chatcmpl-test",
			"object":  "chat.completion",
			"created": 1,
			"model":   "local",
			"choices": []map[string]any{
				{
					"index":         0,
					"finish_reason": "stop",
					"message":       map[string]any{"role": "assistant", "content": "analysis complete"},
				},
			},
		})
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

// unhealthyLayers answers every request with a 500 so health checks fail.
func unhealthyLayers(t *testing.T) *httptest.Server {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func testConfig(layerURL string) config.Config {
	topology := map[string]config.LayerConfig{
		"reasoning-classifier": {Endpoint: layerURL, HealthPath: "/health", Timeout: 5},
		"reasoning-llm":        {Endpoint: layerURL, HealthPath: "/health", Timeout: 5},
		"execution-api":        {Endpoint: layerURL, HealthPath: "/health", Timeout: 5},
		"execution-ssh":        {Endpoint: layerURL, HealthPath: "/health", Timeout: 5},
		"vector-store":         {Endpoint: layerURL, HealthPath: "/health", Timeout: 5},
	}

	return config.Config{
		Host: "127.0.0.1",
		Port: 8080,
		Layers: config.LayersConfig{
			Topology:       topology,
			ReadinessLayer: "vector-store",
			HealthTimeout:  2,
			WakeTimeout:    1,
			PollInterval:   100,
		},
		Journal: config.JournalConfig{Capacity: 100},
		Observability: config.ObservabilityConfig{
			MetricsEnabled: true,
			MetricsPath:    "/metrics",
		},
	}
}

// newTestServer builds a server over the given config and returns it with
// its routed handler. The ready flag is set as if Start had run.
func newTestServer(t *testing.T, appCfg config.Config) (*Server, http.Handler) {
	t.Helper()

	cfg := Config{
		Host:            "127.0.0.1",
		Port:            8080,
		Version:         "test",
		ReadTimeout:     5 * time.Second,
		WriteTimeout:    10 * time.Second,
		ShutdownTimeout: time.Second,
	}
	srv, err := New(cfg, appCfg, logger.New("error", "text"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { srv.metrics.Close() })
	srv.ready.Store(true)
	return srv, srv.setupRoutes()
}

// wireResponse mirrors the /query response shape.
type wireResponse struct {
	Success         bool           `json:"success"`
	Result          map[string]any `json:"result"`
	Error           string         `json:"error"`
	LayersActivated []string       `json:"layers_activated"`
	LatencyMs       int64          `json:"latency_ms"`
	ColdStarts      []string       `json:"cold_starts"`
	QueryID         string         `json:"query_id"`
	RouteType       string         `json:"route_type"`
	RouteConfidence float64        `json:"route_confidence"`
}

func postJSON(t *testing.T, handler http.Handler, path, body string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func getPath(t *testing.T, handler http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func decodeQueryResponse(t *testing.T, rec *httptest.ResponseRecorder) wireResponse {
	t.Helper()

	var resp wireResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal response: %v, body: %s", err, rec.Body.String())
	}
	return resp
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Host != "0.0.0.0" {
		t.Errorf("Host = %q, want %q", cfg.Host, "0.0.0.0")
	}
	if cfg.Port != 8080 {
		t.Errorf("Port = %d, want %d", cfg.Port, 8080)
	}
	if cfg.Version != "dev" {
		t.Errorf("Version = %q, want %q", cfg.Version, "dev")
	}
	if cfg.WriteTimeout <= cfg.ReadTimeout {
		t.Error("WriteTimeout should exceed ReadTimeout to cover cold-start waits")
	}
	if cfg.ShutdownTimeout == 0 {
		t.Error("ShutdownTimeout should not be zero")
	}
}

func TestQueryRouting(t *testing.T) {
	layers := fakeLayers(t)
	_, handler := newTestServer(t, testConfig(layers.URL))

	tests := []struct {
		name      string
		query     string
		wantRoute string
		wantLayer string
		wantTool  string
	}{
		{
			name:      "rule match api",
			query:     "list all clients on the network",
			wantRoute: "rule-match",
			wantLayer: "execution-api",
			wantTool:  "get_clients",
		},
		{
			name:      "rule match ssh",
			query:     "diagnose the uplink",
			wantRoute: "rule-match",
			wantLayer: "execution-ssh",
			wantTool:  "diagnostics",
		},
		{
			name:      "full reasoning",
			query:     "why is the uplink flapping every hour",
			wantRoute: "full-reasoning",
			wantLayer: "reasoning-llm",
		},
		{
			name:      "lightweight classifier",
			query:     "update firmware on the access point",
			wantRoute: "lightweight-classifier",
			wantLayer: "reasoning-classifier",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := postJSON(t, handler, "/query", `{"query": "`+tt.query+`", "site": "hq"}`)
			if rec.Code != http.StatusOK {
				t.Fatalf("status = %d, want %d, body: %s", rec.Code, http.StatusOK, rec.Body.String())
			}

			resp := decodeQueryResponse(t, rec)
			if !resp.Success {
				t.Fatalf("success = false, error: %s", resp.Error)
			}
			if resp.RouteType != tt.wantRoute {
				t.Errorf("route_type = %q, want %q", resp.RouteType, tt.wantRoute)
			}
			if len(resp.LayersActivated) != 1 || resp.LayersActivated[0] != tt.wantLayer {
				t.Errorf("layers_activated = %v, want [%s]", resp.LayersActivated, tt.wantLayer)
			}
			if resp.QueryID == "" {
				t.Error("query_id should be set")
			}
			if resp.ColdStarts == nil {
				t.Error("cold_starts should never be null")
			}
			if tt.wantTool != "" {
				if got := resp.Result["tool"]; got != tt.wantTool {
					t.Errorf("result tool = %v, want %q", got, tt.wantTool)
				}
				if resp.RouteConfidence != 0.95 {
					t.Errorf("route_confidence = %v, want 0.95", resp.RouteConfidence)
				}
			}
		})
	}
}

func TestQueryValidation(t *testing.T) {
	layers := fakeLayers(t)
	_, handler := newTestServer(t, testConfig(layers.URL))

	tests := []struct {
		name     string
		body     string
		wantCode string
	}{
		{"empty query", `{"query": ""}`, "VALIDATION_ERROR"},
		{"oversized query", `{"query": "` + strings.Repeat("x", 10001) + `"}`, "VALIDATION_ERROR"},
		{"bad site", `{"query": "list clients", "site": "bad site!"}`, "VALIDATION_ERROR"},
		{"malformed json", `{"query": `, "INVALID_REQUEST"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := postJSON(t, handler, "/query", tt.body)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want %d, body: %s", rec.Code, http.StatusBadRequest, rec.Body.String())
			}

			var resp struct {
				Code string `json:"code"`
			}
			if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
				t.Fatalf("unmarshal error body: %v", err)
			}
			if resp.Code != tt.wantCode {
				t.Errorf("code = %q, want %q", resp.Code, tt.wantCode)
			}
		})
	}
}

func TestQueryLayerUnavailable(t *testing.T) {
	layers := unhealthyLayers(t)
	_, handler := newTestServer(t, testConfig(layers.URL))

	rec := postJSON(t, handler, "/query", `{"query": "list all clients"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}

	resp := decodeQueryResponse(t, rec)
	if resp.Success {
		t.Fatal("success = true, want false")
	}
	if want := "layer execution-api failed to become ready"; resp.Error != want {
		t.Errorf("error = %q, want %q", resp.Error, want)
	}
	if resp.RouteType != "rule-match" {
		t.Errorf("route_type = %q, want %q", resp.RouteType, "rule-match")
	}
	if len(resp.LayersActivated) != 0 {
		t.Errorf("layers_activated = %v, want empty", resp.LayersActivated)
	}
	if resp.LayersActivated == nil || resp.ColdStarts == nil {
		t.Error("layers_activated and cold_starts should never be null")
	}
}

func TestQueryMethodNotAllowed(t *testing.T) {
	layers := fakeLayers(t)
	_, handler := newTestServer(t, testConfig(layers.URL))

	rec := getPath(t, handler, "/query")
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusMethodNotAllowed)
	}
}

func TestFeedback(t *testing.T) {
	layers := fakeLayers(t)
	_, handler := newTestServer(t, testConfig(layers.URL))

	t.Run("missing query_id", func(t *testing.T) {
		rec := postJSON(t, handler, "/feedback", `{"feedback": "positive"}`)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want %d", rec.Code, http.StatusBadRequest)
		}
	})

	t.Run("invalid feedback value", func(t *testing.T) {
		rec := postJSON(t, handler, "/feedback", `{"query_id": "q-1", "feedback": "meh"}`)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want %d", rec.Code, http.StatusBadRequest)
		}
	})

	t.Run("learning disabled", func(t *testing.T) {
		rec := postJSON(t, handler, "/feedback", `{"query_id": "q-1", "feedback": "positive"}`)
		if rec.Code != http.StatusServiceUnavailable {
			t.Errorf("status = %d, want %d, body: %s", rec.Code, http.StatusServiceUnavailable, rec.Body.String())
		}
	})
}

func TestHealthz(t *testing.T) {
	layers := fakeLayers(t)
	_, handler := newTestServer(t, testConfig(layers.URL))

	rec := getPath(t, handler, "/healthz")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}

	var resp struct {
		Status        string `json:"status"`
		FabricEnabled bool   `json:"fabric_enabled"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if resp.Status != "ok" {
		t.Errorf("status = %q, want %q", resp.Status, "ok")
	}
	if resp.FabricEnabled {
		t.Error("fabric_enabled = true, want false")
	}
}

func TestReadyz(t *testing.T) {
	t.Run("ready", func(t *testing.T) {
		layers := fakeLayers(t)
		_, handler := newTestServer(t, testConfig(layers.URL))

		rec := getPath(t, handler, "/readyz")
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want %d, body: %s", rec.Code, http.StatusOK, rec.Body.String())
		}
	})

	t.Run("readiness layer down", func(t *testing.T) {
		layers := unhealthyLayers(t)
		_, handler := newTestServer(t, testConfig(layers.URL))

		rec := getPath(t, handler, "/readyz")
		if rec.Code != http.StatusServiceUnavailable {
			t.Fatalf("status = %d, want %d", rec.Code, http.StatusServiceUnavailable)
		}

		var resp struct {
			Status string            `json:"status"`
			Layers map[string]string `json:"layers"`
		}
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			t.Fatalf("unmarshal response: %v", err)
		}
		if resp.Status != "not_ready" {
			t.Errorf("status = %q, want %q", resp.Status, "not_ready")
		}
		if len(resp.Layers) == 0 {
			t.Error("layers map should be included when not ready")
		}
	})

	t.Run("shutting down", func(t *testing.T) {
		layers := fakeLayers(t)
		srv, handler := newTestServer(t, testConfig(layers.URL))
		srv.ready.Store(false)

		rec := getPath(t, handler, "/readyz")
		if rec.Code != http.StatusServiceUnavailable {
			t.Fatalf("status = %d, want %d", rec.Code, http.StatusServiceUnavailable)
		}

		var resp struct {
			Status string `json:"status"`
		}
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			t.Fatalf("unmarshal response: %v", err)
		}
		if resp.Status != "shutting_down" {
			t.Errorf("status = %q, want %q", resp.Status, "shutting_down")
		}
	})
}

func TestStatus(t *testing.T) {
	layers := fakeLayers(t)
	_, handler := newTestServer(t, testConfig(layers.URL))

	postJSON(t, handler, "/query", `{"query": "list all clients"}`)

	rec := getPath(t, handler, "/status")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}

	var resp struct {
		Version         string            `json:"version"`
		Layers          map[string]string `json:"layers"`
		LearningEnabled bool              `json:"learning_enabled"`
		Fabric          map[string]any    `json:"fabric"`
		Journal         struct {
			Total int `json:"total"`
		} `json:"journal"`
		Metrics map[string]any `json:"metrics"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}

	if resp.Version != "test" {
		t.Errorf("version = %q, want %q", resp.Version, "test")
	}
	if len(resp.Layers) != 5 {
		t.Errorf("layers = %d entries, want 5", len(resp.Layers))
	}
	if resp.LearningEnabled {
		t.Error("learning_enabled = true, want false")
	}
	if enabled, _ := resp.Fabric["enabled"].(bool); enabled {
		t.Error("fabric.enabled = true, want false")
	}
	if resp.Journal.Total != 1 {
		t.Errorf("journal.total = %d, want 1", resp.Journal.Total)
	}
	if len(resp.Metrics) == 0 {
		t.Error("metrics snapshot should not be empty")
	}
}

func TestDecisions(t *testing.T) {
	layers := fakeLayers(t)
	_, handler := newTestServer(t, testConfig(layers.URL))

	postJSON(t, handler, "/query", `{"query": "list all clients"}`)
	postJSON(t, handler, "/query", `{"query": "show device logs"}`)

	t.Run("default count", func(t *testing.T) {
		rec := getPath(t, handler, "/decisions")
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
		}

		var resp struct {
			Decisions []struct {
				Query string `json:"query"`
			} `json:"decisions"`
			Count int `json:"count"`
		}
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			t.Fatalf("unmarshal response: %v", err)
		}
		if resp.Count != 2 {
			t.Fatalf("count = %d, want 2", resp.Count)
		}
		if resp.Decisions[0].Query != "show device logs" {
			t.Errorf("newest decision = %q, want %q", resp.Decisions[0].Query, "show device logs")
		}
	})

	t.Run("explicit count", func(t *testing.T) {
		rec := getPath(t, handler, "/decisions?n=1")
		var resp struct {
			Count int `json:"count"`
		}
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			t.Fatalf("unmarshal response: %v", err)
		}
		if resp.Count != 1 {
			t.Errorf("count = %d, want 1", resp.Count)
		}
	})

	t.Run("invalid count", func(t *testing.T) {
		for _, q := range []string{"n=abc", "n=0", "n=-3"} {
			rec := getPath(t, handler, "/decisions?"+q)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("%s: status = %d, want %d", q, rec.Code, http.StatusBadRequest)
			}
		}
	})
}

func TestMetricsEndpoint(t *testing.T) {
	layers := fakeLayers(t)
	_, handler := newTestServer(t, testConfig(layers.URL))

	postJSON(t, handler, "/query", `{"query": "list all clients"}`)

	rec := getPath(t, handler, "/metrics")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if !strings.Contains(rec.Body.String(), "activator_queries_total") {
		t.Error("metrics exposition should include activator_queries_total")
	}
}

func TestMetricsDisabled(t *testing.T) {
	layers := fakeLayers(t)
	cfg := testConfig(layers.URL)
	cfg.Observability.MetricsEnabled = false
	_, handler := newTestServer(t, cfg)

	rec := getPath(t, handler, "/metrics")
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusNotFound)
	}
}

func TestRateLimit(t *testing.T) {
	layers := fakeLayers(t)
	cfg := testConfig(layers.URL)
	cfg.Security.RateLimit = 1
	_, handler := newTestServer(t, cfg)

	var last int
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
		req.RemoteAddr = "10.1.2.3:4000"
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		last = rec.Code
	}

	if last != http.StatusTooManyRequests {
		t.Errorf("third request status = %d, want %d", last, http.StatusTooManyRequests)
	}
}
