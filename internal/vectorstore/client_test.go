package vectorstore

import (
	"reflect"
	"testing"

	"github.com/qdrant/go-client/qdrant"
)

func TestDefaultClientConfig(t *testing.T) {
	cfg := DefaultClientConfig()

	if cfg.Host != DefaultHost {
		t.Errorf("expected host %s, got %s", DefaultHost, cfg.Host)
	}

	if cfg.Port != DefaultPort {
		t.Errorf("expected port %d, got %d", DefaultPort, cfg.Port)
	}

	if cfg.Timeout != DefaultTimeout {
		t.Errorf("expected timeout %v, got %v", DefaultTimeout, cfg.Timeout)
	}
}

func TestParseURL(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		wantHost string
		wantPort int
		wantTLS  bool
		wantErr  bool
	}{
		{
			name:     "empty uses defaults",
			input:    "",
			wantHost: "localhost",
			wantPort: 6334,
		},
		{
			name:     "bare host and port used as-is",
			input:    "qdrant:6334",
			wantHost: "qdrant",
			wantPort: 6334,
		},
		{
			name:     "http scheme maps rest port to grpc",
			input:    "http://vector-store:6333",
			wantHost: "vector-store",
			wantPort: 6334,
		},
		{
			name:     "https enables TLS",
			input:    "https://qdrant.example.com:7333",
			wantHost: "qdrant.example.com",
			wantPort: 7334,
			wantTLS:  true,
		},
		{
			name:     "scheme without port uses rest default",
			input:    "http://qdrant",
			wantHost: "qdrant",
			wantPort: 6334,
		},
		{
			name:     "bare host",
			input:    "qdrant",
			wantHost: "qdrant",
			wantPort: 6334,
		},
		{
			name:    "invalid port",
			input:   "qdrant:notaport",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := ParseURL(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseURL(%q) failed: %v", tt.input, err)
			}
			if cfg.Host != tt.wantHost {
				t.Errorf("host = %q, want %q", cfg.Host, tt.wantHost)
			}
			if cfg.Port != tt.wantPort {
				t.Errorf("port = %d, want %d", cfg.Port, tt.wantPort)
			}
			if cfg.UseTLS != tt.wantTLS {
				t.Errorf("useTLS = %v, want %v", cfg.UseTLS, tt.wantTLS)
			}
		})
	}
}

func TestDefaultCollectionConfig(t *testing.T) {
	cfg := DefaultCollectionConfig("routing_queries")

	if cfg.Name != "routing_queries" {
		t.Errorf("expected name 'routing_queries', got %s", cfg.Name)
	}

	if cfg.VectorSize != 384 {
		t.Errorf("expected vector size 384, got %d", cfg.VectorSize)
	}
}

func TestBuildFilter(t *testing.T) {
	// Nil filter should return nil
	if result := buildFilter(nil); result != nil {
		t.Error("expected nil for nil filter")
	}

	// Empty filter should return nil
	if result := buildFilter(&Filter{}); result != nil {
		t.Error("expected nil for empty filter")
	}

	// Success filter
	success := true
	result := buildFilter(&Filter{Success: &success})
	if result == nil {
		t.Fatal("expected non-nil for success filter")
	}
	if len(result.Must) != 1 {
		t.Errorf("expected 1 condition, got %d", len(result.Must))
	}

	// QueryID filter
	result = buildFilter(&Filter{QueryID: "abc-123"})
	if result == nil {
		t.Fatal("expected non-nil for query_id filter")
	}
	if len(result.Must) != 1 {
		t.Errorf("expected 1 condition, got %d", len(result.Must))
	}

	// Combined
	result = buildFilter(&Filter{Success: &success, QueryID: "abc-123"})
	if result == nil {
		t.Fatal("expected non-nil for combined filter")
	}
	if len(result.Must) != 2 {
		t.Errorf("expected 2 conditions, got %d", len(result.Must))
	}
}

func TestPayloadRoundTrip(t *testing.T) {
	payload := map[string]any{
		"query_text":   "list all devices",
		"route_type":   "rule-match",
		"confidence":   0.95,
		"sample_count": 3,
		"success":      nil,
		"metadata": map[string]any{
			"site": "default",
		},
		"layers": []any{"execution-api"},
	}

	decoded := payloadToMap(qdrant.NewValueMap(payload))

	if got := decoded["query_text"]; got != "list all devices" {
		t.Errorf("query_text = %v, want 'list all devices'", got)
	}
	if got := decoded["route_type"]; got != "rule-match" {
		t.Errorf("route_type = %v, want 'rule-match'", got)
	}
	if got, ok := decoded["confidence"].(float64); !ok || got != 0.95 {
		t.Errorf("confidence = %v (%T), want 0.95 float64", decoded["confidence"], decoded["confidence"])
	}
	if got, ok := decoded["sample_count"].(int64); !ok || got != 3 {
		t.Errorf("sample_count = %v (%T), want 3 int64", decoded["sample_count"], decoded["sample_count"])
	}
	if got := decoded["success"]; got != nil {
		t.Errorf("success = %v, want nil", got)
	}

	meta, ok := decoded["metadata"].(map[string]any)
	if !ok {
		t.Fatalf("metadata = %T, want map", decoded["metadata"])
	}
	if meta["site"] != "default" {
		t.Errorf("metadata.site = %v, want 'default'", meta["site"])
	}

	layers, ok := decoded["layers"].([]any)
	if !ok || !reflect.DeepEqual(layers, []any{"execution-api"}) {
		t.Errorf("layers = %v, want [execution-api]", decoded["layers"])
	}
}

func TestValueToAnyNil(t *testing.T) {
	if got := valueToAny(nil); got != nil {
		t.Errorf("valueToAny(nil) = %v, want nil", got)
	}
}

func TestPointID(t *testing.T) {
	uuid := &qdrant.PointId{
		PointIdOptions: &qdrant.PointId_Uuid{Uuid: "11111111-2222-3333-4444-555555555555"},
	}
	if got := pointID(uuid); got != "11111111-2222-3333-4444-555555555555" {
		t.Errorf("pointID(uuid) = %q", got)
	}

	num := &qdrant.PointId{
		PointIdOptions: &qdrant.PointId_Num{Num: 42},
	}
	if got := pointID(num); got != "42" {
		t.Errorf("pointID(num) = %q, want 42", got)
	}

	if got := pointID(nil); got != "" {
		t.Errorf("pointID(nil) = %q, want empty", got)
	}
}
