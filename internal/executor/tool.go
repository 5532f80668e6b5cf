package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/opsfabric/activator/internal/config"
	apperrors "github.com/opsfabric/activator/internal/pkg/errors"
	"github.com/opsfabric/activator/internal/pkg/logger"
)

const (
	// executePath is the tool invocation endpoint every execution layer
	// exposes.
	executePath = "/execute"

	// defaultExecuteTimeout bounds calls to layers whose topology entry
	// does not set one.
	defaultExecuteTimeout = 30 * time.Second

	// maxErrorBody caps how much of a failed response body is carried
	// into the returned error.
	maxErrorBody = 512
)

// ToolExecutor invokes tools on execution layers over HTTP. One pooled
// client serves all layers; per-call deadlines come from each layer's
// configured timeout.
type ToolExecutor struct {
	topology   map[string]config.LayerConfig
	httpClient *http.Client
	log        *logger.Logger
}

// NewToolExecutor creates a tool executor with explicit connection pooling.
func NewToolExecutor(topology map[string]config.LayerConfig, log *logger.Logger) *ToolExecutor {
	transport := &http.Transport{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 20,
		MaxConnsPerHost:     100,
		IdleConnTimeout:     90 * time.Second,
		DisableCompression:  false,
		ForceAttemptHTTP2:   true,
	}

	return &ToolExecutor{
		topology:   topology,
		httpClient: &http.Client{Transport: transport},
		log:        log,
	}
}

// Execute posts the tool invocation to the layer's /execute endpoint and
// returns its parsed JSON body. Non-2xx responses and transport failures
// become execution errors carrying the layer name.
func (e *ToolExecutor) Execute(ctx context.Context, layer string, req Request) (*Result, error) {
	cfg, ok := e.topology[layer]
	if !ok {
		return nil, apperrors.NotFoundError(fmt.Sprintf("layer %q", layer))
	}

	e.log.WithContext(ctx).WithLayer(layer).Debug("Tool call", "tool", req.Tool)

	callCtx, cancel := context.WithTimeout(ctx, callTimeout(cfg))
	defer cancel()

	body, err := json.Marshal(req)
	if err != nil {
		return nil, apperrors.ExecutionError(layer, fmt.Errorf("marshal request: %w", err))
	}

	httpReq, err := http.NewRequestWithContext(callCtx, http.MethodPost, cfg.Endpoint+executePath, bytes.NewReader(body))
	if err != nil {
		return nil, apperrors.ExecutionError(layer, fmt.Errorf("create request: %w", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	resp, err := e.httpClient.Do(httpReq)
	if err != nil {
		return nil, apperrors.ExecutionError(layer, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apperrors.ExecutionError(layer, fmt.Errorf("read response: %w", err))
	}

	if resp.StatusCode != http.StatusOK {
		return nil, apperrors.ExecutionError(layer,
			fmt.Errorf("HTTP %d: %s", resp.StatusCode, bodySnippet(respBody)))
	}

	data := make(map[string]any)
	if len(respBody) > 0 {
		if err := json.Unmarshal(respBody, &data); err != nil {
			return nil, apperrors.ExecutionError(layer, fmt.Errorf("unmarshal response: %w", err))
		}
	}

	return &Result{Data: data}, nil
}

func callTimeout(cfg config.LayerConfig) time.Duration {
	if cfg.Timeout <= 0 {
		return defaultExecuteTimeout
	}
	return time.Duration(cfg.Timeout) * time.Second
}

func bodySnippet(body []byte) string {
	if len(body) > maxErrorBody {
		return string(body[:maxErrorBody]) + "..."
	}
	return string(body)
}
