package executor

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/opsfabric/activator/internal/config"
	apperrors "github.com/opsfabric/activator/internal/pkg/errors"
	"github.com/opsfabric/activator/internal/pkg/logger"
)

const (
	// reasoningTemperature keeps routing-adjacent completions deterministic.
	reasoningTemperature = 0.1

	// reasoningMaxTokens bounds completion length for interactive queries.
	reasoningMaxTokens = 500

	// defaultReasoningTimeout bounds calls to layers whose topology entry
	// does not set one. Reasoning layers get a longer budget than tools.
	defaultReasoningTimeout = 60 * time.Second

	// defaultModel is sent to layers that serve a single local model and
	// accept any name.
	defaultModel = "local"
)

// ReasoningExecutor sends queries to reasoning layers as chat completions.
// Each layer exposes an OpenAI-compatible endpoint under /v1.
type ReasoningExecutor struct {
	topology map[string]config.LayerConfig
	log      *logger.Logger

	mu      sync.Mutex
	clients map[string]openai.Client
}

// NewReasoningExecutor creates a reasoning executor over the topology.
// Clients are built lazily per layer and reused across calls.
func NewReasoningExecutor(topology map[string]config.LayerConfig, log *logger.Logger) *ReasoningExecutor {
	return &ReasoningExecutor{
		topology: topology,
		log:      log,
		clients:  make(map[string]openai.Client),
	}
}

// Execute sends the query to the layer's chat completions endpoint and
// wraps the first choice as the result.
func (e *ReasoningExecutor) Execute(ctx context.Context, layer string, req Request) (*Result, error) {
	cfg, ok := e.topology[layer]
	if !ok {
		return nil, apperrors.NotFoundError(fmt.Sprintf("layer %q", layer))
	}

	e.log.WithContext(ctx).WithLayer(layer).Debug("Reasoning call", "model", modelName(cfg))

	callCtx, cancel := context.WithTimeout(ctx, reasoningTimeout(cfg))
	defer cancel()

	client := e.clientFor(layer, cfg)
	completion, err := client.Chat.Completions.New(callCtx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(modelName(cfg)),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(req.Query),
		},
		Temperature: openai.Float(reasoningTemperature),
		MaxTokens:   openai.Int(reasoningMaxTokens),
	})
	if err != nil {
		return nil, apperrors.ExecutionError(layer, err)
	}
	if len(completion.Choices) == 0 {
		return nil, apperrors.ExecutionError(layer, fmt.Errorf("no completion choices returned"))
	}

	return &Result{Data: map[string]any{
		"message":   "Query processed via reasoning layer",
		"reasoning": completion.Choices[0].Message.Content,
	}}, nil
}

func (e *ReasoningExecutor) clientFor(layer string, cfg config.LayerConfig) openai.Client {
	e.mu.Lock()
	defer e.mu.Unlock()

	client, ok := e.clients[layer]
	if !ok {
		client = openai.NewClient(option.WithBaseURL(chatBaseURL(cfg.Endpoint)))
		e.clients[layer] = client
	}
	return client
}

// chatBaseURL appends the /v1 prefix the OpenAI-compatible servers expose,
// tolerating endpoints configured with or without it.
func chatBaseURL(endpoint string) string {
	trimmed := strings.TrimSuffix(endpoint, "/")
	if strings.HasSuffix(trimmed, "/v1") {
		return trimmed
	}
	return trimmed + "/v1"
}

func modelName(cfg config.LayerConfig) string {
	if cfg.Model == "" {
		return defaultModel
	}
	return cfg.Model
}

func reasoningTimeout(cfg config.LayerConfig) time.Duration {
	if cfg.Timeout <= 0 {
		return defaultReasoningTimeout
	}
	return time.Duration(cfg.Timeout) * time.Second
}
