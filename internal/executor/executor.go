// Package executor dispatches routed queries to backend layers. Execution
// layers receive tool invocations over HTTP; reasoning layers receive chat
// completions through their OpenAI-compatible endpoint.
package executor

import (
	"context"
	"strings"

	"github.com/opsfabric/activator/internal/config"
	"github.com/opsfabric/activator/internal/pkg/logger"
)

// Request carries a routed query to a backend layer.
type Request struct {
	Tool    string         `json:"tool,omitempty"`
	Query   string         `json:"query"`
	Site    string         `json:"site,omitempty"`
	Context map[string]any `json:"context,omitempty"`
}

// Result holds the parsed response body from a backend layer.
type Result struct {
	Data map[string]any
}

// Executor runs a request against a named layer. It is the failover
// extension point: callers may hold an alternate Executor to retry failed
// invocations over another channel.
type Executor interface {
	Execute(ctx context.Context, layer string, req Request) (*Result, error)
}

// executionPrefix marks layers that accept tool invocations. Everything
// else in the topology that receives queries is a reasoning layer.
const executionPrefix = "execution-"

// IsExecutionLayer reports whether the named layer accepts tool
// invocations rather than chat completions.
func IsExecutionLayer(name string) bool {
	return strings.HasPrefix(name, executionPrefix)
}

// Dispatcher picks the tool or reasoning executor based on the layer kind.
type Dispatcher struct {
	tool      *ToolExecutor
	reasoning *ReasoningExecutor
}

// NewDispatcher builds a dispatcher over the configured topology.
func NewDispatcher(topology map[string]config.LayerConfig, log *logger.Logger) *Dispatcher {
	return &Dispatcher{
		tool:      NewToolExecutor(topology, log),
		reasoning: NewReasoningExecutor(topology, log),
	}
}

// Execute routes the request to the executor matching the layer kind.
func (d *Dispatcher) Execute(ctx context.Context, layer string, req Request) (*Result, error) {
	if IsExecutionLayer(layer) {
		return d.tool.Execute(ctx, layer, req)
	}
	return d.reasoning.Execute(ctx, layer, req)
}
