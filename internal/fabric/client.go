package fabric

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/opsfabric/activator/internal/cascade"
	"github.com/opsfabric/activator/internal/config"
	"github.com/opsfabric/activator/internal/metrics"
	apperrors "github.com/opsfabric/activator/internal/pkg/errors"
	"github.com/opsfabric/activator/internal/pkg/logger"
	"github.com/opsfabric/activator/internal/pkg/security"
)

const heartbeatRetryDelay = 5 * time.Second

// QueryProcessor routes a fabric task through the activation cascade. The
// cascade service satisfies it; tests substitute fakes.
type QueryProcessor interface {
	Process(ctx context.Context, req cascade.Request) cascade.Response
}

// Client runs the activator as a fabric worker: it registers with the
// agent registry, heartbeats, consumes tasks from the task stream, routes
// each through the cascade, and publishes results.
type Client struct {
	cfg      config.FabricConfig
	bus      Bus
	registry *Registry
	process  QueryProcessor
	metrics  *metrics.Metrics
	log      *logger.Logger

	mu      sync.Mutex
	started bool
	status  AgentStatus
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New builds a client with the transport named in the configuration. For
// the Redis transport the agent registry shares the bus connection; other
// transports run without a registry.
func New(cfg config.FabricConfig, processor QueryProcessor, m *metrics.Metrics, log *logger.Logger) (*Client, error) {
	cfg = withDefaults(cfg)

	var (
		bus      Bus
		registry *Registry
	)
	switch cfg.Type {
	case "", TypeMemory:
		bus = NewMemoryBus()
	case TypeKafka:
		b, err := NewKafkaBus(cfg, log)
		if err != nil {
			return nil, err
		}
		bus = b
	case TypeRedis:
		b, err := NewRedisBus(cfg, log)
		if err != nil {
			return nil, err
		}
		bus = b
		registry = NewRegistry(b.client, cfg, log)
	default:
		return nil, apperrors.New(apperrors.CodeValidation, fmt.Sprintf("unknown fabric type %q", cfg.Type))
	}

	return newClient(cfg, bus, registry, processor, m, log), nil
}

// NewWithBus builds a client over an existing transport, without a
// registry. Used by tests and in-process wiring.
func NewWithBus(cfg config.FabricConfig, bus Bus, processor QueryProcessor, m *metrics.Metrics, log *logger.Logger) *Client {
	return newClient(withDefaults(cfg), bus, nil, processor, m, log)
}

func newClient(cfg config.FabricConfig, bus Bus, registry *Registry, processor QueryProcessor, m *metrics.Metrics, log *logger.Logger) *Client {
	return &Client{
		cfg:      cfg,
		bus:      bus,
		registry: registry,
		process:  processor,
		metrics:  m,
		log:      log,
		status:   StatusStarting,
	}
}

// withDefaults fills the identity fields a bare configuration omits.
func withDefaults(cfg config.FabricConfig) config.FabricConfig {
	if cfg.AgentName == "" {
		cfg.AgentName = "activator"
	}
	if cfg.AgentID == "" {
		cfg.AgentID = fmt.Sprintf("%s-%s", cfg.AgentName, uuid.NewString()[:8])
	}
	return cfg
}

// Start registers the agent and launches the heartbeat and consume loops.
// The loops run until Stop.
func (c *Client) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return apperrors.New(apperrors.CodeInternal, "fabric client already started")
	}
	c.started = true
	runCtx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.mu.Unlock()

	if c.registry != nil {
		if err := c.registry.Register(ctx); err != nil {
			cancel()
			return err
		}
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			c.heartbeatLoop(runCtx)
		}()
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.consumeLoop(runCtx)
	}()

	c.setStatus(ctx, StatusReady)

	c.log.Info("Fabric integration started",
		"agent_id", c.cfg.AgentID,
		"fabric_type", c.cfg.Type,
		"task_stream", c.cfg.TaskStream)
	return nil
}

// Stop drains the loops, deregisters the agent, and closes the transport.
// The context bounds how long the drain may take.
func (c *Client) Stop(ctx context.Context) error {
	c.mu.Lock()
	if !c.started {
		c.mu.Unlock()
		return nil
	}
	c.started = false
	cancel := c.cancel
	c.mu.Unlock()

	c.log.Info("Fabric integration stopping")
	c.setStatus(ctx, StatusStopping)

	cancel()
	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		c.log.Warn("Fabric drain timeout reached, loops may still be running")
	}

	c.setStatus(ctx, StatusStopped)
	if c.registry != nil {
		if err := c.registry.Deregister(ctx); err != nil {
			c.log.Warn("Fabric deregistration failed", "error", err)
		}
	}

	err := c.bus.Close()
	c.log.Info("Fabric integration stopped")
	return err
}

// AgentID reports the worker identity on the fabric.
func (c *Client) AgentID() string {
	return c.cfg.AgentID
}

// Status reports the current lifecycle state.
func (c *Client) Status() AgentStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

func (c *Client) consumeLoop(ctx context.Context) {
	if err := c.bus.Consume(ctx, c.handleTask); err != nil && ctx.Err() == nil {
		c.log.Error("Fabric consume loop exited", "error", err)
		c.recordError("consume")
	}
}

func (c *Client) heartbeatLoop(ctx context.Context) {
	interval := time.Duration(c.cfg.HeartbeatInterval) * time.Second
	for {
		delay := interval
		if err := c.registry.Heartbeat(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			c.log.Error("Fabric heartbeat failed", "error", err)
			c.recordError("heartbeat")
			delay = heartbeatRetryDelay
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}

// handleTask translates one fabric task into a cascade request, processes
// it, and publishes the flat result. The task is acknowledged only after
// the result is published, so a lost worker leaves the task pending for
// redelivery.
func (c *Client) handleTask(ctx context.Context, task Task) error {
	c.setStatus(ctx, StatusBusy)
	defer c.setStatus(ctx, StatusReady)

	c.log.Info("Fabric task received",
		"task_type", task.TaskType,
		"sender", task.Sender,
		"message_id", task.MessageID,
		"metadata", security.MaskSensitiveMap(task.Metadata))

	resp := c.process.Process(ctx, taskRequest(task))
	if c.metrics != nil {
		c.metrics.RecordFabricTask(task.TaskType, resp.Success)
	}

	result := Result{
		TaskID:          task.taskID(),
		Success:         resp.Success,
		Response:        responseText(resp.Result),
		Fabric:          c.cfg.AgentName,
		ToolCalls:       len(resp.LayersActivated),
		ExecutionTimeMs: resp.LatencyMs,
		Sender:          c.cfg.AgentID,
		Timestamp:       time.Now().UTC(),
	}

	if err := c.bus.PublishResult(ctx, result); err != nil {
		// No ack on publish failure; the task stays pending.
		c.log.Error("Failed to publish fabric result", "task_id", result.TaskID, "error", err)
		c.recordError("publish")
		return err
	}
	if c.metrics != nil {
		c.metrics.RecordFabricPublish()
	}

	if err := c.bus.Ack(ctx, task); err != nil {
		c.log.Error("Failed to ack fabric task", "message_id", task.MessageID, "error", err)
		c.recordError("ack")
	}
	if c.registry != nil {
		if _, err := c.registry.IncrementTaskCount(ctx); err != nil {
			c.log.Warn("Failed to increment task count", "error", err)
		}
	}
	return nil
}

// taskRequest extracts the query fields from a task payload. Site defaults
// to "default" when the master omits it.
func taskRequest(task Task) cascade.Request {
	query, _ := task.Payload["query"].(string)
	site, _ := task.Payload["site"].(string)
	if site == "" {
		site = "default"
	}
	reqCtx, _ := task.Payload["context"].(map[string]any)
	return cascade.Request{
		Query:   query,
		Site:    site,
		Context: reqCtx,
	}
}

func (c *Client) setStatus(ctx context.Context, status AgentStatus) {
	c.mu.Lock()
	c.status = status
	c.mu.Unlock()

	if c.registry != nil {
		if err := c.registry.UpdateStatus(ctx, status); err != nil {
			c.log.Warn("Fabric status update failed", "status", string(status), "error", err)
		}
	}
}

func (c *Client) recordError(stage string) {
	if c.metrics != nil {
		c.metrics.RecordFabricError(stage)
	}
}
