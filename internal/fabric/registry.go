package fabric

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/opsfabric/activator/internal/config"
	apperrors "github.com/opsfabric/activator/internal/pkg/errors"
	"github.com/opsfabric/activator/internal/pkg/logger"
)

const agentVersion = "0.1.0"

// Registry maintains this worker's entry in the fabric agent registry: a
// Redis hash under {prefix}:{agent_id} plus membership sets by agent type
// and status. The hash expires at twice the heartbeat timeout, so a worker
// that stops heartbeating disappears from the registry on its own.
type Registry struct {
	cfg    config.FabricConfig
	client *redis.Client
	log    *logger.Logger

	mu     sync.Mutex
	status AgentStatus
}

// NewRegistry wraps an existing Redis connection. The registry shares the
// bus connection rather than opening its own.
func NewRegistry(client *redis.Client, cfg config.FabricConfig, log *logger.Logger) *Registry {
	return &Registry{
		cfg:    cfg,
		client: client,
		log:    log,
		status: StatusStarting,
	}
}

func (r *Registry) agentKey() string {
	return r.cfg.RegistryPrefix + ":" + r.cfg.AgentID
}

func (r *Registry) typeKey() string {
	return r.cfg.RegistryPrefix + ":type:worker"
}

func (r *Registry) statusKey(status AgentStatus) string {
	return r.cfg.RegistryPrefix + ":status:" + string(status)
}

func (r *Registry) entryTTL() time.Duration {
	return 2 * time.Duration(r.cfg.HeartbeatTimeout) * time.Second
}

// Register writes the agent entry and adds it to the worker and status sets.
func (r *Registry) Register(ctx context.Context) error {
	r.mu.Lock()
	status := r.status
	r.mu.Unlock()

	metadata, err := json.Marshal(map[string]any{"fabric_type": r.cfg.AgentName})
	if err != nil {
		return apperrors.FabricError("failed to encode agent metadata", err)
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	entry := map[string]any{
		"agent_id":       r.cfg.AgentID,
		"agent_type":     "worker",
		"name":           r.cfg.AgentName,
		"status":         string(status),
		"capabilities":   strings.Join(r.cfg.Capabilities, ","),
		"stream":         r.cfg.TaskStream,
		"metadata":       string(metadata),
		"registered_at":  now,
		"last_heartbeat": now,
		"task_count":     "0",
		"version":        agentVersion,
	}

	key := r.agentKey()
	if err := r.client.HSet(ctx, key, entry).Err(); err != nil {
		return apperrors.FabricError("failed to register agent", err)
	}
	if err := r.client.Expire(ctx, key, r.entryTTL()).Err(); err != nil {
		return apperrors.FabricError("failed to set agent expiry", err)
	}
	if err := r.client.SAdd(ctx, r.typeKey(), r.cfg.AgentID).Err(); err != nil {
		return apperrors.FabricError("failed to add agent to type set", err)
	}
	if err := r.client.SAdd(ctx, r.statusKey(status), r.cfg.AgentID).Err(); err != nil {
		return apperrors.FabricError("failed to add agent to status set", err)
	}

	r.log.Info("Fabric agent registered",
		"agent_id", r.cfg.AgentID,
		"capabilities", strings.Join(r.cfg.Capabilities, ","))
	return nil
}

// Deregister removes the agent entry and its set memberships.
func (r *Registry) Deregister(ctx context.Context) error {
	r.mu.Lock()
	status := r.status
	r.mu.Unlock()

	if err := r.client.SRem(ctx, r.typeKey(), r.cfg.AgentID).Err(); err != nil {
		return apperrors.FabricError("failed to remove agent from type set", err)
	}
	if err := r.client.SRem(ctx, r.statusKey(status), r.cfg.AgentID).Err(); err != nil {
		return apperrors.FabricError("failed to remove agent from status set", err)
	}
	if err := r.client.Del(ctx, r.agentKey()).Err(); err != nil {
		return apperrors.FabricError("failed to delete agent entry", err)
	}

	r.log.Info("Fabric agent deregistered", "agent_id", r.cfg.AgentID)
	return nil
}

// UpdateStatus moves the agent between status sets and updates the entry.
func (r *Registry) UpdateStatus(ctx context.Context, status AgentStatus) error {
	r.mu.Lock()
	old := r.status
	r.status = status
	r.mu.Unlock()

	if old == status {
		return nil
	}

	if err := r.client.SRem(ctx, r.statusKey(old), r.cfg.AgentID).Err(); err != nil {
		return apperrors.FabricError("failed to leave status set", err)
	}
	if err := r.client.SAdd(ctx, r.statusKey(status), r.cfg.AgentID).Err(); err != nil {
		return apperrors.FabricError("failed to join status set", err)
	}
	if err := r.client.HSet(ctx, r.agentKey(), "status", string(status)).Err(); err != nil {
		return apperrors.FabricError("failed to update agent status", err)
	}

	r.log.Debug("Fabric agent status updated", "status", string(status))
	return nil
}

// Heartbeat refreshes the liveness timestamp and the entry expiry.
func (r *Registry) Heartbeat(ctx context.Context) error {
	key := r.agentKey()
	now := time.Now().UTC().Format(time.RFC3339Nano)
	if err := r.client.HSet(ctx, key, "last_heartbeat", now).Err(); err != nil {
		return apperrors.FabricError("failed to send heartbeat", err)
	}
	if err := r.client.Expire(ctx, key, r.entryTTL()).Err(); err != nil {
		return apperrors.FabricError("failed to refresh agent expiry", err)
	}
	return nil
}

// IncrementTaskCount bumps the processed-task counter on the agent entry.
func (r *Registry) IncrementTaskCount(ctx context.Context) (int64, error) {
	count, err := r.client.HIncrBy(ctx, r.agentKey(), "task_count", 1).Result()
	if err != nil {
		return 0, apperrors.FabricError("failed to increment task count", err)
	}
	return count, nil
}

// Status reports the last status written through this registry.
func (r *Registry) Status() AgentStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}
