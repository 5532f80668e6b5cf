package fabric

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/opsfabric/activator/internal/config"
	apperrors "github.com/opsfabric/activator/internal/pkg/errors"
	"github.com/opsfabric/activator/internal/pkg/logger"
)

const (
	readBatchSize      = 10
	readBlockTimeout   = 5 * time.Second
	resultStreamMaxLen = 10000
	connectTimeout     = 5 * time.Second
)

// RedisBus moves tasks and results over Redis Streams. Tasks are read
// through a consumer group so multiple workers can share a stream, and
// results are appended to a capped result stream.
type RedisBus struct {
	cfg      config.FabricConfig
	client   *redis.Client
	consumer string
	log      *logger.Logger
}

// NewRedisBus connects to the Redis instance named in the fabric
// configuration and verifies the connection.
func NewRedisBus(cfg config.FabricConfig, log *logger.Logger) (*RedisBus, error) {
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, apperrors.FabricError("invalid redis URL", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, apperrors.FabricError("failed to connect to redis", err)
	}

	log.Info("Fabric connected to redis", "url", cfg.RedisURL)

	return &RedisBus{
		cfg:      cfg,
		client:   client,
		consumer: cfg.AgentID + "-consumer",
		log:      log,
	}, nil
}

// ensureGroup creates the consumer group on the task stream, creating the
// stream itself when absent. An existing group is not an error.
func (b *RedisBus) ensureGroup(ctx context.Context) error {
	err := b.client.XGroupCreateMkStream(ctx, b.cfg.TaskStream, b.cfg.ConsumerGroup, "$").Err()
	if err != nil {
		if strings.Contains(err.Error(), "BUSYGROUP") {
			return nil
		}
		return apperrors.FabricError("failed to create consumer group", err)
	}
	b.log.Info("Fabric consumer group created", "stream", b.cfg.TaskStream, "group", b.cfg.ConsumerGroup)
	return nil
}

// PublishTask appends a task to the task stream.
func (b *RedisBus) PublishTask(ctx context.Context, task Task) error {
	values, err := task.wireValues()
	if err != nil {
		return apperrors.FabricError("failed to encode task", err)
	}
	if err := b.client.XAdd(ctx, &redis.XAddArgs{
		Stream: b.cfg.TaskStream,
		Values: values,
	}).Err(); err != nil {
		return apperrors.FabricError("failed to publish task", err)
	}
	return nil
}

// PublishResult appends a result to the capped result stream.
func (b *RedisBus) PublishResult(ctx context.Context, result Result) error {
	id, err := b.client.XAdd(ctx, &redis.XAddArgs{
		Stream: b.cfg.ResultStream,
		MaxLen: resultStreamMaxLen,
		Approx: true,
		Values: result.wireValues(),
	}).Result()
	if err != nil {
		return apperrors.FabricError("failed to publish result", err)
	}
	b.log.Info("Fabric result published",
		"message_id", id,
		"task_id", result.TaskID,
		"success", result.Success,
		"latency_ms", result.ExecutionTimeMs)
	return nil
}

// Consume reads tasks from the consumer group and dispatches them to
// handler until ctx is canceled. Read errors back off briefly and retry.
func (b *RedisBus) Consume(ctx context.Context, handler Handler) error {
	if err := b.ensureGroup(ctx); err != nil {
		return err
	}

	for {
		if ctx.Err() != nil {
			return nil
		}

		streams, err := b.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    b.cfg.ConsumerGroup,
			Consumer: b.consumer,
			Streams:  []string{b.cfg.TaskStream, ">"},
			Count:    readBatchSize,
			Block:    readBlockTimeout,
		}).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if ctx.Err() != nil {
				return nil
			}
			b.log.Error("Fabric consume failed", "error", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Second):
			}
			continue
		}

		for _, stream := range streams {
			for _, msg := range stream.Messages {
				task, err := taskFromValues(msg.ID, b.cfg.TaskStream, msg.Values)
				if err != nil {
					b.log.Error("Failed to parse fabric task", "message_id", msg.ID, "error", err)
					// Unparseable entries are acked so they do not wedge the group.
					b.client.XAck(ctx, b.cfg.TaskStream, b.cfg.ConsumerGroup, msg.ID)
					continue
				}
				if err := handler(ctx, task); err != nil {
					b.log.Error("Fabric task handler failed", "message_id", msg.ID, "error", err)
				}
			}
		}
	}
}

// Ack acknowledges a processed task in the consumer group.
func (b *RedisBus) Ack(ctx context.Context, task Task) error {
	if err := b.client.XAck(ctx, b.cfg.TaskStream, b.cfg.ConsumerGroup, task.MessageID).Err(); err != nil {
		return apperrors.FabricError("failed to ack task", err)
	}
	return nil
}

// Close releases the Redis connection.
func (b *RedisBus) Close() error {
	return b.client.Close()
}
