package fabric

import (
	"context"
	"strings"
)

// Fabric transport types.
const (
	TypeMemory = "memory"
	TypeKafka  = "kafka"
	TypeRedis  = "redis"
)

// Handler processes one delivered task. Errors are logged by the transport;
// delivery continues either way.
type Handler func(ctx context.Context, task Task) error

// Bus moves tasks and results over a fabric transport.
type Bus interface {
	// PublishTask appends a task to the task stream.
	PublishTask(ctx context.Context, task Task) error

	// PublishResult appends a result to the result stream.
	PublishResult(ctx context.Context, result Result) error

	// Consume delivers incoming tasks to handler until ctx is canceled or
	// the bus is closed. It blocks for the life of the subscription.
	Consume(ctx context.Context, handler Handler) error

	// Ack marks a delivered task as processed for this consumer group.
	// Transports without explicit acknowledgement treat this as a no-op.
	Ack(ctx context.Context, task Task) error

	// Close releases transport resources.
	Close() error
}

// ParseBrokers splits a comma-separated broker list.
func ParseBrokers(brokers string) []string {
	if brokers == "" {
		return nil
	}
	parts := strings.Split(brokers, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}
