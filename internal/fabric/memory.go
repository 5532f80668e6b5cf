package fabric

import (
	"context"
	"sync"

	apperrors "github.com/opsfabric/activator/internal/pkg/errors"
)

const memoryBusBuffer = 256

// MemoryBus is an in-process transport backed by Go channels. It is the
// default when no external fabric is configured and the workhorse of the
// package tests.
type MemoryBus struct {
	mu      sync.RWMutex
	closed  bool
	tasks   chan Task
	results chan Result
}

// NewMemoryBus creates an in-memory bus with bounded buffers.
func NewMemoryBus() *MemoryBus {
	return &MemoryBus{
		tasks:   make(chan Task, memoryBusBuffer),
		results: make(chan Result, memoryBusBuffer),
	}
}

// PublishTask enqueues a task for the consumer. Fails when the bus is
// closed or the buffer is full rather than blocking the publisher.
func (b *MemoryBus) PublishTask(ctx context.Context, task Task) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return apperrors.New(apperrors.CodeUnavailable, "fabric bus is closed")
	}

	select {
	case b.tasks <- task:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		return apperrors.New(apperrors.CodeUnavailable, "fabric task buffer full")
	}
}

// PublishResult enqueues a result. Results are retained until read via
// Results; when the buffer fills the oldest result is dropped.
func (b *MemoryBus) PublishResult(ctx context.Context, result Result) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return apperrors.New(apperrors.CodeUnavailable, "fabric bus is closed")
	}

	for {
		select {
		case b.results <- result:
			return nil
		default:
		}
		select {
		case <-b.results:
		default:
		}
	}
}

// Results exposes published results for in-process consumers.
func (b *MemoryBus) Results() <-chan Result {
	return b.results
}

// Consume dispatches queued tasks to handler serially until ctx is
// canceled or the bus is closed.
func (b *MemoryBus) Consume(ctx context.Context, handler Handler) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case task, ok := <-b.tasks:
			if !ok {
				return nil
			}
			// Handler errors already produced a failed result; keep consuming.
			_ = handler(ctx, task)
		}
	}
}

// Ack is a no-op; channel delivery is the acknowledgement.
func (b *MemoryBus) Ack(ctx context.Context, task Task) error {
	return nil
}

// Close stops accepting publishes and wakes the consumer.
func (b *MemoryBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true
	close(b.tasks)
	return nil
}
