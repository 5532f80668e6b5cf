package fabric

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/IBM/sarama"

	"github.com/opsfabric/activator/internal/config"
	apperrors "github.com/opsfabric/activator/internal/pkg/errors"
	"github.com/opsfabric/activator/internal/pkg/logger"
)

const kafkaVersion = "2.8.0"

// KafkaBus moves tasks and results over Kafka topics. Stream entries travel
// as JSON objects of flat string fields, the same shape the Redis transport
// puts on its streams. Offsets are committed per message after the handler
// returns, so Ack is a no-op here.
type KafkaBus struct {
	cfg      config.FabricConfig
	client   sarama.Client
	producer sarama.SyncProducer
	consumer sarama.ConsumerGroup
	log      *logger.Logger

	mu     sync.Mutex
	closed bool
}

// NewKafkaBus connects to the brokers named in the fabric configuration.
func NewKafkaBus(cfg config.FabricConfig, log *logger.Logger) (*KafkaBus, error) {
	brokers := ParseBrokers(cfg.KafkaBrokers)
	if len(brokers) == 0 {
		return nil, apperrors.New(apperrors.CodeValidation, "kafka brokers cannot be empty")
	}
	if cfg.ConsumerGroup == "" {
		return nil, apperrors.New(apperrors.CodeValidation, "kafka consumer group cannot be empty")
	}

	version, err := sarama.ParseKafkaVersion(kafkaVersion)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeValidation, "invalid kafka version", err)
	}

	kafkaConfig := sarama.NewConfig()
	kafkaConfig.Version = version
	kafkaConfig.ClientID = cfg.AgentID
	kafkaConfig.Producer.Return.Successes = true
	kafkaConfig.Producer.Return.Errors = true
	kafkaConfig.Producer.Retry.Max = 3
	kafkaConfig.Producer.RequiredAcks = sarama.WaitForAll
	kafkaConfig.Consumer.Group.Rebalance.Strategy = sarama.NewBalanceStrategyRoundRobin()
	kafkaConfig.Consumer.Offsets.Initial = sarama.OffsetNewest
	kafkaConfig.Consumer.Return.Errors = true
	kafkaConfig.Net.DialTimeout = 10 * time.Second
	kafkaConfig.Net.ReadTimeout = 10 * time.Second
	kafkaConfig.Net.WriteTimeout = 10 * time.Second

	client, err := sarama.NewClient(brokers, kafkaConfig)
	if err != nil {
		return nil, apperrors.FabricError("failed to create kafka client", err)
	}

	producer, err := sarama.NewSyncProducerFromClient(client)
	if err != nil {
		client.Close()
		return nil, apperrors.FabricError("failed to create kafka producer", err)
	}

	consumer, err := sarama.NewConsumerGroupFromClient(cfg.ConsumerGroup, client)
	if err != nil {
		producer.Close()
		client.Close()
		return nil, apperrors.FabricError("failed to create kafka consumer group", err)
	}

	return &KafkaBus{
		cfg:      cfg,
		client:   client,
		producer: producer,
		consumer: consumer,
		log:      log,
	}, nil
}

// PublishTask produces a task onto the task topic.
func (b *KafkaBus) PublishTask(ctx context.Context, task Task) error {
	values, err := task.wireValues()
	if err != nil {
		return apperrors.FabricError("failed to encode task", err)
	}
	return b.send(b.cfg.TaskStream, task.TaskType, values)
}

// PublishResult produces a result onto the result topic, keyed by task ID
// so replies for one task land on one partition.
func (b *KafkaBus) PublishResult(ctx context.Context, result Result) error {
	return b.send(b.cfg.ResultStream, result.TaskID, result.wireValues())
}

func (b *KafkaBus) send(topic, key string, values map[string]any) error {
	data, err := json.Marshal(values)
	if err != nil {
		return apperrors.FabricError("failed to encode stream entry", err)
	}

	msg := &sarama.ProducerMessage{
		Topic: topic,
		Value: sarama.ByteEncoder(data),
	}
	if key != "" {
		msg.Key = sarama.StringEncoder(key)
	}

	if _, _, err := b.producer.SendMessage(msg); err != nil {
		return apperrors.FabricError(fmt.Sprintf("failed to publish to %s", topic), err)
	}
	return nil
}

// Consume joins the consumer group on the task topic and dispatches
// messages to handler until ctx is canceled.
func (b *KafkaBus) Consume(ctx context.Context, handler Handler) error {
	group := &taskGroupHandler{
		handler: handler,
		topic:   b.cfg.TaskStream,
		log:     b.log,
	}

	for {
		if ctx.Err() != nil {
			return nil
		}

		// Blocks for the session; returns on rebalance or error.
		if err := b.consumer.Consume(ctx, []string{b.cfg.TaskStream}, group); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			b.log.Error("Kafka consume session failed", "topic", b.cfg.TaskStream, "error", err)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(time.Second):
		}
	}
}

// Ack is a no-op; the group handler marks offsets after each message.
func (b *KafkaBus) Ack(ctx context.Context, task Task) error {
	return nil
}

// Close shuts down the consumer group, producer, and client.
func (b *KafkaBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true

	var errs []error
	if err := b.consumer.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close consumer: %w", err))
	}
	if err := b.producer.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close producer: %w", err))
	}
	if err := b.client.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close client: %w", err))
	}
	if len(errs) > 0 {
		return apperrors.New(apperrors.CodeInternal, fmt.Sprintf("errors during close: %v", errs))
	}
	return nil
}

// taskGroupHandler implements sarama.ConsumerGroupHandler for the task topic.
type taskGroupHandler struct {
	handler Handler
	topic   string
	log     *logger.Logger
}

func (h *taskGroupHandler) Setup(sarama.ConsumerGroupSession) error   { return nil }
func (h *taskGroupHandler) Cleanup(sarama.ConsumerGroupSession) error { return nil }

// ConsumeClaim processes messages from one partition, marking each offset
// after the handler returns.
func (h *taskGroupHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case <-session.Context().Done():
			return nil
		case msg, ok := <-claim.Messages():
			if !ok || msg == nil {
				return nil
			}

			var values map[string]any
			if err := json.Unmarshal(msg.Value, &values); err != nil {
				h.log.Error("Failed to decode fabric task", "topic", h.topic, "error", err)
				session.MarkMessage(msg, "")
				continue
			}

			messageID := fmt.Sprintf("%d-%d", msg.Partition, msg.Offset)
			task, err := taskFromValues(messageID, h.topic, values)
			if err != nil {
				h.log.Error("Failed to parse fabric task", "topic", h.topic, "message_id", messageID, "error", err)
				session.MarkMessage(msg, "")
				continue
			}

			if err := h.handler(session.Context(), task); err != nil {
				h.log.Error("Fabric task handler failed", "message_id", messageID, "error", err)
			}
			session.MarkMessage(msg, "")
		}
	}
}
