package emitters

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"wallet-migrator/internal/models"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
)

// MessageWriter is the part of kafka.Writer the emitter uses
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaEmitter publishes migration events to Kafka, keyed by session ID so
// one session's events stay ordered within a partition.
type KafkaEmitter struct {
	writer MessageWriter
	logger *zerolog.Logger
	mu     sync.Mutex
}

// NewKafkaEmitter creates a new KafkaEmitter
func NewKafkaEmitter(brokerAddress, topic string, batchSize int, batchTimeout time.Duration, logger *zerolog.Logger) *KafkaEmitter {
	return &KafkaEmitter{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokerAddress),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			BatchSize:    batchSize,
			BatchTimeout: batchTimeout,
		},
		logger: logger,
	}
}

// NewKafkaEmitterWithWriter wraps an existing writer
func NewKafkaEmitterWithWriter(writer MessageWriter, logger *zerolog.Logger) *KafkaEmitter {
	return &KafkaEmitter{writer: writer, logger: logger}
}

func (k *KafkaEmitter) EmitEvent(ctx context.Context, event models.MigrationEvent) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	if k.writer == nil {
		return fmt.Errorf("kafka emitter is closed")
	}

	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	err = k.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(event.SessionID),
		Value: value,
		Time:  event.Timestamp,
	})
	if err != nil {
		return fmt.Errorf("failed to write message to Kafka: %w", err)
	}

	k.logger.Debug().
		Str("sessionId", event.SessionID).
		Str("step", event.Step).
		Msg("Emitted migration event to Kafka")
	return nil
}

func (k *KafkaEmitter) Close() error {
	k.mu.Lock()
	defer k.mu.Unlock()

	if k.writer != nil {
		err := k.writer.Close()
		k.writer = nil
		return err
	}
	return nil
}
