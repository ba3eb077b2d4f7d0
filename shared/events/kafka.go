package events

import (
	"context"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// KafkaPublisher writes events to Kafka, one topic per stream name.
type KafkaPublisher struct {
	writer *kafka.Writer
}

func NewKafkaPublisher(brokers []string, logger *zap.Logger) *KafkaPublisher {
	writer := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		MaxAttempts:            3,
		BatchTimeout:           10 * time.Millisecond,
		WriteTimeout:           10 * time.Second,
		AllowAutoTopicCreation: true,
		ErrorLogger: kafka.LoggerFunc(func(msg string, args ...interface{}) {
			logger.Warn(fmt.Sprintf(msg, args...))
		}),
	}
	return &KafkaPublisher{writer: writer}
}

// Publish keys each message by the event's partition key when it has one,
// otherwise by event type, so that events of one account stay ordered.
func (p *KafkaPublisher) Publish(ctx context.Context, stream, eventType string, data any) error {
	eventJSON, err := newEnvelope(eventType, data)
	if err != nil {
		return err
	}
	key := eventType
	if k, ok := data.(interface{ PartitionKey() string }); ok {
		key = k.PartitionKey()
	}
	msg := kafka.Message{
		Topic: stream,
		Key:   []byte(key),
		Value: eventJSON,
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
