package eventbus

import (
	"context"
	"errors"
	"fmt"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// KafkaBus writes events to a Kafka topic keyed by event type
type KafkaBus struct {
	writer  *kafka.Writer
	brokers []string
	topic   string
	logger  *zap.Logger
}

// NewKafkaBus creates a writer for topic
func NewKafkaBus(brokers []string, topic string, logger *zap.Logger) (*KafkaBus, error) {
	if len(brokers) == 0 {
		return nil, errors.New("kafka backend requires at least one broker")
	}
	writer := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: true,
	}

	logger.Info("event bus configured", zap.String("backend", "kafka"), zap.String("topic", topic))
	return &KafkaBus{writer: writer, brokers: brokers, topic: topic, logger: logger}, nil
}

// Publish writes the event
func (b *KafkaBus) Publish(ctx context.Context, event Event) error {
	data, err := encode(event)
	if err != nil {
		return err
	}
	if err := b.writer.WriteMessages(ctx, kafka.Message{Key: []byte(event.Type), Value: data}); err != nil {
		return fmt.Errorf("failed to write kafka message: %w", err)
	}
	return nil
}

// Subscribe reads the topic with a consumer group until ctx is done
func (b *KafkaBus) Subscribe(ctx context.Context, handler Handler) error {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers: b.brokers,
		Topic:   b.topic,
		GroupID: "spooky-logic",
	})
	defer reader.Close()

	for {
		msg, err := reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("failed to read kafka message: %w", err)
		}
		event, err := decode(msg.Value)
		if err != nil {
			b.logger.Warn("dropping malformed event", zap.Int64("offset", msg.Offset), zap.Error(err))
			continue
		}
		if err := handler(ctx, event); err != nil {
			b.logger.Warn("event handler failed", zap.String("type", event.Type), zap.Error(err))
		}
	}
}

// Close flushes and closes the writer
func (b *KafkaBus) Close() error {
	return b.writer.Close()
}
