package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// Delivery targets
const (
	TargetUser            = "user"
	TargetAdmins          = "admins"
	TargetTicket          = "ticket"
	TargetTicketAndAdmins = "ticket_and_admins"
)

// Delivery is one fan-out request shared between hub instances
type Delivery struct {
	Origin   string   `json:"origin"`
	Target   string   `json:"target"`
	Key      string   `json:"key,omitempty"`
	Envelope Envelope `json:"envelope"`
}

// Backplane carries deliveries between hub instances
type Backplane interface {
	Publish(ctx context.Context, d Delivery) error
	// Subscribe calls handle for every delivery until ctx is cancelled
	Subscribe(ctx context.Context, handle func(Delivery)) error
	Close() error
}

// KafkaBackplane shares deliveries through a Kafka topic. Each instance reads
// with its own consumer group so every instance sees every delivery.
type KafkaBackplane struct {
	writer *kafka.Writer
	reader *kafka.Reader
	logger *zap.Logger
}

// NewKafkaBackplane creates a backplane on the given brokers and topic
func NewKafkaBackplane(brokers []string, topic string, logger *zap.Logger) (*KafkaBackplane, error) {
	if len(brokers) == 0 {
		return nil, errors.New("kafka backplane requires at least one broker")
	}
	if topic == "" {
		return nil, errors.New("kafka backplane requires a topic")
	}

	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 10 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
	}
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        brokers,
		GroupID:        "atelier-realtime-" + uuid.NewString(),
		Topic:          topic,
		MinBytes:       1,
		MaxBytes:       10e6,
		MaxWait:        500 * time.Millisecond,
		StartOffset:    kafka.LastOffset,
		CommitInterval: time.Second,
	})

	return &KafkaBackplane{writer: writer, reader: reader, logger: logger.Named("backplane")}, nil
}

// Publish writes a delivery to the topic
func (b *KafkaBackplane) Publish(ctx context.Context, d Delivery) error {
	value, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("failed to encode delivery: %w", err)
	}
	return b.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(d.Target + ":" + d.Key),
		Value: value,
	})
}

// Subscribe reads deliveries until ctx is cancelled
func (b *KafkaBackplane) Subscribe(ctx context.Context, handle func(Delivery)) error {
	b.logger.Info("Consuming realtime backplane", zap.String("topic", b.reader.Config().Topic))
	for {
		m, err := b.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			b.logger.Warn("Error reading backplane message", zap.Error(err))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(5 * time.Second):
			}
			continue
		}

		var d Delivery
		if err := json.Unmarshal(m.Value, &d); err != nil {
			b.logger.Warn("Skipping malformed backplane message",
				zap.Int64("offset", m.Offset), zap.Error(err))
			continue
		}
		handle(d)
	}
}

// Close flushes the writer and leaves the consumer group
func (b *KafkaBackplane) Close() error {
	return errors.Join(b.writer.Close(), b.reader.Close())
}
