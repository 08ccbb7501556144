package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/haulbook-dev/haulbook/internal/allocation"
)

// DefaultTopic receives allocation warnings when no topic is configured.
const DefaultTopic = "haulbook.allocation_warnings"

// MessageWriter is the part of kafka.Writer the publisher uses.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Kafka publishes warnings as JSON events keyed by counterparty, so the
// warnings of one counterparty stay ordered within a partition.
type Kafka struct {
	writer MessageWriter
	now    func() time.Time
}

// NewKafka creates a publisher writing to topic on brokers.
func NewKafka(brokers []string, topic string) *Kafka {
	if topic == "" {
		topic = DefaultTopic
	}
	return NewKafkaWithWriter(&kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		AllowAutoTopicCreation: true,
	})
}

// NewKafkaWithWriter wraps an existing writer.
func NewKafkaWithWriter(w MessageWriter) *Kafka {
	return &Kafka{writer: w, now: time.Now}
}

// Notify implements Notifier.
func (k *Kafka) Notify(ctx context.Context, w allocation.Warning) error {
	data, err := json.Marshal(NewEvent(w, k.now().UTC()))
	if err != nil {
		return fmt.Errorf("encoding warning event: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(string(w.CounterpartyKind) + ":" + w.Counterparty),
		Value: data,
		Headers: []kafka.Header{
			{Key: "kind", Value: []byte(w.Kind)},
		},
	}
	if err := k.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publishing warning event: %w", err)
	}
	return nil
}

// Close flushes and closes the writer.
func (k *Kafka) Close() error {
	return k.writer.Close()
}
