package events

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"
)

// Producer publishes bet lifecycle events to a Kafka topic.
type Producer struct {
	writer *kafka.Writer
}

// NewProducer creates a Producer writing to the given brokers and topic.
func NewProducer(brokers []string, topic string) *Producer {
	return &Producer{
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			Topic:                  topic,
			Balancer:               &kafka.LeastBytes{},
			AllowAutoTopicCreation: true,
		},
	}
}

// Publish writes one event payload keyed by bet id, so all events for a bet
// land on the same partition in submission order.
func (p *Producer) Publish(ctx context.Context, betID int64, payload []byte) error {
	msg := kafka.Message{
		Key:   []byte(strconv.FormatInt(betID, 10)),
		Value: payload,
		Time:  time.Now(),
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("events: publish bet %d: %w", betID, err)
	}
	return nil
}

// Close flushes and closes the underlying writer.
func (p *Producer) Close() error {
	return p.writer.Close()
}
