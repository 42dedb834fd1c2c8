package webhookapi

import (
	"context"
	"encoding/json"
	"strconv"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"github.com/belialboy/stravatotwitter/internal/domain"
)

// EventPublisher writes accepted webhook deliveries to the event topic.
// Messages are keyed by athlete so one athlete's events stay ordered on a
// single partition.
type EventPublisher struct {
	writer *kafka.Writer
}

// NewEventPublisher builds a publisher for the given brokers and topic.
func NewEventPublisher(brokers []string, topic string) *EventPublisher {
	return &EventPublisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
			Compression:  kafka.Snappy,
			Async:        false,
		},
	}
}

// PublishEvent hands one webhook event to Kafka. Each delivery gets a unique
// id header for log correlation; the payload is the event itself.
func (p *EventPublisher) PublishEvent(ctx context.Context, event domain.WebhookEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(strconv.FormatInt(event.OwnerID, 10)),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "delivery_id", Value: []byte(uuid.NewString())},
		},
	})
}

// Close releases the underlying writer.
func (p *EventPublisher) Close() error {
	return p.writer.Close()
}
