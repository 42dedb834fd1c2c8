package processor

import (
	"context"
	"encoding/json"
	"errors"
	"log"

	"github.com/segmentio/kafka-go"

	"github.com/belialboy/stravatotwitter/internal/domain"
)

// Reader exposes the minimal kafka.Reader interface needed by the consumer.
type Reader interface {
	FetchMessage(context.Context) (kafka.Message, error)
	CommitMessages(context.Context, ...kafka.Message) error
	Close() error
}

// Handler receives decoded webhook events from Kafka.
type Handler interface {
	Handle(context.Context, domain.WebhookEvent) error
}

// ConsumerOption configures optional behaviour for the Consumer.
type ConsumerOption func(*Consumer)

// WithConsumerLogger overrides the logger used to report errors.
func WithConsumerLogger(logger *log.Logger) ConsumerOption {
	return func(c *Consumer) { c.logger = logger }
}

// Consumer pulls webhook deliveries from Kafka and dispatches them to a Handler.
type Consumer struct {
	reader  Reader
	handler Handler
	logger  *log.Logger
}

// NewConsumer constructs a Consumer with the provided reader and handler.
func NewConsumer(reader Reader, handler Handler, opts ...ConsumerOption) *Consumer {
	c := &Consumer{
		reader:  reader,
		handler: handler,
		logger:  log.New(log.Writer(), "[consumer] ", log.LstdFlags|log.Lshortfile),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Run starts a blocking loop that processes messages until the context is
// cancelled. Handler errors leave the offset uncommitted so the delivery is
// retried; the pipeline's dedup claim makes the retry safe.
func (c *Consumer) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return err
			}
			c.logger.Printf("fetch error: %v", err)
			continue
		}

		var event domain.WebhookEvent
		if decodeErr := json.Unmarshal(msg.Value, &event); decodeErr != nil {
			c.logger.Printf("decode error (topic=%s, partition=%d, offset=%d): %v", msg.Topic, msg.Partition, msg.Offset, decodeErr)
			recordDecodeError(msg.Topic)
			// Commit malformed messages to avoid poison-pill loops.
			if commitErr := c.reader.CommitMessages(ctx, msg); commitErr != nil {
				c.logger.Printf("commit error after decode failure: %v", commitErr)
			}
			continue
		}

		if handleErr := c.handler.Handle(ctx, event); handleErr != nil {
			c.logger.Printf("handler error (athlete=%d, activity=%d): %v", event.OwnerID, event.ObjectID, handleErr)
			recordHandlerError(msg.Topic)
			continue
		}

		if commitErr := c.reader.CommitMessages(ctx, msg); commitErr != nil {
			c.logger.Printf("commit error: %v", commitErr)
		} else {
			recordConsumed(msg)
		}
	}
}
