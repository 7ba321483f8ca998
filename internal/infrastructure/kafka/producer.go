package kafka

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-faster/errors"
	"github.com/segmentio/kafka-go"

	"github.com/example/ec-orders/internal/domain/order"
)

type Producer struct {
	writer *kafka.Writer
}

// NewProducer creates a writer that hashes on the message key. Events are
// keyed by order id, so one order's events stay on one partition in order.
func NewProducer(brokers []string, topic string) *Producer {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		BatchTimeout: 10 * time.Millisecond,
	}
	return &Producer{writer: writer}
}

// PublishEvents writes events as one batch. It returns only after the
// brokers acknowledged every message.
func (p *Producer) PublishEvents(ctx context.Context, events []order.Event) error {
	msgs := make([]kafka.Message, len(events))
	for i, e := range events {
		data, err := json.Marshal(e)
		if err != nil {
			return errors.Wrapf(err, "marshal event %s", e.ID)
		}
		msgs[i] = kafka.Message{
			Key:   []byte(e.OrderID),
			Value: data,
			Time:  e.CreatedAt,
			Headers: []kafka.Header{
				{Key: "event_type", Value: []byte(e.Type)},
			},
		}
	}

	if err := p.writer.WriteMessages(ctx, msgs...); err != nil {
		return errors.Wrap(err, "write messages")
	}
	return nil
}

func (p *Producer) Close() error {
	return p.writer.Close()
}
