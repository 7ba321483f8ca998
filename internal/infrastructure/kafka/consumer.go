package kafka

import (
	"context"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

type MessageHandler func(ctx context.Context, key, value []byte) error

const (
	handleAttempts = 3
	retryBackoff   = 500 * time.Millisecond
)

type Consumer struct {
	reader *kafka.Reader
	lg     *zap.Logger
}

func NewConsumer(brokers []string, topic, groupID string, lg *zap.Logger) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  groupID,
		MinBytes: 10e3, // 10KB
		MaxBytes: 10e6, // 10MB
	})
	return &Consumer{reader: reader, lg: lg}
}

// Consume hands every message to handler and commits its offset afterwards.
// A failing message is retried a few times and then skipped so one bad
// event cannot stall the partition.
func (c *Consumer) Consume(ctx context.Context, handler MessageHandler) error {
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.lg.Error("Error reading message", zap.Error(err))
			continue
		}

		if err := c.handle(ctx, handler, msg); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.lg.Error("Dropping message after retries",
				zap.String("key", string(msg.Key)),
				zap.Int("partition", msg.Partition),
				zap.Int64("offset", msg.Offset),
				zap.Error(err),
			)
		}

		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.lg.Error("Error committing message", zap.Error(err))
		}
	}
}

func (c *Consumer) handle(ctx context.Context, handler MessageHandler, msg kafka.Message) error {
	var err error
	for attempt := 1; attempt <= handleAttempts; attempt++ {
		if err = handler(ctx, msg.Key, msg.Value); err == nil {
			return nil
		}
		c.lg.Warn("Error handling message",
			zap.Int("attempt", attempt),
			zap.Int64("offset", msg.Offset),
			zap.Error(err),
		)
		if attempt == handleAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(retryBackoff * time.Duration(attempt)):
		}
	}
	return err
}

func (c *Consumer) Close() error {
	return c.reader.Close()
}
