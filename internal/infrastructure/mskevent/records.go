// Package mskevent feeds Lambda Kafka (MSK) event batches to the same
// message handlers the long-running consumers use.
package mskevent

import (
	"cmp"
	"context"
	"encoding/base64"
	"slices"

	"github.com/aws/aws-lambda-go/events"
	"github.com/go-faster/errors"
	"go.uber.org/zap"
)

// Handler matches kafka.MessageHandler.
type Handler func(ctx context.Context, key, value []byte) error

type Message struct {
	Topic     string
	Partition int64
	Offset    int64
	Key       []byte
	Value     []byte
}

// Messages decodes the base64 keys and values of ev and returns the records
// ordered by topic, partition and offset.
func Messages(ev events.KafkaEvent) ([]Message, error) {
	var out []Message
	for _, records := range ev.Records {
		for _, r := range records {
			key, err := base64.StdEncoding.DecodeString(r.Key)
			if err != nil {
				return nil, errors.Wrapf(err, "decode key of %s/%d@%d", r.Topic, r.Partition, r.Offset)
			}
			value, err := base64.StdEncoding.DecodeString(r.Value)
			if err != nil {
				return nil, errors.Wrapf(err, "decode value of %s/%d@%d", r.Topic, r.Partition, r.Offset)
			}
			out = append(out, Message{
				Topic:     r.Topic,
				Partition: r.Partition,
				Offset:    r.Offset,
				Key:       key,
				Value:     value,
			})
		}
	}
	slices.SortFunc(out, func(a, b Message) int {
		return cmp.Or(
			cmp.Compare(a.Topic, b.Topic),
			cmp.Compare(a.Partition, b.Partition),
			cmp.Compare(a.Offset, b.Offset),
		)
	})
	return out, nil
}

// Dispatch runs handler for every record of ev in order and stops at the
// first failure. Lambda then redelivers the whole batch, so handlers must be
// idempotent.
func Dispatch(ctx context.Context, lg *zap.Logger, ev events.KafkaEvent, handler Handler) error {
	msgs, err := Messages(ev)
	if err != nil {
		return err
	}
	for _, msg := range msgs {
		if err := handler(ctx, msg.Key, msg.Value); err != nil {
			lg.Error("Failed to process record",
				zap.String("topic", msg.Topic),
				zap.Int64("partition", msg.Partition),
				zap.Int64("offset", msg.Offset),
				zap.Error(err),
			)
			return errors.Wrapf(err, "record %s/%d@%d", msg.Topic, msg.Partition, msg.Offset)
		}
	}
	lg.Info("Processed batch", zap.Int("records", len(msgs)))
	return nil
}
