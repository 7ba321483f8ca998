// Package outbox moves committed order events from the database to Kafka.
package outbox

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/example/ec-orders/internal/domain/order"
	"github.com/example/ec-orders/internal/metrics"
)

// Source hands out unsent events and marks them sent when publish succeeds.
type Source interface {
	Drain(ctx context.Context, limit int, publish func(context.Context, []order.Event) error) (int, error)
	Pending(ctx context.Context) (int, error)
}

type Publisher interface {
	PublishEvents(ctx context.Context, events []order.Event) error
}

type Relay struct {
	source    Source
	publisher Publisher
	interval  time.Duration
	batchSize int
	metrics   *metrics.Metrics
	lg        *zap.Logger
}

func NewRelay(source Source, publisher Publisher, interval time.Duration, batchSize int, m *metrics.Metrics, lg *zap.Logger) *Relay {
	if lg == nil {
		lg = zap.NewNop()
	}
	if interval <= 0 {
		interval = time.Second
	}
	if batchSize <= 0 {
		batchSize = 100
	}
	return &Relay{
		source:    source,
		publisher: publisher,
		interval:  interval,
		batchSize: batchSize,
		metrics:   m,
		lg:        lg,
	}
}

// Run flushes the outbox every interval until ctx is done.
func (r *Relay) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.lg.Info("Outbox relay started",
		zap.Duration("interval", r.interval),
		zap.Int("batch_size", r.batchSize),
	)
	for {
		if _, err := r.Flush(ctx); err != nil && ctx.Err() == nil {
			r.lg.Warn("Outbox flush failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Flush publishes batches until the outbox holds fewer than a full batch.
// Events of a failed batch stay unsent and are retried by the next flush.
func (r *Relay) Flush(ctx context.Context) (int, error) {
	defer r.observeBacklog(ctx)

	total := 0
	for {
		n, err := r.source.Drain(ctx, r.batchSize, r.publisher.PublishEvents)
		if err != nil {
			r.metrics.OutboxFailures.Inc()
			return total, err
		}
		total += n
		r.metrics.OutboxPublished.Add(float64(n))
		if n < r.batchSize {
			if total > 0 {
				r.lg.Debug("Outbox flushed", zap.Int("events", total))
			}
			return total, nil
		}
	}
}

func (r *Relay) observeBacklog(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	n, err := r.source.Pending(ctx)
	if err != nil {
		r.lg.Warn("Failed to count outbox backlog", zap.Error(err))
		return
	}
	r.metrics.OutboxBacklog.Set(float64(n))
}
