// Package archive copies order events into long-term storage.
package archive

import (
	"context"
	"encoding/json"

	"github.com/go-faster/errors"
	"go.uber.org/zap"

	"github.com/example/ec-orders/internal/domain/order"
	"github.com/example/ec-orders/internal/metrics"
)

// Store writes an event once. Put reports false if the event was already
// stored.
type Store interface {
	Put(ctx context.Context, e order.Event) (bool, error)
}

type Handler struct {
	store   Store
	metrics *metrics.Metrics
	lg      *zap.Logger
}

func NewHandler(store Store, m *metrics.Metrics, lg *zap.Logger) *Handler {
	if lg == nil {
		lg = zap.NewNop()
	}
	return &Handler{store: store, metrics: m, lg: lg}
}

// HandleEvent archives one Kafka message. Redelivered events are
// acknowledged without a second write.
func (h *Handler) HandleEvent(ctx context.Context, key, value []byte) error {
	var event order.Event
	if err := json.Unmarshal(value, &event); err != nil {
		h.lg.Error("Failed to unmarshal event", zap.ByteString("key", key), zap.Error(err))
		h.metrics.EventsConsumed.WithLabelValues("unknown", "malformed").Inc()
		return nil
	}
	if event.ID == "" || event.OrderID == "" {
		h.lg.Error("Event without identity", zap.ByteString("key", key))
		h.metrics.EventsConsumed.WithLabelValues(event.Type, "malformed").Inc()
		return nil
	}

	stored, err := h.store.Put(ctx, event)
	if err != nil {
		h.metrics.EventsConsumed.WithLabelValues(event.Type, metrics.ResultError).Inc()
		return errors.Wrap(err, "archive event")
	}
	if !stored {
		h.lg.Debug("Event already archived", zap.String("event_id", event.ID))
		h.metrics.EventsConsumed.WithLabelValues(event.Type, "duplicate").Inc()
		return nil
	}

	h.metrics.EventsConsumed.WithLabelValues(event.Type, metrics.ResultOK).Inc()
	h.lg.Debug("Event archived",
		zap.String("event_id", event.ID),
		zap.String("order_id", event.OrderID),
		zap.String("event_type", event.Type),
	)
	return nil
}
