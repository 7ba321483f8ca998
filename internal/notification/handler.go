// Package notification emails customers about their orders as order events
// arrive from Kafka.
package notification

import (
	"context"
	"encoding/json"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/example/ec-orders/internal/domain/order"
	"github.com/example/ec-orders/internal/domain/user"
	"github.com/example/ec-orders/internal/email"
	"github.com/example/ec-orders/internal/metrics"
)

type Mailer interface {
	Send(ctx context.Context, to string, m email.Message) error
}

// OrderReader loads orders for events that only carry a status change.
type OrderReader interface {
	Get(ctx context.Context, id string) (*order.Order, error)
}

// Handler processes events for sending notifications
type Handler struct {
	mailer  Mailer
	users   user.Directory
	orders  OrderReader
	metrics *metrics.Metrics
	lg      *zap.Logger
}

func NewHandler(mailer Mailer, users user.Directory, orders OrderReader, m *metrics.Metrics, lg *zap.Logger) *Handler {
	if lg == nil {
		lg = zap.NewNop()
	}
	return &Handler{
		mailer:  mailer,
		users:   users,
		orders:  orders,
		metrics: m,
		lg:      lg,
	}
}

// HandleEvent processes an event from Kafka. Events that need no email are
// acknowledged without work.
func (h *Handler) HandleEvent(ctx context.Context, key, value []byte) error {
	var event order.Event
	if err := json.Unmarshal(value, &event); err != nil {
		// Retrying cannot fix a malformed payload.
		h.lg.Error("Failed to unmarshal event", zap.ByteString("key", key), zap.Error(err))
		h.metrics.EventsConsumed.WithLabelValues("unknown", "malformed").Inc()
		return nil
	}

	var err error
	switch event.Type {
	case order.EventOrderPlaced:
		err = h.handleOrderPlaced(ctx, event)
	case order.EventOrderShipped:
		err = h.handleStatusChanged(ctx, event, email.OrderShipped)
	case order.EventOrderCancelled:
		err = h.handleStatusChanged(ctx, event, email.OrderCancelled)
	default:
		h.metrics.EventsConsumed.WithLabelValues(event.Type, "ignored").Inc()
		return nil
	}

	if err != nil {
		h.metrics.EventsConsumed.WithLabelValues(event.Type, metrics.ResultError).Inc()
		return err
	}
	h.metrics.EventsConsumed.WithLabelValues(event.Type, metrics.ResultOK).Inc()
	return nil
}

func (h *Handler) handleOrderPlaced(ctx context.Context, event order.Event) error {
	var e order.OrderPlaced
	if err := json.Unmarshal(event.Data, &e); err != nil {
		h.lg.Error("Failed to unmarshal OrderPlaced event", zap.String("event_id", event.ID), zap.Error(err))
		return nil
	}
	return h.notify(ctx, e.UserID, summarize(e.OrderNumber, e.Items, e.TotalPrice), email.OrderConfirmation)
}

func (h *Handler) handleStatusChanged(ctx context.Context, event order.Event, build func(email.OrderSummary) (email.Message, error)) error {
	var e order.StatusChanged
	if err := json.Unmarshal(event.Data, &e); err != nil {
		h.lg.Error("Failed to unmarshal status event", zap.String("event_id", event.ID), zap.Error(err))
		return nil
	}

	summary := email.OrderSummary{OrderNumber: e.OrderNumber}
	o, err := h.orders.Get(ctx, e.OrderID)
	switch {
	case err == nil:
		summary = summarize(o.Number, o.Items, o.TotalPrice)
	case errors.Is(err, order.ErrOrderNotFound):
		// Send the short form without line items.
	default:
		return errors.Wrap(err, "load order")
	}
	return h.notify(ctx, e.UserID, summary, build)
}

func (h *Handler) notify(ctx context.Context, userID string, summary email.OrderSummary, build func(email.OrderSummary) (email.Message, error)) error {
	u, err := h.users.Get(ctx, userID)
	if errors.Is(err, user.ErrUserNotFound) {
		h.lg.Warn("User not found", zap.String("user_id", userID))
		return nil
	}
	if err != nil {
		return errors.Wrap(err, "look up user")
	}
	summary.CustomerName = u.Name

	msg, err := build(summary)
	if err != nil {
		return err
	}
	if err := h.mailer.Send(ctx, u.Email, msg); err != nil {
		return errors.Wrapf(err, "send email to %s", u.Email)
	}

	h.lg.Info("Email sent",
		zap.String("to", u.Email),
		zap.String("order_number", summary.OrderNumber),
		zap.String("subject", msg.Subject),
	)
	return nil
}

func summarize(number string, items []order.Item, total decimal.Decimal) email.OrderSummary {
	out := email.OrderSummary{OrderNumber: number, Total: total}
	for _, item := range items {
		name := item.Name
		if name == "" {
			name = item.ProductID
		}
		out.Items = append(out.Items, email.OrderItem{
			Name:     name,
			Quantity: item.Quantity,
			Price:    item.Price,
		})
	}
	return out
}
