package order

import (
	"encoding/json"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/example/ec-orders/internal/domain/inventory"
)

const (
	EventOrderPlaced        = "OrderPlaced"
	EventOrderPaid          = "OrderPaid"
	EventOrderShipped       = "OrderShipped"
	EventOrderDelivered     = "OrderDelivered"
	EventOrderCancelled     = "OrderCancelled"
	EventStockReleased      = "StockReleased"
	EventStockReleaseFailed = "StockReleaseFailed"
	EventStockReleaseRetry  = "StockReleaseRetried"
)

// transitionEvents names the event recorded when an order enters a status.
var transitionEvents = map[Status]string{
	StatusProcessing: EventOrderPaid,
	StatusShipped:    EventOrderShipped,
	StatusDelivered:  EventOrderDelivered,
	StatusCancelled:  EventOrderCancelled,
}

// Event is an entry in an order's audit log. Seq is assigned by the store
// and orders events globally.
type Event struct {
	Seq       int64           `json:"seq,omitempty"`
	ID        string          `json:"id"`
	OrderID   string          `json:"order_id"`
	Type      string          `json:"event_type"`
	Data      json.RawMessage `json:"data"`
	CreatedAt time.Time       `json:"created_at"`
}

// NewEvent serializes payload into a new event.
func NewEvent(orderID, eventType string, payload any, at time.Time) (Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Event{}, errors.Wrapf(err, "marshal %s", eventType)
	}
	return Event{
		ID:        uuid.New().String(),
		OrderID:   orderID,
		Type:      eventType,
		Data:      data,
		CreatedAt: at,
	}, nil
}

type OrderPlaced struct {
	OrderID     string          `json:"order_id"`
	OrderNumber string          `json:"order_number"`
	UserID      string          `json:"user_id"`
	Items       []Item          `json:"items"`
	TotalPrice  decimal.Decimal `json:"total_price"`
	PlacedAt    time.Time       `json:"placed_at"`
}

// StatusChanged is the payload of OrderPaid, OrderShipped, OrderDelivered
// and OrderCancelled.
type StatusChanged struct {
	OrderID     string    `json:"order_id"`
	OrderNumber string    `json:"order_number"`
	UserID      string    `json:"user_id"`
	From        Status    `json:"from"`
	To          Status    `json:"to"`
	Actor       string    `json:"actor"`
	ChangedAt   time.Time `json:"changed_at"`
}

type StockReleased struct {
	OrderID    string           `json:"order_id"`
	Lines      []inventory.Line `json:"lines"`
	ReleasedAt time.Time        `json:"released_at"`
}

type StockReleaseFailed struct {
	OrderID  string           `json:"order_id"`
	Pending  []inventory.Line `json:"pending"`
	Reason   string           `json:"reason"`
	FailedAt time.Time        `json:"failed_at"`
}

// StockReleaseRetried records a reconciliation claiming an order's pending
// lines before it returns them.
type StockReleaseRetried struct {
	OrderID   string           `json:"order_id"`
	Lines     []inventory.Line `json:"lines"`
	Actor     string           `json:"actor"`
	RetriedAt time.Time        `json:"retried_at"`
}
