package order

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/example/ec-orders/internal/domain/inventory"
)

var (
	ErrOrderNotFound      = errors.New("order not found")
	ErrForbidden          = errors.New("not allowed to access this order")
	ErrEmptyCart          = errors.New("cart is empty")
	ErrInvalidQuantity    = errors.New("quantity must be positive")
	ErrInvalidPrice       = errors.New("price must not be negative")
	ErrStatusConflict     = errors.New("order was modified concurrently")
	ErrNothingToReconcile = errors.New("order has no failed stock release")
	ErrStockReleaseFailed = errors.New("order cancelled but stock release failed")
	ErrReleaseInProgress  = errors.New("stock release still in progress")
)

// Reservation tracks whether the stock held by an order is still reserved.
type Reservation string

const (
	ReservationReserved Reservation = "reserved"
	// ReservationReleasePending is written together with the cancellation,
	// before any stock is returned. An order left in it was cancelled but
	// never confirmed released.
	ReservationReleasePending Reservation = "release_pending"
	ReservationReleased       Reservation = "released"
	ReservationReleaseFailed  Reservation = "release_failed"
)

func (r Reservation) Valid() bool {
	switch r {
	case ReservationReserved, ReservationReleasePending, ReservationReleased, ReservationReleaseFailed:
		return true
	}
	return false
}

// Reconcilable reports whether stock held under r may still need to be
// returned to the catalog.
func (r Reservation) Reconcilable() bool {
	return r == ReservationReleasePending || r == ReservationReleaseFailed
}

// Item is a line item frozen at order creation. It is never re-read from
// the catalog.
type Item struct {
	ProductID string          `json:"product_id"`
	Name      string          `json:"name"`
	Price     decimal.Decimal `json:"price"`
	Quantity  int             `json:"quantity"`
	Image     string          `json:"image"`
}

// ShippingAddress is stored as given.
type ShippingAddress struct {
	Address    string `json:"address"`
	City       string `json:"city"`
	PostalCode string `json:"postalCode"`
	Country    string `json:"country"`
}

type Order struct {
	ID              string          `json:"id"`
	Number          string          `json:"order_number"`
	UserID          string          `json:"user_id"`
	Items           []Item          `json:"items"`
	TotalPrice      decimal.Decimal `json:"total_price"`
	Status          Status          `json:"status"`
	Reservation     Reservation     `json:"reservation"`
	ShippingAddress ShippingAddress `json:"shipping_address"`
	PaymentMethod   string          `json:"payment_method"`
	PaidAt          *time.Time      `json:"paid_at,omitempty"`
	DeliveredAt     *time.Time      `json:"delivered_at,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// New builds a pending order from cart items. The items are copied and the
// total is computed once here.
func New(userID string, items []Item, addr ShippingAddress, paymentMethod string, now time.Time) (*Order, error) {
	if len(items) == 0 {
		return nil, ErrEmptyCart
	}

	frozen := make([]Item, len(items))
	total := decimal.Zero
	for i, item := range items {
		if item.Quantity <= 0 {
			return nil, errors.Wrapf(ErrInvalidQuantity, "product %s", item.ProductID)
		}
		if item.Price.IsNegative() {
			return nil, errors.Wrapf(ErrInvalidPrice, "product %s", item.ProductID)
		}
		frozen[i] = item
		total = total.Add(item.Price.Mul(decimal.NewFromInt(int64(item.Quantity))))
	}

	return &Order{
		ID:              uuid.New().String(),
		Number:          NewOrderNumber(userID, now),
		UserID:          userID,
		Items:           frozen,
		TotalPrice:      total,
		Status:          StatusPending,
		Reservation:     ReservationReserved,
		ShippingAddress: addr,
		PaymentMethod:   paymentMethod,
		CreatedAt:       now,
		UpdatedAt:       now,
	}, nil
}

// NewOrderNumber joins the creation time in seconds with the first eight
// runes of the user id. A random four character suffix keeps numbers
// apart when the same user orders twice within a second.
func NewOrderNumber(userID string, at time.Time) string {
	fragment := userID
	if r := []rune(userID); len(r) > 8 {
		fragment = string(r[:8])
	}
	suffix := uuid.New().String()[:4]
	return fmt.Sprintf("%d%s-%s", at.Unix(), fragment, suffix)
}

// Lines returns the stock movements the order's items correspond to.
func (o *Order) Lines() []inventory.Line {
	lines := make([]inventory.Line, len(o.Items))
	for i, item := range o.Items {
		lines[i] = inventory.Line{ProductID: item.ProductID, Quantity: item.Quantity}
	}
	return lines
}

// ListFilter narrows order listings. Zero values match everything.
type ListFilter struct {
	UserID      string
	Status      Status
	Reservation Reservation
	Limit       int
}

// StatusChange is a compare-and-set of an order's status. The repository
// applies it only if the stored status still equals From and returns
// ErrStatusConflict otherwise. Event is stored in the same write, and so is
// Reservation when set.
type StatusChange struct {
	OrderID     string
	From        Status
	To          Status
	Reservation Reservation
	PaidAt      *time.Time
	DeliveredAt *time.Time
	At          time.Time
	Event       Event
}

// ReservationChange is a compare-and-set of an order's reservation marker.
// When Since is set the change also requires the order to be unmodified
// since that instant.
type ReservationChange struct {
	OrderID string
	From    Reservation
	To      Reservation
	Since   time.Time
	At      time.Time
	Event   Event
}

// Repository persists orders together with their event log.
type Repository interface {
	Create(ctx context.Context, o *Order, event Event) error
	Get(ctx context.Context, id string) (*Order, error)
	List(ctx context.Context, filter ListFilter) ([]Order, error)
	Transition(ctx context.Context, change StatusChange) (*Order, error)
	SetReservation(ctx context.Context, change ReservationChange) error
	Events(ctx context.Context, orderID string) ([]Event, error)
}
