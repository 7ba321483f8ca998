package command

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/example/ec-orders/internal/domain/cart"
	"github.com/example/ec-orders/internal/domain/inventory"
	"github.com/example/ec-orders/internal/domain/order"
	"github.com/example/ec-orders/internal/metrics"
)

// listLimit caps every order listing.
const listLimit = 100

var ErrInvalidPaymentMethod = errors.New("payment_method is required")

type Handler struct {
	cartSvc  *cart.Service
	orderSvc *order.Service
	ledger   *inventory.Ledger
	metrics  *metrics.Metrics
	now      func() time.Time
}

func NewHandler(
	cartSvc *cart.Service,
	orderSvc *order.Service,
	ledger *inventory.Ledger,
	m *metrics.Metrics,
) *Handler {
	return &Handler{
		cartSvc:  cartSvc,
		orderSvc: orderSvc,
		ledger:   ledger,
		metrics:  m,
		now:      time.Now,
	}
}

func (h *Handler) Cart(ctx context.Context, p Principal) ([]cart.Item, error) {
	return h.cartSvc.Items(ctx, p.UserID)
}

func (h *Handler) AddToCart(ctx context.Context, p Principal, cmd AddToCart) error {
	return h.cartSvc.AddItem(ctx, p.UserID, cmd.ProductID, cmd.Quantity)
}

func (h *Handler) UpdateCartItem(ctx context.Context, p Principal, cmd UpdateCartItem) error {
	return h.cartSvc.UpdateQuantity(ctx, p.UserID, cmd.ProductID, cmd.Quantity)
}

func (h *Handler) RemoveFromCart(ctx context.Context, p Principal, cmd RemoveFromCart) error {
	return h.cartSvc.RemoveItem(ctx, p.UserID, cmd.ProductID)
}

func (h *Handler) ClearCart(ctx context.Context, p Principal) error {
	return h.cartSvc.Clear(ctx, p.UserID)
}

// PlaceOrder turns the caller's cart into a pending order. Stock is reserved
// before the order is written and the cart is cleared last, so a rejected
// order leaves both the catalog and the cart as they were.
func (h *Handler) PlaceOrder(ctx context.Context, p Principal, cmd PlaceOrder) (*order.Order, error) {
	lg := zctx.From(ctx)

	if cmd.PaymentMethod == "" {
		return nil, ErrInvalidPaymentMethod
	}

	cartItems, err := h.cartSvc.Items(ctx, p.UserID)
	if err != nil {
		return nil, err
	}
	if len(cartItems) == 0 {
		return nil, order.ErrEmptyCart
	}

	items := make([]order.Item, len(cartItems))
	for i, item := range cartItems {
		items[i] = order.Item{
			ProductID: item.ProductID,
			Name:      item.Name,
			Price:     item.Price,
			Quantity:  item.Quantity,
			Image:     item.Image,
		}
	}

	o, err := order.New(p.UserID, items, cmd.ShippingAddress, cmd.PaymentMethod, h.now().UTC())
	if err != nil {
		return nil, err
	}

	if err := h.ledger.Reserve(ctx, o.Lines()); err != nil {
		if errors.Is(err, inventory.ErrInsufficientStock) {
			h.metrics.Reservations.WithLabelValues(metrics.ResultRejected).Inc()
		} else {
			h.metrics.Reservations.WithLabelValues(metrics.ResultError).Inc()
		}
		return nil, err
	}
	h.metrics.Reservations.WithLabelValues(metrics.ResultOK).Inc()

	if err := h.orderSvc.Place(ctx, o); err != nil {
		if relErr := h.ledger.Release(ctx, o.Lines()); relErr != nil {
			lg.Error("Failed to return stock for unsaved order",
				zap.String("order_id", o.ID),
				zap.Any("lines", o.Lines()),
				zap.Error(relErr),
			)
		}
		return nil, err
	}

	if err := h.cartSvc.Clear(ctx, p.UserID); err != nil {
		// The order is committed; a stale cart is only an inconvenience.
		lg.Warn("Failed to clear cart after order",
			zap.String("order_id", o.ID),
			zap.String("user_id", p.UserID),
			zap.Error(err),
		)
	}

	lg.Info("Order placed",
		zap.String("order_id", o.ID),
		zap.String("order_number", o.Number),
		zap.String("user_id", p.UserID),
		zap.String("total", o.TotalPrice.String()),
	)
	return o, nil
}

func (h *Handler) PayOrder(ctx context.Context, p Principal, orderID string) (*order.Order, error) {
	if _, err := h.ownedOrder(ctx, p, orderID); err != nil {
		return nil, err
	}
	return h.observe(order.StatusProcessing)(h.orderSvc.Pay(ctx, orderID, p.UserID))
}

func (h *Handler) CancelOrder(ctx context.Context, p Principal, orderID string) (*order.Order, error) {
	if _, err := h.ownedOrder(ctx, p, orderID); err != nil {
		return nil, err
	}
	return h.observe(order.StatusCancelled)(h.orderSvc.Cancel(ctx, orderID, p.UserID))
}

func (h *Handler) CompleteOrder(ctx context.Context, p Principal, orderID string) (*order.Order, error) {
	if _, err := h.ownedOrder(ctx, p, orderID); err != nil {
		return nil, err
	}
	return h.observe(order.StatusDelivered)(h.orderSvc.Complete(ctx, orderID, p.UserID))
}

func (h *Handler) ShipOrder(ctx context.Context, p Principal, orderID string) (*order.Order, error) {
	if !p.IsAdmin() {
		return nil, order.ErrForbidden
	}
	return h.observe(order.StatusShipped)(h.orderSvc.Ship(ctx, orderID, p.UserID))
}

func (h *Handler) SetOrderStatus(ctx context.Context, p Principal, cmd SetOrderStatus) (*order.Order, error) {
	if !p.IsAdmin() {
		return nil, order.ErrForbidden
	}
	return h.observe(cmd.Status)(h.orderSvc.SetStatus(ctx, cmd.OrderID, cmd.Status, p.UserID))
}

func (h *Handler) ReconcileOrder(ctx context.Context, p Principal, orderID string) (*order.Order, error) {
	if !p.IsAdmin() {
		return nil, order.ErrForbidden
	}
	return h.orderSvc.Reconcile(ctx, orderID, p.UserID)
}

func (h *Handler) GetOrder(ctx context.Context, p Principal, orderID string) (*order.Order, error) {
	return h.visibleOrder(ctx, p, orderID)
}

func (h *Handler) OrderEvents(ctx context.Context, p Principal, orderID string) ([]order.Event, error) {
	if _, err := h.visibleOrder(ctx, p, orderID); err != nil {
		return nil, err
	}
	return h.orderSvc.Events(ctx, orderID)
}

// ListOrders returns the caller's own orders, newest first.
func (h *Handler) ListOrders(ctx context.Context, p Principal) ([]order.Order, error) {
	return h.orderSvc.List(ctx, order.ListFilter{UserID: p.UserID, Limit: listLimit})
}

func (h *Handler) ListAllOrders(ctx context.Context, p Principal, q ListAllOrders) ([]order.Order, error) {
	if !p.IsAdmin() {
		return nil, order.ErrForbidden
	}
	return h.orderSvc.List(ctx, order.ListFilter{
		Status:      q.Status,
		Reservation: q.Reservation,
		Limit:       listLimit,
	})
}

// ownedOrder loads an order the caller must own. Admins get no exemption.
func (h *Handler) ownedOrder(ctx context.Context, p Principal, orderID string) (*order.Order, error) {
	o, err := h.orderSvc.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if o.UserID != p.UserID {
		return nil, order.ErrForbidden
	}
	return o, nil
}

func (h *Handler) visibleOrder(ctx context.Context, p Principal, orderID string) (*order.Order, error) {
	o, err := h.orderSvc.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if o.UserID != p.UserID && !p.IsAdmin() {
		return nil, order.ErrForbidden
	}
	return o, nil
}

// observe counts the outcome of a transition to status to.
func (h *Handler) observe(to order.Status) func(*order.Order, error) (*order.Order, error) {
	return func(o *order.Order, err error) (*order.Order, error) {
		result := metrics.ResultOK
		switch {
		case err == nil:
		case errors.Is(err, order.ErrInvalidTransition):
			result = metrics.ResultRejected
		default:
			result = metrics.ResultError
		}
		label := string(to)
		if !to.Valid() {
			label = "unknown"
		}
		h.metrics.Transitions.WithLabelValues(label, result).Inc()
		return o, err
	}
}
