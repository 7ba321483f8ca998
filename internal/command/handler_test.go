package command_test

import (
	"context"
	"testing"

	"github.com/go-faster/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/ec-orders/internal/command"
	"github.com/example/ec-orders/internal/domain/cart"
	"github.com/example/ec-orders/internal/domain/inventory"
	"github.com/example/ec-orders/internal/domain/order"
	"github.com/example/ec-orders/internal/domain/product"
	"github.com/example/ec-orders/internal/infrastructure/store/mocks"
	"github.com/example/ec-orders/internal/metrics"
)

var (
	alice = command.Principal{UserID: "user-alice", Role: command.RoleCustomer}
	bob   = command.Principal{UserID: "user-bob", Role: command.RoleCustomer}
	admin = command.Principal{UserID: "user-admin", Role: command.RoleAdmin}

	checkout = command.PlaceOrder{
		ShippingAddress: order.ShippingAddress{Address: "1-1 Chiyoda", City: "Tokyo", PostalCode: "100-0001", Country: "JP"},
		PaymentMethod:   "PayPal",
	}
)

type testEnv struct {
	handler *command.Handler
	carts   *mocks.MockCartStore
	catalog *mocks.MockCatalog
	orders  *mocks.MockOrderRepository
	metrics *metrics.Metrics
}

func newTestHandler() *testEnv {
	catalog := mocks.NewMockCatalog(
		product.Product{ID: "prod-1", Name: "Mug", Price: decimal.NewFromInt(10), Stock: 10},
		product.Product{ID: "prod-2", Name: "Pen", Price: decimal.NewFromInt(5), Stock: 5},
	)
	carts := mocks.NewMockCartStore()
	orders := mocks.NewMockOrderRepository()
	ledger := inventory.NewLedger(catalog, nil)
	m := metrics.New(prometheus.NewRegistry(), "test")

	handler := command.NewHandler(
		cart.NewService(carts, catalog, nil),
		order.NewService(orders, ledger, nil),
		ledger,
		m,
	)
	return &testEnv{handler: handler, carts: carts, catalog: catalog, orders: orders, metrics: m}
}

// fillCart puts 2 x prod-1 and 1 x prod-2 into p's cart.
func (e *testEnv) fillCart(t *testing.T, p command.Principal) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, e.handler.AddToCart(ctx, p, command.AddToCart{ProductID: "prod-1", Quantity: 2}))
	require.NoError(t, e.handler.AddToCart(ctx, p, command.AddToCart{ProductID: "prod-2", Quantity: 1}))
}

func (e *testEnv) placeOrder(t *testing.T, p command.Principal) *order.Order {
	t.Helper()
	e.fillCart(t, p)
	o, err := e.handler.PlaceOrder(context.Background(), p, checkout)
	require.NoError(t, err)
	return o
}

// ============================================
// Place Order Tests
// ============================================

func TestHandler_PlaceOrder_Success(t *testing.T) {
	env := newTestHandler()
	env.fillCart(t, alice)
	ctx := context.Background()

	o, err := env.handler.PlaceOrder(ctx, alice, checkout)
	require.NoError(t, err)

	assert.True(t, o.TotalPrice.Equal(decimal.NewFromInt(25)), "total %s", o.TotalPrice)
	assert.Equal(t, order.StatusPending, o.Status)
	assert.Equal(t, order.ReservationReserved, o.Reservation)
	assert.Equal(t, alice.UserID, o.UserID)
	assert.Equal(t, "Tokyo", o.ShippingAddress.City)
	assert.Equal(t, "PayPal", o.PaymentMethod)
	require.Len(t, o.Items, 2)
	assert.Equal(t, "Mug", o.Items[0].Name)

	assert.Equal(t, 8, env.catalog.Stock("prod-1"))
	assert.Equal(t, 4, env.catalog.Stock("prod-2"))

	items, err := env.handler.Cart(ctx, alice)
	require.NoError(t, err)
	assert.Empty(t, items)

	stored, err := env.handler.GetOrder(ctx, alice, o.ID)
	require.NoError(t, err)
	assert.Equal(t, o.Number, stored.Number)
	assert.Equal(t, 1.0, testutil.ToFloat64(env.metrics.Reservations.WithLabelValues(metrics.ResultOK)))
}

func TestHandler_PlaceOrder_EmptyCart(t *testing.T) {
	env := newTestHandler()

	o, err := env.handler.PlaceOrder(context.Background(), alice, checkout)

	assert.ErrorIs(t, err, order.ErrEmptyCart)
	assert.Nil(t, o)
	assert.Equal(t, 0, env.orders.Count())
	assert.Empty(t, env.catalog.AdjustCalls)
}

func TestHandler_PlaceOrder_MissingPaymentMethod(t *testing.T) {
	env := newTestHandler()
	env.fillCart(t, alice)

	_, err := env.handler.PlaceOrder(context.Background(), alice, command.PlaceOrder{})
	assert.ErrorIs(t, err, command.ErrInvalidPaymentMethod)
	assert.Equal(t, 0, env.orders.Count())
}

func TestHandler_PlaceOrder_InsufficientStock_LeavesCart(t *testing.T) {
	env := newTestHandler()
	ctx := context.Background()
	require.NoError(t, env.handler.AddToCart(ctx, alice, command.AddToCart{ProductID: "prod-1", Quantity: 2}))
	require.NoError(t, env.handler.AddToCart(ctx, alice, command.AddToCart{ProductID: "prod-2", Quantity: 6}))

	o, err := env.handler.PlaceOrder(ctx, alice, checkout)

	require.ErrorIs(t, err, inventory.ErrInsufficientStock)
	var stockErr *inventory.InsufficientStockError
	require.True(t, errors.As(err, &stockErr))
	assert.Equal(t, "prod-2", stockErr.ProductID)
	assert.Nil(t, o)

	assert.Equal(t, 0, env.orders.Count())
	assert.Equal(t, 10, env.catalog.Stock("prod-1"))
	assert.Equal(t, 5, env.catalog.Stock("prod-2"))
	assert.Empty(t, env.carts.ClearCalls)

	items, err := env.handler.Cart(ctx, alice)
	require.NoError(t, err)
	assert.Len(t, items, 2)
	assert.Equal(t, 1.0, testutil.ToFloat64(env.metrics.Reservations.WithLabelValues(metrics.ResultRejected)))
}

func TestHandler_PlaceOrder_PersistFails_ReturnsStock(t *testing.T) {
	env := newTestHandler()
	env.fillCart(t, alice)
	env.orders.CreateErr = errors.New("database error")
	ctx := context.Background()

	_, err := env.handler.PlaceOrder(ctx, alice, checkout)
	require.Error(t, err)

	assert.Equal(t, 10, env.catalog.Stock("prod-1"))
	assert.Equal(t, 5, env.catalog.Stock("prod-2"))
	assert.Empty(t, env.carts.ClearCalls)

	items, err := env.handler.Cart(ctx, alice)
	require.NoError(t, err)
	assert.Len(t, items, 2)
}

func TestHandler_PlaceOrder_ClearFails_OrderStands(t *testing.T) {
	env := newTestHandler()
	env.fillCart(t, alice)
	env.carts.ClearErr = errors.New("database error")

	o, err := env.handler.PlaceOrder(context.Background(), alice, checkout)
	require.NoError(t, err)
	assert.Equal(t, 1, env.orders.Count())
	assert.Equal(t, order.StatusPending, o.Status)
}

func TestHandler_PlaceOrder_FreezesPrices(t *testing.T) {
	env := newTestHandler()
	o := env.placeOrder(t, alice)

	env.catalog.SetPrice("prod-1", decimal.NewFromInt(99))

	stored, err := env.handler.GetOrder(context.Background(), alice, o.ID)
	require.NoError(t, err)
	assert.True(t, stored.TotalPrice.Equal(decimal.NewFromInt(25)))
	assert.True(t, stored.Items[0].Price.Equal(decimal.NewFromInt(10)))
}

// ============================================
// Authorization Tests
// ============================================

func TestHandler_OwnerOnlyOperations(t *testing.T) {
	env := newTestHandler()
	o := env.placeOrder(t, alice)
	ctx := context.Background()

	_, err := env.handler.PayOrder(ctx, bob, o.ID)
	assert.ErrorIs(t, err, order.ErrForbidden)
	_, err = env.handler.CancelOrder(ctx, admin, o.ID)
	assert.ErrorIs(t, err, order.ErrForbidden)
	_, err = env.handler.CompleteOrder(ctx, bob, o.ID)
	assert.ErrorIs(t, err, order.ErrForbidden)

	stored, err := env.handler.GetOrder(ctx, alice, o.ID)
	require.NoError(t, err)
	assert.Equal(t, order.StatusPending, stored.Status)
}

func TestHandler_AdminOnlyOperations(t *testing.T) {
	env := newTestHandler()
	o := env.placeOrder(t, alice)
	ctx := context.Background()

	_, err := env.handler.ShipOrder(ctx, alice, o.ID)
	assert.ErrorIs(t, err, order.ErrForbidden)
	_, err = env.handler.SetOrderStatus(ctx, alice, command.SetOrderStatus{OrderID: o.ID, Status: order.StatusProcessing})
	assert.ErrorIs(t, err, order.ErrForbidden)
	_, err = env.handler.ReconcileOrder(ctx, alice, o.ID)
	assert.ErrorIs(t, err, order.ErrForbidden)
	_, err = env.handler.ListAllOrders(ctx, alice, command.ListAllOrders{})
	assert.ErrorIs(t, err, order.ErrForbidden)
}

func TestHandler_GetOrder_Visibility(t *testing.T) {
	env := newTestHandler()
	o := env.placeOrder(t, alice)
	ctx := context.Background()

	_, err := env.handler.GetOrder(ctx, alice, o.ID)
	assert.NoError(t, err)
	_, err = env.handler.GetOrder(ctx, admin, o.ID)
	assert.NoError(t, err)
	_, err = env.handler.GetOrder(ctx, bob, o.ID)
	assert.ErrorIs(t, err, order.ErrForbidden)
	_, err = env.handler.GetOrder(ctx, alice, "missing")
	assert.ErrorIs(t, err, order.ErrOrderNotFound)

	_, err = env.handler.OrderEvents(ctx, bob, o.ID)
	assert.ErrorIs(t, err, order.ErrForbidden)
	events, err := env.handler.OrderEvents(ctx, admin, o.ID)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, order.EventOrderPlaced, events[0].Type)
}

// ============================================
// Lifecycle Tests
// ============================================

func TestHandler_Lifecycle_PayShipComplete(t *testing.T) {
	env := newTestHandler()
	o := env.placeOrder(t, alice)
	ctx := context.Background()

	_, err := env.handler.ShipOrder(ctx, admin, o.ID)
	require.ErrorIs(t, err, order.ErrInvalidTransition)
	assert.Contains(t, err.Error(), "processing, cancelled")

	_, err = env.handler.PayOrder(ctx, alice, o.ID)
	require.NoError(t, err)
	_, err = env.handler.ShipOrder(ctx, admin, o.ID)
	require.NoError(t, err)
	done, err := env.handler.CompleteOrder(ctx, alice, o.ID)
	require.NoError(t, err)

	assert.Equal(t, order.StatusDelivered, done.Status)
	assert.NotNil(t, done.DeliveredAt)
	assert.Equal(t, 1.0, testutil.ToFloat64(env.metrics.Transitions.WithLabelValues("shipped", metrics.ResultRejected)))
	assert.Equal(t, 1.0, testutil.ToFloat64(env.metrics.Transitions.WithLabelValues("shipped", metrics.ResultOK)))
}

func TestHandler_CancelOrder_RestoresStock(t *testing.T) {
	env := newTestHandler()
	o := env.placeOrder(t, alice)

	cancelled, err := env.handler.CancelOrder(context.Background(), alice, o.ID)
	require.NoError(t, err)
	assert.Equal(t, order.StatusCancelled, cancelled.Status)
	assert.Equal(t, 10, env.catalog.Stock("prod-1"))
	assert.Equal(t, 5, env.catalog.Stock("prod-2"))
}

func TestHandler_SetOrderStatus_Unknown(t *testing.T) {
	env := newTestHandler()
	o := env.placeOrder(t, alice)

	_, err := env.handler.SetOrderStatus(context.Background(), admin, command.SetOrderStatus{OrderID: o.ID, Status: "teleported"})
	assert.ErrorIs(t, err, order.ErrInvalidTransition)
	assert.Equal(t, 1.0, testutil.ToFloat64(env.metrics.Transitions.WithLabelValues("unknown", metrics.ResultRejected)))
}

func TestHandler_ReconcileOrder(t *testing.T) {
	env := newTestHandler()
	o := env.placeOrder(t, alice)
	ctx := context.Background()

	env.catalog.AdjustHook = func(id string, delta int) error {
		return errors.New("catalog unavailable")
	}
	_, err := env.handler.CancelOrder(ctx, alice, o.ID)
	require.ErrorIs(t, err, order.ErrStockReleaseFailed)

	failed, err := env.handler.ListAllOrders(ctx, admin, command.ListAllOrders{Reservation: order.ReservationReleaseFailed})
	require.NoError(t, err)
	require.Len(t, failed, 1)

	env.catalog.AdjustHook = nil
	reconciled, err := env.handler.ReconcileOrder(ctx, admin, o.ID)
	require.NoError(t, err)
	assert.Equal(t, order.ReservationReleased, reconciled.Reservation)
	assert.Equal(t, 10, env.catalog.Stock("prod-1"))
}

// ============================================
// Listing Tests
// ============================================

func TestHandler_ListOrders_OnlyOwn(t *testing.T) {
	env := newTestHandler()
	env.placeOrder(t, alice)
	env.placeOrder(t, bob)
	ctx := context.Background()

	mine, err := env.handler.ListOrders(ctx, alice)
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, alice.UserID, mine[0].UserID)

	all, err := env.handler.ListAllOrders(ctx, admin, command.ListAllOrders{})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	pending, err := env.handler.ListAllOrders(ctx, admin, command.ListAllOrders{Status: order.StatusProcessing})
	require.NoError(t, err)
	assert.Empty(t, pending)
}
