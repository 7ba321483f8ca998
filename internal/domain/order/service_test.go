package order_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/example/ec-orders/internal/domain/inventory"
	"github.com/example/ec-orders/internal/domain/order"
	"github.com/example/ec-orders/internal/domain/product"
	"github.com/example/ec-orders/internal/infrastructure/store/mocks"
)

type testEnv struct {
	svc     *order.Service
	repo    *mocks.MockOrderRepository
	catalog *mocks.MockCatalog
	ledger  *inventory.Ledger
}

func newTestOrderService() *testEnv {
	catalog := mocks.NewMockCatalog(
		product.Product{ID: "prod-1", Name: "Mug", Price: decimal.NewFromInt(10), Stock: 10},
		product.Product{ID: "prod-2", Name: "Pen", Price: decimal.NewFromInt(5), Stock: 5},
	)
	ledger := inventory.NewLedger(catalog, nil)
	repo := mocks.NewMockOrderRepository()
	return &testEnv{
		svc:     order.NewService(repo, ledger, nil),
		repo:    repo,
		catalog: catalog,
		ledger:  ledger,
	}
}

// place reserves stock and persists a two-line order: 2 x prod-1, 1 x prod-2.
func (e *testEnv) place(t *testing.T) *order.Order {
	t.Helper()
	ctx := context.Background()

	o, err := order.New("user-123", []order.Item{
		{ProductID: "prod-1", Name: "Mug", Price: decimal.NewFromInt(10), Quantity: 2},
		{ProductID: "prod-2", Name: "Pen", Price: decimal.NewFromInt(5), Quantity: 1},
	}, order.ShippingAddress{Address: "1-1", City: "Tokyo", PostalCode: "100-0001", Country: "JP"}, "card", time.Now())
	require.NoError(t, err)
	require.NoError(t, e.ledger.Reserve(ctx, o.Lines()))
	require.NoError(t, e.svc.Place(ctx, o))
	return o
}

func requireTransitionError(t *testing.T, err error, from order.Status, allowed ...order.Status) {
	t.Helper()
	require.ErrorIs(t, err, order.ErrInvalidTransition)
	var te *order.TransitionError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, from, te.From)
	if len(allowed) == 0 {
		assert.Empty(t, te.Allowed)
		return
	}
	assert.Equal(t, allowed, te.Allowed)
}

// ============================================
// Place Tests
// ============================================

func TestService_Place_RecordsEvent(t *testing.T) {
	env := newTestOrderService()
	o := env.place(t)

	stored, err := env.svc.Get(context.Background(), o.ID)
	require.NoError(t, err)
	assert.Equal(t, order.StatusPending, stored.Status)
	assert.Equal(t, []string{order.EventOrderPlaced}, env.repo.EventTypes(o.ID))

	events, err := env.svc.Events(context.Background(), o.ID)
	require.NoError(t, err)
	require.Len(t, events, 1)
	var payload order.OrderPlaced
	require.NoError(t, json.Unmarshal(events[0].Data, &payload))
	assert.Equal(t, o.Number, payload.OrderNumber)
	assert.True(t, payload.TotalPrice.Equal(decimal.NewFromInt(25)))
}

func TestService_Place_StoreError(t *testing.T) {
	env := newTestOrderService()
	env.repo.CreateErr = errors.New("database error")

	o, err := order.New("user-123", []order.Item{{ProductID: "prod-1", Price: decimal.NewFromInt(10), Quantity: 1}}, order.ShippingAddress{}, "card", time.Now())
	require.NoError(t, err)

	err = env.svc.Place(context.Background(), o)
	assert.Error(t, err)
	assert.Equal(t, 0, env.repo.Count())
}

// ============================================
// Pay / Ship / Complete Tests
// ============================================

func TestService_Pay_FromPending_Success(t *testing.T) {
	env := newTestOrderService()
	o := env.place(t)

	paid, err := env.svc.Pay(context.Background(), o.ID, "user-123")
	require.NoError(t, err)
	assert.Equal(t, order.StatusProcessing, paid.Status)
	require.NotNil(t, paid.PaidAt)
	assert.Equal(t, []string{order.EventOrderPlaced, order.EventOrderPaid}, env.repo.EventTypes(o.ID))
}

func TestService_Pay_Twice(t *testing.T) {
	env := newTestOrderService()
	o := env.place(t)
	ctx := context.Background()

	paid, err := env.svc.Pay(ctx, o.ID, "user-123")
	require.NoError(t, err)

	_, err = env.svc.Pay(ctx, o.ID, "user-123")
	requireTransitionError(t, err, order.StatusProcessing, order.StatusShipped)

	stored, err := env.svc.Get(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, *paid.PaidAt, *stored.PaidAt)
}

func TestService_Pay_OrderNotFound(t *testing.T) {
	env := newTestOrderService()
	_, err := env.svc.Pay(context.Background(), "nonexistent", "user-123")
	assert.ErrorIs(t, err, order.ErrOrderNotFound)
}

func TestService_Ship_FromPending(t *testing.T) {
	env := newTestOrderService()
	o := env.place(t)

	_, err := env.svc.Ship(context.Background(), o.ID, "admin-1")
	requireTransitionError(t, err, order.StatusPending, order.StatusProcessing, order.StatusCancelled)
	assert.Contains(t, err.Error(), "processing, cancelled")
}

func TestOrderLifecycle_HappyPath(t *testing.T) {
	env := newTestOrderService()
	o := env.place(t)
	ctx := context.Background()

	_, err := env.svc.Pay(ctx, o.ID, "user-123")
	require.NoError(t, err)
	_, err = env.svc.Ship(ctx, o.ID, "admin-1")
	require.NoError(t, err)
	delivered, err := env.svc.Complete(ctx, o.ID, "user-123")
	require.NoError(t, err)

	assert.Equal(t, order.StatusDelivered, delivered.Status)
	assert.NotNil(t, delivered.PaidAt)
	assert.NotNil(t, delivered.DeliveredAt)
	assert.Equal(t, []string{
		order.EventOrderPlaced,
		order.EventOrderPaid,
		order.EventOrderShipped,
		order.EventOrderDelivered,
	}, env.repo.EventTypes(o.ID))

	_, err = env.svc.Cancel(ctx, o.ID, "user-123")
	requireTransitionError(t, err, order.StatusDelivered)

	// Delivered orders keep their stock.
	assert.Equal(t, 8, env.catalog.Stock("prod-1"))
}

func TestService_Complete_FromProcessing(t *testing.T) {
	env := newTestOrderService()
	o := env.place(t)
	ctx := context.Background()

	_, err := env.svc.Pay(ctx, o.ID, "user-123")
	require.NoError(t, err)

	_, err = env.svc.Complete(ctx, o.ID, "user-123")
	requireTransitionError(t, err, order.StatusProcessing, order.StatusShipped)
}

// ============================================
// Cancel Tests
// ============================================

func TestService_Cancel_RestoresStock(t *testing.T) {
	env := newTestOrderService()
	o := env.place(t)
	ctx := context.Background()
	require.Equal(t, 8, env.catalog.Stock("prod-1"))
	require.Equal(t, 4, env.catalog.Stock("prod-2"))

	cancelled, err := env.svc.Cancel(ctx, o.ID, "user-123")
	require.NoError(t, err)

	assert.Equal(t, order.StatusCancelled, cancelled.Status)
	assert.Equal(t, order.ReservationReleased, cancelled.Reservation)
	assert.Equal(t, 10, env.catalog.Stock("prod-1"))
	assert.Equal(t, 5, env.catalog.Stock("prod-2"))
	assert.Equal(t, []string{
		order.EventOrderPlaced,
		order.EventOrderCancelled,
		order.EventStockReleased,
	}, env.repo.EventTypes(o.ID))
}

func TestService_Cancel_FromProcessing(t *testing.T) {
	env := newTestOrderService()
	o := env.place(t)
	ctx := context.Background()

	_, err := env.svc.Pay(ctx, o.ID, "user-123")
	require.NoError(t, err)

	_, err = env.svc.Cancel(ctx, o.ID, "user-123")
	requireTransitionError(t, err, order.StatusProcessing, order.StatusShipped)
	assert.Equal(t, 8, env.catalog.Stock("prod-1"))
}

func TestService_Cancel_Twice_ReleasesOnce(t *testing.T) {
	env := newTestOrderService()
	o := env.place(t)
	ctx := context.Background()

	_, err := env.svc.Cancel(ctx, o.ID, "user-123")
	require.NoError(t, err)
	_, err = env.svc.Cancel(ctx, o.ID, "user-123")
	requireTransitionError(t, err, order.StatusCancelled)

	assert.Equal(t, 10, env.catalog.Stock("prod-1"))
}

func TestService_Cancel_ReleaseFails(t *testing.T) {
	env := newTestOrderService()
	o := env.place(t)
	ctx := context.Background()

	env.catalog.AdjustHook = func(id string, delta int) error {
		if id == "prod-2" {
			return errors.New("connection reset")
		}
		return nil
	}

	_, err := env.svc.Cancel(ctx, o.ID, "user-123")
	require.ErrorIs(t, err, order.ErrStockReleaseFailed)

	var relErr *order.ReleaseError
	require.True(t, errors.As(err, &relErr))
	require.Len(t, relErr.Pending, 1)
	assert.Equal(t, "prod-2", relErr.Pending[0].ProductID)

	stored, err := env.svc.Get(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, order.StatusCancelled, stored.Status)
	assert.Equal(t, order.ReservationReleaseFailed, stored.Reservation)
	assert.Equal(t, 10, env.catalog.Stock("prod-1"))
	assert.Equal(t, 4, env.catalog.Stock("prod-2"))
	assert.Equal(t, order.EventStockReleaseFailed, env.repo.EventTypes(o.ID)[2])

	listed, err := env.svc.List(ctx, order.ListFilter{Reservation: order.ReservationReleaseFailed})
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.Equal(t, o.ID, listed[0].ID)
}

// ============================================
// Reconcile Tests
// ============================================

func TestService_Reconcile_ReleasesOnlyPendingLines(t *testing.T) {
	env := newTestOrderService()
	o := env.place(t)
	ctx := context.Background()

	env.catalog.AdjustHook = func(id string, delta int) error {
		if id == "prod-2" {
			return errors.New("connection reset")
		}
		return nil
	}
	_, err := env.svc.Cancel(ctx, o.ID, "user-123")
	require.Error(t, err)

	env.catalog.AdjustHook = nil
	reconciled, err := env.svc.Reconcile(ctx, o.ID, "admin-1")
	require.NoError(t, err)

	assert.Equal(t, order.ReservationReleased, reconciled.Reservation)
	assert.Equal(t, 10, env.catalog.Stock("prod-1"))
	assert.Equal(t, 5, env.catalog.Stock("prod-2"))

	_, err = env.svc.Reconcile(ctx, o.ID, "admin-1")
	assert.ErrorIs(t, err, order.ErrNothingToReconcile)
	assert.Equal(t, 10, env.catalog.Stock("prod-1"))
}

func TestService_Reconcile_FailsAgain(t *testing.T) {
	env := newTestOrderService()
	o := env.place(t)
	ctx := context.Background()

	env.catalog.AdjustHook = func(id string, delta int) error {
		return errors.New("catalog unavailable")
	}
	_, err := env.svc.Cancel(ctx, o.ID, "user-123")
	require.Error(t, err)

	_, err = env.svc.Reconcile(ctx, o.ID, "admin-1")
	require.ErrorIs(t, err, order.ErrStockReleaseFailed)

	stored, err := env.svc.Get(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, order.ReservationReleaseFailed, stored.Reservation)

	env.catalog.AdjustHook = nil
	_, err = env.svc.Reconcile(ctx, o.ID, "admin-1")
	require.NoError(t, err)
	assert.Equal(t, 10, env.catalog.Stock("prod-1"))
	assert.Equal(t, 5, env.catalog.Stock("prod-2"))
}

func TestService_Cancel_ReleaseAndMarkerFail_LeavesPendingForReconcile(t *testing.T) {
	env := newTestOrderService()
	o := env.place(t)
	ctx := context.Background()

	env.catalog.AdjustHook = func(id string, delta int) error {
		return errors.New("catalog unavailable")
	}
	env.repo.SetReservationErr = errors.New("connection reset")

	_, err := env.svc.Cancel(ctx, o.ID, "user-123")
	require.ErrorIs(t, err, order.ErrStockReleaseFailed)

	stored, err := env.svc.Get(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, order.StatusCancelled, stored.Status)
	assert.Equal(t, order.ReservationReleasePending, stored.Reservation)
	assert.Equal(t, 8, env.catalog.Stock("prod-1"))

	listed, err := env.svc.List(ctx, order.ListFilter{Reservation: order.ReservationReleasePending})
	require.NoError(t, err)
	require.Len(t, listed, 1)

	env.catalog.AdjustHook = nil
	env.repo.SetReservationErr = nil

	_, err = env.svc.Reconcile(ctx, o.ID, "admin-1")
	require.ErrorIs(t, err, order.ErrReleaseInProgress)
	assert.Equal(t, 8, env.catalog.Stock("prod-1"))

	env.svc.SetClock(func() time.Time { return time.Now().Add(order.ReleaseGrace + time.Second) })
	reconciled, err := env.svc.Reconcile(ctx, o.ID, "admin-1")
	require.NoError(t, err)

	assert.Equal(t, order.ReservationReleased, reconciled.Reservation)
	assert.Equal(t, 10, env.catalog.Stock("prod-1"))
	assert.Equal(t, 5, env.catalog.Stock("prod-2"))
	assert.Equal(t, []string{
		order.EventOrderPlaced,
		order.EventOrderCancelled,
		order.EventStockReleaseRetry,
		order.EventStockReleased,
	}, env.repo.EventTypes(o.ID))

	_, err = env.svc.Reconcile(ctx, o.ID, "admin-1")
	assert.ErrorIs(t, err, order.ErrNothingToReconcile)
}

func TestService_Cancel_WritesPendingMarkerWithStatus(t *testing.T) {
	env := newTestOrderService()
	o := env.place(t)

	_, err := env.svc.Cancel(context.Background(), o.ID, "user-123")
	require.NoError(t, err)

	require.Len(t, env.repo.TransitionCalls, 1)
	assert.Equal(t, order.ReservationReleasePending, env.repo.TransitionCalls[0].Reservation)
	require.NotEmpty(t, env.repo.ReservationCalls)
	assert.Equal(t, order.ReservationReleasePending, env.repo.ReservationCalls[0].From)
}

func TestService_Reconcile_ClaimLostToConcurrentReconcile(t *testing.T) {
	env := newTestOrderService()
	o := env.place(t)
	ctx := context.Background()

	env.catalog.AdjustHook = func(id string, delta int) error {
		return errors.New("catalog unavailable")
	}
	_, err := env.svc.Cancel(ctx, o.ID, "user-123")
	require.Error(t, err)
	env.catalog.AdjustHook = nil

	var g errgroup.Group
	for range 4 {
		g.Go(func() error {
			_, _ = env.svc.Reconcile(ctx, o.ID, "admin-1")
			return nil
		})
	}
	require.NoError(t, g.Wait())

	assert.Equal(t, 10, env.catalog.Stock("prod-1"))
	assert.Equal(t, 5, env.catalog.Stock("prod-2"))
}

func TestService_Reconcile_NothingPending(t *testing.T) {
	env := newTestOrderService()
	o := env.place(t)

	_, err := env.svc.Reconcile(context.Background(), o.ID, "admin-1")
	assert.ErrorIs(t, err, order.ErrNothingToReconcile)
}

// ============================================
// SetStatus Tests
// ============================================

func TestService_SetStatus_FollowsTable(t *testing.T) {
	env := newTestOrderService()
	o := env.place(t)
	ctx := context.Background()

	_, err := env.svc.SetStatus(ctx, o.ID, order.StatusDelivered, "admin-1")
	requireTransitionError(t, err, order.StatusPending, order.StatusProcessing, order.StatusCancelled)

	_, err = env.svc.SetStatus(ctx, o.ID, order.Status("teleported"), "admin-1")
	assert.ErrorIs(t, err, order.ErrInvalidTransition)

	updated, err := env.svc.SetStatus(ctx, o.ID, order.StatusProcessing, "admin-1")
	require.NoError(t, err)
	assert.NotNil(t, updated.PaidAt)
}

func TestService_SetStatus_CancelReleasesStock(t *testing.T) {
	env := newTestOrderService()
	o := env.place(t)

	_, err := env.svc.SetStatus(context.Background(), o.ID, order.StatusCancelled, "admin-1")
	require.NoError(t, err)
	assert.Equal(t, 10, env.catalog.Stock("prod-1"))
	assert.Equal(t, 5, env.catalog.Stock("prod-2"))
}

// ============================================
// Concurrency Tests
// ============================================

func TestService_Transition_LostRace(t *testing.T) {
	env := newTestOrderService()
	o := env.place(t)
	ctx := context.Background()

	// A cancellation lands between our read and our write.
	env.repo.TransitionHook = func(change order.StatusChange) error {
		env.repo.TransitionHook = nil
		current, err := env.repo.Get(ctx, change.OrderID)
		require.NoError(t, err)
		current.Status = order.StatusCancelled
		env.repo.Put(*current)
		return nil
	}

	_, err := env.svc.Pay(ctx, o.ID, "user-123")
	requireTransitionError(t, err, order.StatusCancelled)
}

func TestService_ConcurrentPay_OneWins(t *testing.T) {
	env := newTestOrderService()
	o := env.place(t)
	ctx := context.Background()

	const n = 8
	results := make([]error, n)
	var g errgroup.Group
	for i := range results {
		g.Go(func() error {
			_, results[i] = env.svc.Pay(ctx, o.ID, "user-123")
			return nil
		})
	}
	require.NoError(t, g.Wait())

	var ok, invalid int
	for _, err := range results {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, order.ErrInvalidTransition):
			invalid++
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, n-1, invalid)
}

func TestService_ConcurrentCancel_ReleasesOnce(t *testing.T) {
	env := newTestOrderService()
	o := env.place(t)
	ctx := context.Background()

	var g errgroup.Group
	for range 4 {
		g.Go(func() error {
			_, _ = env.svc.Cancel(ctx, o.ID, "user-123")
			return nil
		})
	}
	require.NoError(t, g.Wait())

	assert.Equal(t, 10, env.catalog.Stock("prod-1"))
	assert.Equal(t, 5, env.catalog.Stock("prod-2"))
}

func TestService_Events_OrderNotFound(t *testing.T) {
	env := newTestOrderService()
	_, err := env.svc.Events(context.Background(), "missing")
	assert.ErrorIs(t, err, order.ErrOrderNotFound)
}
