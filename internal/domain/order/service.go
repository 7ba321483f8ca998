package order

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-faster/errors"
	"go.uber.org/zap"

	"github.com/example/ec-orders/internal/domain/inventory"
)

// StockReleaser returns reserved stock to the catalog.
type StockReleaser interface {
	Release(ctx context.Context, lines []inventory.Line) error
}

// ReleaseError reports a cancellation or reconciliation whose stock release
// did not complete. Pending is what is still held and was recorded on the
// order for reconciliation.
type ReleaseError struct {
	OrderID string
	Pending []inventory.Line
	Err     error
}

func (e *ReleaseError) Error() string {
	return "order " + e.OrderID + ": " + ErrStockReleaseFailed.Error() + ": " + e.Err.Error()
}

func (e *ReleaseError) Is(target error) bool { return target == ErrStockReleaseFailed }

func (e *ReleaseError) Unwrap() error { return e.Err }

// Service owns the order state machine. Every status change is a
// compare-and-set in the repository, so concurrent requests against the
// same order cannot both succeed.
type Service struct {
	orders Repository
	stock  StockReleaser
	lg     *zap.Logger
	now    func() time.Time
}

// ReleaseGrace is how long a cancelled order may sit in release_pending
// before reconciliation treats its release as abandoned.
const ReleaseGrace = time.Minute

func NewService(orders Repository, stock StockReleaser, lg *zap.Logger) *Service {
	if lg == nil {
		lg = zap.NewNop()
	}
	return &Service{
		orders: orders,
		stock:  stock,
		lg:     lg,
		now:    time.Now,
	}
}

// Place persists a freshly built order with its OrderPlaced event. Stock
// must already be reserved.
func (s *Service) Place(ctx context.Context, o *Order) error {
	ev, err := NewEvent(o.ID, EventOrderPlaced, OrderPlaced{
		OrderID:     o.ID,
		OrderNumber: o.Number,
		UserID:      o.UserID,
		Items:       o.Items,
		TotalPrice:  o.TotalPrice,
		PlacedAt:    o.CreatedAt,
	}, o.CreatedAt)
	if err != nil {
		return err
	}
	if err := s.orders.Create(ctx, o, ev); err != nil {
		return errors.Wrap(err, "create order")
	}
	return nil
}

func (s *Service) Get(ctx context.Context, id string) (*Order, error) {
	return s.orders.Get(ctx, id)
}

func (s *Service) List(ctx context.Context, filter ListFilter) ([]Order, error) {
	return s.orders.List(ctx, filter)
}

func (s *Service) Events(ctx context.Context, orderID string) ([]Event, error) {
	if _, err := s.orders.Get(ctx, orderID); err != nil {
		return nil, err
	}
	return s.orders.Events(ctx, orderID)
}

// Pay moves a pending order to processing and stamps paid_at.
func (s *Service) Pay(ctx context.Context, id, actor string) (*Order, error) {
	return s.transition(ctx, id, StatusProcessing, actor)
}

func (s *Service) Ship(ctx context.Context, id, actor string) (*Order, error) {
	return s.transition(ctx, id, StatusShipped, actor)
}

// Complete marks a shipped order delivered and stamps delivered_at.
func (s *Service) Complete(ctx context.Context, id, actor string) (*Order, error) {
	return s.transition(ctx, id, StatusDelivered, actor)
}

// Cancel cancels a pending order and returns its stock. The cancellation
// and the release_pending marker are written together, so a release that
// never completes stays visible to Reconcile. The cancellation stands even
// if the release fails; the failure is recorded on the order and a
// *ReleaseError is returned.
func (s *Service) Cancel(ctx context.Context, id, actor string) (*Order, error) {
	return s.transition(ctx, id, StatusCancelled, actor)
}

// SetStatus applies an arbitrary target status, with the same table and
// side effects as the dedicated operations.
func (s *Service) SetStatus(ctx context.Context, id string, to Status, actor string) (*Order, error) {
	return s.transition(ctx, id, to, actor)
}

func (s *Service) transition(ctx context.Context, id string, to Status, actor string) (*Order, error) {
	o, err := s.orders.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !CanTransition(o.Status, to) {
		return nil, newTransitionError(o.Status, to)
	}

	now := s.now().UTC()
	change := StatusChange{
		OrderID: o.ID,
		From:    o.Status,
		To:      to,
		At:      now,
	}
	switch to {
	case StatusProcessing:
		change.PaidAt = &now
	case StatusDelivered:
		change.DeliveredAt = &now
	case StatusCancelled:
		change.Reservation = ReservationReleasePending
	}
	change.Event, err = NewEvent(o.ID, transitionEvents[to], StatusChanged{
		OrderID:     o.ID,
		OrderNumber: o.Number,
		UserID:      o.UserID,
		From:        o.Status,
		To:          to,
		Actor:       actor,
		ChangedAt:   now,
	}, now)
	if err != nil {
		return nil, err
	}

	updated, err := s.orders.Transition(ctx, change)
	if errors.Is(err, ErrStatusConflict) {
		// Another request moved the order first; report against what it is now.
		current, getErr := s.orders.Get(ctx, id)
		if getErr != nil {
			return nil, getErr
		}
		return nil, newTransitionError(current.Status, to)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "transition order %s to %s", id, to)
	}

	s.lg.Info("Order status changed",
		zap.String("order_id", id),
		zap.String("from", string(change.From)),
		zap.String("to", string(to)),
		zap.String("actor", actor),
	)

	if to == StatusCancelled {
		return s.releaseStock(ctx, updated, updated.Lines())
	}
	return updated, nil
}

// releaseStock returns lines to the catalog for an order the caller has
// moved to release_pending, and records the outcome. If neither outcome can
// be recorded the order stays in release_pending for Reconcile.
func (s *Service) releaseStock(ctx context.Context, o *Order, lines []inventory.Line) (*Order, error) {
	now := s.now().UTC()
	if err := s.stock.Release(ctx, lines); err != nil {
		return nil, s.recordReleaseFailure(ctx, o, lines, err, now)
	}

	ev, err := NewEvent(o.ID, EventStockReleased, StockReleased{
		OrderID:    o.ID,
		Lines:      lines,
		ReleasedAt: now,
	}, now)
	if err != nil {
		return nil, err
	}
	if err := s.orders.SetReservation(ctx, ReservationChange{
		OrderID: o.ID,
		From:    o.Reservation,
		To:      ReservationReleased,
		At:      now,
		Event:   ev,
	}); err != nil {
		// Stock is back in the catalog; only the marker is stale.
		s.lg.Error("Failed to mark reservation released",
			zap.String("order_id", o.ID),
			zap.Error(err),
		)
		return o, nil
	}
	o.Reservation = ReservationReleased
	o.UpdatedAt = now
	return o, nil
}

func (s *Service) recordReleaseFailure(ctx context.Context, o *Order, lines []inventory.Line, cause error, now time.Time) error {
	pending := lines
	var partial *inventory.PartialError
	if errors.As(cause, &partial) {
		pending = partial.Pending
	}
	relErr := &ReleaseError{OrderID: o.ID, Pending: pending, Err: cause}

	s.lg.Error("Stock release failed",
		zap.String("order_id", o.ID),
		zap.Any("pending", pending),
		zap.Error(cause),
	)

	ev, err := NewEvent(o.ID, EventStockReleaseFailed, StockReleaseFailed{
		OrderID:  o.ID,
		Pending:  pending,
		Reason:   cause.Error(),
		FailedAt: now,
	}, now)
	if err != nil {
		return relErr
	}
	if err := s.orders.SetReservation(ctx, ReservationChange{
		OrderID: o.ID,
		From:    o.Reservation,
		To:      ReservationReleaseFailed,
		At:      now,
		Event:   ev,
	}); err != nil {
		s.lg.Error("Failed to record stock release failure",
			zap.String("order_id", o.ID),
			zap.Error(err),
		)
	}
	return relErr
}

// Reconcile retries the stock release of a cancelled order whose earlier
// release failed or never finished. Only the lines still pending are
// released. An order in release_pending is left alone until ReleaseGrace
// has passed since its cancellation.
func (s *Service) Reconcile(ctx context.Context, id, actor string) (*Order, error) {
	o, err := s.orders.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !o.Reservation.Reconcilable() {
		return nil, ErrNothingToReconcile
	}
	if o.Reservation == ReservationReleasePending && s.now().Sub(o.UpdatedAt) < ReleaseGrace {
		return nil, ErrReleaseInProgress
	}

	pending, err := s.pendingRelease(ctx, o)
	if err != nil {
		return nil, err
	}

	// Claim the order before touching stock. Since pins the claim to the
	// state read above, so of two concurrent reconciliations only one
	// releases.
	now := s.now().UTC()
	ev, err := NewEvent(o.ID, EventStockReleaseRetry, StockReleaseRetried{
		OrderID:   o.ID,
		Lines:     pending,
		Actor:     actor,
		RetriedAt: now,
	}, now)
	if err != nil {
		return nil, err
	}
	from := o.Reservation
	err = s.orders.SetReservation(ctx, ReservationChange{
		OrderID: o.ID,
		From:    from,
		To:      ReservationReleasePending,
		Since:   o.UpdatedAt,
		At:      now,
		Event:   ev,
	})
	if errors.Is(err, ErrStatusConflict) {
		return nil, ErrReleaseInProgress
	}
	if err != nil {
		return nil, errors.Wrap(err, "claim reservation")
	}
	o.Reservation = ReservationReleasePending
	o.UpdatedAt = now

	released, err := s.releaseStock(ctx, o, pending)
	if err != nil {
		return nil, err
	}

	s.lg.Info("Reservation reconciled",
		zap.String("order_id", o.ID),
		zap.String("actor", actor),
		zap.String("from", string(from)),
		zap.Int("lines", len(pending)),
	)
	return released, nil
}

// pendingRelease returns the lines named by the latest StockReleaseFailed or
// StockReleaseRetried event, or every line of the order if neither was
// recorded.
func (s *Service) pendingRelease(ctx context.Context, o *Order) ([]inventory.Line, error) {
	events, err := s.orders.Events(ctx, o.ID)
	if err != nil {
		return nil, errors.Wrap(err, "load events")
	}
	for i := len(events) - 1; i >= 0; i-- {
		var lines []inventory.Line
		switch events[i].Type {
		case EventStockReleaseFailed:
			var payload StockReleaseFailed
			if err := json.Unmarshal(events[i].Data, &payload); err != nil {
				return nil, errors.Wrap(err, "decode release failure")
			}
			lines = payload.Pending
		case EventStockReleaseRetry:
			var payload StockReleaseRetried
			if err := json.Unmarshal(events[i].Data, &payload); err != nil {
				return nil, errors.Wrap(err, "decode release retry")
			}
			lines = payload.Lines
		default:
			continue
		}
		if len(lines) > 0 {
			return lines, nil
		}
		break
	}
	return o.Lines(), nil
}
