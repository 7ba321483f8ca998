package mocks

import (
	"context"
	"slices"
	"sort"
	"sync"

	"github.com/example/ec-orders/internal/domain/order"
)

// MockOrderRepository is an in-memory order.Repository with the same
// compare-and-set semantics as the Postgres implementation.
type MockOrderRepository struct {
	mu     sync.Mutex
	orders map[string]order.Order
	events []order.Event
	seq    int64

	// For tracking calls in tests
	CreateCalls      []string
	TransitionCalls  []order.StatusChange
	ReservationCalls []order.ReservationChange

	CreateErr         error
	GetErr            error
	SetReservationErr error
	// TransitionHook runs before the compare-and-set; a non-nil error aborts it.
	TransitionHook func(change order.StatusChange) error
}

// NewMockOrderRepository creates a new MockOrderRepository
func NewMockOrderRepository() *MockOrderRepository {
	return &MockOrderRepository{orders: make(map[string]order.Order)}
}

func (m *MockOrderRepository) Create(ctx context.Context, o *order.Order, event order.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.CreateCalls = append(m.CreateCalls, o.ID)
	if m.CreateErr != nil {
		return m.CreateErr
	}
	m.orders[o.ID] = cloneOrder(*o)
	m.appendEvent(event)
	return nil
}

func (m *MockOrderRepository) Get(ctx context.Context, id string) (*order.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.GetErr != nil {
		return nil, m.GetErr
	}
	o, ok := m.orders[id]
	if !ok {
		return nil, order.ErrOrderNotFound
	}
	c := cloneOrder(o)
	return &c, nil
}

func (m *MockOrderRepository) List(ctx context.Context, filter order.ListFilter) ([]order.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []order.Order
	for _, o := range m.orders {
		if filter.UserID != "" && o.UserID != filter.UserID {
			continue
		}
		if filter.Status != "" && o.Status != filter.Status {
			continue
		}
		if filter.Reservation != "" && o.Reservation != filter.Reservation {
			continue
		}
		out = append(out, cloneOrder(o))
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (m *MockOrderRepository) Transition(ctx context.Context, change order.StatusChange) (*order.Order, error) {
	m.mu.Lock()
	m.TransitionCalls = append(m.TransitionCalls, change)
	hook := m.TransitionHook
	m.mu.Unlock()

	if hook != nil {
		if err := hook(change); err != nil {
			return nil, err
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	o, ok := m.orders[change.OrderID]
	if !ok {
		return nil, order.ErrOrderNotFound
	}
	if o.Status != change.From {
		return nil, order.ErrStatusConflict
	}
	o.Status = change.To
	if change.Reservation != "" {
		o.Reservation = change.Reservation
	}
	if change.PaidAt != nil {
		o.PaidAt = change.PaidAt
	}
	if change.DeliveredAt != nil {
		o.DeliveredAt = change.DeliveredAt
	}
	o.UpdatedAt = change.At
	m.orders[o.ID] = o
	m.appendEvent(change.Event)

	c := cloneOrder(o)
	return &c, nil
}

func (m *MockOrderRepository) SetReservation(ctx context.Context, change order.ReservationChange) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.ReservationCalls = append(m.ReservationCalls, change)
	if m.SetReservationErr != nil {
		return m.SetReservationErr
	}
	o, ok := m.orders[change.OrderID]
	if !ok {
		return order.ErrOrderNotFound
	}
	if o.Reservation != change.From {
		return order.ErrStatusConflict
	}
	if !change.Since.IsZero() && !o.UpdatedAt.Equal(change.Since) {
		return order.ErrStatusConflict
	}
	o.Reservation = change.To
	o.UpdatedAt = change.At
	m.orders[o.ID] = o
	m.appendEvent(change.Event)
	return nil
}

func (m *MockOrderRepository) Events(ctx context.Context, orderID string) ([]order.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []order.Event
	for _, e := range m.events {
		if e.OrderID == orderID {
			out = append(out, e)
		}
	}
	return out, nil
}

// Put stores o directly, bypassing Create.
func (m *MockOrderRepository) Put(o order.Order) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.orders[o.ID] = cloneOrder(o)
}

// Count returns the number of stored orders.
func (m *MockOrderRepository) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.orders)
}

// EventTypes returns the types of every event recorded for orderID in order.
func (m *MockOrderRepository) EventTypes(orderID string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	var types []string
	for _, e := range m.events {
		if e.OrderID == orderID {
			types = append(types, e.Type)
		}
	}
	return types
}

func (m *MockOrderRepository) appendEvent(e order.Event) {
	m.seq++
	e.Seq = m.seq
	m.events = append(m.events, e)
}

func cloneOrder(o order.Order) order.Order {
	o.Items = slices.Clone(o.Items)
	return o
}
