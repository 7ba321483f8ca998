package mocks

import (
	"context"
	"slices"
	"sync"

	"github.com/example/ec-orders/internal/domain/cart"
)

// MockCartStore is an in-memory cart.Store
type MockCartStore struct {
	mu    sync.Mutex
	carts map[string][]cart.Item

	// For tracking calls in tests
	ClearCalls []string
	ItemsErr   error
	AddErr     error
	ClearErr   error
}

// NewMockCartStore creates a new MockCartStore
func NewMockCartStore() *MockCartStore {
	return &MockCartStore{carts: make(map[string][]cart.Item)}
}

func (m *MockCartStore) Items(ctx context.Context, userID string) ([]cart.Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.ItemsErr != nil {
		return nil, m.ItemsErr
	}
	return slices.Clone(m.carts[userID]), nil
}

func (m *MockCartStore) Add(ctx context.Context, userID string, item cart.Item) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.AddErr != nil {
		return m.AddErr
	}
	items := m.carts[userID]
	for i, existing := range items {
		if existing.ProductID == item.ProductID {
			item.Quantity += existing.Quantity
			items[i] = item
			return nil
		}
	}
	m.carts[userID] = append(items, item)
	return nil
}

func (m *MockCartStore) SetQuantity(ctx context.Context, userID, productID string, quantity int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i, existing := range m.carts[userID] {
		if existing.ProductID == productID {
			m.carts[userID][i].Quantity = quantity
			return nil
		}
	}
	return cart.ErrItemNotInCart
}

func (m *MockCartStore) Remove(ctx context.Context, userID, productID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.carts[userID] = slices.DeleteFunc(m.carts[userID], func(i cart.Item) bool {
		return i.ProductID == productID
	})
	return nil
}

func (m *MockCartStore) Clear(ctx context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.ClearCalls = append(m.ClearCalls, userID)
	if m.ClearErr != nil {
		return m.ClearErr
	}
	delete(m.carts, userID)
	return nil
}

// Seed replaces the user's cart.
func (m *MockCartStore) Seed(userID string, items ...cart.Item) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.carts[userID] = slices.Clone(items)
}
