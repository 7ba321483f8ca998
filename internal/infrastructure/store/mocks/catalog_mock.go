package mocks

import (
	"context"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/example/ec-orders/internal/domain/product"
)

// MockCatalog is an in-memory product.Gateway. AdjustStock is serialized by
// a mutex so it behaves like a conditional row update.
type MockCatalog struct {
	mu       sync.Mutex
	products map[string]product.Product

	// For tracking calls in tests
	AdjustCalls []AdjustCall
	GetErr      error
	// AdjustHook runs before every adjustment; a non-nil error aborts it.
	AdjustHook func(id string, delta int) error
}

// AdjustCall records parameters passed to AdjustStock
type AdjustCall struct {
	ProductID string
	Delta     int
}

// NewMockCatalog creates a MockCatalog seeded with products
func NewMockCatalog(products ...product.Product) *MockCatalog {
	m := &MockCatalog{products: make(map[string]product.Product, len(products))}
	for _, p := range products {
		m.products[p.ID] = p
	}
	return m
}

// Get returns a copy of the product
func (m *MockCatalog) Get(_ context.Context, id string) (*product.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.GetErr != nil {
		return nil, m.GetErr
	}
	p, ok := m.products[id]
	if !ok {
		return nil, product.ErrProductNotFound
	}
	return &p, nil
}

// AdjustStock applies delta unless it would make stock negative
func (m *MockCatalog) AdjustStock(_ context.Context, id string, delta int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.AdjustCalls = append(m.AdjustCalls, AdjustCall{ProductID: id, Delta: delta})
	if m.AdjustHook != nil {
		if err := m.AdjustHook(id, delta); err != nil {
			return 0, err
		}
	}

	p, ok := m.products[id]
	if !ok {
		return 0, product.ErrProductNotFound
	}
	if p.Stock+delta < 0 {
		return p.Stock, product.ErrStockExhausted
	}
	p.Stock += delta
	m.products[id] = p
	return p.Stock, nil
}

// Stock returns the current stock of a product, or -1 if unknown
func (m *MockCatalog) Stock(id string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.products[id]
	if !ok {
		return -1
	}
	return p.Stock
}

// SetPrice changes a product's catalog price
func (m *MockCatalog) SetPrice(id string, price decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := m.products[id]
	p.Price = price
	m.products[id] = p
}
