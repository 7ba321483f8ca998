package product

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

var (
	ErrProductNotFound = errors.New("product not found")
	ErrStockExhausted  = errors.New("stock adjustment would make stock negative")
)

// Product is the slice of the catalog entry the order engine reads.
type Product struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Price decimal.Decimal `json:"price"`
	Stock int             `json:"stock"`
	Image string          `json:"image"`
}

// Gateway is the read-mostly view of the product catalog.
//
// AdjustStock must be atomic at the storage layer. A negative delta is only
// applied when the resulting stock stays non-negative; otherwise the stock is
// left unchanged and ErrStockExhausted is returned. It returns the stock
// value after the update.
type Gateway interface {
	Get(ctx context.Context, id string) (*Product, error)
	AdjustStock(ctx context.Context, id string, delta int) (int, error)
}
