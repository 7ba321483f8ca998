package store

import (
	"context"
	"database/sql"

	"github.com/go-faster/errors"

	"github.com/example/ec-orders/internal/domain/product"
)

var _ product.Gateway = (*PostgresCatalog)(nil)

// PostgresCatalog reads products and adjusts their stock in place.
type PostgresCatalog struct {
	db *sql.DB
}

func NewPostgresCatalog(db *sql.DB) *PostgresCatalog {
	return &PostgresCatalog{db: db}
}

func (c *PostgresCatalog) Get(ctx context.Context, id string) (*product.Product, error) {
	var p product.Product
	err := c.db.QueryRowContext(ctx,
		`SELECT id, name, price, stock, image FROM products WHERE id = $1`,
		id,
	).Scan(&p.ID, &p.Name, &p.Price, &p.Stock, &p.Image)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, product.ErrProductNotFound
	}
	if err != nil {
		return nil, errors.Wrapf(err, "get product %s", id)
	}
	return &p, nil
}

// AdjustStock adds delta to the product's stock in a single conditional
// statement. The row is left unchanged if the result would be negative.
func (c *PostgresCatalog) AdjustStock(ctx context.Context, id string, delta int) (int, error) {
	var stock int
	err := c.db.QueryRowContext(ctx,
		`UPDATE products
		 SET stock = stock + $2, updated_at = now()
		 WHERE id = $1 AND stock + $2 >= 0
		 RETURNING stock`,
		id,
		delta,
	).Scan(&stock)
	if errors.Is(err, sql.ErrNoRows) {
		if _, getErr := c.Get(ctx, id); getErr != nil {
			return 0, getErr
		}
		return 0, product.ErrStockExhausted
	}
	if err != nil {
		return 0, errors.Wrapf(err, "adjust stock of %s", id)
	}
	return stock, nil
}
