package store

import (
	"context"
	"database/sql"

	"github.com/go-faster/errors"

	"github.com/example/ec-orders/internal/domain/cart"
)

var _ cart.Store = (*PostgresCartStore)(nil)

type PostgresCartStore struct {
	db *sql.DB
}

func NewPostgresCartStore(db *sql.DB) *PostgresCartStore {
	return &PostgresCartStore{db: db}
}

func (s *PostgresCartStore) Items(ctx context.Context, userID string) ([]cart.Item, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT product_id, name, price, quantity, image
		 FROM cart_items
		 WHERE user_id = $1
		 ORDER BY added_at ASC, product_id ASC`,
		userID,
	)
	if err != nil {
		return nil, errors.Wrap(err, "query cart")
	}
	defer rows.Close()

	var items []cart.Item
	for rows.Next() {
		var item cart.Item
		if err := rows.Scan(&item.ProductID, &item.Name, &item.Price, &item.Quantity, &item.Image); err != nil {
			return nil, errors.Wrap(err, "scan cart item")
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func (s *PostgresCartStore) Add(ctx context.Context, userID string, item cart.Item) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO cart_items (user_id, product_id, name, price, quantity, image)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (user_id, product_id) DO UPDATE
		 SET quantity = cart_items.quantity + EXCLUDED.quantity,
		     name = EXCLUDED.name,
		     price = EXCLUDED.price,
		     image = EXCLUDED.image`,
		userID,
		item.ProductID,
		item.Name,
		item.Price,
		item.Quantity,
		item.Image,
	)
	return err
}

func (s *PostgresCartStore) SetQuantity(ctx context.Context, userID, productID string, quantity int) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE cart_items SET quantity = $3 WHERE user_id = $1 AND product_id = $2`,
		userID,
		productID,
		quantity,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "rows affected")
	}
	if n == 0 {
		return cart.ErrItemNotInCart
	}
	return nil
}

func (s *PostgresCartStore) Remove(ctx context.Context, userID, productID string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM cart_items WHERE user_id = $1 AND product_id = $2`,
		userID,
		productID,
	)
	return err
}

func (s *PostgresCartStore) Clear(ctx context.Context, userID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM cart_items WHERE user_id = $1`, userID)
	return err
}
