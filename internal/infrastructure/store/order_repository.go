package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/go-faster/errors"

	"github.com/example/ec-orders/internal/domain/order"
)

var _ order.Repository = (*PostgresOrderRepository)(nil)

const orderColumns = `id, order_number, user_id, items, total_price, status, reservation,
	shipping_address, payment_method, paid_at, delivered_at, created_at, updated_at`

// PostgresOrderRepository stores orders in the orders table and their events
// in order_events. Every mutation writes both in one transaction, which makes
// order_events the outbox read by the relay.
type PostgresOrderRepository struct {
	db *sql.DB
}

func NewPostgresOrderRepository(db *sql.DB) *PostgresOrderRepository {
	return &PostgresOrderRepository{db: db}
}

func (r *PostgresOrderRepository) Create(ctx context.Context, o *order.Order, event order.Event) error {
	items, err := json.Marshal(o.Items)
	if err != nil {
		return errors.Wrap(err, "marshal items")
	}
	addr, err := json.Marshal(o.ShippingAddress)
	if err != nil {
		return errors.Wrap(err, "marshal shipping address")
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin")
	}
	defer rollback(tx)

	_, err = tx.ExecContext(ctx,
		`INSERT INTO orders (`+orderColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		o.ID,
		o.Number,
		o.UserID,
		string(items),
		o.TotalPrice,
		o.Status,
		o.Reservation,
		string(addr),
		o.PaymentMethod,
		o.PaidAt,
		o.DeliveredAt,
		o.CreatedAt,
		o.UpdatedAt,
	)
	if err != nil {
		return errors.Wrap(err, "insert order")
	}
	if err := insertEvent(ctx, tx, event); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "commit")
	}
	return nil
}

func (r *PostgresOrderRepository) Get(ctx context.Context, id string) (*order.Order, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id)
	o, err := scanOrder(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, order.ErrOrderNotFound
	}
	if err != nil {
		return nil, errors.Wrapf(err, "get order %s", id)
	}
	return o, nil
}

func (r *PostgresOrderRepository) List(ctx context.Context, filter order.ListFilter) ([]order.Order, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+orderColumns+`
		 FROM orders
		 WHERE ($1 = '' OR user_id = $1)
		   AND ($2 = '' OR status = $2)
		   AND ($3 = '' OR reservation = $3)
		 ORDER BY created_at DESC
		 LIMIT NULLIF($4, 0)`,
		filter.UserID,
		string(filter.Status),
		string(filter.Reservation),
		filter.Limit,
	)
	if err != nil {
		return nil, errors.Wrap(err, "list orders")
	}
	defer rows.Close()

	var orders []order.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan order")
		}
		orders = append(orders, *o)
	}
	return orders, rows.Err()
}

// Transition applies change only if the stored status still equals
// change.From. A non-empty change.Reservation is written in the same UPDATE.
func (r *PostgresOrderRepository) Transition(ctx context.Context, change order.StatusChange) (*order.Order, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, errors.Wrap(err, "begin")
	}
	defer rollback(tx)

	row := tx.QueryRowContext(ctx,
		`UPDATE orders
		 SET status = $3,
		     paid_at = COALESCE($4, paid_at),
		     delivered_at = COALESCE($5, delivered_at),
		     updated_at = $6,
		     reservation = COALESCE(NULLIF($7, ''), reservation)
		 WHERE id = $1 AND status = $2
		 RETURNING `+orderColumns,
		change.OrderID,
		string(change.From),
		string(change.To),
		change.PaidAt,
		change.DeliveredAt,
		change.At,
		string(change.Reservation),
	)
	o, err := scanOrder(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, r.missOrConflict(ctx, tx, change.OrderID)
	}
	if err != nil {
		return nil, errors.Wrap(err, "update status")
	}

	if err := insertEvent(ctx, tx, change.Event); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, errors.Wrap(err, "commit")
	}
	return o, nil
}

func (r *PostgresOrderRepository) SetReservation(ctx context.Context, change order.ReservationChange) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin")
	}
	defer rollback(tx)

	var since *time.Time
	if !change.Since.IsZero() {
		since = &change.Since
	}
	res, err := tx.ExecContext(ctx,
		`UPDATE orders SET reservation = $3, updated_at = $4
		 WHERE id = $1 AND reservation = $2
		   AND ($5::timestamptz IS NULL OR updated_at = $5)`,
		change.OrderID,
		string(change.From),
		string(change.To),
		change.At,
		since,
	)
	if err != nil {
		return errors.Wrap(err, "update reservation")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "rows affected")
	}
	if n == 0 {
		return r.missOrConflict(ctx, tx, change.OrderID)
	}

	if err := insertEvent(ctx, tx, change.Event); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "commit")
	}
	return nil
}

func (r *PostgresOrderRepository) Events(ctx context.Context, orderID string) ([]order.Event, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT seq, id, order_id, event_type, data, created_at
		 FROM order_events
		 WHERE order_id = $1
		 ORDER BY seq ASC`,
		orderID,
	)
	if err != nil {
		return nil, errors.Wrap(err, "list events")
	}
	defer rows.Close()

	var events []order.Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// missOrConflict tells a missing order apart from a lost compare-and-set.
func (r *PostgresOrderRepository) missOrConflict(ctx context.Context, tx *sql.Tx, id string) error {
	var exists bool
	if err := tx.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM orders WHERE id = $1)`, id).Scan(&exists); err != nil {
		return errors.Wrap(err, "check order")
	}
	if !exists {
		return order.ErrOrderNotFound
	}
	return order.ErrStatusConflict
}

func insertEvent(ctx context.Context, tx *sql.Tx, e order.Event) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO order_events (id, order_id, event_type, data, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		e.ID,
		e.OrderID,
		e.Type,
		string(e.Data),
		e.CreatedAt,
	)
	if err != nil {
		return errors.Wrapf(err, "insert %s event", e.Type)
	}
	return nil
}

func scanOrder(row rowScanner) (*order.Order, error) {
	var (
		o     order.Order
		items []byte
		addr  []byte
		paid  sql.NullTime
		done  sql.NullTime
	)
	if err := row.Scan(
		&o.ID,
		&o.Number,
		&o.UserID,
		&items,
		&o.TotalPrice,
		&o.Status,
		&o.Reservation,
		&addr,
		&o.PaymentMethod,
		&paid,
		&done,
		&o.CreatedAt,
		&o.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(items, &o.Items); err != nil {
		return nil, errors.Wrap(err, "decode items")
	}
	if err := json.Unmarshal(addr, &o.ShippingAddress); err != nil {
		return nil, errors.Wrap(err, "decode shipping address")
	}
	if paid.Valid {
		o.PaidAt = &paid.Time
	}
	if done.Valid {
		o.DeliveredAt = &done.Time
	}
	return &o, nil
}

func scanEvent(row rowScanner) (order.Event, error) {
	var (
		e    order.Event
		data []byte
	)
	if err := row.Scan(&e.Seq, &e.ID, &e.OrderID, &e.Type, &data, &e.CreatedAt); err != nil {
		return order.Event{}, errors.Wrap(err, "scan event")
	}
	e.Data = data
	return e, nil
}
