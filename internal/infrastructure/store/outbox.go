package store

import (
	"context"
	"database/sql"

	"github.com/go-faster/errors"
	"github.com/lib/pq"

	"github.com/example/ec-orders/internal/domain/order"
)

// Outbox reads unsent rows of order_events.
type Outbox struct {
	db *sql.DB
}

func NewOutbox(db *sql.DB) *Outbox {
	return &Outbox{db: db}
}

// Drain passes up to limit unsent events, oldest first, to publish and marks
// them sent once publish returns nil. The rows stay locked until then and
// other relays skip them, so concurrent relays never publish the same batch.
func (o *Outbox) Drain(ctx context.Context, limit int, publish func(context.Context, []order.Event) error) (int, error) {
	tx, err := o.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, errors.Wrap(err, "begin")
	}
	defer rollback(tx)

	rows, err := tx.QueryContext(ctx,
		`SELECT seq, id, order_id, event_type, data, created_at
		 FROM order_events
		 WHERE sent_at IS NULL
		 ORDER BY seq ASC
		 LIMIT $1
		 FOR UPDATE SKIP LOCKED`,
		limit,
	)
	if err != nil {
		return 0, errors.Wrap(err, "fetch pending")
	}
	var (
		events []order.Event
		seqs   []int64
	)
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			rows.Close()
			return 0, err
		}
		events = append(events, e)
		seqs = append(seqs, e.Seq)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, errors.Wrap(err, "fetch pending")
	}
	if len(events) == 0 {
		return 0, nil
	}

	if err := publish(ctx, events); err != nil {
		return 0, err
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE order_events SET sent_at = now() WHERE seq = ANY($1)`,
		pq.Array(seqs),
	); err != nil {
		return 0, errors.Wrap(err, "mark sent")
	}
	if err := tx.Commit(); err != nil {
		return 0, errors.Wrap(err, "commit")
	}
	return len(events), nil
}

// Pending counts events not yet marked sent.
func (o *Outbox) Pending(ctx context.Context) (int, error) {
	var n int
	if err := o.db.QueryRowContext(ctx,
		`SELECT count(*) FROM order_events WHERE sent_at IS NULL`,
	).Scan(&n); err != nil {
		return 0, errors.Wrap(err, "count pending")
	}
	return n, nil
}
