// Package inventory keeps product stock counters consistent with order
// outcomes: stock is reserved when an order is placed and released when a
// pending order is cancelled.
package inventory

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"go.uber.org/zap"

	"github.com/example/ec-orders/internal/domain/product"
)

var (
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrInvalidQuantity   = errors.New("quantity must be positive")
	ErrInvalidProduct    = errors.New("product_id is required")
)

// Line is a single stock movement request.
type Line struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

// InsufficientStockError reports the line that could not be reserved.
// Available is -1 when the current stock could not be read back.
type InsufficientStockError struct {
	ProductID string
	Requested int
	Available int
}

func (e *InsufficientStockError) Error() string {
	if e.Available < 0 {
		return fmt.Sprintf("insufficient stock for product %s: requested %d", e.ProductID, e.Requested)
	}
	return fmt.Sprintf("insufficient stock for product %s: requested %d, available %d",
		e.ProductID, e.Requested, e.Available)
}

func (e *InsufficientStockError) Unwrap() error { return ErrInsufficientStock }

// PartialError reports a multi-line movement that stopped midway and could
// not be undone. Applied lines were moved, Pending lines were not.
type PartialError struct {
	Op      string
	Applied []Line
	Pending []Line
	Err     error
}

func (e *PartialError) Error() string {
	return fmt.Sprintf("%s stock: %d applied, %d pending: %v", e.Op, len(e.Applied), len(e.Pending), e.Err)
}

func (e *PartialError) Unwrap() error { return e.Err }

// Ledger applies reservations and releases through the catalog gateway.
// It holds no stock state of its own.
type Ledger struct {
	catalog product.Gateway
	lg      *zap.Logger
}

func NewLedger(catalog product.Gateway, lg *zap.Logger) *Ledger {
	if lg == nil {
		lg = zap.NewNop()
	}
	return &Ledger{catalog: catalog, lg: lg}
}

// Reserve decrements stock for every line, all or nothing.
//
// Every line is checked against current stock before anything is decremented.
// The decrements themselves are conditional, so a concurrent reservation that
// wins the race makes this one fail with ErrInsufficientStock; in that case
// the lines already decremented are restored before returning. If the restore
// itself fails a *PartialError is returned describing what is still held.
func (l *Ledger) Reserve(ctx context.Context, lines []Line) error {
	lines, err := normalize(lines)
	if err != nil {
		return err
	}

	for _, line := range lines {
		p, err := l.catalog.Get(ctx, line.ProductID)
		if err != nil {
			return errors.Wrapf(err, "get product %s", line.ProductID)
		}
		if p.Stock < line.Quantity {
			return &InsufficientStockError{
				ProductID: line.ProductID,
				Requested: line.Quantity,
				Available: p.Stock,
			}
		}
	}

	applied := make([]Line, 0, len(lines))
	for i, line := range lines {
		_, err := l.catalog.AdjustStock(ctx, line.ProductID, -line.Quantity)
		if err == nil {
			applied = append(applied, line)
			continue
		}

		if errors.Is(err, product.ErrStockExhausted) {
			err = &InsufficientStockError{
				ProductID: line.ProductID,
				Requested: line.Quantity,
				Available: l.currentStock(ctx, line.ProductID),
			}
		} else {
			err = errors.Wrapf(err, "reserve product %s", line.ProductID)
		}

		if held := l.restore(ctx, applied); len(held) > 0 {
			perr := &PartialError{Op: "reserve", Applied: held, Pending: lines[i:], Err: err}
			l.lg.Error("Reservation rollback incomplete",
				zap.Any("held", held),
				zap.Error(err),
			)
			return perr
		}
		return err
	}

	return nil
}

// Release increments stock for every line. Increments are applied in order
// and not rolled back; on failure the returned *PartialError tells the caller
// which lines still need to be released.
func (l *Ledger) Release(ctx context.Context, lines []Line) error {
	lines, err := normalize(lines)
	if err != nil {
		return err
	}

	for i, line := range lines {
		if _, err := l.catalog.AdjustStock(ctx, line.ProductID, line.Quantity); err != nil {
			return &PartialError{
				Op:      "release",
				Applied: lines[:i],
				Pending: lines[i:],
				Err:     errors.Wrapf(err, "release product %s", line.ProductID),
			}
		}
	}
	return nil
}

// restore undoes applied decrements and returns the lines it could not undo.
func (l *Ledger) restore(ctx context.Context, applied []Line) []Line {
	var held []Line
	for _, line := range applied {
		if _, err := l.catalog.AdjustStock(ctx, line.ProductID, line.Quantity); err != nil {
			l.lg.Warn("Failed to restore reserved stock",
				zap.String("product_id", line.ProductID),
				zap.Int("quantity", line.Quantity),
				zap.Error(err),
			)
			held = append(held, line)
		}
	}
	return held
}

func (l *Ledger) currentStock(ctx context.Context, productID string) int {
	p, err := l.catalog.Get(ctx, productID)
	if err != nil {
		return -1
	}
	return p.Stock
}

// normalize validates lines and merges repeated products, keeping the order
// in which products first appear.
func normalize(lines []Line) ([]Line, error) {
	out := make([]Line, 0, len(lines))
	index := make(map[string]int, len(lines))
	for _, line := range lines {
		if line.ProductID == "" {
			return nil, ErrInvalidProduct
		}
		if line.Quantity <= 0 {
			return nil, ErrInvalidQuantity
		}
		if i, ok := index[line.ProductID]; ok {
			out[i].Quantity += line.Quantity
			continue
		}
		index[line.ProductID] = len(out)
		out = append(out, line)
	}
	return out, nil
}
