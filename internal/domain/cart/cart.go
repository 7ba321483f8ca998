package cart

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/example/ec-orders/internal/domain/product"
)

var (
	ErrInvalidQuantity = errors.New("quantity must be positive")
	ErrInvalidProduct  = errors.New("product_id is required")
	ErrItemNotInCart   = errors.New("product is not in the cart")
)

// Item is a cart line. Name, price and image are copied from the catalog
// when the line is added.
type Item struct {
	ProductID string          `json:"product_id"`
	Name      string          `json:"name"`
	Price     decimal.Decimal `json:"price"`
	Quantity  int             `json:"quantity"`
	Image     string          `json:"image"`
}

// Store holds one cart per user.
type Store interface {
	Items(ctx context.Context, userID string) ([]Item, error)
	// Add merges item into the user's cart, summing quantities for an
	// existing product and refreshing its snapshot.
	Add(ctx context.Context, userID string, item Item) error
	// SetQuantity overwrites the quantity of a line already in the cart and
	// returns ErrItemNotInCart if there is none.
	SetQuantity(ctx context.Context, userID, productID string, quantity int) error
	Remove(ctx context.Context, userID, productID string) error
	Clear(ctx context.Context, userID string) error
}

type Service struct {
	store   Store
	catalog product.Gateway
	lg      *zap.Logger
}

func NewService(store Store, catalog product.Gateway, lg *zap.Logger) *Service {
	if lg == nil {
		lg = zap.NewNop()
	}
	return &Service{store: store, catalog: catalog, lg: lg}
}

func (s *Service) Items(ctx context.Context, userID string) ([]Item, error) {
	items, err := s.store.Items(ctx, userID)
	if err != nil {
		return nil, errors.Wrap(err, "load cart")
	}
	return items, nil
}

// AddItem snapshots the product and adds it to the cart. Stock is not
// checked here; it is reserved when the order is placed.
func (s *Service) AddItem(ctx context.Context, userID, productID string, quantity int) error {
	if productID == "" {
		return ErrInvalidProduct
	}
	if quantity <= 0 {
		return ErrInvalidQuantity
	}

	p, err := s.catalog.Get(ctx, productID)
	if err != nil {
		return err
	}

	if err := s.store.Add(ctx, userID, Item{
		ProductID: p.ID,
		Name:      p.Name,
		Price:     p.Price,
		Quantity:  quantity,
		Image:     p.Image,
	}); err != nil {
		return errors.Wrap(err, "add cart item")
	}

	s.lg.Debug("Cart item added",
		zap.String("user_id", userID),
		zap.String("product_id", productID),
		zap.Int("quantity", quantity),
	)
	return nil
}

// UpdateQuantity sets the quantity of a cart line. A quantity of zero or
// less removes the line.
func (s *Service) UpdateQuantity(ctx context.Context, userID, productID string, quantity int) error {
	if productID == "" {
		return ErrInvalidProduct
	}
	if quantity <= 0 {
		return s.RemoveItem(ctx, userID, productID)
	}
	if err := s.store.SetQuantity(ctx, userID, productID, quantity); err != nil {
		if errors.Is(err, ErrItemNotInCart) {
			return err
		}
		return errors.Wrap(err, "update cart item")
	}
	return nil
}

func (s *Service) RemoveItem(ctx context.Context, userID, productID string) error {
	if productID == "" {
		return ErrInvalidProduct
	}
	if err := s.store.Remove(ctx, userID, productID); err != nil {
		return errors.Wrap(err, "remove cart item")
	}
	return nil
}

func (s *Service) Clear(ctx context.Context, userID string) error {
	if err := s.store.Clear(ctx, userID); err != nil {
		return errors.Wrap(err, "clear cart")
	}
	return nil
}
