package command

import "github.com/example/ec-orders/internal/domain/order"

const (
	RoleCustomer = "customer"
	RoleAdmin    = "admin"
)

// Principal is the authenticated caller of a command.
type Principal struct {
	UserID string
	Role   string
}

func (p Principal) IsAdmin() bool { return p.Role == RoleAdmin }

// Cart Commands
type AddToCart struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

type UpdateCartItem struct {
	ProductID string `json:"-"`
	Quantity  int    `json:"quantity"`
}

type RemoveFromCart struct {
	ProductID string `json:"product_id"`
}

// Order Commands
type PlaceOrder struct {
	ShippingAddress order.ShippingAddress `json:"shipping_address"`
	PaymentMethod   string                `json:"payment_method"`
}

type SetOrderStatus struct {
	OrderID string       `json:"order_id"`
	Status  order.Status `json:"status"`
}

// Order Queries
type ListAllOrders struct {
	Status      order.Status      `json:"status"`
	Reservation order.Reservation `json:"reservation"`
}
