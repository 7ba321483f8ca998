package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/example/ec-orders/internal/api/middleware"
	"github.com/example/ec-orders/internal/command"
	"github.com/example/ec-orders/internal/domain/cart"
	"github.com/example/ec-orders/internal/domain/order"
)

const maxBodyBytes = 1 << 20

type Handlers struct {
	cmdHandler *command.Handler
}

func NewHandlers(cmdHandler *command.Handler) *Handlers {
	return &Handlers{cmdHandler: cmdHandler}
}

// principalFunc is a handler that runs on behalf of an authenticated caller.
type principalFunc func(w http.ResponseWriter, r *http.Request, p command.Principal)

func (h *Handlers) authed(fn principalFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, ok := middleware.PrincipalFromContext(r.Context())
		if !ok {
			respondJSON(w, http.StatusUnauthorized, errorResponse{Error: "unauthorized"})
			return
		}
		fn(w, r, p)
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return badRequest("request body is required")
		}
		return badRequest("invalid request body: " + err.Error())
	}
	return nil
}

// Cart Handlers

type cartResponse struct {
	Items []cart.Item     `json:"items"`
	Total decimal.Decimal `json:"total"`
}

func (h *Handlers) GetCart(w http.ResponseWriter, r *http.Request, p command.Principal) {
	items, err := h.cmdHandler.Cart(r.Context(), p)
	if err != nil {
		respondError(w, r, err)
		return
	}
	if items == nil {
		items = []cart.Item{}
	}
	total := decimal.Zero
	for _, item := range items {
		total = total.Add(item.Price.Mul(decimal.NewFromInt(int64(item.Quantity))))
	}
	respondJSON(w, http.StatusOK, cartResponse{Items: items, Total: total})
}

func (h *Handlers) AddToCart(w http.ResponseWriter, r *http.Request, p command.Principal) {
	var cmd command.AddToCart
	if err := decodeJSON(w, r, &cmd); err != nil {
		respondError(w, r, err)
		return
	}
	if err := h.cmdHandler.AddToCart(r.Context(), p, cmd); err != nil {
		respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) UpdateCartItem(w http.ResponseWriter, r *http.Request, p command.Principal) {
	var cmd command.UpdateCartItem
	if err := decodeJSON(w, r, &cmd); err != nil {
		respondError(w, r, err)
		return
	}
	cmd.ProductID = r.PathValue("product_id")
	if err := h.cmdHandler.UpdateCartItem(r.Context(), p, cmd); err != nil {
		respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) RemoveFromCart(w http.ResponseWriter, r *http.Request, p command.Principal) {
	cmd := command.RemoveFromCart{ProductID: r.PathValue("product_id")}
	if err := h.cmdHandler.RemoveFromCart(r.Context(), p, cmd); err != nil {
		respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) ClearCart(w http.ResponseWriter, r *http.Request, p command.Principal) {
	if err := h.cmdHandler.ClearCart(r.Context(), p); err != nil {
		respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Order Handlers

func (h *Handlers) PlaceOrder(w http.ResponseWriter, r *http.Request, p command.Principal) {
	var cmd command.PlaceOrder
	if err := decodeJSON(w, r, &cmd); err != nil {
		respondError(w, r, err)
		return
	}
	o, err := h.cmdHandler.PlaceOrder(r.Context(), p, cmd)
	if err != nil {
		respondError(w, r, err)
		return
	}
	w.Header().Set("Location", "/orders/"+o.ID)
	respondJSON(w, http.StatusCreated, o)
}

func (h *Handlers) ListOrders(w http.ResponseWriter, r *http.Request, p command.Principal) {
	orders, err := h.cmdHandler.ListOrders(r.Context(), p)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondOrders(w, orders)
}

func (h *Handlers) GetOrder(w http.ResponseWriter, r *http.Request, p command.Principal) {
	o, err := h.cmdHandler.GetOrder(r.Context(), p, r.PathValue("id"))
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, o)
}

func (h *Handlers) OrderEvents(w http.ResponseWriter, r *http.Request, p command.Principal) {
	events, err := h.cmdHandler.OrderEvents(r.Context(), p, r.PathValue("id"))
	if err != nil {
		respondError(w, r, err)
		return
	}
	if events == nil {
		events = []order.Event{}
	}
	respondJSON(w, http.StatusOK, events)
}

// OrderCommand is a command against a single order that returns the
// updated order.
type OrderCommand func(ctx context.Context, p command.Principal, orderID string) (*order.Order, error)

// Order runs cmd against the order named by the {id} path value.
func (h *Handlers) Order(cmd OrderCommand) principalFunc {
	return func(w http.ResponseWriter, r *http.Request, p command.Principal) {
		o, err := cmd(r.Context(), p, r.PathValue("id"))
		if err != nil {
			respondError(w, r, err)
			return
		}
		respondJSON(w, http.StatusOK, o)
	}
}

// Admin Handlers

type setStatusRequest struct {
	Status order.Status `json:"status"`
}

func (h *Handlers) SetOrderStatus(w http.ResponseWriter, r *http.Request, p command.Principal) {
	var req setStatusRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, r, err)
		return
	}
	if req.Status == "" {
		respondError(w, r, badRequest("status is required"))
		return
	}
	o, err := h.cmdHandler.SetOrderStatus(r.Context(), p, command.SetOrderStatus{
		OrderID: r.PathValue("id"),
		Status:  req.Status,
	})
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, o)
}

func (h *Handlers) ListAllOrders(w http.ResponseWriter, r *http.Request, p command.Principal) {
	q := command.ListAllOrders{
		Status:      order.Status(r.URL.Query().Get("status")),
		Reservation: order.Reservation(r.URL.Query().Get("reservation")),
	}
	if q.Status != "" && !q.Status.Valid() {
		respondError(w, r, badRequest("unknown status filter: "+string(q.Status)))
		return
	}
	if q.Reservation != "" && !q.Reservation.Valid() {
		respondError(w, r, badRequest("unknown reservation filter: "+string(q.Reservation)))
		return
	}
	orders, err := h.cmdHandler.ListAllOrders(r.Context(), p, q)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondOrders(w, orders)
}

func respondOrders(w http.ResponseWriter, orders []order.Order) {
	if orders == nil {
		orders = []order.Order{}
	}
	respondJSON(w, http.StatusOK, orders)
}
