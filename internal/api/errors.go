package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/example/ec-orders/internal/command"
	"github.com/example/ec-orders/internal/domain/cart"
	"github.com/example/ec-orders/internal/domain/inventory"
	"github.com/example/ec-orders/internal/domain/order"
	"github.com/example/ec-orders/internal/domain/product"
)

var errBadRequest = errors.New("bad request")

// errorResponse is the body of every non-2xx response. At most one detail
// is set, for the errors that carry data.
type errorResponse struct {
	Error      string            `json:"error"`
	Transition *transitionDetail `json:"transition,omitempty"`
	Stock      *stockDetail      `json:"stock,omitempty"`
	Release    *releaseDetail    `json:"release,omitempty"`
}

type transitionDetail struct {
	From    order.Status   `json:"from"`
	To      order.Status   `json:"to"`
	Allowed []order.Status `json:"allowed"`
}

type stockDetail struct {
	ProductID string `json:"product_id"`
	Requested int    `json:"requested"`
	Available *int   `json:"available,omitempty"`
}

type releaseDetail struct {
	OrderID string           `json:"order_id"`
	Pending []inventory.Line `json:"pending"`
}

func badRequest(msg string) error {
	return errors.Wrap(errBadRequest, msg)
}

func statusOf(err error) int {
	switch {
	case errors.Is(err, errBadRequest),
		errors.Is(err, command.ErrInvalidPaymentMethod),
		errors.Is(err, order.ErrEmptyCart),
		errors.Is(err, order.ErrInvalidQuantity),
		errors.Is(err, order.ErrInvalidPrice),
		errors.Is(err, cart.ErrInvalidQuantity),
		errors.Is(err, cart.ErrInvalidProduct),
		errors.Is(err, inventory.ErrInvalidQuantity),
		errors.Is(err, inventory.ErrInvalidProduct):
		return http.StatusBadRequest
	case errors.Is(err, order.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, order.ErrOrderNotFound),
		errors.Is(err, product.ErrProductNotFound),
		errors.Is(err, cart.ErrItemNotInCart):
		return http.StatusNotFound
	case errors.Is(err, order.ErrInvalidTransition),
		errors.Is(err, order.ErrStatusConflict),
		errors.Is(err, order.ErrNothingToReconcile),
		errors.Is(err, order.ErrReleaseInProgress),
		errors.Is(err, inventory.ErrInsufficientStock):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// respondError maps err to a status code and JSON body. Internal errors are
// logged and their text is not exposed.
func respondError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusOf(err)
	body := errorResponse{Error: err.Error()}

	var (
		transitionErr *order.TransitionError
		stockErr      *inventory.InsufficientStockError
		releaseErr    *order.ReleaseError
	)
	switch {
	case errors.As(err, &transitionErr):
		allowed := transitionErr.Allowed
		if allowed == nil {
			allowed = []order.Status{}
		}
		body.Transition = &transitionDetail{From: transitionErr.From, To: transitionErr.To, Allowed: allowed}
	case errors.As(err, &stockErr):
		body.Stock = &stockDetail{ProductID: stockErr.ProductID, Requested: stockErr.Requested}
		if stockErr.Available >= 0 {
			available := stockErr.Available
			body.Stock.Available = &available
		}
	case errors.As(err, &releaseErr):
		body.Error = "order cancelled but its stock could not be released; it is queued for reconciliation"
		body.Release = &releaseDetail{OrderID: releaseErr.OrderID, Pending: releaseErr.Pending}
	}

	lg := zctx.From(r.Context())
	if status == http.StatusInternalServerError {
		lg.Error("Request failed", zap.Error(err))
		if releaseErr == nil {
			body.Error = "internal server error"
		}
	} else {
		lg.Debug("Request rejected", zap.Int("status", status), zap.Error(err))
	}

	respondJSON(w, status, body)
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
