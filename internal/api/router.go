package api

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/example/ec-orders/internal/api/middleware"
	"github.com/example/ec-orders/internal/command"
	"github.com/example/ec-orders/internal/health"
	"github.com/example/ec-orders/internal/metrics"
)

type RouterConfig struct {
	Handlers *Handlers
	Tokens   middleware.TokenValidator
	Health   *health.Health
	Metrics  *metrics.Metrics
	// MetricsHandler serves /metrics, usually metrics.Handler(registry).
	MetricsHandler http.Handler
	Logger         *zap.Logger
}

// NewRouter returns the API server handler. Ops endpoints are public, every
// other route requires an access token.
func NewRouter(cfg RouterConfig) http.Handler {
	h := cfg.Handlers
	lg := cfg.Logger
	if lg == nil {
		lg = zap.NewNop()
	}

	api := http.NewServeMux()
	route := func(pattern string, fn principalFunc, mws ...middleware.Middleware) {
		handle(api, pattern, h.authed(fn), mws...)
	}
	admin := middleware.RequireRole(command.RoleAdmin)

	// Cart
	route("GET /cart", h.GetCart)
	route("POST /cart/items", h.AddToCart)
	route("PUT /cart/items/{product_id}", h.UpdateCartItem)
	route("DELETE /cart/items/{product_id}", h.RemoveFromCart)
	route("DELETE /cart", h.ClearCart)

	// Orders
	route("POST /orders", h.PlaceOrder)
	route("GET /orders", h.ListOrders)
	route("GET /orders/{id}", h.GetOrder)
	route("GET /orders/{id}/events", h.OrderEvents)
	route("POST /orders/{id}/pay", h.Order(h.cmdHandler.PayOrder))
	route("POST /orders/{id}/cancel", h.Order(h.cmdHandler.CancelOrder))
	route("POST /orders/{id}/complete", h.Order(h.cmdHandler.CompleteOrder))

	// Admin
	route("GET /admin/orders", h.ListAllOrders, admin)
	route("POST /admin/orders/{id}/ship", h.Order(h.cmdHandler.ShipOrder), admin)
	route("PUT /admin/orders/{id}/status", h.SetOrderStatus, admin)
	route("POST /admin/orders/{id}/reconcile", h.Order(h.cmdHandler.ReconcileOrder), admin)

	mux := NewOpsMux(cfg.Health, cfg.MetricsHandler)
	mux.Handle("/", middleware.Authenticate(cfg.Tokens)(api))

	return middleware.Wrap(mux,
		middleware.RequestID(),
		middleware.InjectLogger(lg),
		middleware.Instrument(cfg.Metrics),
		middleware.Recovery(),
	)
}

// NewOpsMux serves the liveness, readiness and metrics endpoints. Worker
// processes serve it on their own listener.
func NewOpsMux(hc *health.Health, metricsHandler http.Handler) *http.ServeMux {
	mux := http.NewServeMux()
	handle(mux, "GET /livez", http.HandlerFunc(hc.LiveEndpoint))
	handle(mux, "GET /readyz", http.HandlerFunc(hc.ReadyEndpoint))
	handle(mux, "GET /metrics", metricsHandler)
	return mux
}

// handle registers h under pattern and labels requests with the pattern
// before any route middleware runs.
func handle(mux *http.ServeMux, pattern string, h http.Handler, mws ...middleware.Middleware) {
	h = middleware.Wrap(h, mws...)
	mux.Handle(pattern, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		middleware.SetRoute(r.Context(), pattern)
		h.ServeHTTP(w, r)
	}))
}
