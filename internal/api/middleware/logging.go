package middleware

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/example/ec-orders/internal/metrics"
)

// InjectLogger makes lg, tagged with the request id, the request logger.
// It must run after RequestID.
func InjectLogger(lg *zap.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			reqLg := lg
			if id := RequestIDFromContext(r.Context()); id != "" {
				reqLg = lg.With(zap.String("request_id", id))
			}
			next.ServeHTTP(w, r.WithContext(zctx.Base(r.Context(), reqLg)))
		})
	}
}

const unmatchedRoute = "unmatched"

type routeKey struct{}

// SetRoute names the matched route of the current request for Instrument.
func SetRoute(ctx context.Context, route string) {
	if name, ok := ctx.Value(routeKey{}).(*string); ok {
		*name = route
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	if r.status == 0 {
		r.status = status
	}
	r.ResponseWriter.WriteHeader(status)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}

func (r *statusRecorder) Unwrap() http.ResponseWriter { return r.ResponseWriter }

// Instrument logs every request and records its count and latency by route
// and status. Routes are labelled through SetRoute, so unknown paths share
// one label.
func Instrument(m *metrics.Metrics) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			route := unmatchedRoute
			rec := &statusRecorder{ResponseWriter: w}
			ctx := context.WithValue(r.Context(), routeKey{}, &route)

			next.ServeHTTP(rec, r.WithContext(ctx))

			status := rec.status
			if status == 0 {
				status = http.StatusOK
			}
			elapsed := time.Since(start)
			m.Requests.WithLabelValues(route, strconv.Itoa(status)).Inc()
			m.LatencyMS.WithLabelValues(route).Observe(float64(elapsed.Microseconds()) / 1000)

			lg := zctx.From(ctx)
			fields := []zap.Field{
				zap.String("method", r.Method),
				zap.String("route", route),
				zap.String("path", r.URL.Path),
				zap.Int("status", status),
				zap.Duration("duration", elapsed),
			}
			if status >= http.StatusInternalServerError {
				lg.Warn("HTTP request", fields...)
				return
			}
			lg.Debug("HTTP request", fields...)
		})
	}
}
