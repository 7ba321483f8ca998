// Package httpserver runs an http.Server until its context is cancelled and
// then drains it.
package httpserver

import (
	"context"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"go.uber.org/zap"

	"github.com/example/ec-orders/internal/config"
	"github.com/example/ec-orders/internal/health"
)

func New(addr string, h http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}
}

// Serve marks hc ready, serves until ctx is done, then flips readiness off,
// waits ReadinessDelay for load balancers to notice and shuts down within
// ShutdownTimeout.
func Serve(ctx context.Context, lg *zap.Logger, server *http.Server, hc *health.Health, graceful config.GracefulConfig) error {
	errc := make(chan error, 1)
	go func() {
		errc <- server.ListenAndServe()
	}()
	hc.SetReady(true)
	lg.Info("Server listening", zap.String("addr", server.Addr))

	select {
	case err := <-errc:
		hc.SetReady(false)
		return errors.Wrap(err, "listen")
	case <-ctx.Done():
	}

	hc.SetReady(false)
	lg.Info("Readiness set to false, draining", zap.Duration("delay", graceful.ReadinessDelay))
	time.Sleep(graceful.ReadinessDelay)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), graceful.ShutdownTimeout)
	defer cancel()

	lg.Info("Shutting down server", zap.Duration("timeout", graceful.ShutdownTimeout))
	if err := server.Shutdown(shutdownCtx); err != nil {
		return errors.Wrap(err, "shutdown")
	}
	if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "listen")
	}
	return nil
}
