package main

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/example/ec-orders/internal/api"
	"github.com/example/ec-orders/internal/auth"
	"github.com/example/ec-orders/internal/command"
	"github.com/example/ec-orders/internal/config"
	"github.com/example/ec-orders/internal/domain/cart"
	"github.com/example/ec-orders/internal/domain/inventory"
	"github.com/example/ec-orders/internal/domain/order"
	"github.com/example/ec-orders/internal/health"
	"github.com/example/ec-orders/internal/httpserver"
	"github.com/example/ec-orders/internal/infrastructure/kafka"
	"github.com/example/ec-orders/internal/infrastructure/store"
	"github.com/example/ec-orders/internal/metrics"
	"github.com/example/ec-orders/internal/outbox"
)

func main() {
	app.Run(func(ctx context.Context, lg *zap.Logger, _ *app.Telemetry) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		return run(ctx, lg, cfg)
	})
}

func run(ctx context.Context, lg *zap.Logger, cfg *config.Config) error {
	if err := cfg.RequireDatabase(); err != nil {
		return err
	}
	if err := cfg.RequireJWTSecret(); err != nil {
		return err
	}

	db, err := store.ConnectPostgres(ctx, cfg.DatabaseURL)
	if err != nil {
		return errors.Wrap(err, "connect postgres")
	}
	defer func() { _ = db.Close() }()

	if cfg.Migrate {
		if err := store.Migrate(ctx, db); err != nil {
			return errors.Wrap(err, "migrate")
		}
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg, "api")

	catalog := store.NewPostgresCatalog(db)
	orders := store.NewPostgresOrderRepository(db)
	ledger := inventory.NewLedger(catalog, lg.Named("inventory"))
	cmdHandler := command.NewHandler(
		cart.NewService(store.NewPostgresCartStore(db), catalog, lg.Named("cart")),
		order.NewService(orders, ledger, lg.Named("order")),
		ledger,
		m,
	)

	hc := health.New()
	hc.AddReadinessCheck("postgres", 2*time.Second, db.PingContext)

	router := api.NewRouter(api.RouterConfig{
		Handlers:       api.NewHandlers(cmdHandler),
		Tokens:         auth.NewJWTService(cfg.JWTSecret, 15*time.Minute),
		Health:         hc,
		Metrics:        m,
		MetricsHandler: metrics.Handler(reg),
		Logger:         lg,
	})

	lg.Info("Starting API",
		zap.String("addr", cfg.Addr),
		zap.Strings("kafka_brokers", cfg.Kafka.Brokers),
		zap.String("topic", cfg.Kafka.Topic),
		zap.Bool("outbox_relay", cfg.Outbox.Enabled),
	)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return httpserver.Serve(ctx, lg, httpserver.New(cfg.Addr, router), hc, cfg.Graceful)
	})
	if cfg.Outbox.Enabled {
		producer := kafka.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		defer func() { _ = producer.Close() }()

		relay := outbox.NewRelay(store.NewOutbox(db), producer, cfg.Outbox.Interval, cfg.Outbox.BatchSize, m, lg.Named("outbox"))
		g.Go(func() error {
			return relay.Run(ctx)
		})
	}
	return g.Wait()
}
