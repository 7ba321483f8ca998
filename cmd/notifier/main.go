package main

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/example/ec-orders/internal/api"
	"github.com/example/ec-orders/internal/config"
	"github.com/example/ec-orders/internal/email"
	"github.com/example/ec-orders/internal/health"
	"github.com/example/ec-orders/internal/httpserver"
	"github.com/example/ec-orders/internal/infrastructure/kafka"
	"github.com/example/ec-orders/internal/infrastructure/store"
	"github.com/example/ec-orders/internal/metrics"
	"github.com/example/ec-orders/internal/notification"
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

	lg.Info("Starting notifier",
		zap.Strings("kafka_brokers", cfg.Kafka.Brokers),
		zap.String("topic", cfg.Kafka.Topic),
		zap.String("group", cfg.Kafka.NotifierGroup),
		zap.String("smtp_host", cfg.SMTP.Host),
		zap.String("smtp_port", cfg.SMTP.Port),
	)

	db, err := store.ConnectPostgres(ctx, cfg.DatabaseURL)
	if err != nil {
		return errors.Wrap(err, "connect postgres")
	}
	defer func() { _ = db.Close() }()

	reg := prometheus.NewRegistry()
	m := metrics.New(reg, "notifier")

	handler := notification.NewHandler(
		email.NewService(cfg.SMTP.Host, cfg.SMTP.Port, cfg.SMTP.From),
		store.NewPostgresUserDirectory(db),
		store.NewPostgresOrderRepository(db),
		m,
		lg.Named("notification"),
	)

	consumer := kafka.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.Topic, cfg.Kafka.NotifierGroup, lg.Named("consumer"))
	defer func() { _ = consumer.Close() }()

	hc := health.New()
	hc.AddReadinessCheck("postgres", 2*time.Second, db.PingContext)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		ops := api.NewOpsMux(hc, metrics.Handler(reg))
		return httpserver.Serve(ctx, lg, httpserver.New(cfg.OpsAddr, ops), hc, cfg.Graceful)
	})
	g.Go(func() error {
		if err := consumer.Consume(ctx, handler.HandleEvent); err != nil && !errors.Is(err, context.Canceled) {
			return errors.Wrap(err, "consume")
		}
		return nil
	})
	return g.Wait()
}
