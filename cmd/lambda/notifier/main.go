// Command notifier is the Lambda variant of the notifier, triggered by an
// MSK event source on the order events topic.
package main

import (
	"context"
	"os"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/example/ec-orders/internal/config"
	"github.com/example/ec-orders/internal/email"
	"github.com/example/ec-orders/internal/infrastructure/mskevent"
	"github.com/example/ec-orders/internal/infrastructure/store"
	"github.com/example/ec-orders/internal/metrics"
	"github.com/example/ec-orders/internal/notification"
)

func main() {
	lg, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer func() { _ = lg.Sync() }()

	cfg, err := config.Load()
	if err != nil {
		lg.Fatal("Failed to load config", zap.Error(err))
	}
	if err := cfg.RequireDatabase(); err != nil {
		lg.Fatal("Invalid config", zap.Error(err))
	}

	db, err := store.ConnectPostgres(context.Background(), cfg.DatabaseURL)
	if err != nil {
		lg.Fatal("Failed to connect to PostgreSQL", zap.Error(err))
	}

	handler := notification.NewHandler(
		email.NewService(cfg.SMTP.Host, cfg.SMTP.Port, cfg.SMTP.From),
		store.NewPostgresUserDirectory(db),
		store.NewPostgresOrderRepository(db),
		metrics.New(prometheus.NewRegistry(), "notifier"),
		lg.Named("notification"),
	)

	lg.Info("Lambda notifier initialized", zap.String("function", os.Getenv("AWS_LAMBDA_FUNCTION_NAME")))
	lambda.Start(func(ctx context.Context, ev events.KafkaEvent) error {
		return mskevent.Dispatch(ctx, lg, ev, handler.HandleEvent)
	})
}
