// Command archiver is the Lambda variant of the archiver, triggered by an
// MSK event source on the order events topic.
package main

import (
	"context"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/example/ec-orders/internal/archive"
	"github.com/example/ec-orders/internal/config"
	"github.com/example/ec-orders/internal/infrastructure/mskevent"
	"github.com/example/ec-orders/internal/infrastructure/store"
	"github.com/example/ec-orders/internal/metrics"
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

	client, err := store.NewDynamoClient(context.Background(), cfg.Archive.Region, cfg.Archive.Endpoint)
	if err != nil {
		lg.Fatal("Failed to create DynamoDB client", zap.Error(err))
	}

	handler := archive.NewHandler(
		store.NewDynamoArchive(client, cfg.Archive.Table),
		metrics.New(prometheus.NewRegistry(), "archiver"),
		lg.Named("archive"),
	)

	lg.Info("Lambda archiver initialized", zap.String("table", cfg.Archive.Table))
	lambda.Start(func(ctx context.Context, ev events.KafkaEvent) error {
		return mskevent.Dispatch(ctx, lg, ev, handler.HandleEvent)
	})
}
