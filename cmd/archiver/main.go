package main

import (
	"context"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/example/ec-orders/internal/api"
	"github.com/example/ec-orders/internal/archive"
	"github.com/example/ec-orders/internal/config"
	"github.com/example/ec-orders/internal/health"
	"github.com/example/ec-orders/internal/httpserver"
	"github.com/example/ec-orders/internal/infrastructure/kafka"
	"github.com/example/ec-orders/internal/infrastructure/store"
	"github.com/example/ec-orders/internal/metrics"
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
	lg.Info("Starting archiver",
		zap.Strings("kafka_brokers", cfg.Kafka.Brokers),
		zap.String("topic", cfg.Kafka.Topic),
		zap.String("group", cfg.Kafka.ArchiverGroup),
		zap.String("table", cfg.Archive.Table),
		zap.String("region", cfg.Archive.Region),
	)

	client, err := store.NewDynamoClient(ctx, cfg.Archive.Region, cfg.Archive.Endpoint)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	m := metrics.New(reg, "archiver")

	handler := archive.NewHandler(store.NewDynamoArchive(client, cfg.Archive.Table), m, lg.Named("archive"))
	consumer := kafka.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.Topic, cfg.Kafka.ArchiverGroup, lg.Named("consumer"))
	defer func() { _ = consumer.Close() }()

	hc := health.New()
	hc.AddReadinessCheck("dynamodb", 2*time.Second, func(ctx context.Context) error {
		_, err := client.DescribeTable(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(cfg.Archive.Table)})
		return err
	})

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
