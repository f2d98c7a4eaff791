package main

import (
	"context"
	"errors"
	"io"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/example/fuelroute/internal/app"
	"github.com/example/fuelroute/internal/config"
	"github.com/example/fuelroute/internal/fuel/domain"
	"github.com/example/fuelroute/internal/fuel/events"
	"github.com/example/fuelroute/internal/fuel/task"
	"github.com/example/fuelroute/internal/outbox"
	"github.com/example/fuelroute/pkg/observability"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(".env")
	if err != nil {
		observability.SetupLogger("fuelworker", "info").Fatal("load config", zap.Error(err))
	}

	logger := observability.SetupLogger("fuelworker", cfg.LogLevel)
	defer logger.Sync() //nolint:errcheck

	var traceOut io.Writer
	if cfg.TraceStdout {
		traceOut = os.Stdout
	}
	shutdown, err := observability.SetupTracer(ctx, "fuelworker", traceOut)
	if err != nil {
		logger.Warn("tracer setup failed", zap.Error(err))
	} else {
		defer shutdown(context.Background())
	}

	infra, err := app.Connect(ctx, cfg, "fuelworker", logger)
	if err != nil {
		logger.Fatal("connect", zap.Error(err))
	}
	defer infra.Close()
	if infra.NATS == nil {
		logger.Fatal("fuelworker needs NATS_URL")
	}
	if infra.Redis == nil {
		logger.Warn("no REDIS_ADDR: results stay in this process and the api will not see them")
	}

	stationStore, err := app.BuildStations(ctx, cfg, infra, logger.Named("stations"))
	if err != nil {
		logger.Fatal("station backend", zap.Error(err))
	}
	provider, err := app.BuildProvider(cfg.Provider)
	if err != nil {
		logger.Fatal("route provider", zap.Error(err))
	}
	var publisher domain.EventPublisher = events.NewPublisher(infra.NATS, events.DefaultSubject)
	if infra.DB != nil {
		writer := outbox.NewWriter(infra.DB)
		if err := writer.EnsureSchema(ctx); err != nil {
			logger.Fatal("outbox schema", zap.Error(err))
		}
		publisher = writer
		relay := outbox.NewRelay(infra.DB, infra.NATS, logger.Named("outbox"), outbox.RelayConfig{Subject: events.DefaultSubject})
		go func() {
			if err := relay.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("outbox relay stopped", zap.Error(err))
			}
		}()
	}

	executor, err := app.BuildExecutor(cfg, infra.Cache(), provider, stationStore, publisher, logger)
	if err != nil {
		logger.Fatal("executor", zap.Error(err))
	}

	queue, err := task.NewJetStreamQueue(infra.NATS, logger.Named("jetstream"), app.JetStreamConfig(cfg))
	if err != nil {
		logger.Fatal("jetstream", zap.Error(err))
	}
	if err := queue.EnsureStream(); err != nil {
		logger.Fatal("jetstream stream", zap.Error(err))
	}

	logger.Info("fuel worker consuming", zap.Int("workers", cfg.Workers), zap.String("provider", cfg.Provider.Name))
	if err := queue.Consume(ctx, executor.Execute); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("consumer stopped", zap.Error(err))
	}
}
