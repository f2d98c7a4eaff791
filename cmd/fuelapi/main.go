package main

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/example/fuelroute/api"
	"github.com/example/fuelroute/internal/app"
	"github.com/example/fuelroute/internal/auth"
	"github.com/example/fuelroute/internal/config"
	"github.com/example/fuelroute/internal/fuel/domain"
	"github.com/example/fuelroute/internal/fuel/events"
	"github.com/example/fuelroute/internal/fuel/handler"
	"github.com/example/fuelroute/internal/fuel/task"
	ratelimit "github.com/example/fuelroute/internal/http/middleware"
	"github.com/example/fuelroute/pkg/observability"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(".env")
	if err != nil {
		observability.SetupLogger("fuelapi", "info").Fatal("load config", zap.Error(err))
	}

	logger := observability.SetupLogger("fuelapi", cfg.LogLevel)
	defer logger.Sync() //nolint:errcheck

	var traceOut io.Writer
	if cfg.TraceStdout {
		traceOut = os.Stdout
	}
	shutdown, err := observability.SetupTracer(ctx, "fuelapi", traceOut)
	if err != nil {
		logger.Warn("tracer setup failed", zap.Error(err))
	} else {
		defer shutdown(context.Background())
	}

	infra, err := app.Connect(ctx, cfg, "fuelapi", logger)
	if err != nil {
		logger.Fatal("connect", zap.Error(err))
	}
	defer infra.Close()

	store := infra.Cache()
	stationStore, err := app.BuildStations(ctx, cfg, infra, logger.Named("stations"))
	if err != nil {
		logger.Fatal("station backend", zap.Error(err))
	}

	var queue task.Queue
	var local *task.MemoryQueue
	if infra.NATS != nil {
		js, err := task.NewJetStreamQueue(infra.NATS, logger.Named("jetstream"), app.JetStreamConfig(cfg))
		if err != nil {
			logger.Fatal("jetstream", zap.Error(err))
		}
		if err := js.EnsureStream(); err != nil {
			logger.Fatal("jetstream stream", zap.Error(err))
		}
		queue = js
		logger.Info("route tasks go to jetstream; run fuelworker to process them")
	} else {
		local, err = startLocalWorkers(ctx, cfg, infra, store, stationStore, logger)
		if err != nil {
			logger.Fatal("local workers", zap.Error(err))
		}
		queue = local
	}

	coordinator, err := task.NewCoordinator(store, queue, domain.SystemClock{}, logger.Named("coordinator"), app.TaskConfig(cfg))
	if err != nil {
		logger.Fatal("coordinator", zap.Error(err))
	}

	var guards []func(http.Handler) http.Handler
	switch {
	case cfg.JWTSecret != "" && cfg.JWTRequired:
		guards = append(guards, auth.Middleware(cfg.JWTSecret))
	case cfg.JWTSecret != "":
		guards = append(guards, auth.Optional(cfg.JWTSecret))
	}
	limiter := ratelimit.NewRateLimiter(infra.Redis,
		ratelimit.PerHour(cfg.RateAnonPerHour), ratelimit.PerHour(cfg.RateUserPerHour))
	if limiter == nil {
		logger.Warn("rate limiting disabled without redis")
	}
	guards = append(guards, limiter.Middleware)

	fuelHTTP := handler.NewHTTP(coordinator, stationStore, logger.Named("http"), guards...)

	r := chi.NewRouter()
	r.Mount("/", fuelHTTP.Router())
	r.Mount("/observability", observability.MetricsRouter(infra.Ready))
	r.Mount("/docs", api.DocsRouter())

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("fuel api listening", zap.String("addr", srv.Addr), zap.String("provider", cfg.Provider.Name))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("http server", zap.Error(err))
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	if local != nil {
		local.Close()
	}
}

// startLocalWorkers runs the executor in-process when no broker is configured.
func startLocalWorkers(ctx context.Context, cfg config.Config, infra *app.Infra, store domain.CacheStore, locator domain.StationLocator, logger *zap.Logger) (*task.MemoryQueue, error) {
	provider, err := app.BuildProvider(cfg.Provider)
	if err != nil {
		return nil, err
	}
	executor, err := app.BuildExecutor(cfg, store, provider, locator, events.NewPublisher(infra.NATS, events.DefaultSubject), logger)
	if err != nil {
		return nil, err
	}
	queue := task.NewMemoryQueue(cfg.Workers, cfg.QueueBuffer, logger.Named("queue"))
	queue.Start(ctx, executor.Execute)
	return queue, nil
}
