// Package app assembles the route planning components from configuration.
// Both the API and the worker binaries build their graph through it.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/example/fuelroute/internal/cache"
	"github.com/example/fuelroute/internal/config"
	"github.com/example/fuelroute/internal/fuel/domain"
	"github.com/example/fuelroute/internal/fuel/planner"
	"github.com/example/fuelroute/internal/fuel/routing"
	"github.com/example/fuelroute/internal/fuel/stations"
	"github.com/example/fuelroute/internal/fuel/task"
)

// Stations is what every station backend provides.
type Stations interface {
	domain.StationLocator
	domain.StationWriter
	domain.StationCatalog
}

// Infra holds the optional external connections. Nil fields mean the
// corresponding service is not configured.
type Infra struct {
	DB    *sql.DB
	Redis *redis.Client
	NATS  *nats.Conn
}

// Connect opens every connection named in cfg. Postgres and Redis failures
// are fatal; NATS is optional and only logged, as the API falls back to the
// in-process queue.
func Connect(ctx context.Context, cfg config.Config, name string, logger *zap.Logger) (*Infra, error) {
	infra := &Infra{}
	if cfg.PostgresDSN != "" {
		db, err := sql.Open("pgx", cfg.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("postgres connect: %w", err)
		}
		db.SetMaxOpenConns(10)
		db.SetConnMaxLifetime(5 * time.Minute)
		if err := db.PingContext(ctx); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("postgres ping: %w", err)
		}
		infra.DB = db
	}
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			infra.Close()
			return nil, fmt.Errorf("redis ping: %w", err)
		}
		infra.Redis = client
	}
	if cfg.NATSURL != "" {
		conn, err := nats.Connect(cfg.NATSURL, nats.Name(name))
		if err != nil {
			logger.Warn("nats connection failed", zap.Error(err))
		} else {
			infra.NATS = conn
		}
	}
	return infra, nil
}

func (i *Infra) Close() {
	if i == nil {
		return
	}
	if i.NATS != nil {
		_ = i.NATS.Drain()
	}
	if i.Redis != nil {
		_ = i.Redis.Close()
	}
	if i.DB != nil {
		_ = i.DB.Close()
	}
}

// Ready pings the configured backends.
func (i *Infra) Ready(ctx context.Context) error {
	if i.DB != nil {
		if err := i.DB.PingContext(ctx); err != nil {
			return fmt.Errorf("postgres: %w", err)
		}
	}
	if i.Redis != nil {
		if err := i.Redis.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis: %w", err)
		}
	}
	if i.NATS != nil && !i.NATS.IsConnected() {
		return fmt.Errorf("nats: %s", i.NATS.Status())
	}
	return nil
}

// Cache returns the shared result store: Redis when available, memory otherwise.
func (i *Infra) Cache() domain.CacheStore {
	if i.Redis != nil {
		return cache.NewRedisStore(i.Redis, "")
	}
	return cache.NewMemoryStore(domain.SystemClock{})
}

// BuildProvider returns the configured routing client.
func BuildProvider(cfg config.Provider) (domain.RouteProvider, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	hc := &http.Client{Timeout: cfg.Timeout}
	switch cfg.Name {
	case config.ProviderGeoapify:
		return routing.NewGeoapify(routing.GeoapifyConfig{APIKey: cfg.APIKey, BaseURL: cfg.BaseURL, Client: hc})
	case config.ProviderTomTom:
		return routing.NewTomTom(routing.TomTomConfig{APIKey: cfg.APIKey, BaseURL: cfg.BaseURL, Client: hc})
	case config.ProviderMapbox:
		return routing.NewMapbox(routing.MapboxConfig{AccessToken: cfg.APIKey, BaseURL: cfg.BaseURL, Client: hc})
	case config.ProviderStraight:
		return routing.Straight{}, nil
	default:
		return nil, &config.ConfigError{Key: "ROUTE_PROVIDER", Reason: "unknown provider " + cfg.Name}
	}
}

// BuildGeocoder returns the address geocoder of the configured provider, or
// nil when the provider has no geocoding endpoint.
func BuildGeocoder(cfg config.Provider) (domain.Geocoder, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	hc := &http.Client{Timeout: cfg.Timeout}
	switch cfg.Name {
	case config.ProviderTomTom:
		return routing.NewTomTom(routing.TomTomConfig{APIKey: cfg.APIKey, BaseURL: cfg.BaseURL, Client: hc})
	case config.ProviderMapbox:
		return routing.NewMapbox(routing.MapboxConfig{AccessToken: cfg.APIKey, BaseURL: cfg.BaseURL, Client: hc})
	default:
		return nil, nil
	}
}

// BuildStations opens the configured station backend. The memory backend is
// seeded from cfg.StationCSV when it is set.
func BuildStations(ctx context.Context, cfg config.Config, infra *Infra, logger *zap.Logger) (Stations, error) {
	switch cfg.StationBackend {
	case config.BackendPostgres:
		if infra.DB == nil {
			return nil, &config.ConfigError{Key: "STATION_BACKEND", Reason: "postgres is not connected"}
		}
		pg := stations.NewPostgresLocator(infra.DB)
		if err := pg.EnsureSchema(ctx); err != nil {
			return nil, err
		}
		return pg, nil
	case config.BackendRedis:
		if infra.Redis == nil {
			return nil, &config.ConfigError{Key: "STATION_BACKEND", Reason: "redis is not connected"}
		}
		return stations.NewRedisLocator(infra.Redis, ""), nil
	default:
		mem := stations.NewMemoryLocator()
		if cfg.StationCSV == "" {
			logger.Warn("memory station backend has no seed file; every lookup will skip")
			return mem, nil
		}
		if _, err := ImportCSV(ctx, cfg.StationCSV, mem, nil, logger); err != nil {
			return nil, err
		}
		return mem, nil
	}
}

// ImportCSV loads a station price file into w and returns the number of
// stations written. A nil geocoder requires the file to carry coordinates.
func ImportCSV(ctx context.Context, path string, w domain.StationWriter, geocoder domain.Geocoder, logger *zap.Logger) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open station file: %w", err)
	}
	defer f.Close()

	parsed, err := stations.ParseCSV(ctx, f, geocoder, logger)
	if err != nil {
		return 0, err
	}
	if err := stations.Import(ctx, w, parsed, 0); err != nil {
		return 0, err
	}
	logger.Info("stations imported", zap.String("path", path), zap.Int("count", len(parsed)))
	return len(parsed), nil
}

// BuildExecutor wires provider, planner and events into a task executor.
func BuildExecutor(cfg config.Config, store domain.CacheStore, provider domain.RouteProvider, locator domain.StationLocator, events domain.EventPublisher, logger *zap.Logger) (*task.Executor, error) {
	selector, err := planner.NewSelector(locator, logger.Named("planner"), planner.SelectorConfig{
		RangeMiles:      cfg.Planner.RangeMiles,
		RadiusMiles:     cfg.Planner.RadiusMiles,
		MaxStops:        cfg.Planner.MaxStops,
		CandidateLimit:  cfg.Planner.CandidateLimit,
		CarryOverOnMiss: cfg.Planner.CarryOverOnMiss,
	})
	if err != nil {
		return nil, err
	}
	plan, err := planner.New(selector, cfg.Planner.SampleTarget)
	if err != nil {
		return nil, err
	}
	return task.NewExecutor(store, provider, plan, events, domain.SystemClock{}, logger.Named("executor"), TaskConfig(cfg))
}

func TaskConfig(cfg config.Config) task.Config {
	return task.Config{ResultTTL: cfg.ResultTTL, MarkerTTL: cfg.MarkerTTL, TaskTTL: cfg.TaskTTL}
}

func JetStreamConfig(cfg config.Config) task.JetStreamConfig {
	return task.JetStreamConfig{Workers: cfg.Workers}
}
