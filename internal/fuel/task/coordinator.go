package task

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/example/fuelroute/internal/cache"
	"github.com/example/fuelroute/internal/fuel/domain"
)

// Queue hands jobs to the worker pool.
type Queue interface {
	Enqueue(ctx context.Context, job domain.Job) error
}

// Config holds cache lifetimes shared by the coordinator and the executor.
type Config struct {
	ResultTTL time.Duration
	MarkerTTL time.Duration
	TaskTTL   time.Duration
}

func (c Config) withDefaults() Config {
	if c.ResultTTL <= 0 {
		c.ResultTTL = time.Hour
	}
	if c.MarkerTTL <= 0 {
		c.MarkerTTL = 10 * time.Minute
	}
	if c.TaskTTL <= 0 {
		c.TaskTTL = 24 * time.Hour
	}
	return c
}

const claimAttempts = 3

// Coordinator answers route submissions from cache, joins in-flight work for
// the same route key, or enqueues a new task.
type Coordinator struct {
	cache  domain.CacheStore
	queue  Queue
	store  recordStore
	clock  domain.Clock
	logger *zap.Logger
	cfg    Config
	newID  func() string
}

func NewCoordinator(store domain.CacheStore, queue Queue, clock domain.Clock, logger *zap.Logger, cfg Config) (*Coordinator, error) {
	if store == nil {
		return nil, errors.New("cache store is required")
	}
	if queue == nil {
		return nil, errors.New("task queue is required")
	}
	if clock == nil {
		clock = domain.SystemClock{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg = cfg.withDefaults()
	return &Coordinator{
		cache:  store,
		queue:  queue,
		store:  recordStore{cache: store, ttl: cfg.TaskTTL},
		clock:  clock,
		logger: logger,
		cfg:    cfg,
		newID:  uuid.NewString,
	}, nil
}

// Submit validates q and returns a handle. A cached result yields SUCCESS
// without a task id; live work for the same route is joined, not duplicated.
func (c *Coordinator) Submit(ctx context.Context, q domain.RouteQuery) (domain.TaskHandle, error) {
	if err := q.Validate(); err != nil {
		submissions.WithLabelValues("invalid").Inc()
		return domain.TaskHandle{}, err
	}
	routeKey := cache.RouteKey(q)
	markerKey := cache.MarkerKey(routeKey)

	for attempt := 0; attempt < claimAttempts; attempt++ {
		result, ok, err := loadResult(ctx, c.cache, routeKey)
		if err != nil {
			return domain.TaskHandle{}, fmt.Errorf("read result: %w", err)
		}
		if ok {
			submissions.WithLabelValues("cached").Inc()
			return domain.TaskHandle{RouteKey: routeKey, State: domain.StateSuccess, Result: result}, nil
		}

		if h, ok, err := c.inFlight(ctx, routeKey); err != nil {
			return domain.TaskHandle{}, err
		} else if ok {
			submissions.WithLabelValues("joined").Inc()
			return h, nil
		}

		id := c.newID()
		claimed, err := c.cache.SetNX(ctx, markerKey, []byte(id), c.cfg.MarkerTTL)
		if err != nil {
			return domain.TaskHandle{}, fmt.Errorf("claim marker: %w", err)
		}
		if !claimed {
			// Another submitter won; loop to join its task.
			continue
		}
		return c.enqueue(ctx, id, routeKey, q)
	}
	return domain.TaskHandle{}, fmt.Errorf("claim marker for %s: contention", routeKey)
}

func (c *Coordinator) enqueue(ctx context.Context, id, routeKey string, q domain.RouteQuery) (domain.TaskHandle, error) {
	now := c.clock.Now()
	rec := domain.TaskRecord{
		ID:        id,
		RouteKey:  routeKey,
		Query:     q,
		State:     domain.StatePending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := c.store.save(ctx, rec); err != nil {
		c.release(ctx, routeKey)
		return domain.TaskHandle{}, err
	}
	if err := c.queue.Enqueue(ctx, domain.Job{TaskID: id, RouteKey: routeKey, Query: q}); err != nil {
		c.release(ctx, routeKey)
		rec.State = domain.StateFailure
		rec.Error = err.Error()
		rec.UpdatedAt = c.clock.Now()
		if saveErr := c.store.save(ctx, rec); saveErr != nil {
			c.logger.Warn("record rejected task", zap.String("task_id", id), zap.Error(saveErr))
		}
		submissions.WithLabelValues("rejected").Inc()
		return domain.TaskHandle{}, fmt.Errorf("enqueue task: %w", err)
	}
	submissions.WithLabelValues("enqueued").Inc()
	c.logger.Info("route task enqueued", zap.String("task_id", id), zap.String("route_key", routeKey))
	return rec.Handle(), nil
}

// inFlight reports the task currently holding the marker for routeKey.
func (c *Coordinator) inFlight(ctx context.Context, routeKey string) (domain.TaskHandle, bool, error) {
	raw, ok, err := c.cache.Get(ctx, cache.MarkerKey(routeKey))
	if err != nil {
		return domain.TaskHandle{}, false, fmt.Errorf("read marker: %w", err)
	}
	if !ok {
		return domain.TaskHandle{}, false, nil
	}
	id := string(raw)
	rec, found, err := c.store.get(ctx, id)
	if err != nil {
		return domain.TaskHandle{}, false, err
	}
	if !found {
		// Marker written but record not yet visible.
		return domain.TaskHandle{ID: id, RouteKey: routeKey, State: domain.StatePending}, true, nil
	}
	return rec.Handle(), true, nil
}

func (c *Coordinator) release(ctx context.Context, routeKey string) {
	if err := c.cache.Delete(ctx, cache.MarkerKey(routeKey)); err != nil {
		c.logger.Warn("release marker failed", zap.String("route_key", routeKey), zap.Error(err))
	}
}

// Poll reports the state of a task. A cached result wins over the task record
// because it outlives queue bookkeeping.
func (c *Coordinator) Poll(ctx context.Context, id string) (domain.TaskHandle, error) {
	rawKey, ok, err := c.cache.Get(ctx, routeIndexKey(id))
	if err != nil {
		return domain.TaskHandle{}, fmt.Errorf("read route index: %w", err)
	}
	if ok {
		routeKey := string(rawKey)
		result, hit, err := loadResult(ctx, c.cache, routeKey)
		if err != nil {
			return domain.TaskHandle{}, err
		}
		if hit {
			return domain.TaskHandle{ID: id, RouteKey: routeKey, State: domain.StateSuccess, Result: result}, nil
		}
	}

	rec, found, err := c.store.get(ctx, id)
	if err != nil {
		return domain.TaskHandle{}, err
	}
	if !found {
		return domain.TaskHandle{}, domain.ErrTaskNotFound
	}
	return rec.Handle(), nil
}

// PollRoute reports the state of a route key: cached result, in-flight task, or not found.
func (c *Coordinator) PollRoute(ctx context.Context, routeKey string) (domain.TaskHandle, error) {
	result, ok, err := loadResult(ctx, c.cache, routeKey)
	if err != nil {
		return domain.TaskHandle{}, err
	}
	if ok {
		return domain.TaskHandle{RouteKey: routeKey, State: domain.StateSuccess, Result: result}, nil
	}
	h, ok, err := c.inFlight(ctx, routeKey)
	if err != nil {
		return domain.TaskHandle{}, err
	}
	if !ok {
		return domain.TaskHandle{}, domain.ErrTaskNotFound
	}
	return h, nil
}
