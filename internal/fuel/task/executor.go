package task

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/example/fuelroute/internal/cache"
	"github.com/example/fuelroute/internal/fuel/domain"
)

// Planner prices a provider route.
type Planner interface {
	Plan(ctx context.Context, route domain.Route) (domain.RouteResult, error)
}

// Executor runs queued route jobs. It is safe for concurrent use by queue workers.
type Executor struct {
	cache    domain.CacheStore
	store    recordStore
	provider domain.RouteProvider
	planner  Planner
	events   domain.EventPublisher
	clock    domain.Clock
	logger   *zap.Logger
	cfg      Config
	tracer   trace.Tracer
}

func NewExecutor(store domain.CacheStore, provider domain.RouteProvider, planner Planner, events domain.EventPublisher, clock domain.Clock, logger *zap.Logger, cfg Config) (*Executor, error) {
	if store == nil {
		return nil, errors.New("cache store is required")
	}
	if provider == nil {
		return nil, errors.New("route provider is required")
	}
	if planner == nil {
		return nil, errors.New("planner is required")
	}
	if clock == nil {
		clock = domain.SystemClock{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg = cfg.withDefaults()
	return &Executor{
		cache:    store,
		store:    recordStore{cache: store, ttl: cfg.TaskTTL},
		provider: provider,
		planner:  planner,
		events:   events,
		clock:    clock,
		logger:   logger,
		cfg:      cfg,
		tracer:   otel.Tracer("fuel.task.executor"),
	}, nil
}

// Execute drives one job to a terminal state. Computation failures are
// recorded on the task and do not produce an error; only failures to persist
// task state are returned so the queue can redeliver.
func (e *Executor) Execute(ctx context.Context, job domain.Job) error {
	ctx, span := e.tracer.Start(ctx, "task.execute", trace.WithAttributes(
		attribute.String("task.id", job.TaskID),
		attribute.String("route.key", job.RouteKey),
	))
	defer span.End()
	started := time.Now()
	logger := e.logger.With(zap.String("task_id", job.TaskID), zap.String("route_key", job.RouteKey))

	rec, found, err := e.store.get(ctx, job.TaskID)
	if err != nil {
		return err
	}
	if !found {
		now := e.clock.Now()
		rec = domain.TaskRecord{ID: job.TaskID, RouteKey: job.RouteKey, Query: job.Query, State: domain.StatePending, CreatedAt: now, UpdatedAt: now}
	}
	if rec.State.Terminal() {
		logger.Info("duplicate delivery of finished task ignored", zap.String("state", string(rec.State)))
		return nil
	}
	if rec.State == domain.StatePending {
		if err := transition(&rec, domain.StateStarted, e.clock.Now()); err != nil {
			return err
		}
		if err := e.store.save(ctx, rec); err != nil {
			return err
		}
		e.publish(ctx, rec, domain.EventTaskStarted)
	}

	result, err := e.compute(ctx, job.Query)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.Warn("route task failed", zap.Error(err))
		return e.finish(ctx, rec, domain.StateFailure, nil, err.Error(), started)
	}

	payload, err := json.Marshal(result)
	if err != nil {
		return e.finish(ctx, rec, domain.StateFailure, nil, fmt.Sprintf("encode result: %v", err), started)
	}
	if err := e.cache.Set(ctx, job.RouteKey, payload, e.cfg.ResultTTL); err != nil {
		cacheWriteFailures.Inc()
		logger.Warn("result cache write failed", zap.Error(err))
	} else if err := e.cache.Set(ctx, routeIndexKey(job.TaskID), []byte(job.RouteKey), e.cfg.ResultTTL); err != nil {
		logger.Warn("route index write failed", zap.Error(err))
	}

	span.SetAttributes(attribute.Int("stops", len(result.FuelStops)))
	logger.Info("route task finished",
		zap.Int("stops", len(result.FuelStops)),
		zap.Float64("distance_miles", result.TotalDistanceMiles),
		zap.Float64("total_cost", result.TotalFuelCost))
	return e.finish(ctx, rec, domain.StateSuccess, &result, "", started)
}

func (e *Executor) compute(ctx context.Context, q domain.RouteQuery) (domain.RouteResult, error) {
	if err := q.Validate(); err != nil {
		return domain.RouteResult{}, err
	}
	route, err := e.provider.Route(ctx, q.Start, q.Finish)
	if err != nil {
		return domain.RouteResult{}, fmt.Errorf("fetch route: %w", err)
	}
	result, err := e.planner.Plan(ctx, route)
	if err != nil {
		return domain.RouteResult{}, fmt.Errorf("plan fuel stops: %w", err)
	}
	return result, nil
}

func (e *Executor) finish(ctx context.Context, rec domain.TaskRecord, state domain.TaskState, result *domain.RouteResult, message string, started time.Time) error {
	if err := transition(&rec, state, e.clock.Now()); err != nil {
		return err
	}
	rec.Result = result
	rec.Error = message
	if err := e.store.save(ctx, rec); err != nil {
		return err
	}
	executions.WithLabelValues(string(state)).Observe(time.Since(started).Seconds())
	e.releaseMarker(ctx, rec)

	eventType := domain.EventTaskSucceeded
	if state == domain.StateFailure {
		eventType = domain.EventTaskFailed
	}
	e.publish(ctx, rec, eventType)
	return nil
}

// releaseMarker deletes the in-flight marker only while it still names this task.
func (e *Executor) releaseMarker(ctx context.Context, rec domain.TaskRecord) {
	key := cache.MarkerKey(rec.RouteKey)
	raw, ok, err := e.cache.Get(ctx, key)
	if err != nil || !ok || string(raw) != rec.ID {
		return
	}
	if err := e.cache.Delete(ctx, key); err != nil {
		e.logger.Warn("release marker failed", zap.String("route_key", rec.RouteKey), zap.Error(err))
	}
}

func (e *Executor) publish(ctx context.Context, rec domain.TaskRecord, eventType domain.EventType) {
	if e.events == nil {
		return
	}
	event := domain.TaskEvent{
		Type:       eventType,
		TaskID:     rec.ID,
		RouteKey:   rec.RouteKey,
		State:      rec.State,
		Error:      rec.Error,
		OccurredAt: rec.UpdatedAt,
	}
	if rec.Result != nil {
		event.Stops = len(rec.Result.FuelStops)
		event.TotalCost = rec.Result.TotalFuelCost
	}
	if err := e.events.Publish(ctx, event); err != nil {
		e.logger.Warn("publish task event failed", zap.String("task_id", rec.ID), zap.Error(err))
	}
}
