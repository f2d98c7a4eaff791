package task

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/example/fuelroute/internal/fuel/domain"
)

const recordPrefix = "task:"

// recordStore persists task records and the task to route-key index in the
// shared cache store.
type recordStore struct {
	cache domain.CacheStore
	ttl   time.Duration
}

func recordKey(id string) string { return recordPrefix + id }

func routeIndexKey(id string) string { return recordPrefix + id + ":route" }

func (s recordStore) get(ctx context.Context, id string) (domain.TaskRecord, bool, error) {
	raw, ok, err := s.cache.Get(ctx, recordKey(id))
	if err != nil || !ok {
		return domain.TaskRecord{}, false, err
	}
	var rec domain.TaskRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return domain.TaskRecord{}, false, fmt.Errorf("decode task %s: %w", id, err)
	}
	return rec, true, nil
}

func (s recordStore) save(ctx context.Context, rec domain.TaskRecord) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode task %s: %w", rec.ID, err)
	}
	if err := s.cache.Set(ctx, recordKey(rec.ID), payload, s.ttl); err != nil {
		return fmt.Errorf("save task %s: %w", rec.ID, err)
	}
	return nil
}

// transition moves rec to next, refusing moves the state machine forbids.
func transition(rec *domain.TaskRecord, next domain.TaskState, now time.Time) error {
	if !rec.State.CanTransitionTo(next) {
		return fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, rec.State, next)
	}
	rec.State = next
	rec.UpdatedAt = now
	return nil
}

func loadResult(ctx context.Context, cache domain.CacheStore, routeKey string) (*domain.RouteResult, bool, error) {
	raw, ok, err := cache.Get(ctx, routeKey)
	if err != nil || !ok {
		return nil, false, err
	}
	var result domain.RouteResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, false, fmt.Errorf("decode result %s: %w", routeKey, err)
	}
	return &result, true, nil
}
