package stations

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/example/fuelroute/internal/fuel/domain"
)

const (
	defaultGeoKey  = "station:locs"
	defaultDataKey = "station:data"
)

// RedisLocator indexes station positions in a Redis GEO set and keeps the
// station payloads in a hash keyed by station id.
type RedisLocator struct {
	client  *redis.Client
	geoKey  string
	dataKey string
}

// NewRedisLocator constructs a Redis-backed locator. An empty prefix uses the default keys.
func NewRedisLocator(client *redis.Client, prefix string) *RedisLocator {
	l := &RedisLocator{client: client, geoKey: defaultGeoKey, dataKey: defaultDataKey}
	if prefix != "" {
		l.geoKey = prefix + ":locs"
		l.dataKey = prefix + ":data"
	}
	return l
}

func (r *RedisLocator) UpsertStations(ctx context.Context, stations []domain.FuelStation) error {
	if len(stations) == 0 {
		return nil
	}
	pipe := r.client.TxPipeline()
	for _, s := range stations {
		payload, err := json.Marshal(s)
		if err != nil {
			return fmt.Errorf("marshal station %s: %w", s.ID, err)
		}
		pipe.GeoAdd(ctx, r.geoKey, &redis.GeoLocation{
			Name:      s.ID,
			Longitude: s.Location.Lon,
			Latitude:  s.Location.Lat,
		})
		pipe.HSet(ctx, r.dataKey, s.ID, payload)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis upsert stations: %w", err)
	}
	return nil
}

// FindNear fetches every station inside the radius, since the cheapest one
// need not be among the nearest, then ranks by price and distance.
func (r *RedisLocator) FindNear(ctx context.Context, point domain.Coordinate, radiusMiles float64, limit int) ([]domain.StationHit, error) {
	if r == nil || r.client == nil {
		return nil, errors.New("redis station locator not configured")
	}
	locs, err := r.client.GeoRadius(ctx, r.geoKey, point.Lon, point.Lat, &redis.GeoRadiusQuery{
		Radius:   radiusMiles,
		Unit:     "mi",
		WithDist: true,
		Sort:     "ASC",
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("redis georadius: %w", err)
	}
	if len(locs) == 0 {
		return []domain.StationHit{}, nil
	}

	ids := make([]string, len(locs))
	for i, loc := range locs {
		ids[i] = loc.Name
	}
	stations, err := r.load(ctx, ids)
	if err != nil {
		return nil, err
	}

	hits := make([]domain.StationHit, 0, len(locs))
	for _, loc := range locs {
		s, ok := stations[loc.Name]
		if !ok {
			continue
		}
		hits = append(hits, domain.StationHit{Station: s, DistanceMiles: loc.Dist})
	}
	SortHits(hits)
	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

// ListStations pages through stations in geo set order.
func (r *RedisLocator) ListStations(ctx context.Context, offset, limit int) ([]domain.FuelStation, int, error) {
	total, err := r.client.ZCard(ctx, r.geoKey).Result()
	if err != nil {
		return nil, 0, fmt.Errorf("redis zcard: %w", err)
	}
	if offset < 0 {
		offset = 0
	}
	if limit <= 0 || int64(offset) >= total {
		return []domain.FuelStation{}, int(total), nil
	}
	ids, err := r.client.ZRange(ctx, r.geoKey, int64(offset), int64(offset+limit-1)).Result()
	if err != nil {
		return nil, 0, fmt.Errorf("redis zrange: %w", err)
	}
	stations, err := r.load(ctx, ids)
	if err != nil {
		return nil, 0, err
	}
	out := make([]domain.FuelStation, 0, len(ids))
	for _, id := range ids {
		if s, ok := stations[id]; ok {
			out = append(out, s)
		}
	}
	return out, int(total), nil
}

func (r *RedisLocator) load(ctx context.Context, ids []string) (map[string]domain.FuelStation, error) {
	values, err := r.client.HMGet(ctx, r.dataKey, ids...).Result()
	if err != nil {
		return nil, fmt.Errorf("redis hmget: %w", err)
	}
	out := make(map[string]domain.FuelStation, len(ids))
	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			continue
		}
		var s domain.FuelStation
		if err := json.Unmarshal([]byte(raw), &s); err != nil {
			return nil, fmt.Errorf("decode station %s: %w", ids[i], err)
		}
		out[ids[i]] = s
	}
	return out, nil
}
