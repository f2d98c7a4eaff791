package stations

import (
	"context"
	"sort"
	"sync"

	"github.com/example/fuelroute/internal/fuel/domain"
)

// MemoryLocator keeps stations in process and answers proximity queries with a
// linear haversine scan. Suitable for tests and small datasets.
type MemoryLocator struct {
	mu       sync.RWMutex
	stations map[string]domain.FuelStation
}

func NewMemoryLocator(seed ...domain.FuelStation) *MemoryLocator {
	m := &MemoryLocator{stations: make(map[string]domain.FuelStation, len(seed))}
	for _, s := range seed {
		m.stations[s.ID] = s
	}
	return m
}

func (m *MemoryLocator) UpsertStations(_ context.Context, stations []domain.FuelStation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range stations {
		m.stations[s.ID] = s
	}
	return nil
}

func (m *MemoryLocator) FindNear(ctx context.Context, point domain.Coordinate, radiusMiles float64, limit int) ([]domain.StationHit, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	hits := make([]domain.StationHit, 0)
	for _, s := range m.stations {
		d := point.MilesTo(s.Location)
		if d <= radiusMiles {
			hits = append(hits, domain.StationHit{Station: s, DistanceMiles: d})
		}
	}
	m.mu.RUnlock()

	SortHits(hits)
	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

func (m *MemoryLocator) ListStations(_ context.Context, offset, limit int) ([]domain.FuelStation, int, error) {
	m.mu.RLock()
	all := make([]domain.FuelStation, 0, len(m.stations))
	for _, s := range m.stations {
		all = append(all, s)
	}
	m.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })
	return page(all, offset, limit), len(all), nil
}

// SortHits orders hits by price, then distance, then id for stable ties.
func SortHits(hits []domain.StationHit) {
	sort.SliceStable(hits, func(i, j int) bool {
		a, b := hits[i], hits[j]
		if a.Station.Price != b.Station.Price {
			return a.Station.Price < b.Station.Price
		}
		if a.DistanceMiles != b.DistanceMiles {
			return a.DistanceMiles < b.DistanceMiles
		}
		return a.Station.ID < b.Station.ID
	})
}

func page(all []domain.FuelStation, offset, limit int) []domain.FuelStation {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(all) {
		return []domain.FuelStation{}
	}
	end := len(all)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return append([]domain.FuelStation(nil), all[offset:end]...)
}
