package planner

import (
	"context"
	"errors"
	"fmt"
	"math"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/example/fuelroute/internal/fuel/domain"
)

// milesPerDegree converts planar degree distance to miles for the trigger walk.
const milesPerDegree = 69.0

// SelectorConfig tunes the greedy stop selection.
type SelectorConfig struct {
	RangeMiles      float64
	RadiusMiles     float64
	MaxStops        int
	CandidateLimit  int
	CarryOverOnMiss bool
}

// Selector picks fuel stops along sampled waypoints.
type Selector struct {
	locator domain.StationLocator
	logger  *zap.Logger
	cfg     SelectorConfig
	tracer  trace.Tracer
}

// NewSelector builds a Selector. Zero config fields fall back to a 500 mile
// range, a 50 mile search radius, three stops and ten candidates per lookup.
func NewSelector(locator domain.StationLocator, logger *zap.Logger, cfg SelectorConfig) (*Selector, error) {
	if locator == nil {
		return nil, errors.New("station locator is required")
	}
	if cfg.RangeMiles <= 0 {
		cfg.RangeMiles = 500
	}
	if cfg.RadiusMiles <= 0 {
		cfg.RadiusMiles = 50
	}
	if cfg.MaxStops <= 0 {
		cfg.MaxStops = 3
	}
	if cfg.CandidateLimit <= 0 {
		cfg.CandidateLimit = 10
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Selector{
		locator: locator,
		logger:  logger,
		cfg:     cfg,
		tracer:  otel.Tracer("fuel.planner.selector"),
	}, nil
}

type lookupOutcome int

const (
	lookupFound lookupOutcome = iota
	lookupSkip
	lookupFail
)

func (o lookupOutcome) String() string {
	switch o {
	case lookupFound:
		return "found"
	case lookupSkip:
		return "skip"
	default:
		return "fail"
	}
}

type lookupResult struct {
	outcome lookupOutcome
	stop    domain.FuelStop
	err     error
}

// Select walks the waypoints in order and returns the chosen stops. A locator
// error aborts the walk; an empty neighbourhood only skips that waypoint.
func (s *Selector) Select(ctx context.Context, waypoints []domain.Coordinate) ([]domain.FuelStop, error) {
	ctx, span := s.tracer.Start(ctx, "planner.select", trace.WithAttributes(
		attribute.Int("waypoints", len(waypoints)),
	))
	defer span.End()

	stops := make([]domain.FuelStop, 0, s.cfg.MaxStops)
	if len(waypoints) < 2 {
		return stops, nil
	}

	seen := make(map[string]struct{}, s.cfg.MaxStops)
	lastIndex := 0
	accumulated := 0.0
	final := len(waypoints) - 1

	for i := 1; i <= final && len(stops) < s.cfg.MaxStops; i++ {
		accumulated += planarMiles(waypoints[lastIndex], waypoints[i])
		if accumulated < s.cfg.RangeMiles && i != final {
			continue
		}

		res := s.lookup(ctx, waypoints[i], seen)
		stationLookups.WithLabelValues(res.outcome.String()).Inc()
		switch res.outcome {
		case lookupFound:
			stops = append(stops, res.stop)
			seen[res.stop.ID] = struct{}{}
			accumulated = 0
			lastIndex = i
			s.logger.Debug("fuel stop selected",
				zap.Int("waypoint", i),
				zap.String("station_id", res.stop.ID),
				zap.Stringer("price", res.stop.Price))
		case lookupSkip:
			s.logger.Info("no unused station near waypoint",
				zap.Int("waypoint", i),
				zap.Float64("accumulated_miles", accumulated))
			if !s.cfg.CarryOverOnMiss {
				accumulated = 0
			}
		case lookupFail:
			span.RecordError(res.err)
			return nil, fmt.Errorf("station lookup at waypoint %d: %w", i, res.err)
		}
	}

	stopsPerRoute.Observe(float64(len(stops)))
	span.SetAttributes(attribute.Int("stops", len(stops)))
	return stops, nil
}

func (s *Selector) lookup(ctx context.Context, point domain.Coordinate, seen map[string]struct{}) lookupResult {
	hits, err := s.locator.FindNear(ctx, point, s.cfg.RadiusMiles, s.cfg.CandidateLimit)
	if err != nil {
		return lookupResult{outcome: lookupFail, err: err}
	}
	for _, hit := range hits {
		if _, dup := seen[hit.Station.ID]; dup {
			continue
		}
		return lookupResult{outcome: lookupFound, stop: domain.FuelStop{
			FuelStation:            hit.Station,
			DistanceFromRouteMiles: round2(hit.DistanceMiles),
		}}
	}
	return lookupResult{outcome: lookupSkip}
}

// planarMiles is the euclidean distance in degrees scaled to miles. It is a
// cheap trigger heuristic; ranking distance comes from the locator.
func planarMiles(a, b domain.Coordinate) float64 {
	return math.Hypot(b.Lat-a.Lat, b.Lon-a.Lon) * milesPerDegree
}
