package planner

import (
	"context"
	"errors"

	"github.com/example/fuelroute/internal/fuel/domain"
)

// Planner turns a provider route into a priced RouteResult.
type Planner struct {
	selector     *Selector
	sampleTarget int
}

func New(selector *Selector, sampleTarget int) (*Planner, error) {
	if selector == nil {
		return nil, errors.New("selector is required")
	}
	if sampleTarget <= 0 {
		sampleTarget = defaultSampleTarget
	}
	return &Planner{selector: selector, sampleTarget: sampleTarget}, nil
}

func (p *Planner) Plan(ctx context.Context, route domain.Route) (domain.RouteResult, error) {
	waypoints := Sample(route.Points, p.sampleTarget)
	stops, err := p.selector.Select(ctx, waypoints)
	if err != nil {
		return domain.RouteResult{}, err
	}
	miles := MetersToMiles(route.DistanceMeters)
	summary := Aggregate(stops, miles)
	return domain.RouteResult{
		Route:              route.Points,
		FuelStops:          stops,
		TotalDistanceMiles: round2(miles),
		TotalTimeSeconds:   route.TimeSeconds,
		TotalFuelCost:      summary.TotalCost,
		CostSummary:        summary,
	}, nil
}
