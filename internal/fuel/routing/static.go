package routing

import (
	"context"

	"github.com/example/fuelroute/internal/fuel/domain"
)

const (
	staticSpeedMPS   = 26.8
	staticPointCount = 50
)

// Straight is an offline provider that interpolates a straight line between
// the endpoints. It is used for local development when no API key is set.
type Straight struct{}

func (Straight) Route(ctx context.Context, start, finish domain.Coordinate) (domain.Route, error) {
	if err := ctx.Err(); err != nil {
		return domain.Route{}, err
	}
	points := make([]domain.Coordinate, staticPointCount)
	for i := range points {
		f := float64(i) / float64(staticPointCount-1)
		points[i] = domain.NewCoordinate(
			start.Lat+(finish.Lat-start.Lat)*f,
			start.Lon+(finish.Lon-start.Lon)*f,
		)
	}
	meters := 0.0
	for i := 1; i < len(points); i++ {
		meters += points[i-1].MetersTo(points[i])
	}
	return domain.Route{Points: points, DistanceMeters: meters, TimeSeconds: meters / staticSpeedMPS}, nil
}
