package planner

import "github.com/example/fuelroute/internal/fuel/domain"

const defaultSampleTarget = 10

// Sample reduces a polyline to roughly target evenly spaced waypoints. The
// first and last points are always kept and order is preserved.
func Sample(points []domain.Coordinate, target int) []domain.Coordinate {
	if target <= 0 {
		target = defaultSampleTarget
	}
	if len(points) <= 2 {
		return append([]domain.Coordinate(nil), points...)
	}
	step := len(points) / target
	if step < 1 {
		step = 1
	}
	out := make([]domain.Coordinate, 0, len(points)/step+1)
	last := -1
	for i := 0; i < len(points); i += step {
		out = append(out, points[i])
		last = i
	}
	if last != len(points)-1 {
		out = append(out, points[len(points)-1])
	}
	return out
}
