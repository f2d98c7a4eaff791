package planner

import (
	"math"

	"github.com/example/fuelroute/internal/fuel/domain"
)

const (
	MilesPerGallon     = 30.0
	DefaultPricePerGal = 3.50
	MetersPerMile      = 1609.34
)

// Aggregate summarises the fuel cost of driving distanceMiles with the given
// stops. Without stops the national fallback price is used. A negative
// distance yields a zero summary.
func Aggregate(stops []domain.FuelStop, distanceMiles float64) domain.CostSummary {
	if distanceMiles < 0 {
		return domain.CostSummary{}
	}
	avg := DefaultPricePerGal
	if len(stops) > 0 {
		var sum float64
		for _, s := range stops {
			sum += s.Price.Float64()
		}
		avg = sum / float64(len(stops))
	}
	gallons := distanceMiles / MilesPerGallon
	return domain.CostSummary{
		NumberOfStops: len(stops),
		AveragePrice:  round2(avg),
		GallonsNeeded: round2(gallons),
		TotalCost:     round2(gallons * avg),
	}
}

func MetersToMiles(m float64) float64 {
	return m / MetersPerMile
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
