package planner

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	stationLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fuel_station_lookups_total",
		Help: "Station lookups performed while planning stops, grouped by outcome.",
	}, []string{"outcome"})

	stopsPerRoute = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "fuel_stops_per_route",
		Help:    "Number of fuel stops selected per planned route.",
		Buckets: []float64{0, 1, 2, 3, 4, 5},
	})
)
