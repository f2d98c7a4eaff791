package domain

import (
	"context"
	"math"
)

const (
	earthRadiusMeters = 6371008.8
	metersPerMile     = 1609.344
)

// MetersTo is the haversine great-circle distance from c to o.
func (c Coordinate) MetersTo(o Coordinate) float64 {
	lat1 := c.Lat * math.Pi / 180
	lat2 := o.Lat * math.Pi / 180
	dLat := lat2 - lat1
	dLon := (o.Lon - c.Lon) * math.Pi / 180
	h := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusMeters * math.Asin(math.Min(1, math.Sqrt(h)))
}

func (c Coordinate) MilesTo(o Coordinate) float64 {
	return c.MetersTo(o) / metersPerMile
}

// Geocoder resolves a street address to a coordinate. An empty address asks
// for the city centre.
type Geocoder interface {
	Geocode(ctx context.Context, address, city, state string) (Coordinate, error)
}
