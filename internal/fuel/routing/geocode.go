package routing

import (
	"context"
	"net/url"
	"strings"

	"github.com/example/fuelroute/internal/fuel/domain"
)

// geocodeQuery joins the non-empty address parts into one free-form US query.
func geocodeQuery(address, city, state string) string {
	parts := make([]string, 0, 4)
	for _, p := range []string{address, city, state} {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(append(parts, "USA"), ", ")
}

type mapboxGeocodeResponse struct {
	Features []struct {
		Center []float64 `json:"center"`
	} `json:"features"`
}

// Geocode resolves an address with the Mapbox places endpoint.
func (m *Mapbox) Geocode(ctx context.Context, address, city, state string) (domain.Coordinate, error) {
	endpoint := m.baseURL + "/geocoding/v5/mapbox.places/" + url.PathEscape(geocodeQuery(address, city, state)) + ".json"
	params := url.Values{}
	params.Set("access_token", m.token)
	params.Set("limit", "1")
	params.Set("country", "us")
	params.Set("types", "address,place,poi")

	var body mapboxGeocodeResponse
	if err := m.getJSON(ctx, endpoint, params, &body); err != nil {
		return domain.Coordinate{}, err
	}
	if len(body.Features) == 0 || len(body.Features[0].Center) < 2 {
		return domain.Coordinate{}, &domain.UpstreamDataError{Provider: m.provider, Reason: "no geocoding match"}
	}
	center := body.Features[0].Center
	return domain.NewCoordinate(center[1], center[0]), nil
}

type tomtomGeocodeResponse struct {
	Results []struct {
		Position struct {
			Lat float64 `json:"lat"`
			Lon float64 `json:"lon"`
		} `json:"position"`
	} `json:"results"`
}

// Geocode resolves an address with the TomTom search API.
func (t *TomTom) Geocode(ctx context.Context, address, city, state string) (domain.Coordinate, error) {
	endpoint := t.baseURL + "/search/2/geocode/" + url.PathEscape(geocodeQuery(address, city, state)) + ".json"
	params := url.Values{}
	params.Set("key", t.apiKey)
	params.Set("limit", "1")
	params.Set("countrySet", "US")

	var body tomtomGeocodeResponse
	if err := t.getJSON(ctx, endpoint, params, &body); err != nil {
		return domain.Coordinate{}, err
	}
	if len(body.Results) == 0 {
		return domain.Coordinate{}, &domain.UpstreamDataError{Provider: t.provider, Reason: "no geocoding match"}
	}
	pos := body.Results[0].Position
	return domain.NewCoordinate(pos.Lat, pos.Lon), nil
}

var (
	_ domain.Geocoder = (*Mapbox)(nil)
	_ domain.Geocoder = (*TomTom)(nil)
)
