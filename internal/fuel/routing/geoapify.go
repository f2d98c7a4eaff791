package routing

import (
	"context"
	"errors"
	"net/http"
	"net/url"

	"github.com/example/fuelroute/internal/fuel/domain"
)

const defaultGeoapifyURL = "https://api.geoapify.com/v1/routing"

type GeoapifyConfig struct {
	APIKey  string
	BaseURL string
	Client  *http.Client
}

// Geoapify fetches driving routes from the Geoapify routing API.
type Geoapify struct {
	client
	apiKey  string
	baseURL string
}

func NewGeoapify(cfg GeoapifyConfig) (*Geoapify, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("geoapify api key is empty")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultGeoapifyURL
	}
	return &Geoapify{client: newClient("geoapify", cfg.Client), apiKey: cfg.APIKey, baseURL: cfg.BaseURL}, nil
}

type geoapifyResponse struct {
	Features []struct {
		Geometry struct {
			Type        string         `json:"type"`
			Coordinates [][][2]float64 `json:"coordinates"`
		} `json:"geometry"`
		Properties struct {
			Distance float64 `json:"distance"`
			Time     float64 `json:"time"`
		} `json:"properties"`
	} `json:"features"`
}

func (g *Geoapify) Route(ctx context.Context, start, finish domain.Coordinate) (domain.Route, error) {
	params := url.Values{}
	params.Set("waypoints", latLon(start)+"|"+latLon(finish))
	params.Set("mode", "drive")
	params.Set("details", "route_details")
	params.Set("apiKey", g.apiKey)

	var body geoapifyResponse
	if err := g.getJSON(ctx, g.baseURL, params, &body); err != nil {
		return domain.Route{}, err
	}
	if len(body.Features) == 0 {
		return domain.Route{}, &domain.UpstreamDataError{Provider: g.provider, Reason: "no features"}
	}
	feature := body.Features[0]
	if len(feature.Geometry.Coordinates) == 0 || len(feature.Geometry.Coordinates[0]) < 2 {
		return domain.Route{}, &domain.UpstreamDataError{Provider: g.provider, Reason: "missing geometry"}
	}

	// GeoJSON pairs are [lon, lat]; only the first leg is used for a two-point request.
	leg := feature.Geometry.Coordinates[0]
	points := make([]domain.Coordinate, len(leg))
	for i, p := range leg {
		points[i] = domain.NewCoordinate(p[1], p[0])
	}
	return domain.Route{
		Points:         points,
		DistanceMeters: feature.Properties.Distance,
		TimeSeconds:    feature.Properties.Time,
	}, nil
}
