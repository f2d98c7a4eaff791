package routing

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/example/fuelroute/internal/fuel/domain"
)

const defaultMapboxURL = "https://api.mapbox.com"

type MapboxConfig struct {
	AccessToken string
	BaseURL     string
	Client      *http.Client
}

// Mapbox fetches routes from the Mapbox Directions API.
type Mapbox struct {
	client
	token   string
	baseURL string
}

func NewMapbox(cfg MapboxConfig) (*Mapbox, error) {
	if cfg.AccessToken == "" {
		return nil, errors.New("mapbox access token is empty")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultMapboxURL
	}
	return &Mapbox{client: newClient("mapbox", cfg.Client), token: cfg.AccessToken, baseURL: strings.TrimRight(cfg.BaseURL, "/")}, nil
}

type mapboxResponse struct {
	Routes []struct {
		Distance float64 `json:"distance"`
		Duration float64 `json:"duration"`
		Geometry struct {
			Coordinates [][2]float64 `json:"coordinates"`
		} `json:"geometry"`
	} `json:"routes"`
}

func (m *Mapbox) Route(ctx context.Context, start, finish domain.Coordinate) (domain.Route, error) {
	endpoint := fmt.Sprintf("%s/directions/v5/mapbox/driving/%v,%v;%v,%v",
		m.baseURL, start.Lon, start.Lat, finish.Lon, finish.Lat)
	params := url.Values{}
	params.Set("access_token", m.token)
	params.Set("geometries", "geojson")
	params.Set("overview", "full")

	var body mapboxResponse
	if err := m.getJSON(ctx, endpoint, params, &body); err != nil {
		return domain.Route{}, err
	}
	if len(body.Routes) == 0 || len(body.Routes[0].Geometry.Coordinates) < 2 {
		return domain.Route{}, &domain.UpstreamDataError{Provider: m.provider, Reason: "missing geometry"}
	}
	route := body.Routes[0]
	points := make([]domain.Coordinate, len(route.Geometry.Coordinates))
	for i, p := range route.Geometry.Coordinates {
		points[i] = domain.NewCoordinate(p[1], p[0])
	}
	return domain.Route{Points: points, DistanceMeters: route.Distance, TimeSeconds: route.Duration}, nil
}
