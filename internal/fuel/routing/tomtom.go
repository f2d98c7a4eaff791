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

const defaultTomTomURL = "https://api.tomtom.com"

type TomTomConfig struct {
	APIKey  string
	BaseURL string
	Client  *http.Client
}

// TomTom fetches routes from the TomTom calculateRoute API.
type TomTom struct {
	client
	apiKey  string
	baseURL string
}

func NewTomTom(cfg TomTomConfig) (*TomTom, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("tomtom api key is empty")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultTomTomURL
	}
	return &TomTom{client: newClient("tomtom", cfg.Client), apiKey: cfg.APIKey, baseURL: strings.TrimRight(cfg.BaseURL, "/")}, nil
}

type tomtomResponse struct {
	Routes []struct {
		Summary struct {
			LengthInMeters      float64 `json:"lengthInMeters"`
			TravelTimeInSeconds float64 `json:"travelTimeInSeconds"`
		} `json:"summary"`
		Legs []struct {
			Points []struct {
				Latitude  float64 `json:"latitude"`
				Longitude float64 `json:"longitude"`
			} `json:"points"`
		} `json:"legs"`
	} `json:"routes"`
}

func (t *TomTom) Route(ctx context.Context, start, finish domain.Coordinate) (domain.Route, error) {
	endpoint := fmt.Sprintf("%s/routing/1/calculateRoute/%s:%s/json", t.baseURL, latLon(start), latLon(finish))
	params := url.Values{}
	params.Set("key", t.apiKey)
	params.Set("travelMode", "car")
	params.Set("routeType", "eco")
	params.Set("routeRepresentation", "polyline")
	params.Set("computeTravelTimeFor", "all")
	params.Set("vehicleEngineType", "combustion")
	params.Set("avoid", "unpavedRoads")

	var body tomtomResponse
	if err := t.getJSON(ctx, endpoint, params, &body); err != nil {
		return domain.Route{}, err
	}
	if len(body.Routes) == 0 {
		return domain.Route{}, &domain.UpstreamDataError{Provider: t.provider, Reason: "no routes"}
	}
	route := body.Routes[0]
	points := make([]domain.Coordinate, 0)
	for _, leg := range route.Legs {
		for _, p := range leg.Points {
			points = append(points, domain.NewCoordinate(p.Latitude, p.Longitude))
		}
	}
	if len(points) < 2 {
		return domain.Route{}, &domain.UpstreamDataError{Provider: t.provider, Reason: "missing geometry"}
	}
	return domain.Route{
		Points:         points,
		DistanceMeters: route.Summary.LengthInMeters,
		TimeSeconds:    route.Summary.TravelTimeInSeconds,
	}, nil
}
