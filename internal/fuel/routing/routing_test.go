package routing_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/example/fuelroute/internal/fuel/domain"
	"github.com/example/fuelroute/internal/fuel/routing"
)

var (
	bigCabin  = domain.NewCoordinate(36.5381, -95.2214)
	rochester = domain.NewCoordinate(44.0247, -91.6393)
)

func TestGeoapifyParsesGeometry(t *testing.T) {
	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"features":[{"geometry":{"type":"MultiLineString","coordinates":[[[-95.2214,36.5381],[-93.5,40.1],[-91.6393,44.0247]]]},"properties":{"distance":1609340,"time":36000}}]}`))
	}))
	defer srv.Close()

	p, err := routing.NewGeoapify(routing.GeoapifyConfig{APIKey: "k", BaseURL: srv.URL})
	require.NoError(t, err)

	route, err := p.Route(context.Background(), bigCabin, rochester)
	require.NoError(t, err)
	require.Len(t, route.Points, 3)
	require.Equal(t, bigCabin, route.Points[0])
	require.Equal(t, domain.NewCoordinate(40.1, -93.5), route.Points[1])
	require.Equal(t, 1609340.0, route.DistanceMeters)
	require.Equal(t, 36000.0, route.TimeSeconds)
	require.Contains(t, gotQuery, "mode=drive")
	require.Contains(t, gotQuery, "apiKey=k")
	require.Contains(t, gotQuery, "waypoints=36.5381%2C-95.2214%7C44.0247%2C-91.6393")
}

func TestGeoapifyNon200IsUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	p, err := routing.NewGeoapify(routing.GeoapifyConfig{APIKey: "k", BaseURL: srv.URL})
	require.NoError(t, err)

	_, err = p.Route(context.Background(), bigCabin, rochester)
	var upstream *domain.UpstreamError
	require.True(t, errors.As(err, &upstream))
	require.Equal(t, http.StatusInternalServerError, upstream.StatusCode)
	require.Equal(t, "boom", upstream.Body)
}

func TestGeoapifyMissingGeometry(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"features":[{"geometry":{"coordinates":[]},"properties":{"distance":10}}]}`))
	}))
	defer srv.Close()

	p, err := routing.NewGeoapify(routing.GeoapifyConfig{APIKey: "k", BaseURL: srv.URL})
	require.NoError(t, err)

	_, err = p.Route(context.Background(), bigCabin, rochester)
	var data *domain.UpstreamDataError
	require.True(t, errors.As(err, &data))
}

func TestTomTomParsesLegs(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		_, _ = w.Write([]byte(`{"routes":[{"summary":{"lengthInMeters":1609340,"travelTimeInSeconds":40000},
			"legs":[{"points":[{"latitude":36.5381,"longitude":-95.2214},{"latitude":44.0247,"longitude":-91.6393}]}]}]}`))
	}))
	defer srv.Close()

	p, err := routing.NewTomTom(routing.TomTomConfig{APIKey: "k", BaseURL: srv.URL + "/"})
	require.NoError(t, err)

	route, err := p.Route(context.Background(), bigCabin, rochester)
	require.NoError(t, err)
	require.Equal(t, []domain.Coordinate{bigCabin, rochester}, route.Points)
	require.Equal(t, 40000.0, route.TimeSeconds)
	require.True(t, strings.HasPrefix(gotPath, "/routing/1/calculateRoute/36.5381,-95.2214:44.0247,-91.6393/json"))
}

func TestTomTomEmptyRoutes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"routes":[]}`))
	}))
	defer srv.Close()

	p, err := routing.NewTomTom(routing.TomTomConfig{APIKey: "k", BaseURL: srv.URL})
	require.NoError(t, err)
	_, err = p.Route(context.Background(), bigCabin, rochester)
	var data *domain.UpstreamDataError
	require.True(t, errors.As(err, &data))
}

func TestMapboxParsesGeoJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/directions/v5/mapbox/driving/-95.2214,36.5381;-91.6393,44.0247", r.URL.Path)
		_, _ = w.Write([]byte(`{"routes":[{"distance":1000,"duration":60,"geometry":{"coordinates":[[-95.2214,36.5381],[-91.6393,44.0247]]}}]}`))
	}))
	defer srv.Close()

	p, err := routing.NewMapbox(routing.MapboxConfig{AccessToken: "t", BaseURL: srv.URL})
	require.NoError(t, err)
	route, err := p.Route(context.Background(), bigCabin, rochester)
	require.NoError(t, err)
	require.Equal(t, []domain.Coordinate{bigCabin, rochester}, route.Points)
	require.Equal(t, 1000.0, route.DistanceMeters)
}

func TestProvidersRequireKeys(t *testing.T) {
	_, err := routing.NewGeoapify(routing.GeoapifyConfig{})
	require.Error(t, err)
	_, err = routing.NewTomTom(routing.TomTomConfig{})
	require.Error(t, err)
	_, err = routing.NewMapbox(routing.MapboxConfig{})
	require.Error(t, err)
}

func TestStraightInterpolates(t *testing.T) {
	route, err := routing.Straight{}.Route(context.Background(), bigCabin, rochester)
	require.NoError(t, err)
	require.Len(t, route.Points, 50)
	require.Equal(t, bigCabin, route.Points[0])
	require.InDelta(t, rochester.Lat, route.Points[49].Lat, 1e-9)
	// Big Cabin to Rochester is roughly 550 miles as the crow flies.
	require.InDelta(t, 550*1609.34, route.DistanceMeters, 30*1609.34)
	require.Greater(t, route.TimeSeconds, 0.0)
}

func TestMapboxGeocode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/geocoding/v5/mapbox.places/I-44 and US-69, Big Cabin, OK, USA.json", r.URL.Path)
		require.Equal(t, "t", r.URL.Query().Get("access_token"))
		require.Equal(t, "1", r.URL.Query().Get("limit"))
		_, _ = w.Write([]byte(`{"features":[{"center":[-95.2214,36.5381]}]}`))
	}))
	defer srv.Close()

	p, err := routing.NewMapbox(routing.MapboxConfig{AccessToken: "t", BaseURL: srv.URL})
	require.NoError(t, err)
	got, err := p.Geocode(context.Background(), "I-44 and US-69", "Big Cabin", "OK")
	require.NoError(t, err)
	require.Equal(t, bigCabin, got)
}

func TestTomTomGeocodeSkipsEmptyParts(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/search/2/geocode/Rochester, MN, USA.json", r.URL.Path)
		require.Equal(t, "US", r.URL.Query().Get("countrySet"))
		_, _ = w.Write([]byte(`{"results":[{"position":{"lat":44.0247,"lon":-91.6393}}]}`))
	}))
	defer srv.Close()

	p, err := routing.NewTomTom(routing.TomTomConfig{APIKey: "k", BaseURL: srv.URL})
	require.NoError(t, err)
	got, err := p.Geocode(context.Background(), "", "Rochester", "MN")
	require.NoError(t, err)
	require.Equal(t, rochester, got)
}

func TestGeocodeNoMatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/search/") {
			_, _ = w.Write([]byte(`{"results":[]}`))
			return
		}
		_, _ = w.Write([]byte(`{"features":[]}`))
	}))
	defer srv.Close()

	mb, err := routing.NewMapbox(routing.MapboxConfig{AccessToken: "t", BaseURL: srv.URL})
	require.NoError(t, err)
	tt, err := routing.NewTomTom(routing.TomTomConfig{APIKey: "k", BaseURL: srv.URL})
	require.NoError(t, err)

	for _, g := range []domain.Geocoder{mb, tt} {
		_, err := g.Geocode(context.Background(), "Nowhere Ln", "Atlantis", "ZZ")
		var data *domain.UpstreamDataError
		require.True(t, errors.As(err, &data))
	}
}
