package stations_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/example/fuelroute/internal/fuel/domain"
	"github.com/example/fuelroute/internal/fuel/stations"
)

var (
	tulsa = domain.NewCoordinate(36.1540, -95.9928)

	fixtures = []domain.FuelStation{
		{ID: "7", Name: "CLAREMORE TRAVEL CENTER", City: "Claremore", State: "OK", Price: domain.PriceFromFloat(3.007), Location: domain.NewCoordinate(36.3126, -95.6161)},
		{ID: "12", Name: "QUIKTRIP #7", City: "Tulsa", State: "OK", Price: domain.PriceFromFloat(3.007), Location: domain.NewCoordinate(36.1600, -95.9900)},
		{ID: "33", Name: "LOVES #211", City: "Sapulpa", State: "OK", Price: domain.PriceFromFloat(2.899), Location: domain.NewCoordinate(35.9987, -96.1142)},
		{ID: "90", Name: "PILOT #4", City: "Oklahoma City", State: "OK", Price: domain.PriceFromFloat(2.500), Location: domain.NewCoordinate(35.4676, -97.5164)},
	}
)

func newRedisClient(t *testing.T) *redis.Client {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = client.Close()
		mr.Close()
	})
	return client
}

func ids(hits []domain.StationHit) []string {
	out := make([]string, len(hits))
	for i, h := range hits {
		out[i] = h.Station.ID
	}
	return out
}

func TestMemoryLocatorOrdersByPriceThenDistance(t *testing.T) {
	loc := stations.NewMemoryLocator(fixtures...)
	hits, err := loc.FindNear(context.Background(), tulsa, 50, 10)
	require.NoError(t, err)
	// Oklahoma City is ~100 miles away and outside the radius.
	require.Equal(t, []string{"33", "12", "7"}, ids(hits))
	require.Less(t, hits[1].DistanceMiles, hits[2].DistanceMiles)

	limited, err := loc.FindNear(context.Background(), tulsa, 50, 1)
	require.NoError(t, err)
	require.Equal(t, []string{"33"}, ids(limited))

	none, err := loc.FindNear(context.Background(), domain.NewCoordinate(45.0, -110.0), 50, 10)
	require.NoError(t, err)
	require.Empty(t, none)
}

func TestMemoryLocatorListStations(t *testing.T) {
	loc := stations.NewMemoryLocator(fixtures...)
	page, total, err := loc.ListStations(context.Background(), 1, 2)
	require.NoError(t, err)
	require.Equal(t, 4, total)
	require.Len(t, page, 2)
	require.Equal(t, "33", page[0].ID)
	require.Equal(t, "7", page[1].ID)

	empty, total, err := loc.ListStations(context.Background(), 10, 6)
	require.NoError(t, err)
	require.Equal(t, 4, total)
	require.Empty(t, empty)
}

func TestRedisLocatorFindNear(t *testing.T) {
	ctx := context.Background()
	loc := stations.NewRedisLocator(newRedisClient(t), "")
	require.NoError(t, loc.UpsertStations(ctx, fixtures))

	hits, err := loc.FindNear(ctx, tulsa, 50, 10)
	require.NoError(t, err)
	require.Equal(t, []string{"33", "12", "7"}, ids(hits))
	require.Equal(t, "QUIKTRIP #7", hits[1].Station.Name)
	require.Equal(t, domain.PriceFromFloat(3.007), hits[1].Station.Price)
	require.InDelta(t, 0.5, hits[1].DistanceMiles, 0.5)

	updated := fixtures[1]
	updated.Price = domain.PriceFromFloat(2.100)
	require.NoError(t, loc.UpsertStations(ctx, []domain.FuelStation{updated}))
	hits, err = loc.FindNear(ctx, tulsa, 50, 2)
	require.NoError(t, err)
	require.Equal(t, []string{"12", "33"}, ids(hits))
}

func TestRedisLocatorListStations(t *testing.T) {
	ctx := context.Background()
	loc := stations.NewRedisLocator(newRedisClient(t), "test:stations")
	require.NoError(t, loc.UpsertStations(ctx, fixtures))

	first, total, err := loc.ListStations(ctx, 0, 3)
	require.NoError(t, err)
	require.Equal(t, 4, total)
	require.Len(t, first, 3)

	rest, _, err := loc.ListStations(ctx, 3, 3)
	require.NoError(t, err)
	require.Len(t, rest, 1)

	seen := map[string]bool{}
	for _, s := range append(first, rest...) {
		seen[s.ID] = true
	}
	require.Len(t, seen, 4)
}

const sheet = `OPIS Truckstop ID,Truckstop Name,Address,City,State,Rack ID,Retail Price,Latitude,Longitude
7,WOODSHED OF BIG CABIN,"I-44, EXIT 283 & US-69",Big Cabin,OK,307,3.00733333,36.5381,-95.2214
12,QUIKTRIP #7,I-44 & Yale,Tulsa,OK,307,3.199,36.16,-95.99
7,WOODSHED OF BIG CABIN,"I-44, EXIT 283 & US-69",Big Cabin,OK,307,2.999,36.5381,-95.2214
99,OFFSHORE,Nowhere,London,UK,1,1.0,51.5,-0.12
`

func TestParseCSV(t *testing.T) {
	parsed, err := stations.ParseCSV(context.Background(), strings.NewReader(sheet), nil, nil)
	require.NoError(t, err)
	require.Len(t, parsed, 2)
	require.Equal(t, "7", parsed[0].ID)
	require.Equal(t, domain.PriceFromFloat(2.999), parsed[0].Price)
	require.Equal(t, "I-44, EXIT 283 & US-69", parsed[0].Address)
	require.Equal(t, "12", parsed[1].ID)

	loc := stations.NewMemoryLocator()
	require.NoError(t, stations.Import(context.Background(), loc, parsed, 1))
	_, total, err := loc.ListStations(context.Background(), 0, 10)
	require.NoError(t, err)
	require.Equal(t, 2, total)
}

func TestParseCSVMissingColumn(t *testing.T) {
	_, err := stations.ParseCSV(context.Background(), strings.NewReader("OPIS Truckstop ID,Truckstop Name\n1,x\n"), nil, nil)
	require.ErrorIs(t, err, stations.ErrMissingColumn)
}

type geocodeCall struct{ address, city, state string }

// fakeGeocoder resolves known street addresses; cities resolve when no
// street is given.
type fakeGeocoder struct {
	streets map[string]domain.Coordinate
	cities  map[string]domain.Coordinate
	calls   []geocodeCall
}

func (g *fakeGeocoder) Geocode(_ context.Context, address, city, state string) (domain.Coordinate, error) {
	g.calls = append(g.calls, geocodeCall{address, city, state})
	if address == "" {
		if c, ok := g.cities[city]; ok {
			return c, nil
		}
	} else if c, ok := g.streets[address]; ok {
		return c, nil
	}
	return domain.Coordinate{}, errors.New("no match")
}

const ungeocodedSheet = `OPIS Truckstop ID,Truckstop Name,Address,City,State,Rack ID,Retail Price
7,WOODSHED OF BIG CABIN,"I-44, EXIT 283 & US-69",Big Cabin,OK,307,3.00733333
12,QUIKTRIP #7,Unknown Rd,Tulsa,OK,307,3.199
40,LOST TRUCKS,Nowhere Ln,Atlantis,ZZ,1,2.5
`

func TestParseCSVGeocodesMissingCoordinates(t *testing.T) {
	cityCentre := domain.NewCoordinate(36.15, -95.99)
	geo := &fakeGeocoder{
		streets: map[string]domain.Coordinate{"I-44 and US-69": domain.NewCoordinate(36.5381, -95.2214)},
		cities:  map[string]domain.Coordinate{"Tulsa": cityCentre},
	}

	parsed, err := stations.ParseCSV(context.Background(), strings.NewReader(ungeocodedSheet), geo, zap.NewNop())
	require.NoError(t, err)
	require.Len(t, parsed, 2)
	require.Equal(t, domain.NewCoordinate(36.5381, -95.2214), parsed[0].Location)
	require.Equal(t, "I-44, EXIT 283 & US-69", parsed[0].Address)
	require.Equal(t, cityCentre, parsed[1].Location)

	require.Equal(t, []geocodeCall{
		{"I-44 and US-69", "Big Cabin", "OK"},
		{"Unknown Rd", "Tulsa", "OK"},
		{"", "Tulsa", "OK"},
		{"Nowhere Ln", "Atlantis", "ZZ"},
		{"", "Atlantis", "ZZ"},
	}, geo.calls)
}

func TestParseCSVWithoutCoordinatesNeedsGeocoder(t *testing.T) {
	_, err := stations.ParseCSV(context.Background(), strings.NewReader(ungeocodedSheet), nil, nil)
	require.ErrorIs(t, err, stations.ErrMissingColumn)
}

func TestCleanAddress(t *testing.T) {
	cases := map[string]string{
		"I-44, EXIT 283 & US-69": "I-44 and US-69",
		"I-80 exit 4":            "I-80",
		"123 Main St":            "123 Main St",
		"EXIT 12":                "",
	}
	for in, want := range cases {
		require.Equal(t, want, stations.CleanAddress(in), in)
	}
}
