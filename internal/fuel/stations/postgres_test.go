package stations_test

import (
	"context"
	"database/sql"
	"testing"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/example/fuelroute/internal/fuel/stations"
)

func startPostGIS(t *testing.T, ctx context.Context) *sql.DB {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping PostGIS integration test in short mode")
	}
	ctr, err := postgres.Run(ctx, "postgis/postgis:16-3.4-alpine",
		postgres.WithDatabase("fuel"),
		postgres.WithUsername("fuel"),
		postgres.WithPassword("fuel"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(90*time.Second),
		),
	)
	if err != nil {
		t.Skipf("postgis container unavailable: %v", err)
	}
	t.Cleanup(func() { _ = ctr.Terminate(context.Background()) })

	dsn, err := ctr.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	db, err := sql.Open("pgx", dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, db.PingContext(ctx))
	return db
}

func TestPostgresLocator(t *testing.T) {
	ctx := context.Background()
	db := startPostGIS(t, ctx)

	loc := stations.NewPostgresLocator(db)
	require.NoError(t, loc.EnsureSchema(ctx))
	require.NoError(t, loc.UpsertStations(ctx, fixtures))
	require.NoError(t, loc.UpsertStations(ctx, fixtures[:1]))

	hits, err := loc.FindNear(ctx, tulsa, 50, 10)
	require.NoError(t, err)
	require.Equal(t, []string{"33", "12", "7"}, ids(hits))
	require.Equal(t, fixtures[2].Price, hits[0].Station.Price)
	require.InDelta(t, fixtures[1].Location.Lat, hits[1].Station.Location.Lat, 1e-6)
	require.Less(t, hits[1].DistanceMiles, hits[2].DistanceMiles)

	page, total, err := loc.ListStations(ctx, 0, 6)
	require.NoError(t, err)
	require.Equal(t, 4, total)
	require.Len(t, page, 4)
}
