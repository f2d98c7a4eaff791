package stations

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/example/fuelroute/internal/fuel/domain"
)

const metersPerMile = 1609.344

const schemaSQL = `
CREATE EXTENSION IF NOT EXISTS postgis;
CREATE TABLE IF NOT EXISTS fuel_stations (
    id           TEXT PRIMARY KEY,
    name         TEXT NOT NULL,
    address      TEXT NOT NULL DEFAULT '',
    city         TEXT NOT NULL,
    state        VARCHAR(2) NOT NULL,
    rack_id      TEXT NOT NULL DEFAULT '',
    retail_price NUMERIC(5,3) NOT NULL,
    location     GEOGRAPHY(Point, 4326) NOT NULL
);
CREATE INDEX IF NOT EXISTS fuel_stations_location_gist ON fuel_stations USING GIST (location);
`

const upsertSQL = `
INSERT INTO fuel_stations (id, name, address, city, state, rack_id, retail_price, location)
VALUES ($1, $2, $3, $4, $5, $6, $7::numeric / 1000, ST_SetSRID(ST_MakePoint($8, $9), 4326)::geography)
ON CONFLICT (id) DO UPDATE SET
    name = EXCLUDED.name,
    address = EXCLUDED.address,
    city = EXCLUDED.city,
    state = EXCLUDED.state,
    rack_id = EXCLUDED.rack_id,
    retail_price = EXCLUDED.retail_price,
    location = EXCLUDED.location`

const nearSQL = `
WITH origin AS (
    SELECT ST_SetSRID(ST_MakePoint($1, $2), 4326)::geography AS g
)
SELECT s.id, s.name, s.address, s.city, s.state, s.rack_id,
       (s.retail_price * 1000)::bigint,
       ST_Y(s.location::geometry), ST_X(s.location::geometry),
       ST_Distance(s.location, origin.g) / $4 AS dist
FROM fuel_stations s, origin
WHERE ST_DWithin(s.location, origin.g, $3)
ORDER BY s.retail_price ASC, dist ASC, s.id ASC
LIMIT $5`

const listSQL = `
SELECT id, name, address, city, state, rack_id,
       (retail_price * 1000)::bigint,
       ST_Y(location::geometry), ST_X(location::geometry)
FROM fuel_stations
ORDER BY id
OFFSET $1 LIMIT $2`

// PostgresLocator ranks stations with PostGIS geography distance.
type PostgresLocator struct {
	db *sql.DB
}

func NewPostgresLocator(db *sql.DB) *PostgresLocator {
	return &PostgresLocator{db: db}
}

// EnsureSchema creates the station table and its spatial index.
func (p *PostgresLocator) EnsureSchema(ctx context.Context) error {
	if _, err := p.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("create station schema: %w", err)
	}
	return nil
}

func (p *PostgresLocator) UpsertStations(ctx context.Context, stations []domain.FuelStation) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, upsertSQL)
	if err != nil {
		return fmt.Errorf("prepare upsert: %w", err)
	}
	defer stmt.Close()

	for _, s := range stations {
		if _, err := stmt.ExecContext(ctx, s.ID, s.Name, s.Address, s.City, s.State, s.RackID,
			int64(s.Price), s.Location.Lon, s.Location.Lat); err != nil {
			return fmt.Errorf("upsert station %s: %w", s.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit stations: %w", err)
	}
	return nil
}

func (p *PostgresLocator) FindNear(ctx context.Context, point domain.Coordinate, radiusMiles float64, limit int) ([]domain.StationHit, error) {
	if p == nil || p.db == nil {
		return nil, errors.New("postgres station locator not configured")
	}
	if limit <= 0 {
		limit = 10
	}
	rows, err := p.db.QueryContext(ctx, nearSQL, point.Lon, point.Lat, radiusMiles*metersPerMile, metersPerMile, limit)
	if err != nil {
		return nil, fmt.Errorf("query stations near: %w", err)
	}
	defer rows.Close()

	hits := make([]domain.StationHit, 0, limit)
	for rows.Next() {
		var (
			s     domain.FuelStation
			price int64
			dist  float64
		)
		if err := rows.Scan(&s.ID, &s.Name, &s.Address, &s.City, &s.State, &s.RackID,
			&price, &s.Location.Lat, &s.Location.Lon, &dist); err != nil {
			return nil, fmt.Errorf("scan station: %w", err)
		}
		s.Price = domain.Price(price)
		hits = append(hits, domain.StationHit{Station: s, DistanceMiles: dist})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate stations: %w", err)
	}
	return hits, nil
}

func (p *PostgresLocator) ListStations(ctx context.Context, offset, limit int) ([]domain.FuelStation, int, error) {
	var total int
	if err := p.db.QueryRowContext(ctx, `SELECT count(*) FROM fuel_stations`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count stations: %w", err)
	}
	if offset < 0 {
		offset = 0
	}
	rows, err := p.db.QueryContext(ctx, listSQL, offset, limit)
	if err != nil {
		return nil, 0, fmt.Errorf("list stations: %w", err)
	}
	defer rows.Close()

	out := make([]domain.FuelStation, 0, limit)
	for rows.Next() {
		var (
			s     domain.FuelStation
			price int64
		)
		if err := rows.Scan(&s.ID, &s.Name, &s.Address, &s.City, &s.State, &s.RackID,
			&price, &s.Location.Lat, &s.Location.Lon); err != nil {
			return nil, 0, fmt.Errorf("scan station: %w", err)
		}
		s.Price = domain.Price(price)
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate stations: %w", err)
	}
	return out, total, nil
}
