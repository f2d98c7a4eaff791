package stations

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/example/fuelroute/internal/fuel/domain"
)

// Required CSV headers. Latitude and Longitude may be left out when the
// import has a geocoder.
var csvColumns = []string{
	"OPIS Truckstop ID",
	"Truckstop Name",
	"Address",
	"City",
	"State",
	"Rack ID",
	"Retail Price",
}

var coordinateColumns = []string{"Latitude", "Longitude"}

var (
	ErrMissingColumn = errors.New("missing csv column")

	exitMarker = regexp.MustCompile(`(?i)EXIT\s*\d+`)
)

// ParseCSV reads a station price sheet. Rows repeating a station id replace
// earlier ones; rows outside the USA bounding box are dropped. Rows without
// coordinates are resolved through geocoder, which may be nil when the sheet
// is already geocoded.
func ParseCSV(ctx context.Context, r io.Reader, geocoder domain.Geocoder, logger *zap.Logger) ([]domain.FuelStation, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	idx := make(map[string]int, len(header))
	for i, name := range header {
		idx[strings.TrimSpace(name)] = i
	}
	required := csvColumns
	if geocoder == nil {
		required = append(required[:len(required):len(required)], coordinateColumns...)
	}
	for _, col := range required {
		if _, ok := idx[col]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrMissingColumn, col)
		}
	}

	order := make([]string, 0)
	byID := make(map[string]domain.FuelStation)
	line := 1
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		field := func(col string) string {
			i, ok := idx[col]
			if !ok || i >= len(record) {
				return ""
			}
			return strings.TrimSpace(record[i])
		}

		price, err := strconv.ParseFloat(field("Retail Price"), 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: retail price: %w", line, err)
		}
		s := domain.FuelStation{
			ID:      field("OPIS Truckstop ID"),
			Name:    field("Truckstop Name"),
			Address: field("Address"),
			City:    field("City"),
			State:   field("State"),
			RackID:  field("Rack ID"),
			Price:   domain.PriceFromFloat(price),
		}
		if s.ID == "" {
			return nil, fmt.Errorf("line %d: empty station id", line)
		}

		if latRaw, lonRaw := field("Latitude"), field("Longitude"); latRaw != "" && lonRaw != "" {
			lat, err := strconv.ParseFloat(latRaw, 64)
			if err != nil {
				return nil, fmt.Errorf("line %d: latitude: %w", line, err)
			}
			lon, err := strconv.ParseFloat(lonRaw, 64)
			if err != nil {
				return nil, fmt.Errorf("line %d: longitude: %w", line, err)
			}
			s.Location = domain.NewCoordinate(lat, lon)
		} else if geocoder == nil {
			return nil, fmt.Errorf("line %d: station %s has no coordinates", line, s.ID)
		} else {
			loc, err := locate(ctx, geocoder, s)
			if err != nil {
				if ctx.Err() != nil {
					return nil, ctx.Err()
				}
				logger.Warn("station not geocoded, skipped",
					zap.String("station_id", s.ID), zap.Int("line", line), zap.Error(err))
				continue
			}
			s.Location = loc
		}

		if !s.Location.InUSA() {
			logger.Warn("station outside USA bounds skipped", zap.String("station_id", s.ID), zap.Int("line", line))
			continue
		}
		if _, seen := byID[s.ID]; !seen {
			order = append(order, s.ID)
		}
		byID[s.ID] = s
	}

	out := make([]domain.FuelStation, 0, len(order))
	for _, id := range order {
		out = append(out, byID[id])
	}
	return out, nil
}

// locate geocodes a station by its cleaned street address, then by city and
// state alone when the street is not recognised.
func locate(ctx context.Context, geocoder domain.Geocoder, s domain.FuelStation) (domain.Coordinate, error) {
	street := CleanAddress(s.Address)
	loc, err := geocoder.Geocode(ctx, street, s.City, s.State)
	if err == nil || street == "" || ctx.Err() != nil {
		return loc, err
	}
	return geocoder.Geocode(ctx, "", s.City, s.State)
}

// CleanAddress strips interstate exit markers and punctuation that confuse
// address search, e.g. "I-44, EXIT 283 & US-69" becomes "I-44 and US-69".
func CleanAddress(address string) string {
	address = exitMarker.ReplaceAllString(address, "")
	address = strings.ReplaceAll(address, "&", "and")
	address = strings.ReplaceAll(address, ",", "")
	return strings.Join(strings.Fields(address), " ")
}

// Import writes stations in batches so a large sheet does not hold one long transaction.
func Import(ctx context.Context, w domain.StationWriter, stations []domain.FuelStation, batchSize int) error {
	if batchSize <= 0 {
		batchSize = 500
	}
	for start := 0; start < len(stations); start += batchSize {
		end := start + batchSize
		if end > len(stations) {
			end = len(stations)
		}
		if err := w.UpsertStations(ctx, stations[start:end]); err != nil {
			return fmt.Errorf("import batch at %d: %w", start, err)
		}
	}
	return nil
}
