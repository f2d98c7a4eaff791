package domain

import (
	"context"
	"math"
	"strconv"
	"time"
)

type TaskState string

const (
	StatePending TaskState = "PENDING"
	StateStarted TaskState = "STARTED"
	StateSuccess TaskState = "SUCCESS"
	StateFailure TaskState = "FAILURE"
)

var allowedTransitions = map[TaskState][]TaskState{
	StatePending: {StateStarted, StateFailure},
	StateStarted: {StateSuccess, StateFailure},
}

func (s TaskState) CanTransitionTo(next TaskState) bool {
	for _, candidate := range allowedTransitions[s] {
		if candidate == next {
			return true
		}
	}
	return false
}

// Terminal reports whether no further transitions are possible.
func (s TaskState) Terminal() bool {
	return s == StateSuccess || s == StateFailure
}

// Continental USA bounding box.
const (
	MinLatitude  = 24.396308
	MaxLatitude  = 49.384358
	MinLongitude = -125.0
	MaxLongitude = -66.93457
)

// Coordinate is an immutable WGS84 point.
type Coordinate struct {
	Lat float64 `json:"latitude"`
	Lon float64 `json:"longitude"`
}

func NewCoordinate(lat, lon float64) Coordinate {
	return Coordinate{Lat: lat, Lon: lon}
}

// InUSA reports whether c lies inside the continental USA bounding box (inclusive).
func (c Coordinate) InUSA() bool {
	return c.Lat >= MinLatitude && c.Lat <= MaxLatitude &&
		c.Lon >= MinLongitude && c.Lon <= MaxLongitude
}

type RouteQuery struct {
	Start  Coordinate `json:"start"`
	Finish Coordinate `json:"finish"`
}

// Validate rejects coordinates outside the supported area.
func (q RouteQuery) Validate() error {
	if !q.Start.InUSA() {
		return &ValidationError{Field: "start", Message: "coordinates not within USA bounds"}
	}
	if !q.Finish.InUSA() {
		return &ValidationError{Field: "finish", Message: "coordinates not within USA bounds"}
	}
	return nil
}

// Price is a per-gallon price in thousandths of a dollar.
type Price int64

func PriceFromFloat(v float64) Price {
	return Price(math.Round(v * 1000))
}

func (p Price) Float64() float64 { return float64(p) / 1000 }

func (p Price) String() string { return strconv.FormatFloat(p.Float64(), 'f', 3, 64) }

func (p Price) MarshalJSON() ([]byte, error) {
	return []byte(p.String()), nil
}

func (p *Price) UnmarshalJSON(b []byte) error {
	v, err := strconv.ParseFloat(string(b), 64)
	if err != nil {
		return err
	}
	*p = PriceFromFloat(v)
	return nil
}

type FuelStation struct {
	ID       string     `json:"station_id"`
	Name     string     `json:"name"`
	Address  string     `json:"address,omitempty"`
	City     string     `json:"city"`
	State    string     `json:"state"`
	RackID   string     `json:"rack_id,omitempty"`
	Price    Price      `json:"retail_price"`
	Location Coordinate `json:"location"`
}

// StationHit is a locator result: the station and its distance from the query point.
type StationHit struct {
	Station       FuelStation
	DistanceMiles float64
}

type FuelStop struct {
	FuelStation
	DistanceFromRouteMiles float64 `json:"distance_from_route_miles"`
}

type CostSummary struct {
	NumberOfStops int     `json:"number_of_stops"`
	AveragePrice  float64 `json:"average_price"`
	GallonsNeeded float64 `json:"gallons_needed"`
	TotalCost     float64 `json:"total_cost"`
}

// Route is the provider's answer for a start/finish pair.
type Route struct {
	Points         []Coordinate
	DistanceMeters float64
	TimeSeconds    float64
}

type RouteResult struct {
	Route              []Coordinate `json:"route"`
	FuelStops          []FuelStop   `json:"fuel_stops"`
	TotalDistanceMiles float64      `json:"total_distance_miles"`
	TotalTimeSeconds   float64      `json:"total_time_seconds"`
	TotalFuelCost      float64      `json:"total_fuel_cost"`
	CostSummary
}

type TaskHandle struct {
	ID       string       `json:"task_id,omitempty"`
	RouteKey string       `json:"route_key"`
	State    TaskState    `json:"status"`
	Result   *RouteResult `json:"result"`
	Error    string       `json:"error,omitempty"`
}

// TaskRecord is the queue-side bookkeeping for a submitted task.
type TaskRecord struct {
	ID        string       `json:"id"`
	RouteKey  string       `json:"route_key"`
	Query     RouteQuery   `json:"query"`
	State     TaskState    `json:"state"`
	Error     string       `json:"error,omitempty"`
	Result    *RouteResult `json:"result,omitempty"`
	CreatedAt time.Time    `json:"created_at"`
	UpdatedAt time.Time    `json:"updated_at"`
}

func (r TaskRecord) Handle() TaskHandle {
	return TaskHandle{ID: r.ID, RouteKey: r.RouteKey, State: r.State, Result: r.Result, Error: r.Error}
}

// Job is the unit of work carried by the task queue.
type Job struct {
	TaskID   string     `json:"task_id"`
	RouteKey string     `json:"route_key"`
	Query    RouteQuery `json:"query"`
}

type RouteProvider interface {
	Route(ctx context.Context, start, finish Coordinate) (Route, error)
}

type StationLocator interface {
	FindNear(ctx context.Context, point Coordinate, radiusMiles float64, limit int) ([]StationHit, error)
}

// StationWriter persists imported reference data, replacing stations with the same id.
type StationWriter interface {
	UpsertStations(ctx context.Context, stations []FuelStation) error
}

// StationCatalog is implemented by locators that can page through every station.
type StationCatalog interface {
	ListStations(ctx context.Context, offset, limit int) ([]FuelStation, int, error)
}

type CacheStore interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)
	Delete(ctx context.Context, key string) error
}

type Clock interface {
	Now() time.Time
}

type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC() }
