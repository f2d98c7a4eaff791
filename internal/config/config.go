package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Route provider names accepted by ROUTE_PROVIDER.
const (
	ProviderGeoapify = "geoapify"
	ProviderTomTom   = "tomtom"
	ProviderMapbox   = "mapbox"
	ProviderStraight = "straight"
)

// Station backends accepted by STATION_BACKEND.
const (
	BackendMemory   = "memory"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
)

// ConfigError names the setting that prevented startup.
type ConfigError struct {
	Key    string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config %s: %s", e.Key, e.Reason)
}

// Planner holds the stop selection knobs. It can be overridden from a YAML
// file named by PLANNER_CONFIG.
type Planner struct {
	RangeMiles      float64 `yaml:"range_miles"`
	RadiusMiles     float64 `yaml:"radius_miles"`
	MaxStops        int     `yaml:"max_stops"`
	CandidateLimit  int     `yaml:"candidate_limit"`
	SampleTarget    int     `yaml:"sample_target"`
	CarryOverOnMiss bool    `yaml:"carry_over_on_miss"`
}

type Provider struct {
	Name    string
	APIKey  string
	BaseURL string
	Timeout time.Duration
}

type Config struct {
	HTTPAddr    string
	PostgresDSN string
	RedisAddr   string
	NATSURL     string

	Provider Provider

	JWTSecret       string
	JWTRequired     bool
	RateAnonPerHour int
	RateUserPerHour int

	Workers     int
	QueueBuffer int
	ResultTTL   time.Duration
	MarkerTTL   time.Duration
	TaskTTL     time.Duration

	StationBackend string
	StationCSV     string

	LogLevel    string
	TraceStdout bool

	Planner Planner
}

// Load reads the process environment. Values from the optional dotenv files
// fill in keys the environment leaves unset; missing files are ignored.
func Load(dotenv ...string) (Config, error) {
	file := map[string]string{}
	for _, path := range dotenv {
		values, err := godotenv.Read(path)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return Config{}, fmt.Errorf("read %s: %w", path, err)
		}
		for k, v := range values {
			if _, ok := file[k]; !ok {
				file[k] = v
			}
		}
	}
	return FromLookup(func(key string) string {
		if v := os.Getenv(key); v != "" {
			return v
		}
		return file[key]
	})
}

// FromLookup builds a Config from an arbitrary key lookup.
func FromLookup(lookup func(string) string) (Config, error) {
	e := env(lookup)
	cfg := Config{
		HTTPAddr:    e.get("HTTP_ADDR", ":8080"),
		PostgresDSN: firstNonEmpty(lookup("POSTGRES_DSN"), lookup("DATABASE_URL")),
		RedisAddr:   lookup("REDIS_ADDR"),
		NATSURL:     lookup("NATS_URL"),

		JWTSecret:       lookup("JWT_SECRET"),
		JWTRequired:     e.bool("JWT_REQUIRED", false),
		RateAnonPerHour: e.int("RATE_ANON_PER_HOUR", 50),
		RateUserPerHour: e.int("RATE_USER_PER_HOUR", 200),

		Workers:     e.int("WORKER_CONCURRENCY", 4),
		QueueBuffer: e.int("QUEUE_BUFFER", 128),
		ResultTTL:   e.duration("RESULT_TTL", time.Hour),
		MarkerTTL:   e.duration("MARKER_TTL", 10*time.Minute),
		TaskTTL:     e.duration("TASK_TTL", 24*time.Hour),

		StationBackend: strings.ToLower(e.get("STATION_BACKEND", BackendMemory)),
		StationCSV:     lookup("STATION_CSV"),

		LogLevel:    e.get("LOG_LEVEL", "info"),
		TraceStdout: e.bool("TRACE_STDOUT", false),

		Planner: Planner{
			RangeMiles:     e.float("PLANNER_RANGE_MILES", 500),
			RadiusMiles:    e.float("PLANNER_RADIUS_MILES", 50),
			MaxStops:       e.int("PLANNER_MAX_STOPS", 3),
			CandidateLimit: e.int("PLANNER_CANDIDATES", 10),
			SampleTarget:   e.int("PLANNER_SAMPLE_TARGET", 10),
		},
	}
	cfg.Provider = providerFrom(e)

	if path := lookup("PLANNER_CONFIG"); path != "" {
		if err := cfg.Planner.loadFile(path); err != nil {
			return Config{}, err
		}
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func providerFrom(e env) Provider {
	name := strings.ToLower(e.get("ROUTE_PROVIDER", ProviderGeoapify))
	p := Provider{Name: name, Timeout: e.duration("ROUTE_TIMEOUT", 15*time.Second)}
	switch name {
	case ProviderGeoapify:
		p.APIKey = e.lookup("GEOAPIFY_API_KEY")
		p.BaseURL = e.lookup("GEOAPIFY_BASE_URL")
	case ProviderTomTom:
		p.APIKey = e.lookup("TOMTOM_API_KEY")
		p.BaseURL = e.lookup("TOMTOM_BASE_URL")
	case ProviderMapbox:
		p.APIKey = firstNonEmpty(e.lookup("MAPBOX_TOKEN"), e.lookup("MAPBOX_ACCESS_TOKEN"))
		p.BaseURL = e.lookup("MAPBOX_BASE_URL")
	}
	return p
}

func (p *Planner) loadFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return &ConfigError{Key: "PLANNER_CONFIG", Reason: err.Error()}
	}
	if err := yaml.Unmarshal(raw, p); err != nil {
		return &ConfigError{Key: "PLANNER_CONFIG", Reason: err.Error()}
	}
	return nil
}

// Validate checks the provider settings. It is separate from Config.Validate
// because only the processes that compute routes need a provider.
func (p Provider) Validate() error {
	switch p.Name {
	case ProviderGeoapify, ProviderTomTom, ProviderMapbox:
		if p.APIKey == "" {
			return &ConfigError{Key: "ROUTE_PROVIDER", Reason: p.Name + " requires an api key"}
		}
	case ProviderStraight:
	default:
		return &ConfigError{Key: "ROUTE_PROVIDER", Reason: "unknown provider " + strconv.Quote(p.Name)}
	}
	return nil
}

// Validate checks cross-field requirements other than the route provider.
func (c Config) Validate() error {
	switch c.StationBackend {
	case BackendMemory:
	case BackendRedis:
		if c.RedisAddr == "" {
			return &ConfigError{Key: "STATION_BACKEND", Reason: "redis backend requires REDIS_ADDR"}
		}
	case BackendPostgres:
		if c.PostgresDSN == "" {
			return &ConfigError{Key: "STATION_BACKEND", Reason: "postgres backend requires POSTGRES_DSN"}
		}
	default:
		return &ConfigError{Key: "STATION_BACKEND", Reason: "unknown backend " + strconv.Quote(c.StationBackend)}
	}

	if c.JWTRequired && c.JWTSecret == "" {
		return &ConfigError{Key: "JWT_SECRET", Reason: "required when JWT_REQUIRED is set"}
	}
	if c.Planner.RangeMiles <= 0 || c.Planner.RadiusMiles <= 0 {
		return &ConfigError{Key: "PLANNER_CONFIG", Reason: "range and radius must be positive"}
	}
	return nil
}

// env wraps a lookup. Unparsable values fall back to the default.
type env func(string) string

func (e env) lookup(key string) string { return e(key) }

func (e env) get(key, fallback string) string {
	if v := e(key); v != "" {
		return v
	}
	return fallback
}

func (e env) int(key string, fallback int) int {
	if v := e(key); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			return parsed
		}
	}
	return fallback
}

func (e env) float(key string, fallback float64) float64 {
	if v := e(key); v != "" {
		if parsed, err := strconv.ParseFloat(v, 64); err == nil {
			return parsed
		}
	}
	return fallback
}

func (e env) bool(key string, fallback bool) bool {
	if v := e(key); v != "" {
		if parsed, err := strconv.ParseBool(v); err == nil {
			return parsed
		}
	}
	return fallback
}

// duration accepts Go duration strings or a bare number of seconds.
func (e env) duration(key string, fallback time.Duration) time.Duration {
	v := e(key)
	if v == "" {
		return fallback
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second
	}
	return fallback
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
