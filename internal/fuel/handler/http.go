package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/example/fuelroute/internal/fuel/domain"
	"github.com/example/fuelroute/internal/fuel/task"
)

// Tasks is the slice of the task coordinator the API needs.
type Tasks interface {
	Submit(ctx context.Context, q domain.RouteQuery) (domain.TaskHandle, error)
	Poll(ctx context.Context, id string) (domain.TaskHandle, error)
	PollRoute(ctx context.Context, routeKey string) (domain.TaskHandle, error)
}

const (
	defaultPageSize = 6
	maxBodyBytes    = 1 << 16
)

// HTTP exposes route planning and station endpoints.
type HTTP struct {
	tasks   Tasks
	catalog domain.StationCatalog
	logger  *zap.Logger
	guards  []func(http.Handler) http.Handler
}

// NewHTTP constructs a handler. catalog may be nil when the station backend cannot list.
// guards wrap every /v1 route, typically auth then rate limiting.
func NewHTTP(tasks Tasks, catalog domain.StationCatalog, logger *zap.Logger, guards ...func(http.Handler) http.Handler) *HTTP {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTP{tasks: tasks, catalog: catalog, logger: logger, guards: guards}
}

// Router builds the chi router with all endpoints and middlewares.
func (h *HTTP) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Logger, middleware.Recoverer)
	r.Route("/v1", func(r chi.Router) {
		for _, g := range h.guards {
			if g != nil {
				r.Use(g)
			}
		}
		r.Post("/routes/calculate", h.calculate)
		r.Get("/routes/tasks/{id}", h.getTask)
		r.Get("/routes/result/{key}", h.getResult)
		r.Get("/stations", h.listStations)
	})
	return r
}

type point struct {
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
}

// calculateRequest accepts flat start_lat/start_lon fields or nested start/finish objects.
type calculateRequest struct {
	StartLat  *float64 `json:"start_lat"`
	StartLon  *float64 `json:"start_lon"`
	FinishLat *float64 `json:"finish_lat"`
	FinishLon *float64 `json:"finish_lon"`
	Start     *point   `json:"start"`
	Finish    *point   `json:"finish"`
}

func (c calculateRequest) query() (domain.RouteQuery, error) {
	if c.Start != nil {
		c.StartLat, c.StartLon = c.Start.Latitude, c.Start.Longitude
	}
	if c.Finish != nil {
		c.FinishLat, c.FinishLon = c.Finish.Latitude, c.Finish.Longitude
	}
	if c.StartLat == nil || c.StartLon == nil {
		return domain.RouteQuery{}, &domain.ValidationError{Field: "start", Message: "latitude and longitude are required"}
	}
	if c.FinishLat == nil || c.FinishLon == nil {
		return domain.RouteQuery{}, &domain.ValidationError{Field: "finish", Message: "latitude and longitude are required"}
	}
	return domain.RouteQuery{
		Start:  domain.NewCoordinate(*c.StartLat, *c.StartLon),
		Finish: domain.NewCoordinate(*c.FinishLat, *c.FinishLon),
	}, nil
}

func (h *HTTP) calculate(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	var payload calculateRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	q, err := payload.query()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	handle, err := h.tasks.Submit(r.Context(), q)
	switch {
	case err == nil:
	case domain.IsValidation(err):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, task.ErrQueueFull), errors.Is(err, task.ErrQueueClosed):
		w.Header().Set("Retry-After", "5")
		writeError(w, http.StatusServiceUnavailable, "route workers busy, retry later")
		return
	default:
		h.logger.Error("submit route", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "could not schedule route calculation")
		return
	}

	status := http.StatusAccepted
	if handle.State == domain.StateSuccess {
		status = http.StatusOK
	}
	writeJSON(w, status, handle)
}

func (h *HTTP) getTask(w http.ResponseWriter, r *http.Request) {
	h.writeHandle(w, r, h.tasks.Poll, chi.URLParam(r, "id"))
}

func (h *HTTP) getResult(w http.ResponseWriter, r *http.Request) {
	h.writeHandle(w, r, h.tasks.PollRoute, chi.URLParam(r, "key"))
}

func (h *HTTP) writeHandle(w http.ResponseWriter, r *http.Request, lookup func(context.Context, string) (domain.TaskHandle, error), id string) {
	handle, err := lookup(r.Context(), id)
	if errors.Is(err, domain.ErrTaskNotFound) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		h.logger.Error("poll route task", zap.String("id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "could not read task state")
		return
	}
	writeJSON(w, http.StatusOK, handle)
}

type stationPage struct {
	Items   []domain.FuelStation `json:"items"`
	Total   int                  `json:"total"`
	PerPage int                  `json:"per_page"`
}

func (h *HTTP) listStations(w http.ResponseWriter, r *http.Request) {
	if h.catalog == nil {
		writeError(w, http.StatusNotImplemented, "station listing not supported by backend")
		return
	}
	skip, err := queryInt(r, "skip", 0)
	if err != nil || skip < 0 {
		writeError(w, http.StatusBadRequest, "invalid skip")
		return
	}
	limit, err := queryInt(r, "limit", defaultPageSize)
	if err != nil || limit <= 0 || limit > 100 {
		writeError(w, http.StatusBadRequest, "invalid limit")
		return
	}
	items, total, err := h.catalog.ListStations(r.Context(), skip, limit)
	if err != nil {
		h.logger.Error("list stations", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "could not list stations")
		return
	}
	writeJSON(w, http.StatusOK, stationPage{Items: items, Total: total, PerPage: limit})
}

func queryInt(r *http.Request, name string, fallback int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback, nil
	}
	return strconv.Atoi(raw)
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
