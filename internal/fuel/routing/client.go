package routing

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/example/fuelroute/internal/fuel/domain"
)

var upstreamCalls = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "route_provider_requests_total",
	Help: "Route provider requests grouped by provider and outcome.",
}, []string{"provider", "result"})

var upstreamLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Name:    "route_provider_request_seconds",
	Help:    "Latency of route provider requests.",
	Buckets: prometheus.DefBuckets,
}, []string{"provider"})

const maxErrorBody = 512

// client carries the HTTP plumbing shared by every provider. Providers do not
// retry; redelivery belongs to the task queue.
type client struct {
	provider string
	http     *http.Client
	tracer   trace.Tracer
}

func newClient(provider string, hc *http.Client) client {
	if hc == nil {
		hc = &http.Client{Timeout: 15 * time.Second}
	}
	return client{provider: provider, http: hc, tracer: otel.Tracer("fuel.routing")}
}

// getJSON issues a GET and decodes a 200 body into out. Any other status
// becomes a *domain.UpstreamError.
func (c client) getJSON(ctx context.Context, endpoint string, query url.Values, out any) (err error) {
	ctx, span := c.tracer.Start(ctx, "routing."+c.provider, trace.WithAttributes(
		attribute.String("provider", c.provider),
	))
	start := time.Now()
	defer func() {
		upstreamLatency.WithLabelValues(c.provider).Observe(time.Since(start).Seconds())
		result := "ok"
		if err != nil {
			result = "error"
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		upstreamCalls.WithLabelValues(c.provider, result).Inc()
		span.End()
	}()

	target := endpoint
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s request: %w", c.provider, err)
	}
	defer resp.Body.Close()

	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &domain.UpstreamError{
			Provider:   c.provider,
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(b)),
		}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &domain.UpstreamDataError{Provider: c.provider, Reason: "decode body: " + err.Error()}
	}
	return nil
}

func latLon(c domain.Coordinate) string {
	return fmt.Sprintf("%v,%v", c.Lat, c.Lon)
}
