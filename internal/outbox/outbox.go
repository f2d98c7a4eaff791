// Package outbox makes task events durable: the executor writes them to a
// Postgres table and a relay drains that table to NATS.
package outbox

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/example/fuelroute/internal/fuel/domain"
	"github.com/example/fuelroute/internal/fuel/events"
)

var (
	relayed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "task_outbox_relayed_total",
		Help: "Task events relayed from the outbox to NATS by event type.",
	}, []string{"type"})
	relayFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "task_outbox_relay_failures_total",
		Help: "Task events that could not be relayed after every retry.",
	})
	relayLag = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "task_outbox_lag_seconds",
		Help: "Age of the oldest task event in the last relayed batch.",
	})
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS task_outbox (
    id           BIGSERIAL PRIMARY KEY,
    task_id      TEXT NOT NULL,
    route_key    TEXT NOT NULL,
    event_type   TEXT NOT NULL,
    state        TEXT NOT NULL,
    error        TEXT NOT NULL DEFAULT '',
    stops        INTEGER NOT NULL DEFAULT 0,
    total_cost   DOUBLE PRECISION NOT NULL DEFAULT 0,
    trace_id     TEXT NOT NULL DEFAULT '',
    occurred_at  TIMESTAMPTZ NOT NULL,
    published_at TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS task_outbox_pending_idx ON task_outbox (id) WHERE published_at IS NULL;`

const insertSQL = `
INSERT INTO task_outbox (task_id, route_key, event_type, state, error, stops, total_cost, trace_id, occurred_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

const pendingSQL = `
SELECT id, task_id, route_key, event_type, state, error, stops, total_cost, trace_id, occurred_at
FROM task_outbox
WHERE published_at IS NULL
ORDER BY id
LIMIT $1
FOR UPDATE SKIP LOCKED`

// Writer is a domain.EventPublisher that only records the event.
type Writer struct {
	db *sql.DB
}

func NewWriter(db *sql.DB) *Writer {
	return &Writer{db: db}
}

func (w *Writer) EnsureSchema(ctx context.Context) error {
	if _, err := w.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("create outbox schema: %w", err)
	}
	return nil
}

func (w *Writer) Publish(ctx context.Context, ev domain.TaskEvent) error {
	occurred := ev.OccurredAt
	if occurred.IsZero() {
		occurred = time.Now().UTC()
	}
	_, err := w.db.ExecContext(ctx, insertSQL,
		ev.TaskID, ev.RouteKey, string(ev.Type), string(ev.State), ev.Error,
		ev.Stops, ev.TotalCost, events.TraceID(ctx), occurred)
	if err != nil {
		return fmt.Errorf("insert outbox %s: %w", ev.TaskID, err)
	}
	return nil
}

// RelayConfig tunes the relay loop. Subject is the prefix events are
// published under; the task state is appended to it.
type RelayConfig struct {
	Subject      string
	PollInterval time.Duration
	BatchSize    int
	RetryMax     int
}

type natsPublisher interface {
	PublishMsg(msg *nats.Msg) error
}

// Relay moves recorded task events to NATS in id order, at least once.
type Relay struct {
	db        *sql.DB
	publisher natsPublisher
	logger    *zap.Logger
	cfg       RelayConfig
	tracer    trace.Tracer
}

func NewRelay(db *sql.DB, conn *nats.Conn, logger *zap.Logger, cfg RelayConfig) *Relay {
	if cfg.Subject == "" {
		cfg.Subject = events.DefaultSubject
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 200 * time.Millisecond
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.RetryMax <= 0 {
		cfg.RetryMax = 3
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Relay{db: db, logger: logger, cfg: cfg, tracer: otel.Tracer("fuel.outbox.relay")}
	if conn != nil {
		r.publisher = conn
	}
	return r
}

// Run drains the outbox every PollInterval until ctx is cancelled.
func (r *Relay) Run(ctx context.Context) error {
	if r.db == nil || r.publisher == nil {
		return errors.New("outbox relay requires database and NATS connection")
	}
	ticker := time.NewTicker(r.cfg.PollInterval)
	defer ticker.Stop()
	for {
		if _, err := r.drain(ctx); err != nil && !errors.Is(err, context.Canceled) {
			r.logger.Error("outbox batch failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

type pending struct {
	id      int64
	event   domain.TaskEvent
	traceID string
}

// drain relays one batch inside a transaction holding row locks, so
// concurrent relays never publish the same row.
func (r *Relay) drain(ctx context.Context) (int, error) {
	ctx, span := r.tracer.Start(ctx, "outbox.drain")
	defer span.End()

	tx, err := r.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	batch, err := loadPending(ctx, tx, r.cfg.BatchSize)
	if err != nil {
		return 0, err
	}
	span.SetAttributes(attribute.Int("batch", len(batch)))
	if len(batch) == 0 {
		return 0, tx.Commit()
	}

	ids := make([]int64, 0, len(batch))
	oldest := batch[0].event.OccurredAt
	for _, p := range batch {
		if err := r.send(ctx, p); err != nil {
			return 0, err
		}
		ids = append(ids, p.id)
		relayed.WithLabelValues(string(p.event.Type)).Inc()
		if p.event.OccurredAt.Before(oldest) {
			oldest = p.event.OccurredAt
		}
	}
	relayLag.Set(time.Since(oldest).Seconds())

	if _, err := tx.ExecContext(ctx, `UPDATE task_outbox SET published_at = now() WHERE id = ANY($1)`, ids); err != nil {
		return 0, fmt.Errorf("mark published: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit outbox: %w", err)
	}
	return len(ids), nil
}

func loadPending(ctx context.Context, tx *sql.Tx, limit int) ([]pending, error) {
	rows, err := tx.QueryContext(ctx, pendingSQL, limit)
	if err != nil {
		return nil, fmt.Errorf("select outbox: %w", err)
	}
	defer rows.Close()

	var batch []pending
	for rows.Next() {
		var (
			p         pending
			eventType string
			state     string
		)
		if err := rows.Scan(&p.id, &p.event.TaskID, &p.event.RouteKey, &eventType, &state,
			&p.event.Error, &p.event.Stops, &p.event.TotalCost, &p.traceID, &p.event.OccurredAt); err != nil {
			return nil, fmt.Errorf("scan outbox: %w", err)
		}
		p.event.Type = domain.EventType(eventType)
		p.event.State = domain.TaskState(state)
		batch = append(batch, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate outbox: %w", err)
	}
	return batch, nil
}

// send publishes p with quadratic backoff between attempts.
func (r *Relay) send(ctx context.Context, p pending) error {
	payload, err := json.Marshal(p.event)
	if err != nil {
		return fmt.Errorf("marshal outbox %d: %w", p.id, err)
	}
	msg := nats.NewMsg(r.cfg.Subject + "." + string(p.event.State))
	msg.Data = payload
	msg.Header.Set("x-event-type", string(p.event.Type))
	if p.traceID != "" {
		msg.Header.Set("x-trace-id", p.traceID)
	}

	for attempt := 1; ; attempt++ {
		err := r.publisher.PublishMsg(msg)
		if err == nil {
			return nil
		}
		r.logger.Warn("relay publish failed",
			zap.Int64("outbox_id", p.id),
			zap.String("task_id", p.event.TaskID),
			zap.Int("attempt", attempt),
			zap.Error(err))
		if attempt >= r.cfg.RetryMax {
			relayFailures.Inc()
			return fmt.Errorf("publish outbox %d: %w", p.id, err)
		}
		select {
		case <-time.After(time.Duration(attempt*attempt) * 100 * time.Millisecond):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
