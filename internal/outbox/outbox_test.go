package outbox

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	natscontainer "github.com/testcontainers/testcontainers-go/modules/nats"
	postgrescontainer "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/example/fuelroute/internal/fuel/domain"
)

func TestRelayPublishesTaskEvents(t *testing.T) {
	ctx := context.Background()
	db := openDB(t, ctx, startPostgres(t, ctx))
	nc := connectNATS(t, ctx)

	writer := NewWriter(db)
	require.NoError(t, writer.EnsureSchema(ctx))
	require.NoError(t, writer.Publish(ctx, domain.TaskEvent{
		Type:     domain.EventTaskSucceeded,
		TaskID:   "task-1",
		RouteKey: "abc",
		State:    domain.StateSuccess,
		Stops:    2,
	}))

	msgCh := make(chan *nats.Msg, 1)
	_, err := nc.Subscribe("fuelroute.events.>", func(msg *nats.Msg) {
		msgCh <- msg
	})
	require.NoError(t, err)

	relay := NewRelay(db, nc, zap.NewNop(), RelayConfig{Subject: "fuelroute.events", PollInterval: 100 * time.Millisecond, BatchSize: 10, RetryMax: 5})
	ctxRelay, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		_ = relay.Run(ctxRelay)
	}()

	select {
	case <-time.After(10 * time.Second):
		t.Fatal("expected relayed event")
	case msg := <-msgCh:
		require.Equal(t, "fuelroute.events.SUCCESS", msg.Subject)
		require.Equal(t, string(domain.EventTaskSucceeded), msg.Header.Get("x-event-type"))
		var got domain.TaskEvent
		require.NoError(t, json.Unmarshal(msg.Data, &got))
		require.Equal(t, "task-1", got.TaskID)
		require.Equal(t, 2, got.Stops)
	}

	assertPublished(t, ctx, db, 1)
	cancel()
}

func TestRelayRetriesOnFailure(t *testing.T) {
	ctx := context.Background()
	db := openDB(t, ctx, startPostgres(t, ctx))
	nc := connectNATS(t, ctx)

	writer := NewWriter(db)
	require.NoError(t, writer.EnsureSchema(ctx))
	require.NoError(t, writer.Publish(ctx, domain.TaskEvent{
		Type:   domain.EventTaskFailed,
		TaskID: "task-2",
		State:  domain.StateFailure,
		Error:  "geoapify: upstream status 500",
	}))

	msgCh := make(chan *nats.Msg, 1)
	_, err := nc.Subscribe("fuelroute.events.FAILURE", func(msg *nats.Msg) {
		msgCh <- msg
	})
	require.NoError(t, err)

	relay := NewRelay(db, nc, zap.NewNop(), RelayConfig{PollInterval: 100 * time.Millisecond, BatchSize: 5, RetryMax: 5})
	relay.publisher = &flakyPublisher{base: nc, failFor: 3}

	ctxRelay, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		_ = relay.Run(ctxRelay)
	}()

	select {
	case <-time.After(15 * time.Second):
		t.Fatal("expected retry publish")
	case msg := <-msgCh:
		require.Contains(t, string(msg.Data), "task-2")
	}

	assertPublished(t, ctx, db, 1)
	cancel()
}

func TestRelayRequiresConnections(t *testing.T) {
	relay := NewRelay(nil, nil, nil, RelayConfig{})
	require.Error(t, relay.Run(context.Background()))
}

type flakyPublisher struct {
	base    *nats.Conn
	failFor int32
}

func (f *flakyPublisher) PublishMsg(msg *nats.Msg) error {
	if atomic.LoadInt32(&f.failFor) > 0 {
		atomic.AddInt32(&f.failFor, -1)
		return errors.New("simulated nats outage")
	}
	return f.base.PublishMsg(msg)
}

func startPostgres(t *testing.T, ctx context.Context) *postgrescontainer.PostgresContainer {
	t.Helper()
	if testing.Short() {
		t.Skip("container test")
	}
	pg, err := postgrescontainer.Run(ctx, "postgres:16-alpine",
		postgrescontainer.WithDatabase("fuelroute"),
		postgrescontainer.WithUsername("postgres"),
		postgrescontainer.WithPassword("postgres"),
		testcontainers.WithWaitStrategy(wait.ForLog("database system is ready to accept connections").WithOccurrence(2)),
	)
	if err != nil {
		t.Skipf("postgres container unavailable: %v", err)
	}
	t.Cleanup(func() {
		require.NoError(t, pg.Terminate(ctx))
	})
	return pg
}

func openDB(t *testing.T, ctx context.Context, pg *postgrescontainer.PostgresContainer) *sql.DB {
	dsn, err := pg.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	db, err := sql.Open("pgx", dsn)
	require.NoError(t, err)
	require.NoError(t, db.PingContext(ctx))
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func connectNATS(t *testing.T, ctx context.Context) *nats.Conn {
	t.Helper()
	container, err := natscontainer.Run(ctx, "nats:2.10")
	if err != nil {
		t.Skipf("nats container unavailable: %v", err)
	}
	t.Cleanup(func() {
		require.NoError(t, container.Terminate(ctx))
	})
	url, err := container.ConnectionString(ctx)
	require.NoError(t, err)
	nc, err := nats.Connect(url)
	require.NoError(t, err)
	t.Cleanup(func() { _ = nc.Drain() })
	return nc
}

func assertPublished(t *testing.T, ctx context.Context, db *sql.DB, id int64) {
	var published bool
	row := db.QueryRowContext(ctx, `SELECT published_at IS NOT NULL FROM task_outbox WHERE id = $1`, id)
	require.NoError(t, row.Scan(&published))
	require.True(t, published)
}
