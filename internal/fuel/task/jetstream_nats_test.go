package task

import (
	"context"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/require"
	natscontainer "github.com/testcontainers/testcontainers-go/modules/nats"
	"go.uber.org/zap"

	"github.com/example/fuelroute/internal/fuel/domain"
)

func startJetStream(t *testing.T, ctx context.Context) string {
	t.Helper()
	if testing.Short() {
		t.Skip("container test")
	}
	container, err := natscontainer.Run(ctx, "nats:2.10")
	if err != nil {
		t.Skipf("nats container unavailable: %v", err)
	}
	t.Cleanup(func() {
		require.NoError(t, container.Terminate(ctx))
	})
	url, err := container.ConnectionString(ctx)
	require.NoError(t, err)
	return url
}

func newWorkerQueue(t *testing.T, url string) *JetStreamQueue {
	t.Helper()
	nc, err := nats.Connect(url)
	require.NoError(t, err)
	t.Cleanup(nc.Close)
	q, err := NewJetStreamQueue(nc, zap.NewNop(), JetStreamConfig{Workers: 1, AckWait: 5 * time.Second})
	require.NoError(t, err)
	require.NoError(t, q.EnsureStream())
	return q
}

func TestJetStreamConsumerSurvivesWorkerShutdown(t *testing.T) {
	ctx := context.Background()
	url := startJetStream(t, ctx)

	first := newWorkerQueue(t, url)
	second := newWorkerQueue(t, url)

	firstCtx, stopFirst := context.WithCancel(ctx)
	firstDone := make(chan error, 1)
	go func() {
		firstDone <- first.Consume(firstCtx, func(context.Context, domain.Job) error { return nil })
	}()

	received := make(chan domain.Job, 1)
	secondCtx, stopSecond := context.WithCancel(ctx)
	defer stopSecond()
	go func() {
		_ = second.Consume(secondCtx, func(_ context.Context, job domain.Job) error {
			received <- job
			return nil
		})
	}()

	// let both subscriptions register, then shut the first worker down
	time.Sleep(500 * time.Millisecond)
	stopFirst()
	select {
	case err := <-firstDone:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("first worker did not stop")
	}

	info, err := second.js.ConsumerInfo(second.cfg.Stream, second.cfg.Durable)
	require.NoError(t, err)
	require.Equal(t, second.cfg.Durable, info.Config.Durable)

	require.NoError(t, second.Enqueue(ctx, domain.Job{TaskID: "after-shutdown", RouteKey: "k"}))
	select {
	case job := <-received:
		require.Equal(t, "after-shutdown", job.TaskID)
	case <-time.After(10 * time.Second):
		t.Fatal("surviving worker received nothing")
	}
}

func TestJetStreamEnsureStreamIsIdempotent(t *testing.T) {
	ctx := context.Background()
	url := startJetStream(t, ctx)

	q := newWorkerQueue(t, url)
	require.NoError(t, q.EnsureStream())

	info, err := q.js.ConsumerInfo(q.cfg.Stream, q.cfg.Durable)
	require.NoError(t, err)
	require.Equal(t, q.cfg.Durable, info.Config.DeliverGroup)
	require.Equal(t, nats.AckExplicitPolicy, info.Config.AckPolicy)
	require.Equal(t, q.cfg.MaxRetry+1, info.Config.MaxDeliver)
}
