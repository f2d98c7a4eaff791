package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"

	"github.com/example/fuelroute/internal/fuel/domain"
)

type stubConn struct {
	msgs []*nats.Msg
	err  error
}

func (s *stubConn) PublishMsg(msg *nats.Msg) error {
	if s.err != nil {
		return s.err
	}
	s.msgs = append(s.msgs, msg)
	return nil
}

func TestPublishCarriesTraceAndType(t *testing.T) {
	conn := &stubConn{}
	p := &Publisher{conn: conn, subject: DefaultSubject}

	traceID, _ := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	spanID, _ := trace.SpanIDFromHex("00f067aa0ba902b7")
	ctx := trace.ContextWithSpanContext(context.Background(), trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: trace.FlagsSampled,
	}))

	event := domain.TaskEvent{
		Type:       domain.EventTaskSucceeded,
		TaskID:     "t-1",
		RouteKey:   "abc",
		State:      domain.StateSuccess,
		Stops:      2,
		TotalCost:  116.67,
		OccurredAt: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	require.NoError(t, p.Publish(ctx, event))
	require.Len(t, conn.msgs, 1)

	msg := conn.msgs[0]
	require.Equal(t, "fuelroute.events.SUCCESS", msg.Subject)
	require.Equal(t, "4bf92f3577b34da6a3ce929d0e0e4736", msg.Header.Get("x-trace-id"))
	require.Equal(t, "task.succeeded", msg.Header.Get("x-event-type"))

	var decoded domain.TaskEvent
	require.NoError(t, json.Unmarshal(msg.Data, &decoded))
	require.Equal(t, event, decoded)
}

func TestPublishWithoutConnectionIsNoop(t *testing.T) {
	p := NewPublisher(nil, "")
	require.NoError(t, p.Publish(context.Background(), domain.TaskEvent{TaskID: "x"}))

	var nilPublisher *Publisher
	require.NoError(t, nilPublisher.Publish(context.Background(), domain.TaskEvent{}))
}

func TestPublishWrapsBrokerError(t *testing.T) {
	boom := errors.New("nats: connection closed")
	p := &Publisher{conn: &stubConn{err: boom}, subject: DefaultSubject}
	err := p.Publish(context.Background(), domain.TaskEvent{State: domain.StateFailure})
	require.ErrorIs(t, err, boom)
}
