package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel/trace"

	"github.com/example/fuelroute/internal/fuel/domain"
)

const DefaultSubject = "fuelroute.events"

type natsPublisher interface {
	PublishMsg(msg *nats.Msg) error
}

// Publisher writes task events to a NATS subject. A nil connection turns
// Publish into a no-op so the API can run without a broker.
type Publisher struct {
	conn    natsPublisher
	subject string
}

func NewPublisher(conn *nats.Conn, subject string) *Publisher {
	if subject == "" {
		subject = DefaultSubject
	}
	p := &Publisher{subject: subject}
	if conn != nil {
		p.conn = conn
	}
	return p
}

func (p *Publisher) Publish(ctx context.Context, event domain.TaskEvent) error {
	if p == nil || p.conn == nil {
		return nil
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	msg := &nats.Msg{Subject: p.subject + "." + string(event.State), Data: payload, Header: nats.Header{}}
	msg.Header.Set("x-trace-id", TraceID(ctx))
	msg.Header.Set("x-event-type", string(event.Type))
	if err := p.conn.PublishMsg(msg); err != nil {
		return fmt.Errorf("nats publish: %w", err)
	}
	return nil
}

// TraceID returns the hex trace id of the span in ctx, or "".
func TraceID(ctx context.Context) string {
	sc := trace.SpanFromContext(ctx).SpanContext()
	if !sc.IsValid() {
		return ""
	}
	return sc.TraceID().String()
}
