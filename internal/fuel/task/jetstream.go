package task

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.uber.org/zap"

	"github.com/example/fuelroute/internal/fuel/domain"
)

// JetStreamConfig names the durable work queue.
type JetStreamConfig struct {
	Stream   string
	Subject  string
	Durable  string
	AckWait  time.Duration
	Workers  int
	MaxRetry int

	// MaxAckPending bounds unacknowledged deliveries across every worker
	// process sharing the durable consumer.
	MaxAckPending int
}

func (c JetStreamConfig) withDefaults() JetStreamConfig {
	if c.Stream == "" {
		c.Stream = "FUELROUTE_TASKS"
	}
	if c.Subject == "" {
		c.Subject = "fuelroute.tasks.route"
	}
	if c.Durable == "" {
		c.Durable = "route-workers"
	}
	if c.AckWait <= 0 {
		c.AckWait = 2 * time.Minute
	}
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.MaxRetry <= 0 {
		c.MaxRetry = 3
	}
	if c.MaxAckPending <= 0 {
		c.MaxAckPending = 64
	}
	return c
}

type jsPublisher interface {
	PublishMsg(m *nats.Msg, opts ...nats.PubOpt) (*nats.PubAck, error)
}

// JetStreamQueue carries jobs over a NATS JetStream work-queue stream so that
// API nodes and worker processes can be scaled separately.
type JetStreamQueue struct {
	js     nats.JetStreamContext
	pub    jsPublisher
	cfg    JetStreamConfig
	logger *zap.Logger
	wg     sync.WaitGroup
}

func NewJetStreamQueue(conn *nats.Conn, logger *zap.Logger, cfg JetStreamConfig) (*JetStreamQueue, error) {
	if conn == nil {
		return nil, errors.New("nats connection is required")
	}
	js, err := conn.JetStream()
	if err != nil {
		return nil, fmt.Errorf("jetstream context: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &JetStreamQueue{js: js, pub: js, cfg: cfg.withDefaults(), logger: logger}, nil
}

// EnsureStream creates the work-queue stream when it does not exist yet.
// The durable consumer is created here rather than by the subscription, so
// that one worker unsubscribing never deletes it for the others.
func (q *JetStreamQueue) EnsureStream() error {
	_, err := q.js.StreamInfo(q.cfg.Stream)
	if errors.Is(err, nats.ErrStreamNotFound) {
		_, err = q.js.AddStream(&nats.StreamConfig{
			Name:      q.cfg.Stream,
			Subjects:  []string{q.cfg.Subject},
			Retention: nats.WorkQueuePolicy,
			Storage:   nats.FileStorage,
		})
		if err != nil {
			return fmt.Errorf("add stream: %w", err)
		}
	} else if err != nil {
		return fmt.Errorf("stream info: %w", err)
	}

	_, err = q.js.ConsumerInfo(q.cfg.Stream, q.cfg.Durable)
	if err == nil {
		return nil
	}
	if !errors.Is(err, nats.ErrConsumerNotFound) {
		return fmt.Errorf("consumer info: %w", err)
	}
	_, err = q.js.AddConsumer(q.cfg.Stream, &nats.ConsumerConfig{
		Durable:        q.cfg.Durable,
		DeliverSubject: "_FUELROUTE.deliver." + q.cfg.Durable,
		DeliverGroup:   q.cfg.Durable,
		FilterSubject:  q.cfg.Subject,
		AckPolicy:      nats.AckExplicitPolicy,
		AckWait:        q.cfg.AckWait,
		MaxDeliver:     q.cfg.MaxRetry + 1,
		MaxAckPending:  q.cfg.MaxAckPending,
	})
	if err != nil && !errors.Is(err, nats.ErrConsumerNameAlreadyInUse) {
		return fmt.Errorf("add consumer: %w", err)
	}
	return nil
}

// Enqueue publishes the job; the task id doubles as the JetStream dedup id.
func (q *JetStreamQueue) Enqueue(ctx context.Context, job domain.Job) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	msg := nats.NewMsg(q.cfg.Subject)
	msg.Data = payload
	msg.Header.Set(nats.MsgIdHdr, job.TaskID)
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(msg.Header))
	if _, err := q.pub.PublishMsg(msg, nats.Context(ctx)); err != nil {
		return fmt.Errorf("jetstream publish: %w", err)
	}
	return nil
}

// Consume runs cfg.Workers goroutines on a queue subscription bound to the
// durable consumer until ctx is cancelled. EnsureStream must have run first.
func (q *JetStreamQueue) Consume(ctx context.Context, handle Handler) error {
	ch := make(chan *nats.Msg, q.cfg.Workers)
	sub, err := q.js.ChanQueueSubscribe(q.cfg.Subject, q.cfg.Durable, ch,
		nats.Bind(q.cfg.Stream, q.cfg.Durable),
		nats.ManualAck(),
	)
	if err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}

	for i := 0; i < q.cfg.Workers; i++ {
		q.wg.Add(1)
		go func() {
			defer q.wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case msg := <-ch:
					q.dispatch(ctx, msg, handle)
				}
			}
		}()
	}

	<-ctx.Done()
	if err := sub.Unsubscribe(); err != nil {
		q.logger.Warn("unsubscribe failed", zap.Error(err))
	}
	q.wg.Wait()
	return ctx.Err()
}

type acker interface {
	Ack(opts ...nats.AckOpt) error
	Nak(opts ...nats.AckOpt) error
	Term(opts ...nats.AckOpt) error
}

func (q *JetStreamQueue) dispatch(ctx context.Context, msg *nats.Msg, handle Handler) {
	q.process(ctx, msg.Header, msg.Data, msg, handle)
}

// process decodes one delivery and settles it: malformed jobs are terminated,
// handler errors are nak'd for redelivery.
func (q *JetStreamQueue) process(ctx context.Context, header nats.Header, data []byte, ack acker, handle Handler) {
	var job domain.Job
	if err := json.Unmarshal(data, &job); err != nil {
		q.logger.Error("malformed job dropped", zap.Error(err))
		_ = ack.Term()
		return
	}
	if header != nil {
		ctx = otel.GetTextMapPropagator().Extract(ctx, propagation.HeaderCarrier(header))
	}
	if err := handle(ctx, job); err != nil {
		q.logger.Error("route job failed", zap.String("task_id", job.TaskID), zap.Error(err))
		_ = ack.Nak()
		return
	}
	if err := ack.Ack(); err != nil {
		q.logger.Warn("ack failed", zap.String("task_id", job.TaskID), zap.Error(err))
	}
}
