package task

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/example/fuelroute/internal/fuel/domain"
)

var (
	ErrQueueFull   = errors.New("task queue full")
	ErrQueueClosed = errors.New("task queue closed")
)

// Handler processes one job.
type Handler func(ctx context.Context, job domain.Job) error

// MemoryQueue is an in-process worker pool over a buffered channel. Jobs are
// lost on restart; the in-flight marker TTL bounds the damage.
type MemoryQueue struct {
	jobs    chan domain.Job
	logger  *zap.Logger
	mu      sync.RWMutex
	closed  bool
	wg      sync.WaitGroup
	workers int
}

func NewMemoryQueue(workers, buffer int, logger *zap.Logger) *MemoryQueue {
	if workers <= 0 {
		workers = 4
	}
	if buffer <= 0 {
		buffer = 128
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MemoryQueue{jobs: make(chan domain.Job, buffer), logger: logger, workers: workers}
}

// Enqueue never blocks the caller; a full buffer is reported as ErrQueueFull.
func (q *MemoryQueue) Enqueue(ctx context.Context, job domain.Job) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrQueueClosed
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case q.jobs <- job:
		return nil
	default:
		return ErrQueueFull
	}
}

// Start launches the workers. They exit when ctx is cancelled or Close drains the queue.
func (q *MemoryQueue) Start(ctx context.Context, handle Handler) {
	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go func(worker int) {
			defer q.wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case job, ok := <-q.jobs:
					if !ok {
						return
					}
					if err := handle(ctx, job); err != nil {
						q.logger.Error("route job failed", zap.Int("worker", worker), zap.String("task_id", job.TaskID), zap.Error(err))
					}
				}
			}
		}(i)
	}
}

// Close stops accepting jobs and waits for the workers to drain the buffer.
func (q *MemoryQueue) Close() {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		close(q.jobs)
	}
	q.mu.Unlock()
	q.wg.Wait()
}
