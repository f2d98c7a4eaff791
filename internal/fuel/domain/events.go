package domain

import (
	"context"
	"time"
)

type EventType string

const (
	EventTaskStarted   EventType = "task.started"
	EventTaskSucceeded EventType = "task.succeeded"
	EventTaskFailed    EventType = "task.failed"
)

// TaskEvent announces a task state change to downstream consumers.
type TaskEvent struct {
	Type       EventType `json:"type"`
	TaskID     string    `json:"task_id"`
	RouteKey   string    `json:"route_key"`
	State      TaskState `json:"state"`
	Error      string    `json:"error,omitempty"`
	Stops      int       `json:"stops,omitempty"`
	TotalCost  float64   `json:"total_cost,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

type EventPublisher interface {
	Publish(ctx context.Context, event TaskEvent) error
}
