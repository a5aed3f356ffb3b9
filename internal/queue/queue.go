package queue

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"faq-rag/internal/retry"
)

// TaskType enumerates supported task categories.
type TaskType string

const (
	// TaskTypeIndex asks one worker to (re)index a knowledge document.
	TaskTypeIndex TaskType = "index"
	// TaskTypeInvalidate tells every running instance to drop cached answers.
	TaskTypeInvalidate TaskType = "invalidate"
)

// Broadcast reports whether every subscriber receives the task, rather than
// one worker of the group.
func (t TaskType) Broadcast() bool {
	return t == TaskTypeInvalidate
}

// Subject is the NATS subject the task type is published on.
func (t TaskType) Subject() string {
	return "tasks." + string(t)
}

// Task represents a unit of work shared across instances.
type Task struct {
	ID          uuid.UUID
	Type        TaskType
	Payload     []byte
	Attempts    int
	MaxAttempts int
	NotBefore   time.Time
}

// IndexPayload carries a knowledge file to index.
type IndexPayload struct {
	Name    string `json:"name"`
	Content []byte `json:"content"`
}

// InvalidatePayload describes why caches are flushed.
type InvalidatePayload struct {
	Reason  string   `json:"reason"`
	Sources []string `json:"sources,omitempty"`
}

// NewTask encodes payload as JSON into a task of type t.
func NewTask(t TaskType, payload any) (Task, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return Task{}, err
	}
	return Task{ID: uuid.New(), Type: t, Payload: body, NotBefore: time.Now()}, nil
}

type Handler func(context.Context, Task) error

// Queue exposes a minimal contract to enqueue and consume tasks.
type Queue interface {
	Enqueue(ctx context.Context, task Task) error
	// Worker consumes tasks of taskType until ctx is done.
	Worker(ctx context.Context, taskType TaskType, handler Handler) error
	Close() error
}

// EnqueueWithRetry attempts to enqueue with retries and exponential backoff.
func EnqueueWithRetry(ctx context.Context, q Queue, task Task, attempts int, base time.Duration) error {
	if attempts <= 0 {
		attempts = 1
	}
	return retry.Do(ctx, retry.Policy{Retries: attempts - 1, Base: base}, func(ctx context.Context, _ int) error {
		return q.Enqueue(ctx, task)
	})
}

// NewNoop returns a Queue for single-instance deployments: enqueued tasks
// are dropped and workers idle until cancelled.
func NewNoop() Queue {
	return noopQueue{}
}

type noopQueue struct{}

func (noopQueue) Enqueue(context.Context, Task) error { return nil }

func (noopQueue) Worker(ctx context.Context, _ TaskType, _ Handler) error {
	<-ctx.Done()
	return nil
}

func (noopQueue) Close() error { return nil }
