package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Task is the unit of work handed to the persistence workers: fetch the
// result asset for a job and store it.
type Task struct {
	JobID     uint64 `json:"job_id"`
	ResultURL string `json:"result_url"`
}

// ErrQueueEmpty is returned by Dequeue when no task arrived within the
// blocking window.
var ErrQueueEmpty = errors.New("worker: queue empty")

// Queue delivers persistence tasks to the worker pool.
type Queue interface {
	Enqueue(ctx context.Context, task Task) error
	Dequeue(ctx context.Context, timeout time.Duration) (Task, error)
}

// RedisQueue backs the queue with a Redis list so that tasks survive process
// restarts.
type RedisQueue struct {
	client *redis.Client
	key    string
}

func NewRedisQueue(client *redis.Client, key string) *RedisQueue {
	return &RedisQueue{client: client, key: key}
}

func (q *RedisQueue) Enqueue(ctx context.Context, task Task) error {
	data, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("worker: marshal task: %w", err)
	}
	if err := q.client.LPush(ctx, q.key, data).Err(); err != nil {
		return fmt.Errorf("worker: enqueue task: %w", err)
	}
	return nil
}

func (q *RedisQueue) Dequeue(ctx context.Context, timeout time.Duration) (Task, error) {
	res, err := q.client.BRPop(ctx, timeout, q.key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Task{}, ErrQueueEmpty
		}
		return Task{}, fmt.Errorf("worker: dequeue task: %w", err)
	}
	// BRPop returns [key, value].
	var task Task
	if err := json.Unmarshal([]byte(res[1]), &task); err != nil {
		return Task{}, fmt.Errorf("worker: unmarshal task: %w", err)
	}
	return task, nil
}

// MemoryQueue is a channel-backed queue for tests and redis-less runs.
type MemoryQueue struct {
	tasks chan Task
}

func NewMemoryQueue(capacity int) *MemoryQueue {
	if capacity <= 0 {
		capacity = 1024
	}
	return &MemoryQueue{tasks: make(chan Task, capacity)}
}

func (q *MemoryQueue) Enqueue(ctx context.Context, task Task) error {
	select {
	case q.tasks <- task:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *MemoryQueue) Dequeue(ctx context.Context, timeout time.Duration) (Task, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case task := <-q.tasks:
		return task, nil
	case <-timer.C:
		return Task{}, ErrQueueEmpty
	case <-ctx.Done():
		return Task{}, ctx.Err()
	}
}
