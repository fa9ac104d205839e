package tasks

import (
	"context"
	"errors"
	"sync"

	"github.com/deemkeen/vidfed/util"
)

var (
	ErrQueueClosed = errors.New("task queue closed")
	ErrQueueFull   = errors.New("task queue full")
)

// Queue is a FIFO of tasks shared by producers (HTTP handlers, CLI,
// schedulers) and the worker pool.
type Queue interface {
	Enqueue(ctx context.Context, t Task) error
	// Dequeue blocks until a task is available, ctx is done or the queue is closed.
	Dequeue(ctx context.Context) (Task, error)
	Close() error
}

// NewQueue returns a Redis backed queue when a broker URL is configured and an
// in-process queue otherwise.
func NewQueue(cfg *util.RedisConfig) (Queue, error) {
	if cfg == nil || cfg.URL == "" {
		return NewMemoryQueue(defaultMemoryQueueSize), nil
	}
	return NewRedisQueue(cfg)
}

const defaultMemoryQueueSize = 1024

// MemoryQueue is a bounded in-process queue. Enqueue never blocks; it fails
// with ErrQueueFull when no slot is free.
type MemoryQueue struct {
	ch        chan Task
	done      chan struct{}
	closeOnce sync.Once
}

func NewMemoryQueue(size int) *MemoryQueue {
	return &MemoryQueue{
		ch:   make(chan Task, size),
		done: make(chan struct{}),
	}
}

func (q *MemoryQueue) Enqueue(ctx context.Context, t Task) error {
	select {
	case <-q.done:
		return ErrQueueClosed
	default:
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case q.ch <- t:
		return nil
	default:
		return ErrQueueFull
	}
}

func (q *MemoryQueue) Dequeue(ctx context.Context) (Task, error) {
	select {
	case t := <-q.ch:
		return t, nil
	case <-q.done:
		return Task{}, ErrQueueClosed
	case <-ctx.Done():
		return Task{}, ctx.Err()
	}
}

// Len reports the number of waiting tasks.
func (q *MemoryQueue) Len() int {
	return len(q.ch)
}

func (q *MemoryQueue) Close() error {
	q.closeOnce.Do(func() { close(q.done) })
	return nil
}
