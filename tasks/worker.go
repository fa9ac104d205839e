package tasks

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/deemkeen/vidfed/logging"
	"github.com/deemkeen/vidfed/telemetry"
	"github.com/deemkeen/vidfed/util"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// Handler runs one task. A returned error makes the pool retry the task
// until its attempts are exhausted.
type Handler func(ctx context.Context, t Task) error

var ErrNoHandler = errors.New("no handler registered")

// Mux routes tasks to handlers by kind.
type Mux struct {
	mu       sync.RWMutex
	handlers map[Kind]Handler
}

func NewMux() *Mux {
	return &Mux{handlers: make(map[Kind]Handler)}
}

func (m *Mux) Handle(kind Kind, h Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[kind] = h
}

func (m *Mux) Dispatch(ctx context.Context, t Task) error {
	m.mu.RLock()
	h, ok := m.handlers[t.Kind]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%s task: %w", t.Kind, ErrNoHandler)
	}
	return h(ctx, t)
}

// Pool pulls tasks from a queue on a fixed number of goroutines.
type Pool struct {
	queue       Queue
	mux         *Mux
	workers     int
	maxAttempts int
	log         *zap.Logger
}

func NewPool(queue Queue, mux *Mux, cfg *util.TasksConfig) *Pool {
	workers, maxAttempts := 1, 1
	if cfg != nil {
		if cfg.Workers > 0 {
			workers = cfg.Workers
		}
		if cfg.MaxAttempts > 0 {
			maxAttempts = cfg.MaxAttempts
		}
	}
	return &Pool{
		queue:       queue,
		mux:         mux,
		workers:     workers,
		maxAttempts: maxAttempts,
		log:         logging.WithComponent("tasks"),
	}
}

// Run blocks until ctx is cancelled or the queue is closed.
func (p *Pool) Run(ctx context.Context) {
	p.log.Info("Starting task workers", zap.Int("workers", p.workers), zap.Int("max_attempts", p.maxAttempts))

	var wg sync.WaitGroup
	for i := 0; i < p.workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			p.work(ctx, id)
		}(i)
	}
	wg.Wait()
	p.log.Info("Task workers stopped")
}

const (
	minDequeueBackoff = 100 * time.Millisecond
	maxDequeueBackoff = 10 * time.Second
)

func (p *Pool) work(ctx context.Context, id int) {
	backoff := minDequeueBackoff
	for {
		t, err := p.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, ErrQueueClosed) {
				return
			}
			p.log.Error("Failed to dequeue task", zap.Int("worker", id), zap.Duration("backoff", backoff), zap.Error(err))
			if !sleep(ctx, backoff) {
				return
			}
			backoff = min(2*backoff, maxDequeueBackoff)
			continue
		}
		backoff = minDequeueBackoff
		p.Process(ctx, t)
	}
}

// sleep waits for d and reports false when ctx ended first.
func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// Process runs a single task and schedules a retry on failure. Errors never
// propagate past this point. A retry that does not fit in the queue is
// dropped; the workers are the queue's only consumers and must not wait on it.
func (p *Pool) Process(ctx context.Context, t Task) {
	err := p.run(ctx, t)
	telemetry.Count(ctx, telemetry.Default().Tasks,
		attribute.String("kind", string(t.Kind)), telemetry.Outcome(err))
	if err == nil {
		return
	}

	log := p.log.With(zap.String("task", t.ID), zap.String("kind", string(t.Kind)), zap.Int("attempt", t.Attempt+1))
	if errors.Is(err, ErrNoHandler) || t.Attempt+1 >= p.maxAttempts {
		log.Error("Task failed, giving up", zap.Error(err))
		return
	}

	log.Warn("Task failed, retrying", zap.Error(err))
	t.Attempt++
	if err := p.queue.Enqueue(ctx, t); err != nil {
		log.Error("Failed to requeue task", zap.Error(err))
	}
}

func (p *Pool) run(ctx context.Context, t Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in %s task: %v", t.Kind, r)
		}
	}()
	ctx, span := telemetry.StartSpan(ctx, "task."+string(t.Kind))
	defer span.End()
	return p.mux.Dispatch(ctx, t)
}
