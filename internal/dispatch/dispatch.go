// Package dispatch runs webhook update processing on a bounded worker pool
// so webhook handlers can acknowledge immediately.
package dispatch

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// DefaultWorkers is the number of concurrent update processors.
const DefaultWorkers = 4

// DefaultQueueSize bounds the number of updates waiting for a worker.
const DefaultQueueSize = 256

// Task is a unit of background work. Its error is logged, never propagated:
// by the time a task runs, the webhook that produced it has already been
// acknowledged.
type Task func(ctx context.Context) error

// Opts holds configuration for the dispatcher.
type Opts struct {
	// Workers is the worker pool size.
	Workers int
	// QueueSize bounds the pending task queue.
	QueueSize int
}

// Option configures the dispatcher.
type Option func(*Opts)

// WithWorkers sets the worker pool size.
func WithWorkers(n int) Option {
	return func(o *Opts) {
		if n > 0 {
			o.Workers = n
		}
	}
}

// WithQueueSize sets the pending queue capacity.
func WithQueueSize(n int) Option {
	return func(o *Opts) {
		if n > 0 {
			o.QueueSize = n
		}
	}
}

type job struct {
	id   string
	task Task
}

// Dispatcher owns a task queue and its worker pool.
type Dispatcher struct {
	queue   chan job
	workers int
	group   *errgroup.Group

	mu     sync.Mutex
	closed bool
}

// NewDispatcher creates a dispatcher. Call Start before Enqueue.
func NewDispatcher(opts ...Option) *Dispatcher {
	cfg := Opts{
		Workers:   DefaultWorkers,
		QueueSize: DefaultQueueSize,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Dispatcher{
		queue:   make(chan job, cfg.QueueSize),
		workers: cfg.Workers,
	}
}

// Start launches the worker pool. Workers run until Shutdown closes the
// queue; ctx is only passed through to the tasks, so cancelling it does not
// abandon already-accepted work.
func (d *Dispatcher) Start(ctx context.Context) {
	slog.Info("Dispatcher starting", "workers", d.workers, "queueSize", cap(d.queue))
	d.group = &errgroup.Group{}
	for i := 0; i < d.workers; i++ {
		worker := i
		d.group.Go(func() error {
			d.run(ctx, worker)
			return nil
		})
	}
}

func (d *Dispatcher) run(ctx context.Context, worker int) {
	defer slog.Debug("Dispatcher worker stopped", "worker", worker)
	for j := range d.queue {
		d.process(ctx, worker, j)
	}
}

func (d *Dispatcher) process(ctx context.Context, worker int, j job) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Dispatcher task panicked", "jobID", j.id, "worker", worker, "panic", r)
		}
	}()
	slog.Debug("Dispatcher task started", "jobID", j.id, "worker", worker)
	if err := j.task(ctx); err != nil {
		slog.Error("Dispatcher task failed", "error", err, "jobID", j.id, "worker", worker)
		return
	}
	slog.Debug("Dispatcher task finished", "jobID", j.id, "worker", worker)
}

// Enqueue submits a task without blocking. When the queue is full or the
// dispatcher has shut down the task is dropped and logged; the caller's
// acknowledgment is not delayed. It returns false when the task was dropped.
func (d *Dispatcher) Enqueue(task Task) bool {
	j := job{id: uuid.NewString(), task: task}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		slog.Warn("Dispatcher shut down, task dropped", "jobID", j.id)
		return false
	}
	select {
	case d.queue <- j:
		slog.Debug("Dispatcher task enqueued", "jobID", j.id, "pending", len(d.queue))
		return true
	default:
		slog.Warn("Dispatcher queue full, task dropped", "jobID", j.id, "capacity", cap(d.queue))
		return false
	}
}

// Shutdown stops accepting tasks, closes the queue, and waits for the
// workers to drain it.
func (d *Dispatcher) Shutdown() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()

	if d.group != nil {
		_ = d.group.Wait()
	}
	slog.Info("Dispatcher stopped")
}
