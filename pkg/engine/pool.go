package engine

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/dhanushk2105/pointandclick-dhanush/pkg/task"
)

// ErrQueueFull is returned when the task queue cannot take more work.
var ErrQueueFull = errors.New("task queue is full")

// WorkerStatus is the current state of a worker.
type WorkerStatus string

const (
	WorkerIdle    WorkerStatus = "idle"
	WorkerWorking WorkerStatus = "working"
)

// WorkerHealth is a point-in-time snapshot of one worker.
type WorkerHealth struct {
	ID             int          `json:"id"`
	Status         WorkerStatus `json:"status"`
	CurrentTaskID  string       `json:"current_task_id,omitempty"`
	TasksProcessed int          `json:"tasks_processed"`
	LastActivity   time.Time    `json:"last_activity"`
}

// Pool runs queued tasks on a fixed set of workers. Tasks wait in a
// buffered in-memory queue; each claimed task runs under its own
// cancellable context registered for manual cancellation.
type Pool struct {
	engine  *Engine
	queue   chan *task.Task
	workers int

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
	cancel   context.CancelFunc

	mu      sync.RWMutex
	active  map[string]context.CancelFunc
	health  []WorkerHealth
	started bool
}

// NewPool creates a pool with the given worker count and queue size.
func NewPool(engine *Engine, workers, queueSize int) *Pool {
	if workers <= 0 {
		workers = 1
	}
	if queueSize <= 0 {
		queueSize = 16
	}
	p := &Pool{
		engine:  engine,
		queue:   make(chan *task.Task, queueSize),
		workers: workers,
		stopCh:  make(chan struct{}),
		active:  make(map[string]context.CancelFunc),
		health:  make([]WorkerHealth, workers),
	}
	for i := range p.health {
		p.health[i] = WorkerHealth{ID: i, Status: WorkerIdle, LastActivity: time.Now()}
	}
	return p
}

// Start spawns the worker goroutines. Duplicate calls are no-ops.
func (p *Pool) Start(ctx context.Context) {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		slog.Warn("Worker pool already started, ignoring duplicate Start call")
		return
	}
	p.started = true
	ctx, p.cancel = context.WithCancel(ctx)
	p.mu.Unlock()

	slog.Info("Starting worker pool", "worker_count", p.workers)
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.runWorker(ctx, i)
	}
}

// Submit enqueues a task for execution. Fails fast when the queue is
// full so the caller can surface backpressure.
func (p *Pool) Submit(t *task.Task) error {
	select {
	case <-p.stopCh:
		return errors.New("worker pool is stopped")
	default:
	}
	select {
	case p.queue <- t:
		return nil
	default:
		return ErrQueueFull
	}
}

// Stop cancels the run context so in-flight tasks end cancelled, waits
// for the workers, and marks tasks still waiting in the queue cancelled.
func (p *Pool) Stop() {
	slog.Info("Stopping worker pool gracefully")
	p.stopOnce.Do(func() { close(p.stopCh) })

	p.mu.RLock()
	cancel := p.cancel
	p.mu.RUnlock()
	if cancel != nil {
		cancel()
	}
	p.wg.Wait()

	for {
		select {
		case t := <-p.queue:
			t.Finish(task.StatusCancelled, ReasonCancelled)
		default:
			slog.Info("Worker pool stopped")
			return
		}
	}
}

// Cancel cancels the running task with the given id. Returns false when
// the task is not currently executing.
func (p *Pool) Cancel(taskID string) bool {
	p.mu.RLock()
	cancel, ok := p.active[taskID]
	p.mu.RUnlock()
	if ok {
		cancel()
	}
	return ok
}

// ActiveCount returns the number of tasks currently executing.
func (p *Pool) ActiveCount() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.active)
}

// QueuedCount returns the number of tasks waiting in the queue.
func (p *Pool) QueuedCount() int {
	return len(p.queue)
}

// MaxSteps returns the per-task step budget the engine enforces.
func (p *Pool) MaxSteps() int {
	return p.engine.cfg.MaxSteps
}

// Health returns a snapshot of all workers.
func (p *Pool) Health() []WorkerHealth {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]WorkerHealth, len(p.health))
	copy(out, p.health)
	return out
}

func (p *Pool) runWorker(ctx context.Context, id int) {
	defer p.wg.Done()
	log := slog.With("worker_id", id)
	log.Info("Worker started")

	for {
		select {
		case <-p.stopCh:
			log.Info("Worker stopped")
			return
		case <-ctx.Done():
			log.Info("Worker context cancelled")
			return
		case t := <-p.queue:
			p.process(ctx, id, t, log)
		}
	}
}

func (p *Pool) process(ctx context.Context, id int, t *task.Task, log *slog.Logger) {
	taskCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	t.BindCancel(cancel)

	p.mu.Lock()
	p.active[t.ID()] = cancel
	p.health[id].Status = WorkerWorking
	p.health[id].CurrentTaskID = t.ID()
	p.health[id].LastActivity = time.Now()
	p.mu.Unlock()

	log.Info("Worker claimed task", "task_id", t.ID())
	p.engine.Run(taskCtx, t)

	p.mu.Lock()
	delete(p.active, t.ID())
	p.health[id].Status = WorkerIdle
	p.health[id].CurrentTaskID = ""
	p.health[id].TasksProcessed++
	p.health[id].LastActivity = time.Now()
	p.mu.Unlock()
}
