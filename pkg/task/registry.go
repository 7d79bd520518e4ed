package task

import (
	"errors"
	"log/slog"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// ErrNotFound is returned for unknown task ids.
var ErrNotFound = errors.New("task not found")

// Registry tracks all tasks for the process lifetime. No persistence;
// restart clears it.
type Registry struct {
	mu    sync.RWMutex
	tasks map[string]*Task
	log   *slog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		tasks: make(map[string]*Task),
		log:   slog.With("component", "task-registry"),
	}
}

// Create registers a new queued task for the objective and returns it.
func (r *Registry) Create(objective string) *Task {
	t := New(uuid.New().String(), objective)
	r.mu.Lock()
	r.tasks[t.ID()] = t
	r.mu.Unlock()
	r.log.Info("Task created", "task_id", t.ID())
	return t
}

// Get returns the live task record for id.
func (r *Registry) Get(id string) (*Task, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tasks[id]
	if !ok {
		return nil, ErrNotFound
	}
	return t, nil
}

// Snapshot returns a consistent copy of the task state for id.
func (r *Registry) Snapshot(id string) (Snapshot, error) {
	t, err := r.Get(id)
	if err != nil {
		return Snapshot{}, err
	}
	return t.Snapshot(), nil
}

// Delete cancels and removes the task for id.
func (r *Registry) Delete(id string) error {
	r.mu.Lock()
	t, ok := r.tasks[id]
	if ok {
		delete(r.tasks, id)
	}
	r.mu.Unlock()
	if !ok {
		return ErrNotFound
	}
	t.Cancel()
	r.log.Info("Task deleted", "task_id", id)
	return nil
}

// Count returns the number of tracked tasks.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tasks)
}

// CountActive returns the number of tasks not yet terminal.
func (r *Registry) CountActive() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, t := range r.tasks {
		if !t.Status().Terminal() {
			n++
		}
	}
	return n
}

// CleanupTerminal removes terminal tasks, keeping the most recent
// keepLastN of them. Returns the number removed.
func (r *Registry) CleanupTerminal(keepLastN int) int {
	if keepLastN < 0 {
		keepLastN = 0
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	var terminal []*Task
	for _, t := range r.tasks {
		if t.Status().Terminal() {
			terminal = append(terminal, t)
		}
	}
	if len(terminal) <= keepLastN {
		return 0
	}

	sort.Slice(terminal, func(i, j int) bool {
		return terminal[i].Snapshot().CreatedAt.Before(terminal[j].Snapshot().CreatedAt)
	})

	removed := 0
	for _, t := range terminal[:len(terminal)-keepLastN] {
		delete(r.tasks, t.ID())
		removed++
	}
	r.log.Info("Cleaned up terminal tasks", "removed", removed, "kept", keepLastN)
	return removed
}
