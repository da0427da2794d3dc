// Package registry is the in-memory source of truth for task state. It
// exposes only atomic operations — create, update, read, evict — and
// hands out snapshot copies, never the live records.
package registry

import (
	"errors"
	"sync"
	"time"

	"typetrim/models"
)

var (
	ErrTaskNotFound      = errors.New("task not found")
	ErrTaskAlreadyExists = errors.New("task already exists")
)

type Registry struct {
	mu    sync.RWMutex
	tasks map[string]*models.Task
}

func New() *Registry {
	return &Registry{tasks: make(map[string]*models.Task)}
}

func (r *Registry) Create(task *models.Task) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tasks[task.ID]; exists {
		return ErrTaskAlreadyExists
	}
	clone := *task
	r.tasks[task.ID] = &clone
	return nil
}

// Get returns a snapshot of a task.
func (r *Registry) Get(id string) (models.Task, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	task, exists := r.tasks[id]
	if !exists {
		return models.Task{}, ErrTaskNotFound
	}
	return snapshot(task), nil
}

// Update applies a mutation under the registry lock. Only the worker
// holding the task's lock may call this for status, progress, or message
// fields; the registry itself just serializes the write.
func (r *Registry) Update(id string, fn func(*models.Task)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	task, exists := r.tasks[id]
	if !exists {
		return ErrTaskNotFound
	}
	fn(task)
	return nil
}

// Evict removes a record and returns its final snapshot.
func (r *Registry) Evict(id string) (models.Task, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	task, exists := r.tasks[id]
	if !exists {
		return models.Task{}, false
	}
	delete(r.tasks, id)
	return snapshot(task), true
}

// EvictIf removes a record only when the predicate holds for its current
// state. The check and the removal happen under one lock acquisition, so
// two racing callers cannot both claim the same record.
func (r *Registry) EvictIf(id string, pred func(models.Task) bool) (models.Task, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	task, exists := r.tasks[id]
	if !exists || !pred(snapshot(task)) {
		return models.Task{}, false
	}
	delete(r.tasks, id)
	return snapshot(task), true
}

// SweepTerminal evicts every terminal task whose completion is older than
// the grace window and returns their snapshots so the caller can release
// any blobs they still reference.
func (r *Registry) SweepTerminal(now time.Time, grace time.Duration) []models.Task {
	r.mu.Lock()
	defer r.mu.Unlock()

	var evicted []models.Task
	for id, task := range r.tasks {
		if !task.Status.Terminal() || task.CompletedAt == nil {
			continue
		}
		if now.Sub(*task.CompletedAt) < grace {
			continue
		}
		evicted = append(evicted, snapshot(task))
		delete(r.tasks, id)
	}
	return evicted
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tasks)
}

func snapshot(task *models.Task) models.Task {
	clone := *task
	if task.CompletedAt != nil {
		completed := *task.CompletedAt
		clone.CompletedAt = &completed
	}
	return clone
}
