// Package registry holds the live state of every discovery task and hands
// out isolated snapshots to pollers.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/candidate-discovery/internal/discovery"
)

// Loader resolves tasks that are no longer held in memory.
type Loader interface {
	LoadTask(ctx context.Context, taskID string) (discovery.Task, error)
}

type entry struct {
	task            discovery.Task
	cancelRequested bool
}

// Registry is an in-memory task table. Snapshots returned by Get are deep
// copies; writes after a terminal status are refused.
type Registry struct {
	mu     sync.RWMutex
	tasks  map[string]*entry
	ids    discovery.IDGenerator
	clock  discovery.Clock
	sinks  []discovery.TaskSink
	loader Loader
	logger *zap.Logger
}

// Option customises a Registry.
type Option func(*Registry)

// WithSinks mirrors every stored snapshot to sinks.
func WithSinks(sinks ...discovery.TaskSink) Option {
	return func(r *Registry) {
		for _, s := range sinks {
			if s != nil {
				r.sinks = append(r.sinks, s)
			}
		}
	}
}

// WithLoader consults loader for ids not held in memory.
func WithLoader(loader Loader) Option {
	return func(r *Registry) {
		r.loader = loader
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(r *Registry) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// New constructs an empty Registry.
func New(ids discovery.IDGenerator, clock discovery.Clock, opts ...Option) *Registry {
	r := &Registry{
		tasks:  make(map[string]*entry),
		ids:    ids,
		clock:  clock,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.Named("registry")
	return r
}

// Create registers a QUEUED task for criteria and returns its id.
func (r *Registry) Create(ctx context.Context, criteria discovery.SearchCriteria) (string, error) {
	id, err := r.ids.NewID()
	if err != nil {
		return "", fmt.Errorf("generate task id: %w", err)
	}
	now := r.clock.Now()
	task := discovery.Task{
		ID:        id,
		Criteria:  criteria,
		Status:    discovery.TaskStatusQueued,
		Results:   []discovery.CandidateProfile{},
		CreatedAt: now,
		UpdatedAt: now,
	}
	r.mu.Lock()
	if _, exists := r.tasks[id]; exists {
		r.mu.Unlock()
		return "", fmt.Errorf("task %s already exists", id)
	}
	r.tasks[id] = &entry{task: task.Clone()}
	r.mu.Unlock()

	r.mirror(ctx, task)
	return id, nil
}

// Get returns a snapshot of the task.
func (r *Registry) Get(ctx context.Context, taskID string) (discovery.Task, error) {
	if !r.ids.Valid(taskID) {
		return discovery.Task{}, discovery.ErrTaskNotFound
	}
	r.mu.RLock()
	e, ok := r.tasks[taskID]
	var snap discovery.Task
	if ok {
		snap = e.task.Clone()
	}
	r.mu.RUnlock()
	if ok {
		return snap, nil
	}
	if r.loader != nil {
		task, err := r.loader.LoadTask(ctx, taskID)
		if err == nil {
			return task, nil
		}
		if !errors.Is(err, discovery.ErrTaskNotFound) {
			r.logger.Warn("task fallback lookup failed", zap.String("task_id", taskID), zap.Error(err))
		}
	}
	return discovery.Task{}, discovery.ErrTaskNotFound
}

// Save replaces the stored state of a task. It fails with ErrTaskTerminal
// once the stored task is terminal.
func (r *Registry) Save(ctx context.Context, task discovery.Task) error {
	r.mu.Lock()
	e, ok := r.tasks[task.ID]
	if !ok {
		r.mu.Unlock()
		return discovery.ErrTaskNotFound
	}
	if e.task.Status.Terminal() {
		r.mu.Unlock()
		return fmt.Errorf("save task %s: %w", task.ID, discovery.ErrTaskTerminal)
	}
	e.task = task.Clone()
	r.mu.Unlock()

	r.mirror(ctx, task)
	return nil
}

// Cancel requests cancellation. A queued task is cancelled at once; a
// running task is flagged and stops at its next page boundary. It returns
// false when the task is already terminal.
func (r *Registry) Cancel(ctx context.Context, taskID string) (bool, error) {
	r.mu.Lock()
	e, ok := r.tasks[taskID]
	if !ok {
		r.mu.Unlock()
		return false, discovery.ErrTaskNotFound
	}
	var snap *discovery.Task
	switch {
	case e.task.Status.Terminal():
		r.mu.Unlock()
		return false, nil
	case e.task.Status == discovery.TaskStatusQueued:
		e.task.Status = discovery.TaskStatusCancelled
		e.task.UpdatedAt = r.clock.Now()
		cp := e.task.Clone()
		snap = &cp
	}
	e.cancelRequested = true
	r.mu.Unlock()

	if snap != nil {
		r.mirror(ctx, *snap)
	}
	return true, nil
}

// CancelRequested reports whether Cancel was called for taskID.
func (r *Registry) CancelRequested(taskID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.tasks[taskID]
	return ok && e.cancelRequested
}

// Prune drops terminal tasks last updated before cutoff and returns how many
// were removed.
func (r *Registry) Prune(cutoff time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	removed := 0
	for id, e := range r.tasks {
		if e.task.Status.Terminal() && e.task.UpdatedAt.Before(cutoff) {
			delete(r.tasks, id)
			removed++
		}
	}
	return removed
}

// Len returns the number of tasks held in memory.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tasks)
}

func (r *Registry) mirror(ctx context.Context, task discovery.Task) {
	for _, s := range r.sinks {
		if err := s.SaveTask(ctx, task); err != nil {
			r.logger.Warn("task mirror failed", zap.String("task_id", task.ID), zap.Error(err))
		}
	}
}
