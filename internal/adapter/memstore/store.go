// Package memstore implements the task and event store ports in memory.
// It is the default backend; the core only promises in-process consistency,
// so nothing here survives a restart.
package memstore

import (
	"context"
	"sort"
	"sync"

	"github.com/Strob0t/ImageForge/internal/domain"
	"github.com/Strob0t/ImageForge/internal/domain/event"
	"github.com/Strob0t/ImageForge/internal/domain/task"
)

// Store holds tasks and their event logs behind a single mutex.
type Store struct {
	mu     sync.RWMutex
	tasks  map[string]*task.Task
	events map[string][]event.TaskEvent
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		tasks:  make(map[string]*task.Task),
		events: make(map[string][]event.TaskEvent),
	}
}

// CreateTask persists a new task record.
func (s *Store) CreateTask(_ context.Context, t *task.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.tasks[t.ID]; exists {
		return domain.ErrConflict
	}
	cp := clone(t)
	s.tasks[t.ID] = &cp
	return nil
}

// GetTask returns a copy of the task, or domain.ErrNotFound.
func (s *Store) GetTask(_ context.Context, id string) (*task.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.tasks[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := clone(t)
	return &cp, nil
}

// ListTasks returns copies of all tasks, newest first.
func (s *Store) ListTasks(_ context.Context) ([]task.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]task.Task, 0, len(s.tasks))
	for _, t := range s.tasks {
		out = append(out, clone(t))
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

// UpdateTask replaces the stored row under optimistic version check.
func (s *Store) UpdateTask(_ context.Context, t *task.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.tasks[t.ID]
	if !ok {
		return domain.ErrNotFound
	}
	if cur.Version != t.Version {
		return domain.ErrConflict
	}
	cp := clone(t)
	cp.Version++
	s.tasks[t.ID] = &cp
	t.Version = cp.Version
	return nil
}

// GetTaskByHandle returns the task owning the given provider handle.
func (s *Store) GetTaskByHandle(_ context.Context, providerName, handle string) (*task.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, t := range s.tasks {
		if t.Provider == providerName && t.ProviderHandle == handle {
			cp := clone(t)
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

// AppendTaskEvent persists a new event to the log.
func (s *Store) AppendTaskEvent(_ context.Context, ev *event.TaskEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.events[ev.TaskID] = append(s.events[ev.TaskID], *ev)
	return nil
}

// ListTaskEvents returns all events for the given task, oldest first.
func (s *Store) ListTaskEvents(_ context.Context, taskID string) ([]event.TaskEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	evs := s.events[taskID]
	out := make([]event.TaskEvent, len(evs))
	copy(out, evs)
	return out, nil
}

// clone deep-copies a task so callers never share mutable state.
func clone(t *task.Task) task.Task {
	cp := *t
	if t.Options != nil {
		cp.Options = make(map[string]string, len(t.Options))
		for k, v := range t.Options {
			cp.Options[k] = v
		}
	}
	if t.Result != nil {
		r := *t.Result
		r.Images = append([]string(nil), t.Result.Images...)
		cp.Result = &r
	}
	if t.Failure != nil {
		f := *t.Failure
		cp.Failure = &f
	}
	return cp
}
