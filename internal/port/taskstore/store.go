// Package taskstore defines the task store port (interface).
package taskstore

import (
	"context"

	"github.com/Strob0t/ImageForge/internal/domain/task"
)

// Store is the port interface for task persistence. The orchestrator is
// the only writer; readers get copies and must not mutate returned tasks.
type Store interface {
	// CreateTask persists a new task record.
	CreateTask(ctx context.Context, t *task.Task) error

	// GetTask returns a task by ID, or domain.ErrNotFound.
	GetTask(ctx context.Context, id string) (*task.Task, error)

	// ListTasks returns all tasks ordered by creation time, newest first.
	ListTasks(ctx context.Context) ([]task.Task, error)

	// UpdateTask replaces the stored row when t.Version matches the stored
	// version, then bumps the version. Returns domain.ErrConflict on a
	// version mismatch and domain.ErrNotFound for unknown IDs.
	UpdateTask(ctx context.Context, t *task.Task) error

	// GetTaskByHandle returns the task owning the given provider handle,
	// or domain.ErrNotFound. Used to correlate webhook callbacks.
	GetTaskByHandle(ctx context.Context, providerName, handle string) (*task.Task, error)
}
