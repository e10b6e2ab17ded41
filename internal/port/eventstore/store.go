// Package eventstore defines the port interface for the append-only task event log.
package eventstore

import (
	"context"

	"github.com/Strob0t/ImageForge/internal/domain/event"
)

// Store is the port interface for appending and loading task events.
type Store interface {
	// AppendTaskEvent persists a new event to the log.
	AppendTaskEvent(ctx context.Context, ev *event.TaskEvent) error

	// ListTaskEvents returns all events for the given task, oldest first.
	ListTaskEvents(ctx context.Context, taskID string) ([]event.TaskEvent, error)
}
