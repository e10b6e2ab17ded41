package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Strob0t/ImageForge/internal/domain/event"
)

// EventStore implements eventstore.Store using PostgreSQL (append-only).
type EventStore struct {
	pool *pgxpool.Pool
}

// NewEventStore creates a new EventStore backed by the given connection pool.
func NewEventStore(pool *pgxpool.Pool) *EventStore {
	return &EventStore{pool: pool}
}

// AppendTaskEvent inserts a new event into the task_events table.
func (s *EventStore) AppendTaskEvent(ctx context.Context, ev *event.TaskEvent) error {
	err := s.pool.QueryRow(ctx,
		`INSERT INTO task_events (task_id, event_type, from_state, to_state, progress, message)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING id, created_at`,
		ev.TaskID, string(ev.Type), string(ev.From), string(ev.To), ev.Progress, ev.Message,
	).Scan(&ev.ID, &ev.CreatedAt)
	if err != nil {
		return fmt.Errorf("append task event: %w", err)
	}
	return nil
}

// ListTaskEvents returns all events for the given task, oldest first.
func (s *EventStore) ListTaskEvents(ctx context.Context, taskID string) ([]event.TaskEvent, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, task_id, event_type, from_state, to_state, progress, message, created_at
		 FROM task_events WHERE task_id = $1 ORDER BY created_at ASC`, taskID)
	if err != nil {
		return nil, fmt.Errorf("list task events %s: %w", taskID, err)
	}
	defer rows.Close()

	var events []event.TaskEvent
	for rows.Next() {
		var ev event.TaskEvent
		if err := rows.Scan(&ev.ID, &ev.TaskID, &ev.Type, &ev.From, &ev.To, &ev.Progress, &ev.Message, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan task event: %w", err)
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}
