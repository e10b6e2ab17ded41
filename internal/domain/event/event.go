// Package event defines the append-only task transition event entity.
package event

import (
	"time"

	"github.com/Strob0t/ImageForge/internal/domain/task"
)

// Type identifies the kind of task event.
type Type string

const (
	TypeCreated   Type = "task.created"
	TypeSubmitted Type = "task.submitted"
	TypeProgress  Type = "task.progress"
	TypeSucceeded Type = "task.succeeded"
	TypeFailed    Type = "task.failed"
	TypeCancelled Type = "task.cancelled"
	TypeResubmit  Type = "task.resubmit"
)

// TaskEvent records one observed transition or progress update for a task.
// Events are append-only and ordered by CreatedAt within a task.
type TaskEvent struct {
	ID        string      `json:"id"`
	TaskID    string      `json:"task_id"`
	Type      Type        `json:"type"`
	From      task.Status `json:"from,omitempty"`
	To        task.Status `json:"to,omitempty"`
	Progress  float64     `json:"progress,omitempty"`
	Message   string      `json:"message,omitempty"`
	CreatedAt time.Time   `json:"created_at"`
}
