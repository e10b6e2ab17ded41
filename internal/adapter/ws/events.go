package ws

import (
	"context"
	"encoding/json"
	"log/slog"
)

// Event type constants for WebSocket messages.
const (
	EventTaskStatus   = "task.status"
	EventTaskProgress = "task.progress"
	EventTaskResult   = "task.result"
)

// TaskStatusEvent is broadcast when a task's status changes.
type TaskStatusEvent struct {
	TaskID   string `json:"task_id"`
	Provider string `json:"provider"`
	Status   string `json:"status"`
	Message  string `json:"message,omitempty"`
}

// TaskProgressEvent is broadcast when a task reports a new progress fraction.
type TaskProgressEvent struct {
	TaskID   string  `json:"task_id"`
	Provider string  `json:"provider"`
	Progress float64 `json:"progress"`
}

// TaskResultEvent is broadcast when a task reaches a terminal state with output.
type TaskResultEvent struct {
	TaskID        string   `json:"task_id"`
	Provider      string   `json:"provider"`
	Status        string   `json:"status"`
	Images        []string `json:"images,omitempty"`
	RevisedPrompt string   `json:"revised_prompt,omitempty"`
	FailureKind   string   `json:"failure_kind,omitempty"`
	FailureReason string   `json:"failure_reason,omitempty"`
}

// BroadcastEvent marshals a typed event and broadcasts it to all clients.
func (h *Hub) BroadcastEvent(ctx context.Context, eventType string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		slog.Error("marshal ws event payload", "type", eventType, "error", err)
		return
	}

	h.Broadcast(ctx, Message{
		Type:    eventType,
		Payload: json.RawMessage(data),
	})
}
