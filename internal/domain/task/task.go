// Package task defines the generation Task domain entity.
package task

import "time"

// Status represents the current state of a generation task.
type Status string

const (
	StatusQueued      Status = "queued"
	StatusSubmitted   Status = "submitted"
	StatusProgressing Status = "progressing"
	StatusSucceeded   Status = "succeeded"
	StatusFailed      Status = "failed"
	StatusCancelled   Status = "cancelled"
)

// Terminal reports whether the status is a terminal state.
// Terminal states are sticky: a task never leaves them.
func (s Status) Terminal() bool {
	switch s {
	case StatusSucceeded, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// transitions maps each state to the states reachable from it.
var transitions = map[Status][]Status{
	StatusQueued:      {StatusSubmitted, StatusFailed, StatusCancelled},
	StatusSubmitted:   {StatusProgressing, StatusSucceeded, StatusFailed, StatusCancelled},
	StatusProgressing: {StatusSucceeded, StatusFailed, StatusCancelled},
}

// CanTransition reports whether moving from s to next follows the
// task state machine. Self-transitions are not allowed.
func (s Status) CanTransition(next Status) bool {
	for _, t := range transitions[s] {
		if t == next {
			return true
		}
	}
	return false
}

// FailureKind classifies why a task failed.
type FailureKind string

const (
	FailureRejected       FailureKind = "provider_rejected"
	FailureUnavailable    FailureKind = "provider_unavailable"
	FailureAuth           FailureKind = "provider_auth"
	FailureRateLimit      FailureKind = "rate_limit_timeout"
	FailureHandleNotFound FailureKind = "handle_not_found"
	FailureTimeout        FailureKind = "timeout"
)

// Failure holds the structured cause of a failed task.
type Failure struct {
	Kind    FailureKind `json:"kind"`
	Message string      `json:"message"`
}

// Result holds the output of a succeeded task.
type Result struct {
	Images        []string `json:"images"`
	RevisedPrompt string   `json:"revised_prompt,omitempty"`
}

// Task represents one image generation request tracked end-to-end.
//
// Invariants: Result is set iff Status is succeeded, Failure is set iff
// Status is failed, ProviderHandle changes only when a lost handle forces
// a re-submission, and Attempts counts submissions only, never polls.
type Task struct {
	ID             string            `json:"id"`
	Provider       string            `json:"provider"`
	Prompt         string            `json:"prompt"`
	Size           string            `json:"size,omitempty"`
	Quality        string            `json:"quality,omitempty"`
	Count          int               `json:"count,omitempty"`
	Options        map[string]string `json:"options,omitempty"`
	Status         Status            `json:"status"`
	Progress       float64           `json:"progress"`
	Attempts       int               `json:"attempts"`
	ProviderHandle string            `json:"provider_handle,omitempty"`
	Result         *Result           `json:"result,omitempty"`
	Failure        *Failure          `json:"failure,omitempty"`
	NotifyURL      string            `json:"notify_url,omitempty"`
	Version        int               `json:"version"`
	CreatedAt      time.Time         `json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
}

// CreateRequest holds the fields needed to create a new generation task.
type CreateRequest struct {
	Provider  string            `json:"provider"`
	Prompt    string            `json:"prompt"`
	Size      string            `json:"size,omitempty"`
	Quality   string            `json:"quality,omitempty"`
	Count     int               `json:"count,omitempty"`
	Options   map[string]string `json:"options,omitempty"`
	NotifyURL string            `json:"notify_url,omitempty"`
}
