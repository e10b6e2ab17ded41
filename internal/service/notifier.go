package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	ifotel "github.com/Strob0t/ImageForge/internal/adapter/otel"
	"github.com/Strob0t/ImageForge/internal/config"
	"github.com/Strob0t/ImageForge/internal/domain/task"
)

// Notifier delivers terminal task outcomes to client webhook endpoints.
// A task's NotifyURL wins over the configured default; a task with neither
// is skipped.
type Notifier struct {
	cfg    config.Notify
	client *http.Client

	// sleep is swapped out by tests to skip real retry waits.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewNotifier creates a Notifier from the notification config.
func NewNotifier(cfg config.Notify) *Notifier {
	return &Notifier{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		sleep:  sleepCtx,
	}
}

// notification is the webhook payload sent for a terminal task.
type notification struct {
	TaskID        string        `json:"task_id"`
	Provider      string        `json:"provider"`
	Status        string        `json:"status"`
	Images        []string      `json:"images,omitempty"`
	RevisedPrompt string        `json:"revised_prompt,omitempty"`
	Failure       *task.Failure `json:"failure,omitempty"`
	FinishedAt    time.Time     `json:"finished_at"`
}

// Notify posts the terminal outcome of t to its webhook URL, retrying on
// failure up to the configured limit. Non-2xx responses count as failures.
func (n *Notifier) Notify(ctx context.Context, t *task.Task) error {
	url := t.NotifyURL
	if url == "" {
		url = n.cfg.DefaultURL
	}
	if url == "" {
		return nil
	}

	payload := notification{
		TaskID:     t.ID,
		Provider:   t.Provider,
		Status:     string(t.Status),
		Failure:    t.Failure,
		FinishedAt: t.UpdatedAt,
	}
	if t.Result != nil {
		payload.Images = t.Result.Images
		payload.RevisedPrompt = t.Result.RevisedPrompt
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}

	nctx, span := ifotel.StartNotifySpan(ctx, t.ID, url)
	defer span.End()

	var lastErr error
	for attempt := 1; attempt <= n.cfg.MaxRetries+1; attempt++ {
		lastErr = n.post(nctx, url, body)
		if lastErr == nil {
			if attempt > 1 {
				slog.Info("webhook delivered after retry", "task_id", t.ID, "attempt", attempt)
			}
			return nil
		}
		slog.Warn("webhook delivery failed", "task_id", t.ID, "url", url, "attempt", attempt, "error", lastErr)
		if attempt <= n.cfg.MaxRetries {
			if err := n.sleep(nctx, n.cfg.RetryDelay); err != nil {
				return err
			}
		}
	}
	return fmt.Errorf("webhook delivery to %s: %w", url, lastErr)
}

func (n *Notifier) post(ctx context.Context, url string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("webhook endpoint returned %d", resp.StatusCode)
	}
	return nil
}
