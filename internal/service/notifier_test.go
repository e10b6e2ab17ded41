package service

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Strob0t/ImageForge/internal/config"
	"github.com/Strob0t/ImageForge/internal/domain/task"
)

func testNotifier(maxRetries int) *Notifier {
	n := NewNotifier(config.Notify{
		Timeout:    time.Second,
		MaxRetries: maxRetries,
		RetryDelay: time.Millisecond,
	})
	n.sleep = func(context.Context, time.Duration) error { return nil }
	return n
}

func succeededTask(url string) *task.Task {
	return &task.Task{
		ID:        "task-1",
		Provider:  "dalle",
		Prompt:    "a fox",
		Status:    task.StatusSucceeded,
		Progress:  1,
		Result:    &task.Result{Images: []string{"https://img/1.png"}, RevisedPrompt: "a red fox"},
		NotifyURL: url,
		UpdatedAt: time.Now().UTC(),
	}
}

func TestNotifyDeliversPayload(t *testing.T) {
	var got notification
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("content type = %q", ct)
		}
		body, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(body, &got); err != nil {
			t.Errorf("decode payload: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := testNotifier(2)
	if err := n.Notify(context.Background(), succeededTask(srv.URL)); err != nil {
		t.Fatalf("notify: %v", err)
	}
	if got.TaskID != "task-1" || got.Status != "succeeded" {
		t.Errorf("payload = %+v", got)
	}
	if len(got.Images) != 1 || got.RevisedPrompt != "a red fox" {
		t.Errorf("result fields = %+v", got)
	}
}

func TestNotifyRetriesThenSucceeds(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	n := testNotifier(3)
	if err := n.Notify(context.Background(), succeededTask(srv.URL)); err != nil {
		t.Fatalf("notify: %v", err)
	}
	if calls.Load() != 3 {
		t.Errorf("calls = %d, want 3", calls.Load())
	}
}

func TestNotifyExhaustsRetries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	n := testNotifier(2)
	if err := n.Notify(context.Background(), succeededTask(srv.URL)); err == nil {
		t.Fatal("expected delivery error")
	}
	// MaxRetries 2 means 3 attempts total.
	if calls.Load() != 3 {
		t.Errorf("calls = %d, want 3", calls.Load())
	}
}

func TestNotifySkipsTaskWithoutURL(t *testing.T) {
	n := testNotifier(0)
	if err := n.Notify(context.Background(), succeededTask("")); err != nil {
		t.Fatalf("notify without url: %v", err)
	}
}

func TestNotifyPrefersTaskURLOverDefault(t *testing.T) {
	var taskHits, defaultHits atomic.Int32
	taskSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		taskHits.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer taskSrv.Close()
	defaultSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		defaultHits.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer defaultSrv.Close()

	n := NewNotifier(config.Notify{DefaultURL: defaultSrv.URL, Timeout: time.Second})
	n.sleep = func(context.Context, time.Duration) error { return nil }

	if err := n.Notify(context.Background(), succeededTask(taskSrv.URL)); err != nil {
		t.Fatalf("notify: %v", err)
	}
	if taskHits.Load() != 1 || defaultHits.Load() != 0 {
		t.Errorf("task hits = %d, default hits = %d", taskHits.Load(), defaultHits.Load())
	}

	if err := n.Notify(context.Background(), succeededTask("")); err != nil {
		t.Fatalf("notify default: %v", err)
	}
	if defaultHits.Load() != 1 {
		t.Errorf("default hits = %d, want 1", defaultHits.Load())
	}
}

func TestNotifyIncludesFailureDetails(t *testing.T) {
	var got notification
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &got)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	tk := &task.Task{
		ID:       "task-2",
		Provider: "midjourney",
		Status:   task.StatusFailed,
		Failure: &task.Failure{
			Kind:    task.FailureUnavailable,
			Message: "upstream down",
		},
		NotifyURL: srv.URL,
		UpdatedAt: time.Now().UTC(),
	}

	n := testNotifier(0)
	if err := n.Notify(context.Background(), tk); err != nil {
		t.Fatalf("notify: %v", err)
	}
	if got.Failure == nil || got.Failure.Kind != task.FailureUnavailable {
		t.Errorf("failure = %+v", got.Failure)
	}
	if len(got.Images) != 0 {
		t.Errorf("images on failed task = %v", got.Images)
	}
}
