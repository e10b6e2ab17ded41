package openai_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/Strob0t/ImageForge/internal/adapter/openai"
	"github.com/Strob0t/ImageForge/internal/port/provider"
)

func newClient(baseURL string) *openai.Client {
	return openai.NewClient(openai.Config{APIKey: "sk-test", BaseURL: baseURL})
}

func TestSubmitReturnsTerminalOutcome(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/images/generations" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer sk-test" {
			t.Fatalf("unexpected auth: %q", auth)
		}

		var req map[string]any
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req["model"] != "dall-e-3" {
			t.Fatalf("expected default model dall-e-3, got %v", req["model"])
		}

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data":[{"url":"https://img.example/1.png","revised_prompt":"a vivid cat"}]}`))
	}))
	defer srv.Close()

	out, err := newClient(srv.URL).Submit(context.Background(), provider.Spec{Prompt: "a cat"})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if !out.Done {
		t.Fatal("expected terminal outcome")
	}
	if out.Handle != "" {
		t.Fatalf("synchronous provider must not return a handle, got %q", out.Handle)
	}
	if len(out.Images) != 1 || out.Images[0] != "https://img.example/1.png" {
		t.Fatalf("unexpected images: %v", out.Images)
	}
	if out.RevisedPrompt != "a vivid cat" {
		t.Fatalf("unexpected revised prompt: %q", out.RevisedPrompt)
	}
}

func TestSubmitClassifiesStatuses(t *testing.T) {
	tests := []struct {
		name   string
		status int
		want   provider.ErrorKind
	}{
		{"bad request is rejected", http.StatusBadRequest, provider.KindRejected},
		{"unauthorized is auth", http.StatusUnauthorized, provider.KindAuth},
		{"forbidden is auth", http.StatusForbidden, provider.KindAuth},
		{"too many requests is unavailable", http.StatusTooManyRequests, provider.KindUnavailable},
		{"server error is unavailable", http.StatusInternalServerError, provider.KindUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(`{"error":{"message":"nope","type":"test"}}`))
			}))
			defer srv.Close()

			_, err := newClient(srv.URL).Submit(context.Background(), provider.Spec{Prompt: "x"})
			if err == nil {
				t.Fatal("expected error")
			}
			if kind := provider.KindOf(err); kind != tt.want {
				t.Fatalf("expected kind %s, got %s (%v)", tt.want, kind, err)
			}
		})
	}
}

func TestSubmitNetworkFailureIsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	srv.Close() // connection refused

	_, err := newClient(srv.URL).Submit(context.Background(), provider.Spec{Prompt: "x"})
	if kind := provider.KindOf(err); kind != provider.KindUnavailable {
		t.Fatalf("expected unavailable, got %s (%v)", kind, err)
	}
}

func TestPollAndCancelUnsupported(t *testing.T) {
	c := newClient("http://unused")

	if _, err := c.Poll(context.Background(), "h"); !errors.Is(err, provider.ErrUnsupported) {
		t.Fatalf("expected ErrUnsupported from Poll, got %v", err)
	}
	if err := c.Cancel(context.Background(), "h"); !errors.Is(err, provider.ErrUnsupported) {
		t.Fatalf("expected ErrUnsupported from Cancel, got %v", err)
	}
}
