package http_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	ifhttp "github.com/Strob0t/ImageForge/internal/adapter/http"
	"github.com/Strob0t/ImageForge/internal/adapter/memstore"
	"github.com/Strob0t/ImageForge/internal/config"
	"github.com/Strob0t/ImageForge/internal/domain/task"
	"github.com/Strob0t/ImageForge/internal/port/provider"
	"github.com/Strob0t/ImageForge/internal/resilience"
	"github.com/Strob0t/ImageForge/internal/service"
)

const callbackToken = "test-secret"

// stubAdapter is a minimal provider.Adapter for transport tests.
type stubAdapter struct {
	name  string
	async bool
}

func (s *stubAdapter) Name() string { return s.name }
func (s *stubAdapter) Async() bool  { return s.async }

func (s *stubAdapter) Submit(_ context.Context, _ provider.Spec) (provider.Outcome, error) {
	if s.async {
		return provider.Outcome{Handle: "handle-1"}, nil
	}
	return provider.Outcome{Done: true, Progress: 1, Images: []string{"https://img/1.png"}}, nil
}

func (s *stubAdapter) Poll(_ context.Context, handle string) (provider.Outcome, error) {
	return provider.Outcome{Handle: handle, Progress: 1, Done: true, Images: []string{"https://img/1.png"}}, nil
}

func (s *stubAdapter) Cancel(_ context.Context, _ string) error { return nil }

func newTestServer(t *testing.T) (http.Handler, *memstore.Store) {
	t.Helper()

	store := memstore.New()
	gates := map[string]resilience.Gate{
		"dalle":      {Capacity: 2, AcquireTimeout: time.Second},
		"midjourney": {Capacity: 2, AcquireTimeout: time.Second},
	}
	orch := service.NewOrchestrator(
		store,
		store,
		resilience.NewLimiter(gates),
		resilience.NewRetryPolicy(2, time.Millisecond, 10*time.Millisecond, 0),
		config.Task{MaxLifetime: time.Minute, MaxPolls: 10},
		service.PollSettings{Initial: time.Millisecond, Max: 5 * time.Millisecond, Multiplier: 1.5},
	)
	orch.RegisterProvider(&stubAdapter{name: "dalle"})
	orch.RegisterProvider(&stubAdapter{name: "midjourney", async: true})
	t.Cleanup(orch.Close)

	h := &ifhttp.Handlers{Orchestrator: orch}

	r := chi.NewRouter()
	ifhttp.MountRoutes(r, h, config.Midjourney{CallbackToken: callbackToken})
	return r, store
}

func seedTask(t *testing.T, store *memstore.Store, tk *task.Task) {
	t.Helper()
	now := time.Now().UTC()
	if tk.ID == "" {
		tk.ID = uuid.NewString()
	}
	tk.CreatedAt = now
	tk.UpdatedAt = now
	if err := store.CreateTask(context.Background(), tk); err != nil {
		t.Fatalf("seed task: %v", err)
	}
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestCreateGeneration(t *testing.T) {
	h, _ := newTestServer(t)

	rec := doJSON(t, h, http.MethodPost, "/api/v1/generations", task.CreateRequest{
		Provider: "dalle",
		Prompt:   "a lighthouse at dusk",
	}, nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var created task.Task
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if created.ID == "" || created.Status != task.StatusQueued {
		t.Errorf("created = %+v", created)
	}
}

func TestCreateGenerationValidation(t *testing.T) {
	h, _ := newTestServer(t)

	cases := []struct {
		name string
		req  task.CreateRequest
	}{
		{"missing provider", task.CreateRequest{Prompt: "a fox"}},
		{"missing prompt", task.CreateRequest{Provider: "dalle"}},
		{"unknown provider", task.CreateRequest{Provider: "stable-diffusion", Prompt: "a fox"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := doJSON(t, h, http.MethodPost, "/api/v1/generations", tc.req, nil)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, body = %s", rec.Code, rec.Body.String())
			}
		})
	}
}

func TestGetGenerationNotFound(t *testing.T) {
	h, _ := newTestServer(t)

	rec := doJSON(t, h, http.MethodGet, "/api/v1/generations/"+uuid.NewString(), nil, nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d", rec.Code)
	}
}

func TestGetGenerationAndEvents(t *testing.T) {
	h, store := newTestServer(t)

	tk := &task.Task{Provider: "midjourney", Prompt: "a castle", Count: 1, Status: task.StatusQueued}
	seedTask(t, store, tk)

	rec := doJSON(t, h, http.MethodGet, "/api/v1/generations/"+tk.ID, nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get status = %d", rec.Code)
	}

	rec = doJSON(t, h, http.MethodGet, "/api/v1/generations/"+tk.ID+"/events", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("events status = %d", rec.Code)
	}
}

func TestCancelSucceededGenerationIsNoOp(t *testing.T) {
	h, store := newTestServer(t)

	tk := &task.Task{
		Provider: "dalle", Prompt: "a fox", Count: 1,
		Status: task.StatusSucceeded, Progress: 1,
		Result: &task.Result{Images: []string{"https://img/1.png"}},
	}
	seedTask(t, store, tk)

	rec := doJSON(t, h, http.MethodDelete, "/api/v1/generations/"+tk.ID, nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var got task.Task
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Status != task.StatusSucceeded {
		t.Errorf("status = %q, want succeeded", got.Status)
	}
}

func TestCancelQueuedGeneration(t *testing.T) {
	h, store := newTestServer(t)

	tk := &task.Task{Provider: "midjourney", Prompt: "a castle", Count: 1, Status: task.StatusQueued}
	seedTask(t, store, tk)

	rec := doJSON(t, h, http.MethodDelete, "/api/v1/generations/"+tk.ID, nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var got task.Task
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Status != task.StatusCancelled {
		t.Errorf("status = %q", got.Status)
	}
}

func TestListProviders(t *testing.T) {
	h, _ := newTestServer(t)

	rec := doJSON(t, h, http.MethodGet, "/api/v1/providers", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var infos []service.ProviderInfo
	if err := json.Unmarshal(rec.Body.Bytes(), &infos); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(infos) != 2 || infos[0].Name != "dalle" || infos[1].Name != "midjourney" {
		t.Errorf("providers = %+v", infos)
	}
}

func TestMidjourneyAccountsUnconfigured(t *testing.T) {
	h, _ := newTestServer(t)

	rec := doJSON(t, h, http.MethodGet, "/api/v1/providers/midjourney/accounts", nil, nil)
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d", rec.Code)
	}
}

func TestMidjourneyCallbackSettlesTask(t *testing.T) {
	h, store := newTestServer(t)

	tk := &task.Task{
		Provider: "midjourney", Prompt: "a castle", Count: 1,
		Status: task.StatusProgressing, Progress: 0.5,
		ProviderHandle: "mj-9", Attempts: 1,
	}
	seedTask(t, store, tk)

	payload := map[string]string{
		"id":       "mj-9",
		"status":   "SUCCESS",
		"progress": "100%",
		"imageUrl": "https://img/grid.png",
	}
	rec := doJSON(t, h, http.MethodPost, "/webhooks/midjourney", payload, map[string]string{
		"mj-api-secret": callbackToken,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	got, err := store.GetTask(context.Background(), tk.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != task.StatusSucceeded {
		t.Errorf("status = %q, want succeeded", got.Status)
	}
	if got.Result == nil || got.Result.Images[0] != "https://img/grid.png" {
		t.Errorf("result = %+v", got.Result)
	}
}

func TestMidjourneyCallbackRejectsBadToken(t *testing.T) {
	h, _ := newTestServer(t)

	rec := doJSON(t, h, http.MethodPost, "/webhooks/midjourney", map[string]string{"id": "mj-9"}, map[string]string{
		"mj-api-secret": "wrong",
	})
	if rec.Code != http.StatusForbidden {
		t.Errorf("status = %d", rec.Code)
	}
}

func TestMidjourneyCallbackUnknownHandle(t *testing.T) {
	h, _ := newTestServer(t)

	payload := map[string]string{"id": "mj-ghost", "status": "SUCCESS", "imageUrl": "https://img/1.png"}
	rec := doJSON(t, h, http.MethodPost, "/webhooks/midjourney", payload, map[string]string{
		"mj-api-secret": callbackToken,
	})
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
}
