package midjourney

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/Strob0t/ImageForge/internal/port/provider"
)

const accountList = `[
	{"id":"acct-busy","coreSize":3,"queueSize":3,"enable":true},
	{"id":"acct-free","coreSize":3,"queueSize":0,"enable":true},
	{"id":"acct-off","coreSize":3,"queueSize":0,"enable":false}
]`

func newTestClient(baseURL string) *Client {
	return NewClient(Config{BaseURL: baseURL, APISecret: "secret"}, nil)
}

func TestSubmitReturnsHandle(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/mj/account/list":
			_, _ = w.Write([]byte(accountList))
		case "/mj/submit/imagine":
			if got := r.Header.Get("mj-api-secret"); got != "secret" {
				t.Fatalf("unexpected api secret header: %q", got)
			}
			var req map[string]any
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				t.Fatalf("decode request: %v", err)
			}
			if req["state"] != "acct-free" {
				t.Fatalf("expected least-loaded account acct-free, got %v", req["state"])
			}
			_, _ = w.Write([]byte(`{"code":1,"description":"ok","result":"mj-task-42"}`))
		default:
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
	}))
	defer srv.Close()

	out, err := newTestClient(srv.URL).Submit(context.Background(), provider.Spec{Prompt: "a castle"})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if out.Done {
		t.Fatal("async submit must not be terminal")
	}
	if out.Handle != "mj-task-42" {
		t.Fatalf("expected handle mj-task-42, got %q", out.Handle)
	}
}

func TestSubmitRefusedIsRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/mj/account/list" {
			_, _ = w.Write([]byte(accountList))
			return
		}
		_, _ = w.Write([]byte(`{"code":22,"description":"queue full"}`))
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).Submit(context.Background(), provider.Spec{Prompt: "x"})
	if kind := provider.KindOf(err); kind != provider.KindRejected {
		t.Fatalf("expected rejected, got %s (%v)", kind, err)
	}
}

func TestSubmitNoAvailableAccount(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`[{"id":"a","coreSize":2,"queueSize":2,"enable":true}]`))
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).Submit(context.Background(), provider.Spec{Prompt: "x"})
	if kind := provider.KindOf(err); kind != provider.KindUnavailable {
		t.Fatalf("expected unavailable, got %s (%v)", kind, err)
	}
}

func TestPollProgressAndSuccess(t *testing.T) {
	responses := []string{
		`{"status":"IN_PROGRESS","progress":"45%"}`,
		`{"status":"SUCCESS","progress":"100%","imageUrl":"https://cdn.example/out.png"}`,
	}
	var i int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/mj/task/mj-1/fetch" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		_, _ = w.Write([]byte(responses[i]))
		i++
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)

	out, err := c.Poll(context.Background(), "mj-1")
	if err != nil {
		t.Fatalf("first poll: %v", err)
	}
	if out.Done || out.Progress != 0.45 {
		t.Fatalf("expected in-progress at 0.45, got %+v", out)
	}

	out, err = c.Poll(context.Background(), "mj-1")
	if err != nil {
		t.Fatalf("second poll: %v", err)
	}
	if !out.Done || len(out.Images) != 1 {
		t.Fatalf("expected terminal outcome with image, got %+v", out)
	}
}

func TestPollFailureCarriesReason(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"status":"FAILURE","failReason":"banned prompt"}`))
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).Poll(context.Background(), "mj-1")
	if kind := provider.KindOf(err); kind != provider.KindRejected {
		t.Fatalf("expected rejected, got %s (%v)", kind, err)
	}
}

func TestPollUnknownHandle(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).Poll(context.Background(), "gone")
	if kind := provider.KindOf(err); kind != provider.KindHandleNotFound {
		t.Fatalf("expected handle_not_found, got %s (%v)", kind, err)
	}
}

func TestDecodeCallback(t *testing.T) {
	handle, out, err := DecodeCallback([]byte(`{"id":"mj-9","status":"SUCCESS","imageUrl":"https://cdn.example/x.png"}`))
	if err != nil {
		t.Fatalf("DecodeCallback failed: %v", err)
	}
	if handle != "mj-9" || !out.Done {
		t.Fatalf("unexpected decode: handle=%q out=%+v", handle, out)
	}

	if _, _, err := DecodeCallback([]byte(`{"status":"SUCCESS"}`)); err == nil {
		t.Fatal("expected error for payload without task id")
	}
}

func TestParseProgress(t *testing.T) {
	tests := []struct {
		in   string
		want float64
	}{
		{"45%", 0.45},
		{"100%", 1},
		{"", 0},
		{"garbage", 0},
		{"250%", 1},
	}
	for _, tt := range tests {
		if got := parseProgress(tt.in); got != tt.want {
			t.Errorf("parseProgress(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

// fakeCache is a minimal cache.Cache for testing account list caching.
type fakeCache struct {
	mu   sync.Mutex
	data map[string][]byte
}

func (f *fakeCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.data[key]
	return v, ok, nil
}

func (f *fakeCache) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.data == nil {
		f.data = make(map[string][]byte)
	}
	f.data[key] = value
	return nil
}

func (f *fakeCache) Delete(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.data, key)
	return nil
}

func TestListAccountsUsesCache(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		_, _ = w.Write([]byte(accountList))
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL}, &fakeCache{})

	for i := 0; i < 3; i++ {
		if _, err := c.ListAccounts(context.Background()); err != nil {
			t.Fatalf("ListAccounts: %v", err)
		}
	}
	if calls != 1 {
		t.Fatalf("expected 1 upstream call with cache, got %d", calls)
	}
}
