// Package midjourney implements the provider port for a midjourney-proxy
// style API. Submission returns a task handle; results arrive through
// polling or webhook callbacks routed by the transport layer.
package midjourney

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/Strob0t/ImageForge/internal/port/cache"
	"github.com/Strob0t/ImageForge/internal/port/provider"
	"github.com/Strob0t/ImageForge/internal/resilience"
)

// Name is the provider name tasks are dispatched under.
const Name = "midjourney"

// submitOK is the proxy's success code on task submission.
const submitOK = 1

// Config holds the client settings resolved by the config package.
type Config struct {
	BaseURL         string
	APISecret       string
	Timeout         time.Duration
	AccountCacheTTL time.Duration
}

// Client talks to a midjourney-proxy instance.
type Client struct {
	cfg        Config
	httpClient *http.Client
	breaker    *resilience.Breaker
	accounts   cache.Cache // optional; caches the account list
}

// NewClient creates a new midjourney-proxy client. The cache is optional
// and used to bound account-list lookups during bursts of submissions.
func NewClient(cfg Config, accounts cache.Cache) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	if cfg.AccountCacheTTL == 0 {
		cfg.AccountCacheTTL = time.Minute
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: timeout},
		accounts:   accounts,
	}
}

// SetBreaker attaches a circuit breaker to all outgoing HTTP calls.
func (c *Client) SetBreaker(b *resilience.Breaker) {
	c.breaker = b
}

// Name returns the provider name.
func (c *Client) Name() string { return Name }

// Async reports that results must be reconciled via Poll or callbacks.
func (c *Client) Async() bool { return true }

type submitRequest struct {
	Prompt      string   `json:"prompt"`
	Base64Array []string `json:"base64Array"`
	NotifyHook  string   `json:"notifyHook"`
	State       string   `json:"state"`
}

type submitResponse struct {
	Code        int    `json:"code"`
	Description string `json:"description"`
	Result      string `json:"result"`
}

// Submit sends an imagine task to the proxy and returns its handle.
func (c *Client) Submit(ctx context.Context, spec provider.Spec) (provider.Outcome, error) {
	accountID := spec.Options["account_id"]
	if accountID == "" {
		id, err := c.pickAccount(ctx)
		if err != nil {
			return provider.Outcome{}, err
		}
		accountID = id
	}

	body, err := json.Marshal(submitRequest{
		Prompt:      spec.Prompt,
		Base64Array: []string{},
		NotifyHook:  spec.Options["notify_hook"],
		State:       accountID,
	})
	if err != nil {
		return provider.Outcome{}, fmt.Errorf("marshal submit request: %w", err)
	}

	data, err := c.doRequest(ctx, http.MethodPost, "/mj/submit/imagine", body)
	if err != nil {
		return provider.Outcome{}, err
	}

	var resp submitResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return provider.Outcome{}, provider.Errorf(provider.KindUnavailable, "decode submit response: %v", err)
	}
	if resp.Code != submitOK {
		desc := resp.Description
		if desc == "" {
			desc = "task submission refused"
		}
		return provider.Outcome{}, provider.Errorf(provider.KindRejected, "submit refused (code %d): %s", resp.Code, desc)
	}
	if resp.Result == "" {
		return provider.Outcome{}, provider.Errorf(provider.KindUnavailable, "submit response missing task id")
	}

	return provider.Outcome{Handle: resp.Result}, nil
}

type fetchResponse struct {
	Status     string `json:"status"`
	Progress   string `json:"progress"`
	ImageURL   string `json:"imageUrl"`
	FailReason string `json:"failReason"`
}

// Poll fetches the proxy task state for a handle.
func (c *Client) Poll(ctx context.Context, handle string) (provider.Outcome, error) {
	data, err := c.doRequest(ctx, http.MethodGet, "/mj/task/"+handle+"/fetch", nil)
	if err != nil {
		return provider.Outcome{}, err
	}

	var resp fetchResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return provider.Outcome{}, provider.Errorf(provider.KindUnavailable, "decode task response: %v", err)
	}
	return outcomeFromTask(handle, resp)
}

// outcomeFromTask maps a proxy task payload to a provider outcome. Shared
// between Poll and webhook callback decoding.
func outcomeFromTask(handle string, resp fetchResponse) (provider.Outcome, error) {
	switch resp.Status {
	case "SUCCESS":
		if resp.ImageURL == "" {
			return provider.Outcome{}, provider.Errorf(provider.KindUnavailable, "task %s succeeded without image url", handle)
		}
		return provider.Outcome{Handle: handle, Done: true, Progress: 1, Images: []string{resp.ImageURL}}, nil
	case "FAILURE":
		reason := resp.FailReason
		if reason == "" {
			reason = "generation failed"
		}
		return provider.Outcome{}, provider.Errorf(provider.KindRejected, "task %s failed: %s", handle, reason)
	default:
		// NOT_START, SUBMITTED, IN_PROGRESS
		return provider.Outcome{Handle: handle, Progress: parseProgress(resp.Progress)}, nil
	}
}

// Cancel asks the proxy to abort an in-flight task. Proxies without the
// cancel endpoint report unsupported rather than an error.
func (c *Client) Cancel(ctx context.Context, handle string) error {
	_, err := c.doRequest(ctx, http.MethodPost, "/mj/task/"+handle+"/cancel", nil)
	if err != nil {
		var pe *provider.Error
		if errors.As(err, &pe) && pe.Kind == provider.KindHandleNotFound {
			return provider.ErrUnsupported
		}
		return err
	}
	return nil
}

// DecodeCallback parses a webhook callback body from the proxy into a
// handle and outcome, for the orchestrator's event path.
func DecodeCallback(payload []byte) (string, provider.Outcome, error) {
	var body struct {
		ID string `json:"id"`
		fetchResponse
	}
	if err := json.Unmarshal(payload, &body); err != nil {
		return "", provider.Outcome{}, fmt.Errorf("decode callback payload: %w", err)
	}
	if body.ID == "" {
		return "", provider.Outcome{}, errors.New("callback payload missing task id")
	}
	out, err := outcomeFromTask(body.ID, body.fetchResponse)
	return body.ID, out, err
}

// parseProgress converts the proxy's "45%" style progress to [0,1].
func parseProgress(s string) float64 {
	s = strings.TrimSuffix(strings.TrimSpace(s), "%")
	if s == "" {
		return 0
	}
	n, err := strconv.ParseFloat(s, 64)
	if err != nil || n < 0 {
		return 0
	}
	if n > 100 {
		n = 100
	}
	return n / 100
}

func (c *Client) doRequest(ctx context.Context, method, path string, body []byte) ([]byte, error) {
	var result []byte
	call := func() error {
		var bodyReader io.Reader
		if body != nil {
			bodyReader = bytes.NewReader(body)
		}

		req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, bodyReader)
		if err != nil {
			return provider.Errorf(provider.KindUnavailable, "create request: %v", err)
		}

		req.Header.Set("Content-Type", "application/json")
		if c.cfg.APISecret != "" {
			req.Header.Set("mj-api-secret", c.cfg.APISecret)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return provider.Errorf(provider.KindUnavailable, "http request: %v", err)
		}
		defer func() { _ = resp.Body.Close() }()

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return provider.Errorf(provider.KindUnavailable, "read response: %v", err)
		}

		if resp.StatusCode != http.StatusOK {
			return classifyStatus(resp.StatusCode, data)
		}

		result = data
		return nil
	}

	var err error
	if c.breaker != nil {
		err = c.breaker.Execute(call)
		if errors.Is(err, resilience.ErrCircuitOpen) {
			err = provider.Errorf(provider.KindUnavailable, "circuit open for %s", Name)
		}
	} else {
		err = call()
	}
	if err != nil {
		return nil, err
	}
	return result, nil
}

// classifyStatus maps an HTTP error status to a provider error kind.
func classifyStatus(status int, body []byte) error {
	switch {
	case status == http.StatusNotFound:
		return provider.Errorf(provider.KindHandleNotFound, "proxy no longer knows this task")
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return provider.Errorf(provider.KindAuth, "proxy API error %d: %s", status, string(body))
	case status == http.StatusBadRequest:
		return provider.Errorf(provider.KindRejected, "proxy API error %d: %s", status, string(body))
	default:
		return provider.Errorf(provider.KindUnavailable, "proxy API error %d: %s", status, string(body))
	}
}
