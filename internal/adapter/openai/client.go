// Package openai implements the provider port for the OpenAI images API
// (DALL-E). Generation is synchronous: one Submit call returns the final
// images, so Poll and Cancel are not supported.
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/Strob0t/ImageForge/internal/port/provider"
	"github.com/Strob0t/ImageForge/internal/resilience"
)

// Name is the provider name tasks are dispatched under.
const Name = "dalle"

// Config holds the client settings resolved by the config package.
type Config struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
}

// Client talks to the OpenAI images API.
type Client struct {
	cfg        Config
	httpClient *http.Client
	breaker    *resilience.Breaker
}

// NewClient creates a new OpenAI images client.
func NewClient(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com"
	}
	if cfg.Model == "" {
		cfg.Model = "dall-e-3"
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 2 * time.Minute
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// SetBreaker attaches a circuit breaker to all outgoing HTTP calls.
func (c *Client) SetBreaker(b *resilience.Breaker) {
	c.breaker = b
}

// Name returns the provider name.
func (c *Client) Name() string { return Name }

// Async reports that DALL-E returns terminal results from Submit.
func (c *Client) Async() bool { return false }

type generationRequest struct {
	Prompt  string `json:"prompt"`
	Model   string `json:"model"`
	N       int    `json:"n"`
	Size    string `json:"size,omitempty"`
	Quality string `json:"quality,omitempty"`
}

type generationResponse struct {
	Data []struct {
		URL           string `json:"url"`
		RevisedPrompt string `json:"revised_prompt"`
	} `json:"data"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// Submit sends a generation request and returns the terminal outcome.
func (c *Client) Submit(ctx context.Context, spec provider.Spec) (provider.Outcome, error) {
	n := spec.Count
	if n < 1 {
		n = 1
	}
	body, err := json.Marshal(generationRequest{
		Prompt:  spec.Prompt,
		Model:   c.cfg.Model,
		N:       n,
		Size:    spec.Size,
		Quality: spec.Quality,
	})
	if err != nil {
		return provider.Outcome{}, fmt.Errorf("marshal generation request: %w", err)
	}

	data, err := c.doRequest(ctx, http.MethodPost, "/v1/images/generations", body)
	if err != nil {
		return provider.Outcome{}, err
	}

	var resp generationResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return provider.Outcome{}, provider.Errorf(provider.KindUnavailable, "decode response: %v", err)
	}
	if len(resp.Data) == 0 {
		return provider.Outcome{}, provider.Errorf(provider.KindRejected, "response contained no images")
	}

	out := provider.Outcome{Done: true, Progress: 1, RevisedPrompt: resp.Data[0].RevisedPrompt}
	for _, d := range resp.Data {
		out.Images = append(out.Images, d.URL)
	}
	return out, nil
}

// Poll is not meaningful for a synchronous provider.
func (c *Client) Poll(_ context.Context, _ string) (provider.Outcome, error) {
	return provider.Outcome{}, provider.ErrUnsupported
}

// Cancel is not meaningful for a synchronous provider.
func (c *Client) Cancel(_ context.Context, _ string) error {
	return provider.ErrUnsupported
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
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

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
	msg := apiErrorMessage(body)
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return provider.Errorf(provider.KindAuth, "openai API error %d: %s", status, msg)
	case status == http.StatusBadRequest || status == http.StatusUnprocessableEntity:
		return provider.Errorf(provider.KindRejected, "openai API error %d: %s", status, msg)
	default:
		// 408, 429 and 5xx are transient infrastructure faults.
		return provider.Errorf(provider.KindUnavailable, "openai API error %d: %s", status, msg)
	}
}

// apiErrorMessage extracts the error message from an OpenAI error body,
// falling back to the raw body.
func apiErrorMessage(body []byte) string {
	var resp generationResponse
	if err := json.Unmarshal(body, &resp); err == nil && resp.Error != nil {
		return resp.Error.Message
	}
	return string(body)
}
