package http

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/Strob0t/ImageForge/internal/adapter/midjourney"
	"github.com/Strob0t/ImageForge/internal/domain"
	"github.com/Strob0t/ImageForge/internal/domain/task"
	"github.com/Strob0t/ImageForge/internal/service"
)

// Handlers holds the HTTP handler dependencies.
type Handlers struct {
	Orchestrator *service.Orchestrator
	Midjourney   *midjourney.Client // nil when the provider is not configured
}

// CreateGeneration handles POST /api/v1/generations.
func (h *Handlers) CreateGeneration(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[task.CreateRequest](w, r)
	if !ok {
		return
	}
	if strings.TrimSpace(req.Provider) == "" {
		writeError(w, http.StatusBadRequest, "provider is required")
		return
	}
	if strings.TrimSpace(req.Prompt) == "" {
		writeError(w, http.StatusBadRequest, "prompt is required")
		return
	}

	t, err := h.Orchestrator.Submit(r.Context(), req)
	if err != nil {
		writeDomainError(w, err, "task not found")
		return
	}
	writeJSON(w, http.StatusCreated, t)
}

// ListGenerations handles GET /api/v1/generations.
func (h *Handlers) ListGenerations(w http.ResponseWriter, r *http.Request) {
	tasks, err := h.Orchestrator.List(r.Context())
	if err != nil {
		writeDomainError(w, err, "tasks not found")
		return
	}
	writeJSON(w, http.StatusOK, tasks)
}

// GetGeneration handles GET /api/v1/generations/{id}.
func (h *Handlers) GetGeneration(w http.ResponseWriter, r *http.Request) {
	t, err := h.Orchestrator.Get(r.Context(), urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, err, "task not found")
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// ListGenerationEvents handles GET /api/v1/generations/{id}/events.
func (h *Handlers) ListGenerationEvents(w http.ResponseWriter, r *http.Request) {
	events, err := h.Orchestrator.Events(r.Context(), urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, err, "task not found")
		return
	}
	writeJSON(w, http.StatusOK, events)
}

// CancelGeneration handles DELETE /api/v1/generations/{id}.
func (h *Handlers) CancelGeneration(w http.ResponseWriter, r *http.Request) {
	t, err := h.Orchestrator.Cancel(r.Context(), urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, err, "task not found")
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// ListProviders handles GET /api/v1/providers.
func (h *Handlers) ListProviders(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.Orchestrator.Providers())
}

// ListMidjourneyAccounts handles GET /api/v1/providers/midjourney/accounts.
func (h *Handlers) ListMidjourneyAccounts(w http.ResponseWriter, r *http.Request) {
	if h.Midjourney == nil {
		writeError(w, http.StatusServiceUnavailable, "midjourney provider is not configured")
		return
	}
	accounts, err := h.Midjourney.ListAccounts(r.Context())
	if err != nil {
		writeDomainError(w, err, "accounts not found")
		return
	}
	writeJSON(w, http.StatusOK, accounts)
}

// HandleMidjourneyCallback handles POST /webhooks/midjourney, the progress
// and completion callbacks pushed by the proxy. A decoded failure outcome is
// forwarded to the orchestrator as a provider error so the task fails with
// the right classification.
func (h *Handlers) HandleMidjourneyCallback(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxRequestBodySize))
	if err != nil {
		writeError(w, http.StatusBadRequest, "unreadable callback body")
		return
	}

	handle, out, decErr := midjourney.DecodeCallback(body)
	if handle == "" {
		writeError(w, http.StatusBadRequest, "invalid callback payload")
		return
	}

	if err := h.Orchestrator.HandleProviderEvent(r.Context(), midjourney.Name, handle, out, decErr); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			// Stale or unknown handle; the proxy drops the callback on 404.
			slog.Warn("callback for unknown handle dropped", "provider", midjourney.Name, "handle", handle)
		}
		writeDomainError(w, err, "no task for callback handle")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
