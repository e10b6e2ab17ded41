// Package service contains the business logic of the generation broker:
// the task orchestrator and the outbound webhook notifier.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/metric"

	ifotel "github.com/Strob0t/ImageForge/internal/adapter/otel"
	"github.com/Strob0t/ImageForge/internal/adapter/ws"
	"github.com/Strob0t/ImageForge/internal/config"
	"github.com/Strob0t/ImageForge/internal/domain"
	"github.com/Strob0t/ImageForge/internal/domain/event"
	"github.com/Strob0t/ImageForge/internal/domain/task"
	"github.com/Strob0t/ImageForge/internal/port/broadcast"
	"github.com/Strob0t/ImageForge/internal/port/eventstore"
	"github.com/Strob0t/ImageForge/internal/port/messagequeue"
	"github.com/Strob0t/ImageForge/internal/port/provider"
	"github.com/Strob0t/ImageForge/internal/port/taskstore"
	"github.com/Strob0t/ImageForge/internal/resilience"
)

// PollSettings controls the reconciliation loop for asynchronous providers.
// The interval starts at Initial and grows by Multiplier per poll, capped
// at Max.
type PollSettings struct {
	Initial    time.Duration
	Max        time.Duration
	Multiplier float64
}

// ProviderInfo describes one registered provider for the listing endpoint.
type ProviderInfo struct {
	Name  string `json:"name"`
	Async bool   `json:"async"`
}

// Orchestrator drives generation tasks through their lifecycle: admission,
// provider submission with retries, reconciliation of async handles, and
// terminal bookkeeping. It is the only writer of task state.
type Orchestrator struct {
	store     taskstore.Store
	events    eventstore.Store
	providers map[string]provider.Adapter
	limiter   *resilience.Limiter
	retry     *resilience.RetryPolicy
	taskCfg   config.Task
	poll      PollSettings

	queue    messagequeue.Queue    // optional
	hub      broadcast.Broadcaster // optional
	notifier *Notifier             // optional
	metrics  *ifotel.Metrics       // optional

	locks keyedLocks
	wg    sync.WaitGroup
	bgCtx context.Context
	stop  context.CancelFunc

	// sleep is swapped out by tests to skip real backoff waits.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewOrchestrator creates an Orchestrator with its required dependencies.
// Optional collaborators are attached with the Set* methods before use.
func NewOrchestrator(
	store taskstore.Store,
	events eventstore.Store,
	limiter *resilience.Limiter,
	retry *resilience.RetryPolicy,
	taskCfg config.Task,
	poll PollSettings,
) *Orchestrator {
	bgCtx, stop := context.WithCancel(context.Background())
	return &Orchestrator{
		store:     store,
		events:    events,
		providers: make(map[string]provider.Adapter),
		limiter:   limiter,
		retry:     retry,
		taskCfg:   taskCfg,
		poll:      poll,
		locks:     keyedLocks{held: make(map[string]*taskLock)},
		bgCtx:     bgCtx,
		stop:      stop,
		sleep:     sleepCtx,
	}
}

// RegisterProvider adds a provider adapter under its own name.
func (o *Orchestrator) RegisterProvider(a provider.Adapter) {
	o.providers[a.Name()] = a
}

// SetQueue attaches the message queue for lifecycle event publishing.
func (o *Orchestrator) SetQueue(q messagequeue.Queue) { o.queue = q }

// SetBroadcaster attaches the WebSocket hub for real-time client updates.
func (o *Orchestrator) SetBroadcaster(b broadcast.Broadcaster) { o.hub = b }

// SetNotifier attaches the outbound webhook notifier.
func (o *Orchestrator) SetNotifier(n *Notifier) { o.notifier = n }

// SetMetrics attaches the metric instruments.
func (o *Orchestrator) SetMetrics(m *ifotel.Metrics) { o.metrics = m }

// Close stops background work and waits for in-flight dispatches to exit.
func (o *Orchestrator) Close() {
	o.stop()
	o.wg.Wait()
}

// Providers returns all registered providers, sorted by name.
func (o *Orchestrator) Providers() []ProviderInfo {
	out := make([]ProviderInfo, 0, len(o.providers))
	for _, a := range o.providers {
		out = append(out, ProviderInfo{Name: a.Name(), Async: a.Async()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Submit validates and persists a new generation task, then dispatches it
// to the provider in the background. The returned task is in state queued.
func (o *Orchestrator) Submit(ctx context.Context, req task.CreateRequest) (*task.Task, error) {
	if _, ok := o.providers[req.Provider]; !ok {
		return nil, fmt.Errorf("unknown provider %q: %w", req.Provider, domain.ErrValidation)
	}
	if strings.TrimSpace(req.Prompt) == "" {
		return nil, fmt.Errorf("prompt must not be empty: %w", domain.ErrValidation)
	}
	count := req.Count
	if count <= 0 {
		count = 1
	}

	now := time.Now().UTC()
	t := &task.Task{
		ID:        uuid.NewString(),
		Provider:  req.Provider,
		Prompt:    req.Prompt,
		Size:      req.Size,
		Quality:   req.Quality,
		Count:     count,
		Options:   req.Options,
		Status:    task.StatusQueued,
		NotifyURL: req.NotifyURL,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := o.store.CreateTask(ctx, t); err != nil {
		return nil, fmt.Errorf("store task: %w", err)
	}

	o.appendEvent(ctx, t.ID, event.TypeCreated, "", task.StatusQueued, 0, "")
	o.publish(ctx, messagequeue.SubjectTaskCreated, t)
	o.broadcastStatus(ctx, t, "")

	slog.Info("task created", "task_id", t.ID, "provider", t.Provider)

	o.wg.Add(1)
	go o.dispatch(t.ID)

	return t, nil
}

// Get returns a task by ID.
func (o *Orchestrator) Get(ctx context.Context, id string) (*task.Task, error) {
	return o.store.GetTask(ctx, id)
}

// List returns all tasks, newest first.
func (o *Orchestrator) List(ctx context.Context) ([]task.Task, error) {
	return o.store.ListTasks(ctx)
}

// Events returns the event log for a task, oldest first.
func (o *Orchestrator) Events(ctx context.Context, taskID string) ([]event.TaskEvent, error) {
	if _, err := o.store.GetTask(ctx, taskID); err != nil {
		return nil, err
	}
	return o.events.ListTaskEvents(ctx, taskID)
}

// Cancel moves a non-terminal task to cancelled. Cancelling a task that is
// already terminal is a no-op returning the current snapshot. Provider-side
// cancellation is best effort.
func (o *Orchestrator) Cancel(ctx context.Context, id string) (*task.Task, error) {
	t, err := o.store.GetTask(ctx, id)
	if err != nil {
		return nil, err
	}
	if t.Status.Terminal() {
		return t, nil
	}

	if adapter, ok := o.providers[t.Provider]; ok && t.ProviderHandle != "" {
		if err := adapter.Cancel(ctx, t.ProviderHandle); err != nil && !errors.Is(err, provider.ErrUnsupported) {
			slog.Warn("provider cancel failed", "task_id", id, "handle", t.ProviderHandle, "error", err)
		}
	}

	t, from, err := o.applyTransition(ctx, id, task.StatusCancelled, nil)
	if err != nil {
		if errors.Is(err, domain.ErrConflict) {
			// Lost the race against another canceller or a terminal outcome.
			cur, gerr := o.store.GetTask(ctx, id)
			if gerr == nil && cur.Status.Terminal() {
				return cur, nil
			}
		}
		return nil, err
	}

	o.appendEvent(ctx, id, event.TypeCancelled, from, task.StatusCancelled, t.Progress, "")
	o.publish(ctx, messagequeue.SubjectTaskCancelled, t)
	o.broadcastStatus(ctx, t, "")
	o.count(ctx, func(m *ifotel.Metrics) metric.Int64Counter { return m.TasksCancelled })

	slog.Info("task cancelled", "task_id", id, "from", from)
	return t, nil
}

// HandleProviderEvent reconciles an externally observed outcome (a webhook
// callback) against the task owning the given handle. provErr carries a
// classified failure reported by the provider; a nil provErr applies out.
func (o *Orchestrator) HandleProviderEvent(ctx context.Context, providerName, handle string, out provider.Outcome, provErr error) error {
	t, err := o.store.GetTaskByHandle(ctx, providerName, handle)
	if err != nil {
		return err
	}
	if provErr != nil {
		kind := provider.KindOf(provErr)
		o.fail(ctx, t.ID, failureKindOf(kind), provErr.Error(), t.Attempts)
		return nil
	}
	o.applyOutcome(ctx, t.ID, out, t.Attempts)
	return nil
}

// dispatch submits the task to its provider, retrying transient failures
// per the retry policy, then hands async tasks to the reconcile loop.
func (o *Orchestrator) dispatch(taskID string) {
	defer o.wg.Done()
	ctx := o.bgCtx

	t, err := o.store.GetTask(ctx, taskID)
	if err != nil {
		slog.Error("dispatch: load task", "task_id", taskID, "error", err)
		return
	}
	adapter := o.providers[t.Provider]
	spec := provider.Spec{
		Prompt:  t.Prompt,
		Size:    t.Size,
		Quality: t.Quality,
		Count:   t.Count,
		Options: t.Options,
	}

	attempts := 0
	for {
		cur, err := o.store.GetTask(ctx, taskID)
		if err != nil {
			slog.Error("dispatch: reload task", "task_id", taskID, "error", err)
			return
		}
		if cur.Status.Terminal() {
			return
		}

		out, ok := o.submitOnce(ctx, taskID, adapter, spec, &attempts)
		if !ok {
			if ctx.Err() != nil {
				return
			}
			continue // retry scheduled by submitOnce
		}
		if out == nil {
			return // terminal failure recorded
		}

		if !adapter.Async() || out.Done {
			o.markSubmitted(ctx, taskID, out.Handle, attempts)
			o.applyOutcome(ctx, taskID, *out, attempts)
			return
		}

		o.markSubmitted(ctx, taskID, out.Handle, attempts)
		o.reconcile(ctx, taskID, adapter, spec, attempts)
		return
	}
}

// submitOnce performs one admission + submission attempt.
// Returns (outcome, true) on success, (nil, true) when the task was failed
// terminally, and (nil, false) when a retry has been scheduled.
func (o *Orchestrator) submitOnce(ctx context.Context, taskID string, adapter provider.Adapter, spec provider.Spec, attempts *int) (*provider.Outcome, bool) {
	waitStart := time.Now()
	release, err := o.limiter.Acquire(ctx, adapter.Name())
	o.recordWait(ctx, time.Since(waitStart))
	if err != nil {
		if ctx.Err() != nil {
			return nil, true
		}
		*attempts++
		if delay, retry := o.retry.Decide(*attempts, resilience.ClassTransient); retry {
			o.count(ctx, func(m *ifotel.Metrics) metric.Int64Counter { return m.SubmitRetries })
			slog.Warn("admission timed out, retrying", "task_id", taskID, "attempt", *attempts, "delay", delay)
			if o.sleep(ctx, delay) != nil {
				return nil, true
			}
			return nil, false
		}
		o.fail(ctx, taskID, task.FailureRateLimit, "timed out waiting for a provider slot", *attempts)
		return nil, true
	}

	*attempts++
	sctx, span := ifotel.StartSubmitSpan(ctx, taskID, adapter.Name(), *attempts)
	out, err := adapter.Submit(sctx, spec)
	span.End()
	release()

	o.count(ctx, func(m *ifotel.Metrics) metric.Int64Counter { return m.TasksSubmitted })

	if err != nil {
		kind := provider.KindOf(err)
		if delay, retry := o.retry.Decide(*attempts, classOf(kind)); retry {
			o.count(ctx, func(m *ifotel.Metrics) metric.Int64Counter { return m.SubmitRetries })
			slog.Warn("submit failed, retrying", "task_id", taskID, "attempt", *attempts, "kind", kind, "delay", delay)
			if o.sleep(ctx, delay) != nil {
				return nil, true
			}
			return nil, false
		}
		o.fail(ctx, taskID, failureKindOf(kind), err.Error(), *attempts)
		return nil, true
	}
	return &out, true
}

// reconcile polls an async provider until the task reaches a terminal
// state, a budget runs out, or a webhook callback settles it first. A lost
// handle is re-submitted exactly once. Consecutive transient poll failures
// are bounded by the retry policy; a successful poll resets the count.
func (o *Orchestrator) reconcile(ctx context.Context, taskID string, adapter provider.Adapter, spec provider.Spec, attempts int) {
	deadline := time.Now().Add(o.taskCfg.MaxLifetime)
	interval := o.poll.Initial
	resubmitted := false
	pollFailures := 0

	for polls := 0; ; {
		if o.sleep(ctx, interval) != nil {
			return
		}
		if next := time.Duration(float64(interval) * o.poll.Multiplier); next <= o.poll.Max {
			interval = next
		} else {
			interval = o.poll.Max
		}

		cur, err := o.store.GetTask(ctx, taskID)
		if err != nil {
			slog.Error("reconcile: load task", "task_id", taskID, "error", err)
			return
		}
		if cur.Status.Terminal() {
			return
		}
		if time.Now().After(deadline) {
			o.fail(ctx, taskID, task.FailureTimeout, "task exceeded its lifetime ceiling", attempts)
			return
		}
		polls++
		if polls > o.taskCfg.MaxPolls {
			o.fail(ctx, taskID, task.FailureTimeout, "poll budget exhausted", attempts)
			return
		}

		pctx, span := ifotel.StartPollSpan(ctx, taskID, adapter.Name(), cur.ProviderHandle)
		out, err := adapter.Poll(pctx, cur.ProviderHandle)
		span.End()
		o.count(ctx, func(m *ifotel.Metrics) metric.Int64Counter { return m.ProviderPolls })

		if err != nil {
			kind := provider.KindOf(err)
			switch {
			case kind == provider.KindHandleNotFound && !resubmitted:
				resubmitted = true
				newOut, ok := o.resubmit(ctx, taskID, adapter, spec, &attempts)
				if !ok {
					return
				}
				o.replaceHandle(ctx, taskID, newOut.Handle, attempts)
				interval = o.poll.Initial
				pollFailures = 0
			case kind == provider.KindHandleNotFound:
				o.fail(ctx, taskID, task.FailureHandleNotFound, err.Error(), attempts)
				return
			case classOf(kind) == resilience.ClassPermanent:
				o.fail(ctx, taskID, failureKindOf(kind), err.Error(), attempts)
				return
			default:
				pollFailures++
				if _, retry := o.retry.Decide(pollFailures, resilience.ClassTransient); !retry {
					o.fail(ctx, taskID, failureKindOf(kind), err.Error(), attempts)
					return
				}
				slog.Warn("poll failed, will retry", "task_id", taskID, "kind", kind, "poll_failures", pollFailures, "error", err)
			}
			continue
		}

		pollFailures = 0
		o.applyOutcome(ctx, taskID, out, attempts)
		if out.Done {
			return
		}
	}
}

// resubmit replays the original spec after the provider lost the handle.
// Returns false when the task was failed terminally.
func (o *Orchestrator) resubmit(ctx context.Context, taskID string, adapter provider.Adapter, spec provider.Spec, attempts *int) (provider.Outcome, bool) {
	release, err := o.limiter.Acquire(ctx, adapter.Name())
	if err != nil {
		o.fail(ctx, taskID, task.FailureHandleNotFound, "handle lost and re-admission failed: "+err.Error(), *attempts)
		return provider.Outcome{}, false
	}
	defer release()

	*attempts++
	sctx, span := ifotel.StartSubmitSpan(ctx, taskID, adapter.Name(), *attempts)
	out, err := adapter.Submit(sctx, spec)
	span.End()
	if err != nil {
		o.fail(ctx, taskID, task.FailureHandleNotFound, "handle lost and re-submission failed: "+err.Error(), *attempts)
		return provider.Outcome{}, false
	}

	slog.Info("handle lost, task re-submitted", "task_id", taskID, "new_handle", out.Handle, "attempt", *attempts)
	return out, true
}

// applyOutcome folds a provider outcome into task state: a done outcome
// settles the task, a progress outcome raises the progress fraction.
func (o *Orchestrator) applyOutcome(ctx context.Context, taskID string, out provider.Outcome, attempts int) {
	if out.Done {
		o.succeed(ctx, taskID, out, attempts)
		return
	}
	o.updateProgress(ctx, taskID, out.Progress)
}

// markSubmitted transitions queued -> submitted and records the handle.
func (o *Orchestrator) markSubmitted(ctx context.Context, taskID, handle string, attempts int) {
	t, from, err := o.applyTransition(ctx, taskID, task.StatusSubmitted, func(t *task.Task) {
		t.ProviderHandle = handle
		t.Attempts = attempts
	})
	if err != nil {
		slog.Error("mark submitted", "task_id", taskID, "error", err)
		return
	}
	o.appendEvent(ctx, taskID, event.TypeSubmitted, from, task.StatusSubmitted, 0, "")
	o.publish(ctx, messagequeue.SubjectTaskSubmitted, t)
	o.broadcastStatus(ctx, t, "")
}

// replaceHandle swaps in the handle from a re-submission without changing
// the task's status.
func (o *Orchestrator) replaceHandle(ctx context.Context, taskID, handle string, attempts int) {
	unlock := o.locks.lock(taskID)
	defer unlock()

	for {
		t, err := o.store.GetTask(ctx, taskID)
		if err != nil {
			slog.Error("replace handle: load task", "task_id", taskID, "error", err)
			return
		}
		if t.Status.Terminal() {
			return
		}
		t.ProviderHandle = handle
		t.Attempts = attempts
		t.UpdatedAt = time.Now().UTC()
		if err := o.store.UpdateTask(ctx, t); err != nil {
			if errors.Is(err, domain.ErrConflict) {
				continue
			}
			slog.Error("replace handle: update task", "task_id", taskID, "error", err)
			return
		}
		o.appendEvent(ctx, taskID, event.TypeResubmit, t.Status, t.Status, t.Progress, "handle lost, re-submitted")
		return
	}
}

// updateProgress raises the task's progress fraction. Progress is
// monotonic: stale or duplicate reports never lower it.
func (o *Orchestrator) updateProgress(ctx context.Context, taskID string, progress float64) {
	unlock := o.locks.lock(taskID)
	defer unlock()

	for {
		t, err := o.store.GetTask(ctx, taskID)
		if err != nil {
			slog.Error("update progress: load task", "task_id", taskID, "error", err)
			return
		}
		if t.Status.Terminal() || progress <= t.Progress {
			return
		}
		from := t.Status
		if t.Status == task.StatusSubmitted {
			t.Status = task.StatusProgressing
		}
		t.Progress = progress
		t.UpdatedAt = time.Now().UTC()
		if err := o.store.UpdateTask(ctx, t); err != nil {
			if errors.Is(err, domain.ErrConflict) {
				continue
			}
			slog.Error("update progress: update task", "task_id", taskID, "error", err)
			return
		}
		o.appendEvent(ctx, taskID, event.TypeProgress, from, t.Status, progress, "")
		o.publish(ctx, messagequeue.SubjectTaskProgress, t)
		if o.hub != nil {
			o.hub.BroadcastEvent(ctx, ws.EventTaskProgress, ws.TaskProgressEvent{
				TaskID:   t.ID,
				Provider: t.Provider,
				Progress: progress,
			})
		}
		return
	}
}

// succeed settles the task with its images.
func (o *Orchestrator) succeed(ctx context.Context, taskID string, out provider.Outcome, attempts int) {
	t, from, err := o.applyTransition(ctx, taskID, task.StatusSucceeded, func(t *task.Task) {
		t.Progress = 1
		t.Attempts = attempts
		t.Result = &task.Result{Images: out.Images, RevisedPrompt: out.RevisedPrompt}
	})
	if err != nil {
		if !errors.Is(err, domain.ErrConflict) {
			slog.Error("mark succeeded", "task_id", taskID, "error", err)
		}
		return
	}

	o.appendEvent(ctx, taskID, event.TypeSucceeded, from, task.StatusSucceeded, 1, "")
	o.publish(ctx, messagequeue.SubjectTaskCompleted, t)
	o.count(ctx, func(m *ifotel.Metrics) metric.Int64Counter { return m.TasksSucceeded })
	o.recordDuration(ctx, t)
	if o.hub != nil {
		o.hub.BroadcastEvent(ctx, ws.EventTaskResult, ws.TaskResultEvent{
			TaskID:        t.ID,
			Provider:      t.Provider,
			Status:        string(t.Status),
			Images:        t.Result.Images,
			RevisedPrompt: t.Result.RevisedPrompt,
		})
	}
	o.notifyTerminal(t)

	slog.Info("task succeeded", "task_id", taskID, "images", len(out.Images), "attempts", attempts)
}

// fail settles the task with a structured failure.
func (o *Orchestrator) fail(ctx context.Context, taskID string, kind task.FailureKind, message string, attempts int) {
	t, from, err := o.applyTransition(ctx, taskID, task.StatusFailed, func(t *task.Task) {
		t.Attempts = attempts
		t.Failure = &task.Failure{Kind: kind, Message: message}
	})
	if err != nil {
		if !errors.Is(err, domain.ErrConflict) {
			slog.Error("mark failed", "task_id", taskID, "error", err)
		}
		return
	}

	o.appendEvent(ctx, taskID, event.TypeFailed, from, task.StatusFailed, t.Progress, message)
	o.publish(ctx, messagequeue.SubjectTaskCompleted, t)
	o.count(ctx, func(m *ifotel.Metrics) metric.Int64Counter { return m.TasksFailed })
	o.recordDuration(ctx, t)
	if o.hub != nil {
		o.hub.BroadcastEvent(ctx, ws.EventTaskResult, ws.TaskResultEvent{
			TaskID:        t.ID,
			Provider:      t.Provider,
			Status:        string(t.Status),
			FailureKind:   string(kind),
			FailureReason: message,
		})
	}
	o.notifyTerminal(t)

	slog.Warn("task failed", "task_id", taskID, "kind", kind, "reason", message, "attempts", attempts)
}

// applyTransition moves the task to next under the per-task lock, retrying
// version conflicts. Terminal states are sticky: an illegal transition
// returns domain.ErrConflict and leaves the task untouched.
func (o *Orchestrator) applyTransition(ctx context.Context, taskID string, next task.Status, mutate func(*task.Task)) (*task.Task, task.Status, error) {
	unlock := o.locks.lock(taskID)
	defer unlock()

	for {
		t, err := o.store.GetTask(ctx, taskID)
		if err != nil {
			return nil, "", err
		}
		if !t.Status.CanTransition(next) {
			return nil, t.Status, fmt.Errorf("task %s cannot move %s -> %s: %w", taskID, t.Status, next, domain.ErrConflict)
		}
		from := t.Status
		t.Status = next
		if mutate != nil {
			mutate(t)
		}
		t.UpdatedAt = time.Now().UTC()
		if err := o.store.UpdateTask(ctx, t); err != nil {
			if errors.Is(err, domain.ErrConflict) {
				continue
			}
			return nil, from, err
		}
		return t, from, nil
	}
}

func (o *Orchestrator) appendEvent(ctx context.Context, taskID string, typ event.Type, from, to task.Status, progress float64, message string) {
	ev := &event.TaskEvent{
		ID:        uuid.NewString(),
		TaskID:    taskID,
		Type:      typ,
		From:      from,
		To:        to,
		Progress:  progress,
		Message:   message,
		CreatedAt: time.Now().UTC(),
	}
	if err := o.events.AppendTaskEvent(ctx, ev); err != nil {
		slog.Error("append task event", "task_id", taskID, "type", typ, "error", err)
	}
}

func (o *Orchestrator) publish(ctx context.Context, subject string, t *task.Task) {
	if o.queue == nil {
		return
	}
	data, err := json.Marshal(t)
	if err != nil {
		slog.Error("marshal task for publish", "task_id", t.ID, "error", err)
		return
	}
	if err := o.queue.Publish(ctx, subject, data); err != nil {
		slog.Error("publish task event", "subject", subject, "task_id", t.ID, "error", err)
	}
}

func (o *Orchestrator) broadcastStatus(ctx context.Context, t *task.Task, message string) {
	if o.hub == nil {
		return
	}
	o.hub.BroadcastEvent(ctx, ws.EventTaskStatus, ws.TaskStatusEvent{
		TaskID:   t.ID,
		Provider: t.Provider,
		Status:   string(t.Status),
		Message:  message,
	})
}

func (o *Orchestrator) notifyTerminal(t *task.Task) {
	if o.notifier == nil {
		return
	}
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		if err := o.notifier.Notify(o.bgCtx, t); err != nil {
			slog.Warn("terminal notification failed", "task_id", t.ID, "error", err)
		}
	}()
}

func (o *Orchestrator) count(ctx context.Context, pick func(*ifotel.Metrics) metric.Int64Counter) {
	if o.metrics == nil {
		return
	}
	pick(o.metrics).Add(ctx, 1)
}

func (o *Orchestrator) recordWait(ctx context.Context, d time.Duration) {
	if o.metrics == nil {
		return
	}
	o.metrics.LimiterWaitTime.Record(ctx, d.Seconds())
}

func (o *Orchestrator) recordDuration(ctx context.Context, t *task.Task) {
	if o.metrics == nil {
		return
	}
	o.metrics.TaskDuration.Record(ctx, t.UpdatedAt.Sub(t.CreatedAt).Seconds())
}

// classOf maps a provider error kind to a retry class.
func classOf(kind provider.ErrorKind) resilience.Class {
	switch kind {
	case provider.KindRejected, provider.KindAuth:
		return resilience.ClassPermanent
	default:
		return resilience.ClassTransient
	}
}

// failureKindOf maps a provider error kind to the stored failure kind.
func failureKindOf(kind provider.ErrorKind) task.FailureKind {
	switch kind {
	case provider.KindRejected:
		return task.FailureRejected
	case provider.KindAuth:
		return task.FailureAuth
	case provider.KindRateLimit:
		return task.FailureRateLimit
	case provider.KindHandleNotFound:
		return task.FailureHandleNotFound
	case provider.KindTimeout:
		return task.FailureTimeout
	default:
		return task.FailureUnavailable
	}
}

// sleepCtx waits for d or until ctx is cancelled.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// keyedLocks serializes task writes per task ID. Locks are reference
// counted and dropped when the last holder releases them.
type keyedLocks struct {
	mu   sync.Mutex
	held map[string]*taskLock
}

type taskLock struct {
	mu   sync.Mutex
	refs int
}

func (k *keyedLocks) lock(id string) (unlock func()) {
	k.mu.Lock()
	l, ok := k.held[id]
	if !ok {
		l = &taskLock{}
		k.held[id] = l
	}
	l.refs++
	k.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.held, id)
		}
		k.mu.Unlock()
	}
}
