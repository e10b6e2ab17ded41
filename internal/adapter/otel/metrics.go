package otel

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "imageforge"

// Metrics holds all ImageForge metric instruments.
type Metrics struct {
	TasksSubmitted  metric.Int64Counter
	TasksSucceeded  metric.Int64Counter
	TasksFailed     metric.Int64Counter
	TasksCancelled  metric.Int64Counter
	SubmitRetries   metric.Int64Counter
	ProviderPolls   metric.Int64Counter
	TaskDuration    metric.Float64Histogram
	LimiterWaitTime metric.Float64Histogram
}

// NewMetrics creates all metric instruments.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(meterName)
	m := &Metrics{}
	var err error

	m.TasksSubmitted, err = meter.Int64Counter("imageforge.tasks.submitted",
		metric.WithDescription("Number of tasks submitted to a provider"))
	if err != nil {
		return nil, err
	}

	m.TasksSucceeded, err = meter.Int64Counter("imageforge.tasks.succeeded",
		metric.WithDescription("Number of tasks that produced images"))
	if err != nil {
		return nil, err
	}

	m.TasksFailed, err = meter.Int64Counter("imageforge.tasks.failed",
		metric.WithDescription("Number of tasks that failed"))
	if err != nil {
		return nil, err
	}

	m.TasksCancelled, err = meter.Int64Counter("imageforge.tasks.cancelled",
		metric.WithDescription("Number of tasks cancelled by clients"))
	if err != nil {
		return nil, err
	}

	m.SubmitRetries, err = meter.Int64Counter("imageforge.submit.retries",
		metric.WithDescription("Number of retried provider submissions"))
	if err != nil {
		return nil, err
	}

	m.ProviderPolls, err = meter.Int64Counter("imageforge.provider.polls",
		metric.WithDescription("Number of provider status polls"))
	if err != nil {
		return nil, err
	}

	m.TaskDuration, err = meter.Float64Histogram("imageforge.task.duration_seconds",
		metric.WithDescription("Time from creation to terminal state in seconds"))
	if err != nil {
		return nil, err
	}

	m.LimiterWaitTime, err = meter.Float64Histogram("imageforge.limiter.wait_seconds",
		metric.WithDescription("Time spent waiting for a provider concurrency slot"))
	if err != nil {
		return nil, err
	}

	return m, nil
}
