package otel

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "runforge"

// Metrics holds the control plane's metric instruments.
type Metrics struct {
	RunsStarted   metric.Int64Counter
	RunsCompleted metric.Int64Counter
	RunsFailed    metric.Int64Counter
	RunTokens     metric.Int64Histogram
	RunDuration   metric.Float64Histogram
}

// NewMetrics creates all metric instruments.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(meterName)
	m := &Metrics{}
	var err error

	m.RunsStarted, err = meter.Int64Counter("responses.runs.started",
		metric.WithDescription("Number of runs started"))
	if err != nil {
		return nil, err
	}

	m.RunsCompleted, err = meter.Int64Counter("responses.runs.completed",
		metric.WithDescription("Number of runs reaching completed status"))
	if err != nil {
		return nil, err
	}

	m.RunsFailed, err = meter.Int64Counter("responses.runs.failed",
		metric.WithDescription("Number of runs reaching failed or incomplete status"))
	if err != nil {
		return nil, err
	}

	m.RunTokens, err = meter.Int64Histogram("responses.run.total_tokens",
		metric.WithDescription("Total tokens reported per terminal run"))
	if err != nil {
		return nil, err
	}

	m.RunDuration, err = meter.Float64Histogram("responses.run.duration_seconds",
		metric.WithDescription("Run duration in seconds"))
	if err != nil {
		return nil, err
	}

	return m, nil
}
