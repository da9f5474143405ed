package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/gw2shinies/tpsync/internal/domain/entity"
	"github.com/gw2shinies/tpsync/internal/ports/outbound"
)

var _ outbound.JobMetrics = (*Metrics)(nil)

// Metrics implements outbound.JobMetrics using OpenTelemetry instruments.
type Metrics struct {
	runDuration  metric.Float64Histogram
	runs         metric.Int64Counter
	records      metric.Int64Counter
	skippedTicks metric.Int64Counter
}

// NewMetrics creates the job instruments on the global meter provider.
func NewMetrics(meterName string) (*Metrics, error) {
	meter := otel.Meter(meterName)

	duration, err := meter.Float64Histogram(
		"job_run_duration_seconds",
		metric.WithDescription("Wall time of one sync job run"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create job_run_duration_seconds histogram: %w", err)
	}

	runs, err := meter.Int64Counter(
		"job_runs_total",
		metric.WithDescription("Sync job runs by outcome"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create job_runs_total counter: %w", err)
	}

	records, err := meter.Int64Counter(
		"records_total",
		metric.WithDescription("Records handled by sync jobs by outcome"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create records_total counter: %w", err)
	}

	skipped, err := meter.Int64Counter(
		"skipped_ticks_total",
		metric.WithDescription("Triggers dropped because a run of the same job was in flight"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create skipped_ticks_total counter: %w", err)
	}

	return &Metrics{
		runDuration:  duration,
		runs:         runs,
		records:      records,
		skippedTicks: skipped,
	}, nil
}

// RecordJobRun records the duration and outcome of one run.
func (m *Metrics) RecordJobRun(ctx context.Context, kind entity.JobKind, duration time.Duration, outcome string) {
	attrs := metric.WithAttributes(
		attribute.String("job", string(kind)),
		attribute.String("outcome", outcome),
	)
	m.runDuration.Record(ctx, duration.Seconds(), attrs)
	m.runs.Add(ctx, 1, attrs)
}

// RecordRecords adds n records for the given outcome.
func (m *Metrics) RecordRecords(ctx context.Context, kind entity.JobKind, outcome string, n int) {
	if n <= 0 {
		return
	}
	m.records.Add(ctx, int64(n), metric.WithAttributes(
		attribute.String("job", string(kind)),
		attribute.String("outcome", outcome),
	))
}

// RecordSkippedTick counts one dropped trigger.
func (m *Metrics) RecordSkippedTick(ctx context.Context, kind entity.JobKind) {
	m.skippedTicks.Add(ctx, 1, metric.WithAttributes(attribute.String("job", string(kind))))
}
