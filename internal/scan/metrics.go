package scan

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics defines the metrics operations needed by the scan scheduling
// core.
type Metrics interface {
	// Scheduling metrics
	IncTasksSubmitted(ctx context.Context, scheduler string)
	IncTasksRejected(ctx context.Context, scheduler string, reason string)
	AddTasksInFlight(ctx context.Context, delta int64)

	// Execution metrics
	ObserveScanQuantum(ctx context.Context, d time.Duration)
	IncScanErrors(ctx context.Context)

	// Producer/consumer metrics
	IncBlocksProduced(ctx context.Context)
	IncBlocksConsumed(ctx context.Context)
	IncScannersParked(ctx context.Context)
}

// scanMetrics implements Metrics over an OpenTelemetry meter.
type scanMetrics struct {
	tasksSubmitted metric.Int64Counter
	tasksRejected  metric.Int64Counter
	tasksInFlight  metric.Int64UpDownCounter

	scanQuantumTime metric.Float64Histogram
	scanErrors      metric.Int64Counter

	blocksProduced metric.Int64Counter
	blocksConsumed metric.Int64Counter
	scannersParked metric.Int64Counter
}

const namespace = "scan_scheduler"

// NewMetrics creates a Metrics instance backed by the given meter provider.
func NewMetrics(mp metric.MeterProvider) (Metrics, error) {
	meter := mp.Meter(namespace, metric.WithInstrumentationVersion("v0.1.0"))

	m := new(scanMetrics)
	var err error

	if m.tasksSubmitted, err = meter.Int64Counter(
		"scan_tasks_submitted_total",
		metric.WithDescription("Total number of scan tasks submitted to a scheduler"),
	); err != nil {
		return nil, err
	}

	if m.tasksRejected, err = meter.Int64Counter(
		"scan_tasks_rejected_total",
		metric.WithDescription("Total number of scan task submissions rejected"),
	); err != nil {
		return nil, err
	}

	if m.tasksInFlight, err = meter.Int64UpDownCounter(
		"scan_tasks_in_flight",
		metric.WithDescription("Number of scan tasks currently scheduled or running"),
	); err != nil {
		return nil, err
	}

	if m.scanQuantumTime, err = meter.Float64Histogram(
		"scan_quantum_duration_seconds",
		metric.WithDescription("Duration of one scanner read quantum"),
	); err != nil {
		return nil, err
	}

	if m.scanErrors, err = meter.Int64Counter(
		"scan_errors_total",
		metric.WithDescription("Total number of scanner read failures"),
	); err != nil {
		return nil, err
	}

	if m.blocksProduced, err = meter.Int64Counter(
		"scan_blocks_produced_total",
		metric.WithDescription("Total number of blocks pushed by scanners"),
	); err != nil {
		return nil, err
	}

	if m.blocksConsumed, err = meter.Int64Counter(
		"scan_blocks_consumed_total",
		metric.WithDescription("Total number of blocks drained by consumers"),
	); err != nil {
		return nil, err
	}

	if m.scannersParked, err = meter.Int64Counter(
		"scan_scanners_parked_total",
		metric.WithDescription("Times a scanner was parked because the block buffer was full"),
	); err != nil {
		return nil, err
	}

	return m, nil
}

func (m *scanMetrics) IncTasksSubmitted(ctx context.Context, scheduler string) {
	m.tasksSubmitted.Add(ctx, 1, metric.WithAttributes(attribute.String("scheduler", scheduler)))
}

func (m *scanMetrics) IncTasksRejected(ctx context.Context, scheduler string, reason string) {
	m.tasksRejected.Add(ctx, 1, metric.WithAttributes(
		attribute.String("scheduler", scheduler),
		attribute.String("reason", reason),
	))
}

func (m *scanMetrics) AddTasksInFlight(ctx context.Context, delta int64) {
	m.tasksInFlight.Add(ctx, delta)
}

func (m *scanMetrics) ObserveScanQuantum(ctx context.Context, d time.Duration) {
	m.scanQuantumTime.Record(ctx, d.Seconds())
}

func (m *scanMetrics) IncScanErrors(ctx context.Context) { m.scanErrors.Add(ctx, 1) }

func (m *scanMetrics) IncBlocksProduced(ctx context.Context) { m.blocksProduced.Add(ctx, 1) }

func (m *scanMetrics) IncBlocksConsumed(ctx context.Context) { m.blocksConsumed.Add(ctx, 1) }

func (m *scanMetrics) IncScannersParked(ctx context.Context) { m.scannersParked.Add(ctx, 1) }

// NoopMetrics is a Metrics implementation that records nothing. Useful for
// tests.
type NoopMetrics struct{}

func (NoopMetrics) IncTasksSubmitted(context.Context, string)         {}
func (NoopMetrics) IncTasksRejected(context.Context, string, string)  {}
func (NoopMetrics) AddTasksInFlight(context.Context, int64)           {}
func (NoopMetrics) ObserveScanQuantum(context.Context, time.Duration) {}
func (NoopMetrics) IncScanErrors(context.Context)                     {}
func (NoopMetrics) IncBlocksProduced(context.Context)                 {}
func (NoopMetrics) IncBlocksConsumed(context.Context)                 {}
func (NoopMetrics) IncScannersParked(context.Context)                 {}
