// Package observe provides the observability primitives shared by the
// holdscribe actors: OpenTelemetry metrics, tracing, structured logging and
// HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API and exposed on
// /metrics through the Prometheus exporter bridge set up by [InitProvider].
// [DefaultMetrics] returns a package-level instance bound to the global
// meter provider; tests should use [NewMetrics] with their own
// [metric.MeterProvider] to avoid cross-test pollution.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all holdscribe metrics.
const meterName = "github.com/MrWong99/holdscribe"

// Metrics holds the metric instruments of the dictation pipeline.
// All fields are safe for concurrent use.
type Metrics struct {
	// --- Latency histograms per stage ---

	// CaptureDuration tracks how long the microphone was held, from
	// CAPTURE_STARTED until the device was released.
	CaptureDuration metric.Float64Histogram

	// TranscriptionDuration tracks engine latency per request. Use with
	// attribute.String("status", ...).
	TranscriptionDuration metric.Float64Histogram

	// WarmupDuration tracks engine model loads. Use with
	// attribute.String("status", ...).
	WarmupDuration metric.Float64Histogram

	// SessionDuration tracks a session from START_SESSION to its terminal
	// notification.
	SessionDuration metric.Float64Histogram

	// --- Counters ---

	// SessionsStarted counts sessions leaving Idle. Use with
	// attribute.String("trigger", ...).
	SessionsStarted metric.Int64Counter

	// SessionOutcomes counts terminal notifications. Use with
	// attribute.String("outcome", ...) and attribute.String("reason", ...).
	SessionOutcomes metric.Int64Counter

	// BreakerTransitions counts circuit breaker state changes per backend.
	BreakerTransitions metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions is 1 while a session is between START_SESSION and its
	// terminal notification.
	ActiveSessions metric.Int64UpDownCounter

	// PendingRequests tracks the correlation table size.
	PendingRequests metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with
	// attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) sized for
// dictation: short captures through slow CPU transcriptions and model
// downloads.
var latencyBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60, 300,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	histogram := func(name, desc string) (metric.Float64Histogram, error) {
		return m.Float64Histogram(name,
			metric.WithDescription(desc),
			metric.WithUnit("s"),
			metric.WithExplicitBucketBoundaries(latencyBuckets...),
		)
	}

	if met.CaptureDuration, err = histogram("holdscribe.capture.duration",
		"Time the microphone was held per session."); err != nil {
		return nil, err
	}
	if met.TranscriptionDuration, err = histogram("holdscribe.transcription.duration",
		"Latency of transcription requests by status."); err != nil {
		return nil, err
	}
	if met.WarmupDuration, err = histogram("holdscribe.engine.warmup.duration",
		"Latency of transcription engine warm-up by status."); err != nil {
		return nil, err
	}
	if met.SessionDuration, err = histogram("holdscribe.session.duration",
		"Latency from session start to terminal notification."); err != nil {
		return nil, err
	}

	if met.SessionsStarted, err = m.Int64Counter("holdscribe.sessions.started",
		metric.WithDescription("Total sessions started by trigger."),
	); err != nil {
		return nil, err
	}
	if met.SessionOutcomes, err = m.Int64Counter("holdscribe.sessions.outcomes",
		metric.WithDescription("Total session terminal notifications by outcome and reason."),
	); err != nil {
		return nil, err
	}
	if met.BreakerTransitions, err = m.Int64Counter("holdscribe.backend.breaker.transitions",
		metric.WithDescription("Circuit breaker state changes by backend and new state."),
	); err != nil {
		return nil, err
	}

	if met.ActiveSessions, err = m.Int64UpDownCounter("holdscribe.sessions.active",
		metric.WithDescription("Number of sessions in progress."),
	); err != nil {
		return nil, err
	}
	if met.PendingRequests, err = m.Int64UpDownCounter("holdscribe.requests.pending",
		metric.WithDescription("Number of transcription requests awaiting a terminal event."),
	); err != nil {
		return nil, err
	}

	if met.HTTPRequestDuration, err = m.Float64Histogram("holdscribe.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Panics if instrument creation
// fails, which does not happen with the global provider.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is a convenience alias for [attribute.String].
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordSessionStarted counts a session leaving Idle.
func (m *Metrics) RecordSessionStarted(ctx context.Context, trigger string) {
	m.SessionsStarted.Add(ctx, 1, metric.WithAttributes(Attr("trigger", trigger)))
	m.ActiveSessions.Add(ctx, 1)
}

// RecordSessionOutcome counts a terminal notification and records the
// session latency. reason is empty for completed sessions.
func (m *Metrics) RecordSessionOutcome(ctx context.Context, outcome, reason string, d time.Duration) {
	m.SessionOutcomes.Add(ctx, 1, metric.WithAttributes(
		Attr("outcome", outcome),
		Attr("reason", reason),
	))
	m.SessionDuration.Record(ctx, d.Seconds())
	m.ActiveSessions.Add(ctx, -1)
}

// RecordCapture records how long the device was held.
func (m *Metrics) RecordCapture(ctx context.Context, d time.Duration) {
	m.CaptureDuration.Record(ctx, d.Seconds())
}

// RecordTranscription records one engine request.
func (m *Metrics) RecordTranscription(ctx context.Context, status string, d time.Duration) {
	m.TranscriptionDuration.Record(ctx, d.Seconds(), metric.WithAttributes(Attr("status", status)))
}

// RecordWarmup records one engine warm-up.
func (m *Metrics) RecordWarmup(ctx context.Context, status string, d time.Duration) {
	m.WarmupDuration.Record(ctx, d.Seconds(), metric.WithAttributes(Attr("status", status)))
}

// RecordBreakerTransition counts a circuit breaker state change.
func (m *Metrics) RecordBreakerTransition(ctx context.Context, backend, state string) {
	m.BreakerTransitions.Add(ctx, 1, metric.WithAttributes(
		Attr("backend", backend),
		Attr("state", state),
	))
}
