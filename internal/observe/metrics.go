// Package observe provides application-wide observability primitives for
// voxlog: OpenTelemetry metric instruments and a Prometheus exporter bridge
// so metrics can be scraped via the standard /metrics endpoint.
//
// A package-level default [Metrics] instance ([DefaultMetrics]) is provided
// for convenience; tests should use [NewMetrics] with a custom
// [metric.MeterProvider] to avoid cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all voxlog metrics.
const meterName = "github.com/voxlog/voxlog"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// TranscribeDuration tracks backend transcription latency. Use with
	// attributes:
	//   attribute.String("backend", ...), attribute.String("status", ...)
	TranscribeDuration metric.Float64Histogram

	// SegmentDuration tracks the audio length of flushed segments in seconds.
	SegmentDuration metric.Float64Histogram

	// BackendRequests counts transcription calls. Use with attributes:
	//   attribute.String("backend", ...), attribute.String("status", ...)
	BackendRequests metric.Int64Counter

	// VADErrors counts skipped classifier windows and errored VAD calls.
	VADErrors metric.Int64Counter

	// VADFallbacks counts permanent switches from the VAD path to the
	// energy gate.
	VADFallbacks metric.Int64Counter

	// QueueDrops counts payloads rejected by bounded queues. Use with
	// attribute:
	//   attribute.String("queue", ...)
	QueueDrops metric.Int64Counter

	// FramesProcessed counts capture frames consumed by the session worker.
	FramesProcessed metric.Int64Counter
}

// latencyBuckets defines histogram bucket boundaries (in seconds) sized for
// transcription latencies.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// segmentBuckets defines histogram bucket boundaries (in seconds) sized for
// flushed segment lengths.
var segmentBuckets = []float64{
	0.25, 0.5, 1, 2, 3, 4.5, 6, 10,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.TranscribeDuration, err = m.Float64Histogram("voxlog.transcribe.duration",
		metric.WithDescription("Latency of backend transcription calls."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.SegmentDuration, err = m.Float64Histogram("voxlog.segment.duration",
		metric.WithDescription("Audio length of flushed segments."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(segmentBuckets...),
	); err != nil {
		return nil, err
	}
	if met.BackendRequests, err = m.Int64Counter("voxlog.backend.requests",
		metric.WithDescription("Total transcription calls by backend and status."),
	); err != nil {
		return nil, err
	}
	if met.VADErrors, err = m.Int64Counter("voxlog.vad.errors",
		metric.WithDescription("VAD calls that reported a classifier failure."),
	); err != nil {
		return nil, err
	}
	if met.VADFallbacks, err = m.Int64Counter("voxlog.vad.fallbacks",
		metric.WithDescription("Permanent switches from the VAD path to the energy gate."),
	); err != nil {
		return nil, err
	}
	if met.QueueDrops, err = m.Int64Counter("voxlog.queue.drops",
		metric.WithDescription("Payloads rejected by bounded queues."),
	); err != nil {
		return nil, err
	}
	if met.FramesProcessed, err = m.Int64Counter("voxlog.frames.processed",
		metric.WithDescription("Capture frames consumed by the session worker."),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// RecordTranscription records one backend call: its latency, the segment
// length it consumed, and the request counter. A zero Metrics value is a
// safe no-op, which keeps tests free of meter-provider setup.
func (m *Metrics) RecordTranscription(ctx context.Context, backend, status string, latency, segmentSeconds float64) {
	attrs := metric.WithAttributes(
		attribute.String("backend", backend),
		attribute.String("status", status),
	)
	if m.TranscribeDuration != nil {
		m.TranscribeDuration.Record(ctx, latency, attrs)
	}
	if m.SegmentDuration != nil {
		m.SegmentDuration.Record(ctx, segmentSeconds)
	}
	if m.BackendRequests != nil {
		m.BackendRequests.Add(ctx, 1, attrs)
	}
}

// CountVADError increments the VAD error counter.
func (m *Metrics) CountVADError(ctx context.Context) {
	if m.VADErrors != nil {
		m.VADErrors.Add(ctx, 1)
	}
}

// CountVADFallback increments the fallback counter.
func (m *Metrics) CountVADFallback(ctx context.Context) {
	if m.VADFallbacks != nil {
		m.VADFallbacks.Add(ctx, 1)
	}
}

// CountQueueDrop increments the drop counter for the named queue.
func (m *Metrics) CountQueueDrop(ctx context.Context, queue string) {
	if m.QueueDrops != nil {
		m.QueueDrops.Add(ctx, 1, metric.WithAttributes(attribute.String("queue", queue)))
	}
}

// CountFrame increments the processed-frame counter.
func (m *Metrics) CountFrame(ctx context.Context) {
	if m.FramesProcessed != nil {
		m.FramesProcessed.Add(ctx, 1)
	}
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the process-wide Metrics instance bound to the
// global meter provider. The returned value is never nil; if instrument
// creation somehow fails the instruments stay unset and recording becomes a
// no-op.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		m, err := NewMetrics(otel.GetMeterProvider())
		if err != nil || m == nil {
			m = &Metrics{}
		}
		defaultMetrics = m
	})
	return defaultMetrics
}
