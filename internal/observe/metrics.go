// Package observe provides application-wide observability primitives for
// Auralis: OpenTelemetry metrics, tracing, structured logging, and HTTP
// middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
//
// All convenience Record methods are nil-receiver safe so the pipeline can
// run with metrics disabled.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all Auralis metrics.
const meterName = "github.com/auralis-ai/auralis"

// Metrics holds all OpenTelemetry metric instruments for the voice pipeline.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms ---

	// TurnLatency tracks final-transcript-to-playback-start latency.
	TurnLatency metric.Float64Histogram

	// HTTPRequestDuration tracks HTTP request processing time. Use with
	// attributes: attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram

	// --- Counters ---

	// StateTransitions counts pipeline state changes. Use with attributes:
	//   attribute.String("from", ...), attribute.String("to", ...)
	StateTransitions metric.Int64Counter

	// Transcripts counts recognition results. Use with attribute:
	//   attribute.String("kind", "partial"|"final")
	Transcripts metric.Int64Counter

	// BargeIns counts confirmed playback interruptions. Use with attribute:
	//   attribute.String("kind", ...)
	BargeIns metric.Int64Counter

	// ASRRestarts counts automatic recognition-stream restarts.
	ASRRestarts metric.Int64Counter

	// SessionEnds counts completed sessions. Use with attribute:
	//   attribute.String("reason", ...)
	SessionEnds metric.Int64Counter

	// ProviderErrors counts STT/TTS/command provider errors. Use with
	// attributes: attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks the number of live voice sessions.
	ActiveSessions metric.Int64UpDownCounter
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for voice-pipeline latencies.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.TurnLatency, err = m.Float64Histogram("auralis.turn.latency",
		metric.WithDescription("Latency from final transcript to playback start."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("auralis.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	if met.StateTransitions, err = m.Int64Counter("auralis.pipeline.transitions",
		metric.WithDescription("Total pipeline state transitions by from and to state."),
	); err != nil {
		return nil, err
	}
	if met.Transcripts, err = m.Int64Counter("auralis.asr.transcripts",
		metric.WithDescription("Total recognition results by kind (partial, final)."),
	); err != nil {
		return nil, err
	}
	if met.BargeIns, err = m.Int64Counter("auralis.bargein.detections",
		metric.WithDescription("Total confirmed barge-in interruptions by kind."),
	); err != nil {
		return nil, err
	}
	if met.ASRRestarts, err = m.Int64Counter("auralis.asr.restarts",
		metric.WithDescription("Total automatic recognition-stream restarts."),
	); err != nil {
		return nil, err
	}
	if met.SessionEnds, err = m.Int64Counter("auralis.session.ends",
		metric.WithDescription("Total completed sessions by end reason."),
	); err != nil {
		return nil, err
	}
	if met.ProviderErrors, err = m.Int64Counter("auralis.provider.errors",
		metric.WithDescription("Total provider errors by provider and kind."),
	); err != nil {
		return nil, err
	}

	if met.ActiveSessions, err = m.Int64UpDownCounter("auralis.active_sessions",
		metric.WithDescription("Number of live voice sessions."),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
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

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordStateChange records one pipeline state transition.
func (m *Metrics) RecordStateChange(from, to string) {
	if m == nil {
		return
	}
	m.StateTransitions.Add(context.Background(), 1,
		metric.WithAttributes(
			attribute.String("from", from),
			attribute.String("to", to),
		),
	)
}

// RecordTranscript records one recognition result.
func (m *Metrics) RecordTranscript(final bool) {
	if m == nil {
		return
	}
	kind := "partial"
	if final {
		kind = "final"
	}
	m.Transcripts.Add(context.Background(), 1,
		metric.WithAttributes(attribute.String("kind", kind)),
	)
}

// RecordBargeIn records one confirmed playback interruption.
func (m *Metrics) RecordBargeIn(kind string) {
	if m == nil {
		return
	}
	m.BargeIns.Add(context.Background(), 1,
		metric.WithAttributes(attribute.String("kind", kind)),
	)
}

// RecordASRRestart records one scheduled recognition-stream restart.
func (m *Metrics) RecordASRRestart() {
	if m == nil {
		return
	}
	m.ASRRestarts.Add(context.Background(), 1)
}

// RecordTurnLatency records the final-transcript-to-playback latency of one
// turn.
func (m *Metrics) RecordTurnLatency(d time.Duration) {
	if m == nil {
		return
	}
	m.TurnLatency.Record(context.Background(), d.Seconds())
}

// RecordSessionStart marks one voice session as live.
func (m *Metrics) RecordSessionStart() {
	if m == nil {
		return
	}
	m.ActiveSessions.Add(context.Background(), 1)
}

// RecordSessionEnd records one completed session and marks it no longer live.
func (m *Metrics) RecordSessionEnd(reason string) {
	if m == nil {
		return
	}
	m.SessionEnds.Add(context.Background(), 1,
		metric.WithAttributes(attribute.String("reason", reason)),
	)
	m.ActiveSessions.Add(context.Background(), -1)
}

// RecordProviderError records one STT/TTS/command provider error.
func (m *Metrics) RecordProviderError(provider, kind string) {
	if m == nil {
		return
	}
	m.ProviderErrors.Add(context.Background(), 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}
