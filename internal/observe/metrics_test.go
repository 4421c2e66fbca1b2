package observe

import (
	"context"
	"testing"
	"time"

	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// newTestMetrics returns a Metrics instance backed by a ManualReader for
// programmatic metric inspection.
func newTestMetrics(t *testing.T) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

// collect gathers all metric data from the reader.
func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	return rm
}

// findMetric searches for a metric by name across all scope metrics.
func findMetric(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

// sumValueWithAttr returns the data point value whose attribute key equals
// want, or -1 when no such data point exists.
func sumValueWithAttr(sum metricdata.Sum[int64], key, want string) int64 {
	for _, dp := range sum.DataPoints {
		for _, kv := range dp.Attributes.ToSlice() {
			if string(kv.Key) == key && kv.Value.AsString() == want {
				return dp.Value
			}
		}
	}
	return -1
}

func TestNewMetrics_CreatesWithoutError(t *testing.T) {
	m, _ := newTestMetrics(t)
	if m == nil {
		t.Fatal("NewMetrics returned nil")
	}
}

func TestRecordStateChange(t *testing.T) {
	m, reader := newTestMetrics(t)

	m.RecordStateChange("listening", "processing")
	m.RecordStateChange("listening", "processing")
	m.RecordStateChange("processing", "speaking")

	rm := collect(t, reader)
	met := findMetric(rm, "auralis.pipeline.transitions")
	if met == nil {
		t.Fatal("metric not found")
	}
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatal("metric is not a sum")
	}
	if got := sumValueWithAttr(sum, "to", "processing"); got != 2 {
		t.Errorf("transitions to processing = %d, want 2", got)
	}
	if got := sumValueWithAttr(sum, "to", "speaking"); got != 1 {
		t.Errorf("transitions to speaking = %d, want 1", got)
	}
}

func TestRecordTranscript(t *testing.T) {
	m, reader := newTestMetrics(t)

	m.RecordTranscript(false)
	m.RecordTranscript(false)
	m.RecordTranscript(true)

	rm := collect(t, reader)
	met := findMetric(rm, "auralis.asr.transcripts")
	if met == nil {
		t.Fatal("metric not found")
	}
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatal("metric is not a sum")
	}
	if got := sumValueWithAttr(sum, "kind", "partial"); got != 2 {
		t.Errorf("partial count = %d, want 2", got)
	}
	if got := sumValueWithAttr(sum, "kind", "final"); got != 1 {
		t.Errorf("final count = %d, want 1", got)
	}
}

func TestRecordBargeIn(t *testing.T) {
	m, reader := newTestMetrics(t)

	m.RecordBargeIn("speech")
	m.RecordBargeIn("speech")
	m.RecordBargeIn("keyword")

	rm := collect(t, reader)
	met := findMetric(rm, "auralis.bargein.detections")
	if met == nil {
		t.Fatal("metric not found")
	}
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatal("metric is not a sum")
	}
	if got := sumValueWithAttr(sum, "kind", "speech"); got != 2 {
		t.Errorf("speech count = %d, want 2", got)
	}
	if got := sumValueWithAttr(sum, "kind", "keyword"); got != 1 {
		t.Errorf("keyword count = %d, want 1", got)
	}
}

func TestRecordASRRestart(t *testing.T) {
	m, reader := newTestMetrics(t)

	m.RecordASRRestart()

	rm := collect(t, reader)
	met := findMetric(rm, "auralis.asr.restarts")
	if met == nil {
		t.Fatal("metric not found")
	}
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatal("metric is not a sum")
	}
	if len(sum.DataPoints) == 0 {
		t.Fatal("no data points")
	}
	if sum.DataPoints[0].Value != 1 {
		t.Errorf("counter value = %d, want 1", sum.DataPoints[0].Value)
	}
}

func TestRecordTurnLatency(t *testing.T) {
	m, reader := newTestMetrics(t)

	m.RecordTurnLatency(120 * time.Millisecond)
	m.RecordTurnLatency(340 * time.Millisecond)

	rm := collect(t, reader)
	met := findMetric(rm, "auralis.turn.latency")
	if met == nil {
		t.Fatal("metric not found")
	}
	hist, ok := met.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatal("metric is not a histogram")
	}
	if len(hist.DataPoints) == 0 {
		t.Fatal("no data points")
	}
	if got := hist.DataPoints[0].Count; got != 2 {
		t.Errorf("sample count = %d, want 2", got)
	}
}

func TestRecordSessionEnd(t *testing.T) {
	m, reader := newTestMetrics(t)

	m.RecordSessionEnd("stopped")
	m.RecordSessionEnd("session-timeout")
	m.RecordSessionEnd("session-timeout")

	rm := collect(t, reader)
	met := findMetric(rm, "auralis.session.ends")
	if met == nil {
		t.Fatal("metric not found")
	}
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatal("metric is not a sum")
	}
	if got := sumValueWithAttr(sum, "reason", "session-timeout"); got != 2 {
		t.Errorf("timeout count = %d, want 2", got)
	}
}

func TestRecordProviderError(t *testing.T) {
	m, reader := newTestMetrics(t)

	m.RecordProviderError("deepgram", "stt")
	m.RecordProviderError("deepgram", "stt")

	rm := collect(t, reader)
	met := findMetric(rm, "auralis.provider.errors")
	if met == nil {
		t.Fatal("metric not found")
	}
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatal("metric is not a sum")
	}
	if got := sumValueWithAttr(sum, "provider", "deepgram"); got != 2 {
		t.Errorf("provider error count = %d, want 2", got)
	}
}

func TestSessionLifecycleTracksActiveSessions(t *testing.T) {
	m, reader := newTestMetrics(t)

	m.RecordSessionStart()
	m.RecordSessionStart()
	m.RecordSessionEnd("requested")

	rm := collect(t, reader)
	met := findMetric(rm, "auralis.active_sessions")
	if met == nil {
		t.Fatal("metric not found")
	}
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatal("metric is not a sum")
	}
	if len(sum.DataPoints) == 0 {
		t.Fatal("no data points")
	}
	if got := sum.DataPoints[0].Value; got != 1 {
		t.Errorf("active sessions = %d, want 1", got)
	}

	ends := findMetric(rm, "auralis.session.ends")
	if ends == nil {
		t.Fatal("session ends metric not found")
	}
}

func TestHTTPRequestDuration(t *testing.T) {
	m, reader := newTestMetrics(t)

	m.HTTPRequestDuration.Record(context.Background(), 0.05,
		metric.WithAttributes(
			Attr("method", "GET"),
			Attr("path", "/healthz"),
		),
	)

	rm := collect(t, reader)
	met := findMetric(rm, "auralis.http.request.duration")
	if met == nil {
		t.Fatal("metric not found")
	}
	hist, ok := met.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatal("metric is not a histogram")
	}
	if len(hist.DataPoints) == 0 {
		t.Fatal("no data points")
	}
	if got := hist.DataPoints[0].Count; got != 1 {
		t.Errorf("sample count = %d, want 1", got)
	}
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics

	m.RecordStateChange("idle", "listening")
	m.RecordTranscript(true)
	m.RecordBargeIn("speech")
	m.RecordASRRestart()
	m.RecordTurnLatency(time.Second)
	m.RecordSessionStart()
	m.RecordSessionEnd("stopped")
	m.RecordProviderError("x", "y")
}

func TestDefaultMetrics_ReturnsSameInstance(t *testing.T) {
	a := DefaultMetrics()
	b := DefaultMetrics()
	if a != b {
		t.Error("DefaultMetrics returned different pointers")
	}
}
