package observe

import (
	"context"
	"testing"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// newTestMetrics returns a Metrics instance backed by a ManualReader.
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

func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	return rm
}

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

// sumWhere returns the value of the data point of the named counter whose
// attribute key equals value.
func sumWhere(t *testing.T, rm metricdata.ResourceMetrics, name, key, value string) int64 {
	t.Helper()
	met := findMetric(rm, name)
	if met == nil {
		t.Fatalf("metric %q not found", name)
	}
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("metric %q is not a sum", name)
	}
	for _, dp := range sum.DataPoints {
		for _, kv := range dp.Attributes.ToSlice() {
			if string(kv.Key) == key && kv.Value.AsString() == value {
				return dp.Value
			}
		}
	}
	t.Fatalf("metric %q has no data point with %s=%s", name, key, value)
	return 0
}

func TestHistogramObservation(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.STTDuration.Record(ctx, 0.2)
	m.LLMDuration.Record(ctx, 0.8)
	m.LLMDuration.Record(ctx, 1.1)
	m.TTSDuration.Record(ctx, 0.3)

	rm := collect(t, reader)
	tests := []struct {
		name string
		want uint64
	}{
		{"jarvis.stt.duration", 1},
		{"jarvis.llm.duration", 2},
		{"jarvis.tts.duration", 1},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			met := findMetric(rm, tc.name)
			if met == nil {
				t.Fatalf("metric %q not found", tc.name)
			}
			hist, ok := met.Data.(metricdata.Histogram[float64])
			if !ok {
				t.Fatalf("metric %q is not a histogram", tc.name)
			}
			if len(hist.DataPoints) == 0 {
				t.Fatalf("metric %q has no data points", tc.name)
			}
			if got := hist.DataPoints[0].Count; got != tc.want {
				t.Errorf("sample count = %d, want %d", got, tc.want)
			}
		})
	}
}

func TestVoiceCounters(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordModeTransition(ctx, "idle", "wake_word")
	m.RecordModeTransition(ctx, "wake_word", "command")
	m.RecordModeTransition(ctx, "wake_word", "command")
	m.RecordStreamRestart(ctx, "end")
	m.RecordStreamRestart(ctx, "error")
	m.RecordStreamRestart(ctx, "error")

	rm := collect(t, reader)
	if got := sumWhere(t, rm, "jarvis.voice.mode_transitions", "to", "command"); got != 2 {
		t.Errorf("transitions to command = %d, want 2", got)
	}
	if got := sumWhere(t, rm, "jarvis.voice.stream_restarts", "reason", "error"); got != 2 {
		t.Errorf("error restarts = %d, want 2", got)
	}
}

func TestActionCounters(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordActionFinished(ctx, "task", "completed")
	m.RecordActionFinished(ctx, "task", "cancelled")
	m.RecordActionFinished(ctx, "api_call", "cancelled")

	rm := collect(t, reader)
	if got := sumWhere(t, rm, "jarvis.actions.finished", "status", "completed"); got != 1 {
		t.Errorf("completed = %d, want 1", got)
	}
}

func TestProviderCounters(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordProviderRequest(ctx, "anthropic", "llm", "ok")
	m.RecordProviderRequest(ctx, "anthropic", "llm", "ok")
	m.RecordProviderRequest(ctx, "anthropic", "llm", "error")
	m.RecordProviderError(ctx, "elevenlabs", "tts")

	rm := collect(t, reader)
	if got := sumWhere(t, rm, "jarvis.provider.requests", "status", "ok"); got != 2 {
		t.Errorf("ok requests = %d, want 2", got)
	}
	if got := sumWhere(t, rm, "jarvis.provider.errors", "provider", "elevenlabs"); got != 1 {
		t.Errorf("errors = %d, want 1", got)
	}
}

func TestGauges(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.ActiveVoiceSessions.Add(ctx, 1)
	m.ActiveVoiceSessions.Add(ctx, 1)
	m.ActiveVoiceSessions.Add(ctx, -1)
	m.ActiveClients.Add(ctx, 3)

	rm := collect(t, reader)
	gauges := []struct {
		name string
		want int64
	}{
		{"jarvis.voice.active_sessions", 1},
		{"jarvis.bridge.active_clients", 3},
	}
	for _, tc := range gauges {
		t.Run(tc.name, func(t *testing.T) {
			met := findMetric(rm, tc.name)
			if met == nil {
				t.Fatalf("metric %q not found", tc.name)
			}
			sum, ok := met.Data.(metricdata.Sum[int64])
			if !ok {
				t.Fatalf("metric %q is not a sum", tc.name)
			}
			if len(sum.DataPoints) == 0 {
				t.Fatalf("metric %q has no data points", tc.name)
			}
			if got := sum.DataPoints[0].Value; got != tc.want {
				t.Errorf("gauge value = %d, want %d", got, tc.want)
			}
		})
	}
}

func TestDefaultMetrics_ReturnsSameInstance(t *testing.T) {
	a := DefaultMetrics()
	b := DefaultMetrics()
	if a != b {
		t.Error("DefaultMetrics returned different pointers")
	}
}
