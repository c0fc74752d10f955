package observe

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.opentelemetry.io/otel/attribute"
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

// sumWhere adds up every int64 sum data point carrying key=value, whatever
// its other attributes.
func sumWhere(t *testing.T, rm metricdata.ResourceMetrics, name, key, value string) int64 {
	t.Helper()
	met := findMetric(rm, name)
	if met == nil {
		t.Fatalf("metric %q not found", name)
	}
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("metric %q is not an int64 sum", name)
	}
	var total int64
	for _, dp := range sum.DataPoints {
		if v, ok := dp.Attributes.Value(attribute.Key(key)); ok && v.AsString() == value {
			total += dp.Value
		}
	}
	return total
}

func histCount(t *testing.T, rm metricdata.ResourceMetrics, name string) uint64 {
	t.Helper()
	met := findMetric(rm, name)
	if met == nil {
		t.Fatalf("metric %q not found", name)
	}
	hist, ok := met.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatalf("metric %q is not a histogram", name)
	}
	var n uint64
	for _, dp := range hist.DataPoints {
		n += dp.Count
	}
	return n
}

func TestRecordStage(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordStage(ctx, StageTranscribe, 120*time.Millisecond, nil)
	m.RecordStage(ctx, StageChat, time.Second, nil)
	m.RecordStage(ctx, StageChat, time.Second, errors.New("boom"))
	m.RecordStage(ctx, StageSynthesize, 300*time.Millisecond, nil)
	m.RecordStage(ctx, StageImage, 4*time.Second, nil)

	rm := collect(t, reader)

	for name, want := range map[string]uint64{
		"talkback.stt.duration":   1,
		"talkback.chat.duration":  2,
		"talkback.tts.duration":   1,
		"talkback.image.duration": 1,
	} {
		if got := histCount(t, rm, name); got != want {
			t.Errorf("%s count = %d, want %d", name, got, want)
		}
	}

	if got := sumWhere(t, rm, "talkback.provider.requests", "status", "ok"); got != 4 {
		t.Errorf("ok requests = %d, want 4", got)
	}
	if got := sumWhere(t, rm, "talkback.provider.requests", "status", "error"); got != 1 {
		t.Errorf("error requests = %d, want 1", got)
	}
	if got := sumWhere(t, rm, "talkback.provider.errors", "stage", StageChat); got != 1 {
		t.Errorf("chat errors = %d, want 1", got)
	}
}

func TestRecordStage_UnknownStageOnlyCounts(t *testing.T) {
	m, reader := newTestMetrics(t)
	m.RecordStage(context.Background(), "other", time.Second, nil)

	rm := collect(t, reader)
	if got := sumWhere(t, rm, "talkback.provider.requests", "stage", "other"); got != 1 {
		t.Errorf("requests = %d, want 1", got)
	}
	if findMetric(rm, "talkback.stt.duration") != nil && histCount(t, rm, "talkback.stt.duration") != 0 {
		t.Error("unknown stage recorded a latency")
	}
}

func TestRecordTurn(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordTurn(ctx, OutcomeCompleted, time.Second)
	m.RecordTurn(ctx, OutcomeCompleted, 2*time.Second)
	m.RecordTurn(ctx, OutcomeCancelled, time.Millisecond)

	rm := collect(t, reader)
	if got := sumWhere(t, rm, "talkback.turns", "outcome", OutcomeCompleted); got != 2 {
		t.Errorf("completed = %d, want 2", got)
	}
	if got := sumWhere(t, rm, "talkback.turns", "outcome", OutcomeCancelled); got != 1 {
		t.Errorf("cancelled = %d, want 1", got)
	}
	if got := histCount(t, rm, "talkback.turn.duration"); got != 3 {
		t.Errorf("turn duration count = %d, want 3", got)
	}
}

func TestActiveSessionsGauge(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.ActiveSessions.Add(ctx, 1)
	m.ActiveSessions.Add(ctx, 1)
	m.ActiveSessions.Add(ctx, -1)

	rm := collect(t, reader)
	met := findMetric(rm, "talkback.active_sessions")
	if met == nil {
		t.Fatal("metric not found")
	}
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok || len(sum.DataPoints) == 0 {
		t.Fatal("active_sessions has no sum data points")
	}
	if got := sum.DataPoints[0].Value; got != 1 {
		t.Errorf("active sessions = %d, want 1", got)
	}
}

func TestDefaultMetrics_ReturnsSameInstance(t *testing.T) {
	if DefaultMetrics() != DefaultMetrics() {
		t.Error("DefaultMetrics returned different pointers")
	}
}
