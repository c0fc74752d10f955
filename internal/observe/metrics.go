// Package observe provides the observability primitives shared by the
// talkback server: OpenTelemetry metrics, tracing, trace-aware logging and
// HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API and exposed to
// Prometheus through the exporter bridge set up by [InitProvider]. Tests
// should build their own [Metrics] with [NewMetrics] and a manual reader
// instead of touching [DefaultMetrics].
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope of every talkback metric.
const meterName = "github.com/MrWong99/talkback"

// Stage labels used by the per-stage histograms and provider counters.
const (
	StageTranscribe = "transcribe"
	StageChat       = "chat"
	StageSynthesize = "synthesize"
	StageImage      = "image"
)

// Turn outcomes recorded by [Metrics.RecordTurn].
const (
	OutcomeCompleted = "completed"
	OutcomeCancelled = "cancelled"
	OutcomeFailed    = "failed"
	OutcomeEmpty     = "empty"
)

// Metrics holds all metric instruments. The OTel types handle their own
// synchronisation.
type Metrics struct {
	// Per-stage latency.
	STTDuration   metric.Float64Histogram
	ChatDuration  metric.Float64Histogram
	TTSDuration   metric.Float64Histogram
	ImageDuration metric.Float64Histogram

	// TurnDuration spans a whole turn from dispatch to its last event.
	TurnDuration metric.Float64Histogram

	// ProviderRequests counts backend calls. Attributes: stage, status.
	ProviderRequests metric.Int64Counter

	// ProviderErrors counts failed backend calls. Attributes: stage.
	ProviderErrors metric.Int64Counter

	// Turns counts finished turns. Attributes: outcome.
	Turns metric.Int64Counter

	// SentencesFlushed counts sentences sent to synthesis.
	SentencesFlushed metric.Int64Counter

	// ActiveSessions is the number of connected websocket sessions.
	ActiveSessions metric.Int64UpDownCounter

	// HTTPRequestDuration is recorded by [Middleware]. Attributes: method, path.
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets are histogram boundaries in seconds sized for backend calls
// that range from a few milliseconds to the 30s timeout.
var latencyBuckets = []float64{
	0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 30,
}

// NewMetrics creates every instrument on mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	hist := func(name, desc string) (metric.Float64Histogram, error) {
		return m.Float64Histogram(name,
			metric.WithDescription(desc),
			metric.WithUnit("s"),
			metric.WithExplicitBucketBoundaries(latencyBuckets...),
		)
	}

	if met.STTDuration, err = hist("talkback.stt.duration", "Latency of speech transcription."); err != nil {
		return nil, err
	}
	if met.ChatDuration, err = hist("talkback.chat.duration", "Latency of a complete chat stream."); err != nil {
		return nil, err
	}
	if met.TTSDuration, err = hist("talkback.tts.duration", "Latency of sentence synthesis."); err != nil {
		return nil, err
	}
	if met.ImageDuration, err = hist("talkback.image.duration", "Latency of image generation."); err != nil {
		return nil, err
	}
	if met.TurnDuration, err = hist("talkback.turn.duration", "Wall time of a turn from dispatch to completion."); err != nil {
		return nil, err
	}

	if met.ProviderRequests, err = m.Int64Counter("talkback.provider.requests",
		metric.WithDescription("Backend calls by stage and status."),
	); err != nil {
		return nil, err
	}
	if met.ProviderErrors, err = m.Int64Counter("talkback.provider.errors",
		metric.WithDescription("Failed backend calls by stage."),
	); err != nil {
		return nil, err
	}
	if met.Turns, err = m.Int64Counter("talkback.turns",
		metric.WithDescription("Finished turns by outcome."),
	); err != nil {
		return nil, err
	}
	if met.SentencesFlushed, err = m.Int64Counter("talkback.sentences.flushed",
		metric.WithDescription("Sentences emitted and sent to synthesis."),
	); err != nil {
		return nil, err
	}

	if met.ActiveSessions, err = m.Int64UpDownCounter("talkback.active_sessions",
		metric.WithDescription("Number of connected sessions."),
	); err != nil {
		return nil, err
	}

	if met.HTTPRequestDuration, err = m.Float64Histogram("talkback.http.request.duration",
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

// DefaultMetrics returns the package-level [Metrics], created on first use
// from [otel.GetMeterProvider]. Call [InitProvider] before the first call so
// the instruments bind to the Prometheus bridge.
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

// Attr is shorthand for [attribute.String].
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordStage records the latency of one backend call and counts it as a
// provider request. A non-nil err also increments ProviderErrors.
func (m *Metrics) RecordStage(ctx context.Context, stage string, d time.Duration, err error) {
	status := "ok"
	if err != nil {
		status = "error"
		m.ProviderErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("stage", stage)))
	}
	m.ProviderRequests.Add(ctx, 1, metric.WithAttributes(
		attribute.String("stage", stage),
		attribute.String("status", status),
	))

	var h metric.Float64Histogram
	switch stage {
	case StageTranscribe:
		h = m.STTDuration
	case StageChat:
		h = m.ChatDuration
	case StageSynthesize:
		h = m.TTSDuration
	case StageImage:
		h = m.ImageDuration
	default:
		return
	}
	h.Record(ctx, d.Seconds())
}

// RecordTurn counts a finished turn and records its duration.
func (m *Metrics) RecordTurn(ctx context.Context, outcome string, d time.Duration) {
	attrs := metric.WithAttributes(attribute.String("outcome", outcome))
	m.Turns.Add(ctx, 1, attrs)
	m.TurnDuration.Record(ctx, d.Seconds(), attrs)
}
