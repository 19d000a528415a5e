// Package observe provides OpenTelemetry metrics and tracing for the
// backend, plus the HTTP middleware that records request latency.
//
// Instruments are created through [NewMetrics] from any metric.MeterProvider.
// Production wiring goes through [InitProvider], which installs a Prometheus
// exporter bridge; tests pass a noop or manual-reader provider.
package observe

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/medai-health/medai/backend"

// Metrics holds every instrument the service records. The OTel types are
// safe for concurrent use.
type Metrics struct {
	// ActiveSessions tracks live transcription connections.
	ActiveSessions metric.Int64UpDownCounter

	// Messages counts inbound protocol frames by attribute "type".
	Messages metric.Int64Counter

	// ProtocolErrors counts error/warning replies by attribute "kind".
	ProtocolErrors metric.Int64Counter

	// TranscriptionDuration tracks speech-to-text latency in seconds.
	TranscriptionDuration metric.Float64Histogram

	// TranscriptionRequests counts engine calls by attribute "status".
	TranscriptionRequests metric.Int64Counter

	// HTTPRequestDuration tracks request latency by "method" and "route".
	HTTPRequestDuration metric.Float64Histogram
}

// transcriptionBuckets are histogram boundaries (seconds) sized for batch
// whisper inference on utterances of a few seconds up to a few minutes.
var transcriptionBuckets = []float64{
	0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 40, 80, 160,
}

// NewMetrics creates all instruments from mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.ActiveSessions, err = m.Int64UpDownCounter("medai.ws.active_sessions",
		metric.WithDescription("Number of live transcription connections."),
	); err != nil {
		return nil, err
	}
	if met.Messages, err = m.Int64Counter("medai.ws.messages",
		metric.WithDescription("Inbound transcription protocol messages by type."),
	); err != nil {
		return nil, err
	}
	if met.ProtocolErrors, err = m.Int64Counter("medai.ws.protocol_errors",
		metric.WithDescription("Error and warning replies by kind."),
	); err != nil {
		return nil, err
	}
	if met.TranscriptionDuration, err = m.Float64Histogram("medai.transcription.duration",
		metric.WithDescription("Latency of speech-to-text transcription."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(transcriptionBuckets...),
	); err != nil {
		return nil, err
	}
	if met.TranscriptionRequests, err = m.Int64Counter("medai.transcription.requests",
		metric.WithDescription("Speech-to-text requests by status."),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("medai.http.request.duration",
		metric.WithDescription("HTTP request latency by method and route."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// RecordMessage counts one inbound frame.
func (m *Metrics) RecordMessage(ctx context.Context, msgType string) {
	m.Messages.Add(ctx, 1, metric.WithAttributes(attribute.String("type", msgType)))
}

// RecordProtocolError counts one error or warning reply.
func (m *Metrics) RecordProtocolError(ctx context.Context, kind string) {
	m.ProtocolErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

// RecordTranscription records the outcome and latency of one engine call.
func (m *Metrics) RecordTranscription(ctx context.Context, status string, elapsed time.Duration) {
	attrs := metric.WithAttributes(attribute.String("status", status))
	m.TranscriptionRequests.Add(ctx, 1, attrs)
	m.TranscriptionDuration.Record(ctx, elapsed.Seconds(), attrs)
}
