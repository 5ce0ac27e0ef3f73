// Package telemetry records voice bridge metrics and spans through OpenTelemetry.
// Exporters are configured by the host process on the global providers.
package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/sebas/voicebridge"

// Metrics holds the bridge's instruments. A nil *Metrics is valid and records nothing.
type Metrics struct {
	activeSessions   metric.Int64UpDownCounter
	sessionsOpened   metric.Int64Counter
	transitions      metric.Int64Counter
	transfers        metric.Int64Counter
	transferRequests metric.Int64Counter
	anomalies        metric.Int64Counter
	sessionDuration  metric.Float64Histogram
}

// New creates instruments on provider, or on the global provider when nil.
func New(provider metric.MeterProvider) (*Metrics, error) {
	if provider == nil {
		provider = otel.GetMeterProvider()
	}
	meter := provider.Meter(instrumentationName)

	var (
		m   Metrics
		err error
	)
	if m.activeSessions, err = meter.Int64UpDownCounter("voicebridge.sessions.active",
		metric.WithDescription("Sessions currently registered")); err != nil {
		return nil, err
	}
	if m.sessionsOpened, err = meter.Int64Counter("voicebridge.sessions.opened",
		metric.WithDescription("Sessions opened, by direction")); err != nil {
		return nil, err
	}
	if m.transitions, err = meter.Int64Counter("voicebridge.sessions.transitions",
		metric.WithDescription("State transitions, by resulting state")); err != nil {
		return nil, err
	}
	if m.transfers, err = meter.Int64Counter("voicebridge.transfers.outcomes",
		metric.WithDescription("Transfer outcomes reported by the control plane")); err != nil {
		return nil, err
	}
	if m.transferRequests, err = meter.Int64Counter("voicebridge.transfers.requests",
		metric.WithDescription("POST /transfer requests, by result")); err != nil {
		return nil, err
	}
	if m.anomalies, err = meter.Int64Counter("voicebridge.anomalies",
		metric.WithDescription("Late, duplicate or unexpected control-plane events")); err != nil {
		return nil, err
	}
	if m.sessionDuration, err = meter.Float64Histogram("voicebridge.sessions.duration",
		metric.WithDescription("Session lifetime"), metric.WithUnit("s")); err != nil {
		return nil, err
	}
	return &m, nil
}

// SessionOpened counts a newly registered session.
func (m *Metrics) SessionOpened(ctx context.Context, direction string) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("direction", direction))
	m.sessionsOpened.Add(ctx, 1, attrs)
	m.activeSessions.Add(ctx, 1)
}

// SessionClosed records a removed session and its lifetime.
func (m *Metrics) SessionClosed(ctx context.Context, direction, reason string, lifetime time.Duration) {
	if m == nil {
		return
	}
	m.activeSessions.Add(ctx, -1)
	m.sessionDuration.Record(ctx, lifetime.Seconds(), metric.WithAttributes(
		attribute.String("direction", direction),
		attribute.String("reason", reason),
	))
}

// Transition counts a state change.
func (m *Metrics) Transition(ctx context.Context, from, to string) {
	if m == nil {
		return
	}
	m.transitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("from", from),
		attribute.String("to", to),
	))
}

// TransferOutcome counts a REFER result.
func (m *Metrics) TransferOutcome(ctx context.Context, accepted bool) {
	if m == nil {
		return
	}
	result := "failed"
	if accepted {
		result = "accepted"
	}
	m.transfers.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}

// TransferRequest counts a /transfer request by result: "initiated" or an error code.
func (m *Metrics) TransferRequest(ctx context.Context, result string) {
	if m == nil {
		return
	}
	m.transferRequests.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}

// Anomaly counts an event that arrived when it should not have.
func (m *Metrics) Anomaly(ctx context.Context, kind string) {
	if m == nil {
		return
	}
	m.anomalies.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

// Tracer returns the bridge's tracer from the global provider.
func Tracer() trace.Tracer {
	return otel.Tracer(instrumentationName)
}
