package callsession

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/callbridge/callbridge/internal/callsession"

// Metrics holds the coordinator's instruments. A nil *Metrics records nothing.
type Metrics struct {
	sessionsStarted metric.Int64Counter
	sessionsEnded   metric.Int64Counter
	pushCompletions metric.Int64Counter
	commandsFailed  metric.Int64Counter
}

// NewMetrics creates the coordinator instruments on meter, or on the global
// meter provider when meter is nil.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	if meter == nil {
		meter = otel.Meter(meterName)
	}

	sessionsStarted, err := meter.Int64Counter(
		"call.sessions.started",
		metric.WithDescription("Call sessions created"),
		metric.WithUnit("{session}"),
	)
	if err != nil {
		return nil, err
	}

	sessionsEnded, err := meter.Int64Counter(
		"call.sessions.ended",
		metric.WithDescription("Call sessions returned to idle, by outcome"),
		metric.WithUnit("{session}"),
	)
	if err != nil {
		return nil, err
	}

	pushCompletions, err := meter.Int64Counter(
		"call.push.completions",
		metric.WithDescription("Push completion callbacks invoked, by result"),
		metric.WithUnit("{push}"),
	)
	if err != nil {
		return nil, err
	}

	commandsFailed, err := meter.Int64Counter(
		"call.commands.failed",
		metric.WithDescription("Failed native UI and backend commands"),
		metric.WithUnit("{command}"),
	)
	if err != nil {
		return nil, err
	}

	return &Metrics{
		sessionsStarted: sessionsStarted,
		sessionsEnded:   sessionsEnded,
		pushCompletions: pushCompletions,
		commandsFailed:  commandsFailed,
	}, nil
}

func (m *Metrics) sessionStarted() {
	if m == nil {
		return
	}
	m.sessionsStarted.Add(context.TODO(), 1)
}

func (m *Metrics) sessionEnded(outcome Outcome) {
	if m == nil {
		return
	}
	m.sessionsEnded.Add(context.TODO(), 1, metric.WithAttributes(attribute.String("outcome", string(outcome))))
}

func (m *Metrics) pushCompleted(result PushResult) {
	if m == nil {
		return
	}
	m.pushCompletions.Add(context.TODO(), 1, metric.WithAttributes(attribute.String("result", string(result))))
}

func (m *Metrics) commandFailed(target, op string) {
	if m == nil {
		return
	}
	m.commandsFailed.Add(context.TODO(), 1, metric.WithAttributes(
		attribute.String("target", target),
		attribute.String("op", op),
	))
}
