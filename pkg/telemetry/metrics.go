package telemetry

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const maxQuerySample = 256

var (
	attrConnectStep    = attribute.Key("session.connect.step")
	attrConnectOK      = attribute.Key("session.connect.ok")
	attrToolName       = attribute.Key("tool.name")
	attrToolError      = attribute.Key("tool.error")
	attrToolMalformed  = attribute.Key("tool.arguments.malformed")
	attrToolQuery      = attribute.Key("tool.query")
	attrEventType      = attribute.Key("realtime.event.type")
	attrEventDirection = attribute.Key("realtime.event.direction")
)

type metrics struct {
	connects       metric.Int64Counter
	connectLatency metric.Float64Histogram
	toolCalls      metric.Int64Counter
	toolResults    metric.Int64Histogram
	events         metric.Int64Counter
}

// ConnectData describes one Connect attempt. Step is empty on success.
type ConnectData struct {
	Step     string
	Duration time.Duration
	Error    error
}

type ToolData struct {
	Name      string
	Query     string
	Results   int
	Malformed bool
	Error     error
}

type EventData struct {
	Type     string
	Outbound bool
}

func newMetrics(m meterProvider) (*metrics, error) {
	if m == nil {
		return &metrics{}, nil
	}
	connects, err := m.Int64Counter("session.connects.total", metric.WithDescription("Realtime session connect attempts."))
	if err != nil {
		return nil, err
	}
	latency, err := m.Float64Histogram("session.connect.latency.ms", metric.WithDescription("Time from connect to negotiated session."), metric.WithUnit("ms"))
	if err != nil {
		return nil, err
	}
	toolCalls, err := m.Int64Counter("tool.calls.total", metric.WithDescription("Tool calls dispatched from the model."))
	if err != nil {
		return nil, err
	}
	results, err := m.Int64Histogram("tool.results.count", metric.WithDescription("Catalog matches per tool call."))
	if err != nil {
		return nil, err
	}
	events, err := m.Int64Counter("realtime.events.total", metric.WithDescription("Event channel frames by type and direction."))
	if err != nil {
		return nil, err
	}
	return &metrics{
		connects:       connects,
		connectLatency: latency,
		toolCalls:      toolCalls,
		toolResults:    results,
		events:         events,
	}, nil
}

func (m *metrics) RecordConnect(ctx context.Context, data ConnectData) {
	if m == nil || m.connects == nil {
		return
	}
	attrs := []attribute.KeyValue{attrConnectOK.Bool(data.Error == nil)}
	if step := strings.TrimSpace(data.Step); step != "" {
		attrs = append(attrs, attrConnectStep.String(step))
	}
	m.connects.Add(ctx, 1, metric.WithAttributes(attrs...))
	if data.Duration > 0 && m.connectLatency != nil {
		m.connectLatency.Record(ctx, float64(data.Duration.Milliseconds()), metric.WithAttributes(attrs...))
	}
}

func (m *metrics) RecordToolCall(ctx context.Context, data ToolData) {
	if m == nil || m.toolCalls == nil {
		return
	}
	attrs := []attribute.KeyValue{
		attrToolName.String(strings.TrimSpace(data.Name)),
		attrToolError.Bool(data.Error != nil),
		attrToolMalformed.Bool(data.Malformed),
	}
	m.toolCalls.Add(ctx, 1, metric.WithAttributes(attrs...))
	if m.toolResults != nil {
		m.toolResults.Record(ctx, int64(data.Results), metric.WithAttributes(attrToolName.String(strings.TrimSpace(data.Name))))
	}
}

func (m *metrics) RecordEvent(ctx context.Context, data EventData) {
	if m == nil || m.events == nil {
		return
	}
	dir := "inbound"
	if data.Outbound {
		dir = "outbound"
	}
	m.events.Add(ctx, 1, metric.WithAttributes(attrEventType.String(data.Type), attrEventDirection.String(dir)))
}

func sanitizeSample(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return ""
	}
	if utf8.RuneCountInString(value) <= maxQuerySample {
		return value
	}
	runes := []rune(value)
	return string(runes[:maxQuerySample])
}

type meterProvider interface {
	Int64Counter(name string, opts ...metric.Int64CounterOption) (metric.Int64Counter, error)
	Int64Histogram(name string, opts ...metric.Int64HistogramOption) (metric.Int64Histogram, error)
	Float64Histogram(name string, opts ...metric.Float64HistogramOption) (metric.Float64Histogram, error)
}
