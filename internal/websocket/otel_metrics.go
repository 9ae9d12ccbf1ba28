package websocket

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "featureflow.websocket"

// OTelMetrics records hub activity. A nil *OTelMetrics records nothing.
type OTelMetrics struct {
	connectionsTotal   metric.Int64Counter
	connectionsActive  metric.Int64UpDownCounter
	connectionDuration metric.Float64Histogram
	messagesTotal      metric.Int64Counter
	messageBytes       metric.Int64Counter
	droppedMessages    metric.Int64Counter
	triggersReceived   metric.Int64Counter
}

// NewOTelMetrics creates the hub instruments on meter, or on the global meter
// provider when meter is nil
func NewOTelMetrics(meter metric.Meter) (*OTelMetrics, error) {
	if meter == nil {
		meter = otel.Meter(meterName)
	}

	connectionsTotal, err := meter.Int64Counter(
		"websocket_connections_total",
		metric.WithDescription("Total number of WebSocket connections"),
	)
	if err != nil {
		return nil, err
	}

	connectionsActive, err := meter.Int64UpDownCounter(
		"websocket_connections_active",
		metric.WithDescription("Number of active WebSocket connections"),
	)
	if err != nil {
		return nil, err
	}

	connectionDuration, err := meter.Float64Histogram(
		"websocket_connection_duration_seconds",
		metric.WithDescription("Duration of WebSocket connections"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	messagesTotal, err := meter.Int64Counter(
		"websocket_messages_total",
		metric.WithDescription("Total number of WebSocket messages"),
	)
	if err != nil {
		return nil, err
	}

	messageBytes, err := meter.Int64Counter(
		"websocket_message_bytes_total",
		metric.WithDescription("Total bytes of WebSocket messages"),
	)
	if err != nil {
		return nil, err
	}

	droppedMessages, err := meter.Int64Counter(
		"websocket_dropped_messages_total",
		metric.WithDescription("Messages dropped because a client buffer was full"),
	)
	if err != nil {
		return nil, err
	}

	triggersReceived, err := meter.Int64Counter(
		"websocket_triggers_total",
		metric.WithDescription("Trigger messages received from clients"),
	)
	if err != nil {
		return nil, err
	}

	return &OTelMetrics{
		connectionsTotal:   connectionsTotal,
		connectionsActive:  connectionsActive,
		connectionDuration: connectionDuration,
		messagesTotal:      messagesTotal,
		messageBytes:       messageBytes,
		droppedMessages:    droppedMessages,
		triggersReceived:   triggersReceived,
	}, nil
}

// RecordConnection records a new connection
func (m *OTelMetrics) RecordConnection(ctx context.Context) {
	if m == nil {
		return
	}
	m.connectionsTotal.Add(ctx, 1)
	m.connectionsActive.Add(ctx, 1)
}

// RecordDisconnection records a closed connection and how long it lived
func (m *OTelMetrics) RecordDisconnection(ctx context.Context, duration time.Duration) {
	if m == nil {
		return
	}
	m.connectionsActive.Add(ctx, -1)
	m.connectionDuration.Record(ctx, duration.Seconds())
}

// RecordMessage records a message in direction "inbound" or "outbound"
func (m *OTelMetrics) RecordMessage(ctx context.Context, direction, messageType string, size int) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("direction", direction),
		attribute.String("message_type", messageType),
	)
	m.messagesTotal.Add(ctx, 1, attrs)
	m.messageBytes.Add(ctx, int64(size), attrs)
}

// RecordDroppedMessage records a message a slow client never received
func (m *OTelMetrics) RecordDroppedMessage(ctx context.Context, messageType string) {
	if m == nil {
		return
	}
	m.droppedMessages.Add(ctx, 1, metric.WithAttributes(attribute.String("message_type", messageType)))
}

// RecordTrigger records a client trigger and whether it was accepted
func (m *OTelMetrics) RecordTrigger(ctx context.Context, topic string, accepted bool) {
	if m == nil {
		return
	}
	m.triggersReceived.Add(ctx, 1, metric.WithAttributes(
		attribute.String("topic", topic),
		attribute.Bool("accepted", accepted),
	))
}
