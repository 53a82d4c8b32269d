package websocket

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

type relayMetrics struct {
	events     metric.Int64Counter
	dropped    metric.Int64Counter
	deliveries metric.Int64Counter
}

func newRelayMetrics(registry *Registry) *relayMetrics {
	meter := otel.Meter("whiteboard-relay")

	events, _ := meter.Int64Counter("relay_events_total",
		metric.WithDescription("Inbound events handled by the relay"))
	dropped, _ := meter.Int64Counter("relay_events_dropped_total",
		metric.WithDescription("Inbound events dropped before fan-out"))
	deliveries, _ := meter.Int64Counter("relay_fanout_deliveries_total",
		metric.WithDescription("Frames queued to room members"))

	rooms, _ := meter.Int64ObservableGauge("registry_rooms",
		metric.WithDescription("Rooms with at least one live connection"))
	connections, _ := meter.Int64ObservableGauge("registry_connections",
		metric.WithDescription("Connections joined to a room"))
	_, _ = meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		o.ObserveInt64(rooms, int64(registry.RoomCount()))
		o.ObserveInt64(connections, int64(registry.ConnectionCount()))
		return nil
	}, rooms, connections)

	return &relayMetrics{events: events, dropped: dropped, deliveries: deliveries}
}

func (m *relayMetrics) handled(ctx context.Context, event string) {
	m.events.Add(ctx, 1, metric.WithAttributes(attribute.String("event", event)))
}

func (m *relayMetrics) drop(ctx context.Context, event, reason string) {
	m.dropped.Add(ctx, 1, metric.WithAttributes(
		attribute.String("event", event),
		attribute.String("reason", reason),
	))
}

func (m *relayMetrics) delivered(ctx context.Context, event string, n int) {
	m.deliveries.Add(ctx, int64(n), metric.WithAttributes(attribute.String("event", event)))
}
