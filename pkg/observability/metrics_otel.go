package observability

import (
	"context"
	"database/sql"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/platinummonkey/dataroom"

// RegisterDBPoolMetrics exports the connection pool statistics of db as
// OpenTelemetry observable gauges. The values are read on every collection
// of the global meter provider, so they only leave the process when OTel is
// enabled. Unregister the returned registration before closing db.
func RegisterDBPoolMetrics(db *sql.DB) (metric.Registration, error) {
	meter := otel.Meter(meterName)

	open, err := meter.Int64ObservableGauge(
		"db.client.connections.open",
		metric.WithDescription("Open connections in the database pool"),
		metric.WithUnit("{connection}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create open connections gauge: %w", err)
	}

	inUse, err := meter.Int64ObservableGauge(
		"db.client.connections.in_use",
		metric.WithDescription("Connections currently in use"),
		metric.WithUnit("{connection}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create in-use connections gauge: %w", err)
	}

	idle, err := meter.Int64ObservableGauge(
		"db.client.connections.idle",
		metric.WithDescription("Idle connections in the database pool"),
		metric.WithUnit("{connection}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create idle connections gauge: %w", err)
	}

	maxOpen, err := meter.Int64ObservableGauge(
		"db.client.connections.max",
		metric.WithDescription("Maximum open connections allowed"),
		metric.WithUnit("{connection}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create max connections gauge: %w", err)
	}

	waits, err := meter.Int64ObservableCounter(
		"db.client.connections.waits",
		metric.WithDescription("Total number of connections waited for"),
		metric.WithUnit("{wait}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create wait counter: %w", err)
	}

	reg, err := meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		stats := db.Stats()
		o.ObserveInt64(open, int64(stats.OpenConnections))
		o.ObserveInt64(inUse, int64(stats.InUse))
		o.ObserveInt64(idle, int64(stats.Idle))
		o.ObserveInt64(maxOpen, int64(stats.MaxOpenConnections))
		o.ObserveInt64(waits, stats.WaitCount)
		return nil
	}, open, inUse, idle, maxOpen, waits)
	if err != nil {
		return nil, fmt.Errorf("failed to register pool callback: %w", err)
	}
	return reg, nil
}
