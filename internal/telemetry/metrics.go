package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "research_telemetry/internal/telemetry"

type instruments struct {
	records    metric.Int64Counter
	invalids   metric.Int64Counter
	flushes    metric.Int64Counter
	flushBytes metric.Int64Histogram
}

func newInstruments(meter metric.Meter) (*instruments, error) {
	if meter == nil {
		meter = otel.Meter(instrumentationName)
	}
	records, err := meter.Int64Counter("telemetry.records",
		metric.WithDescription("Records accepted by the logger."),
		metric.WithUnit("{record}"))
	if err != nil {
		return nil, err
	}
	invalids, err := meter.Int64Counter("telemetry.invalid_records",
		metric.WithDescription("Records that failed schema validation."),
		metric.WithUnit("{record}"))
	if err != nil {
		return nil, err
	}
	flushes, err := meter.Int64Counter("telemetry.flushes",
		metric.WithDescription("Batches written to disk."),
		metric.WithUnit("{batch}"))
	if err != nil {
		return nil, err
	}
	flushBytes, err := meter.Int64Histogram("telemetry.flush.bytes",
		metric.WithDescription("Bytes written per batch."),
		metric.WithUnit("By"))
	if err != nil {
		return nil, err
	}
	return &instruments{records: records, invalids: invalids, flushes: flushes, flushBytes: flushBytes}, nil
}

func typeAttr(artifactType string) metric.MeasurementOption {
	return metric.WithAttributes(attribute.String("artifact_type", artifactType))
}

func (m *instruments) record(ctx context.Context, artifactType string) {
	m.records.Add(ctx, 1, typeAttr(artifactType))
}

func (m *instruments) invalid(ctx context.Context, artifactType string) {
	m.invalids.Add(ctx, 1, typeAttr(artifactType))
}

func (m *instruments) flushed(ctx context.Context, artifactType string, n int) {
	attr := typeAttr(artifactType)
	m.flushes.Add(ctx, 1, attr)
	m.flushBytes.Record(ctx, int64(n), attr)
}
