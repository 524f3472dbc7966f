package entity

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var tracer = otel.Tracer("github.com/go-digitaltwin/go-entity")
var meter = otel.Meter("github.com/go-digitaltwin/go-entity")

const (
	// schemaNameKey is the attribute key used to associate each record with the
	// schema of the entity being persisted or resolved. This allows analysing the
	// instruments below per schema as well as collectively.
	schemaNameKey = "entity.schema"
)

var (
	// persistCount counts the calls to Driver.Persist issued by Entity.Save. It
	// stays flat when callers save entities that are already clean.
	persistCount metric.Int64Counter
	// persistFailures counts the calls to Driver.Persist that failed.
	persistFailures metric.Int64Counter
	// resolutionDuration measures the duration of a single reference resolution,
	// from the call to Driver.FindByID until the related entity is hydrated.
	resolutionDuration metric.Float64Histogram
	// resolutionFailures counts the reference resolutions that failed.
	resolutionFailures metric.Int64Counter
)

func init() {
	var err error
	persistCount, err = meter.Int64Counter(
		"entity.persist.count",
		metric.WithDescription("The number of persist calls issued to the storage driver."),
	)
	if err != nil {
		panic("entity: failed to init 'entity.persist.count' instrument")
	}

	persistFailures, err = meter.Int64Counter(
		"entity.persist.failures",
		metric.WithDescription("The number of persist calls rejected by the storage driver."),
	)
	if err != nil {
		panic("entity: failed to init 'entity.persist.failures' instrument")
	}

	resolutionDuration, err = meter.Float64Histogram(
		"entity.resolution.duration",
		metric.WithDescription("The duration of a single reference resolution, including the fetch from the storage driver."),
		metric.WithUnit("ms"),
	)
	if err != nil {
		panic("entity: failed to init 'entity.resolution.duration' instrument")
	}

	resolutionFailures, err = meter.Int64Counter(
		"entity.resolution.failures",
		metric.WithDescription("The number of reference resolutions that have failed."),
	)
	if err != nil {
		panic("entity: failed to init 'entity.resolution.failures' instrument")
	}
}

// measurePersist records a single persist attempt against the given schema.
func measurePersist(ctx context.Context, schema string, succeeded bool) {
	attrs := attribute.NewSet(attribute.String(schemaNameKey, schema))
	persistCount.Add(ctx, 1, metric.WithAttributeSet(attrs))
	if !succeeded {
		persistFailures.Add(ctx, 1, metric.WithAttributeSet(attrs))
	}
}

// measureResolution records the duration of a successful resolution, or counts
// a failed one. Each record is labelled with the target schema.
func measureResolution(ctx context.Context, schema string, succeeded bool, d time.Duration) {
	attrs := attribute.NewSet(attribute.String(schemaNameKey, schema))
	if succeeded {
		// Floating-point division keeps sub-millisecond precision.
		duration := float64(d) / float64(time.Millisecond)
		resolutionDuration.Record(ctx, duration, metric.WithAttributeSet(attrs))
	} else {
		resolutionFailures.Add(ctx, 1, metric.WithAttributeSet(attrs))
	}
}
