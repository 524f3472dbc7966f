package neo4jdriver

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

var (
	tracer = otel.Tracer("github.com/go-digitaltwin/go-entity/neo4jdriver")
	meter  = otel.Meter("github.com/go-digitaltwin/go-entity/neo4jdriver")
)

// duplicateNodes counts the lookups that found more than a single node for an
// entity. Each is followed by a panic.
var duplicateNodes metric.Int64Counter

func init() {
	var err error
	duplicateNodes, err = meter.Int64Counter("neo4j.duplicate.nodes",
		metric.WithDescription("Lookups that found more than a single node for an entity"),
		metric.WithUnit("{lookup}"),
	)
	if err != nil {
		panic("neo4jdriver: init 'neo4j.duplicate.nodes' instrument: " + err.Error())
	}
}
