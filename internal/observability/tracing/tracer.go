package tracing

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// tracerName is the instrumentation scope for every span in the module.
const tracerName = "uplink"

// GetTracer returns the tracer for creating spans.
// It resolves the global provider on each call so that providers installed
// after package init (tests, cmd/server) are honoured.
//
// Example usage:
//
//	ctx, span := tracing.GetTracer().Start(ctx, "operation-name")
//	defer span.End()
func GetTracer() trace.Tracer {
	return otel.Tracer(tracerName)
}
