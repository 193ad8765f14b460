// Package tracing provides OpenTelemetry tracing integration.
//
// The search engine, the retrieval service and the write serializer create spans
// through GetTracer. cmd/server wraps its HTTP mux with Middleware so that spans
// started while serving a request share its trace.
//
// Example usage:
//
//	ctx, span := tracing.GetTracer().Start(ctx, "search.Engine.Search")
//	defer span.End()
package tracing
