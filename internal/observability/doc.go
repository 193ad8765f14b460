// Package observability groups the logging, metrics, tracing and request ID
// helpers shared by the retrieval stack and its executables.
//
// Subpackages:
//   - logging: slog constructors and request-scoped loggers
//   - metrics: Prometheus business metrics
//   - tracing: OpenTelemetry spans and HTTP middleware
//   - requestid: request ID propagation through context and headers
//
// Example usage:
//
//	import (
//	    "uplink/internal/observability/logging"
//	    "uplink/internal/observability/metrics"
//	)
//
//	func main() {
//	    logger := logging.NewLogger()
//	    logger.Info("application started")
//
//	    metrics.RecordIngest("success")
//	}
package observability
