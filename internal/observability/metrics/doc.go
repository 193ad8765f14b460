// Package metrics provides Prometheus metrics registry and recording utilities.
//
// This package centralizes all application metrics:
//   - write serializer queue depth, outcomes and latency
//   - similarity search latency and scan size
//   - search cache hits, misses and evictions
//   - embedder and classifier calls
//
// All metrics are registered with the Prometheus default registry and exposed
// by cmd/server on /metrics.
package metrics
