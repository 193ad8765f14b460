package metrics

import "time"

// RecordWrite records the outcome and apply time of one serializer task.
// Status is "success", "failure" or "aborted".
func RecordWrite(status string, duration time.Duration) {
	WritesTotal.WithLabelValues(status).Inc()
	if status != "aborted" {
		WriteDuration.Observe(duration.Seconds())
	}
}

// RecordWriteWait records how long a task waited in the queue.
func RecordWriteWait(wait time.Duration) {
	WriteWaitDuration.Observe(wait.Seconds())
}

// SetWriteQueueDepth updates the queue depth gauge.
func SetWriteQueueDepth(depth int) {
	WriteQueueDepth.Set(float64(depth))
}

// RecordSearch records a search operation and the size of its scan.
//
// Parameters:
//   - operation: "search", "search_with_filters", "similar_articles" or "batch_search"
//   - duration: Time taken by the whole operation
//   - scanned: Records examined
//
// Example:
//
//	start := time.Now()
//	results, err := engine.Search(ctx, q, 10)
//	RecordSearch("search", time.Since(start), scanned)
func RecordSearch(operation string, duration time.Duration, scanned int) {
	SearchDuration.WithLabelValues(operation).Observe(duration.Seconds())
	SearchRecordsScanned.Set(float64(scanned))
}

// RecordSearchSkipped counts records skipped by a scan.
// Reason is "no_embedding" or "dimension_mismatch".
func RecordSearchSkipped(reason string, count int) {
	if count <= 0 {
		return
	}
	SearchRecordsSkipped.WithLabelValues(reason).Add(float64(count))
}

// RecordCacheLookup records a cache lookup result.
func RecordCacheLookup(result string) {
	CacheLookupsTotal.WithLabelValues(result).Inc()
}

// RecordCacheEvictions records entries removed by eviction.
// Reason is "expired", "corrupt" or "clear".
func RecordCacheEvictions(reason string, count int) {
	if count <= 0 {
		return
	}
	CacheEvictionsTotal.WithLabelValues(reason).Add(float64(count))
}

// RecordEmbedding records an embedder call.
func RecordEmbedding(provider string, success bool, duration time.Duration) {
	EmbeddingRequestsTotal.WithLabelValues(provider, statusLabel(success)).Inc()
	EmbeddingDuration.WithLabelValues(provider).Observe(duration.Seconds())
}

// RecordClassification records a bias classifier call.
func RecordClassification(provider string, success bool) {
	ClassificationsTotal.WithLabelValues(provider, statusLabel(success)).Inc()
}

// SetCircuitState records the state of a named circuit breaker.
func SetCircuitState(circuit string, state int) {
	CircuitState.WithLabelValues(circuit).Set(float64(state))
}

// RecordIngest records an ingestion outcome: "stored", "skipped" or "failed".
func RecordIngest(outcome string) {
	IngestTotal.WithLabelValues(outcome).Inc()
}

// UpdateRecordsTotal updates the stored record gauge.
// This gauge should be updated periodically to reflect the current state.
func UpdateRecordsTotal(count int64) {
	RecordsTotal.Set(float64(count))
}

func statusLabel(success bool) string {
	if success {
		return "success"
	}
	return "failure"
}
