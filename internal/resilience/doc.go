// Package resilience provides reliability and fault tolerance patterns for the application.
// Its subpackages guard calls to the embedding and classification providers.
//
// The package supports:
//   - Circuit breakers for external API calls (embedding, classification)
//   - Retry logic with exponential backoff and jitter
//
// Usage Example:
//
//	cb := circuitbreaker.New(circuitbreaker.EmbeddingConfig("openai"))
//	vec, err := circuitbreaker.Run(cb, func() ([]float32, error) {
//	    var out []float32
//	    err := retry.WithBackoff(ctx, retry.EmbeddingConfig(), func() error {
//	        var err error
//	        out, err = callProvider(ctx)
//	        return err
//	    })
//	    return out, err
//	})
package resilience
