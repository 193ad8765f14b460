// Package circuitbreaker stops calling a provider that keeps failing, so a
// broken embedding or classification backend is not hit by every ingest and
// search. It wraps github.com/sony/gobreaker.
package circuitbreaker

import (
	"errors"
	"log/slog"
	"time"

	"github.com/sony/gobreaker"

	"uplink/internal/observability/metrics"
	"uplink/internal/resilience/retry"
)

// ErrOpen is returned while the circuit is open or the half-open trial quota
// is used up.
var ErrOpen = errors.New("circuit breaker open")

// Config describes when a circuit trips and how it recovers.
type Config struct {
	Name string

	// MinRequests calls must be seen in the current window before the
	// failure ratio is evaluated.
	MinRequests      uint32
	FailureThreshold float64 // trip when failures/requests >= this

	Interval    time.Duration // closed-state window; counts reset after it
	Timeout     time.Duration // open-state cooldown before probing
	MaxRequests uint32        // probes allowed while half-open
}

// EmbeddingConfig trips on a lower failure ratio: embeddings sit on the path
// of every ingest and uncached search.
func EmbeddingConfig(provider string) Config {
	return Config{
		Name:             "embedding-" + provider,
		MinRequests:      5,
		FailureThreshold: 0.5,
		Interval:         30 * time.Second,
		Timeout:          30 * time.Second,
		MaxRequests:      3,
	}
}

// ClassifierConfig is for bias classification calls.
func ClassifierConfig(provider string) Config {
	return Config{
		Name:             "classifier-" + provider,
		MinRequests:      5,
		FailureThreshold: 0.6,
		Interval:         30 * time.Second,
		Timeout:          60 * time.Second,
		MaxRequests:      3,
	}
}

// CircuitBreaker guards calls to one provider.
type CircuitBreaker struct {
	name    string
	breaker *gobreaker.CircuitBreaker
}

// New creates a closed circuit.
//
// Only transient failures (see retry.IsRetryable) count against the circuit:
// a rejected request means the provider is up.
func New(cfg Config) *CircuitBreaker {
	metrics.SetCircuitState(cfg.Name, stateValue(gobreaker.StateClosed))

	return &CircuitBreaker{
		name: cfg.Name,
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        cfg.Name,
			MaxRequests: cfg.MaxRequests,
			Interval:    cfg.Interval,
			Timeout:     cfg.Timeout,
			ReadyToTrip: func(c gobreaker.Counts) bool {
				return c.Requests >= cfg.MinRequests &&
					float64(c.TotalFailures)/float64(c.Requests) >= cfg.FailureThreshold
			},
			IsSuccessful: func(err error) bool {
				return err == nil || !retry.IsRetryable(err)
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				metrics.SetCircuitState(name, stateValue(to))
				slog.Warn("circuit breaker state changed",
					slog.String("circuit", name),
					slog.String("from", from.String()),
					slog.String("to", to.String()))
			},
		}),
	}
}

// Name returns the circuit name.
func (cb *CircuitBreaker) Name() string { return cb.name }

// State returns the current gobreaker state.
func (cb *CircuitBreaker) State() gobreaker.State { return cb.breaker.State() }

// Run calls fn through cb. While the circuit rejects calls it returns an
// error wrapping ErrOpen without calling fn.
func Run[T any](cb *CircuitBreaker, fn func() (T, error)) (T, error) {
	var zero T
	out, err := cb.breaker.Execute(func() (any, error) {
		return fn()
	})
	switch {
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return zero, errors.Join(ErrOpen, err)
	case err != nil:
		return zero, err
	}
	return out.(T), nil
}

func stateValue(s gobreaker.State) int {
	switch s {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return 0
	}
}
