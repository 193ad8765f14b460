package circuitbreaker

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"uplink/internal/observability/metrics"
	"uplink/internal/resilience/retry"
)

func testConfig(name string) Config {
	return Config{
		Name:             name,
		MinRequests:      4,
		FailureThreshold: 0.5,
		Interval:         time.Minute,
		Timeout:          50 * time.Millisecond,
		MaxRequests:      1,
	}
}

var transient = &retry.HTTPError{StatusCode: 503, Message: "unavailable"}

func fail(cb *CircuitBreaker, n int, err error) {
	for range n {
		_, _ = Run(cb, func() (int, error) { return 0, err })
	}
}

/* ───────── 1. Run ───────── */

func TestRun_PassesThroughResult(t *testing.T) {
	cb := New(testConfig("cb-pass"))

	got, err := Run(cb, func() ([]float32, error) { return []float32{1, 2}, nil })
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 2}, got)

	_, err = Run(cb, func() (string, error) { return "", transient })
	assert.ErrorIs(t, err, transient)
	assert.NotErrorIs(t, err, ErrOpen)

	assert.Equal(t, "cb-pass", cb.Name())
	assert.Equal(t, gobreaker.StateClosed, cb.State())
}

/* ───────── 2. state machine ───────── */

func TestCircuit_TripsOnTransientFailures(t *testing.T) {
	cb := New(testConfig("cb-trip"))

	fail(cb, 3, transient)
	assert.Equal(t, gobreaker.StateClosed, cb.State(), "below MinRequests")

	fail(cb, 1, transient)
	require.Equal(t, gobreaker.StateOpen, cb.State())
	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.CircuitState.WithLabelValues("cb-trip")))

	called := false
	_, err := Run(cb, func() (int, error) { called = true; return 1, nil })
	assert.ErrorIs(t, err, ErrOpen)
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.False(t, called, "open circuit must not call through")
}

func TestCircuit_PermanentErrorsDoNotTrip(t *testing.T) {
	cb := New(testConfig("cb-permanent"))

	fail(cb, 10, &retry.HTTPError{StatusCode: 400, Message: "bad input"})
	fail(cb, 10, errors.New("decode failed"))

	assert.Equal(t, gobreaker.StateClosed, cb.State())
}

func TestCircuit_RecoversAfterTimeout(t *testing.T) {
	cb := New(testConfig("cb-recover"))
	fail(cb, 4, transient)
	require.Equal(t, gobreaker.StateOpen, cb.State())

	time.Sleep(80 * time.Millisecond)
	assert.Equal(t, gobreaker.StateHalfOpen, cb.State())

	got, err := Run(cb, func() (string, error) { return "ok", nil })
	require.NoError(t, err)
	assert.Equal(t, "ok", got)
	assert.Equal(t, gobreaker.StateClosed, cb.State())
	assert.Equal(t, 0.0, testutil.ToFloat64(metrics.CircuitState.WithLabelValues("cb-recover")))
}

func TestCircuit_HalfOpenFailureReopens(t *testing.T) {
	cb := New(testConfig("cb-reopen"))
	fail(cb, 4, transient)
	time.Sleep(80 * time.Millisecond)

	fail(cb, 1, transient)
	assert.Equal(t, gobreaker.StateOpen, cb.State())
}

/* ───────── 3. presets ───────── */

func TestPresetConfigs(t *testing.T) {
	tests := []struct {
		cfg       Config
		wantName  string
		threshold float64
	}{
		{EmbeddingConfig("openai"), "embedding-openai", 0.5},
		{ClassifierConfig("claude"), "classifier-claude", 0.6},
	}
	for _, tt := range tests {
		t.Run(tt.wantName, func(t *testing.T) {
			assert.Equal(t, tt.wantName, tt.cfg.Name)
			assert.InDelta(t, tt.threshold, tt.cfg.FailureThreshold, 1e-9)
			assert.Positive(t, tt.cfg.MinRequests)
			assert.Positive(t, tt.cfg.Timeout)
		})
	}
}
