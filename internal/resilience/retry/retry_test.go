package retry

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fast = Config{
	MaxAttempts:  3,
	InitialDelay: time.Millisecond,
	MaxDelay:     4 * time.Millisecond,
	Multiplier:   2,
}

/* ───────── 1. WithBackoff ───────── */

func TestWithBackoff(t *testing.T) {
	serverErr := &HTTPError{StatusCode: 503, Message: "unavailable"}
	badRequest := &HTTPError{StatusCode: 400, Message: "bad input"}
	plain := errors.New("boom")

	tests := []struct {
		name         string
		failures     []error // returned by successive attempts, then nil
		wantAttempts int
		wantErr      error
		wantGiveUp   bool
	}{
		{name: "first try", wantAttempts: 1},
		{name: "recovers after two 503s", failures: []error{serverErr, serverErr}, wantAttempts: 3},
		{name: "exhausts attempts", failures: []error{serverErr, serverErr, serverErr}, wantAttempts: 3, wantErr: serverErr, wantGiveUp: true},
		{name: "permanent error stops at once", failures: []error{badRequest}, wantAttempts: 1, wantErr: badRequest},
		{name: "plain error is not retried", failures: []error{plain, nil}, wantAttempts: 1, wantErr: plain},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			attempts := 0
			err := WithBackoff(context.Background(), fast, func() error {
				attempts++
				if attempts <= len(tt.failures) {
					return tt.failures[attempts-1]
				}
				return nil
			})

			assert.Equal(t, tt.wantAttempts, attempts)
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Equal(t, tt.wantGiveUp, strings.HasPrefix(err.Error(), "giving up"))
		})
	}
}

func TestWithBackoff_ZeroAttemptsRunsOnce(t *testing.T) {
	attempts := 0
	err := WithBackoff(context.Background(), Config{}, func() error {
		attempts++
		return &HTTPError{StatusCode: 500}
	})
	require.Error(t, err)
	assert.Equal(t, 1, attempts)
}

func TestWithBackoff_ContextCancelledWhileWaiting(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cfg := Config{MaxAttempts: 5, InitialDelay: time.Hour, MaxDelay: time.Hour, Multiplier: 1}

	attempts := 0
	done := make(chan error, 1)
	go func() {
		done <- WithBackoff(ctx, cfg, func() error {
			attempts++
			return &HTTPError{StatusCode: 429, Message: "slow down"}
		})
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.Error(t, err)
		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, 1, attempts)
	case <-time.After(time.Second):
		t.Fatal("WithBackoff did not observe cancellation")
	}
}

/* ───────── 2. Backoff schedule ───────── */

func TestConfig_Backoff(t *testing.T) {
	cfg := Config{InitialDelay: 100 * time.Millisecond, MaxDelay: time.Second, Multiplier: 2}

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 100 * time.Millisecond},
		{1, 100 * time.Millisecond},
		{2, 200 * time.Millisecond},
		{3, 400 * time.Millisecond},
		{4, 800 * time.Millisecond},
		{5, time.Second}, // capped
		{10, time.Second},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("attempt %d", tt.attempt), func(t *testing.T) {
			assert.Equal(t, tt.want, cfg.Backoff(tt.attempt))
		})
	}
}

func TestConfig_JitterBounds(t *testing.T) {
	cfg := Config{InitialDelay: 100 * time.Millisecond, MaxDelay: time.Second, Multiplier: 2, JitterFraction: 0.5}
	for range 50 {
		d := cfg.jittered(2)
		assert.GreaterOrEqual(t, d, 200*time.Millisecond)
		assert.LessOrEqual(t, d, 300*time.Millisecond)
	}

	cfg.JitterFraction = 0
	assert.Equal(t, 200*time.Millisecond, cfg.jittered(2))
}

func TestPresetConfigs(t *testing.T) {
	for name, cfg := range map[string]Config{
		"embedding":  EmbeddingConfig(),
		"classifier": ClassifierConfig(),
	} {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, 3, cfg.MaxAttempts)
			assert.Positive(t, cfg.InitialDelay)
			assert.GreaterOrEqual(t, cfg.MaxDelay, cfg.InitialDelay)
		})
	}
	assert.Less(t, EmbeddingConfig().InitialDelay, ClassifierConfig().InitialDelay)
}

/* ───────── 3. IsRetryable ───────── */

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

var _ net.Error = timeoutErr{}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"canceled", context.Canceled, false},
		{"deadline", fmt.Errorf("wrapped: %w", context.DeadlineExceeded), false},
		{"net timeout", timeoutErr{}, true},
		{"connection refused", fmt.Errorf("dial: %w", syscall.ECONNREFUSED), true},
		{"connection reset", syscall.ECONNRESET, true},
		{"408", &HTTPError{StatusCode: 408}, true},
		{"429", &HTTPError{StatusCode: 429}, true},
		{"500", &HTTPError{StatusCode: 500}, true},
		{"503 wrapped", fmt.Errorf("embed: %w", &HTTPError{StatusCode: 503}), true},
		{"400", &HTTPError{StatusCode: 400}, false},
		{"401", &HTTPError{StatusCode: 401}, false},
		{"404", &HTTPError{StatusCode: 404}, false},
		{"plain", errors.New("unknown"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsRetryable(tt.err))
		})
	}
}

func TestHTTPError_Error(t *testing.T) {
	err := &HTTPError{StatusCode: 502, Message: "bad gateway"}
	assert.Equal(t, "HTTP 502: bad gateway", err.Error())
}
