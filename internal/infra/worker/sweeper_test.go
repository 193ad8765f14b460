package worker

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"uplink/internal/observability/requestid"
)

// モック実装
type fakeSweeper struct {
	calls   atomic.Int32
	removed int
	err     error
	lastCtx atomic.Value
}

func (f *fakeSweeper) ClearExpiredCache(ctx context.Context) (int, error) {
	f.calls.Add(1)
	f.lastCtx.Store(ctx)
	return f.removed, f.err
}

func newTestMetrics() *SweepMetrics {
	return NewSweepMetricsWith(prometheus.NewRegistry())
}

/* ───────── 1. RunOnce ───────── */

func TestSweeper_RunOnce_Success(t *testing.T) {
	target := &fakeSweeper{removed: 4}
	m := newTestMetrics()

	s, err := NewSweeper(target, "@every 1h", m, nil)
	require.NoError(t, err)
	assert.Equal(t, "@every 1h", s.Schedule())

	n, err := s.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.SweepRunsTotal.WithLabelValues("success")))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.SweepRemovedTotal))
	assert.Greater(t, testutil.ToFloat64(m.SweepLastSuccessTimestamp), 0.0)

	ctx := target.lastCtx.Load().(context.Context)
	assert.NotEmpty(t, requestid.FromContext(ctx), "each sweep runs with its own request id")
	_, hasDeadline := ctx.Deadline()
	assert.True(t, hasDeadline)
}

func TestSweeper_RunOnce_Failure(t *testing.T) {
	target := &fakeSweeper{err: errors.New("backend closed")}
	m := newTestMetrics()

	s, err := NewSweeper(target, "0 * * * *", m, nil)
	require.NoError(t, err)

	_, err = s.RunOnce(context.Background())
	require.Error(t, err)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SweepRunsTotal.WithLabelValues("failure")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.SweepRunsTotal.WithLabelValues("success")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.SweepLastSuccessTimestamp))
}

func TestSweeper_NilMetrics(t *testing.T) {
	s, err := NewSweeper(&fakeSweeper{removed: 1}, "@hourly", nil, nil)
	require.NoError(t, err)
	n, err := s.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestNewSweeper_InvalidSchedule(t *testing.T) {
	_, err := NewSweeper(&fakeSweeper{}, "every hour", nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid cron schedule")
}

/* ───────── 2. schedule ───────── */

func TestSweeper_StartRunsOnSchedule(t *testing.T) {
	target := &fakeSweeper{}
	s, err := NewSweeper(target, "@every 1s", newTestMetrics(), nil)
	require.NoError(t, err)

	s.Start()
	assert.Eventually(t, func() bool { return target.calls.Load() >= 1 }, 3*time.Second, 50*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))
}
