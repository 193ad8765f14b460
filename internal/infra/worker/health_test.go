package worker

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func serve(t *testing.T, h http.Handler, method, path string, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

/* ───────── 1. endpoints ───────── */

func TestHealthServer_Liveness(t *testing.T) {
	h := NewHealthServer(":0", nil, nil)
	rec := serve(t, h.Handler(), http.MethodGet, "/health", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestHealthServer_Readiness(t *testing.T) {
	h := NewHealthServer(":0", nil, nil)

	rec := serve(t, h.Handler(), http.MethodGet, "/health/ready", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.JSONEq(t, `{"status":"not ready"}`, rec.Body.String())

	h.SetReady(true)
	assert.True(t, h.IsReady())
	rec = serve(t, h.Handler(), http.MethodGet, "/health/ready", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	h.SetReady(false)
	rec = serve(t, h.Handler(), http.MethodGet, "/health/ready", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestHealthServer_Stats(t *testing.T) {
	tests := []struct {
		name     string
		stats    StatsFunc
		wantCode int
		wantBody string
	}{
		{
			name:     "not configured",
			stats:    nil,
			wantCode: http.StatusServiceUnavailable,
			wantBody: `{"error":"stats not available"}`,
		},
		{
			name: "ok",
			stats: func(ctx context.Context) (any, error) {
				return map[string]any{"records": 3}, nil
			},
			wantCode: http.StatusOK,
			wantBody: `{"records":3}`,
		},
		{
			name: "failure hides details",
			stats: func(ctx context.Context) (any, error) {
				return nil, errors.New("database is locked")
			},
			wantCode: http.StatusInternalServerError,
			wantBody: `{"error":"stats collection failed"}`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHealthServer(":0", nil, tt.stats)
			rec := serve(t, h.Handler(), http.MethodGet, "/stats", nil)
			assert.Equal(t, tt.wantCode, rec.Code)
			assert.JSONEq(t, tt.wantBody, rec.Body.String())
		})
	}
}

func TestHealthServer_Metrics(t *testing.T) {
	h := NewHealthServer(":0", nil, nil)
	rec := serve(t, h.Handler(), http.MethodGet, "/metrics", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestHealthServer_MethodNotAllowed(t *testing.T) {
	h := NewHealthServer(":0", nil, nil)
	rec := serve(t, h.Handler(), http.MethodPost, "/health", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

/* ───────── 2. middleware ───────── */

func TestHealthServer_RequestIDPropagated(t *testing.T) {
	var seen string
	h := NewHealthServer(":0", nil, func(ctx context.Context) (any, error) {
		return map[string]string{"ok": "yes"}, nil
	})

	rec := serve(t, h.Handler(), http.MethodGet, "/stats", map[string]string{"X-Request-ID": "req-123"})
	seen = rec.Header().Get("X-Request-ID")
	assert.Equal(t, "req-123", seen)

	rec = serve(t, h.Handler(), http.MethodGet, "/health", nil)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

/* ───────── 3. lifecycle ───────── */

func TestHealthServer_StartAndShutdown(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	h := NewHealthServer(addr, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())

	errCh := make(chan error, 1)
	go func() { errCh <- h.Start(ctx) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + addr + "/health")
		if err != nil {
			return false
		}
		defer func() { _ = resp.Body.Close() }()
		var body healthResponse
		_ = json.NewDecoder(resp.Body).Decode(&body)
		return resp.StatusCode == http.StatusOK && body.Status == "ok"
	}, 2*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, http.ErrServerClosed)
	case <-time.After(6 * time.Second):
		t.Fatal("health server did not stop")
	}
}
