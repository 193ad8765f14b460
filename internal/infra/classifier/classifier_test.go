package classifier

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"uplink/internal/domain/entity"
	"uplink/internal/resilience/retry"
)

/* ───────── helpers ───────── */

var fastRetry = retry.Config{
	MaxAttempts:  3,
	InitialDelay: time.Millisecond,
	MaxDelay:     5 * time.Millisecond,
	Multiplier:   2,
}

func testConfig(baseURL string) Config {
	cfg := DefaultConfig("test-model")
	cfg.APIKey = "test-key"
	cfg.BaseURL = baseURL
	cfg.Timeout = 5 * time.Second
	cfg.RequestsPerSecond = 0
	return cfg
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func chatResponse(content string) map[string]any {
	return map[string]any{
		"id":     "chatcmpl-1",
		"object": "chat.completion",
		"model":  "test-model",
		"choices": []map[string]any{{
			"index":         0,
			"finish_reason": "stop",
			"message":       map[string]any{"role": "assistant", "content": content},
		}},
	}
}

func messageResponse(text string) map[string]any {
	return map[string]any{
		"id":            "msg_1",
		"type":          "message",
		"role":          "assistant",
		"model":         "test-model",
		"stop_reason":   "end_turn",
		"stop_sequence": nil,
		"content":       []map[string]any{{"type": "text", "text": text}},
		"usage":         map[string]any{"input_tokens": 12, "output_tokens": 3},
	}
}

/* ───────── 1. config ───────── */

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "defaults", mutate: func(*Config) {}},
		{name: "blank model", mutate: func(c *Config) { c.Model = " " }, wantErr: true},
		{name: "zero max tokens", mutate: func(c *Config) { c.MaxTokens = 0 }, wantErr: true},
		{name: "negative temperature", mutate: func(c *Config) { c.Temperature = -0.1 }, wantErr: true},
		{name: "temperature too high", mutate: func(c *Config) { c.Temperature = 2.5 }, wantErr: true},
		{name: "zero timeout", mutate: func(c *Config) { c.Timeout = 0 }, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig("m")
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestUserMessage(t *testing.T) {
	assert.Equal(t, "abc", userMessage("  abcdef  ", 3))
	assert.Equal(t, "abcdef", userMessage("abcdef", 0))
}

/* ───────── 2. OpenAI ───────── */

func newOpenAITest(t *testing.T, handler http.HandlerFunc) *OpenAI {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c, err := NewOpenAI(testConfig(srv.URL + "/v1"))
	require.NoError(t, err)
	c.retryConfig = fastRetry
	return c
}

func TestOpenAI_Classify_Labels(t *testing.T) {
	tests := []struct {
		answer string
		want   entity.Bias
	}{
		{"left", entity.BiasLeft},
		{"Slightly Left", entity.BiasSlightlyLeft},
		{"neutral", entity.BiasNeutral},
		{"slightly right.", entity.BiasSlightlyRight},
		{"<think>mostly sourcing from one side</think>\nright", entity.BiasRight},
		{"I cannot tell", entity.BiasNeutral},
	}
	for _, tt := range tests {
		t.Run(tt.answer, func(t *testing.T) {
			c := newOpenAITest(t, func(w http.ResponseWriter, r *http.Request) {
				writeJSON(w, http.StatusOK, chatResponse(tt.answer))
			})
			got, err := c.Classify(context.Background(), "article body")
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestOpenAI_Classify_SendsPrompt(t *testing.T) {
	var req struct {
		Model    string `json:"model"`
		Messages []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"messages"`
	}
	c := newOpenAITest(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		writeJSON(w, http.StatusOK, chatResponse("neutral"))
	})

	_, err := c.Classify(context.Background(), "  Parliament passes budget  ")
	require.NoError(t, err)

	assert.Equal(t, "test-model", req.Model)
	require.Len(t, req.Messages, 2)
	assert.Equal(t, "system", req.Messages[0].Role)
	assert.Equal(t, SystemPrompt, req.Messages[0].Content)
	assert.Equal(t, "user", req.Messages[1].Role)
	assert.Equal(t, "Parliament passes budget", req.Messages[1].Content)
}

func TestOpenAI_Classify_RetriesRateLimit(t *testing.T) {
	var calls atomic.Int32
	c := newOpenAITest(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			writeJSON(w, http.StatusTooManyRequests, map[string]any{
				"error": map[string]any{"message": "slow down", "type": "rate_limit_error"},
			})
			return
		}
		writeJSON(w, http.StatusOK, chatResponse("right"))
	})

	got, err := c.Classify(context.Background(), "article")
	require.NoError(t, err)
	assert.Equal(t, entity.BiasRight, got)
	assert.Equal(t, int32(3), calls.Load())
}

func TestOpenAI_Classify_Failure(t *testing.T) {
	c := newOpenAITest(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusUnauthorized, map[string]any{
			"error": map[string]any{"message": "invalid key", "type": "invalid_request_error"},
		})
	})

	got, err := c.Classify(context.Background(), "article")
	require.Error(t, err)
	assert.True(t, errors.Is(err, entity.ErrClassification))
	assert.Equal(t, entity.BiasNeutral, got)
}

func TestOpenAI_Classify_NoChoices(t *testing.T) {
	c := newOpenAITest(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"id": "x", "choices": []any{}})
	})

	_, err := c.Classify(context.Background(), "article")
	require.Error(t, err)
	assert.True(t, errors.Is(err, entity.ErrClassification))
	assert.Contains(t, err.Error(), "no choices")
}

func TestNewOpenAI_InvalidConfig(t *testing.T) {
	_, err := NewOpenAI(Config{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid classifier configuration")
}

/* ───────── 3. Claude ───────── */

func newClaudeTest(t *testing.T, handler http.HandlerFunc) *Claude {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c, err := NewClaude(testConfig(srv.URL))
	require.NoError(t, err)
	c.retryConfig = fastRetry
	return c
}

func TestClaude_Classify_Success(t *testing.T) {
	var body map[string]any
	c := newClaudeTest(t, func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, "/v1/messages"))
		assert.Equal(t, "test-key", r.Header.Get("X-Api-Key"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		writeJSON(w, http.StatusOK, messageResponse("slightly left"))
	})

	got, err := c.Classify(context.Background(), "article body")
	require.NoError(t, err)
	assert.Equal(t, entity.BiasSlightlyLeft, got)

	assert.Equal(t, "test-model", body["model"])
	system, ok := body["system"].([]any)
	require.True(t, ok)
	require.Len(t, system, 1)
	assert.Equal(t, SystemPrompt, system[0].(map[string]any)["text"])
}

func TestClaude_Classify_ServerErrorRetried(t *testing.T) {
	var calls atomic.Int32
	c := newClaudeTest(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			writeJSON(w, http.StatusInternalServerError, map[string]any{
				"type":  "error",
				"error": map[string]any{"type": "api_error", "message": "internal"},
			})
			return
		}
		writeJSON(w, http.StatusOK, messageResponse("left"))
	})

	got, err := c.Classify(context.Background(), "article")
	require.NoError(t, err)
	assert.Equal(t, entity.BiasLeft, got)
	assert.Equal(t, int32(2), calls.Load())
}

func TestClaude_Classify_Failure(t *testing.T) {
	var calls atomic.Int32
	c := newClaudeTest(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"type":  "error",
			"error": map[string]any{"type": "invalid_request_error", "message": "bad request"},
		})
	})

	_, err := c.Classify(context.Background(), "article")
	require.Error(t, err)
	assert.True(t, errors.Is(err, entity.ErrClassification))

	var httpErr *retry.HTTPError
	require.True(t, errors.As(err, &httpErr))
	assert.Equal(t, http.StatusBadRequest, httpErr.StatusCode)
	assert.Equal(t, int32(1), calls.Load())
}

func TestClaude_Classify_EmptyContent(t *testing.T) {
	c := newClaudeTest(t, func(w http.ResponseWriter, r *http.Request) {
		resp := messageResponse("")
		resp["content"] = []any{}
		writeJSON(w, http.StatusOK, resp)
	})

	_, err := c.Classify(context.Background(), "article")
	require.Error(t, err)
	assert.True(t, errors.Is(err, entity.ErrClassification))
}

/* ───────── 4. Noop ───────── */

func TestNoop_Classify(t *testing.T) {
	n := NewNoop()
	got, err := n.Classify(context.Background(), "anything")
	require.NoError(t, err)
	assert.Equal(t, entity.BiasNeutral, got)
	assert.Equal(t, "noop", n.Name())
}
