// Package embedder provides text embedding implementations.
// It includes an adapter for OpenAI-compatible embedding endpoints with
// reliability patterns, and a deterministic local embedder.
package embedder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"github.com/sony/gobreaker"

	"uplink/internal/domain/entity"
	"uplink/internal/observability/metrics"
	"uplink/internal/resilience/circuitbreaker"
	"uplink/internal/resilience/ratelimit"
	"uplink/internal/resilience/retry"
	"uplink/internal/utils/text"
)

// OpenAIConfig holds configuration for the OpenAI-compatible embedder.
type OpenAIConfig struct {
	// APIKey authenticates against the endpoint.
	APIKey string

	// BaseURL overrides the API root, e.g. an inference router serving
	// OpenAI-compatible embeddings. Empty uses api.openai.com.
	BaseURL string

	// Model is the embedding model identifier.
	Model string

	// Dimensions requests a reduced output size when the model supports it. 0 = model default.
	Dimensions int

	// Timeout bounds a single Embed call including retries.
	Timeout time.Duration

	// RequestsPerSecond and Burst throttle outbound requests. 0 disables throttling.
	RequestsPerSecond float64
	Burst             int

	// MaxInputChars truncates input text before it is sent.
	MaxInputChars int
}

// DefaultOpenAIConfig returns defaults for the OpenAI embedder.
func DefaultOpenAIConfig() OpenAIConfig {
	return OpenAIConfig{
		Model:             string(openai.SmallEmbedding3),
		Timeout:           30 * time.Second,
		RequestsPerSecond: 5,
		Burst:             10,
		MaxInputChars:     8000,
	}
}

// Validate checks the configuration.
func (c OpenAIConfig) Validate() error {
	if c.Model == "" {
		return errors.New("model cannot be empty")
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive, got %v", c.Timeout)
	}
	if c.Dimensions < 0 {
		return fmt.Errorf("dimensions must not be negative, got %d", c.Dimensions)
	}
	return nil
}

// OpenAI implements search.Embedder using the embeddings API.
// Calls go through a rate limiter, retry with backoff and a circuit breaker.
type OpenAI struct {
	client         *openai.Client
	circuitBreaker *circuitbreaker.CircuitBreaker
	retryConfig    retry.Config
	limiter        *ratelimit.Limiter
	config         OpenAIConfig
}

// NewOpenAI creates an OpenAI embedder.
//
// Example:
//
//	cfg := embedder.DefaultOpenAIConfig()
//	cfg.APIKey = os.Getenv("EMBEDDING_API_KEY")
//	emb, err := embedder.NewOpenAI(cfg)
func NewOpenAI(cfg OpenAIConfig) (*OpenAI, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid embedder configuration: %w", err)
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	slog.Info("Initialized OpenAI embedder",
		slog.String("model", cfg.Model),
		slog.String("base_url", clientCfg.BaseURL))

	return &OpenAI{
		client:         openai.NewClientWithConfig(clientCfg),
		circuitBreaker: circuitbreaker.New(circuitbreaker.EmbeddingConfig("openai")),
		retryConfig:    retry.EmbeddingConfig(),
		limiter:        ratelimit.New(cfg.RequestsPerSecond, cfg.Burst),
		config:         cfg,
	}, nil
}

// Name returns the provider label used in metrics.
func (o *OpenAI) Name() string { return "openai" }

// Embed returns the embedding of input.
// Failures wrap entity.ErrEmbedding.
func (o *OpenAI) Embed(ctx context.Context, input string) ([]float32, error) {
	ctx, cancel := context.WithTimeout(ctx, o.config.Timeout)
	defer cancel()

	start := time.Now()
	var vec []float32

	err := retry.WithBackoff(ctx, o.retryConfig, func() error {
		if err := o.limiter.Wait(ctx); err != nil {
			return err
		}
		out, err := circuitbreaker.Run(o.circuitBreaker, func() ([]float32, error) {
			return o.doEmbed(ctx, input)
		})
		if err != nil {
			if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
				slog.Warn("embedding circuit breaker open, request rejected",
					slog.String("service", o.circuitBreaker.Name()),
					slog.String("state", o.circuitBreaker.State().String()))
				return fmt.Errorf("embedding api unavailable: %w", err)
			}
			return err
		}
		vec = out
		return nil
	})

	duration := time.Since(start)
	metrics.RecordEmbedding(o.Name(), err == nil, duration)
	if err != nil {
		return nil, fmt.Errorf("%w: openai: %w", entity.ErrEmbedding, err)
	}
	return vec, nil
}

// doEmbed performs the API call without retry or circuit breaker.
func (o *OpenAI) doEmbed(ctx context.Context, input string) ([]float32, error) {
	input = text.Truncate(input, o.config.MaxInputChars)

	resp, err := o.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input:      []string{input},
		Model:      openai.EmbeddingModel(o.config.Model),
		Dimensions: o.config.Dimensions,
	})
	if err != nil {
		return nil, statusError(err)
	}
	if len(resp.Data) == 0 || len(resp.Data[0].Embedding) == 0 {
		return nil, errors.New("embedding api returned empty response")
	}
	return resp.Data[0].Embedding, nil
}

// statusError maps go-openai errors carrying an HTTP status to retry.HTTPError
// so that 429 and 5xx responses are retried.
func statusError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) && apiErr.HTTPStatusCode != 0 {
		return &retry.HTTPError{StatusCode: apiErr.HTTPStatusCode, Message: apiErr.Message}
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode != 0 {
		return &retry.HTTPError{StatusCode: reqErr.HTTPStatusCode, Message: reqErr.Error()}
	}
	return err
}
