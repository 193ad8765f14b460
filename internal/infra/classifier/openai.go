package classifier

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
)

// OpenAI classifies text with an OpenAI-compatible chat completion endpoint.
type OpenAI struct {
	client         *openai.Client
	circuitBreaker *circuitbreaker.CircuitBreaker
	retryConfig    retry.Config
	limiter        *ratelimit.Limiter
	config         Config
}

// NewOpenAI creates an OpenAI classifier.
func NewOpenAI(cfg Config) (*OpenAI, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid classifier configuration: %w", err)
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	slog.Info("Initialized OpenAI classifier",
		slog.String("model", cfg.Model),
		slog.String("base_url", clientCfg.BaseURL))

	return &OpenAI{
		client:         openai.NewClientWithConfig(clientCfg),
		circuitBreaker: circuitbreaker.New(circuitbreaker.ClassifierConfig("openai")),
		retryConfig:    retry.ClassifierConfig(),
		limiter:        ratelimit.New(cfg.RequestsPerSecond, cfg.Burst),
		config:         cfg,
	}, nil
}

// Name returns the provider label used in metrics.
func (o *OpenAI) Name() string { return "openai" }

// Classify returns the bias of article.
// Failures wrap entity.ErrClassification.
func (o *OpenAI) Classify(ctx context.Context, article string) (entity.Bias, error) {
	ctx, cancel := context.WithTimeout(ctx, o.config.Timeout)
	defer cancel()

	var answer string
	err := retry.WithBackoff(ctx, o.retryConfig, func() error {
		if err := o.limiter.Wait(ctx); err != nil {
			return err
		}
		out, err := circuitbreaker.Run(o.circuitBreaker, func() (string, error) {
			return o.doClassify(ctx, article)
		})
		if err != nil {
			if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
				slog.Warn("classifier circuit breaker open, request rejected",
					slog.String("service", o.circuitBreaker.Name()),
					slog.String("state", o.circuitBreaker.State().String()))
				return fmt.Errorf("classifier api unavailable: %w", err)
			}
			return err
		}
		answer = out
		return nil
	})

	metrics.RecordClassification(o.Name(), err == nil)
	if err != nil {
		return entity.BiasNeutral, fmt.Errorf("%w: openai: %w", entity.ErrClassification, err)
	}
	return entity.ParseBiasLabel(answer), nil
}

func (o *OpenAI) doClassify(ctx context.Context, article string) (string, error) {
	start := time.Now()
	resp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       o.config.Model,
		MaxTokens:   o.config.MaxTokens,
		Temperature: o.config.Temperature,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: SystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: userMessage(article, o.config.MaxInputChars)},
		},
	})
	if err != nil {
		return "", statusError(err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("classifier api returned no choices")
	}

	answer := resp.Choices[0].Message.Content
	slog.DebugContext(ctx, "bias classified",
		slog.String("provider", o.Name()),
		slog.String("answer", answer),
		slog.Duration("duration", time.Since(start)))
	return answer, nil
}

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
