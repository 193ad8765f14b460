package classifier

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/sony/gobreaker"

	"uplink/internal/domain/entity"
	"uplink/internal/observability/metrics"
	"uplink/internal/resilience/circuitbreaker"
	"uplink/internal/resilience/ratelimit"
	"uplink/internal/resilience/retry"
)

// DefaultClaudeModel is used when no model is configured for the Claude classifier.
const DefaultClaudeModel = string(anthropic.ModelClaudeSonnet4_5_20250929)

// Claude classifies text with Anthropic's Messages API.
type Claude struct {
	client         anthropic.Client
	circuitBreaker *circuitbreaker.CircuitBreaker
	retryConfig    retry.Config
	limiter        *ratelimit.Limiter
	config         Config
}

// NewClaude creates a Claude classifier. SDK-level retries are disabled so
// that retry.WithBackoff is the only retry loop.
func NewClaude(cfg Config) (*Claude, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid classifier configuration: %w", err)
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	slog.Info("Initialized Claude classifier", slog.String("model", cfg.Model))

	return &Claude{
		client:         anthropic.NewClient(opts...),
		circuitBreaker: circuitbreaker.New(circuitbreaker.ClassifierConfig("claude")),
		retryConfig:    retry.ClassifierConfig(),
		limiter:        ratelimit.New(cfg.RequestsPerSecond, cfg.Burst),
		config:         cfg,
	}, nil
}

// Name returns the provider label used in metrics.
func (c *Claude) Name() string { return "claude" }

// Classify returns the bias of article.
// Failures wrap entity.ErrClassification.
func (c *Claude) Classify(ctx context.Context, article string) (entity.Bias, error) {
	ctx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	var answer string
	err := retry.WithBackoff(ctx, c.retryConfig, func() error {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
		out, err := circuitbreaker.Run(c.circuitBreaker, func() (string, error) {
			return c.doClassify(ctx, article)
		})
		if err != nil {
			if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
				slog.Warn("classifier circuit breaker open, request rejected",
					slog.String("service", c.circuitBreaker.Name()),
					slog.String("state", c.circuitBreaker.State().String()))
				return fmt.Errorf("classifier api unavailable: %w", err)
			}
			return err
		}
		answer = out
		return nil
	})

	metrics.RecordClassification(c.Name(), err == nil)
	if err != nil {
		return entity.BiasNeutral, fmt.Errorf("%w: claude: %w", entity.ErrClassification, err)
	}
	return entity.ParseBiasLabel(answer), nil
}

func (c *Claude) doClassify(ctx context.Context, article string) (string, error) {
	start := time.Now()
	message, err := c.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:       anthropic.Model(c.config.Model),
		MaxTokens:   int64(c.config.MaxTokens),
		Temperature: anthropic.Float(float64(c.config.Temperature)),
		System:      []anthropic.TextBlockParam{{Text: SystemPrompt}},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(
				anthropic.NewTextBlock(userMessage(article, c.config.MaxInputChars)),
			),
		},
	})
	if err != nil {
		var apiErr *anthropic.Error
		if errors.As(err, &apiErr) {
			return "", &retry.HTTPError{StatusCode: apiErr.StatusCode, Message: apiErr.Error()}
		}
		return "", fmt.Errorf("claude api error: %w", err)
	}
	if len(message.Content) == 0 {
		return "", errors.New("claude api returned empty response")
	}

	block, ok := message.Content[0].AsAny().(anthropic.TextBlock)
	if !ok {
		return "", errors.New("claude api returned unexpected response type")
	}

	slog.DebugContext(ctx, "bias classified",
		slog.String("provider", c.Name()),
		slog.String("answer", block.Text),
		slog.Duration("duration", time.Since(start)))
	return block.Text, nil
}
