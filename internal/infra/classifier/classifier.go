// Package classifier estimates the political leaning of article text with a
// chat model. Each implementation asks the model for one of five labels and
// maps the answer with entity.ParseBiasLabel; unrecognized answers are neutral.
package classifier

import (
	"fmt"
	"strings"
	"time"

	"uplink/internal/utils/text"
)

// SystemPrompt instructs the model to answer with a single bias label.
const SystemPrompt = `You are a media bias analyst. Read the news article provided by the user and rate its political leaning.
Answer with exactly one of these labels and nothing else:
left
slightly left
neutral
slightly right
right`

// Config holds settings shared by the chat-model classifiers.
type Config struct {
	// APIKey authenticates against the provider.
	APIKey string

	// BaseURL overrides the provider endpoint. Empty uses the provider default.
	BaseURL string

	// Model is the chat model identifier.
	Model string

	// MaxTokens bounds the answer length. The label needs only a few tokens,
	// but reasoning models may emit a <think> block first.
	MaxTokens int

	// Temperature for sampling. Low values keep labels stable across runs.
	Temperature float32

	// Timeout bounds one Classify call including retries.
	Timeout time.Duration

	// MaxInputChars truncates article text before it is sent.
	MaxInputChars int

	// RequestsPerSecond and Burst throttle outbound requests. 0 disables throttling.
	RequestsPerSecond float64
	Burst             int
}

// DefaultConfig returns defaults for model.
func DefaultConfig(model string) Config {
	return Config{
		Model:             model,
		MaxTokens:         512,
		Temperature:       0.1,
		Timeout:           60 * time.Second,
		MaxInputChars:     10000,
		RequestsPerSecond: 2,
		Burst:             4,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Model) == "" {
		return fmt.Errorf("model cannot be empty")
	}
	if c.MaxTokens <= 0 {
		return fmt.Errorf("max tokens must be positive, got %d", c.MaxTokens)
	}
	if c.Temperature < 0 || c.Temperature > 2 {
		return fmt.Errorf("temperature must be in [0, 2], got %v", c.Temperature)
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive, got %v", c.Timeout)
	}
	return nil
}

// userMessage prepares article text for the model.
func userMessage(article string, limit int) string {
	return text.Truncate(strings.TrimSpace(article), limit)
}
