package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/google/uuid"
	"github.com/sony/gobreaker"

	"marketpulse/internal/resilience/circuitbreaker"
	"marketpulse/internal/resilience/retry"
)

// ClaudeConfig holds tuning parameters for the Claude-backed LLMClient.
type ClaudeConfig struct {
	Model     string
	MaxTokens int
	Timeout   time.Duration
}

// DefaultClaudeConfig returns production defaults, matching the analysis
// usecase's per-attempt timeout of 180s.
func DefaultClaudeConfig() ClaudeConfig {
	return ClaudeConfig{
		Model:     string(anthropic.ModelClaudeSonnet4_5_20250929),
		MaxTokens: 4096,
		Timeout:   180 * time.Second,
	}
}

// Claude implements Client using Anthropic's Claude API.
type Claude struct {
	client         anthropic.Client
	circuitBreaker *circuitbreaker.CircuitBreaker
	retryConfig    retry.Config
	config         ClaudeConfig
	inputTokens    atomic.Int64
	outputTokens   atomic.Int64
}

// NewClaude builds a Claude-backed Client with the given API key.
func NewClaude(apiKey string, config ClaudeConfig) *Claude {
	return &Claude{
		client:         anthropic.NewClient(option.WithAPIKey(apiKey)),
		circuitBreaker: circuitbreaker.New(circuitbreaker.ClaudeAPIConfig()),
		retryConfig:    retry.AIAPIConfig(),
		config:         config,
	}
}

var _ Client = (*Claude)(nil)

// Complete sends a single-turn request to Claude and returns its text reply.
func (c *Claude) Complete(ctx context.Context, model, system, user string, schema *Schema) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	if model == "" {
		model = c.config.Model
	}

	var result string
	retryErr := retry.WithBackoff(ctx, c.retryConfig, func() error {
		cbResult, err := c.circuitBreaker.Execute(func() (interface{}, error) {
			return c.doComplete(ctx, model, system, user)
		})
		if err != nil {
			if errors.Is(err, gobreaker.ErrOpenState) {
				slog.Warn("claude circuit breaker open, request rejected",
					slog.String("state", c.circuitBreaker.State().String()))
				return fmt.Errorf("claude unavailable: circuit breaker open")
			}
			return err
		}
		result = cbResult.(string)
		return nil
	})
	if retryErr != nil {
		return "", fmt.Errorf("claude complete: %w", retryErr)
	}
	return result, nil
}

func (c *Claude) doComplete(ctx context.Context, model, system, user string) (string, error) {
	requestID := uuid.New().String()

	message, err := c.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: int64(c.config.MaxTokens),
		System:    []anthropic.TextBlockParam{{Text: system}},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(user)),
		},
	})
	if err != nil {
		slog.ErrorContext(ctx, "claude completion failed", slog.String("request_id", requestID), slog.Any("error", err))
		return "", err
	}

	c.inputTokens.Add(message.Usage.InputTokens)
	c.outputTokens.Add(message.Usage.OutputTokens)

	if len(message.Content) == 0 {
		return "", fmt.Errorf("claude returned empty response")
	}

	var out string
	for _, block := range message.Content {
		if textBlock, ok := block.AsAny().(anthropic.TextBlock); ok {
			out += textBlock.Text
		}
	}
	if out == "" {
		return "", fmt.Errorf("claude returned no text content")
	}
	return out, nil
}

// TokensUsed reports cumulative token counts billed through this client.
func (c *Claude) TokensUsed() (input, output int64) {
	return c.inputTokens.Load(), c.outputTokens.Load()
}
