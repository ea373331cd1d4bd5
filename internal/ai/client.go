// Package ai wraps the external model services the pipeline depends on:
// a synchronous completion client used for cluster naming, and the
// asynchronous Message Batches service used for bulk triage classification.
// All calls go through shared retry, circuit breaker, and concurrency
// limiting so individual stages never hand-roll their own.
package ai

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"golang.org/x/sync/semaphore"
)

// Model tiering: the default model handles nothing in the hot path today
// (triage runs through the batch service at batch pricing), so the synchronous
// client mostly serves cluster naming, which is a simple task. Naming uses the
// cheap tier unless overridden.
const (
	// ModelDefault is the model for batch classification requests.
	ModelDefault = "claude-sonnet-4-5-20250929"

	// ModelSimple is the cost-efficient model for short labeling tasks.
	ModelSimple = "claude-3-5-haiku-20241022"
)

// DefaultModel returns the classification model, checking QUARRY_MODEL_DEFAULT first.
func DefaultModel() string {
	if model := os.Getenv("QUARRY_MODEL_DEFAULT"); model != "" {
		return model
	}
	return ModelDefault
}

// SimpleTaskModel returns the naming model, checking QUARRY_MODEL_SIMPLE first.
func SimpleTaskModel() string {
	if model := os.Getenv("QUARRY_MODEL_SIMPLE"); model != "" {
		return model
	}
	return ModelSimple
}

// Client is the shared Anthropic client for the pipeline. It owns the retry
// policy, circuit breaker, and the semaphore bounding concurrent API calls.
type Client struct {
	client         *anthropic.Client
	model          string
	retry          RetryConfig
	circuitBreaker *CircuitBreaker
	concurrencySem *semaphore.Weighted
}

// Config holds client configuration
type Config struct {
	APIKey string // Anthropic API key (if empty, reads from ANTHROPIC_API_KEY env var)
	Model  string // Model for batch classification (default: DefaultModel())
	Retry  RetryConfig
}

// NewClient creates the shared Anthropic client.
func NewClient(cfg *Config) (*Client, error) {
	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("ANTHROPIC_API_KEY")
		if apiKey == "" {
			return nil, fmt.Errorf("ANTHROPIC_API_KEY not set")
		}
	}

	model := cfg.Model
	if model == "" {
		model = DefaultModel()
	}

	retry := cfg.Retry
	if retry.MaxRetries == 0 {
		retry = DefaultRetryConfig()
	}

	client := anthropic.NewClient(option.WithAPIKey(apiKey))

	var circuitBreaker *CircuitBreaker
	if retry.CircuitBreakerEnabled {
		circuitBreaker = NewCircuitBreaker(retry.FailureThreshold, retry.SuccessThreshold, retry.OpenTimeout)
		slog.Info("circuit breaker initialized",
			"failure_threshold", retry.FailureThreshold,
			"success_threshold", retry.SuccessThreshold,
			"open_timeout", retry.OpenTimeout)
	}

	var concurrencySem *semaphore.Weighted
	if retry.MaxConcurrentCalls > 0 {
		concurrencySem = semaphore.NewWeighted(int64(retry.MaxConcurrentCalls))
	}

	return &Client{
		client:         &client,
		model:          model,
		retry:          retry,
		circuitBreaker: circuitBreaker,
		concurrencySem: concurrencySem,
	}, nil
}

// Model returns the configured classification model.
func (c *Client) Model() string {
	return c.model
}

// Complete makes a synchronous completion call with the given prompt.
// Stages use this for work too small to justify a batch round trip
// (cluster naming). Retries and the circuit breaker apply.
func (c *Client) Complete(ctx context.Context, prompt, operation, model string, maxTokens int) (string, error) {
	startTime := time.Now()

	if model == "" {
		model = c.model
	}
	if maxTokens == 0 {
		maxTokens = 1024
	}

	var response *anthropic.Message
	err := c.retryWithBackoff(ctx, operation, func(attemptCtx context.Context) error {
		resp, apiErr := c.client.Messages.New(attemptCtx, anthropic.MessageNewParams{
			Model:     anthropic.Model(model),
			MaxTokens: int64(maxTokens),
			Messages: []anthropic.MessageParam{
				anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
			},
		})
		if apiErr != nil {
			return apiErr
		}
		response = resp
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("anthropic API call failed: %w", err)
	}

	var responseText string
	for _, block := range response.Content {
		if block.Type == "text" {
			responseText += block.Text
		}
	}

	slog.Debug("AI call completed",
		"operation", operation,
		"model", model,
		"input_tokens", response.Usage.InputTokens,
		"output_tokens", response.Usage.OutputTokens,
		"duration", time.Since(startTime))

	return responseText, nil
}
