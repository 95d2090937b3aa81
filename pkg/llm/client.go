// Package llm provides completion clients for the language models used to
// write digests, answer questions, judge similarity and rewrite queries.
package llm

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/testsabirweb/slack_digest/pkg/retry"
)

// Client completes prompts.
type Client interface {
	Complete(ctx context.Context, prompt string) (string, error)
	CompleteWithSystem(ctx context.Context, system, user string) (string, error)
}

// Config selects and configures a provider.
type Config struct {
	Provider  string // anthropic, openai, gemini, ollama
	Model     string
	APIKey    string
	BaseURL   string
	MaxTokens int
	Retry     retry.Policy
}

// New creates the client named by cfg.Provider wrapped in the retry policy.
func New(ctx context.Context, cfg Config, logger *slog.Logger) (Client, error) {
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 4000
	}

	var (
		inner Client
		err   error
	)
	switch cfg.Provider {
	case "", "anthropic":
		inner, err = NewAnthropicClient(cfg)
	case "openai":
		inner, err = NewOpenAIClient(cfg)
	case "gemini":
		inner, err = NewGeminiClient(ctx, cfg)
	case "ollama":
		inner = NewOllamaClient(cfg)
	default:
		err = fmt.Errorf("unknown llm provider %q", cfg.Provider)
	}
	if err != nil {
		return nil, err
	}
	return WithRetry(inner, cfg.Retry, logger), nil
}

// Retrying retries transient failures of the wrapped client.
type Retrying struct {
	inner  Client
	policy retry.Policy
	logger *slog.Logger
}

// WithRetry wraps c so rate limits and transient errors are retried.
func WithRetry(c Client, policy retry.Policy, logger *slog.Logger) *Retrying {
	if logger == nil {
		logger = slog.Default()
	}
	return &Retrying{inner: c, policy: policy, logger: logger.With("component", "llm")}
}

func (r *Retrying) Complete(ctx context.Context, prompt string) (string, error) {
	return retry.Do(ctx, r.policy, r.logger, "llm complete", func(ctx context.Context) (string, error) {
		return r.inner.Complete(ctx, prompt)
	})
}

func (r *Retrying) CompleteWithSystem(ctx context.Context, system, user string) (string, error) {
	return retry.Do(ctx, r.policy, r.logger, "llm complete", func(ctx context.Context) (string, error) {
		return r.inner.CompleteWithSystem(ctx, system, user)
	})
}

// classifyStatus maps an HTTP failure from a provider SDK to the retry
// taxonomy: 429 waits for Retry-After, 408/409 and 5xx are transient, other
// 4xx are permanent.
func classifyStatus(err error, status int, header http.Header) error {
	switch {
	case status == http.StatusTooManyRequests:
		var wait time.Duration
		if header != nil {
			if secs, convErr := strconv.Atoi(header.Get("Retry-After")); convErr == nil {
				wait = time.Duration(secs) * time.Second
			}
		}
		return &retry.RateLimitError{RetryAfter: wait, Err: err}
	case status == http.StatusRequestTimeout || status == http.StatusConflict:
		return err
	case status >= 400 && status < 500:
		return retry.Permanent(err)
	default:
		return err
	}
}
