package llmclient

import (
	"context"
	"errors"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/samber/lo"
	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"portfolio-oracle/config"
	"portfolio-oracle/web/types"
)

// Params are the per-call generation parameters.
type Params struct {
	MaxTokens   int
	Temperature float64
}

// Client is an OpenAI-compatible chat completion provider.
type Client struct {
	cfg    *config.Config
	api    *openai.Client
	logger *zap.Logger
	sleep  func(ctx context.Context, d time.Duration) error
}

func New(cfg *config.Config, logger *zap.Logger) *Client {
	apiCfg := openai.DefaultConfig(cfg.OpenAIAPIKey)
	if cfg.OpenAIBaseURL != "" {
		apiCfg.BaseURL = cfg.OpenAIBaseURL
	}
	return &Client{
		cfg:    cfg,
		api:    openai.NewClientWithConfig(apiCfg),
		logger: logger,
		sleep:  sleepContext,
	}
}

// Configured reports whether an API key is present.
func (c *Client) Configured() bool {
	return strings.TrimSpace(c.cfg.OpenAIAPIKey) != ""
}

// Complete performs a non-streaming chat completion. Rate-limit and network
// failures are retried with backoff up to MaxRetries attempts; every failure
// is returned as a *CompletionError.
func (c *Client) Complete(ctx context.Context, turns []types.Turn, params Params) (string, error) {
	if !c.Configured() {
		return "", &CompletionError{Kind: KindAuth, Err: errors.New("no API key configured")}
	}

	req := openai.ChatCompletionRequest{
		Model:       c.cfg.LLMModel,
		MaxTokens:   params.MaxTokens,
		Temperature: float32(params.Temperature),
		Messages: lo.Map(turns, func(t types.Turn, _ int) openai.ChatCompletionMessage {
			return openai.ChatCompletionMessage{Role: t.Role, Content: t.Content}
		}),
	}

	attempts := max(c.cfg.MaxRetries, 1)
	var lastErr *CompletionError
	for attempt := 0; attempt < attempts; attempt++ {
		resp, err := c.api.CreateChatCompletion(ctx, req)
		if err == nil {
			if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
				return "", &CompletionError{Kind: KindMalformed, Err: errors.New("no response choices from completion provider")}
			}
			c.logger.Debug("Completion succeeded",
				zap.String("model", resp.Model),
				zap.Int("total_tokens", resp.Usage.TotalTokens),
				zap.Int("attempt", attempt+1))
			return resp.Choices[0].Message.Content, nil
		}

		lastErr = classify(err)
		// Do not retry on context cancellation/deadline
		if ctx.Err() != nil || !lastErr.Retryable() {
			return "", lastErr
		}
		if attempt == attempts-1 {
			break
		}

		c.logger.Warn("Completion failed, retrying",
			zap.String("kind", string(lastErr.Kind)),
			zap.Int("attempt", attempt+1),
			zap.Error(err))
		if err := c.sleep(ctx, c.backoff(attempt)); err != nil {
			return "", classify(err)
		}
	}
	return "", lastErr
}

func (c *Client) backoff(attempt int) time.Duration {
	// Exponential backoff with jitter and cap
	base := c.cfg.RetryDelaySeconds
	if base <= 0 {
		base = time.Second
	}
	d := base * time.Duration(1<<attempt)
	maxWait := c.cfg.LLMBackoffMaxSeconds
	if maxWait > 0 && d > maxWait {
		d = maxWait
	}
	jitter := time.Duration(float64(d) * 0.1)
	if jitter <= 0 {
		return d
	}
	return d - jitter + time.Duration(rand.Int64N(int64(2*jitter+1)))
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
