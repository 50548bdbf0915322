package analyzer

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/dshills/gauntlet/internal/config"
)

// ErrNoAPIKey is returned when the configured key variable is unset and the
// endpoint is the hosted OpenAI API.
var ErrNoAPIKey = errors.New("analyzer API key not set")

// Request is one chat completion.
type Request struct {
	Model       string
	System      string
	User        string
	MaxTokens   int
	Temperature float32
}

// Completer sends prompts to a model.
type Completer interface {
	Complete(ctx context.Context, req Request) (string, error)
}

// Client is a Completer backed by go-openai. It works with any
// OpenAI-compatible endpoint (OpenAI, Ollama, LM Studio, vLLM).
type Client struct {
	api     *openai.Client
	logger  *zap.Logger
	retries int
	backoff time.Duration
	limiter *rate.Limiter
}

// NewClient builds a client from the analyzer settings. A custom base URL
// may be used without a key.
func NewClient(cfg config.AnalyzerConfig, logger *zap.Logger) (*Client, error) {
	key := ""
	if cfg.APIKeyEnv != "" {
		key = os.Getenv(cfg.APIKeyEnv)
	}
	if key == "" && cfg.BaseURL == "" {
		return nil, fmt.Errorf("%w: set %s or analyzer.baseUrl", ErrNoAPIKey, cfg.APIKeyEnv)
	}

	oc := openai.DefaultConfig(key)
	if cfg.BaseURL != "" {
		oc.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	oc.HTTPClient = &http.Client{Timeout: timeout}

	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Client{
		api:     openai.NewClientWithConfig(oc),
		logger:  logger,
		retries: 3,
		backoff: time.Second,
	}
	if cfg.RequestsPerMinute > 0 {
		c.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.RequestsPerMinute)), 1)
	}
	return c, nil
}

// Complete sends a system and user message and returns the first choice.
// Rate limits and server errors are retried with exponential backoff.
func (c *Client) Complete(ctx context.Context, req Request) (string, error) {
	cr := openai.ChatCompletionRequest{
		Model: req.Model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: req.System},
			{Role: openai.ChatMessageRoleUser, Content: req.User},
		},
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	}

	var content string
	err := retry(ctx, c.retries, c.backoff, func() error {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return err
			}
		}
		resp, err := c.api.CreateChatCompletion(ctx, cr)
		if err != nil {
			c.logger.Debug("chat completion failed", zap.String("model", req.Model), zap.Error(err))
			return err
		}
		if len(resp.Choices) == 0 {
			return errors.New("no choices in response")
		}
		content = resp.Choices[0].Message.Content
		if strings.TrimSpace(content) == "" {
			return errors.New("empty content in response")
		}
		c.logger.Debug("chat completion",
			zap.String("model", req.Model),
			zap.Int("total_tokens", resp.Usage.TotalTokens),
			zap.String("finish_reason", string(resp.Choices[0].FinishReason)),
		)
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("chat completion (%s): %w", req.Model, err)
	}
	return content, nil
}
