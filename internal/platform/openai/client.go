// Package openai adapts the OpenAI API to the indexer's Embedder and the
// extraction Provider contracts.
package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	goopenai "github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"

	apperr "github.com/hoferino/manda-platform-sub003/internal/pkg/errors"
	"github.com/hoferino/manda-platform-sub003/internal/pkg/logger"
)

type Config struct {
	APIKey        string
	BaseURL       string
	EmbedModel    string
	EmbedDim      int
	ChatModel     string
	RatePerSecond float64
	Burst         int
	Timeout       time.Duration
}

// Client is the shared, rate-limited API handle. Embedder and Extractor
// draw from the same limiter.
type Client struct {
	log     *logger.Logger
	cfg     Config
	api     *goopenai.Client
	limiter *rate.Limiter
}

func NewClient(log *logger.Logger, cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("missing OPENAI_API_KEY")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.RatePerSecond <= 0 {
		cfg.RatePerSecond = 5
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	if cfg.EmbedModel == "" {
		cfg.EmbedModel = string(goopenai.LargeEmbedding3)
	}
	if cfg.ChatModel == "" {
		cfg.ChatModel = goopenai.GPT4oMini
	}
	apiCfg := goopenai.DefaultConfig(cfg.APIKey)
	if base := strings.TrimSpace(cfg.BaseURL); base != "" {
		apiCfg.BaseURL = strings.TrimRight(base, "/")
	}
	apiCfg.HTTPClient = &http.Client{Timeout: cfg.Timeout}

	log.Info("OpenAI client configured", "embed_model", cfg.EmbedModel, "chat_model", cfg.ChatModel, "rate_per_sec", cfg.RatePerSecond)
	return &Client{
		log:     log.With("service", "OpenAIClient"),
		cfg:     cfg,
		api:     goopenai.NewClientWithConfig(apiCfg),
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSecond), cfg.Burst),
	}, nil
}

func (c *Client) wait(ctx context.Context, op string) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return apperr.Transient(op, err)
	}
	return nil
}

// classify maps API failures onto the pipeline taxonomy: throttling, server
// errors and network trouble are transient, other 4xx are permanent.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	status := 0
	var apiErr *goopenai.APIError
	var reqErr *goopenai.RequestError
	switch {
	case errors.As(err, &apiErr):
		status = apiErr.HTTPStatusCode
	case errors.As(err, &reqErr):
		status = reqErr.HTTPStatusCode
	}
	if status == 0 {
		// transport level: dial, reset, deadline
		return apperr.Transient(op, err)
	}
	if status == http.StatusTooManyRequests || status == http.StatusRequestTimeout || status >= 500 {
		return apperr.Transient(op, fmt.Errorf("openai status %d: %w", status, err))
	}
	return apperr.Permanent(op, fmt.Errorf("openai status %d: %w", status, err))
}
