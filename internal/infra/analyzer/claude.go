package analyzer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/google/uuid"

	"docmeta/internal/resilience/retry"
)

// DefaultClaudeModel is used when the provider is claude and no model is set.
const DefaultClaudeModel = string(anthropic.ModelClaudeSonnet4_5_20250929)

// Claude calls the Anthropic Messages API. The SDK's own retries are disabled
// so that every attempt goes through the retry executor.
type Claude struct {
	client  anthropic.Client
	cfg     Config
	limiter *RateLimiter
	metrics MetricsRecorder
	logger  *slog.Logger
}

// NewClaude creates a Claude analyzer.
func NewClaude(cfg Config, opts ...Option) *Claude {
	o := buildOptions(cfg, opts)
	if cfg.Model == "" {
		cfg.Model = DefaultClaudeModel
	}

	clientOpts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
		option.WithHTTPClient(o.httpClient),
	}
	if cfg.APIBase != "" {
		clientOpts = append(clientOpts, option.WithBaseURL(cfg.APIBase))
	}

	o.logger.Info("Initialized Claude analyzer",
		slog.String("model", cfg.Model))

	return &Claude{
		client:  anthropic.NewClient(clientOpts...),
		cfg:     cfg,
		limiter: NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst),
		metrics: o.metrics,
		logger:  o.logger,
	}
}

// Model implements Analyzer.
func (c *Claude) Model() string { return c.cfg.Model }

// Provider implements Analyzer.
func (c *Claude) Provider() string { return ProviderClaude }

// Analyze sends one Messages request for text.
func (c *Claude) Analyze(ctx context.Context, text string) (Metadata, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return Metadata{}, err
	}

	requestID := uuid.New().String()
	c.logger.InfoContext(ctx, "Starting analysis request",
		slog.String("request_id", requestID),
		slog.String("provider", ProviderClaude),
		slog.Int("input_length", len([]rune(text))))

	start := time.Now()
	message, err := c.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(c.cfg.Model),
		MaxTokens: int64(c.cfg.MaxTokens),
		System:    []anthropic.TextBlockParam{{Text: systemPrompt}},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(buildPrompt(text))),
		},
		Temperature: anthropic.Float(c.cfg.Temperature),
	})
	duration := time.Since(start)

	if err != nil {
		c.metrics.RecordRequest(ProviderClaude, "error", duration)
		c.logger.ErrorContext(ctx, "Analysis request failed",
			slog.String("request_id", requestID),
			slog.Duration("duration", duration),
			slog.String("error", err.Error()))
		return Metadata{}, fmt.Errorf("claude api error: %w", mapAnthropicError(err))
	}
	if len(message.Content) == 0 {
		c.metrics.RecordRequest(ProviderClaude, "error", duration)
		return Metadata{}, errors.New("claude api returned empty response")
	}
	block, ok := message.Content[0].AsAny().(anthropic.TextBlock)
	if !ok {
		c.metrics.RecordRequest(ProviderClaude, "error", duration)
		c.logger.ErrorContext(ctx, "Claude API returned unexpected response type",
			slog.String("request_id", requestID))
		return Metadata{}, errors.New("claude api returned unexpected response type")
	}

	md := ParseMetadata(block.Text)
	c.metrics.RecordRequest(ProviderClaude, resultLabel(md), duration)
	c.logger.InfoContext(ctx, "Analysis request completed",
		slog.String("request_id", requestID),
		slog.Float64("confidence", md.ConfidenceScore),
		slog.Duration("duration", duration))
	return md, nil
}

func mapAnthropicError(err error) error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) && apiErr.StatusCode > 0 {
		return &retry.HTTPError{StatusCode: apiErr.StatusCode, Message: apiErr.Error(), Err: err}
	}
	return err
}
