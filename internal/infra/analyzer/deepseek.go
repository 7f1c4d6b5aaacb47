package analyzer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	openai "github.com/sashabaranov/go-openai"

	"docmeta/internal/resilience/retry"
)

// DeepSeek calls the OpenAI-compatible chat completions endpoint at
// {APIBase}/v1/chat/completions.
type DeepSeek struct {
	client  *openai.Client
	cfg     Config
	limiter *RateLimiter
	metrics MetricsRecorder
	logger  *slog.Logger
}

// NewDeepSeek creates a DeepSeek analyzer.
func NewDeepSeek(cfg Config, opts ...Option) *DeepSeek {
	o := buildOptions(cfg, opts)

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	clientCfg.BaseURL = strings.TrimRight(cfg.APIBase, "/") + "/v1"
	clientCfg.HTTPClient = o.httpClient

	o.logger.Info("Initialized DeepSeek analyzer",
		slog.String("model", cfg.Model),
		slog.String("api_base", cfg.APIBase))

	return &DeepSeek{
		client:  openai.NewClientWithConfig(clientCfg),
		cfg:     cfg,
		limiter: NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst),
		metrics: o.metrics,
		logger:  o.logger,
	}
}

// Model implements Analyzer.
func (d *DeepSeek) Model() string { return d.cfg.Model }

// Provider implements Analyzer.
func (d *DeepSeek) Provider() string { return ProviderDeepSeek }

// Analyze sends one chat completion request for text.
func (d *DeepSeek) Analyze(ctx context.Context, text string) (Metadata, error) {
	if err := d.limiter.Wait(ctx); err != nil {
		return Metadata{}, err
	}

	requestID := uuid.NewString()
	d.logger.InfoContext(ctx, "Starting analysis request",
		slog.String("request_id", requestID),
		slog.String("provider", ProviderDeepSeek),
		slog.Int("input_length", len([]rune(text))))

	start := time.Now()
	resp, err := d.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: d.cfg.Model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: buildPrompt(text)},
		},
		Temperature: float32(d.cfg.Temperature),
		MaxTokens:   d.cfg.MaxTokens,
	})
	duration := time.Since(start)

	if err != nil {
		d.metrics.RecordRequest(ProviderDeepSeek, "error", duration)
		d.logger.ErrorContext(ctx, "Analysis request failed",
			slog.String("request_id", requestID),
			slog.Duration("duration", duration),
			slog.String("error", err.Error()))
		return Metadata{}, fmt.Errorf("deepseek api error: %w", mapOpenAIError(err))
	}
	if len(resp.Choices) == 0 {
		d.metrics.RecordRequest(ProviderDeepSeek, "error", duration)
		d.logger.ErrorContext(ctx, "DeepSeek API returned empty response",
			slog.String("request_id", requestID),
			slog.Duration("duration", duration))
		return Metadata{}, errors.New("deepseek api returned empty response")
	}

	md := ParseMetadata(resp.Choices[0].Message.Content)
	d.metrics.RecordRequest(ProviderDeepSeek, resultLabel(md), duration)
	d.logger.InfoContext(ctx, "Analysis request completed",
		slog.String("request_id", requestID),
		slog.Float64("confidence", md.ConfidenceScore),
		slog.Duration("duration", duration))
	return md, nil
}

// mapOpenAIError exposes the HTTP status of a go-openai error as a
// *retry.HTTPError. Transport errors pass through untouched.
func mapOpenAIError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) && apiErr.HTTPStatusCode > 0 {
		return &retry.HTTPError{StatusCode: apiErr.HTTPStatusCode, Message: apiErr.Message, Err: err}
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode > 0 {
		msg := reqErr.HTTPStatus
		if reqErr.Err != nil {
			msg = reqErr.Err.Error()
		}
		return &retry.HTTPError{StatusCode: reqErr.HTTPStatusCode, Message: msg, Err: err}
	}
	return err
}

func resultLabel(md Metadata) string {
	if md.ConfidenceScore == confidenceRawText {
		return "parse_fallback"
	}
	return "success"
}
