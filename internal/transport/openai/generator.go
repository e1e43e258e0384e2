package openai

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/kailas-cloud/portfolioqa/internal/domain"
	"github.com/kailas-cloud/portfolioqa/internal/metrics"
)

// Generator answers prompts with a single chat completion call. It never retries.
type Generator struct {
	client      lazyClient
	model       string
	temperature float32
	maxTokens   int
	timeout     time.Duration
	user        string
	logger      *zap.Logger
}

// GeneratorConfig holds the chat completion settings.
type GeneratorConfig struct {
	Client      ClientConfig
	Model       string
	Temperature float32
	MaxTokens   int
	Timeout     time.Duration
	User        string
	Logger      *zap.Logger
}

// NewGenerator creates a chat completion generator. No network client is built until the first request.
func NewGenerator(cfg *GeneratorConfig) *Generator {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Generator{
		client:      lazyClient{cfg: cfg.Client},
		model:       cfg.Model,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		timeout:     cfg.Timeout,
		user:        cfg.User,
		logger:      logger,
	}
}

// Validate reports missing credentials or model as a configuration error.
func (g *Generator) Validate() error {
	if err := g.client.validate(); err != nil {
		return err
	}
	if strings.TrimSpace(g.model) == "" {
		return domain.NewConfigurationError("generation.model", "is required")
	}
	return nil
}

// Generate implements domain.Generator.
func (g *Generator) Generate(ctx context.Context, prompt string) (domain.GenerationResult, error) {
	if err := g.Validate(); err != nil {
		return domain.GenerationResult{}, err
	}
	client, err := g.client.get()
	if err != nil {
		return domain.GenerationResult{}, err
	}

	req := openai.ChatCompletionRequest{
		Model:       g.model,
		Temperature: requestTemperature(g.temperature),
		MaxTokens:   g.maxTokens,
		User:        g.user,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	}

	ctx, cancel := withTimeout(ctx, g.timeout)
	defer cancel()

	start := time.Now()
	resp, err := client.CreateChatCompletion(ctx, req)
	duration := time.Since(start)

	if err != nil {
		metrics.GenerationRequestsTotal.WithLabelValues(g.model, "error").Inc()
		metrics.GenerationErrorsTotal.WithLabelValues(g.model, errorType(err)).Inc()
		return domain.GenerationResult{}, parseAPIError("chat completion", err, g.timeout, domain.ErrGeneration)
	}

	if len(resp.Choices) == 0 {
		metrics.GenerationRequestsTotal.WithLabelValues(g.model, "error").Inc()
		metrics.GenerationErrorsTotal.WithLabelValues(g.model, "empty_response").Inc()
		return domain.GenerationResult{}, fmt.Errorf("chat completion returned no choices: %w", domain.ErrGeneration)
	}

	metrics.GenerationRequestsTotal.WithLabelValues(g.model, "success").Inc()
	metrics.GenerationRequestDuration.WithLabelValues(g.model).Observe(duration.Seconds())
	if resp.Usage.TotalTokens > 0 {
		metrics.GenerationTokensTotal.WithLabelValues(g.model, "prompt").Add(float64(resp.Usage.PromptTokens))
		metrics.GenerationTokensTotal.WithLabelValues(g.model, "completion").Add(float64(resp.Usage.CompletionTokens))
		metrics.GenerationTokensTotal.WithLabelValues(g.model, "total").Add(float64(resp.Usage.TotalTokens))
	}

	g.logger.Debug("Chat completion finished",
		zap.String("model", g.model),
		zap.Duration("duration", duration),
		zap.String("finish_reason", string(resp.Choices[0].FinishReason)),
		zap.Int("total_tokens", resp.Usage.TotalTokens),
	)

	return domain.GenerationResult{
		Text:             strings.TrimSpace(resp.Choices[0].Message.Content),
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
		TotalTokens:      resp.Usage.TotalTokens,
	}, nil
}

// requestTemperature maps 0 to the smallest positive float32.
// go-openai omits a zero temperature and the API would fall back to its default of 1.
func requestTemperature(t float32) float32 {
	if t <= 0 {
		return math.SmallestNonzeroFloat32
	}
	return t
}

// HealthCheck verifies API availability via ListModels.
func (g *Generator) HealthCheck(ctx context.Context) error {
	client, err := g.client.get()
	if err != nil {
		return err
	}
	ctx, cancel := withTimeout(ctx, g.timeout)
	defer cancel()
	if _, err := client.ListModels(ctx); err != nil {
		return fmt.Errorf("list models: %w", err)
	}
	return nil
}
