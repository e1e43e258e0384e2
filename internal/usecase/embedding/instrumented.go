package embedding

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/portfolioqa/internal/domain"
	logpkg "github.com/kailas-cloud/portfolioqa/internal/logger"
	"github.com/kailas-cloud/portfolioqa/internal/metrics"
)

// DefaultMaxAPIBatchSize: сколько текстов уходит в один запрос к провайдеру.
const DefaultMaxAPIBatchSize = 256

// BudgetChecker is the slice of budget.Tracker this package needs.
type BudgetChecker interface {
	Check(ctx context.Context) error
	Record(tokens int64)
	Remaining(period domain.UsagePeriod) int64
}

// InstrumentedEmbedder adds chunking, the token budget and logs around an Embedder.
// Request metrics live in transport/openai.
type InstrumentedEmbedder struct {
	inner    domain.Embedder
	provider string
	model    string
	budget   BudgetChecker
	maxBatch int
	logger   *zap.Logger
}

// NewInstrumentedEmbedder wraps an embedder with budget and observability.
func NewInstrumentedEmbedder(
	inner domain.Embedder, provider, model string,
	budget BudgetChecker, logger *zap.Logger,
) *InstrumentedEmbedder {
	return &InstrumentedEmbedder{
		inner:    inner,
		provider: provider,
		model:    model,
		budget:   budget,
		maxBatch: DefaultMaxAPIBatchSize,
		logger:   logger,
	}
}

// WithMaxBatchSize overrides the number of texts sent per API request.
func (p *InstrumentedEmbedder) WithMaxBatchSize(n int) *InstrumentedEmbedder {
	if n > 0 {
		p.maxBatch = n
	}
	return p
}

// Validate delegates the readiness check to the wrapped embedder.
func (p *InstrumentedEmbedder) Validate() error {
	return domain.Validate(p.inner)
}

// HealthCheck delegates to the wrapped embedder when it supports health checks.
func (p *InstrumentedEmbedder) HealthCheck(ctx context.Context) error {
	if hc, ok := p.inner.(domain.HealthChecker); ok {
		return hc.HealthCheck(ctx)
	}
	return nil
}

// Embed checks the budget, delegates and spends the reported tokens.
func (p *InstrumentedEmbedder) Embed(ctx context.Context, text string) (domain.EmbeddingResult, error) {
	if err := p.guard(ctx, 1); err != nil {
		return domain.EmbeddingResult{}, err
	}

	start := time.Now()
	res, err := p.inner.Embed(ctx, text)
	if err != nil {
		p.log(ctx).Error("Embedding request failed", zap.Duration("duration", time.Since(start)), zap.Error(err))
		return domain.EmbeddingResult{}, fmt.Errorf("embed: %w", err)
	}
	p.spend(res.TotalTokens)

	p.log(ctx).Debug("Embedding request completed",
		zap.Duration("duration", time.Since(start)),
		zap.Int("dimensions", len(res.Embedding)),
		zap.Int("total_tokens", res.TotalTokens),
	)
	return res, nil
}

// BatchEmbed sends texts in provider-sized chunks. The budget is checked before
// every chunk and spent after it, so a large rebuild stops at the limit.
func (p *InstrumentedEmbedder) BatchEmbed(ctx context.Context, texts []string) (domain.BatchEmbeddingResult, error) {
	if len(texts) == 0 {
		return domain.BatchEmbeddingResult{}, nil
	}

	parts := chunks(texts, p.maxBatch)
	out := domain.BatchEmbeddingResult{Embeddings: make([][]float32, 0, len(texts))}
	start := time.Now()

	for i, part := range parts {
		if err := p.guard(ctx, len(texts)-len(out.Embeddings)); err != nil {
			if i == 0 {
				return domain.BatchEmbeddingResult{}, err
			}
			return domain.BatchEmbeddingResult{}, fmt.Errorf("chunk %d/%d: %w", i+1, len(parts), err)
		}

		res, err := p.inner.BatchEmbed(ctx, part)
		if err == nil && len(res.Embeddings) != len(part) {
			err = fmt.Errorf("got %d vectors for %d texts: %w", len(res.Embeddings), len(part), domain.ErrProvider)
		}
		if err != nil {
			p.log(ctx).Error("Batch embedding request failed",
				zap.Int("chunk", i+1), zap.Int("chunks", len(parts)), zap.Int("chunk_size", len(part)), zap.Error(err))
			return domain.BatchEmbeddingResult{}, fmt.Errorf("batch embed: %w", err)
		}
		p.spend(res.TotalTokens)

		out.Embeddings = append(out.Embeddings, res.Embeddings...)
		out.PromptTokens += res.PromptTokens
		out.TotalTokens += res.TotalTokens

		if len(parts) > 1 {
			p.log(ctx).Info("Embedded chunk", zap.Int("chunk", i+1), zap.Int("chunks", len(parts)))
		}
	}

	p.log(ctx).Debug("Batch embedding completed",
		zap.Duration("duration", time.Since(start)),
		zap.Int("batch_size", len(texts)),
		zap.Int("total_tokens", out.TotalTokens),
	)
	return out, nil
}

func chunks(texts []string, size int) [][]string {
	parts := make([][]string, 0, (len(texts)+size-1)/size)
	for len(texts) > size {
		parts = append(parts, texts[:size])
		texts = texts[size:]
	}
	return append(parts, texts)
}

// log prefers the request logger so build and chat lines keep their request_id.
func (p *InstrumentedEmbedder) log(ctx context.Context) *zap.Logger {
	l := logpkg.FromContext(ctx)
	if !l.Core().Enabled(zap.ErrorLevel) {
		l = p.logger
	}
	return l.With(zap.String("provider", p.provider), zap.String("model", p.model))
}

// guard refuses the call when the shared token budget rejects it.
func (p *InstrumentedEmbedder) guard(ctx context.Context, pending int) error {
	if p.budget == nil {
		return nil
	}
	if err := p.budget.Check(ctx); err != nil {
		metrics.BudgetRejectionsTotal.WithLabelValues("embedding").Inc()
		p.log(ctx).Warn("Embedding refused by token budget", zap.Int("pending_texts", pending), zap.Error(err))
		return fmt.Errorf("budget check: %w", err)
	}
	return nil
}

func (p *InstrumentedEmbedder) spend(tokens int) {
	if p.budget == nil || tokens <= 0 {
		return
	}
	p.budget.Record(int64(tokens))
	for _, period := range []domain.UsagePeriod{domain.PeriodDay, domain.PeriodMonth} {
		metrics.BudgetTokensRemaining.WithLabelValues(string(period)).Set(float64(p.budget.Remaining(period)))
	}
}
