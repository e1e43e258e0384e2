// Package generation decorates the answer generator with budget enforcement and logging.
package generation

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/portfolioqa/internal/domain"
	"github.com/kailas-cloud/portfolioqa/internal/metrics"
)

// BudgetChecker is the local interface for budget enforcement.
type BudgetChecker interface {
	Check(ctx context.Context) error
	Record(tokens int64)
}

// InstrumentedGenerator wraps a Generator with the shared token budget.
// Transport metrics are recorded in transport/openai.
type InstrumentedGenerator struct {
	inner  domain.Generator
	model  string
	budget BudgetChecker
	logger *zap.Logger
}

// NewInstrumentedGenerator wraps a generator. budget may be nil.
func NewInstrumentedGenerator(inner domain.Generator, model string, budget BudgetChecker, logger *zap.Logger) *InstrumentedGenerator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &InstrumentedGenerator{inner: inner, model: model, budget: budget, logger: logger}
}

// Validate delegates the readiness check to the wrapped generator.
func (g *InstrumentedGenerator) Validate() error {
	return domain.Validate(g.inner)
}

// HealthCheck delegates to the wrapped generator when it supports health checks.
func (g *InstrumentedGenerator) HealthCheck(ctx context.Context) error {
	if hc, ok := g.inner.(domain.HealthChecker); ok {
		return hc.HealthCheck(ctx)
	}
	return nil
}

// Generate checks the budget, delegates, and records token usage.
// A rejected budget is reported as a generation failure.
func (g *InstrumentedGenerator) Generate(ctx context.Context, prompt string) (domain.GenerationResult, error) {
	if g.budget != nil {
		if err := g.budget.Check(ctx); err != nil {
			metrics.BudgetRejectionsTotal.WithLabelValues("generation").Inc()
			g.logger.Error("Budget exceeded (generation)", zap.String("model", g.model), zap.Error(err))
			return domain.GenerationResult{}, fmt.Errorf("budget check: %w: %w", domain.ErrGeneration, err)
		}
	}

	start := time.Now()
	res, err := g.inner.Generate(ctx, prompt)
	duration := time.Since(start)

	if err != nil {
		g.logger.Error("Generation request failed",
			zap.String("model", g.model),
			zap.Duration("duration", duration),
			zap.Error(err),
		)
		return domain.GenerationResult{}, fmt.Errorf("generate: %w", err)
	}

	if g.budget != nil && res.TotalTokens > 0 {
		g.budget.Record(int64(res.TotalTokens))
	}

	g.logger.Debug("Generation completed",
		zap.String("model", g.model),
		zap.Duration("duration", duration),
		zap.Int("prompt_chars", len(prompt)),
		zap.Int("total_tokens", res.TotalTokens),
	)
	return res, nil
}
