package analytics

import (
	"context"

	"github.com/kailas-cloud/portfolioqa/internal/domain"
)

// Repository is the analytics persistence contract.
type Repository interface {
	Log(ctx context.Context, in domain.Interaction) (int64, error)
	Summary(ctx context.Context, days int) (domain.AnalyticsSummary, error)
	Recent(ctx context.Context, limit int) ([]domain.Interaction, error)
	Each(ctx context.Context, days int, fn func(domain.Interaction) error) error
	Stats(ctx context.Context) (domain.AnalyticsStats, error)
}
