package chi

import (
	"context"

	"github.com/kailas-cloud/portfolioqa/internal/domain"
	"github.com/kailas-cloud/portfolioqa/internal/usecase/qa"
)

// Answerer is served by the QA orchestrator.
type Answerer interface {
	Answer(ctx context.Context, question string) (domain.AnswerRecord, error)
	Rebuild(ctx context.Context) (qa.IndexInfo, error)
}

// Analytics records interactions and reports on them.
type Analytics interface {
	Enabled() bool
	Record(ctx context.Context, in domain.Interaction)
	Summary(ctx context.Context, days int) (domain.AnalyticsSummary, error)
	Stats(ctx context.Context) (domain.AnalyticsStats, error)
}
