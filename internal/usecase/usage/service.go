package usage

import (
	"context"
	"math"
	"time"

	"github.com/kailas-cloud/portfolioqa/internal/domain"
	"github.com/kailas-cloud/portfolioqa/internal/usecase/budget"
)

// Service handles usage reporting.
type Service struct {
	br             BudgetReader
	costPerMillion float64
	now            func() time.Time
}

// New creates a Service. br can be nil (unlimited mode).
// costPerMillion prices the estimate in the report, zero disables it.
func New(br BudgetReader, costPerMillion float64) *Service {
	return &Service{br: br, costPerMillion: costPerMillion, now: time.Now}
}

// GetReport builds the daily and monthly usage windows.
func (s *Service) GetReport(_ context.Context) domain.UsageReport {
	return domain.UsageReport{
		Daily:   s.window(domain.PeriodDay),
		Monthly: s.window(domain.PeriodMonth),
	}
}

func (s *Service) window(period domain.UsagePeriod) domain.UsageWindow {
	now := s.now().UTC()
	w := domain.UsageWindow{Period: period, TokensRemaining: -1}

	w.PeriodStart = budget.PeriodStart(period, now)
	w.ResetsAt = budget.PeriodEnd(period, w.PeriodStart)
	if s.br != nil {
		w.TokensLimit, w.TokensUsed = s.br.Usage(period)
		w.TokensRemaining = s.br.Remaining(period)
	}

	w.Exhausted = w.TokensLimit > 0 && w.TokensRemaining <= 0
	if s.costPerMillion > 0 {
		cost := float64(w.TokensUsed) / 1_000_000 * s.costPerMillion
		w.EstimatedCostUSD = math.Round(cost*10000) / 10000
	}
	return w
}
