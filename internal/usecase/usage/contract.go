package usage

import "github.com/kailas-cloud/portfolioqa/internal/domain"

// BudgetReader exposes the shared token budget without the ability to spend it.
type BudgetReader interface {
	Usage(period domain.UsagePeriod) (limit, used int64)
	Remaining(period domain.UsagePeriod) int64
}
