package domain

import "time"

// UsagePeriod is the budget window a usage figure belongs to.
type UsagePeriod string

const (
	// PeriodDay is the current UTC day.
	PeriodDay UsagePeriod = "day"
	// PeriodMonth is the current UTC month.
	PeriodMonth UsagePeriod = "month"
)

// UsageWindow is token consumption against one budget window.
// TokensLimit of zero means unlimited, TokensRemaining is then -1.
type UsageWindow struct {
	Period           UsagePeriod `json:"period"`
	PeriodStart      time.Time   `json:"period_start"`
	ResetsAt         time.Time   `json:"resets_at"`
	TokensLimit      int64       `json:"tokens_limit"`
	TokensUsed       int64       `json:"tokens_used"`
	TokensRemaining  int64       `json:"tokens_remaining"`
	Exhausted        bool        `json:"exhausted"`
	EstimatedCostUSD float64     `json:"estimated_cost_usd"`
}

// UsageReport covers the daily and monthly token budgets.
type UsageReport struct {
	Daily   UsageWindow `json:"daily"`
	Monthly UsageWindow `json:"monthly"`
}
