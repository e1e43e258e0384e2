package chi

import (
	"time"

	"github.com/kailas-cloud/portfolioqa/internal/domain"
	healthuc "github.com/kailas-cloud/portfolioqa/internal/usecase/health"
	"github.com/kailas-cloud/portfolioqa/internal/usecase/qa"
)

// ErrorCode is the machine-readable error kind in an error response.
type ErrorCode string

const (
	CodeBadRequest         ErrorCode = "bad_request"
	CodeUnauthorized       ErrorCode = "unauthorized"
	CodeConfiguration      ErrorCode = "configuration_error"
	CodeKnowledgeBase      ErrorCode = "knowledge_base_error"
	CodeIndexUnavailable   ErrorCode = "index_unavailable"
	CodeBackendUnavailable ErrorCode = "backend_unavailable"
	CodeProviderError      ErrorCode = "embedding_provider_error"
	CodeQuotaExceeded      ErrorCode = "quota_exceeded"
	CodeRateLimited        ErrorCode = "rate_limited"
	CodeInternalError      ErrorCode = "internal_error"
)

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}

// ChatRequest is the body of POST /api/chat.
type ChatRequest struct {
	Message   string `json:"message"`
	SessionID string `json:"session_id,omitempty"`
}

// ChatResponse is the answer to one chat message.
type ChatResponse struct {
	Response       string            `json:"response"`
	SessionID      string            `json:"session_id"`
	Timestamp      time.Time         `json:"timestamp"`
	ResponseTimeMS float64           `json:"response_time_ms"`
	Sources        []domain.Document `json:"sources"`
	Degraded       bool              `json:"degraded"`
}

// InitializeResponse is returned after a forced rebuild.
type InitializeResponse struct {
	Status string       `json:"status"`
	Index  qa.IndexInfo `json:"index"`
}

// HealthResponse mirrors healthuc.Report.
type HealthResponse struct {
	Status healthuc.Status                 `json:"status"`
	Checks map[string]healthuc.CheckResult `json:"checks"`
}

// StatsResponse combines analytics with token usage.
// Analytics and Database are null when the analytics sink is disabled.
type StatsResponse struct {
	Analytics *domain.AnalyticsSummary `json:"analytics"`
	Database  *domain.AnalyticsStats   `json:"database"`
	Usage     domain.UsageReport       `json:"usage"`
}
