package portfolioqa

import "github.com/kailas-cloud/portfolioqa/internal/domain"

// Sentinel errors re-exported from the domain layer.
// Use errors.Is() to check.
var (
	ErrConfiguration      = domain.ErrConfiguration
	ErrNotFound           = domain.ErrNotFound
	ErrSchema             = domain.ErrSchema
	ErrEmptyResult        = domain.ErrEmptyResult
	ErrBackendUnavailable = domain.ErrBackendUnavailable
	ErrIndexNotFound      = domain.ErrIndexNotFound
	ErrVectorDimMismatch  = domain.ErrVectorDimMismatch
	ErrProvider           = domain.ErrProvider
	ErrGeneration         = domain.ErrGeneration
	ErrInvalidInput       = domain.ErrInvalidInput
	ErrRateLimited        = domain.ErrRateLimited
	ErrQuotaExceeded      = domain.ErrQuotaExceeded
)
