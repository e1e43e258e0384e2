package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrConfiguration signals missing or invalid credentials, models or paths.
	ErrConfiguration = errors.New("configuration error")
	// ErrNotFound signals a missing knowledge base file.
	ErrNotFound = errors.New("not found")
	// ErrSchema signals a knowledge base without the required fields.
	ErrSchema = errors.New("invalid knowledge base schema")
	// ErrEmptyResult signals a knowledge base that parsed to zero records.
	ErrEmptyResult = errors.New("knowledge base is empty")
	// ErrBackendUnavailable signals that no vector backend could serve the request.
	ErrBackendUnavailable = errors.New("vector backend unavailable")
	// ErrIndexNotFound signals a missing or unreadable persisted index.
	ErrIndexNotFound = errors.New("index not found")
	// ErrVectorDimMismatch signals a vector dimension mismatch.
	ErrVectorDimMismatch = errors.New("vector dimension mismatch")
	// ErrProvider signals an embedding provider failure.
	ErrProvider = errors.New("embedding provider error")
	// ErrGeneration signals a chat completion failure.
	ErrGeneration = errors.New("generation error")
	// ErrInvalidInput signals an empty or malformed question.
	ErrInvalidInput = errors.New("invalid input")
	// ErrRateLimited signals a rate limit hit.
	ErrRateLimited = errors.New("rate limited")
	// ErrQuotaExceeded signals an exhausted token budget.
	ErrQuotaExceeded = errors.New("token quota exceeded")
)

// ConfigurationError names the setting that prevents a feature from working.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("%s: %s %s", ErrConfiguration.Error(), e.Field, e.Reason)
}

func (e *ConfigurationError) Unwrap() error { return ErrConfiguration }

// NewConfigurationError creates a configuration error for the given setting.
func NewConfigurationError(field, reason string) error {
	return &ConfigurationError{Field: field, Reason: reason}
}

// SchemaError lists the fields a knowledge base file is missing.
type SchemaError struct {
	Path    string
	Missing []string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("%s: %s is missing required field(s): %s",
		ErrSchema.Error(), e.Path, strings.Join(e.Missing, ", "))
}

func (e *SchemaError) Unwrap() error { return ErrSchema }

// BackendMismatchError reports an index directory written by a different backend.
// It unwraps to ErrIndexNotFound: the requested index does not exist in the expected layout.
type BackendMismatchError struct {
	Dir  string
	Want string
	Got  string
}

func (e *BackendMismatchError) Error() string {
	return fmt.Sprintf("%s: %s was written by backend %q, expected %q",
		ErrIndexNotFound.Error(), e.Dir, e.Got, e.Want)
}

func (e *BackendMismatchError) Unwrap() error { return ErrIndexNotFound }
