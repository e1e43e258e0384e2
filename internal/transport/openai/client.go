package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/kailas-cloud/portfolioqa/internal/domain"
)

// ClientConfig holds the credentials shared by the embedder and the generator.
type ClientConfig struct {
	APIKey  string
	BaseURL string
	// HTTPClient overrides the transport (tests, proxies).
	HTTPClient *http.Client
}

// lazyClient builds the go-openai client on first use so a missing key
// never blocks startup.
type lazyClient struct {
	cfg    ClientConfig
	mu     sync.Mutex
	client *openai.Client
}

func (l *lazyClient) validate() error {
	if strings.TrimSpace(l.cfg.APIKey) == "" {
		return domain.NewConfigurationError("openai.api_key", "is required (set OPENAI_API_KEY)")
	}
	return nil
}

func (l *lazyClient) get() (*openai.Client, error) {
	if err := l.validate(); err != nil {
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.client != nil {
		return l.client, nil
	}

	clientCfg := openai.DefaultConfig(l.cfg.APIKey)
	if l.cfg.BaseURL != "" {
		clientCfg.BaseURL = l.cfg.BaseURL
	}
	if l.cfg.HTTPClient != nil {
		clientCfg.HTTPClient = l.cfg.HTTPClient
	}
	l.client = openai.NewClientWithConfig(clientCfg)
	return l.client, nil
}

// withTimeout bounds one remote call. A zero timeout keeps the caller's deadline.
func withTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}

// errorType classifies a failure for the error_type metric label.
func errorType(err error) string {
	var reqErr *openai.RequestError
	var apiErr *openai.APIError
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.As(err, &apiErr) && apiErr.HTTPStatusCode == http.StatusTooManyRequests,
		errors.As(err, &reqErr) && reqErr.HTTPStatusCode == http.StatusTooManyRequests:
		return "rate_limited"
	case errors.As(err, &apiErr) && (apiErr.HTTPStatusCode == http.StatusUnauthorized || apiErr.HTTPStatusCode == http.StatusForbidden):
		return "auth"
	default:
		return "api_error"
	}
}

// apiError is a provider failure with a readable message. It unwraps to both
// the domain sentinel and the go-openai cause.
type apiError struct {
	msg      string
	sentinel error
	cause    error
}

func (e *apiError) Error() string   { return e.msg }
func (e *apiError) Unwrap() []error { return []error{e.sentinel, e.cause} }

// parseAPIError extracts a human-readable error from the API response and
// wraps it with the given sentinel.
func parseAPIError(kind string, err error, timeout time.Duration, wrap error) error {
	e := &apiError{sentinel: wrap, cause: err}

	var reqErr *openai.RequestError
	var apiErr *openai.APIError
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		e.msg = fmt.Sprintf("%s request timed out after %s", kind, timeout)
	case errors.As(err, &reqErr):
		detail := extractDetail(reqErr.Body)
		if detail == "" {
			detail = string(reqErr.Body)
		}
		e.msg = fmt.Sprintf("%s API error %d: %s", kind, reqErr.HTTPStatusCode, detail)
	case errors.As(err, &apiErr):
		e.msg = fmt.Sprintf("%s API error %d: %s", kind, apiErr.HTTPStatusCode, apiErr.Message)
	default:
		e.msg = fmt.Sprintf("%s request failed: %v", kind, err)
	}
	e.msg += ": " + wrap.Error()
	return e
}

// extractDetail extracts the "detail" field from a JSON error body (OpenAI-compatible proxies).
func extractDetail(body []byte) string {
	var parsed struct {
		Detail string `json:"detail"`
	}
	if json.Unmarshal(body, &parsed) == nil && parsed.Detail != "" {
		return parsed.Detail
	}
	return ""
}
