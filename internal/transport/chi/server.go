package chi

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/kailas-cloud/portfolioqa/internal/domain"
	logpkg "github.com/kailas-cloud/portfolioqa/internal/logger"
	"github.com/kailas-cloud/portfolioqa/internal/metrics"
	"github.com/kailas-cloud/portfolioqa/internal/usecase/classify"
	healthuc "github.com/kailas-cloud/portfolioqa/internal/usecase/health"
	usageuc "github.com/kailas-cloud/portfolioqa/internal/usecase/usage"
)

const (
	// DefaultStatsDays is the analytics window when ?days is absent.
	DefaultStatsDays = 30
	maxStatsDays     = 365
	maxMessageBytes  = 16 << 10
)

// errorHandler tries to handle a domain error. Returns true if handled.
type errorHandler func(w http.ResponseWriter, err error, msg string) bool

// Options are the transport-level settings.
type Options struct {
	APIKeys []string
	// ContactURL marks an answer as contact-link inclusion when it appears in the text.
	ContactURL        string
	RequestsPerMinute int
	Burst             int
}

// Server serves the chat API.
type Server struct {
	qa            Answerer
	analytics     Analytics
	classifier    classify.Classifier
	usage         *usageuc.Service
	health        *healthuc.Service
	opts          Options
	limiter       *sessionLimiter
	logger        *zap.Logger
	errorHandlers []errorHandler
	now           func() time.Time
}

// NewServer creates an HTTP API server.
func NewServer(
	answerer Answerer,
	analytics Analytics,
	classifier classify.Classifier,
	usage *usageuc.Service,
	health *healthuc.Service,
	opts Options,
	logger *zap.Logger,
) *Server {
	if classifier == nil {
		classifier = classify.NewKeyword()
	}
	s := &Server{
		qa:         answerer,
		analytics:  analytics,
		classifier: classifier,
		usage:      usage,
		health:     health,
		opts:       opts,
		limiter:    newSessionLimiter(opts.RequestsPerMinute, opts.Burst),
		logger:     logger,
		now:        time.Now,
	}
	s.errorHandlers = []errorHandler{
		sentinelHandler(domain.ErrInvalidInput, http.StatusBadRequest, CodeBadRequest),
		sentinelHandler(domain.ErrRateLimited, http.StatusTooManyRequests, CodeRateLimited),
		sentinelHandler(domain.ErrQuotaExceeded, http.StatusPaymentRequired, CodeQuotaExceeded),
		sentinelHandler(domain.ErrConfiguration, http.StatusServiceUnavailable, CodeConfiguration),
		sentinelHandler(domain.ErrNotFound, http.StatusServiceUnavailable, CodeKnowledgeBase),
		sentinelHandler(domain.ErrSchema, http.StatusServiceUnavailable, CodeKnowledgeBase),
		sentinelHandler(domain.ErrEmptyResult, http.StatusServiceUnavailable, CodeKnowledgeBase),
		sentinelHandler(domain.ErrBackendUnavailable, http.StatusServiceUnavailable, CodeBackendUnavailable),
		sentinelHandler(domain.ErrIndexNotFound, http.StatusServiceUnavailable, CodeIndexUnavailable),
		sentinelHandler(domain.ErrVectorDimMismatch, http.StatusServiceUnavailable, CodeIndexUnavailable),
		sentinelHandler(domain.ErrProvider, http.StatusBadGateway, CodeProviderError),
	}
	return s
}

// Router assembles the middleware chain and the routes.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(jsonRecoverer(s.logger))
	r.Use(chiMiddleware.RequestID)
	r.Use(wideEventMiddleware(s.logger))
	r.Use(BearerAuthMiddleware(s.opts.APIKeys))
	r.Use(metrics.Middleware("/metrics"))

	r.Route("/api", func(r chi.Router) {
		r.Post("/chat", s.Chat)
		r.Post("/initialize", s.Initialize)
		r.Get("/health", s.HealthCheck)
		r.Get("/stats", s.Stats)
	})
	r.Get("/metrics", s.Metrics)

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, CodeBadRequest, "route not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, CodeBadRequest, "method not allowed")
	})
	return r
}

// Chat handles POST /api/chat.
func (s *Server) Chat(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxMessageBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, CodeBadRequest, "Invalid request body: "+err.Error())
		return
	}

	message := strings.TrimSpace(req.Message)
	if message == "" {
		writeError(w, http.StatusBadRequest, CodeBadRequest, "message is required")
		return
	}

	// Anonymous clients share a bucket per address.
	limitKey := req.SessionID
	if limitKey == "" {
		limitKey = "ip:" + clientIP(r)
	}
	if !s.limiter.Allow(limitKey) {
		w.Header().Set("Retry-After", "60")
		writeError(w, http.StatusTooManyRequests, CodeRateLimited, domain.ErrRateLimited.Error())
		return
	}

	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	ctx := logpkg.With(r.Context(), zap.String("session_id", sessionID))

	rec, err := s.qa.Answer(ctx, message)
	if err != nil {
		s.handleDomainError(w, r.WithContext(ctx), err)
		return
	}

	now := s.now().UTC()
	linkedIn := s.opts.ContactURL != "" && strings.Contains(rec.Answer, s.opts.ContactURL)

	if s.analytics != nil && s.analytics.Enabled() {
		meta := map[string]string{"request_id": chiMiddleware.GetReqID(r.Context())}
		if rec.Degraded {
			meta["degraded"] = "true"
		}
		s.analytics.Record(ctx, domain.Interaction{
			Question:         message,
			Answer:           rec.Answer,
			SourceCount:      len(rec.SourceDocuments),
			ResponseTimeMS:   rec.ResponseTimeMS(),
			SessionID:        sessionID,
			IsCareerRelated:  s.classifier.IsCareerRelated(message),
			LinkedInIncluded: linkedIn,
			Timestamp:        now,
			Metadata:         meta,
		})
	}

	sources := rec.SourceDocuments
	if sources == nil {
		sources = []domain.Document{}
	}
	writeJSON(w, http.StatusOK, ChatResponse{
		Response:       rec.Answer,
		SessionID:      sessionID,
		Timestamp:      now,
		ResponseTimeMS: rec.ResponseTimeMS(),
		Sources:        sources,
		Degraded:       rec.Degraded,
	})
}

// Initialize handles POST /api/initialize: a full rebuild from the knowledge base.
func (s *Server) Initialize(w http.ResponseWriter, r *http.Request) {
	info, err := s.qa.Rebuild(r.Context())
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, InitializeResponse{Status: "initialized", Index: info})
}

// Stats handles GET /api/stats.
func (s *Server) Stats(w http.ResponseWriter, r *http.Request) {
	days := DefaultStatsDays
	if v := r.URL.Query().Get("days"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > maxStatsDays {
			writeError(w, http.StatusBadRequest, CodeBadRequest,
				"days must be an integer between 1 and "+strconv.Itoa(maxStatsDays))
			return
		}
		days = n
	}

	resp := StatsResponse{Usage: s.usage.GetReport(r.Context())}
	if s.analytics != nil && s.analytics.Enabled() {
		sum, err := s.analytics.Summary(r.Context(), days)
		if err != nil {
			s.handleDomainError(w, r, err)
			return
		}
		resp.Analytics = &sum

		stats, err := s.analytics.Stats(r.Context())
		if err != nil {
			s.handleDomainError(w, r, err)
			return
		}
		stats.Path = ""
		resp.Database = &stats
	}
	writeJSON(w, http.StatusOK, resp)
}

// HealthCheck handles GET /api/health.
// Only an index that cannot serve makes the service unhealthy; a degraded cache still answers.
func (s *Server) HealthCheck(w http.ResponseWriter, r *http.Request) {
	report := s.health.Check(r.Context())

	httpStatus := http.StatusOK
	if report.Status == healthuc.Unhealthy {
		httpStatus = http.StatusServiceUnavailable
	}

	writeJSON(w, httpStatus, HealthResponse{
		Status: report.Status,
		Checks: report.Checks,
	})
}

// Metrics handles GET /metrics.
func (s *Server) Metrics(w http.ResponseWriter, r *http.Request) {
	promhttp.Handler().ServeHTTP(w, r)
}

func (s *Server) handleDomainError(w http.ResponseWriter, r *http.Request, err error) {
	log := s.requestLogger(r)
	log.Warn("domain error", zap.Error(err))
	msg := safeDomainMessage(err)
	for _, h := range s.errorHandlers {
		if h(w, err, msg) {
			return
		}
	}
	log.Error("internal error", zap.Error(err))
	writeError(w, http.StatusInternalServerError, CodeInternalError, "internal error")
}

func (s *Server) requestLogger(r *http.Request) *zap.Logger {
	if l := logpkg.FromContext(r.Context()); l.Core().Enabled(zap.ErrorLevel) {
		return l
	}
	return s.logger
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code ErrorCode, message string) {
	writeJSON(w, status, ErrorResponse{
		Code:    code,
		Message: message,
	})
}

// setupHints tell the operator which setting to look at.
var setupHints = map[error]string{
	domain.ErrNotFound:           "check knowledge_base.path",
	domain.ErrSchema:             "check knowledge_base.source_column and the CSV, YAML or Parquet columns",
	domain.ErrEmptyResult:        "add records to the knowledge base and call /api/initialize",
	domain.ErrBackendUnavailable: "check index.backend, index.fallback and the build tags",
	domain.ErrIndexNotFound:      "call /api/initialize to rebuild the index",
	domain.ErrVectorDimMismatch:  "the index was built with another embedding model or dimension, call /api/initialize",
}

// safeDomainMessage returns a client message without exposing internals.
// Setup errors carry the setting to fix; everything else is reduced to its sentinel.
func safeDomainMessage(err error) string {
	var cfgErr *domain.ConfigurationError
	if errors.As(err, &cfgErr) {
		return cfgErr.Error()
	}
	var schemaErr *domain.SchemaError
	if errors.As(err, &schemaErr) {
		return domain.ErrSchema.Error() + ": missing required field(s): " +
			strings.Join(schemaErr.Missing, ", ") + "; " + setupHints[domain.ErrSchema]
	}
	var mismatch *domain.BackendMismatchError
	if errors.As(err, &mismatch) {
		return "index was written by backend " + strconv.Quote(mismatch.Got) +
			", configured " + strconv.Quote(mismatch.Want) + "; call /api/initialize or set index.backend"
	}

	sentinels := []error{
		domain.ErrInvalidInput,
		domain.ErrRateLimited,
		domain.ErrQuotaExceeded,
		domain.ErrNotFound,
		domain.ErrSchema,
		domain.ErrEmptyResult,
		domain.ErrBackendUnavailable,
		domain.ErrIndexNotFound,
		domain.ErrVectorDimMismatch,
		domain.ErrProvider,
	}
	for _, sentinel := range sentinels {
		if errors.Is(err, sentinel) {
			if hint, ok := setupHints[sentinel]; ok {
				return sentinel.Error() + "; " + hint
			}
			return sentinel.Error()
		}
	}
	return "internal error"
}

// sentinelHandler returns an errorHandler that matches a single sentinel error.
func sentinelHandler(sentinel error, status int, code ErrorCode) errorHandler {
	return func(w http.ResponseWriter, err error, msg string) bool {
		if !errors.Is(err, sentinel) {
			return false
		}
		writeError(w, status, code, msg)
		return true
	}
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
