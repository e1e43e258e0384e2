// Package qa answers questions over the knowledge base: index readiness,
// retrieval, prompt assembly and generation.
package qa

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/kailas-cloud/portfolioqa/internal/domain"
	"github.com/kailas-cloud/portfolioqa/internal/logger"
	"github.com/kailas-cloud/portfolioqa/internal/vectorindex"
)

// DegradedAnswer is returned in place of a generated answer when generation fails.
const DegradedAnswer = "I encountered an error processing your question. Please try again."

// Outcome labels for the answers counter.
const (
	OutcomeOK       = "ok"
	OutcomeDegraded = "degraded"
	OutcomeError    = "error"
)

// Config holds the orchestrator settings.
type Config struct {
	KnowledgeBasePath string
	IndexDir          string
	TopK              int
	Threshold         float64
	ContactLine       string
}

// Metrics are passed explicitly; any field may be nil.
type Metrics struct {
	Answers   *prometheus.CounterVec // label "outcome"
	Duration  prometheus.Observer
	Retrieved prometheus.Observer
}

// Deps are the collaborators of the orchestrator.
type Deps struct {
	Embedder  domain.Embedder
	Generator domain.Generator
	Loader    Loader
	Indexes   IndexManager
	Retriever Retriever
	Prompt    PromptBuilder
}

// IndexInfo describes the index currently served.
type IndexInfo struct {
	Backend        string    `json:"backend"`
	EmbeddingModel string    `json:"embedding_model"`
	Documents      int       `json:"documents"`
	Dimension      int       `json:"dimension"`
	CreatedAt      time.Time `json:"created_at"`
}

// Service is the QA orchestrator. Safe for concurrent use.
//
// Index builds are serialized: concurrent first-use callers share one build
// through singleflight, and buildMu keeps a forced Rebuild from racing it.
type Service struct {
	deps    Deps
	cfg     Config
	metrics Metrics
	logger  *zap.Logger

	mu  sync.RWMutex
	idx *vectorindex.Index

	buildMu sync.Mutex
	flight  singleflight.Group
}

// New creates an orchestrator. Nothing is loaded until the first Answer.
func New(deps Deps, cfg Config, m Metrics, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{deps: deps, cfg: cfg, metrics: m, logger: log}
}

// Ready checks provider configuration without any network call.
func (s *Service) Ready() error {
	if err := domain.Validate(s.deps.Embedder); err != nil {
		return fmt.Errorf("embedding provider: %w", err)
	}
	if err := domain.Validate(s.deps.Generator); err != nil {
		return fmt.Errorf("generation provider: %w", err)
	}
	return nil
}

// Answer runs the full pipeline for one question.
// Setup failures (configuration, knowledge base, index, retrieval) are returned as errors.
// A generation failure yields a degraded record with Err set and a nil error.
func (s *Service) Answer(ctx context.Context, question string) (domain.AnswerRecord, error) {
	if strings.TrimSpace(question) == "" {
		return domain.AnswerRecord{}, fmt.Errorf("%w: question is empty", domain.ErrInvalidInput)
	}

	start := time.Now()
	log := s.log(ctx)

	if err := s.Ready(); err != nil {
		s.observe(OutcomeError, start)
		return domain.AnswerRecord{}, err
	}

	idx, err := s.index(ctx)
	if err != nil {
		s.observe(OutcomeError, start)
		log.Error("Index not ready", zap.Error(err))
		return domain.AnswerRecord{}, err
	}

	res, err := s.deps.Retriever.Retrieve(ctx, question, idx, s.cfg.TopK, s.cfg.Threshold)
	if err != nil {
		s.observe(OutcomeError, start)
		log.Error("Retrieval failed", zap.Error(err))
		return domain.AnswerRecord{}, fmt.Errorf("retrieve: %w", err)
	}
	if s.metrics.Retrieved != nil {
		s.metrics.Retrieved.Observe(float64(len(res)))
	}

	docs := res.Documents()
	prompt := s.deps.Prompt.Build(question, docs, s.cfg.ContactLine)

	gen, err := s.deps.Generator.Generate(ctx, prompt)
	if err != nil {
		s.observe(OutcomeDegraded, start)
		log.Error("Generation failed, returning degraded answer",
			zap.Int("sources", len(docs)),
			zap.Error(err),
		)
		return domain.AnswerRecord{
			Answer:          DegradedAnswer,
			SourceDocuments: docs,
			Latency:         time.Since(start),
			Degraded:        true,
			Err:             err,
		}, nil
	}

	s.observe(OutcomeOK, start)
	rec := domain.AnswerRecord{
		Answer:          gen.Text,
		SourceDocuments: docs,
		Latency:         time.Since(start),
	}
	log.Debug("Question answered",
		zap.Int("sources", len(docs)),
		zap.Int("total_tokens", gen.TotalTokens),
		zap.Duration("latency", rec.Latency),
	)
	return rec, nil
}

// Rebuild reloads the knowledge base, rebuilds and persists the index, then serves it.
// The previous index stays in service if any step fails.
func (s *Service) Rebuild(ctx context.Context) (IndexInfo, error) {
	if err := s.Ready(); err != nil {
		return IndexInfo{}, err
	}

	s.buildMu.Lock()
	defer s.buildMu.Unlock()

	idx, err := s.build(ctx)
	if err != nil {
		return IndexInfo{}, err
	}
	s.set(idx)
	return info(idx), nil
}

// Index returns what is currently served, without triggering a build.
func (s *Service) Index() (IndexInfo, bool) {
	idx := s.current()
	if idx == nil {
		return IndexInfo{}, false
	}
	return info(idx), true
}

// IndexPersisted reports whether an index exists on disk.
func (s *Service) IndexPersisted() bool {
	return s.deps.Indexes.Exists(s.cfg.IndexDir)
}

// CheckIndex reports whether questions can be served without a build.
// It returns ErrIndexNotFound while nothing usable is loaded or persisted yet,
// and the load error when the persisted directory would be refused.
func (s *Service) CheckIndex(_ context.Context) error {
	if err := s.Ready(); err != nil {
		return err
	}
	if s.current() != nil {
		return nil
	}
	if err := s.deps.Indexes.Check(s.cfg.IndexDir); err != nil {
		return fmt.Errorf("index %s: %w", s.cfg.IndexDir, err)
	}
	return nil
}

// Warm makes the index ready ahead of the first question.
func (s *Service) Warm(ctx context.Context) (IndexInfo, error) {
	if err := s.Ready(); err != nil {
		return IndexInfo{}, err
	}
	idx, err := s.index(ctx)
	if err != nil {
		return IndexInfo{}, err
	}
	return info(idx), nil
}

func (s *Service) index(ctx context.Context) (*vectorindex.Index, error) {
	if idx := s.current(); idx != nil {
		return idx, nil
	}

	// Waiters share the leader's result, so the build must not die with the leader's request.
	buildCtx := context.WithoutCancel(ctx)
	v, err, _ := s.flight.Do("index", func() (any, error) {
		s.buildMu.Lock()
		defer s.buildMu.Unlock()

		if idx := s.current(); idx != nil {
			return idx, nil
		}
		idx, err := s.loadOrBuild(buildCtx)
		if err != nil {
			return nil, err
		}
		s.set(idx)
		return idx, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*vectorindex.Index), nil
}

func (s *Service) loadOrBuild(ctx context.Context) (*vectorindex.Index, error) {
	if s.deps.Indexes.Exists(s.cfg.IndexDir) {
		idx, err := s.deps.Indexes.Load(ctx, s.cfg.IndexDir)
		if err == nil {
			s.logger.Info("Index loaded",
				zap.String("dir", s.cfg.IndexDir),
				zap.String("backend", idx.Backend()),
				zap.Int("documents", idx.Len()),
			)
			return idx, nil
		}

		// A directory from another backend or a backend that is not compiled in
		// must not be silently replaced.
		var mismatch *domain.BackendMismatchError
		if errors.As(err, &mismatch) || !errors.Is(err, domain.ErrIndexNotFound) {
			return nil, fmt.Errorf("load index: %w", err)
		}
		s.logger.Warn("Persisted index unusable, rebuilding", zap.String("dir", s.cfg.IndexDir), zap.Error(err))
	}
	return s.build(ctx)
}

func (s *Service) build(ctx context.Context) (*vectorindex.Index, error) {
	docs, err := s.deps.Loader.Load(s.cfg.KnowledgeBasePath)
	if err != nil {
		return nil, fmt.Errorf("load knowledge base: %w", err)
	}

	idx, err := s.deps.Indexes.Build(ctx, docs, s.deps.Embedder)
	if err != nil {
		return nil, fmt.Errorf("build index: %w", err)
	}

	idx, err = s.deps.Indexes.Persist(ctx, idx, s.cfg.IndexDir)
	if err != nil {
		return nil, fmt.Errorf("persist index: %w", err)
	}

	s.logger.Info("Index built",
		zap.String("knowledge_base", s.cfg.KnowledgeBasePath),
		zap.String("dir", s.cfg.IndexDir),
		zap.String("backend", idx.Backend()),
		zap.Int("documents", idx.Len()),
	)
	return idx, nil
}

func (s *Service) current() *vectorindex.Index {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.idx
}

func (s *Service) set(idx *vectorindex.Index) {
	s.mu.Lock()
	s.idx = idx
	s.mu.Unlock()
}

func (s *Service) observe(outcome string, start time.Time) {
	if s.metrics.Answers != nil {
		s.metrics.Answers.WithLabelValues(outcome).Inc()
	}
	if s.metrics.Duration != nil {
		s.metrics.Duration.Observe(time.Since(start).Seconds())
	}
}

func (s *Service) log(ctx context.Context) *zap.Logger {
	if l := logger.FromContext(ctx); l.Core().Enabled(zap.ErrorLevel) {
		return l
	}
	return s.logger
}

func info(idx *vectorindex.Index) IndexInfo {
	return IndexInfo{
		Backend:        idx.Backend(),
		EmbeddingModel: idx.EmbeddingModel(),
		Documents:      idx.Len(),
		Dimension:      idx.Dimension(),
		CreatedAt:      idx.CreatedAt(),
	}
}
