package main

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/portfolioqa/internal/config"
	"github.com/kailas-cloud/portfolioqa/internal/db"
	dbRedis "github.com/kailas-cloud/portfolioqa/internal/db/redis"
	"github.com/kailas-cloud/portfolioqa/internal/domain"
	"github.com/kailas-cloud/portfolioqa/internal/knowledgebase"
	logpkg "github.com/kailas-cloud/portfolioqa/internal/logger"
	"github.com/kailas-cloud/portfolioqa/internal/metrics"
	analyticsrepo "github.com/kailas-cloud/portfolioqa/internal/repository/analytics"
	budgetrepo "github.com/kailas-cloud/portfolioqa/internal/repository/budget"
	"github.com/kailas-cloud/portfolioqa/internal/repository/embcache"
	openaiTransport "github.com/kailas-cloud/portfolioqa/internal/transport/openai"
	analyticsuc "github.com/kailas-cloud/portfolioqa/internal/usecase/analytics"
	"github.com/kailas-cloud/portfolioqa/internal/usecase/budget"
	embeddinguc "github.com/kailas-cloud/portfolioqa/internal/usecase/embedding"
	generationuc "github.com/kailas-cloud/portfolioqa/internal/usecase/generation"
	healthuc "github.com/kailas-cloud/portfolioqa/internal/usecase/health"
	"github.com/kailas-cloud/portfolioqa/internal/usecase/prompt"
	"github.com/kailas-cloud/portfolioqa/internal/usecase/qa"
	"github.com/kailas-cloud/portfolioqa/internal/usecase/retrieval"
	usageuc "github.com/kailas-cloud/portfolioqa/internal/usecase/usage"
	"github.com/kailas-cloud/portfolioqa/internal/vectorindex"
	"github.com/kailas-cloud/portfolioqa/internal/vectorindex/flat"
	"github.com/kailas-cloud/portfolioqa/internal/vectorindex/sqlite"
	"github.com/kailas-cloud/portfolioqa/internal/version"
)

const providerName = "openai"

// app is the composition root shared by every command.
type app struct {
	env    string
	cfg    config.Config
	logger *zap.Logger

	store     db.Store
	embedder  *embeddinguc.InstrumentedEmbedder
	qa        *qa.Service
	analytics *analyticsuc.Service
	usage     *usageuc.Service
	health    *healthuc.Service

	closers []func()
}

func newApp(ctx context.Context, env string) (*app, error) {
	cfg, err := config.Load(env)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logger, err := logpkg.NewLogger(env, logpkg.Options{
		Level:    cfg.Logging.Level,
		Encoding: cfg.Logging.Format,
		Service:  "portfolioqa",
		Version:  version.Version,
	})
	if err != nil {
		return nil, fmt.Errorf("create logger: %w", err)
	}

	a := &app{env: env, cfg: cfg, logger: logger}
	a.closers = append(a.closers, func() { _ = logger.Sync() })

	metrics.RegisterAll()

	if cfg.CacheEnabled() {
		if err := a.connectCache(ctx); err != nil {
			a.Close()
			return nil, err
		}
	}

	tracker := a.budgetTracker(ctx)

	// Pass nil interface (not typed nil pointer!) if budget is not configured.
	// Go gotcha: (*budget.Tracker)(nil) wrapped in BudgetChecker != nil.
	var embBudget embeddinguc.BudgetChecker
	var genBudget generationuc.BudgetChecker
	var budgetReader usageuc.BudgetReader
	if tracker != nil {
		embBudget, genBudget, budgetReader = tracker, tracker, tracker
	}

	clientCfg := openaiTransport.ClientConfig{APIKey: cfg.OpenAI.APIKey, BaseURL: cfg.OpenAI.BaseURL}
	a.embedder = a.buildEmbedder(clientCfg, embBudget)

	var generator domain.Generator = openaiTransport.NewGenerator(&openaiTransport.GeneratorConfig{
		Client:      clientCfg,
		Model:       cfg.Generation.Model,
		Temperature: cfg.Generation.Temperature,
		MaxTokens:   cfg.Generation.MaxTokens,
		Timeout:     time.Duration(cfg.Generation.TimeoutSec) * time.Second,
		Logger:      logger,
	})
	generator = generationuc.NewInstrumentedGenerator(generator, cfg.Generation.Model, genBudget, logger)

	indexes, err := vectorindex.NewManager(vectorindex.Config{
		Primary:        cfg.Index.Backend,
		Fallback:       cfg.IndexFallback(),
		PinBackend:     cfg.Index.PinBackend,
		EmbeddingModel: cfg.Embedding.Model,
		Dimension:      cfg.Embedding.Dimensions,
	}, metrics.IndexBuildsTotal, logger, sqlite.New(), flat.New())
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("create index manager: %w", err)
	}

	a.qa = qa.New(qa.Deps{
		Embedder:  a.embedder,
		Generator: generator,
		Loader:    knowledgebase.New(cfg.KnowledgeBase.SourceColumn),
		Indexes:   indexes,
		Retriever: retrieval.New(a.embedder),
		Prompt:    prompt.NewBuilder(cfg.Prompt.Subject),
	}, qa.Config{
		KnowledgeBasePath: cfg.KnowledgeBase.Path,
		IndexDir:          cfg.Index.Path,
		TopK:              cfg.Retrieval.TopK,
		Threshold:         *cfg.Retrieval.Threshold,
		ContactLine:       cfg.Prompt.ContactLine,
	}, qa.Metrics{
		Answers:   metrics.AnswersTotal,
		Duration:  metrics.AnswerDuration,
		Retrieved: metrics.RetrievedDocuments,
	}, logger)

	var analyticsProbe healthuc.Probe
	var repo analyticsuc.Repository
	if cfg.Analytics.Enabled {
		store, err := analyticsrepo.Open(cfg.Analytics.Path)
		if err != nil {
			// Analytics never blocks answering.
			logger.Warn("Analytics disabled", zap.String("path", cfg.Analytics.Path), zap.Error(err))
		} else {
			a.closers = append(a.closers, func() { _ = store.Close() })
			repo, analyticsProbe = store, store.Ping
		}
	}
	a.analytics = analyticsuc.New(repo,
		time.Duration(cfg.Analytics.WriteTimeoutSec)*time.Second,
		metrics.AnalyticsWriteFailuresTotal, logger)
	a.usage = usageuc.New(budgetReader, cfg.Budget.CostPerMillionTokens)

	var cacheProbe healthuc.Probe
	if a.store != nil {
		cacheProbe = a.store.Ping
	}
	a.health = healthuc.New(a.qa, healthuc.DefaultProbeTimeout).
		With(healthuc.ComponentEmbedding, a.embedder.HealthCheck).
		With(healthuc.ComponentCache, cacheProbe).
		With(healthuc.ComponentAnalytics, analyticsProbe)

	return a, nil
}

func (a *app) connectCache(ctx context.Context) error {
	// valkey and redis share the RESP protocol, one rueidis client serves both.
	store, err := dbRedis.NewStore(dbRedis.Config{
		Addrs:       a.cfg.Cache.Addrs,
		Password:    a.cfg.Cache.Password,
		DB:          a.cfg.Cache.DB,
		ClientName:  "portfolioqa",
		DialTimeout: 5 * time.Second,
	})
	if err != nil {
		return fmt.Errorf("create %s store: %w", a.cfg.Cache.Driver, err)
	}
	a.closers = append(a.closers, store.Close)

	timeout := time.Duration(a.cfg.Cache.ReadinessTimeout) * time.Second
	if err := store.WaitForReady(ctx, timeout); err != nil {
		return fmt.Errorf("%s not ready: %w", a.cfg.Cache.Driver, err)
	}
	a.logger.Info("Connected to cache",
		zap.String("driver", a.cfg.Cache.Driver),
		zap.Strings("addrs", a.cfg.Cache.Addrs),
	)
	a.store = store
	return nil
}

// budgetTracker returns nil when no limit is configured.
// One tracker is shared by the embedder, the generator and the usage report.
func (a *app) budgetTracker(ctx context.Context) *budget.Tracker {
	bc := a.cfg.Budget
	limits := budget.Limits{Daily: bc.DailyTokenLimit, Monthly: bc.MonthlyTokenLimit}
	if !limits.Enabled() {
		return nil
	}
	tracker := budget.New(providerName, limits, budget.ParsePolicy(bc.Action), a.logger)
	if a.store != nil {
		// Load current counters from the persistence store.
		tracker.WithStore(ctx, budgetrepo.New(a.store, providerName, 48*time.Hour, 62*24*time.Hour))
	}
	return tracker
}

// buildEmbedder assembles the decorator chain: OpenAI -> Cached -> Instrumented.
func (a *app) buildEmbedder(
	clientCfg openaiTransport.ClientConfig, checker embeddinguc.BudgetChecker,
) *embeddinguc.InstrumentedEmbedder {
	ec := a.cfg.Embedding
	var embedder domain.Embedder = openaiTransport.NewEmbedder(&openaiTransport.EmbedderConfig{
		Client:     clientCfg,
		Model:      ec.Model,
		Dimensions: ec.Dimensions,
		Timeout:    time.Duration(ec.TimeoutSec) * time.Second,
		Provider:   providerName,
		Logger:     a.logger,
	})

	if a.store != nil {
		embedder = embcache.New(embedder, a.store, embcache.Config{
			Model:      ec.Model,
			Dimensions: ec.Dimensions,
			TTL:        a.cfg.CacheTTL(),
			CacheTotal: metrics.EmbeddingCacheTotal,
			Logger:     a.logger,
		})
	}

	return embeddinguc.NewInstrumentedEmbedder(embedder, providerName, ec.Model, checker, a.logger).
		WithMaxBatchSize(ec.MaxBatchSize)
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}
