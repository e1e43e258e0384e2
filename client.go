package portfolioqa

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/kailas-cloud/portfolioqa/internal/domain"
	"github.com/kailas-cloud/portfolioqa/internal/knowledgebase"
	openaiTransport "github.com/kailas-cloud/portfolioqa/internal/transport/openai"
	"github.com/kailas-cloud/portfolioqa/internal/usecase/prompt"
	"github.com/kailas-cloud/portfolioqa/internal/usecase/qa"
	"github.com/kailas-cloud/portfolioqa/internal/usecase/retrieval"
	"github.com/kailas-cloud/portfolioqa/internal/vectorindex"
	"github.com/kailas-cloud/portfolioqa/internal/vectorindex/flat"
	"github.com/kailas-cloud/portfolioqa/internal/vectorindex/sqlite"
)

const (
	defaultIndexDir        = "data/index"
	defaultSourceColumn    = "Answer"
	defaultBackend         = "sqlite"
	defaultFallback        = "flat"
	defaultEmbeddingModel  = "text-embedding-3-small"
	defaultGenerationModel = "gpt-4o-mini"
	defaultProviderTimeout = 30 * time.Second
	defaultTemperature     = 0.1
	defaultMaxTokens       = 500
)

// Client is the portfolioqa entry point.
// It is safe for concurrent use; the index is built or loaded on the first question.
type Client struct {
	svc *qa.Service
	obs *observer
}

// New creates a Client. No network call and no index build happen here.
// Provider credentials are checked on the first question, which fails
// with ErrConfiguration when neither an OpenAI key nor a custom provider is set.
func New(opts ...Option) (*Client, error) {
	cfg := &clientConfig{
		sourceColumn: defaultSourceColumn,
		indexDir:     defaultIndexDir,
		backend:      defaultBackend,
		fallback:     defaultFallback,
		topK:         retrieval.DefaultTopK,
		threshold:    retrieval.DefaultThreshold,
		temperature:  defaultTemperature,
		maxTokens:    defaultMaxTokens,
	}
	for _, o := range opts {
		o.apply(cfg)
	}
	if cfg.logger == nil {
		cfg.logger = zap.NewNop()
	}

	if err := validate(cfg); err != nil {
		return nil, err
	}

	embedder, generator, model := providers(cfg)

	obs := &observer{logger: cfg.logger}
	var m qa.Metrics
	var builds *prometheus.CounterVec
	if cfg.metricsReg != nil {
		cm, err := newClientMetrics(cfg.metricsReg)
		if err != nil {
			return nil, err
		}
		obs.metrics = cm
		builds = cm.indexBuilds
		m = qa.Metrics{Answers: cm.answers, Duration: cm.duration, Retrieved: cm.retrieved}
	}

	indexes, err := newManager(cfg, model, builds)
	if err != nil {
		return nil, fmt.Errorf("portfolioqa: %w", err)
	}

	svc := qa.New(qa.Deps{
		Embedder:  embedder,
		Generator: generator,
		Loader:    knowledgebase.New(cfg.sourceColumn),
		Indexes:   indexes,
		Retriever: retrieval.New(embedder),
		Prompt:    prompt.NewBuilder(cfg.subject),
	}, qa.Config{
		KnowledgeBasePath: cfg.knowledgeBase,
		IndexDir:          cfg.indexDir,
		TopK:              cfg.topK,
		Threshold:         cfg.threshold,
		ContactLine:       cfg.contactLine,
	}, m, cfg.logger)

	return &Client{svc: svc, obs: obs}, nil
}

func validate(cfg *clientConfig) error {
	if cfg.knowledgeBase == "" {
		return domain.NewConfigurationError("knowledge base", "is required (use WithKnowledgeBase)")
	}
	if cfg.indexDir == "" {
		return domain.NewConfigurationError("index dir", "must not be empty")
	}
	if cfg.topK < 0 {
		return domain.NewConfigurationError("top_k", fmt.Sprintf("must not be negative, got %d", cfg.topK))
	}
	if cfg.threshold < 0 || cfg.threshold > 1 {
		return domain.NewConfigurationError("threshold", fmt.Sprintf("must be within [0, 1], got %v", cfg.threshold))
	}
	if cfg.maxTokens < 0 {
		return domain.NewConfigurationError("max_tokens", fmt.Sprintf("must not be negative, got %d", cfg.maxTokens))
	}
	if cfg.temperature < 0 || cfg.temperature > 2 {
		return domain.NewConfigurationError("temperature", fmt.Sprintf("must be within [0, 2], got %v", cfg.temperature))
	}
	return nil
}

// providers resolves the embedder and generator and returns the embedding model
// name recorded in the index manifest.
func providers(cfg *clientConfig) (domain.Embedder, domain.Generator, string) {
	clientCfg := openaiTransport.ClientConfig{APIKey: cfg.openAIKey, BaseURL: cfg.openAIBaseURL}

	embModel := cfg.embeddingModel
	var embedder domain.Embedder
	if cfg.embedder != nil {
		embedder = &embedderAdapter{inner: cfg.embedder}
	} else {
		if embModel == "" {
			embModel = defaultEmbeddingModel
		}
		embedder = openaiTransport.NewEmbedder(&openaiTransport.EmbedderConfig{
			Client:   clientCfg,
			Model:    embModel,
			Timeout:  defaultProviderTimeout,
			Provider: "openai",
			Logger:   cfg.logger,
		})
	}

	var generator domain.Generator
	if cfg.generator != nil {
		generator = &generatorAdapter{inner: cfg.generator}
	} else {
		genModel := cfg.generationModel
		if genModel == "" {
			genModel = defaultGenerationModel
		}
		generator = openaiTransport.NewGenerator(&openaiTransport.GeneratorConfig{
			Client:      clientCfg,
			Model:       genModel,
			Temperature: cfg.temperature,
			MaxTokens:   cfg.maxTokens,
			Timeout:     defaultProviderTimeout,
			Logger:      cfg.logger,
		})
	}
	return embedder, generator, embModel
}

func newManager(cfg *clientConfig, model string, builds *prometheus.CounterVec) (*vectorindex.Manager, error) {
	mcfg := vectorindex.Config{
		Primary:        cfg.backend,
		Fallback:       cfg.fallback,
		EmbeddingModel: model,
	}
	if mcfg.Fallback == mcfg.Primary {
		mcfg.Fallback = ""
	}
	return vectorindex.NewManager(mcfg, builds, cfg.logger, sqlite.New(), flat.New())
}

// Answer answers one question.
// Setup failures are returned as errors; a generation failure yields
// a Degraded answer and a nil error.
func (c *Client) Answer(ctx context.Context, question string) (Answer, error) {
	start := time.Now()
	rec, err := c.svc.Answer(ctx, question)
	c.obs.observe("answer", start, err)
	if err != nil {
		return Answer{}, fmt.Errorf("answer: %w", err)
	}
	return answerFromDomain(rec), nil
}

// Rebuild reloads the knowledge base and replaces the index.
// The previous index keeps serving if the rebuild fails.
func (c *Client) Rebuild(ctx context.Context) (IndexInfo, error) {
	start := time.Now()
	info, err := c.svc.Rebuild(ctx)
	c.obs.observe("rebuild", start, err)
	if err != nil {
		return IndexInfo{}, fmt.Errorf("rebuild: %w", err)
	}
	return indexInfoFromQA(info), nil
}

// Warm loads the persisted index, or builds it, ahead of the first question.
func (c *Client) Warm(ctx context.Context) (IndexInfo, error) {
	start := time.Now()
	info, err := c.svc.Warm(ctx)
	c.obs.observe("warm", start, err)
	if err != nil {
		return IndexInfo{}, fmt.Errorf("warm: %w", err)
	}
	return indexInfoFromQA(info), nil
}

// Index returns the index currently served, if any.
func (c *Client) Index() (IndexInfo, bool) {
	info, ok := c.svc.Index()
	if !ok {
		return IndexInfo{}, false
	}
	return indexInfoFromQA(info), true
}

// embedderAdapter wraps public Embedder to satisfy internal domain.Embedder.
type embedderAdapter struct {
	inner Embedder
}

func (a *embedderAdapter) Embed(ctx context.Context, text string) (domain.EmbeddingResult, error) {
	r, err := a.inner.Embed(ctx, text)
	if err != nil {
		return domain.EmbeddingResult{}, providerError(err)
	}
	return domain.EmbeddingResult{
		Embedding:    r.Embedding,
		PromptTokens: r.PromptTokens,
		TotalTokens:  r.TotalTokens,
	}, nil
}

func (a *embedderAdapter) BatchEmbed(ctx context.Context, texts []string) (domain.BatchEmbeddingResult, error) {
	r, err := a.inner.BatchEmbed(ctx, texts)
	if err != nil {
		return domain.BatchEmbeddingResult{}, providerError(err)
	}
	return domain.BatchEmbeddingResult{
		Embeddings:   r.Embeddings,
		PromptTokens: r.PromptTokens,
		TotalTokens:  r.TotalTokens,
	}, nil
}

// providerError keeps domain sentinels and classifies anything else as a provider failure.
func providerError(err error) error {
	for _, sentinel := range []error{domain.ErrProvider, domain.ErrRateLimited, domain.ErrQuotaExceeded, domain.ErrConfiguration} {
		if errors.Is(err, sentinel) {
			return err
		}
	}
	return fmt.Errorf("%w: %w", domain.ErrProvider, err)
}

// generatorAdapter wraps public Generator to satisfy internal domain.Generator.
type generatorAdapter struct {
	inner Generator
}

func (a *generatorAdapter) Generate(ctx context.Context, p string) (domain.GenerationResult, error) {
	r, err := a.inner.Generate(ctx, p)
	if err != nil {
		if errors.Is(err, domain.ErrGeneration) {
			return domain.GenerationResult{}, err
		}
		return domain.GenerationResult{}, fmt.Errorf("%w: %w", domain.ErrGeneration, err)
	}
	return domain.GenerationResult{
		Text:             r.Text,
		PromptTokens:     r.PromptTokens,
		CompletionTokens: r.CompletionTokens,
		TotalTokens:      r.TotalTokens,
	}, nil
}
