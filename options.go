package portfolioqa

import (
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// Option configures the Client.
type Option interface {
	apply(*clientConfig)
}

// optionFunc adapts a function to the Option interface.
type optionFunc func(*clientConfig)

func (f optionFunc) apply(c *clientConfig) { f(c) }

type clientConfig struct {
	openAIKey       string
	openAIBaseURL   string
	embeddingModel  string
	generationModel string
	temperature     float32
	maxTokens       int

	embedder  Embedder
	generator Generator

	knowledgeBase string
	sourceColumn  string
	indexDir      string
	backend       string
	fallback      string

	topK        int
	threshold   float64
	contactLine string
	subject     string

	logger     *zap.Logger
	metricsReg prometheus.Registerer
}

// WithOpenAI uses the OpenAI API for both embeddings and generation.
// WithEmbedder and WithGenerator take precedence when also given.
func WithOpenAI(apiKey string) Option {
	return optionFunc(func(c *clientConfig) {
		c.openAIKey = apiKey
	})
}

// WithOpenAIBaseURL points the OpenAI client at a compatible endpoint.
func WithOpenAIBaseURL(url string) Option {
	return optionFunc(func(c *clientConfig) {
		c.openAIBaseURL = url
	})
}

// WithModels overrides the OpenAI embedding and chat models.
// An empty value keeps the default (text-embedding-3-small, gpt-4o-mini).
func WithModels(embedding, generation string) Option {
	return optionFunc(func(c *clientConfig) {
		c.embeddingModel = embedding
		c.generationModel = generation
	})
}

// WithGeneration overrides the OpenAI chat model and its sampling settings.
// An empty model keeps the current one. A zero temperature is sent as is.
// Default: gpt-4o-mini, temperature 0.1, 500 max tokens.
func WithGeneration(model string, temperature float32, maxTokens int) Option {
	return optionFunc(func(c *clientConfig) {
		if model != "" {
			c.generationModel = model
		}
		c.temperature = temperature
		c.maxTokens = maxTokens
	})
}

// WithEmbedder sets the text embedding provider.
func WithEmbedder(e Embedder) Option {
	return optionFunc(func(c *clientConfig) {
		c.embedder = e
	})
}

// WithGenerator sets the answer generation provider.
func WithGenerator(g Generator) Option {
	return optionFunc(func(c *clientConfig) {
		c.generator = g
	})
}

// WithKnowledgeBase sets the CSV file the index is built from. Required.
func WithKnowledgeBase(path string) Option {
	return optionFunc(func(c *clientConfig) {
		c.knowledgeBase = path
	})
}

// WithSourceColumn selects the CSV column whose text is embedded.
// Default: Answer.
func WithSourceColumn(column string) Option {
	return optionFunc(func(c *clientConfig) {
		c.sourceColumn = column
	})
}

// WithIndexDir sets where the index is persisted. Default: data/index.
func WithIndexDir(dir string) Option {
	return optionFunc(func(c *clientConfig) {
		c.indexDir = dir
	})
}

// WithBackend selects the vector backend ("sqlite" or "flat") and an optional fallback.
// Default: sqlite with flat fallback. Pass an empty fallback to disable it.
func WithBackend(primary, fallback string) Option {
	return optionFunc(func(c *clientConfig) {
		c.backend = primary
		c.fallback = fallback
	})
}

// WithTopK sets how many documents ground an answer. Default: 4.
func WithTopK(k int) Option {
	return optionFunc(func(c *clientConfig) {
		c.topK = k
	})
}

// WithThreshold sets the minimum cosine similarity in [0, 1]. Default: 0.7.
func WithThreshold(t float64) Option {
	return optionFunc(func(c *clientConfig) {
		c.threshold = t
	})
}

// WithContactLine sets the sentence the model offers when the context has no answer.
func WithContactLine(line string) Option {
	return optionFunc(func(c *clientConfig) {
		c.contactLine = line
	})
}

// WithSubject names the person the knowledge base is about.
func WithSubject(subject string) Option {
	return optionFunc(func(c *clientConfig) {
		c.subject = subject
	})
}

// WithLogger enables structured logging. Default: no logging.
func WithLogger(l *zap.Logger) Option {
	return optionFunc(func(c *clientConfig) {
		c.logger = l
	})
}

// WithPrometheus registers client metrics (answers, durations, index builds)
// on the given registerer. Pass nil to disable (default).
func WithPrometheus(reg prometheus.Registerer) Option {
	return optionFunc(func(c *clientConfig) {
		c.metricsReg = reg
	})
}
