package domain

import "context"

// Embedder is the shared text vectorization contract between layers.
// Embed vectorizes a query, BatchEmbed vectorizes document bodies in one request.
type Embedder interface {
	Embed(ctx context.Context, text string) (EmbeddingResult, error)
	BatchEmbed(ctx context.Context, texts []string) (BatchEmbeddingResult, error)
}

// Generator produces a completion for a fully assembled prompt.
type Generator interface {
	Generate(ctx context.Context, prompt string) (GenerationResult, error)
}

// Validator is implemented by providers whose configuration is checked at first use.
type Validator interface {
	Validate() error
}

// HealthChecker verifies remote provider availability.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// EmbeddingResult carries the embedding vector and token usage through the decorator chain.
type EmbeddingResult struct {
	Embedding    []float32
	PromptTokens int
	TotalTokens  int
}

// BatchEmbeddingResult carries multiple embedding vectors and aggregate token usage.
type BatchEmbeddingResult struct {
	Embeddings   [][]float32
	PromptTokens int
	TotalTokens  int
}

// GenerationResult carries the completion text and token usage.
type GenerationResult struct {
	Text             string
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Validate calls v.Validate when v supports it.
func Validate(v any) error {
	if val, ok := v.(Validator); ok {
		return val.Validate()
	}
	return nil
}
