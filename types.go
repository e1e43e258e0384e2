package portfolioqa

import (
	"context"
	"time"

	"github.com/kailas-cloud/portfolioqa/internal/domain"
	"github.com/kailas-cloud/portfolioqa/internal/usecase/qa"
)

// Embedder converts text to vector embeddings.
// BatchEmbed is used once per index build, Embed once per question.
type Embedder interface {
	Embed(ctx context.Context, text string) (EmbeddingResult, error)
	BatchEmbed(ctx context.Context, texts []string) (BatchEmbeddingResult, error)
}

// Generator produces the answer for a fully assembled prompt.
type Generator interface {
	Generate(ctx context.Context, prompt string) (GenerationResult, error)
}

// EmbeddingResult carries the embedding vector and token counts.
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

// Document is a knowledge base record used to ground an answer.
type Document struct {
	Body     string
	Category string
	Question string
	Keywords string
	Source   string
	Row      int
}

// Answer is the outcome of one question.
type Answer struct {
	Text    string
	Sources []Document
	Latency time.Duration
	// Degraded is set when generation failed and Text holds the fallback reply.
	Degraded bool
	// Err keeps the generation failure of a degraded answer.
	Err error
}

// IndexInfo describes the index being served.
type IndexInfo struct {
	Backend        string
	EmbeddingModel string
	Documents      int
	Dimension      int
	CreatedAt      time.Time
}

func answerFromDomain(rec domain.AnswerRecord) Answer {
	sources := make([]Document, len(rec.SourceDocuments))
	for i, d := range rec.SourceDocuments {
		sources[i] = Document{
			Body:     d.Body,
			Category: d.Metadata.Category,
			Question: d.Metadata.Question,
			Keywords: d.Metadata.Keywords,
			Source:   d.Metadata.Source,
			Row:      d.Metadata.Row,
		}
	}
	return Answer{
		Text:     rec.Answer,
		Sources:  sources,
		Latency:  rec.Latency,
		Degraded: rec.Degraded,
		Err:      rec.Err,
	}
}

func indexInfoFromQA(info qa.IndexInfo) IndexInfo {
	return IndexInfo{
		Backend:        info.Backend,
		EmbeddingModel: info.EmbeddingModel,
		Documents:      info.Documents,
		Dimension:      info.Dimension,
		CreatedAt:      info.CreatedAt,
	}
}
