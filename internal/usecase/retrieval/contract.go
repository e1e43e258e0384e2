package retrieval

import (
	"context"

	"github.com/kailas-cloud/portfolioqa/internal/domain"
)

// Embedder vectorizes the query text.
type Embedder interface {
	Embed(ctx context.Context, text string) (domain.EmbeddingResult, error)
}

// Searcher is the read side of a vector index.
type Searcher interface {
	Search(vec []float32, k int, threshold float64) (domain.RetrievalResult, error)
}
