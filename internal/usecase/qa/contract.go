package qa

import (
	"context"

	"github.com/kailas-cloud/portfolioqa/internal/domain"
	"github.com/kailas-cloud/portfolioqa/internal/usecase/retrieval"
	"github.com/kailas-cloud/portfolioqa/internal/vectorindex"
)

// Loader reads the knowledge base.
type Loader interface {
	Load(path string) ([]domain.Document, error)
}

// IndexManager owns the persisted index lifecycle.
type IndexManager interface {
	Build(ctx context.Context, docs []domain.Document, embedder domain.Embedder) (*vectorindex.Index, error)
	Persist(ctx context.Context, idx *vectorindex.Index, dir string) (*vectorindex.Index, error)
	Load(ctx context.Context, dir string) (*vectorindex.Index, error)
	Exists(dir string) bool
	Check(dir string) error
}

// Retriever finds the documents relevant to a question.
type Retriever interface {
	Retrieve(ctx context.Context, query string, idx retrieval.Searcher, k int, threshold float64) (domain.RetrievalResult, error)
}

// PromptBuilder renders the generation prompt.
type PromptBuilder interface {
	Build(question string, docs []domain.Document, contactLine string) string
}
