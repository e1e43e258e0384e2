// Package retrieval finds the knowledge base documents closest to a question.
package retrieval

import (
	"context"
	"fmt"
	"strings"

	"github.com/kailas-cloud/portfolioqa/internal/domain"
)

const (
	// DefaultTopK is the number of documents returned when k is not set.
	DefaultTopK = 4
	// DefaultThreshold is the minimum cosine similarity a document must reach.
	DefaultThreshold = 0.7
)

// Service embeds queries and searches an index.
type Service struct {
	embed Embedder
}

// New creates a retrieval service.
func New(embed Embedder) *Service {
	return &Service{embed: embed}
}

// Retrieve embeds query once and returns up to k documents scoring at least threshold.
// A non-positive k falls back to DefaultTopK. No match is an empty result, not an error.
func (s *Service) Retrieve(
	ctx context.Context, query string, idx Searcher, k int, threshold float64,
) (domain.RetrievalResult, error) {
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("%w: query is empty", domain.ErrInvalidInput)
	}
	if threshold < 0 || threshold > 1 {
		return nil, fmt.Errorf("%w: threshold %v is outside [0, 1]", domain.ErrInvalidInput, threshold)
	}
	if k <= 0 {
		k = DefaultTopK
	}

	emb, err := s.embed.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	res, err := idx.Search(emb.Embedding, k, threshold)
	if err != nil {
		return nil, fmt.Errorf("search index: %w", err)
	}
	if res == nil {
		res = domain.RetrievalResult{}
	}
	return res, nil
}
