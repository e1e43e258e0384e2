// Package vectorindex builds, persists, loads and searches the similarity index
// over knowledge base documents.
package vectorindex

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/kailas-cloud/portfolioqa/internal/domain"
)

// Index is an immutable set of documents with one vector each.
// Search is safe for concurrent use.
type Index struct {
	mu        sync.RWMutex
	backend   string
	model     string
	dimension int
	createdAt time.Time
	docs      []domain.Document
	vectors   [][]float32
	norms     []float64
}

// New creates an index over docs and their vectors. vectors[i] belongs to docs[i].
func New(backend, model string, docs []domain.Document, vectors [][]float32) (*Index, error) {
	return newIndex(backend, model, time.Now().UTC(), docs, vectors)
}

// Restore recreates an index from persisted parts and checks them against the manifest.
func Restore(m Manifest, docs []domain.Document, vectors [][]float32) (*Index, error) {
	if len(docs) != m.Count {
		return nil, fmt.Errorf("%w: manifest lists %d documents, found %d",
			domain.ErrIndexNotFound, m.Count, len(docs))
	}
	idx, err := newIndex(m.Backend, m.EmbeddingModel, m.CreatedAt, docs, vectors)
	if err != nil {
		return nil, err
	}
	if idx.dimension != m.Dimension {
		return nil, fmt.Errorf("%w: manifest dimension %d, vectors have %d",
			domain.ErrVectorDimMismatch, m.Dimension, idx.dimension)
	}
	return idx, nil
}

func newIndex(backend, model string, createdAt time.Time, docs []domain.Document, vectors [][]float32) (*Index, error) {
	if len(docs) == 0 {
		return nil, fmt.Errorf("%w: no documents to index", domain.ErrEmptyResult)
	}
	if len(docs) != len(vectors) {
		return nil, fmt.Errorf("got %d vectors for %d documents", len(vectors), len(docs))
	}

	dim := len(vectors[0])
	if dim == 0 {
		return nil, errors.New("empty embedding vector")
	}
	norms := make([]float64, len(vectors))
	for i, v := range vectors {
		if len(v) != dim {
			return nil, fmt.Errorf("%w: vector %d has %d dimensions, expected %d",
				domain.ErrVectorDimMismatch, i, len(v), dim)
		}
		norms[i] = norm(v)
	}

	return &Index{
		backend:   backend,
		model:     model,
		dimension: dim,
		createdAt: createdAt,
		docs:      docs,
		vectors:   vectors,
		norms:     norms,
	}, nil
}

// Backend names the backend whose layout this index is persisted with.
func (i *Index) Backend() string { return i.backend }

// EmbeddingModel is the model that produced the vectors.
func (i *Index) EmbeddingModel() string { return i.model }

// Dimension is the vector length.
func (i *Index) Dimension() int { return i.dimension }

// Len is the number of documents.
func (i *Index) Len() int { return len(i.docs) }

// CreatedAt is when the vectors were computed.
func (i *Index) CreatedAt() time.Time { return i.createdAt }

// Documents returns the documents in insertion order.
func (i *Index) Documents() []domain.Document {
	out := make([]domain.Document, len(i.docs))
	copy(out, i.docs)
	return out
}

// Vector returns the vector of document n. The slice must not be modified.
func (i *Index) Vector(n int) []float32 { return i.vectors[n] }

// Manifest describes the index for persistence.
func (i *Index) Manifest() Manifest {
	return Manifest{
		Backend:        i.backend,
		Version:        ManifestVersion,
		Dimension:      i.dimension,
		Count:          len(i.docs),
		EmbeddingModel: i.model,
		CreatedAt:      i.createdAt,
	}
}

// withBackend returns a copy of the index re-targeted to another backend's layout.
// Documents and vectors are shared.
func (i *Index) withBackend(backend string) *Index {
	return &Index{
		backend:   backend,
		model:     i.model,
		dimension: i.dimension,
		createdAt: i.createdAt,
		docs:      i.docs,
		vectors:   i.vectors,
		norms:     i.norms,
	}
}

// Search returns up to k documents by descending cosine similarity to vec.
// Results scoring below threshold are dropped. Equal scores keep insertion order.
func (i *Index) Search(vec []float32, k int, threshold float64) (domain.RetrievalResult, error) {
	if len(vec) != i.dimension {
		return nil, fmt.Errorf("%w: query has %d dimensions, index has %d",
			domain.ErrVectorDimMismatch, len(vec), i.dimension)
	}
	if k <= 0 {
		return domain.RetrievalResult{}, nil
	}

	i.mu.RLock()
	defer i.mu.RUnlock()

	qn := norm(vec)
	scored := make(domain.RetrievalResult, 0, len(i.docs))
	for n, v := range i.vectors {
		score := cosine(vec, v, qn, i.norms[n])
		if score < threshold {
			continue
		}
		scored = append(scored, domain.ScoredDocument{Document: i.docs[n], Score: score})
	}

	sort.SliceStable(scored, func(a, b int) bool {
		return scored[a].Score > scored[b].Score
	})
	if len(scored) > k {
		scored = scored[:k]
	}
	return scored, nil
}

func cosine(a, b []float32, na, nb float64) float64 {
	if na == 0 || nb == 0 {
		return 0
	}
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	return dot / (na * nb)
}

func norm(v []float32) float64 {
	var sum float64
	for _, f := range v {
		sum += float64(f) * float64(f)
	}
	return math.Sqrt(sum)
}
