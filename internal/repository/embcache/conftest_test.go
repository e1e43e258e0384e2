package embcache

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/kailas-cloud/portfolioqa/internal/db"
	"github.com/kailas-cloud/portfolioqa/internal/domain"
)

// mockEmbedder returns vec for every text and counts calls.
type mockEmbedder struct {
	vec          []float32
	tokensPer    int
	err          error
	embedCalls   int
	batchCalls   int
	lastBatchLen int
}

func (m *mockEmbedder) Embed(_ context.Context, _ string) (domain.EmbeddingResult, error) {
	m.embedCalls++
	if m.err != nil {
		return domain.EmbeddingResult{}, m.err
	}
	return domain.EmbeddingResult{Embedding: m.vec, PromptTokens: m.tokensPer, TotalTokens: m.tokensPer}, nil
}

func (m *mockEmbedder) BatchEmbed(_ context.Context, texts []string) (domain.BatchEmbeddingResult, error) {
	m.batchCalls++
	m.lastBatchLen = len(texts)
	if m.err != nil {
		return domain.BatchEmbeddingResult{}, m.err
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = m.vec
	}
	n := m.tokensPer * len(texts)
	return domain.BatchEmbeddingResult{Embeddings: out, PromptTokens: n, TotalTokens: n}, nil
}

// memKV is an in-memory GetMany/SetMany store.
type memKV struct {
	mu      sync.Mutex
	data    map[string][]byte
	getErr  error
	setErr  error
	gets    int
	sets    int
	lastTTL time.Duration
}

func newMemKV() *memKV { return &memKV{data: map[string][]byte{}} }

func (m *memKV) GetMany(_ context.Context, keys []string) ([][]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gets++
	if m.getErr != nil {
		return nil, m.getErr
	}
	out := make([][]byte, len(keys))
	for i, k := range keys {
		out[i] = m.data[k]
	}
	return out, nil
}

func (m *memKV) SetMany(_ context.Context, entries []db.Entry, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sets++
	m.lastTTL = ttl
	if m.setErr != nil {
		return m.setErr
	}
	for _, e := range entries {
		m.data[e.Key] = e.Value
	}
	return nil
}

func newTestCache(t *testing.T, inner *mockEmbedder, cfg Config) (*CachedEmbedder, *memKV) {
	t.Helper()
	kv := newMemKV()
	if cfg.Model == "" {
		cfg.Model = "text-embedding-3-small"
	}
	return New(inner, kv, cfg), kv
}
