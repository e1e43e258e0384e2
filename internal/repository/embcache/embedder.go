// Package embcache caches embedding vectors in the key-value store so index rebuilds
// and repeated questions skip the provider.
package embcache

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/kailas-cloud/portfolioqa/internal/db"
	"github.com/kailas-cloud/portfolioqa/internal/domain"
)

const (
	keyPrefix = "portfolioqa:emb_cache:"
	// formatV1 prefixes little-endian float32 payloads.
	formatV1 byte = 1
)

type store interface {
	GetMany(ctx context.Context, keys []string) ([][]byte, error)
	SetMany(ctx context.Context, entries []db.Entry, ttl time.Duration) error
}

// Config tunes the cache.
type Config struct {
	// Model is part of every key: switching models never serves stale vectors.
	Model string
	// Dimensions is the requested vector length, 0 for the model default.
	// It is part of every key, and hits of another length count as misses.
	Dimensions int
	// TTL of 0 keeps entries forever.
	TTL time.Duration
	// CacheTotal counts lookups by "result" label (hit, miss). Optional.
	CacheTotal *prometheus.CounterVec
	Logger     *zap.Logger
}

// CachedEmbedder wraps a domain.Embedder with a read-through cache.
type CachedEmbedder struct {
	inner domain.Embedder
	store store
	cfg   Config
}

// New creates a caching decorator.
func New(inner domain.Embedder, s store, cfg Config) *CachedEmbedder {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &CachedEmbedder{inner: inner, store: s, cfg: cfg}
}

// Validate delegates the readiness check to the wrapped embedder.
func (c *CachedEmbedder) Validate() error {
	return domain.Validate(c.inner)
}

// HealthCheck delegates to the wrapped embedder when it supports health checks.
func (c *CachedEmbedder) HealthCheck(ctx context.Context) error {
	if hc, ok := c.inner.(domain.HealthChecker); ok {
		return hc.HealthCheck(ctx)
	}
	return nil
}

// Embed serves a cached vector with zero token usage, or embeds and caches.
func (c *CachedEmbedder) Embed(ctx context.Context, text string) (domain.EmbeddingResult, error) {
	keys := []string{c.key(text)}
	if vec := c.lookup(ctx, keys)[0]; vec != nil {
		return domain.EmbeddingResult{Embedding: vec}, nil
	}

	res, err := c.inner.Embed(ctx, text)
	if err != nil {
		return domain.EmbeddingResult{}, fmt.Errorf("embed text: %w", err)
	}
	c.save(ctx, keys, [][]float32{res.Embedding})
	return res, nil
}

// BatchEmbed sends only uncached texts to the inner embedder, each distinct text once.
// Token usage counts that single call, so a fully cached batch costs nothing.
func (c *CachedEmbedder) BatchEmbed(ctx context.Context, texts []string) (domain.BatchEmbeddingResult, error) {
	if len(texts) == 0 {
		return domain.BatchEmbeddingResult{}, nil
	}

	keys := make([]string, len(texts))
	for i, t := range texts {
		keys[i] = c.key(t)
	}
	vectors := c.lookup(ctx, keys)

	// missing text -> positions waiting for it
	pending := make(map[string][]int)
	var missTexts, missKeys []string
	for i, vec := range vectors {
		if vec != nil {
			continue
		}
		if _, seen := pending[keys[i]]; !seen {
			missTexts = append(missTexts, texts[i])
			missKeys = append(missKeys, keys[i])
		}
		pending[keys[i]] = append(pending[keys[i]], i)
	}
	if len(missTexts) == 0 {
		return domain.BatchEmbeddingResult{Embeddings: vectors}, nil
	}

	res, err := c.inner.BatchEmbed(ctx, missTexts)
	if err != nil {
		return domain.BatchEmbeddingResult{}, fmt.Errorf("batch embed texts: %w", err)
	}
	if len(res.Embeddings) != len(missTexts) {
		return domain.BatchEmbeddingResult{}, fmt.Errorf("batch embed returned %d vectors for %d texts: %w",
			len(res.Embeddings), len(missTexts), domain.ErrProvider)
	}

	for j, key := range missKeys {
		for _, i := range pending[key] {
			vectors[i] = res.Embeddings[j]
		}
	}
	c.save(ctx, missKeys, res.Embeddings)

	return domain.BatchEmbeddingResult{
		Embeddings:   vectors,
		PromptTokens: res.PromptTokens,
		TotalTokens:  res.TotalTokens,
	}, nil
}

// lookup never fails: an unreachable store or a corrupt entry reads as a miss.
func (c *CachedEmbedder) lookup(ctx context.Context, keys []string) [][]float32 {
	vectors := make([][]float32, len(keys))

	raw, err := c.store.GetMany(ctx, keys)
	if err != nil {
		c.cfg.Logger.Warn("Embedding cache unavailable", zap.Int("keys", len(keys)), zap.Error(err))
		c.count("miss", len(keys))
		return vectors
	}

	hits := 0
	for i, data := range raw {
		if data == nil {
			continue
		}
		vec, err := decode(data)
		if err != nil {
			c.cfg.Logger.Warn("Dropping corrupt cache entry", zap.String("key", keys[i]), zap.Error(err))
			continue
		}
		if c.cfg.Dimensions > 0 && len(vec) != c.cfg.Dimensions {
			continue
		}
		vectors[i] = vec
		hits++
	}
	c.count("hit", hits)
	c.count("miss", len(keys)-hits)
	return vectors
}

func (c *CachedEmbedder) save(ctx context.Context, keys []string, vectors [][]float32) {
	entries := make([]db.Entry, len(keys))
	for i, key := range keys {
		entries[i] = db.Entry{Key: key, Value: encode(vectors[i])}
	}
	if err := c.store.SetMany(ctx, entries, c.cfg.TTL); err != nil {
		c.cfg.Logger.Warn("Failed to cache embeddings", zap.Int("entries", len(entries)), zap.Error(err))
	}
}

func (c *CachedEmbedder) count(result string, n int) {
	if c.cfg.CacheTotal != nil && n > 0 {
		c.cfg.CacheTotal.WithLabelValues(result).Add(float64(n))
	}
}

func (c *CachedEmbedder) key(text string) string {
	h := sha256.Sum256([]byte(c.cfg.Model + "\x00" + strconv.Itoa(c.cfg.Dimensions) + "\x00" + text))
	return keyPrefix + hex.EncodeToString(h[:])
}

func encode(v []float32) []byte {
	buf := make([]byte, 1+len(v)*4)
	buf[0] = formatV1
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[1+i*4:], math.Float32bits(f))
	}
	return buf
}

var errBadEntry = errors.New("malformed cache entry")

func decode(data []byte) ([]float32, error) {
	if len(data) < 5 || data[0] != formatV1 || (len(data)-1)%4 != 0 {
		return nil, fmt.Errorf("%w: %d bytes", errBadEntry, len(data))
	}
	body := data[1:]
	vec := make([]float32, len(body)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(body[i*4:]))
	}
	return vec, nil
}
