package db

import (
	"context"
	"time"
)

// Store is the key-value facade shared by the embedding cache and the token budget.
type Store interface {
	Pinger
	KVStore
	Close()
	WaitForReady(ctx context.Context, timeout time.Duration) error
}

// Pinger checks database connectivity.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Entry is one key and its value for a batched write.
type Entry struct {
	Key   string
	Value []byte
}

// KVStore is the small command surface the cache and the budget need.
// Batched calls cost one round trip.
type KVStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	// GetMany returns values aligned with keys, nil for a missing key.
	GetMany(ctx context.Context, keys []string) ([][]byte, error)
	// SetMany writes all entries, with expiry when ttl > 0.
	SetMany(ctx context.Context, entries []Entry, ttl time.Duration) error
	// IncrWithTTL adds val to a counter and returns the new value.
	// The ttl is set only on the write that creates the counter.
	IncrWithTTL(ctx context.Context, key string, val int64, ttl time.Duration) (int64, error)
}
