package redis

import (
	"context"
	"time"

	"github.com/redis/rueidis"

	"github.com/kailas-cloud/portfolioqa/internal/db"
)

// Get retrieves a value by key.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := s.client.Do(ctx, s.client.B().Get().Key(key).Build()).AsBytes()
	if err != nil {
		if rueidis.IsRedisNil(err) {
			return nil, db.ErrKeyNotFound
		}
		return nil, &db.Error{Op: db.OpGet, Key: key, Err: err}
	}
	return data, nil
}

// GetMany pipelines one GET per key. Each command is routed on its own,
// so keys may live in different cluster slots.
func (s *Store) GetMany(ctx context.Context, keys []string) ([][]byte, error) {
	if len(keys) == 0 {
		return nil, nil
	}

	cmds := make(rueidis.Commands, len(keys))
	for i, key := range keys {
		cmds[i] = s.client.B().Get().Key(key).Build()
	}

	values := make([][]byte, len(keys))
	for i, res := range s.client.DoMulti(ctx, cmds...) {
		data, err := res.AsBytes()
		if err != nil {
			if rueidis.IsRedisNil(err) {
				continue
			}
			return nil, &db.Error{Op: db.OpGet, Key: keys[i], Err: err}
		}
		values[i] = data
	}
	return values, nil
}

// SetMany pipelines one SET per entry. Values are sent as binary strings.
func (s *Store) SetMany(ctx context.Context, entries []db.Entry, ttl time.Duration) error {
	if len(entries) == 0 {
		return nil
	}

	cmds := make(rueidis.Commands, len(entries))
	for i, e := range entries {
		set := s.client.B().Set().Key(e.Key).Value(rueidis.BinaryString(e.Value))
		if ttl > 0 {
			cmds[i] = set.Ex(ttl).Build()
		} else {
			cmds[i] = set.Build()
		}
	}

	for i, res := range s.client.DoMulti(ctx, cmds...) {
		if err := res.Error(); err != nil {
			return &db.Error{Op: db.OpSet, Key: entries[i].Key, Err: err}
		}
	}
	return nil
}

// IncrWithTTL sends INCRBY and EXPIRE NX in one pipeline.
func (s *Store) IncrWithTTL(ctx context.Context, key string, val int64, ttl time.Duration) (int64, error) {
	incr := s.client.B().Incrby().Key(key).Increment(val).Build()
	expire := s.client.B().Expire().Key(key).Seconds(int64(ttl / time.Second)).Nx().Build()

	res := s.client.DoMulti(ctx, incr, expire)
	n, err := res[0].AsInt64()
	if err != nil {
		return 0, &db.Error{Op: db.OpIncrBy, Key: key, Err: err}
	}
	if err := res[1].Error(); err != nil {
		return n, &db.Error{Op: db.OpExpire, Key: key, Err: err}
	}
	return n, nil
}
