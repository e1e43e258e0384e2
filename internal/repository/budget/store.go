// Package budget persists token budget counters in the key-value store.
package budget

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/kailas-cloud/portfolioqa/internal/db"
	"github.com/kailas-cloud/portfolioqa/internal/domain"
)

const keyPrefix = "portfolioqa:budget:"

// kv is the consumer interface for budget operations (ISP).
type kv interface {
	Get(ctx context.Context, key string) ([]byte, error)
	IncrWithTTL(ctx context.Context, key string, val int64, ttl time.Duration) (int64, error)
}

// Store keeps one counter per account, period and window start.
type Store struct {
	kv       kv
	account  string
	dailyTTL time.Duration
	monthTTL time.Duration
}

// New creates a budget store for one provider account.
// Counters outlive their window by the TTL (recommended: 48h daily, 62 days monthly).
func New(s kv, account string, dailyTTL, monthTTL time.Duration) *Store {
	return &Store{kv: s, account: account, dailyTTL: dailyTTL, monthTTL: monthTTL}
}

// Add increments the window counter.
func (s *Store) Add(ctx context.Context, period domain.UsagePeriod, start time.Time, tokens int64) error {
	// The first write of a window fixes its expiry.
	if _, err := s.kv.IncrWithTTL(ctx, s.key(period, start), tokens, s.ttl(period)); err != nil {
		return fmt.Errorf("budget add %s: %w", period, err)
	}
	return nil
}

// Used returns the window counter, 0 when nothing was recorded yet.
func (s *Store) Used(ctx context.Context, period domain.UsagePeriod, start time.Time) (int64, error) {
	key := s.key(period, start)
	data, err := s.kv.Get(ctx, key)
	if err != nil {
		if errors.Is(err, db.ErrKeyNotFound) {
			return 0, nil
		}
		return 0, fmt.Errorf("budget used %s: %w", period, err)
	}

	val, err := strconv.ParseInt(string(data), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("budget used %s: parse %q: %w", period, data, err)
	}
	return val, nil
}

// key renders portfolioqa:budget:{account}:day:2026-10-14 or ...:month:2026-10.
func (s *Store) key(period domain.UsagePeriod, start time.Time) string {
	layout := "2006-01-02"
	if period == domain.PeriodMonth {
		layout = "2006-01"
	}
	return keyPrefix + s.account + ":" + string(period) + ":" + start.UTC().Format(layout)
}

func (s *Store) ttl(period domain.UsagePeriod) time.Duration {
	if period == domain.PeriodMonth {
		return s.monthTTL
	}
	return s.dailyTTL
}
