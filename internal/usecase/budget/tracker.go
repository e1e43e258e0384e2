// Package budget caps the tokens spent on the OpenAI account per day and per month.
// Embeddings and generation draw from the same tracker.
package budget

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/portfolioqa/internal/domain"
)

// storeWriteTimeout bounds the write-behind to the persistence store.
const storeWriteTimeout = 2 * time.Second

// Policy defines what happens once a limit is reached.
type Policy string

const (
	// PolicyWarn logs and lets the request through.
	PolicyWarn Policy = "warn"
	// PolicyReject fails the request with ErrQuotaExceeded.
	PolicyReject Policy = "reject"
)

// ParsePolicy maps a config value to a Policy. Anything but "reject" warns.
func ParsePolicy(s string) Policy {
	if Policy(s) == PolicyReject {
		return PolicyReject
	}
	return PolicyWarn
}

// Limits are token caps per period. Zero means unlimited.
type Limits struct {
	Daily   int64
	Monthly int64
}

// Enabled reports whether any cap is set.
func (l Limits) Enabled() bool { return l.Daily > 0 || l.Monthly > 0 }

// Store persists counters so they survive restarts.
// Add must be safe to call repeatedly for the same window.
type Store interface {
	Add(ctx context.Context, period domain.UsagePeriod, start time.Time, tokens int64) error
	Used(ctx context.Context, period domain.UsagePeriod, start time.Time) (int64, error)
}

type window struct {
	period domain.UsagePeriod
	limit  int64
	used   int64
	start  time.Time
}

// roll zeroes the counter once now is past the window.
func (w *window) roll(now time.Time) {
	if s := PeriodStart(w.period, now); s.After(w.start) {
		w.start = s
		w.used = 0
	}
}

func (w *window) exhausted() bool { return w.limit > 0 && w.used >= w.limit }

func (w *window) remaining() int64 {
	if w.limit <= 0 {
		return -1
	}
	return max(w.limit-w.used, 0)
}

// Tracker counts tokens in memory with optional write-behind persistence.
// Check never leaves the process.
type Tracker struct {
	mu      sync.Mutex
	name    string
	policy  Policy
	windows [2]window // day, month
	store   Store
	logger  *zap.Logger
	now     func() time.Time
}

// New creates a tracker. name identifies the account in logs and store keys.
func New(name string, limits Limits, policy Policy, logger *zap.Logger) *Tracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	t := &Tracker{name: name, policy: policy, logger: logger, now: time.Now}
	now := t.now().UTC()
	t.windows[0] = window{period: domain.PeriodDay, limit: limits.Daily, start: PeriodStart(domain.PeriodDay, now)}
	t.windows[1] = window{period: domain.PeriodMonth, limit: limits.Monthly, start: PeriodStart(domain.PeriodMonth, now)}
	return t
}

// Name returns the account name.
func (t *Tracker) Name() string { return t.name }

// WithStore attaches a persistence store and loads the current counters from it.
// A store that cannot be read leaves the counters at zero.
func (t *Tracker) WithStore(ctx context.Context, s Store) *Tracker {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.store = s
	now := t.now().UTC()
	for i := range t.windows {
		w := &t.windows[i]
		w.roll(now)
		used, err := s.Used(ctx, w.period, w.start)
		if err != nil {
			t.logger.Warn("Failed to load token budget", zap.String("period", string(w.period)), zap.Error(err))
			continue
		}
		w.used = used
	}

	t.logger.Info("Token budget loaded",
		zap.String("account", t.name),
		zap.Int64("daily_used", t.windows[0].used),
		zap.Int64("monthly_used", t.windows[1].used),
	)
	return t
}

// Check reports whether another provider call may be made.
func (t *Tracker) Check(_ context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now().UTC()
	var hit *window
	for i := range t.windows {
		w := &t.windows[i]
		w.roll(now)
		if hit == nil && w.exhausted() {
			hit = w
		}
	}
	if hit == nil {
		return nil
	}

	if t.policy == PolicyReject {
		return fmt.Errorf("%w: %s %s budget %d/%d, resets at %s", domain.ErrQuotaExceeded,
			t.name, hit.period, hit.used, hit.limit, PeriodEnd(hit.period, hit.start).Format(time.RFC3339))
	}

	t.logger.Warn("Token budget exceeded",
		zap.String("account", t.name),
		zap.String("period", string(hit.period)),
		zap.Int64("used", hit.used),
		zap.Int64("limit", hit.limit),
	)
	return nil
}

// Record adds consumed tokens, then writes them behind to the store.
func (t *Tracker) Record(tokens int64) {
	if tokens <= 0 {
		return
	}

	t.mu.Lock()
	now := t.now().UTC()
	var windows [2]window
	for i := range t.windows {
		w := &t.windows[i]
		w.roll(now)
		w.used += tokens
		windows[i] = *w
	}
	s := t.store
	t.mu.Unlock()

	if s == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), storeWriteTimeout)
	defer cancel()
	for _, w := range windows {
		if err := s.Add(ctx, w.period, w.start, tokens); err != nil {
			t.logger.Warn("Failed to persist token budget", zap.String("period", string(w.period)), zap.Error(err))
		}
	}
}

// Usage returns the cap and the consumption of the current window.
func (t *Tracker) Usage(period domain.UsagePeriod) (limit, used int64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	w := t.window(period)
	if w == nil {
		return 0, 0
	}
	w.roll(t.now().UTC())
	return w.limit, w.used
}

// Remaining returns tokens left in the current window, -1 when unlimited.
func (t *Tracker) Remaining(period domain.UsagePeriod) int64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	w := t.window(period)
	if w == nil {
		return -1
	}
	w.roll(t.now().UTC())
	return w.remaining()
}

func (t *Tracker) window(period domain.UsagePeriod) *window {
	for i := range t.windows {
		if t.windows[i].period == period {
			return &t.windows[i]
		}
	}
	return nil
}

// PeriodStart returns the UTC start of the window containing now.
func PeriodStart(period domain.UsagePeriod, now time.Time) time.Time {
	now = now.UTC()
	if period == domain.PeriodMonth {
		return time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	}
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
}

// PeriodEnd returns when the window that began at start resets.
func PeriodEnd(period domain.UsagePeriod, start time.Time) time.Time {
	if period == domain.PeriodMonth {
		return start.AddDate(0, 1, 0)
	}
	return start.AddDate(0, 0, 1)
}
