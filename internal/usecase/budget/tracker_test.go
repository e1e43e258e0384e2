package budget

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/kailas-cloud/portfolioqa/internal/domain"
)

// clock is a settable time source.
type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

func newTestTracker(limits Limits, policy Policy, c *clock) *Tracker {
	tr := New("openai", limits, policy, nil)
	tr.now = c.Now
	for i := range tr.windows {
		tr.windows[i].start = PeriodStart(tr.windows[i].period, c.Now())
	}
	return tr
}

type storeKey struct {
	period domain.UsagePeriod
	start  time.Time
}

type memStore struct {
	mu      sync.Mutex
	data    map[storeKey]int64
	getErr  error
	addErr  error
	addCall int
}

func newMemStore() *memStore { return &memStore{data: make(map[storeKey]int64)} }

func (m *memStore) Add(_ context.Context, p domain.UsagePeriod, start time.Time, tokens int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.addCall++
	if m.addErr != nil {
		return m.addErr
	}
	m.data[storeKey{p, start}] += tokens
	return nil
}

func (m *memStore) Used(_ context.Context, p domain.UsagePeriod, start time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return 0, m.getErr
	}
	return m.data[storeKey{p, start}], nil
}

var noon = time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

func TestTracker_RejectWhenDailyExhausted(t *testing.T) {
	c := &clock{now: noon}
	tr := newTestTracker(Limits{Daily: 100}, PolicyReject, c)

	if err := tr.Check(context.Background()); err != nil {
		t.Fatalf("fresh budget must pass: %v", err)
	}
	tr.Record(100)

	err := tr.Check(context.Background())
	if !errors.Is(err, domain.ErrQuotaExceeded) {
		t.Fatalf("expected ErrQuotaExceeded, got %v", err)
	}
}

func TestTracker_RejectWhenMonthlyExhausted(t *testing.T) {
	c := &clock{now: noon}
	tr := newTestTracker(Limits{Monthly: 500}, PolicyReject, c)

	tr.Record(500)

	if err := tr.Check(context.Background()); !errors.Is(err, domain.ErrQuotaExceeded) {
		t.Fatalf("expected ErrQuotaExceeded for monthly limit, got %v", err)
	}
}

func TestTracker_WarnLetsRequestsThrough(t *testing.T) {
	c := &clock{now: noon}
	tr := newTestTracker(Limits{Daily: 100}, PolicyWarn, c)

	tr.Record(250)

	if err := tr.Check(context.Background()); err != nil {
		t.Fatalf("warn policy must not fail, got %v", err)
	}
	if got := tr.Remaining(domain.PeriodDay); got != 0 {
		t.Errorf("remaining must clamp at 0, got %d", got)
	}
}

func TestTracker_Unlimited(t *testing.T) {
	c := &clock{now: noon}
	tr := newTestTracker(Limits{}, PolicyReject, c)

	tr.Record(1 << 40)

	if err := tr.Check(context.Background()); err != nil {
		t.Fatalf("unlimited budget must pass, got %v", err)
	}
	if got := tr.Remaining(domain.PeriodMonth); got != -1 {
		t.Errorf("remaining = %d, want -1", got)
	}
}

func TestTracker_DayRollover(t *testing.T) {
	c := &clock{now: noon}
	tr := newTestTracker(Limits{Daily: 100, Monthly: 1000}, PolicyReject, c)
	tr.Record(100)

	c.Set(noon.Add(13 * time.Hour)) // next day, same month

	if err := tr.Check(context.Background()); err != nil {
		t.Fatalf("new day must reset the daily window: %v", err)
	}
	if _, used := tr.Usage(domain.PeriodDay); used != 0 {
		t.Errorf("daily used = %d, want 0", used)
	}
	if _, used := tr.Usage(domain.PeriodMonth); used != 100 {
		t.Errorf("monthly used = %d, want 100", used)
	}
}

func TestTracker_MonthRollover(t *testing.T) {
	c := &clock{now: time.Date(2026, 3, 31, 23, 0, 0, 0, time.UTC)}
	tr := newTestTracker(Limits{Monthly: 10}, PolicyReject, c)
	tr.Record(10)

	c.Set(time.Date(2026, 4, 1, 0, 30, 0, 0, time.UTC))

	if got := tr.Remaining(domain.PeriodMonth); got != 10 {
		t.Errorf("remaining after rollover = %d, want 10", got)
	}
}

func TestTracker_IgnoresNonPositiveTokens(t *testing.T) {
	c := &clock{now: noon}
	store := newMemStore()
	tr := newTestTracker(Limits{Daily: 10}, PolicyReject, c).WithStore(context.Background(), store)

	tr.Record(0)
	tr.Record(-5)

	if _, used := tr.Usage(domain.PeriodDay); used != 0 {
		t.Errorf("used = %d, want 0", used)
	}
	if store.addCall != 0 {
		t.Errorf("store must not be written, got %d calls", store.addCall)
	}
}

func TestTracker_StoreRoundTrip(t *testing.T) {
	c := &clock{now: noon}
	store := newMemStore()

	first := newTestTracker(Limits{Daily: 1000, Monthly: 5000}, PolicyReject, c).WithStore(context.Background(), store)
	first.Record(300)

	// A restarted process picks up where the previous one stopped.
	second := newTestTracker(Limits{Daily: 1000, Monthly: 5000}, PolicyReject, c).WithStore(context.Background(), store)
	if _, used := second.Usage(domain.PeriodDay); used != 300 {
		t.Errorf("daily used after reload = %d, want 300", used)
	}
	if got := second.Remaining(domain.PeriodMonth); got != 4700 {
		t.Errorf("monthly remaining after reload = %d, want 4700", got)
	}
}

func TestTracker_StoreErrorsAreNotFatal(t *testing.T) {
	c := &clock{now: noon}
	store := newMemStore()
	store.getErr = errors.New("connection refused")
	store.addErr = errors.New("connection refused")

	tr := newTestTracker(Limits{Daily: 100}, PolicyReject, c).WithStore(context.Background(), store)
	tr.Record(40)

	if _, used := tr.Usage(domain.PeriodDay); used != 40 {
		t.Errorf("in-memory counter must keep working, used = %d", used)
	}
}

func TestTracker_ConcurrentRecord(t *testing.T) {
	c := &clock{now: noon}
	tr := newTestTracker(Limits{Daily: 1_000_000}, PolicyReject, c)

	var wg sync.WaitGroup
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 20 {
				tr.Record(1)
				_ = tr.Check(context.Background())
			}
		}()
	}
	wg.Wait()

	if _, used := tr.Usage(domain.PeriodDay); used != 1000 {
		t.Errorf("used = %d, want 1000", used)
	}
}

func TestPeriodBounds(t *testing.T) {
	at := time.Date(2026, 12, 31, 20, 45, 0, 0, time.FixedZone("UTC-5", -5*3600))

	if got := PeriodStart(domain.PeriodDay, at); !got.Equal(time.Date(2027, 1, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("day start = %v", got)
	}
	start := PeriodStart(domain.PeriodMonth, at)
	if !start.Equal(time.Date(2027, 1, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("month start = %v", start)
	}
	if end := PeriodEnd(domain.PeriodMonth, start); !end.Equal(time.Date(2027, 2, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("month end = %v", end)
	}
}

func TestParsePolicy(t *testing.T) {
	if ParsePolicy("reject") != PolicyReject {
		t.Error("reject must parse")
	}
	for _, s := range []string{"", "warn", "bogus"} {
		if ParsePolicy(s) != PolicyWarn {
			t.Errorf("ParsePolicy(%q) must default to warn", s)
		}
	}
}
