// Package health aggregates component checks into the report served by /api/health.
package health

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kailas-cloud/portfolioqa/internal/domain"
)

// DefaultProbeTimeout bounds each probe when New gets zero.
const DefaultProbeTimeout = 3 * time.Second

// Status is the aggregated state.
type Status string

const (
	Healthy   Status = "ok"
	Degraded  Status = "degraded" // a dependency failed, questions are still answered
	Unhealthy Status = "error"    // the index cannot serve questions
)

// CheckResult is one component outcome.
type CheckResult string

const (
	CheckOK      CheckResult = "ok"
	CheckPending CheckResult = "pending" // index is built on the first question
	CheckError   CheckResult = "error"
)

// Component names in the report.
const (
	ComponentIndex     = "index"
	ComponentEmbedding = "embedding"
	ComponentCache     = "cache"
	ComponentAnalytics = "analytics"
)

// Report aggregates health check results.
// Errors holds the failure message per failing component and is not served over HTTP.
type Report struct {
	Status Status
	Checks map[string]CheckResult
	Errors map[string]string
}

// Failed lists failing components in name order.
func (r Report) Failed() []string {
	var out []string
	for name, res := range r.Checks {
		if res == CheckError {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

type namedProbe struct {
	name  string
	probe Probe
}

// Service runs the index check and the registered probes concurrently.
type Service struct {
	index   IndexChecker
	timeout time.Duration
	probes  []namedProbe
}

// New creates a Service around the index check.
func New(index IndexChecker, timeout time.Duration) *Service {
	if timeout <= 0 {
		timeout = DefaultProbeTimeout
	}
	return &Service{index: index, timeout: timeout}
}

// With registers an optional component. A nil probe is skipped and its check is absent.
func (s *Service) With(component string, probe Probe) *Service {
	if probe != nil {
		s.probes = append(s.probes, namedProbe{name: component, probe: probe})
	}
	return s
}

// Check runs every probe under its own timeout. A slow component only fails itself.
func (s *Service) Check(ctx context.Context) Report {
	r := Report{Checks: make(map[string]CheckResult, len(s.probes)+1), Errors: map[string]string{}}
	var mu sync.Mutex
	record := func(name string, res CheckResult, err error) {
		mu.Lock()
		defer mu.Unlock()
		r.Checks[name] = res
		if err != nil && res == CheckError {
			r.Errors[name] = err.Error()
		}
	}

	var g errgroup.Group
	g.Go(func() error {
		err := s.run(ctx, s.index.CheckIndex)
		var mismatch *domain.BackendMismatchError
		switch {
		case err == nil:
			record(ComponentIndex, CheckOK, nil)
		case errors.As(err, &mismatch):
			// a rebuild would not replace another backend's directory
			record(ComponentIndex, CheckError, err)
		case errors.Is(err, domain.ErrIndexNotFound):
			record(ComponentIndex, CheckPending, nil)
		default:
			record(ComponentIndex, CheckError, err)
		}
		return nil
	})
	for _, p := range s.probes {
		g.Go(func() error {
			err := s.run(ctx, p.probe)
			if err != nil {
				record(p.name, CheckError, err)
			} else {
				record(p.name, CheckOK, nil)
			}
			return nil
		})
	}
	_ = g.Wait()

	switch {
	case r.Checks[ComponentIndex] == CheckError:
		r.Status = Unhealthy
	case len(r.Failed()) > 0:
		r.Status = Degraded
	default:
		r.Status = Healthy
	}
	return r
}

func (s *Service) run(ctx context.Context, probe Probe) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return probe(ctx)
}
