// Package analytics records answered questions without ever failing the answer path.
package analytics

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/kailas-cloud/portfolioqa/internal/domain"
)

// DefaultWriteTimeout bounds a single analytics write.
const DefaultWriteTimeout = 2 * time.Second

// Service is the analytics sink. repo may be nil, which disables recording.
type Service struct {
	repo     Repository
	timeout  time.Duration
	failures prometheus.Counter
	logger   *zap.Logger
}

// New creates an analytics service. failures may be nil.
func New(repo Repository, timeout time.Duration, failures prometheus.Counter, logger *zap.Logger) *Service {
	if timeout <= 0 {
		timeout = DefaultWriteTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{repo: repo, timeout: timeout, failures: failures, logger: logger}
}

// Enabled reports whether a store is attached.
func (s *Service) Enabled() bool { return s.repo != nil }

// Record writes the interaction. Failures are logged and counted, never returned.
// The write outlives caller cancellation but not the configured timeout.
func (s *Service) Record(ctx context.Context, in domain.Interaction) {
	if s.repo == nil {
		return
	}
	if in.Timestamp.IsZero() {
		in.Timestamp = time.Now().UTC()
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
	defer cancel()

	id, err := s.repo.Log(ctx, in)
	if err != nil {
		if s.failures != nil {
			s.failures.Inc()
		}
		s.logger.Warn("Failed to record interaction",
			zap.String("session_id", in.SessionID),
			zap.Error(err),
		)
		return
	}
	s.logger.Debug("Interaction recorded", zap.Int64("id", id), zap.String("session_id", in.SessionID))
}

// Summary aggregates the last days days.
func (s *Service) Summary(ctx context.Context, days int) (domain.AnalyticsSummary, error) {
	if s.repo == nil {
		return domain.AnalyticsSummary{}, domain.NewConfigurationError("analytics.enabled", "is false")
	}
	return s.repo.Summary(ctx, days)
}

// Recent returns the newest interactions.
func (s *Service) Recent(ctx context.Context, limit int) ([]domain.Interaction, error) {
	if s.repo == nil {
		return nil, domain.NewConfigurationError("analytics.enabled", "is false")
	}
	return s.repo.Recent(ctx, limit)
}

// Stats describes the analytics database.
func (s *Service) Stats(ctx context.Context) (domain.AnalyticsStats, error) {
	if s.repo == nil {
		return domain.AnalyticsStats{}, domain.NewConfigurationError("analytics.enabled", "is false")
	}
	return s.repo.Stats(ctx)
}

// exportHeader is the column order of Export.
var exportHeader = []string{
	"id", "timestamp", "question", "answer", "source_count", "response_time_ms",
	"linkedin_included", "is_career_related", "session_id", "metadata",
}

// Export writes the interactions of the last days days as CSV, newest first,
// and returns how many rows were written. days <= 0 exports everything.
func (s *Service) Export(ctx context.Context, days int, w io.Writer) (int, error) {
	if s.repo == nil {
		return 0, domain.NewConfigurationError("analytics.enabled", "is false")
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(exportHeader); err != nil {
		return 0, fmt.Errorf("write header: %w", err)
	}

	n := 0
	err := s.repo.Each(ctx, days, func(in domain.Interaction) error {
		row, err := exportRow(in)
		if err != nil {
			return err
		}
		n++
		return cw.Write(row)
	})
	if err != nil {
		return n, fmt.Errorf("export interactions: %w", err)
	}

	cw.Flush()
	if err := cw.Error(); err != nil {
		return n, fmt.Errorf("flush export: %w", err)
	}
	return n, nil
}

func exportRow(in domain.Interaction) ([]string, error) {
	var metadata string
	if len(in.Metadata) > 0 {
		data, err := json.Marshal(in.Metadata)
		if err != nil {
			return nil, fmt.Errorf("marshal metadata of %d: %w", in.ID, err)
		}
		metadata = string(data)
	}
	return []string{
		strconv.FormatInt(in.ID, 10),
		in.Timestamp.UTC().Format(time.RFC3339Nano),
		in.Question,
		in.Answer,
		strconv.Itoa(in.SourceCount),
		strconv.FormatFloat(in.ResponseTimeMS, 'f', -1, 64),
		strconv.FormatBool(in.LinkedInIncluded),
		strconv.FormatBool(in.IsCareerRelated),
		in.SessionID,
		metadata,
	}, nil
}
