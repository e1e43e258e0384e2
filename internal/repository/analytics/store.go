// Package analytics persists answered questions in SQLite and aggregates them.
package analytics

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/kailas-cloud/portfolioqa/internal/domain"
	"github.com/kailas-cloud/portfolioqa/internal/repository/analytics/migrations"
)

// timeLayout is fixed-width so timestamps compare correctly as text.
const timeLayout = "2006-01-02T15:04:05.000000Z"

// DefaultPatternLimit is how many question prefixes Summary reports.
const DefaultPatternLimit = 5

// Store is the SQLite analytics store.
type Store struct {
	db   *sql.DB
	path string
	now  func() time.Time
}

// Open opens (or creates) the database at path and applies pending migrations.
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, domain.NewConfigurationError("analytics.path", "is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("creating analytics directory: %w", err)
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening analytics database: %w", err)
	}

	s := &Store{db: db, path: path, now: time.Now}
	if err := s.migrate(migrations.FS); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// Ping checks that the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// migrate runs every *.up.sql newer than the recorded schema version.
func (s *Store) migrate(fsys fs.FS) error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("creating schema_migrations table: %w", err)
	}

	var current int
	if err := s.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&current); err != nil {
		return fmt.Errorf("getting current version: %w", err)
	}

	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}

	var upFiles []string
	for _, entry := range entries {
		if strings.HasSuffix(entry.Name(), ".up.sql") {
			upFiles = append(upFiles, entry.Name())
		}
	}
	sort.Strings(upFiles)

	for _, name := range upFiles {
		var version int
		if _, err := fmt.Sscanf(name, "%d_", &version); err != nil {
			continue
		}
		if version <= current {
			continue
		}

		content, err := fs.ReadFile(fsys, name)
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", name, err)
		}
		if err := s.apply(version, string(content)); err != nil {
			return fmt.Errorf("executing migration %s: %w", name, err)
		}
	}
	return nil
}

func (s *Store) apply(version int, script string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(script); err != nil {
		return err
	}
	if _, err := tx.Exec("INSERT INTO schema_migrations (version) VALUES (?)", version); err != nil {
		return err
	}
	return tx.Commit()
}

// SchemaVersion returns the highest applied migration.
func (s *Store) SchemaVersion(ctx context.Context) (int, error) {
	var v int
	err := s.db.QueryRowContext(ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&v)
	return v, err
}

// Log records one interaction and returns its row id.
// A zero Timestamp is replaced by the current time.
func (s *Store) Log(ctx context.Context, in domain.Interaction) (int64, error) {
	ts := in.Timestamp
	if ts.IsZero() {
		ts = s.now()
	}

	var metadata sql.NullString
	if len(in.Metadata) > 0 {
		b, err := json.Marshal(in.Metadata)
		if err != nil {
			return 0, fmt.Errorf("marshalling metadata: %w", err)
		}
		metadata = sql.NullString{String: string(b), Valid: true}
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO question_analytics
			(timestamp, question, answer, source_count, response_time_ms,
			 linkedin_included, is_career_related, metadata, session_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		formatTime(ts), in.Question, in.Answer, in.SourceCount, in.ResponseTimeMS,
		in.LinkedInIncluded, in.IsCareerRelated, metadata, nullString(in.SessionID),
	)
	if err != nil {
		return 0, fmt.Errorf("inserting interaction: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("reading interaction id: %w", err)
	}
	return id, nil
}

// Summary aggregates the interactions of the last days days.
// Rates are percentages with one decimal; the average is rounded to two decimals.
func (s *Store) Summary(ctx context.Context, days int) (domain.AnalyticsSummary, error) {
	if days <= 0 {
		return domain.AnalyticsSummary{}, fmt.Errorf("%w: days must be positive", domain.ErrInvalidInput)
	}
	cutoff := s.cutoff(days)

	var (
		total, career, linkedin int
		avg                     sql.NullFloat64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			COALESCE(SUM(is_career_related), 0),
			COALESCE(SUM(linkedin_included), 0),
			AVG(response_time_ms)
		FROM question_analytics
		WHERE timestamp >= ?
	`, cutoff).Scan(&total, &career, &linkedin, &avg)
	if err != nil {
		return domain.AnalyticsSummary{}, fmt.Errorf("querying summary: %w", err)
	}

	patterns, err := s.TopPrefixes(ctx, days, DefaultPatternLimit)
	if err != nil {
		return domain.AnalyticsSummary{}, err
	}

	summary := domain.AnalyticsSummary{
		PeriodDays:         days,
		TotalInteractions:  total,
		CareerQuestions:    career,
		LinkedInInclusions: linkedin,
		CommonPatterns:     patterns,
	}
	if avg.Valid {
		v := round(avg.Float64, 2)
		summary.AvgResponseTimeMS = &v
	}
	if total > 0 {
		summary.CareerQuestionRate = round(float64(career)/float64(total)*100, 1)
		summary.LinkedInInclusionRate = round(float64(linkedin)/float64(total)*100, 1)
	}
	return summary, nil
}

// TopPrefixes counts the first three words of each question, lower-cased.
// Most frequent first; equal counts keep the order in which the prefix first appeared.
func (s *Store) TopPrefixes(ctx context.Context, days, limit int) ([]domain.PrefixCount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT question FROM question_analytics
		WHERE timestamp >= ?
		ORDER BY id
	`, s.cutoff(days))
	if err != nil {
		return nil, fmt.Errorf("querying questions: %w", err)
	}
	defer rows.Close()

	var counts []domain.PrefixCount
	pos := make(map[string]int)
	for rows.Next() {
		var q string
		if err := rows.Scan(&q); err != nil {
			return nil, fmt.Errorf("scanning question: %w", err)
		}
		prefix := Prefix(q)
		if prefix == "" {
			continue
		}
		if i, ok := pos[prefix]; ok {
			counts[i].Count++
			continue
		}
		pos[prefix] = len(counts)
		counts = append(counts, domain.PrefixCount{Prefix: prefix, Count: 1})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating questions: %w", err)
	}

	sort.SliceStable(counts, func(a, b int) bool {
		return counts[a].Count > counts[b].Count
	})
	if limit > 0 && len(counts) > limit {
		counts = counts[:limit]
	}
	if counts == nil {
		counts = []domain.PrefixCount{}
	}
	return counts, nil
}

// Prefix returns the first three whitespace-separated words of q, lower-cased.
func Prefix(q string) string {
	words := strings.Fields(q)
	if len(words) > 3 {
		words = words[:3]
	}
	return strings.ToLower(strings.Join(words, " "))
}

// Recent returns the newest interactions first.
func (s *Store) Recent(ctx context.Context, limit int) ([]domain.Interaction, error) {
	if limit <= 0 {
		limit = 10
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, timestamp, question, answer, source_count, response_time_ms,
		       linkedin_included, is_career_related, metadata, session_id
		FROM question_analytics
		ORDER BY timestamp DESC, id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying recent interactions: %w", err)
	}
	defer rows.Close()

	out := []domain.Interaction{}
	for rows.Next() {
		in, err := scanInteraction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, in)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating interactions: %w", err)
	}
	return out, nil
}

// Each calls fn for every interaction of the last days days, newest first.
// days <= 0 walks the whole table. An error from fn stops the walk and is returned.
func (s *Store) Each(ctx context.Context, days int, fn func(domain.Interaction) error) error {
	query := `
		SELECT id, timestamp, question, answer, source_count, response_time_ms,
		       linkedin_included, is_career_related, metadata, session_id
		FROM question_analytics`
	var args []any
	if days > 0 {
		query += " WHERE timestamp >= ?"
		args = append(args, s.cutoff(days))
	}
	query += " ORDER BY timestamp DESC, id DESC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("querying interactions: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		in, err := scanInteraction(rows)
		if err != nil {
			return err
		}
		if err := fn(in); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterating interactions: %w", err)
	}
	return nil
}

// Stats reports the row count, the timestamp range, the schema version
// and the on-disk size including the WAL.
func (s *Store) Stats(ctx context.Context) (domain.AnalyticsStats, error) {
	var (
		total            int
		earliest, latest sql.NullString
	)
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*), MIN(timestamp), MAX(timestamp) FROM question_analytics",
	).Scan(&total, &earliest, &latest)
	if err != nil {
		return domain.AnalyticsStats{}, fmt.Errorf("querying stats: %w", err)
	}

	version, err := s.SchemaVersion(ctx)
	if err != nil {
		return domain.AnalyticsStats{}, fmt.Errorf("querying schema version: %w", err)
	}

	stats := domain.AnalyticsStats{TotalRecords: total, Path: s.path, SchemaVersion: version}
	if t, ok := parseNullTime(earliest); ok {
		stats.Earliest = &t
	}
	if t, ok := parseNullTime(latest); ok {
		stats.Latest = &t
	}
	for _, f := range []string{s.path, s.path + "-wal"} {
		if fi, err := os.Stat(f); err == nil {
			stats.SizeBytes += fi.Size()
		}
	}
	return stats, nil
}

func scanInteraction(rows *sql.Rows) (domain.Interaction, error) {
	var (
		in        domain.Interaction
		ts        string
		respTime  sql.NullFloat64
		metadata  sql.NullString
		sessionID sql.NullString
	)
	if err := rows.Scan(
		&in.ID, &ts, &in.Question, &in.Answer, &in.SourceCount, &respTime,
		&in.LinkedInIncluded, &in.IsCareerRelated, &metadata, &sessionID,
	); err != nil {
		return domain.Interaction{}, fmt.Errorf("scanning interaction: %w", err)
	}

	t, err := time.Parse(timeLayout, ts)
	if err != nil {
		return domain.Interaction{}, fmt.Errorf("parsing timestamp %q: %w", ts, err)
	}
	in.Timestamp = t
	in.ResponseTimeMS = respTime.Float64
	in.SessionID = sessionID.String

	if metadata.Valid && metadata.String != "" {
		if err := json.Unmarshal([]byte(metadata.String), &in.Metadata); err != nil {
			return domain.Interaction{}, fmt.Errorf("unmarshalling metadata: %w", err)
		}
	}
	return in, nil
}

func (s *Store) cutoff(days int) string {
	return formatTime(s.now().AddDate(0, 0, -days))
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseNullTime(ns sql.NullString) (time.Time, bool) {
	if !ns.Valid {
		return time.Time{}, false
	}
	t, err := time.Parse(timeLayout, ns.String)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
