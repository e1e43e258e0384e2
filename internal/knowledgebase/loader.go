// Package knowledgebase parses the portfolio record file into documents.
package knowledgebase

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/kailas-cloud/portfolioqa/internal/domain"
)

// DefaultSourceColumn is the column read by the legacy single-column format.
const DefaultSourceColumn = "Answer"

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// Column aliases, compared after lower-casing and trimming.
var (
	questionAliases = []string{"question", "questions", "q"}
	answerAliases   = []string{"answer", "answers", "a", "response"}
	categoryAliases = []string{"category", "topic", "section"}
	keywordAliases  = []string{"keywords", "keyword", "tags"}
)

// Loader reads knowledge base files. It holds no state between calls.
type Loader struct {
	sourceColumn string
}

// New creates a loader. sourceColumn names the legacy single-column header (default "Answer").
func New(sourceColumn string) *Loader {
	if strings.TrimSpace(sourceColumn) == "" {
		sourceColumn = DefaultSourceColumn
	}
	return &Loader{sourceColumn: sourceColumn}
}

// Load parses path with the default source column.
func Load(path string) ([]domain.Document, error) {
	return New(DefaultSourceColumn).Load(path)
}

// Load parses a CSV, YAML or Parquet knowledge base into documents, one per record, in file order.
func (l *Loader) Load(path string) ([]domain.Document, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: knowledge base file %s", domain.ErrNotFound, path)
		}
		return nil, fmt.Errorf("read knowledge base %s: %w", path, err)
	}
	data = bytes.TrimPrefix(data, utf8BOM)

	var docs []domain.Document
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		docs, err = l.parseYAML(path, data)
	case ".parquet":
		docs, err = l.parseParquet(path, data)
	default:
		docs, err = l.parseCSV(path, data)
	}
	if err != nil {
		return nil, err
	}

	if len(docs) == 0 {
		return nil, fmt.Errorf("%w: no records in %s", domain.ErrEmptyResult, path)
	}
	return docs, nil
}

// record is the structured row shape shared by both formats.
type record struct {
	Category string
	Question string
	Answer   string
	Keywords string
}

// columns maps record fields to CSV column positions (-1 when absent).
type columns struct {
	question, answer, category, keywords int
}

func (l *Loader) parseCSV(path string, data []byte) ([]domain.Document, error) {
	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true

	var rows [][]string
	for {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: parse %s: %w", domain.ErrSchema, path, err)
		}
		rows = append(rows, rec)
	}
	return l.fromTable(path, rows)
}

// fromTable turns a header row plus data rows into documents.
// The first row is the header unless the file is a bare single-column list.
func (l *Loader) fromTable(path string, rows [][]string) ([]domain.Document, error) {
	if len(rows) == 0 {
		return nil, nil
	}

	header := rows[0]
	cols := findColumns(header)

	switch {
	case cols.question >= 0 && cols.answer >= 0:
		return buildStructured(path, rows[1:], cols), nil
	case len(header) == 1 && l.isSourceHeader(header[0]):
		return buildLegacy(path, rows[1:]), nil
	case len(header) == 1 && cols.question < 0 && !isKnownHeader(header[0]):
		// Header-less single-column file: every line is an answer.
		return buildLegacy(path, rows), nil
	}

	var missing []string
	if cols.question < 0 {
		missing = append(missing, "question")
	}
	if cols.answer < 0 {
		missing = append(missing, "answer")
	}
	return nil, &domain.SchemaError{Path: path, Missing: missing}
}

func (l *Loader) isSourceHeader(h string) bool {
	return normalize(h) == normalize(l.sourceColumn) || matches(h, answerAliases)
}

func findColumns(header []string) columns {
	cols := columns{question: -1, answer: -1, category: -1, keywords: -1}
	for i, h := range header {
		switch {
		case cols.question < 0 && matches(h, questionAliases):
			cols.question = i
		case cols.answer < 0 && matches(h, answerAliases):
			cols.answer = i
		case cols.category < 0 && matches(h, categoryAliases):
			cols.category = i
		case cols.keywords < 0 && matches(h, keywordAliases):
			cols.keywords = i
		}
	}
	return cols
}

func buildStructured(path string, rows [][]string, cols columns) []domain.Document {
	docs := make([]domain.Document, 0, len(rows))
	for i, row := range rows {
		if isBlank(row) {
			continue
		}
		rec := record{
			Category: cell(row, cols.category),
			Question: cell(row, cols.question),
			Answer:   cell(row, cols.answer),
			Keywords: cell(row, cols.keywords),
		}
		docs = append(docs, newDocument(path, i+1, rec))
	}
	return docs
}

func buildLegacy(path string, rows [][]string) []domain.Document {
	docs := make([]domain.Document, 0, len(rows))
	for i, row := range rows {
		answer := cell(row, 0)
		if answer == "" {
			continue
		}
		docs = append(docs, domain.Document{
			Body:     answer,
			Metadata: domain.Metadata{Source: source(path, i+1), Row: i + 1},
		})
	}
	return docs
}

// yamlRecord uses pointers so absent keys can be told apart from empty values.
type yamlRecord struct {
	Category string  `yaml:"category"`
	Question *string `yaml:"question"`
	Answer   *string `yaml:"answer"`
	Keywords any     `yaml:"keywords"`
}

func (l *Loader) parseYAML(path string, data []byte) ([]domain.Document, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}

	var recs []yamlRecord
	if err := yaml.Unmarshal(data, &recs); err != nil {
		return nil, fmt.Errorf("%w: parse %s: %w", domain.ErrSchema, path, err)
	}

	var missingQuestion, missingAnswer bool
	docs := make([]domain.Document, 0, len(recs))
	for i, yr := range recs {
		if yr.Question == nil {
			missingQuestion = true
		}
		if yr.Answer == nil {
			missingAnswer = true
		}
		if missingQuestion || missingAnswer {
			continue
		}
		rec := record{
			Category: strings.TrimSpace(yr.Category),
			Question: strings.TrimSpace(*yr.Question),
			Answer:   strings.TrimSpace(*yr.Answer),
			Keywords: keywordsString(yr.Keywords),
		}
		docs = append(docs, newDocument(path, i+1, rec))
	}

	if missingQuestion || missingAnswer {
		var missing []string
		if missingQuestion {
			missing = append(missing, "question")
		}
		if missingAnswer {
			missing = append(missing, "answer")
		}
		return nil, &domain.SchemaError{Path: path, Missing: missing}
	}
	return docs, nil
}

// keywordsString accepts either a comma-separated string or a YAML list.
func keywordsString(v any) string {
	switch kw := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(kw)
	case []any:
		parts := make([]string, 0, len(kw))
		for _, k := range kw {
			if s := strings.TrimSpace(fmt.Sprint(k)); s != "" {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, ", ")
	default:
		return strings.TrimSpace(fmt.Sprint(kw))
	}
}

func newDocument(path string, row int, rec record) domain.Document {
	return domain.Document{
		Body: body(rec),
		Metadata: domain.Metadata{
			Category: rec.Category,
			Question: rec.Question,
			Keywords: rec.Keywords,
			Source:   source(path, row),
			Row:      row,
		},
	}
}

// body renders a record as "Field: value" lines. Category and keywords are omitted when empty.
func body(rec record) string {
	var b strings.Builder
	if rec.Category != "" {
		b.WriteString("Category: " + rec.Category + "\n")
	}
	b.WriteString("Question: " + rec.Question + "\n")
	b.WriteString("Answer: " + rec.Answer)
	if rec.Keywords != "" {
		b.WriteString("\nKeywords: " + rec.Keywords)
	}
	return b.String()
}

func source(path string, row int) string {
	return fmt.Sprintf("%s#%d", filepath.Base(path), row)
}

func cell(row []string, i int) string {
	if i < 0 || i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}

func isBlank(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

func isKnownHeader(h string) bool {
	return matches(h, questionAliases) || matches(h, answerAliases) ||
		matches(h, categoryAliases) || matches(h, keywordAliases)
}

func matches(h string, aliases []string) bool {
	n := normalize(h)
	for _, a := range aliases {
		if n == a {
			return true
		}
	}
	return false
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
