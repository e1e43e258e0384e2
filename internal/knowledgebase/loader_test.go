package knowledgebase

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/kailas-cloud/portfolioqa/internal/domain"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestLoad_StructuredCSV(t *testing.T) {
	path := writeFile(t, "kb.csv",
		"Category,Question,Answer,Keywords\n"+
			"Skills,What languages does X know?,Python and Go.,\"python, go\"\n"+
			"Career,Where does X work?,At Acme.,\n")

	docs, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(docs) != 2 {
		t.Fatalf("expected 2 documents, got %d", len(docs))
	}

	want := "Category: Skills\nQuestion: What languages does X know?\nAnswer: Python and Go.\nKeywords: python, go"
	if docs[0].Body != want {
		t.Errorf("unexpected body:\ngot:  %q\nwant: %q", docs[0].Body, want)
	}
	if docs[0].Metadata.Question != "What languages does X know?" {
		t.Errorf("unexpected question metadata: %q", docs[0].Metadata.Question)
	}
	if docs[0].Metadata.Source != "kb.csv#1" {
		t.Errorf("unexpected source: %q", docs[0].Metadata.Source)
	}
	if docs[1].Body != "Category: Career\nQuestion: Where does X work?\nAnswer: At Acme." {
		t.Errorf("unexpected second body: %q", docs[1].Body)
	}
	if docs[1].Metadata.Row != 2 {
		t.Errorf("expected row 2, got %d", docs[1].Metadata.Row)
	}
}

func TestLoad_HeaderCaseAndBOM(t *testing.T) {
	path := writeFile(t, "kb.csv", "\xEF\xBB\xBF QUESTION , answer\nQ1,A1\n")

	docs, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(docs) != 1 || docs[0].Body != "Question: Q1\nAnswer: A1" {
		t.Fatalf("unexpected documents: %+v", docs)
	}
}

func TestLoad_EmptyAnswerStillLoaded(t *testing.T) {
	path := writeFile(t, "kb.csv", "question,answer\nWhat is X's hobby?,\n")

	docs, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(docs) != 1 {
		t.Fatalf("expected 1 document, got %d", len(docs))
	}
	if docs[0].Body == "" {
		t.Error("body must not be empty")
	}
}

func TestLoad_SkipsBlankRows(t *testing.T) {
	path := writeFile(t, "kb.csv", "question,answer\nQ1,A1\n,\nQ2,A2\n")

	docs, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(docs) != 2 {
		t.Fatalf("expected 2 documents, got %d", len(docs))
	}
	if docs[1].Metadata.Row != 3 {
		t.Errorf("expected row numbers to follow the file, got %d", docs[1].Metadata.Row)
	}
}

func TestLoad_LegacySourceColumn(t *testing.T) {
	path := writeFile(t, "legacy.csv", "Answer\nX knows Python.\nX lives in Berlin.\n")

	docs, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(docs) != 2 {
		t.Fatalf("expected 2 documents, got %d", len(docs))
	}
	if docs[0].Body != "X knows Python." {
		t.Errorf("unexpected body: %q", docs[0].Body)
	}
	if docs[0].Metadata.Question != "" || docs[0].Metadata.Category != "" {
		t.Errorf("legacy documents have no structured metadata: %+v", docs[0].Metadata)
	}
}

func TestLoad_LegacyCustomSourceColumn(t *testing.T) {
	path := writeFile(t, "legacy.csv", "Bio\nX knows Python.\n")

	docs, err := New("Bio").Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(docs) != 1 || docs[0].Body != "X knows Python." {
		t.Fatalf("unexpected documents: %+v", docs)
	}
}

func TestLoad_LegacyHeaderless(t *testing.T) {
	path := writeFile(t, "legacy.csv", "X knows Python.\nX lives in Berlin.\n")

	docs, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(docs) != 2 {
		t.Fatalf("expected header-less rows to all be documents, got %d", len(docs))
	}
	if docs[0].Metadata.Row != 1 {
		t.Errorf("expected row 1, got %d", docs[0].Metadata.Row)
	}
}

func TestLoad_NotFound(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing.csv")

	_, err := Load(path)
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if !strings.Contains(err.Error(), path) {
		t.Errorf("expected path in message, got %q", err.Error())
	}
}

func TestLoad_MissingColumns(t *testing.T) {
	path := writeFile(t, "kb.csv", "category,answer\nSkills,Go\n")

	_, err := Load(path)
	if !errors.Is(err, domain.ErrSchema) {
		t.Fatalf("expected ErrSchema, got %v", err)
	}
	var se *domain.SchemaError
	if !errors.As(err, &se) {
		t.Fatalf("expected SchemaError, got %T", err)
	}
	if len(se.Missing) != 1 || se.Missing[0] != "question" {
		t.Errorf("expected missing [question], got %v", se.Missing)
	}
}

func TestLoad_HeaderOnly(t *testing.T) {
	path := writeFile(t, "kb.csv", "question,answer\n")

	_, err := Load(path)
	if !errors.Is(err, domain.ErrEmptyResult) {
		t.Fatalf("expected ErrEmptyResult, got %v", err)
	}
}

func TestLoad_EmptyFile(t *testing.T) {
	path := writeFile(t, "kb.csv", "")

	_, err := Load(path)
	if !errors.Is(err, domain.ErrEmptyResult) {
		t.Fatalf("expected ErrEmptyResult, got %v", err)
	}
}

func TestLoad_YAML(t *testing.T) {
	path := writeFile(t, "kb.yaml", `
- category: Skills
  question: What languages does X know?
  answer: Python and Go.
  keywords: [python, go]
- question: Where does X work?
  answer: At Acme.
`)

	docs, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(docs) != 2 {
		t.Fatalf("expected 2 documents, got %d", len(docs))
	}
	if docs[0].Metadata.Keywords != "python, go" {
		t.Errorf("unexpected keywords: %q", docs[0].Metadata.Keywords)
	}
	if docs[1].Body != "Question: Where does X work?\nAnswer: At Acme." {
		t.Errorf("unexpected body: %q", docs[1].Body)
	}
}

func TestLoad_YAMLMissingAnswer(t *testing.T) {
	path := writeFile(t, "kb.yml", "- question: Q1\n")

	_, err := Load(path)
	var se *domain.SchemaError
	if !errors.As(err, &se) {
		t.Fatalf("expected SchemaError, got %v", err)
	}
	if len(se.Missing) != 1 || se.Missing[0] != "answer" {
		t.Errorf("expected missing [answer], got %v", se.Missing)
	}
}

func TestLoad_Deterministic(t *testing.T) {
	path := writeFile(t, "kb.csv", "question,answer\nQ1,A1\nQ2,A2\n")

	a, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	b, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i := range a {
		if a[i] != b[i] {
			t.Errorf("document %d differs between loads", i)
		}
	}
}
