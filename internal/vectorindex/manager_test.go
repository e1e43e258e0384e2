package vectorindex

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"go.uber.org/zap"

	"github.com/kailas-cloud/portfolioqa/internal/domain"
)

// jsonBackend is a test backend storing the whole index as one JSON file.
type jsonBackend struct {
	name     string
	availErr error
	writeErr error
	writes   int
}

type jsonPayload struct {
	Docs    []domain.Document `json:"docs"`
	Vectors [][]float32       `json:"vectors"`
}

func (b *jsonBackend) Name() string     { return b.name }
func (b *jsonBackend) Available() error { return b.availErr }

func (b *jsonBackend) Write(_ context.Context, dir string, idx *Index) error {
	b.writes++
	if b.writeErr != nil {
		// Leave garbage behind to prove the temp dir is cleaned up.
		_ = os.WriteFile(filepath.Join(dir, "partial"), []byte("x"), 0o644)
		return b.writeErr
	}
	p := jsonPayload{Docs: idx.Documents()}
	for n := range idx.Len() {
		p.Vectors = append(p.Vectors, idx.Vector(n))
	}
	data, err := json.Marshal(p)
	if err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(dir, b.name+".json"), data, 0o644); err != nil {
		return err
	}
	m := idx.Manifest()
	m.Backend = b.name
	return WriteManifest(dir, m)
}

func (b *jsonBackend) Read(_ context.Context, dir string) (*Index, error) {
	m, err := CheckManifest(dir, b.name)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(dir, b.name+".json"))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrIndexNotFound, err)
	}
	var p jsonPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, err
	}
	return Restore(m, p.Docs, p.Vectors)
}

// fakeEmbedder maps the first byte of each text onto a fixed axis.
type fakeEmbedder struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (e *fakeEmbedder) Embed(_ context.Context, text string) (domain.EmbeddingResult, error) {
	return domain.EmbeddingResult{Embedding: axis(text)}, e.err
}

func (e *fakeEmbedder) BatchEmbed(_ context.Context, texts []string) (domain.BatchEmbeddingResult, error) {
	e.mu.Lock()
	e.calls++
	e.mu.Unlock()
	if e.err != nil {
		return domain.BatchEmbeddingResult{}, e.err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = axis(t)
	}
	return domain.BatchEmbeddingResult{Embeddings: out, TotalTokens: len(texts)}, nil
}

func axis(text string) []float32 {
	v := make([]float32, 4)
	if text != "" {
		v[int(text[0])%4] = 1
	}
	v[3] += 0.1
	return v
}

func newTestManager(t *testing.T, cfg Config, backends ...Backend) *Manager {
	t.Helper()
	m, err := NewManager(cfg, nil, zap.NewNop(), backends...)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	return m
}

func TestNewManager_UnknownBackend(t *testing.T) {
	_, err := NewManager(Config{Primary: "faiss"}, nil, nil, &jsonBackend{name: "a"})
	if !errors.Is(err, domain.ErrConfiguration) {
		t.Fatalf("expected ErrConfiguration, got %v", err)
	}

	_, err = NewManager(Config{Primary: "a", Fallback: "b"}, nil, nil, &jsonBackend{name: "a"})
	if !errors.Is(err, domain.ErrConfiguration) {
		t.Fatalf("expected ErrConfiguration for fallback, got %v", err)
	}
}

func TestManager_BuildPersistLoadRoundTrip(t *testing.T) {
	primary := &jsonBackend{name: "a"}
	m := newTestManager(t, Config{Primary: "a", EmbeddingModel: "m1"}, primary)
	emb := &fakeEmbedder{}
	dir := filepath.Join(t.TempDir(), "index")

	idx, err := m.Build(context.Background(), docs("alpha", "bravo", "charlie", "delta"), emb)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if emb.calls != 1 {
		t.Errorf("expected one batch embed call, got %d", emb.calls)
	}

	published, err := m.Persist(context.Background(), idx, dir)
	if err != nil {
		t.Fatalf("Persist: %v", err)
	}
	if published.Backend() != "a" {
		t.Errorf("expected backend a, got %q", published.Backend())
	}
	if !m.Exists(dir) {
		t.Fatal("expected index to exist after persist")
	}

	loaded, err := m.Load(context.Background(), dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	q := axis("apple")
	want, _ := idx.Search(q, 4, 0)
	got, _ := loaded.Search(q, 4, 0)
	if len(want) != len(got) {
		t.Fatalf("result length differs: %d vs %d", len(want), len(got))
	}
	for i := range want {
		if want[i].Document != got[i].Document || want[i].Score != got[i].Score {
			t.Errorf("result %d differs after round trip: %+v vs %+v", i, want[i], got[i])
		}
	}
}

func TestManager_BuildEmptyDocs(t *testing.T) {
	m := newTestManager(t, Config{Primary: "a"}, &jsonBackend{name: "a"})
	emb := &fakeEmbedder{}

	_, err := m.Build(context.Background(), nil, emb)
	if !errors.Is(err, domain.ErrEmptyResult) {
		t.Fatalf("expected ErrEmptyResult, got %v", err)
	}
	if emb.calls != 0 {
		t.Error("embedder must not be called for empty input")
	}
}

func TestManager_BuildEmbedError(t *testing.T) {
	m := newTestManager(t, Config{Primary: "a"}, &jsonBackend{name: "a"})
	emb := &fakeEmbedder{err: fmt.Errorf("%w: boom", domain.ErrProvider)}

	_, err := m.Build(context.Background(), docs("a"), emb)
	if !errors.Is(err, domain.ErrProvider) {
		t.Fatalf("expected ErrProvider, got %v", err)
	}
}

func TestManager_BuildSelectsFallbackWhenPrimaryUnavailable(t *testing.T) {
	primary := &jsonBackend{name: "a", availErr: fmt.Errorf("%w: not compiled", domain.ErrBackendUnavailable)}
	fallback := &jsonBackend{name: "b"}
	m := newTestManager(t, Config{Primary: "a", Fallback: "b"}, primary, fallback)

	idx, err := m.Build(context.Background(), docs("a"), &fakeEmbedder{})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if idx.Backend() != "b" {
		t.Errorf("expected fallback backend, got %q", idx.Backend())
	}
}

func TestManager_BuildNoBackendAvailable(t *testing.T) {
	unavailable := fmt.Errorf("%w: nope", domain.ErrBackendUnavailable)
	m := newTestManager(t, Config{Primary: "a", Fallback: "b"},
		&jsonBackend{name: "a", availErr: unavailable},
		&jsonBackend{name: "b", availErr: unavailable},
	)
	emb := &fakeEmbedder{}

	_, err := m.Build(context.Background(), docs("a"), emb)
	if !errors.Is(err, domain.ErrBackendUnavailable) {
		t.Fatalf("expected ErrBackendUnavailable, got %v", err)
	}
	if emb.calls != 0 {
		t.Error("embedder must not be called when no backend is available")
	}
}

func TestManager_PersistFallsBackReusingVectors(t *testing.T) {
	primary := &jsonBackend{name: "a", writeErr: fmt.Errorf("%w: disk layout unsupported", domain.ErrBackendUnavailable)}
	fallback := &jsonBackend{name: "b"}
	m := newTestManager(t, Config{Primary: "a", Fallback: "b"}, primary, fallback)
	emb := &fakeEmbedder{}
	parent := t.TempDir()
	dir := filepath.Join(parent, "index")

	idx, err := m.Build(context.Background(), docs("a", "b"), emb)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	published, err := m.Persist(context.Background(), idx, dir)
	if err != nil {
		t.Fatalf("Persist: %v", err)
	}

	if published.Backend() != "b" {
		t.Errorf("expected fallback backend, got %q", published.Backend())
	}
	if emb.calls != 1 {
		t.Errorf("expected vectors to be reused, got %d embed calls", emb.calls)
	}
	man, err := ReadManifest(dir)
	if err != nil {
		t.Fatalf("ReadManifest: %v", err)
	}
	if man.Backend != "b" {
		t.Errorf("manifest names %q, expected b", man.Backend)
	}
	assertNoTempDirs(t, parent)
}

func TestManager_PersistBothFail(t *testing.T) {
	unavailable := fmt.Errorf("%w: nope", domain.ErrBackendUnavailable)
	primary := &jsonBackend{name: "a", writeErr: unavailable}
	fallback := &jsonBackend{name: "b", writeErr: unavailable}
	m := newTestManager(t, Config{Primary: "a", Fallback: "b"}, primary, fallback)
	parent := t.TempDir()
	dir := filepath.Join(parent, "index")

	idx, err := m.Build(context.Background(), docs("a"), &fakeEmbedder{})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	_, err = m.Persist(context.Background(), idx, dir)
	if !errors.Is(err, domain.ErrBackendUnavailable) {
		t.Fatalf("expected ErrBackendUnavailable, got %v", err)
	}
	if m.Exists(dir) {
		t.Error("failed persist must not leave an index behind")
	}
	assertNoTempDirs(t, parent)
}

func TestManager_PersistFailureKeepsPreviousIndex(t *testing.T) {
	backend := &jsonBackend{name: "a"}
	m := newTestManager(t, Config{Primary: "a"}, backend)
	parent := t.TempDir()
	dir := filepath.Join(parent, "index")
	ctx := context.Background()

	idx, err := m.Build(ctx, docs("a"), &fakeEmbedder{})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if _, err := m.Persist(ctx, idx, dir); err != nil {
		t.Fatalf("Persist: %v", err)
	}

	backend.writeErr = errors.New("disk full")
	idx2, err := m.Build(ctx, docs("a", "b", "c"), &fakeEmbedder{})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if _, err := m.Persist(ctx, idx2, dir); err == nil {
		t.Fatal("expected persist error")
	}

	loaded, err := m.Load(ctx, dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.Len() != 1 {
		t.Errorf("expected previous index with 1 document, got %d", loaded.Len())
	}
	assertNoTempDirs(t, parent)
}

func TestManager_PersistReplacesExisting(t *testing.T) {
	m := newTestManager(t, Config{Primary: "a"}, &jsonBackend{name: "a"})
	parent := t.TempDir()
	dir := filepath.Join(parent, "index")
	ctx := context.Background()

	for _, n := range []int{1, 3} {
		bodies := []string{"a", "b", "c"}[:n]
		idx, err := m.Build(ctx, docs(bodies...), &fakeEmbedder{})
		if err != nil {
			t.Fatalf("Build: %v", err)
		}
		if _, err := m.Persist(ctx, idx, dir); err != nil {
			t.Fatalf("Persist: %v", err)
		}
	}

	loaded, err := m.Load(ctx, dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.Len() != 3 {
		t.Errorf("expected replaced index with 3 documents, got %d", loaded.Len())
	}
	assertNoTempDirs(t, parent)
}

func TestManager_LoadMissing(t *testing.T) {
	m := newTestManager(t, Config{Primary: "a"}, &jsonBackend{name: "a"})
	dir := filepath.Join(t.TempDir(), "nope")

	if m.Exists(dir) {
		t.Error("expected Exists=false")
	}
	_, err := m.Load(context.Background(), dir)
	if !errors.Is(err, domain.ErrIndexNotFound) {
		t.Fatalf("expected ErrIndexNotFound, got %v", err)
	}
}

func TestManager_LoadCorruptManifest(t *testing.T) {
	m := newTestManager(t, Config{Primary: "a"}, &jsonBackend{name: "a"})
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, ManifestFile), []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}

	if m.Exists(dir) {
		t.Error("expected Exists=false for corrupt manifest")
	}
	if _, err := m.Load(context.Background(), dir); !errors.Is(err, domain.ErrIndexNotFound) {
		t.Fatalf("expected ErrIndexNotFound, got %v", err)
	}
}

func TestManager_LoadUsesManifestBackend(t *testing.T) {
	a := &jsonBackend{name: "a"}
	b := &jsonBackend{name: "b"}
	dir := filepath.Join(t.TempDir(), "index")
	ctx := context.Background()

	writer := newTestManager(t, Config{Primary: "b"}, a, b)
	idx, err := writer.Build(ctx, docs("a"), &fakeEmbedder{})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if _, err := writer.Persist(ctx, idx, dir); err != nil {
		t.Fatalf("Persist: %v", err)
	}

	reader := newTestManager(t, Config{Primary: "a"}, a, b)
	loaded, err := reader.Load(ctx, dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.Backend() != "b" {
		t.Errorf("expected index loaded with backend b, got %q", loaded.Backend())
	}
}

func TestManager_LoadPinnedMismatch(t *testing.T) {
	a := &jsonBackend{name: "a"}
	b := &jsonBackend{name: "b"}
	dir := filepath.Join(t.TempDir(), "index")
	ctx := context.Background()

	writer := newTestManager(t, Config{Primary: "b"}, a, b)
	idx, _ := writer.Build(ctx, docs("a"), &fakeEmbedder{})
	if _, err := writer.Persist(ctx, idx, dir); err != nil {
		t.Fatalf("Persist: %v", err)
	}

	reader := newTestManager(t, Config{Primary: "a", PinBackend: true}, a, b)
	_, err := reader.Load(ctx, dir)
	var mm *domain.BackendMismatchError
	if !errors.As(err, &mm) {
		t.Fatalf("expected BackendMismatchError, got %v", err)
	}
	if !errors.Is(err, domain.ErrIndexNotFound) {
		t.Error("expected mismatch to be ErrIndexNotFound")
	}
}

func TestManager_LoadBackendNotCompiledIn(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "index")
	ctx := context.Background()

	writer := newTestManager(t, Config{Primary: "a"}, &jsonBackend{name: "a"})
	idx, _ := writer.Build(ctx, docs("a"), &fakeEmbedder{})
	if _, err := writer.Persist(ctx, idx, dir); err != nil {
		t.Fatalf("Persist: %v", err)
	}

	disabled := &jsonBackend{name: "a", availErr: fmt.Errorf("%w: not compiled", domain.ErrBackendUnavailable)}
	reader := newTestManager(t, Config{Primary: "b"}, disabled, &jsonBackend{name: "b"})
	if _, err := reader.Load(ctx, dir); !errors.Is(err, domain.ErrBackendUnavailable) {
		t.Fatalf("expected ErrBackendUnavailable, got %v", err)
	}

	unknown := newTestManager(t, Config{Primary: "b"}, &jsonBackend{name: "b"})
	if _, err := unknown.Load(ctx, dir); !errors.Is(err, domain.ErrBackendUnavailable) {
		t.Fatalf("expected ErrBackendUnavailable for unregistered backend, got %v", err)
	}
}

func TestManager_LoadModelChangeIsStale(t *testing.T) {
	a := &jsonBackend{name: "a"}
	dir := filepath.Join(t.TempDir(), "index")
	ctx := context.Background()

	writer := newTestManager(t, Config{Primary: "a", EmbeddingModel: "old"}, a)
	idx, _ := writer.Build(ctx, docs("a"), &fakeEmbedder{})
	if _, err := writer.Persist(ctx, idx, dir); err != nil {
		t.Fatalf("Persist: %v", err)
	}

	reader := newTestManager(t, Config{Primary: "a", EmbeddingModel: "new"}, a)
	if _, err := reader.Load(ctx, dir); !errors.Is(err, domain.ErrIndexNotFound) {
		t.Fatalf("expected ErrIndexNotFound, got %v", err)
	}
}

func TestManager_LoadDimensionChangeIsStale(t *testing.T) {
	a := &jsonBackend{name: "a"}
	dir := filepath.Join(t.TempDir(), "index")
	ctx := context.Background()

	writer := newTestManager(t, Config{Primary: "a", EmbeddingModel: "m"}, a)
	idx, _ := writer.Build(ctx, docs("a", "b"), &fakeEmbedder{})
	if _, err := writer.Persist(ctx, idx, dir); err != nil {
		t.Fatalf("Persist: %v", err)
	}

	resized := newTestManager(t, Config{Primary: "a", EmbeddingModel: "m", Dimension: 8}, a)
	if _, err := resized.Load(ctx, dir); !errors.Is(err, domain.ErrIndexNotFound) {
		t.Fatalf("expected ErrIndexNotFound, got %v", err)
	}
	if err := resized.Check(dir); !errors.Is(err, domain.ErrIndexNotFound) {
		t.Fatalf("Check: expected ErrIndexNotFound, got %v", err)
	}

	same := newTestManager(t, Config{Primary: "a", EmbeddingModel: "m", Dimension: 4}, a)
	if _, err := same.Load(ctx, dir); err != nil {
		t.Fatalf("matching dimension must load: %v", err)
	}
}

func TestManager_Check(t *testing.T) {
	a := &jsonBackend{name: "a"}
	b := &jsonBackend{name: "b"}
	dir := filepath.Join(t.TempDir(), "index")
	ctx := context.Background()

	writer := newTestManager(t, Config{Primary: "b"}, a, b)
	if err := writer.Check(dir); !errors.Is(err, domain.ErrIndexNotFound) {
		t.Fatalf("expected ErrIndexNotFound before persist, got %v", err)
	}
	idx, _ := writer.Build(ctx, docs("a"), &fakeEmbedder{})
	if _, err := writer.Persist(ctx, idx, dir); err != nil {
		t.Fatalf("Persist: %v", err)
	}
	if err := writer.Check(dir); err != nil {
		t.Fatalf("expected loadable dir, got %v", err)
	}

	pinned := newTestManager(t, Config{Primary: "a", PinBackend: true}, a, b)
	var mismatch *domain.BackendMismatchError
	if err := pinned.Check(dir); !errors.As(err, &mismatch) {
		t.Fatalf("expected BackendMismatchError, got %v", err)
	}

	missing := &jsonBackend{name: "b", availErr: domain.ErrBackendUnavailable}
	if err := newTestManager(t, Config{Primary: "b"}, missing).Check(dir); !errors.Is(err, domain.ErrBackendUnavailable) {
		t.Fatalf("expected ErrBackendUnavailable, got %v", err)
	}
}

func assertNoTempDirs(t *testing.T, parent string) {
	t.Helper()
	entries, err := os.ReadDir(parent)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	for _, e := range entries {
		if strings.Contains(e.Name(), ".tmp-") || strings.Contains(e.Name(), ".old-") {
			t.Errorf("leftover directory %s", e.Name())
		}
	}
}
