package vectorindex

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/kailas-cloud/portfolioqa/internal/domain"
)

// Config selects the backends used for building and loading.
type Config struct {
	Primary  string
	Fallback string
	// PinBackend makes Load refuse directories written by any backend but Primary.
	PinBackend bool
	// EmbeddingModel is the configured model. A persisted index built with
	// another model is reported as not found so it gets rebuilt.
	EmbeddingModel string
	// Dimension is the configured vector length, 0 when the model default applies.
	// A persisted index of another length is reported as not found.
	Dimension int
}

// Manager owns the build, persist and load lifecycle of an index directory.
type Manager struct {
	cfg      Config
	backends map[string]Backend
	builds   *prometheus.CounterVec
	logger   *zap.Logger
}

// NewManager creates a manager over the given backends.
// builds is a counter vec with labels "backend" and "status", passed explicitly (may be nil).
func NewManager(cfg Config, builds *prometheus.CounterVec, logger *zap.Logger, backends ...Backend) (*Manager, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Manager{
		cfg:      cfg,
		backends: make(map[string]Backend, len(backends)),
		builds:   builds,
		logger:   logger,
	}
	for _, b := range backends {
		m.backends[b.Name()] = b
	}

	if _, ok := m.backends[cfg.Primary]; !ok {
		return nil, domain.NewConfigurationError("index.backend", fmt.Sprintf("names unknown backend %q", cfg.Primary))
	}
	if cfg.Fallback != "" {
		if _, ok := m.backends[cfg.Fallback]; !ok {
			return nil, domain.NewConfigurationError("index.fallback", fmt.Sprintf("names unknown backend %q", cfg.Fallback))
		}
	}
	return m, nil
}

// Build embeds every document body in one batch and returns an in-memory index
// targeted at the first available backend.
func (m *Manager) Build(ctx context.Context, docs []domain.Document, embedder domain.Embedder) (*Index, error) {
	if len(docs) == 0 {
		return nil, fmt.Errorf("%w: no documents to index", domain.ErrEmptyResult)
	}

	backend, err := m.selectBackend()
	if err != nil {
		m.incBuild(m.cfg.Primary, "unavailable")
		return nil, err
	}

	texts := make([]string, len(docs))
	for i, d := range docs {
		texts[i] = d.Body
	}

	res, err := embedder.BatchEmbed(ctx, texts)
	if err != nil {
		m.incBuild(backend.Name(), "error")
		return nil, fmt.Errorf("embed documents: %w", err)
	}
	if len(res.Embeddings) != len(docs) {
		m.incBuild(backend.Name(), "error")
		return nil, fmt.Errorf("%w: got %d embeddings for %d documents",
			domain.ErrProvider, len(res.Embeddings), len(docs))
	}

	idx, err := New(backend.Name(), m.cfg.EmbeddingModel, docs, res.Embeddings)
	if err != nil {
		m.incBuild(backend.Name(), "error")
		return nil, fmt.Errorf("build index: %w", err)
	}

	m.logger.Info("Index built",
		zap.String("backend", idx.Backend()),
		zap.Int("documents", idx.Len()),
		zap.Int("dimension", idx.Dimension()),
		zap.Int("tokens", res.TotalTokens),
	)
	return idx, nil
}

// selectBackend checks the primary first and takes the fallback deliberately when it is unavailable.
func (m *Manager) selectBackend() (Backend, error) {
	primary := m.backends[m.cfg.Primary]
	perr := primary.Available()
	if perr == nil {
		return primary, nil
	}

	fallback := m.fallback()
	if fallback == nil {
		return nil, fmt.Errorf("select backend: %w", perr)
	}
	ferr := fallback.Available()
	if ferr != nil {
		return nil, fmt.Errorf("select backend: %w", errors.Join(perr, ferr))
	}

	m.logger.Warn("Primary vector backend unavailable, using fallback",
		zap.String("primary", primary.Name()),
		zap.String("fallback", fallback.Name()),
		zap.Error(perr),
	)
	return fallback, nil
}

func (m *Manager) fallback() Backend {
	if m.cfg.Fallback == "" || m.cfg.Fallback == m.cfg.Primary {
		return nil
	}
	return m.backends[m.cfg.Fallback]
}

// Persist publishes idx into dir as a unit and returns the index as written.
// When the index backend fails with ErrBackendUnavailable the already computed
// vectors are written again with the fallback layout.
func (m *Manager) Persist(ctx context.Context, idx *Index, dir string) (*Index, error) {
	backend, ok := m.backends[idx.Backend()]
	if !ok {
		return nil, fmt.Errorf("%w: backend %q is not registered", domain.ErrBackendUnavailable, idx.Backend())
	}

	err := m.publish(ctx, backend, idx, dir)
	if err == nil {
		m.incBuild(backend.Name(), "ok")
		return idx, nil
	}

	fallback := m.fallback()
	if !errors.Is(err, domain.ErrBackendUnavailable) || fallback == nil || fallback.Name() == backend.Name() {
		m.incBuild(backend.Name(), "error")
		return nil, err
	}

	m.logger.Warn("Persisting with fallback vector backend",
		zap.String("backend", backend.Name()),
		zap.String("fallback", fallback.Name()),
		zap.Error(err),
	)
	retargeted := idx.withBackend(fallback.Name())
	if ferr := fallback.Available(); ferr != nil {
		m.incBuild(fallback.Name(), "unavailable")
		return nil, fmt.Errorf("persist index: %w", errors.Join(err, ferr))
	}
	if ferr := m.publish(ctx, fallback, retargeted, dir); ferr != nil {
		m.incBuild(fallback.Name(), "error")
		return nil, fmt.Errorf("%w: persist index: %w", domain.ErrBackendUnavailable, errors.Join(err, ferr))
	}

	m.incBuild(fallback.Name(), "ok")
	return retargeted, nil
}

// publish writes into a sibling temp directory and renames it over dir,
// so readers never observe a partially written index.
func (m *Manager) publish(ctx context.Context, b Backend, idx *Index, dir string) error {
	dir = filepath.Clean(dir)
	if err := os.MkdirAll(filepath.Dir(dir), 0o755); err != nil {
		return fmt.Errorf("create index parent: %w", err)
	}

	tmp := dir + ".tmp-" + uuid.NewString()
	if err := os.Mkdir(tmp, 0o755); err != nil {
		return fmt.Errorf("create temp index dir: %w", err)
	}

	if err := b.Write(ctx, tmp, idx); err != nil {
		m.removeAll(tmp)
		return fmt.Errorf("write %s index: %w", b.Name(), err)
	}

	var old string
	if _, err := os.Stat(dir); err == nil {
		old = dir + ".old-" + uuid.NewString()
		if err := os.Rename(dir, old); err != nil {
			m.removeAll(tmp)
			return fmt.Errorf("move previous index aside: %w", err)
		}
	}

	if err := os.Rename(tmp, dir); err != nil {
		if old != "" {
			if rerr := os.Rename(old, dir); rerr != nil {
				m.logger.Error("Failed to restore previous index", zap.String("dir", dir), zap.Error(rerr))
			}
		}
		m.removeAll(tmp)
		return fmt.Errorf("publish index: %w", err)
	}

	if old != "" {
		m.removeAll(old)
	}

	m.logger.Info("Index persisted",
		zap.String("dir", dir),
		zap.String("backend", b.Name()),
		zap.Int("documents", idx.Len()),
	)
	return nil
}

func (m *Manager) removeAll(path string) {
	if err := os.RemoveAll(path); err != nil {
		m.logger.Warn("Failed to remove index dir", zap.String("path", path), zap.Error(err))
	}
}

// Check reports whether Load would accept dir, without reading the backend files.
// Stale or missing directories yield ErrIndexNotFound; a pinned backend mismatch
// or a backend that is not compiled in is returned as is.
func (m *Manager) Check(dir string) error {
	_, err := m.open(dir)
	return err
}

// Load reads the index in dir with the backend its manifest names.
func (m *Manager) Load(ctx context.Context, dir string) (*Index, error) {
	backend, err := m.open(dir)
	if err != nil {
		return nil, err
	}

	idx, err := backend.Read(ctx, dir)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", dir, err)
	}

	m.logger.Info("Index loaded",
		zap.String("dir", dir),
		zap.String("backend", idx.Backend()),
		zap.Int("documents", idx.Len()),
	)
	return idx, nil
}

// open validates the manifest of dir and returns the backend that can read it.
func (m *Manager) open(dir string) (Backend, error) {
	man, err := ReadManifest(dir)
	if err != nil {
		return nil, err
	}

	if m.cfg.PinBackend && man.Backend != m.cfg.Primary {
		return nil, &domain.BackendMismatchError{Dir: dir, Want: m.cfg.Primary, Got: man.Backend}
	}

	backend, ok := m.backends[man.Backend]
	if !ok {
		return nil, fmt.Errorf("%w: %s was written by unknown backend %q",
			domain.ErrBackendUnavailable, dir, man.Backend)
	}
	if err := backend.Available(); err != nil {
		return nil, fmt.Errorf("load %s: %w", dir, err)
	}

	if m.cfg.EmbeddingModel != "" && man.EmbeddingModel != "" && man.EmbeddingModel != m.cfg.EmbeddingModel {
		return nil, fmt.Errorf("%w: %s was embedded with %q, configured model is %q",
			domain.ErrIndexNotFound, dir, man.EmbeddingModel, m.cfg.EmbeddingModel)
	}
	if m.cfg.Dimension > 0 && man.Dimension != m.cfg.Dimension {
		return nil, fmt.Errorf("%w: %s holds %d-dimensional vectors, configured %d",
			domain.ErrIndexNotFound, dir, man.Dimension, m.cfg.Dimension)
	}
	return backend, nil
}

// Exists reports whether dir holds a readable manifest.
func (m *Manager) Exists(dir string) bool {
	_, err := ReadManifest(dir)
	return err == nil
}

func (m *Manager) incBuild(backend, status string) {
	if m.builds != nil {
		m.builds.WithLabelValues(backend, status).Inc()
	}
}
