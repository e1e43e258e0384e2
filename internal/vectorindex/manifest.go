package vectorindex

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/kailas-cloud/portfolioqa/internal/domain"
)

const (
	// ManifestFile identifies a persisted index directory.
	ManifestFile = "manifest.json"
	// ManifestVersion is bumped when a backend layout changes incompatibly.
	ManifestVersion = 1
)

// Manifest is written next to the backend files and names the backend that wrote them.
type Manifest struct {
	Backend        string    `json:"backend"`
	Version        int       `json:"version"`
	Dimension      int       `json:"dimension"`
	Count          int       `json:"count"`
	EmbeddingModel string    `json:"embedding_model"`
	CreatedAt      time.Time `json:"created_at"`
}

// WriteManifest stores m in dir.
func WriteManifest(dir string, m Manifest) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal manifest: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, ManifestFile), data, 0o644); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}
	return nil
}

// ReadManifest loads the manifest of dir. Missing or unreadable manifests yield ErrIndexNotFound.
func ReadManifest(dir string) (Manifest, error) {
	data, err := os.ReadFile(filepath.Join(dir, ManifestFile))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Manifest{}, fmt.Errorf("%w: %s", domain.ErrIndexNotFound, dir)
		}
		return Manifest{}, fmt.Errorf("%w: read manifest in %s: %w", domain.ErrIndexNotFound, dir, err)
	}

	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return Manifest{}, fmt.Errorf("%w: parse manifest in %s: %w", domain.ErrIndexNotFound, dir, err)
	}
	if m.Backend == "" {
		return Manifest{}, fmt.Errorf("%w: manifest in %s names no backend", domain.ErrIndexNotFound, dir)
	}
	if m.Version != ManifestVersion {
		return Manifest{}, fmt.Errorf("%w: manifest in %s has version %d, expected %d",
			domain.ErrIndexNotFound, dir, m.Version, ManifestVersion)
	}
	return m, nil
}

// CheckManifest reads the manifest of dir and fails with *domain.BackendMismatchError
// when it was written by a backend other than want.
func CheckManifest(dir, want string) (Manifest, error) {
	m, err := ReadManifest(dir)
	if err != nil {
		return Manifest{}, err
	}
	if m.Backend != want {
		return Manifest{}, &domain.BackendMismatchError{Dir: dir, Want: want, Got: m.Backend}
	}
	return m, nil
}
