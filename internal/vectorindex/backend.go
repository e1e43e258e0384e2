package vectorindex

import "context"

// Backend names.
const (
	BackendSQLite = "sqlite"
	BackendFlat   = "flat"
)

// Backend persists an index with its own on-disk layout.
type Backend interface {
	Name() string
	// Available reports whether the backend can be used in this build.
	// It returns an error wrapping domain.ErrBackendUnavailable otherwise.
	Available() error
	// Write stores idx and its manifest in dir, which already exists and is empty.
	Write(ctx context.Context, dir string, idx *Index) error
	// Read loads an index from dir. A directory written by another backend
	// fails with *domain.BackendMismatchError.
	Read(ctx context.Context, dir string) (*Index, error)
}
