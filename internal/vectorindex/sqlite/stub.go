//go:build nosqlite

// Package sqlite is compiled without the SQLite driver. The backend reports
// itself unavailable so the manager falls back.
package sqlite

import (
	"context"
	"fmt"

	"github.com/kailas-cloud/portfolioqa/internal/domain"
	"github.com/kailas-cloud/portfolioqa/internal/vectorindex"
)

// Backend is the SQLite vector backend placeholder.
type Backend struct{}

// New creates a SQLite backend placeholder.
func New() *Backend { return &Backend{} }

var _ vectorindex.Backend = (*Backend)(nil)

var errDisabled = fmt.Errorf("%w: sqlite support not compiled in (built with nosqlite)", domain.ErrBackendUnavailable)

func (b *Backend) Name() string { return vectorindex.BackendSQLite }

func (b *Backend) Available() error { return errDisabled }

func (b *Backend) Write(context.Context, string, *vectorindex.Index) error { return errDisabled }

func (b *Backend) Read(context.Context, string) (*vectorindex.Index, error) { return nil, errDisabled }
