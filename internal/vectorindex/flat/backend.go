// Package flat stores an index as a raw float32 matrix plus a JSON document list.
// It has no dependencies and serves as the fallback backend.
package flat

import (
	"bufio"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"

	"github.com/kailas-cloud/portfolioqa/internal/domain"
	"github.com/kailas-cloud/portfolioqa/internal/vectorindex"
)

const (
	vectorsFile   = "vectors.bin"
	documentsFile = "documents.json"
)

// Backend is the flat-file vector backend.
type Backend struct{}

// New creates a flat backend.
func New() *Backend { return &Backend{} }

var _ vectorindex.Backend = (*Backend)(nil)

// Name implements vectorindex.Backend.
func (b *Backend) Name() string { return vectorindex.BackendFlat }

// Available implements vectorindex.Backend. The flat backend is always compiled in.
func (b *Backend) Available() error { return nil }

// Write implements vectorindex.Backend.
func (b *Backend) Write(ctx context.Context, dir string, idx *vectorindex.Index) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	docs, err := json.Marshal(idx.Documents())
	if err != nil {
		return fmt.Errorf("marshal documents: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, documentsFile), docs, 0o644); err != nil {
		return fmt.Errorf("write documents: %w", err)
	}

	if err := writeVectors(filepath.Join(dir, vectorsFile), idx); err != nil {
		return err
	}

	m := idx.Manifest()
	m.Backend = b.Name()
	return vectorindex.WriteManifest(dir, m)
}

func writeVectors(path string, idx *vectorindex.Index) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create vectors: %w", err)
	}

	w := bufio.NewWriter(f)
	buf := make([]byte, 4)
	for n := range idx.Len() {
		for _, v := range idx.Vector(n) {
			binary.LittleEndian.PutUint32(buf, math.Float32bits(v))
			if _, err := w.Write(buf); err != nil {
				_ = f.Close()
				return fmt.Errorf("write vectors: %w", err)
			}
		}
	}
	if err := w.Flush(); err != nil {
		_ = f.Close()
		return fmt.Errorf("flush vectors: %w", err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return fmt.Errorf("sync vectors: %w", err)
	}
	return f.Close()
}

// Read implements vectorindex.Backend.
func (b *Backend) Read(ctx context.Context, dir string) (*vectorindex.Index, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m, err := vectorindex.CheckManifest(dir, b.Name())
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(filepath.Join(dir, documentsFile))
	if err != nil {
		return nil, missing(dir, documentsFile, err)
	}
	var docs []domain.Document
	if err := json.Unmarshal(data, &docs); err != nil {
		return nil, fmt.Errorf("%w: parse %s: %w", domain.ErrIndexNotFound, documentsFile, err)
	}

	vectors, err := readVectors(filepath.Join(dir, vectorsFile), m.Count, m.Dimension)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, missing(dir, vectorsFile, err)
		}
		return nil, err
	}

	return vectorindex.Restore(m, docs, vectors)
}

func readVectors(path string, count, dim int) ([][]float32, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat vectors: %w", err)
	}
	if want := int64(count) * int64(dim) * 4; st.Size() != want {
		return nil, fmt.Errorf("%w: %s has %d bytes, expected %d",
			domain.ErrIndexNotFound, vectorsFile, st.Size(), want)
	}

	r := bufio.NewReader(f)
	buf := make([]byte, dim*4)
	vectors := make([][]float32, count)
	for n := range vectors {
		if _, err := io.ReadFull(r, buf); err != nil {
			return nil, fmt.Errorf("%w: read vector %d: %w", domain.ErrIndexNotFound, n, err)
		}
		vec := make([]float32, dim)
		for i := range vec {
			vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
		}
		vectors[n] = vec
	}
	return vectors, nil
}

func missing(dir, file string, err error) error {
	if errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%w: %s has no %s", domain.ErrIndexNotFound, dir, file)
	}
	return fmt.Errorf("%w: read %s: %w", domain.ErrIndexNotFound, file, err)
}
