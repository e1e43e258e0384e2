//go:build !nosqlite

package sqlite

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kailas-cloud/portfolioqa/internal/domain"
	"github.com/kailas-cloud/portfolioqa/internal/vectorindex"
	"github.com/kailas-cloud/portfolioqa/internal/vectorindex/flat"
)

func testIndex(t *testing.T) *vectorindex.Index {
	t.Helper()
	idx, err := vectorindex.New(vectorindex.BackendSQLite, "text-embedding-3-small", []domain.Document{
		{Body: "Question: What languages does X know?\nAnswer: Python and Go.", Metadata: domain.Metadata{
			Question: "What languages does X know?", Keywords: "python, go", Source: "kb.csv#1", Row: 1,
		}},
		{Body: "X lives in Berlin.", Metadata: domain.Metadata{Source: "kb.csv#2", Row: 2}},
		{Body: "Question: Hobbies?\nAnswer: Climbing.", Metadata: domain.Metadata{Source: "kb.csv#3", Row: 3}},
	}, [][]float32{{1, 0, 0}, {0, 1, 0}, {0.5, 0.5, 0.7071}})
	require.NoError(t, err)
	return idx
}

func TestWriteRead_RoundTrip(t *testing.T) {
	b := New()
	require.NoError(t, b.Available())
	dir := t.TempDir()
	idx := testIndex(t)

	require.NoError(t, b.Write(context.Background(), dir, idx))
	assert.FileExists(t, filepath.Join(dir, dbFile))
	assert.FileExists(t, filepath.Join(dir, vectorindex.ManifestFile))

	got, err := b.Read(context.Background(), dir)
	require.NoError(t, err)

	assert.Equal(t, vectorindex.BackendSQLite, got.Backend())
	assert.Equal(t, idx.Documents(), got.Documents())
	for n := range idx.Len() {
		assert.Equal(t, idx.Vector(n), got.Vector(n))
	}

	q := []float32{0.9, 0.1, 0.2}
	want, err := idx.Search(q, 4, 0)
	require.NoError(t, err)
	have, err := got.Search(q, 4, 0)
	require.NoError(t, err)
	assert.Equal(t, want, have)
}

func TestRead_MissingDatabase(t *testing.T) {
	b := New()
	dir := t.TempDir()
	require.NoError(t, b.Write(context.Background(), dir, testIndex(t)))
	require.NoError(t, os.Remove(filepath.Join(dir, dbFile)))

	_, err := b.Read(context.Background(), dir)
	assert.ErrorIs(t, err, domain.ErrIndexNotFound)
}

func TestRead_FlatDirectory(t *testing.T) {
	dir := t.TempDir()
	flatIdx, err := vectorindex.New(vectorindex.BackendFlat, "m", []domain.Document{{Body: "a"}}, [][]float32{{1}})
	require.NoError(t, err)
	require.NoError(t, flat.New().Write(context.Background(), dir, flatIdx))

	_, err = New().Read(context.Background(), dir)
	var mm *domain.BackendMismatchError
	require.ErrorAs(t, err, &mm)
	assert.Equal(t, vectorindex.BackendFlat, mm.Got)
	assert.ErrorIs(t, err, domain.ErrIndexNotFound)
}

func TestVectorCodec(t *testing.T) {
	v := []float32{0, -1.5, 3.25, 1e-7}
	got, err := decodeVector(encodeVector(v))
	require.NoError(t, err)
	assert.Equal(t, v, got)

	_, err = decodeVector([]byte{1, 2, 3})
	assert.Error(t, err)
}
