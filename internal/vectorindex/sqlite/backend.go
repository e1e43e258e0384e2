//go:build !nosqlite

// Package sqlite stores an index in a single SQLite database file.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/kailas-cloud/portfolioqa/internal/domain"
	"github.com/kailas-cloud/portfolioqa/internal/vectorindex"
)

const dbFile = "index.db"

const schema = `
CREATE TABLE documents (
	position INTEGER PRIMARY KEY,
	body     TEXT NOT NULL,
	metadata TEXT NOT NULL,
	vector   BLOB NOT NULL
);`

// Backend is the SQLite vector backend.
type Backend struct{}

// New creates a SQLite backend.
func New() *Backend { return &Backend{} }

var _ vectorindex.Backend = (*Backend)(nil)

// Name implements vectorindex.Backend.
func (b *Backend) Name() string { return vectorindex.BackendSQLite }

// Available implements vectorindex.Backend.
func (b *Backend) Available() error { return nil }

func open(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %w", domain.ErrBackendUnavailable, path, err)
	}
	return db, nil
}

// Write implements vectorindex.Backend.
func (b *Backend) Write(ctx context.Context, dir string, idx *vectorindex.Index) error {
	db, err := open(filepath.Join(dir, dbFile))
	if err != nil {
		return err
	}
	defer db.Close()

	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO documents (position, body, metadata, vector) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for n, doc := range idx.Documents() {
		meta, err := json.Marshal(doc.Metadata)
		if err != nil {
			return fmt.Errorf("marshal metadata: %w", err)
		}
		if _, err := stmt.ExecContext(ctx, n, doc.Body, string(meta), encodeVector(idx.Vector(n))); err != nil {
			return fmt.Errorf("insert document %d: %w", n, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	m := idx.Manifest()
	m.Backend = b.Name()
	return vectorindex.WriteManifest(dir, m)
}

// Read implements vectorindex.Backend.
func (b *Backend) Read(ctx context.Context, dir string) (*vectorindex.Index, error) {
	m, err := vectorindex.CheckManifest(dir, b.Name())
	if err != nil {
		return nil, err
	}

	path := filepath.Join(dir, dbFile)
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s has no %s", domain.ErrIndexNotFound, dir, dbFile)
		}
		return nil, fmt.Errorf("stat %s: %w", dbFile, err)
	}

	db, err := open(path)
	if err != nil {
		return nil, err
	}
	defer db.Close()

	rows, err := db.QueryContext(ctx, `SELECT body, metadata, vector FROM documents ORDER BY position`)
	if err != nil {
		return nil, fmt.Errorf("%w: query documents: %w", domain.ErrIndexNotFound, err)
	}
	defer rows.Close()

	docs := make([]domain.Document, 0, m.Count)
	vectors := make([][]float32, 0, m.Count)
	for rows.Next() {
		var (
			doc  domain.Document
			meta string
			blob []byte
		)
		if err := rows.Scan(&doc.Body, &meta, &blob); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		if err := json.Unmarshal([]byte(meta), &doc.Metadata); err != nil {
			return nil, fmt.Errorf("%w: parse metadata: %w", domain.ErrIndexNotFound, err)
		}
		vec, err := decodeVector(blob)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", domain.ErrIndexNotFound, err)
		}
		docs = append(docs, doc)
		vectors = append(vectors, vec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate documents: %w", err)
	}

	return vectorindex.Restore(m, docs, vectors)
}

func encodeVector(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func decodeVector(data []byte) ([]float32, error) {
	if len(data)%4 != 0 {
		return nil, fmt.Errorf("invalid vector blob: len=%d (not multiple of 4)", len(data))
	}
	vec := make([]float32, len(data)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return vec, nil
}
