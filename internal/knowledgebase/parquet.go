package knowledgebase

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/parquet-go/parquet-go"

	"github.com/kailas-cloud/portfolioqa/internal/domain"
)

const parquetReadBatch = 256

// parseParquet flattens a Parquet file into the same table the CSV path uses.
// Top-level column names are the header; repeated values (a keywords list) are comma-joined.
func (l *Loader) parseParquet(path string, data []byte) ([]domain.Document, error) {
	pf, err := parquet.OpenFile(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("%w: parse %s: %w", domain.ErrSchema, path, err)
	}

	// leaf column index -> header position; nested leaves share their top-level name
	var header []string
	leaf := make(map[int]int)
	pos := make(map[string]int)
	for i, colPath := range pf.Schema().Columns() {
		if len(colPath) == 0 {
			continue
		}
		name := colPath[0]
		p, ok := pos[name]
		if !ok {
			p = len(header)
			pos[name] = p
			header = append(header, name)
		}
		leaf[i] = p
	}

	table := [][]string{header}
	buf := make([]parquet.Row, parquetReadBatch)
	for _, rg := range pf.RowGroups() {
		rows := parquet.NewRowGroupReader(rg)
		for {
			n, readErr := rows.ReadRows(buf)
			for _, row := range buf[:n] {
				table = append(table, flattenRow(row, leaf, len(header)))
			}
			if readErr != nil {
				if errors.Is(readErr, io.EOF) {
					break
				}
				return nil, fmt.Errorf("%w: read %s: %w", domain.ErrSchema, path, readErr)
			}
		}
	}

	switch {
	case len(table) == 1:
		return checkHeaderOnly(path, header)
	case len(header) == 1:
		// Parquet always names its columns, so a single column is the answer list.
		return buildLegacy(path, table[1:]), nil
	}
	return l.fromTable(path, table)
}

func flattenRow(row parquet.Row, leaf map[int]int, width int) []string {
	cells := make([][]string, width)
	for _, v := range row {
		p, ok := leaf[v.Column()]
		if !ok || v.IsNull() {
			continue
		}
		if s := strings.TrimSpace(v.String()); s != "" {
			cells[p] = append(cells[p], s)
		}
	}
	out := make([]string, width)
	for i, c := range cells {
		out[i] = strings.Join(c, ", ")
	}
	return out
}

// checkHeaderOnly reports missing columns of a row-less file, which
// otherwise ends as an empty knowledge base.
func checkHeaderOnly(path string, header []string) ([]domain.Document, error) {
	cols := findColumns(header)
	if len(header) == 1 || (cols.question >= 0 && cols.answer >= 0) {
		return nil, nil
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
