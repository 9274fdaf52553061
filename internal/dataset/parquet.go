package dataset

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/parquet-go/parquet-go"

	"github.com/kailas-cloud/vecbench/internal/domain"
)

// docRow is the on-disk document layout.
type docRow struct {
	ID            int64     `parquet:"id"`
	Text          string    `parquet:"text"`
	Dense         []float32 `parquet:"dense"`
	IntFilter     int32     `parquet:"int_filter"`
	KeywordFilter string    `parquet:"keyword_filter"`
}

// queryRow is the on-disk query layout. Ground truth is stored as one nested
// row per predicate key.
type queryRow struct {
	Text   string      `parquet:"text"`
	Dense  []float32   `parquet:"dense"`
	Recall []recallRow `parquet:"recall"`
}

type recallRow struct {
	IntFilter int32   `parquet:"int_filter"`
	Keyword   string  `parquet:"keyword"`
	IDs       []int64 `parquet:"ids"`
}

func (r docRow) document() domain.Document {
	return domain.Document{
		ID:            r.ID,
		Text:          r.Text,
		Dense:         r.Dense,
		IntFilter:     uint32(r.IntFilter), //nolint:gosec // int_filter is in [0, 10000)
		KeywordFilter: r.KeywordFilter,
	}
}

func toDocRow(d domain.Document) docRow {
	return docRow{
		ID:            d.ID,
		Text:          d.Text,
		Dense:         d.Dense,
		IntFilter:     int32(d.IntFilter), //nolint:gosec // int_filter is in [0, 10000)
		KeywordFilter: d.KeywordFilter,
	}
}

// query converts a row, dropping negative padding ids from ground truth.
func (r queryRow) query() domain.Query {
	q := domain.Query{
		Text:   r.Text,
		Dense:  r.Dense,
		Recall: make(map[domain.PredicateKey][]int64, len(r.Recall)),
	}
	for _, rr := range r.Recall {
		ids := make([]int64, 0, len(rr.IDs))
		for _, id := range rr.IDs {
			if id >= 0 {
				ids = append(ids, id)
			}
		}
		key := domain.PredicateKey{IntFilter: uint32(rr.IntFilter), Keyword: rr.Keyword} //nolint:gosec // bounded by IntFilterRange
		q.Recall[key] = ids
	}
	return q
}

func toQueryRow(q domain.Query) queryRow {
	r := queryRow{Text: q.Text, Dense: q.Dense, Recall: make([]recallRow, 0, len(q.Recall))}
	for k, ids := range q.Recall {
		r.Recall = append(r.Recall, recallRow{
			IntFilter: int32(k.IntFilter), //nolint:gosec // bounded by IntFilterRange
			Keyword:   k.Keyword,
			IDs:       ids,
		})
	}
	return r
}

// ParquetDocs streams documents from a local parquet file.
type ParquetDocs struct {
	path string
	rows int64
}

// OpenDocs checks that path is a readable parquet file.
func OpenDocs(path string) (*ParquetDocs, error) {
	f, pf, err := openParquet(path)
	if err != nil {
		return nil, fmt.Errorf("open docs: %w", err)
	}
	defer func() { _ = f.Close() }()
	return &ParquetDocs{path: path, rows: pf.NumRows()}, nil
}

// openParquet validates the footer before any generic reader touches the file.
func openParquet(path string) (*os.File, *parquet.File, error) {
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return nil, nil, err
	}
	stat, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, nil, fmt.Errorf("stat: %w", err)
	}
	pf, err := parquet.OpenFile(f, stat.Size())
	if err != nil {
		_ = f.Close()
		return nil, nil, fmt.Errorf("open parquet: %w", err)
	}
	return f, pf, nil
}

// Len returns the number of documents in the file.
func (p *ParquetDocs) Len() int64 { return p.rows }

// Scan reopens the file on every call, so a source can be replayed.
func (p *ParquetDocs) Scan(ctx context.Context, batchSize int, fn BatchFunc) error {
	if batchSize <= 0 {
		return fmt.Errorf("scan %s: batch size must be positive", p.path)
	}
	f, _, err := openParquet(p.path)
	if err != nil {
		return fmt.Errorf("open docs: %w", err)
	}
	defer func() { _ = f.Close() }()

	r := parquet.NewGenericReader[docRow](f)
	defer func() { _ = r.Close() }()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		// fresh buffer per batch: batches outlive the call
		buf := make([]docRow, batchSize)
		n, readErr := r.Read(buf)
		if n > 0 {
			batch := make([]domain.Document, n)
			for i := range n {
				batch[i] = buf[i].document()
			}
			if !fn(batch) {
				return nil
			}
		}
		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				return nil
			}
			return fmt.Errorf("read docs %s: %w", p.path, readErr)
		}
	}
}

// LoadQueries reads every query of a local parquet file.
func LoadQueries(path string) ([]domain.Query, error) {
	rows, err := parquet.ReadFile[queryRow](path)
	if err != nil {
		return nil, fmt.Errorf("load queries %s: %w", path, err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("load queries %s: %w", path, ErrEmpty)
	}
	out := make([]domain.Query, len(rows))
	for i := range rows {
		out[i] = rows[i].query()
	}
	return out, nil
}

// WriteDocs writes docs to path as parquet.
func WriteDocs(path string, docs []domain.Document) error {
	rows := make([]docRow, len(docs))
	for i := range docs {
		rows[i] = toDocRow(docs[i])
	}
	return writeFile(path, rows)
}

// WriteQueries writes queries with their ground truth to path as parquet.
func WriteQueries(path string, queries []domain.Query) error {
	rows := make([]queryRow, len(queries))
	for i := range queries {
		rows[i] = toQueryRow(queries[i])
	}
	return writeFile(path, rows)
}

func writeFile[T any](path string, rows []T) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("mkdir: %w", err)
	}
	tmp := path + ".tmp"
	f, err := os.Create(filepath.Clean(tmp))
	if err != nil {
		return fmt.Errorf("create: %w", err)
	}

	w := parquet.NewGenericWriter[T](f)
	_, err = w.Write(rows)
	if closeErr := w.Close(); closeErr != nil && err == nil {
		err = closeErr
	}
	if closeErr := f.Close(); closeErr != nil && err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("write %s: %w", path, err)
	}
	return os.Rename(tmp, path)
}
