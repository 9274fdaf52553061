// Package dataset streams benchmark documents and loads query sets.
//
// Documents and queries are parquet files addressed by a location (local path,
// s3:// or minio://) or generated synthetically for smoke runs.
package dataset

import (
	"context"
	"errors"
	"strings"

	"github.com/kailas-cloud/vecbench/internal/domain"
)

// ErrEmpty is returned when a source yields no documents or queries.
var ErrEmpty = errors.New("dataset: empty")

// Kind selects which file of a dataset size a location refers to.
type Kind string

// Dataset file kinds.
const (
	KindDocs    Kind = "docs"
	KindQueries Kind = "queries"
)

// SyntheticLocation selects the in-process generated corpus instead of a file.
const SyntheticLocation = "synthetic"

// BatchFunc receives one batch. Returning false stops the scan.
type BatchFunc func(batch []domain.Document) bool

// DocumentSource is a lazy, restartable document sequence. Every call to Scan
// starts from the first document; batches passed to fn are owned by fn.
type DocumentSource interface {
	Scan(ctx context.Context, batchSize int, fn BatchFunc) error
}

// Location returns the file of the given kind and size under base. A base
// naming a parquet file or the synthetic corpus is returned unchanged.
func Location(base string, kind Kind, size domain.Size) string {
	if base == SyntheticLocation || strings.HasSuffix(base, ".parquet") {
		return base
	}
	return strings.TrimSuffix(base, "/") + "/" + string(kind) + "-" + string(size) + ".parquet"
}

// SliceSource serves documents from memory.
type SliceSource []domain.Document

// Scan yields consecutive sub-slices of at most batchSize documents.
func (s SliceSource) Scan(ctx context.Context, batchSize int, fn BatchFunc) error {
	if batchSize <= 0 {
		batchSize = len(s)
	}
	for start := 0; start < len(s); start += batchSize {
		if err := ctx.Err(); err != nil {
			return err
		}
		end := min(start+batchSize, len(s))
		batch := make([]domain.Document, end-start)
		copy(batch, s[start:end])
		if !fn(batch) {
			return nil
		}
	}
	return nil
}

// Collect drains src into memory. Intended for small sources and tests.
func Collect(ctx context.Context, src DocumentSource) ([]domain.Document, error) {
	var out []domain.Document
	err := src.Scan(ctx, 1024, func(batch []domain.Document) bool {
		out = append(out, batch...)
		return true
	})
	return out, err
}
