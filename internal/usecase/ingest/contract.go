package ingest

import (
	"context"

	"github.com/kailas-cloud/vecbench/internal/dataset"
)

// Sources opens document sources by location.
type Sources interface {
	Docs(ctx context.Context, location string) (dataset.DocumentSource, error)
}
