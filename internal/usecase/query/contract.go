package query

import (
	"context"

	"github.com/kailas-cloud/vecbench/internal/dataset"
	"github.com/kailas-cloud/vecbench/internal/domain"
)

// Sources loads query sets and, for read-write runs, the writer's documents.
type Sources interface {
	Queries(ctx context.Context, location string) ([]domain.Query, error)
	Docs(ctx context.Context, location string) (dataset.DocumentSource, error)
}
