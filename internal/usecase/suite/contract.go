package suite

import (
	"context"

	"github.com/kailas-cloud/vecbench/internal/collector"
	"github.com/kailas-cloud/vecbench/internal/domain"
	"github.com/kailas-cloud/vecbench/internal/usecase/query"
)

// QueryRunner executes a single query run.
type QueryRunner interface {
	Run(ctx context.Context, cfg domain.QueryConfig) (query.Summary, error)
}

// Flusher hands over the records gathered since the previous flush.
type Flusher interface {
	Flush() []collector.Record
}

// Sink receives the records of each finished step.
type Sink func(ctx context.Context, step Step, records []collector.Record) error
