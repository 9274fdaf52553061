package dataset

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/vecbench/internal/domain"
	"github.com/kailas-cloud/vecbench/internal/objstore"
)

// Resolver turns dataset locations into sources. Remote files are fetched
// into the cache directory once; the synthetic location is generated once per
// resolver so documents and query ground truth agree.
type Resolver struct {
	stores   *objstore.Registry
	cacheDir string
	logger   *zap.Logger

	gen          Generator
	synthDocs    int
	synthQueries int
	once         sync.Once
	corpus       Corpus
}

// ResolverOption configures a Resolver.
type ResolverOption func(*Resolver)

// WithSynthetic sets the generator and corpus size used for SyntheticLocation.
func WithSynthetic(g Generator, docs, queries int) ResolverOption {
	return func(r *Resolver) {
		r.gen = g
		r.synthDocs = docs
		r.synthQueries = queries
	}
}

// NewResolver creates a resolver. stores may be nil when only local paths
// and the synthetic corpus are used.
func NewResolver(stores *objstore.Registry, cacheDir string, logger *zap.Logger, opts ...ResolverOption) *Resolver {
	if stores == nil {
		stores = objstore.NewRegistry()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Resolver{
		stores:       stores,
		cacheDir:     cacheDir,
		logger:       logger,
		synthDocs:    1000,
		synthQueries: 10,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

func (r *Resolver) synthetic() Corpus {
	r.once.Do(func() {
		start := time.Now()
		r.corpus = r.gen.Corpus(r.synthDocs, r.synthQueries)
		r.logger.Info("generated synthetic corpus",
			zap.Int("docs", len(r.corpus.Docs)),
			zap.Int("queries", len(r.corpus.Queries)),
			zap.Duration("took", time.Since(start)),
		)
	})
	return r.corpus
}

func (r *Resolver) fetch(ctx context.Context, location string) (string, error) {
	if !objstore.IsRemote(location) {
		return location, nil
	}
	start := time.Now()
	path, err := r.stores.Fetch(ctx, location, r.cacheDir)
	if err != nil {
		return "", err
	}
	r.logger.Info("dataset ready",
		zap.String("location", location),
		zap.String("path", path),
		zap.Duration("took", time.Since(start)),
	)
	return path, nil
}

// Docs opens the document source at location.
func (r *Resolver) Docs(ctx context.Context, location string) (DocumentSource, error) {
	if location == SyntheticLocation {
		return SliceSource(r.synthetic().Docs), nil
	}
	path, err := r.fetch(ctx, location)
	if err != nil {
		return nil, fmt.Errorf("resolve docs: %w", err)
	}
	src, err := OpenDocs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve docs: %w", err)
	}
	r.logger.Debug("opened documents", zap.String("path", path), zap.Int64("rows", src.Len()))
	return src, nil
}

// Queries loads the query set at location.
func (r *Resolver) Queries(ctx context.Context, location string) ([]domain.Query, error) {
	if location == SyntheticLocation {
		qs := r.synthetic().Queries
		if len(qs) == 0 {
			return nil, fmt.Errorf("resolve queries: %w", ErrEmpty)
		}
		return qs, nil
	}
	path, err := r.fetch(ctx, location)
	if err != nil {
		return nil, fmt.Errorf("resolve queries: %w", err)
	}
	qs, err := LoadQueries(path)
	if err != nil {
		return nil, fmt.Errorf("resolve queries: %w", err)
	}
	return qs, nil
}
