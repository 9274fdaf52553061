package provider

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/vecbench/internal/domain"
	"github.com/kailas-cloud/vecbench/internal/metrics"
)

// Instrumented wraps a Provider with prometheus call metrics and failure logging.
// It forwards the optional Lister and Pinger interfaces when the inner provider has them.
type Instrumented struct {
	inner  Provider
	logger *zap.Logger
}

// NewInstrumented wraps inner. Metrics must be registered by the caller.
func NewInstrumented(inner Provider, logger *zap.Logger) *Instrumented {
	return &Instrumented{inner: inner, logger: logger.With(zap.String("provider", inner.Name()))}
}

// Unwrap returns the wrapped provider.
func (p *Instrumented) Unwrap() Provider { return p.inner }

func (p *Instrumented) Name() string { return p.inner.Name() }

func (p *Instrumented) Setup(ctx context.Context, collection string) error {
	start := time.Now()
	err := p.inner.Setup(ctx, collection)
	p.observe(OpSetup, start, err)
	if err == nil {
		p.logger.Info("Collection ready", zap.String("collection", collection), zap.Duration("duration", time.Since(start)))
	}
	return err
}

func (p *Instrumented) QueryByID(ctx context.Context, collection string, id int64) (domain.Document, error) {
	start := time.Now()
	doc, err := p.inner.QueryByID(ctx, collection, id)
	p.observe(OpQueryByID, start, err)
	return doc, err
}

func (p *Instrumented) Query(ctx context.Context, collection string, req Request) ([]Hit, error) {
	start := time.Now()
	hits, err := p.inner.Query(ctx, collection, req)
	p.observe(OpQuery, start, err)
	return hits, err
}

func (p *Instrumented) Upsert(ctx context.Context, collection string, docs []domain.Document) error {
	start := time.Now()
	err := p.inner.Upsert(ctx, collection, docs)
	p.observe(OpUpsert, start, err)
	if err == nil {
		name := p.inner.Name()
		metrics.IngestDocsTotal.WithLabelValues(name).Add(float64(len(docs)))
		metrics.IngestBytesTotal.WithLabelValues(name).Add(float64(domain.TotalSize(docs)))
	}
	return err
}

func (p *Instrumented) DeleteByID(ctx context.Context, collection string, ids []int64) error {
	start := time.Now()
	err := p.inner.DeleteByID(ctx, collection, ids)
	p.observe(OpDelete, start, err)
	return err
}

func (p *Instrumented) DeleteCollection(ctx context.Context, collection string) error {
	start := time.Now()
	err := p.inner.DeleteCollection(ctx, collection)
	p.observe(OpDeleteCollection, start, err)
	if err == nil {
		p.logger.Info("Collection deleted", zap.String("collection", collection))
	}
	return err
}

// ListCollections delegates to the inner Lister, or returns ErrUnsupported.
func (p *Instrumented) ListCollections(ctx context.Context) ([]string, error) {
	l, ok := p.inner.(Lister)
	if !ok {
		return nil, ErrUnsupported
	}
	start := time.Now()
	names, err := l.ListCollections(ctx)
	p.observe(OpListCollections, start, err)
	return names, err
}

// Ping delegates to the inner Pinger. Providers without one are assumed alive.
func (p *Instrumented) Ping(ctx context.Context) error {
	if pg, ok := p.inner.(Pinger); ok {
		return pg.Ping(ctx)
	}
	return nil
}

func (p *Instrumented) Close() error {
	return p.inner.Close()
}

func (p *Instrumented) observe(op string, start time.Time, err error) {
	name := p.inner.Name()
	duration := time.Since(start)
	metrics.ProviderCallDuration.WithLabelValues(name, op).Observe(duration.Seconds())

	switch {
	case err == nil:
		metrics.ProviderCallsTotal.WithLabelValues(name, op, "ok").Inc()
	case errors.Is(err, ErrNotFound):
		metrics.ProviderCallsTotal.WithLabelValues(name, op, "not_found").Inc()
	default:
		kind := KindOf(err)
		metrics.ProviderCallsTotal.WithLabelValues(name, op, "error").Inc()
		metrics.ProviderErrorsTotal.WithLabelValues(name, op, string(kind)).Inc()
		p.logger.Warn("Provider call failed",
			zap.String("op", op),
			zap.String("kind", string(kind)),
			zap.Duration("duration", duration),
			zap.Error(err),
		)
	}
}
