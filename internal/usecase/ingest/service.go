package ingest

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/vecbench/internal/collector"
	"github.com/kailas-cloud/vecbench/internal/domain"
	"github.com/kailas-cloud/vecbench/internal/provider"
	"github.com/kailas-cloud/vecbench/internal/usecase/workload"
)

// Summary is the outcome of one ingest run.
type Summary struct {
	Batches  int64
	OK       int64
	Failed   int64
	Docs     int64
	Duration time.Duration
}

// Service streams a document source into a provider.
type Service struct {
	provider provider.Provider
	sources  Sources
	recorder workload.Recorder
	retry    workload.RetryPolicy
	probe    workload.ProbeConfig
	logger   *zap.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithRetry overrides the default retry policy.
func WithRetry(p workload.RetryPolicy) Option {
	return func(s *Service) { s.retry = p }
}

// WithProbe overrides freshness probe tuning. Concurrency always follows the
// run's concurrency.
func WithProbe(c workload.ProbeConfig) Option {
	return func(s *Service) { s.probe = c }
}

// New creates an ingest service.
func New(p provider.Provider, sources Sources, rec workload.Recorder, logger *zap.Logger, opts ...Option) *Service {
	s := &Service{
		provider: p,
		sources:  sources,
		recorder: rec,
		retry:    workload.DefaultRetry(),
		logger:   logger,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Run sets up the collection and upserts every document. Failed batches are
// recorded and skipped; only a dataset or setup failure aborts the run.
func (s *Service) Run(ctx context.Context, cfg domain.IngestConfig) (Summary, error) {
	src, err := s.sources.Docs(ctx, cfg.Input())
	if err != nil {
		return Summary{}, fmt.Errorf("ingest: open dataset: %w", err)
	}
	if err := s.provider.Setup(ctx, cfg.Collection()); err != nil {
		return Summary{}, fmt.Errorf("ingest: %w", err)
	}

	key := collector.Key{
		Provider:    s.provider.Name(),
		Mode:        string(cfg.Mode()),
		Size:        string(cfg.Size()),
		Concurrency: cfg.Concurrency(),
		Selectivity: domain.NoFilter.Label(),
		Op:          provider.OpUpsert,
	}

	var prober *workload.Prober
	if cfg.Freshness() {
		pc := s.probe
		pc.Concurrency = cfg.Concurrency()
		prober = workload.NewProber(s.provider, cfg.Collection(), pc, s.logger)
	}
	onFresh := workload.FreshnessSink(s.recorder, key)

	logger := s.logger.With(
		zap.String("provider", key.Provider),
		zap.String("collection", cfg.Collection()),
		zap.String("size", key.Size),
	)
	logger.Info("Ingest started",
		zap.Int("batch_size", cfg.BatchSize()),
		zap.Int("concurrency", cfg.Concurrency()),
		zap.Bool("freshness", cfg.Freshness()),
	)

	var batches, ok, failed, docs atomic.Int64
	start := time.Now()

	produce := func(ctx context.Context, out chan<- []domain.Document) error {
		return src.Scan(ctx, cfg.BatchSize(), func(b []domain.Document) bool {
			return workload.Send(ctx, out, b)
		})
	}
	handle := func(wctx context.Context, batch []domain.Document) {
		batches.Add(1)
		res := workload.Result{
			Op:    provider.OpUpsert,
			Start: time.Now(),
			Units: len(batch),
			Bytes: domain.TotalSize(batch),
		}
		retries, err := s.retry.Do(wctx, func(ctx context.Context) error {
			return s.provider.Upsert(ctx, cfg.Collection(), batch)
		})
		res.Retries = retries
		res.Finish(err)

		if err != nil && wctx.Err() != nil {
			// interrupted by run cancellation, not a provider failure
			return
		}
		s.recorder.Record(res.Sample(key))

		if !res.OK() {
			failed.Add(1)
			logger.Warn("Batch failed",
				zap.Int64("first_id", batch[0].ID),
				zap.Int("retries", retries),
				zap.String("kind", string(res.Kind)),
				zap.Error(err),
			)
			return
		}
		ok.Add(1)
		docs.Add(int64(len(batch)))
		if prober != nil {
			// probes outlive the pool, so they hang off the run context
			prober.Probe(ctx, domain.MaxID(batch), res.End, onFresh)
		}
	}

	runErr := workload.Run(ctx, cfg.Concurrency(), produce, handle)
	if prober != nil {
		prober.Wait()
	}

	sum := Summary{
		Batches:  batches.Load(),
		OK:       ok.Load(),
		Failed:   failed.Load(),
		Docs:     docs.Load(),
		Duration: time.Since(start),
	}
	logger.Info("Ingest finished",
		zap.Int64("batches", sum.Batches),
		zap.Int64("failed", sum.Failed),
		zap.Int64("docs", sum.Docs),
		zap.Duration("duration", sum.Duration),
	)

	if err := ctx.Err(); err != nil {
		return sum, err
	}
	if runErr != nil {
		return sum, fmt.Errorf("ingest: read dataset: %w", runErr)
	}
	return sum, nil
}
