package query

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/vecbench/internal/collector"
	"github.com/kailas-cloud/vecbench/internal/domain"
	"github.com/kailas-cloud/vecbench/internal/provider"
	"github.com/kailas-cloud/vecbench/internal/recall"
	"github.com/kailas-cloud/vecbench/internal/usecase/workload"
)

// writerCleanupTimeout bounds removal of read-write documents after a run,
// including an interrupted one.
const writerCleanupTimeout = time.Minute

// Summary is the outcome of one query run.
type Summary struct {
	Queries  int64
	Failed   int64
	Writes   int64
	Duration time.Duration
}

// Service replays a query set against a provider.
type Service struct {
	provider provider.Provider
	sources  Sources
	recorder workload.Recorder
	retry    workload.RetryPolicy
	probe    workload.ProbeConfig
	seed     uint64
	logger   *zap.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithRetry sets the retry policy of the read-write writer. Queries are never
// retried.
func WithRetry(p workload.RetryPolicy) Option {
	return func(s *Service) { s.retry = p }
}

// WithProbe overrides freshness probe tuning for the read-write writer.
func WithProbe(c workload.ProbeConfig) Option {
	return func(s *Service) { s.probe = c }
}

// WithSeed fixes the writer's delete choices.
func WithSeed(seed uint64) Option {
	return func(s *Service) { s.seed = seed }
}

// New creates a query service.
func New(p provider.Provider, sources Sources, rec workload.Recorder, logger *zap.Logger, opts ...Option) *Service {
	s := &Service{
		provider: p,
		sources:  sources,
		recorder: rec,
		retry:    workload.DefaultRetry(),
		seed:     uint64(time.Now().UnixNano()), //nolint:gosec // seed only
		logger:   logger,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

type discard struct{}

func (discard) Record(collector.Sample) {}
func (discard) RecordFreshness(collector.Key, time.Duration) {}

// Run executes the configured query mode. Failed queries are recorded and
// never retried; only a dataset failure aborts the run.
func (s *Service) Run(ctx context.Context, cfg domain.QueryConfig) (Summary, error) {
	queries, err := s.sources.Queries(ctx, cfg.Queries())
	if err != nil {
		return Summary{}, fmt.Errorf("query: load queries: %w", err)
	}

	key := collector.Key{
		Provider:    s.provider.Name(),
		Mode:        string(cfg.Mode()),
		Size:        string(cfg.Size()),
		Concurrency: cfg.Concurrency(),
		Selectivity: cfg.Predicate().Label(),
		Op:          provider.OpQuery,
	}
	logger := s.logger.With(
		zap.String("provider", key.Provider),
		zap.String("collection", cfg.Collection()),
		zap.String("mode", key.Mode),
		zap.String("selectivity", key.Selectivity),
		zap.Int("concurrency", key.Concurrency),
	)

	var w *writer
	if cfg.ReadWrite() {
		if w, err = s.newWriter(ctx, cfg, key, logger); err != nil {
			return Summary{}, err
		}
	}

	if cfg.Warmup() {
		logger.Info("Warmup started", zap.Int("queries", len(queries)))
		if _, err := s.replay(ctx, cfg, queries, key, discard{}, 0); err != nil {
			return Summary{}, err
		}
	}

	logger.Info("Query run started",
		zap.Int("queries", len(queries)),
		zap.Int("top_k", cfg.TopK()),
		zap.Duration("timeout", cfg.Timeout()),
		zap.Duration("duration", cfg.Duration()),
	)
	start := time.Now()

	var writerWG sync.WaitGroup
	writeCtx, stopWriter := context.WithCancel(ctx)
	defer stopWriter()
	if w != nil {
		writerWG.Add(1)
		go func() {
			defer writerWG.Done()
			if err := w.run(writeCtx, ctx); err != nil {
				logger.Error("Writer stopped", zap.Error(err))
			}
		}()
	}

	sum, runErr := s.replay(ctx, cfg, queries, key, s.recorder, cfg.Duration())

	stopWriter()
	writerWG.Wait()
	if w != nil {
		w.prober.Wait()
		sum.Writes = w.batches
		cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), writerCleanupTimeout)
		if err := w.cleanup(cleanupCtx); err != nil {
			logger.Error("Writer documents left in collection", zap.Error(err))
		}
		cancel()
	}
	sum.Duration = time.Since(start)

	logger.Info("Query run finished",
		zap.Int64("queries", sum.Queries),
		zap.Int64("failed", sum.Failed),
		zap.Int64("writes", sum.Writes),
		zap.Duration("duration", sum.Duration),
	)
	if err := ctx.Err(); err != nil {
		return sum, err
	}
	return sum, runErr
}

func (s *Service) newWriter(ctx context.Context, cfg domain.QueryConfig, key collector.Key, logger *zap.Logger) (*writer, error) {
	src, err := s.sources.Docs(ctx, cfg.Input())
	if err != nil {
		return nil, fmt.Errorf("query: open writer dataset: %w", err)
	}
	pc := s.probe
	pc.Concurrency = cfg.Concurrency()
	key.Op = provider.OpUpsert
	return &writer{
		provider:    s.provider,
		collection:  cfg.Collection(),
		src:         src,
		recorder:    s.recorder,
		key:         key,
		retry:       s.retry,
		limiter:     newWriterLimiter(cfg.WriteRate()),
		deleteRatio: cfg.DeleteRatio(),
		prober:      workload.NewProber(s.provider, cfg.Collection(), pc, logger),
		logger:      logger,
		rng:         rand.New(rand.NewPCG(s.seed, 0)), //nolint:gosec // not security sensitive
	}, nil
}

// replay sends queries through the pool once, or round-robin until d elapses
// when d is positive.
func (s *Service) replay(
	ctx context.Context,
	cfg domain.QueryConfig,
	queries []domain.Query,
	key collector.Key,
	rec workload.Recorder,
	d time.Duration,
) (Summary, error) {
	var total, failed atomic.Int64
	pred := cfg.Predicate()
	// writes invalidate ground truth, so read-write runs report no recall
	withRecall := !cfg.ReadWrite()

	produce := func(ctx context.Context, out chan<- int) error {
		deadline := time.Now().Add(d)
		for i := 0; ; i++ {
			if d > 0 {
				if time.Now().After(deadline) {
					return nil
				}
			} else if i == len(queries) {
				return nil
			}
			if !workload.Send(ctx, out, i%len(queries)) {
				return nil
			}
		}
	}
	handle := func(wctx context.Context, i int) {
		q := queries[i]
		req := provider.Request{Vector: q.Dense, TopK: cfg.TopK(), Predicate: pred}

		res := workload.Result{Op: provider.OpQuery, Start: time.Now(), Units: 1}
		hits, err := workload.Call(wctx, provider.OpQuery, cfg.Timeout(), func(c context.Context) ([]provider.Hit, error) {
			return s.provider.Query(c, cfg.Collection(), req)
		})
		res.Finish(err)
		if err != nil && wctx.Err() != nil {
			return
		}

		total.Add(1)
		sample := res.Sample(key)
		if err != nil {
			failed.Add(1)
		} else {
			res.IDs = provider.HitIDs(hits)
			if withRecall {
				sample.Recall, sample.HasRecall = recall.ForQuery(q, pred, res.IDs, cfg.TopK())
			}
		}
		rec.Record(sample)
	}

	err := workload.Run(ctx, cfg.Concurrency(), produce, handle)
	return Summary{Queries: total.Load(), Failed: failed.Load()}, err
}
