package workload

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/kailas-cloud/vecbench/internal/collector"
	"github.com/kailas-cloud/vecbench/internal/metrics"
	"github.com/kailas-cloud/vecbench/internal/provider"
)

// Recorder receives samples from running workloads.
type Recorder interface {
	Record(s collector.Sample)
	RecordFreshness(key collector.Key, d time.Duration)
}

// FreshnessSink returns a probe callback that records under key and feeds
// the freshness histogram.
func FreshnessSink(rec Recorder, key collector.Key) func(time.Duration) {
	return func(d time.Duration) {
		rec.RecordFreshness(key, d)
		metrics.FreshnessSeconds.WithLabelValues(key.Provider, key.Mode).Observe(d.Seconds())
	}
}

// ProbeConfig tunes a Prober.
type ProbeConfig struct {
	// Concurrency caps probes in flight; further probes wait for a slot.
	Concurrency int
	// Interval between QueryByID polls.
	Interval time.Duration
	// MaxWait gives up on a document that never becomes visible.
	MaxWait time.Duration
}

func (c ProbeConfig) withDefaults() ProbeConfig {
	if c.Concurrency <= 0 {
		c.Concurrency = 1
	}
	if c.Interval <= 0 {
		c.Interval = 10 * time.Millisecond
	}
	if c.MaxWait <= 0 {
		c.MaxWait = 30 * time.Second
	}
	return c
}

// Prober measures write-to-read freshness: the delay between an upsert ack
// and the first QueryByID that sees the document. Probes run on their own
// bounded pool so they never take a slot of the workload being measured.
type Prober struct {
	p          provider.Provider
	collection string
	cfg        ProbeConfig
	sem        *semaphore.Weighted
	wg         sync.WaitGroup
	logger     *zap.Logger
}

// NewProber creates a prober for collection.
func NewProber(p provider.Provider, collection string, cfg ProbeConfig, logger *zap.Logger) *Prober {
	cfg = cfg.withDefaults()
	return &Prober{
		p:          p,
		collection: collection,
		cfg:        cfg,
		sem:        semaphore.NewWeighted(int64(cfg.Concurrency)),
		logger:     logger,
	}
}

// Probe starts polling for id in the background. record receives the
// freshness once the document is visible; it is not called when the probe
// gives up or ctx ends.
func (pr *Prober) Probe(ctx context.Context, id int64, ackAt time.Time, record func(time.Duration)) {
	if err := pr.sem.Acquire(ctx, 1); err != nil {
		return
	}
	pr.wg.Add(1)
	go func() {
		defer pr.wg.Done()
		defer pr.sem.Release(1)
		if d, ok := pr.poll(ctx, id, ackAt); ok {
			record(d)
		}
	}()
}

// Wait blocks until every started probe has finished.
func (pr *Prober) Wait() { pr.wg.Wait() }

func (pr *Prober) poll(ctx context.Context, id int64, ackAt time.Time) (time.Duration, bool) {
	ctx, cancel := context.WithDeadline(ctx, ackAt.Add(pr.cfg.MaxWait))
	defer cancel()

	ticker := time.NewTicker(pr.cfg.Interval)
	defer ticker.Stop()
	for {
		_, err := pr.p.QueryByID(ctx, pr.collection, id)
		switch {
		case err == nil:
			return time.Since(ackAt), true
		case errors.Is(err, provider.ErrNotFound):
		default:
			pr.logger.Debug("freshness probe failed", zap.Int64("id", id), zap.Error(err))
		}

		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				pr.logger.Warn("document never became visible",
					zap.Int64("id", id), zap.Duration("max_wait", pr.cfg.MaxWait))
			}
			return 0, false
		case <-ticker.C:
		}
	}
}
