package query

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kailas-cloud/vecbench/internal/collector"
	"github.com/kailas-cloud/vecbench/internal/dataset"
	"github.com/kailas-cloud/vecbench/internal/domain"
	"github.com/kailas-cloud/vecbench/internal/provider"
	"github.com/kailas-cloud/vecbench/internal/usecase/workload"
)

// WriterBatchSize is the number of documents per read-write upsert.
const WriterBatchSize = 100

// WriterIDOffset shifts ids written during a read-write run past the ingested
// corpus, so freshness measures new documents rather than old versions.
const WriterIDOffset int64 = 1 << 30

// writer streams documents into the collection while queries run.
type writer struct {
	provider    provider.Provider
	collection  string
	src         dataset.DocumentSource
	recorder    workload.Recorder
	key         collector.Key
	retry       workload.RetryPolicy
	limiter     *rate.Limiter
	deleteRatio float64
	prober      *workload.Prober
	logger      *zap.Logger

	rng     *rand.Rand
	written []int64
	batches int64
}

func newWriterLimiter(perSecond float64) *rate.Limiter {
	if perSecond <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Limit(perSecond), 1)
}

// run writes until the source is exhausted or ctx ends. Freshness probes are
// bound to probeCtx so they can finish after the writer stops.
func (w *writer) run(ctx, probeCtx context.Context) error {
	onFresh := workload.FreshnessSink(w.recorder, w.key)

	err := w.src.Scan(ctx, WriterBatchSize, func(batch []domain.Document) bool {
		if w.limiter != nil {
			if err := w.limiter.Wait(ctx); err != nil {
				return false
			}
		}
		for i := range batch {
			batch[i].ID += WriterIDOffset
		}

		res := w.upsert(ctx, batch)
		if res.Err != nil && ctx.Err() != nil {
			return false
		}
		w.recorder.Record(res.Sample(w.key))
		w.batches++
		if res.OK() {
			for i := range batch {
				w.written = append(w.written, batch[i].ID)
			}
			if w.prober != nil {
				w.prober.Probe(probeCtx, domain.MaxID(batch), res.End, onFresh)
			}
		}

		if w.deleteRatio > 0 && len(w.written) > 0 && w.rng.Float64() < w.deleteRatio {
			w.deleteOne(ctx)
		}
		return ctx.Err() == nil
	})
	if ctx.Err() != nil {
		return nil
	}
	return err
}

func (w *writer) upsert(ctx context.Context, batch []domain.Document) workload.Result {
	res := workload.Result{
		Op:    provider.OpUpsert,
		Start: time.Now(),
		Units: len(batch),
		Bytes: domain.TotalSize(batch),
	}
	retries, err := w.retry.Do(ctx, func(ctx context.Context) error {
		return w.provider.Upsert(ctx, w.collection, batch)
	})
	res.Retries = retries
	res.Finish(err)
	if err != nil && ctx.Err() == nil {
		w.logger.Warn("Writer batch failed", zap.Int64("first_id", batch[0].ID), zap.Error(err))
	}
	return res
}

// cleanup deletes every document the writer inserted, so the collection
// holds only the ingested corpus again. Deletes are retried but not recorded.
func (w *writer) cleanup(ctx context.Context) error {
	for len(w.written) > 0 {
		n := min(WriterBatchSize, len(w.written))
		ids := w.written[:n]
		if _, err := w.retry.Do(ctx, func(ctx context.Context) error {
			return w.provider.DeleteByID(ctx, w.collection, ids)
		}); err != nil {
			return fmt.Errorf("query: remove %d writer documents: %w", len(w.written), err)
		}
		w.written = w.written[n:]
	}
	return nil
}

// deleteOne removes a random id the writer wrote earlier.
func (w *writer) deleteOne(ctx context.Context) {
	i := w.rng.IntN(len(w.written))
	id := w.written[i]
	w.written[i] = w.written[len(w.written)-1]
	w.written = w.written[:len(w.written)-1]

	res := workload.Result{Op: provider.OpDelete, Start: time.Now(), Units: 1}
	retries, err := w.retry.Do(ctx, func(ctx context.Context) error {
		return w.provider.DeleteByID(ctx, w.collection, []int64{id})
	})
	res.Retries = retries
	res.Finish(err)
	if err != nil && ctx.Err() != nil {
		return
	}
	w.recorder.Record(res.Sample(w.key))
}
