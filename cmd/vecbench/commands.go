package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/vecbench/internal/collector"
	"github.com/kailas-cloud/vecbench/internal/config"
	"github.com/kailas-cloud/vecbench/internal/dataset"
	"github.com/kailas-cloud/vecbench/internal/domain"
	logpkg "github.com/kailas-cloud/vecbench/internal/logger"
	"github.com/kailas-cloud/vecbench/internal/objstore"
	"github.com/kailas-cloud/vecbench/internal/report"
	"github.com/kailas-cloud/vecbench/internal/usecase/ingest"
	"github.com/kailas-cloud/vecbench/internal/usecase/query"
	"github.com/kailas-cloud/vecbench/internal/usecase/suite"
)

// work is a command's validated workload, built before any backend is dialled.
type work struct {
	ingest domain.IngestConfig
	query  domain.QueryConfig
	steps  []suite.Step
}

func planWork(cmd, suiteKind string, cfg config.Config) (work, error) {
	var w work
	var err error
	switch cmd {
	case "cleanup":
	case "ingest":
		w.ingest, err = domain.NewIngestConfig(ingestParams(cfg))
	case "qps", "filter", "rw":
		w.query, err = domain.NewQueryConfig(queryParams(cfg, domain.Mode(cmd)))
	case "suite":
		w.steps, err = suite.Plan(suite.Kind(suiteKind), queryParams(cfg, domain.ModeQPS))
	default:
		return w, fmt.Errorf("unknown command %q", cmd)
	}
	return w, err
}

// runBench runs every command that talks to a provider.
func runBench(ctx context.Context, cmd, suiteKind string, cfg config.Config, o *options) error {
	w, err := planWork(cmd, suiteKind, cfg)
	if err != nil {
		return err
	}

	a, err := newApp(ctx, cfg, o.runID, logpkg.FromContext(ctx))
	if err != nil {
		return err
	}
	defer a.close()
	ctx = logpkg.With(ctx, zap.String("run_id", a.collector.RunID()))
	a.logger = logpkg.FromContext(ctx)

	if cmd == "cleanup" {
		return a.cleanup(ctx, o.wet)
	}

	a.startServer()
	stopReporter := a.startReporter(ctx)

	var runErr error
	switch cmd {
	case "ingest":
		runErr = a.ingest(ctx, w.ingest)
	case "suite":
		runErr = a.suite(ctx, w.steps)
	default:
		_, runErr = a.queryService().Run(ctx, w.query)
	}
	stopReporter()

	if cmd != "suite" {
		if err := a.export(ctx, a.collector.Flush()); err != nil {
			return err
		}
	}
	return runErr
}

func ingestParams(cfg config.Config) domain.IngestParams {
	return domain.IngestParams{
		Size:        cfg.Dataset.Size,
		Collection:  cfg.Provider.Collection,
		Input:       dataset.Location(cfg.DatasetLocation(), dataset.KindDocs, domain.Size(cfg.Dataset.Size)),
		BatchSize:   cfg.Ingest.BatchSize,
		Concurrency: cfg.Ingest.Concurrency,
		CacheDir:    cfg.Dataset.CacheDir,
		Freshness:   cfg.Ingest.Freshness,
	}
}

// queryParams derives the base query workload from the config.
func queryParams(cfg config.Config, mode domain.Mode) domain.QueryParams {
	size := domain.Size(cfg.Dataset.Size)
	q := cfg.Query
	return domain.QueryParams{
		Size:          cfg.Dataset.Size,
		Collection:    cfg.Provider.Collection,
		Queries:       dataset.Location(cfg.QueriesLocation(), dataset.KindQueries, size),
		Concurrency:   q.Concurrency,
		Timeout:       time.Duration(q.TimeoutMS) * time.Millisecond,
		TopK:          q.TopK,
		IntFilter:     q.IntFilter,
		KeywordFilter: q.KeywordFilter,
		Warmup:        q.Warmup,
		Mode:          string(mode),
		ReadWrite:     mode == domain.ModeRW,
		Duration:      time.Duration(q.DurationSec) * time.Second,
		Input:         dataset.Location(cfg.DatasetLocation(), dataset.KindDocs, size),
		WriteRate:     q.WriteRate,
		DeleteRatio:   q.DeleteRatio,
	}
}

func (a *app) ingest(ctx context.Context, cfg domain.IngestConfig) error {
	svc := ingest.New(a.provider, a.resolver, a.collector, a.logger,
		ingest.WithRetry(a.retry()),
		ingest.WithProbe(a.probe()),
	)
	_, err := svc.Run(ctx, cfg)
	return err
}

func (a *app) queryService() *query.Service {
	return query.New(a.provider, a.resolver, a.collector, a.logger,
		query.WithRetry(a.retry()),
		query.WithProbe(a.probe()),
	)
}

// suite exports the cumulative records after every step, so an interrupted
// suite keeps everything that finished.
func (a *app) suite(ctx context.Context, steps []suite.Step) error {
	var all []collector.Record
	sink := func(ctx context.Context, _ suite.Step, recs []collector.Record) error {
		all = append(all, recs...)
		return a.export(ctx, all)
	}
	_, err := suite.New(a.queryService(), a.collector, sink, a.logger).Run(ctx, steps)
	return err
}

// cleanup lists the provider's collections and deletes them when wet.
func (a *app) cleanup(ctx context.Context, wet bool) error {
	names, err := a.provider.ListCollections(ctx)
	if err != nil {
		return fmt.Errorf("list collections: %w", err)
	}
	if len(names) == 0 {
		a.logger.Info("No collections to clean up")
	}
	for _, name := range names {
		if !wet {
			a.logger.Info("Dry run: would delete collection", zap.String("collection", name))
			continue
		}
		a.logger.Info("Deleting collection", zap.String("collection", name))
		if err := a.provider.DeleteCollection(ctx, name); err != nil {
			return fmt.Errorf("delete collection %s: %w", name, err)
		}
	}
	return nil
}

// runGen writes a synthetic docs/queries pair for the configured size.
// A remote -out is written locally first and then published.
func runGen(ctx context.Context, cfg config.Config, o *options) error {
	logger := logpkg.FromContext(ctx)
	out := o.output
	if out == "" {
		out = "dataset"
	}
	size := domain.Size(cfg.Dataset.Size)

	stores, err := buildStores(ctx, cfg.ObjectStore)
	if err != nil {
		return err
	}

	dir := out
	if objstore.IsRemote(out) {
		if dir, err = os.MkdirTemp("", "vecbench-gen-*"); err != nil {
			return fmt.Errorf("gen: %w", err)
		}
		defer func() { _ = os.RemoveAll(dir) }()
	} else if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("gen: %w", err)
	}

	start := time.Now()
	corpus := dataset.Generator{Seed: cfg.Dataset.Seed}.Corpus(cfg.Dataset.SyntheticDocs, cfg.Dataset.SyntheticQueries)

	written := make(map[dataset.Kind]string, 2)
	written[dataset.KindDocs] = dataset.Location(dir, dataset.KindDocs, size)
	written[dataset.KindQueries] = dataset.Location(dir, dataset.KindQueries, size)
	if err := dataset.WriteDocs(written[dataset.KindDocs], corpus.Docs); err != nil {
		return fmt.Errorf("gen: %w", err)
	}
	if err := dataset.WriteQueries(written[dataset.KindQueries], corpus.Queries); err != nil {
		return fmt.Errorf("gen: %w", err)
	}

	if objstore.IsRemote(out) {
		for kind, local := range written {
			if err := stores.Publish(ctx, local, dataset.Location(out, kind, size)); err != nil {
				return fmt.Errorf("gen: publish %s: %w", filepath.Base(local), err)
			}
		}
	}

	logger.Info("Dataset written",
		zap.String("out", out),
		zap.Int("docs", len(corpus.Docs)),
		zap.Int("queries", len(corpus.Queries)),
		zap.Duration("duration", time.Since(start)),
	)
	return nil
}

type staticRecords []collector.Record

func (s staticRecords) Snapshot() []collector.Record { return s }

// runShow prints the records of a metrics file, local or remote.
func runShow(ctx context.Context, cfg config.Config, args []string, stdout io.Writer) error {
	if len(args) != 1 {
		return fmt.Errorf("show: expected one metrics file")
	}
	stores, err := buildStores(ctx, cfg.ObjectStore)
	if err != nil {
		return err
	}
	recs, err := collector.ReadMetrics(ctx, stores, args[0], cfg.Dataset.CacheDir)
	if err != nil {
		return err
	}
	collector.SortRecords(recs)
	report.New(staticRecords(recs), stdout, time.Second).Tick()
	return nil
}
