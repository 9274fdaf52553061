package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/vecbench/internal/collector"
	"github.com/kailas-cloud/vecbench/internal/config"
	"github.com/kailas-cloud/vecbench/internal/dataset"
	dbRedis "github.com/kailas-cloud/vecbench/internal/db/redis"
	"github.com/kailas-cloud/vecbench/internal/metrics"
	"github.com/kailas-cloud/vecbench/internal/objstore"
	miniostore "github.com/kailas-cloud/vecbench/internal/objstore/minio"
	s3store "github.com/kailas-cloud/vecbench/internal/objstore/s3"
	"github.com/kailas-cloud/vecbench/internal/provider"
	"github.com/kailas-cloud/vecbench/internal/provider/memory"
	qdrantprov "github.com/kailas-cloud/vecbench/internal/provider/qdrant"
	redisprov "github.com/kailas-cloud/vecbench/internal/provider/redis"
	"github.com/kailas-cloud/vecbench/internal/provider/stub"
	"github.com/kailas-cloud/vecbench/internal/report"
	chiTransport "github.com/kailas-cloud/vecbench/internal/transport/chi"
	healthuc "github.com/kailas-cloud/vecbench/internal/usecase/health"
	"github.com/kailas-cloud/vecbench/internal/usecase/workload"
)

// app is the composition root shared by every subcommand.
type app struct {
	cfg       config.Config
	logger    *zap.Logger
	provider  *provider.Instrumented
	stores    *objstore.Registry
	resolver  *dataset.Resolver
	collector *collector.Collector

	server *http.Server
}

func newApp(ctx context.Context, cfg config.Config, runID string, logger *zap.Logger) (*app, error) {
	metrics.RegisterProviderMetrics()

	stores, err := buildStores(ctx, cfg.ObjectStore)
	if err != nil {
		return nil, err
	}

	inner, err := buildProvider(ctx, cfg.Provider, logger)
	if err != nil {
		return nil, err
	}

	gen := dataset.Generator{Seed: cfg.Dataset.Seed}
	a := &app{
		cfg:       cfg,
		logger:    logger,
		provider:  provider.NewInstrumented(inner, logger),
		stores:    stores,
		resolver:  dataset.NewResolver(stores, cfg.Dataset.CacheDir, logger, dataset.WithSynthetic(gen, cfg.Dataset.SyntheticDocs, cfg.Dataset.SyntheticQueries)),
		collector: collector.New(runID),
	}
	return a, nil
}

// buildProvider creates the backend selected by driver.
func buildProvider(ctx context.Context, cfg config.ProviderConfig, logger *zap.Logger) (provider.Provider, error) {
	switch cfg.Driver {
	case config.DriverRedis:
		store, err := dbRedis.NewStore(dbRedis.Config{
			Addrs:    cfg.Redis.Addrs,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			return nil, fmt.Errorf("redis store: %w", err)
		}
		if err := store.WaitForReady(ctx, time.Duration(cfg.Redis.ReadinessTimeout)*time.Second); err != nil {
			store.Close()
			return nil, fmt.Errorf("redis not ready: %w", err)
		}
		logger.Info("Connected to redis", zap.Strings("addrs", cfg.Redis.Addrs))
		return redisprov.New(store, redisprov.Config{
			KeyPrefix:       cfg.Redis.KeyPrefix,
			HNSWM:           cfg.Redis.HNSWM,
			HNSWEFConstruct: cfg.Redis.HNSWEFConstruction,
		}), nil
	case config.DriverQdrant:
		p, err := qdrantprov.Dial(qdrantprov.Config{
			Host:   cfg.Qdrant.Host,
			Port:   cfg.Qdrant.Port,
			APIKey: cfg.Qdrant.APIKey,
			UseTLS: cfg.Qdrant.UseTLS,
		})
		if err != nil {
			return nil, err
		}
		logger.Info("Connected to qdrant", zap.String("host", cfg.Qdrant.Host), zap.Int("port", cfg.Qdrant.Port))
		return p, nil
	case config.DriverMemory:
		return memory.New(memory.WithVisibilityDelay(time.Duration(cfg.Memory.VisibilityDelayMS) * time.Millisecond)), nil
	case config.DriverStub:
		return stub.New(stub.Config{
			Latency:  time.Duration(cfg.Stub.LatencyMS) * time.Millisecond,
			FailRate: cfg.Stub.FailRate,
		}), nil
	default:
		return nil, fmt.Errorf("unknown provider driver %q", cfg.Driver)
	}
}

// buildStores registers the configured object store for remote locations.
func buildStores(ctx context.Context, cfg config.ObjectStoreConfig) (*objstore.Registry, error) {
	reg := objstore.NewRegistry()
	switch cfg.Kind {
	case "":
	case objstore.SchemeS3:
		st, err := s3store.New(ctx, s3store.Config{
			Region:       cfg.Region,
			Endpoint:     cfg.Endpoint,
			AccessKey:    cfg.AccessKey,
			SecretKey:    cfg.SecretKey,
			UsePathStyle: cfg.Endpoint != "",
		})
		if err != nil {
			return nil, err
		}
		reg.Register(objstore.SchemeS3, st)
	case objstore.SchemeMinIO:
		st, err := miniostore.New(miniostore.Config{
			Endpoint:  cfg.Endpoint,
			AccessKey: cfg.AccessKey,
			SecretKey: cfg.SecretKey,
			Region:    cfg.Region,
			UseSSL:    cfg.UseSSL,
		})
		if err != nil {
			return nil, err
		}
		reg.Register(objstore.SchemeMinIO, st)
	default:
		return nil, fmt.Errorf("unknown object store kind %q", cfg.Kind)
	}
	return reg, nil
}

func (a *app) retry() workload.RetryPolicy {
	p := workload.DefaultRetry()
	p.Attempts = a.cfg.Ingest.Attempts
	return p
}

func (a *app) probe() workload.ProbeConfig {
	return workload.ProbeConfig{MaxWait: time.Duration(a.cfg.Query.ProbeMaxWait) * time.Second}
}

// startServer serves the status endpoints when metrics.port is set.
func (a *app) startServer() {
	if a.cfg.Metrics.Port == 0 {
		return
	}
	health := healthuc.New(a.provider, a.provider)
	srv := chiTransport.NewServer(health, a.collector, a.cfg.Metrics.APIKeys, a.logger)

	addr := fmt.Sprintf(":%d", a.cfg.Metrics.Port)
	a.server = &http.Server{
		Addr:              addr,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		a.logger.Info("Starting status server", zap.String("addr", addr))
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("Status server error", zap.Error(err))
		}
	}()
}

// startReporter prints live lines to stdout until the returned stop is called.
func (a *app) startReporter(ctx context.Context) (stop func()) {
	ctx, cancel := context.WithCancel(ctx)
	r := report.New(a.collector, os.Stdout, time.Duration(a.cfg.Query.ReportEvery))
	done := make(chan struct{})
	go func() {
		defer close(done)
		r.Run(ctx)
	}()
	return func() {
		cancel()
		<-done
	}
}

// export writes records to the output destination. It runs on a detached
// context so an interrupted run still leaves its results behind.
func (a *app) export(ctx context.Context, records []collector.Record) error {
	if len(records) == 0 {
		a.logger.Warn("No records to export")
		return nil
	}
	dest := a.cfg.OutputPath(a.collector.RunID())
	if !objstore.IsRemote(dest) {
		if err := os.MkdirAll(filepath.Dir(dest), 0o750); err != nil {
			return fmt.Errorf("create output dir: %w", err)
		}
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Minute)
	defer cancel()
	if err := collector.WriteMetrics(ctx, a.stores, records, dest); err != nil {
		return fmt.Errorf("export metrics: %w", err)
	}
	a.logger.Info("Metrics written", zap.String("destination", dest), zap.Int("records", len(records)))
	return nil
}

func (a *app) close() {
	if a.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.server.Shutdown(ctx); err != nil {
			a.logger.Error("Error during status server shutdown", zap.Error(err))
		}
	}
	a.collector.Close()
	if err := a.provider.Close(); err != nil {
		a.logger.Warn("Provider close failed", zap.Error(err))
	}
}
