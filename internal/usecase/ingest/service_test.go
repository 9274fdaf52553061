package ingest

import (
	"context"
	"errors"
	"slices"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/vecbench/internal/collector"
	"github.com/kailas-cloud/vecbench/internal/dataset"
	"github.com/kailas-cloud/vecbench/internal/domain"
	"github.com/kailas-cloud/vecbench/internal/provider"
	"github.com/kailas-cloud/vecbench/internal/provider/memory"
	"github.com/kailas-cloud/vecbench/internal/provider/stub"
	"github.com/kailas-cloud/vecbench/internal/usecase/workload"
)

// --- Mocks ---

type mockSources struct {
	src dataset.DocumentSource
	err error
}

func (m *mockSources) Docs(context.Context, string) (dataset.DocumentSource, error) {
	return m.src, m.err
}

func docs(n int) dataset.SliceSource {
	return dataset.SliceSource(dataset.Generator{Seed: 1, Dim: 4}.Docs(n))
}

func config(t *testing.T, batch, concurrency int, freshness bool) domain.IngestConfig {
	t.Helper()
	cfg, err := domain.NewIngestConfig(domain.IngestParams{
		Size:        "100k",
		Collection:  "bench",
		Input:       dataset.SyntheticLocation,
		BatchSize:   batch,
		Concurrency: concurrency,
		Freshness:   freshness,
	})
	if err != nil {
		t.Fatal(err)
	}
	return cfg
}

var fastRetry = workload.RetryPolicy{Attempts: 3, Initial: time.Millisecond, Max: 2 * time.Millisecond}

func only(t *testing.T, recs []collector.Record) collector.Record {
	t.Helper()
	if len(recs) != 1 {
		t.Fatalf("records = %d, want 1: %+v", len(recs), recs)
	}
	return recs[0]
}

// --- Tests ---

func TestRun_StubThousandDocs(t *testing.T) {
	p := stub.New(stub.Config{Latency: time.Millisecond})
	rec := collector.New("run")
	svc := New(p, &mockSources{src: docs(1000)}, rec, zap.NewNop(), WithRetry(fastRetry))

	sum, err := svc.Run(context.Background(), config(t, 100, 4, false))
	if err != nil {
		t.Fatal(err)
	}
	if sum.Batches != 10 || sum.OK != 10 || sum.Failed != 0 || sum.Docs != 1000 {
		t.Errorf("summary = %+v", sum)
	}

	r := only(t, rec.Flush())
	if r.OK != 10 || r.Failed != 0 || r.Count != 1000 {
		t.Errorf("record ok=%d failed=%d count=%d", r.OK, r.Failed, r.Count)
	}
	if r.Provider != "stub" || r.Mode != "ingest" || r.Size != "100k" || r.Concurrency != 4 || r.Op != provider.OpUpsert {
		t.Errorf("key = %+v", r.Key())
	}
	if p.PeakInFlight() > 4 {
		t.Errorf("peak in flight = %d", p.PeakInFlight())
	}
	if p.Stored() != 1000 {
		t.Errorf("stored = %d", p.Stored())
	}
}

func TestRun_BatchFailingEveryRetry(t *testing.T) {
	p := stub.New(stub.Config{
		FailOps: []string{provider.OpUpsert},
		FailIf: func(_ string, ids []int64) bool {
			return slices.Contains(ids, 500)
		},
	})
	rec := collector.New("run")
	svc := New(p, &mockSources{src: docs(1000)}, rec, zap.NewNop(), WithRetry(fastRetry))

	sum, err := svc.Run(context.Background(), config(t, 100, 4, false))
	if err != nil {
		t.Fatal(err)
	}
	if sum.OK != 9 || sum.Failed != 1 {
		t.Errorf("summary = %+v", sum)
	}

	r := only(t, rec.Flush())
	if r.OK != 9 || r.Failed != 1 || r.FailUnavailable != 1 {
		t.Errorf("record ok=%d failed=%d unavailable=%d", r.OK, r.Failed, r.FailUnavailable)
	}
	if r.Count != 900 {
		t.Errorf("count = %d, failed batch must not count", r.Count)
	}
	if r.Retries != 2 {
		t.Errorf("retries = %d, want 2", r.Retries)
	}
	if got := p.Calls(provider.OpUpsert); got != 12 {
		t.Errorf("upsert calls = %d, want 12", got)
	}
}

func TestRun_TransientFailureRecovers(t *testing.T) {
	p := stub.New(stub.Config{FailOps: []string{provider.OpUpsert}, FailFirst: 1})
	rec := collector.New("run")
	svc := New(p, &mockSources{src: docs(300)}, rec, zap.NewNop(), WithRetry(fastRetry))

	if _, err := svc.Run(context.Background(), config(t, 100, 1, false)); err != nil {
		t.Fatal(err)
	}
	r := only(t, rec.Flush())
	if r.OK != 3 || r.Failed != 0 || r.Retries != 1 {
		t.Errorf("ok=%d failed=%d retries=%d", r.OK, r.Failed, r.Retries)
	}
}

func TestRun_SetupFailureAborts(t *testing.T) {
	p := stub.New(stub.Config{FailOps: []string{provider.OpSetup}, FailFirst: 1})
	rec := collector.New("run")
	svc := New(p, &mockSources{src: docs(10)}, rec, zap.NewNop())

	if _, err := svc.Run(context.Background(), config(t, 5, 1, false)); err == nil {
		t.Fatal("expected setup error")
	}
	if p.Calls(provider.OpUpsert) != 0 {
		t.Error("upserts issued after setup failure")
	}
}

func TestRun_DatasetOpenFailureAborts(t *testing.T) {
	p := stub.New(stub.Config{})
	svc := New(p, &mockSources{err: dataset.ErrEmpty}, collector.New("run"), zap.NewNop())

	_, err := svc.Run(context.Background(), config(t, 5, 1, false))
	if !errors.Is(err, dataset.ErrEmpty) {
		t.Fatalf("err = %v", err)
	}
	if p.Calls(provider.OpSetup) != 0 {
		t.Error("setup ran without a dataset")
	}
}

func TestRun_FreshnessRecorded(t *testing.T) {
	p := memory.New(memory.WithVisibilityDelay(10 * time.Millisecond))
	rec := collector.New("run")
	svc := New(p, &mockSources{src: docs(200)}, rec, zap.NewNop(),
		WithProbe(workload.ProbeConfig{Interval: time.Millisecond, MaxWait: 5 * time.Second}))

	if _, err := svc.Run(context.Background(), config(t, 50, 2, true)); err != nil {
		t.Fatal(err)
	}
	r := only(t, rec.Flush())
	if r.FreshnessCount != 4 {
		t.Fatalf("freshness samples = %d, want 4", r.FreshnessCount)
	}
	if r.FreshnessMaxMS <= 0 || r.FreshnessMaxMS > 5000 {
		t.Errorf("freshness max = %vms", r.FreshnessMaxMS)
	}
	if p.Len("bench") != 200 {
		t.Errorf("stored = %d", p.Len("bench"))
	}
}

func TestRun_Cancelled(t *testing.T) {
	p := stub.New(stub.Config{Latency: 5 * time.Millisecond})
	rec := collector.New("run")
	svc := New(p, &mockSources{src: docs(10_000)}, rec, zap.NewNop())

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	sum, err := svc.Run(ctx, config(t, 10, 2, false))
	if !errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v", err)
	}
	if sum.Docs >= 10_000 {
		t.Error("run was not interrupted")
	}
	for _, r := range rec.Snapshot() {
		if r.Failed != 0 {
			t.Errorf("interrupted batches recorded as failures: %+v", r)
		}
	}
}
