package suite

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/vecbench/internal/collector"
	"github.com/kailas-cloud/vecbench/internal/dataset"
	"github.com/kailas-cloud/vecbench/internal/domain"
	"github.com/kailas-cloud/vecbench/internal/provider"
	"github.com/kailas-cloud/vecbench/internal/provider/stub"
	"github.com/kailas-cloud/vecbench/internal/usecase/query"
)

// --- Mocks ---

type mockRunner struct {
	configs []domain.QueryConfig
	failAt  int
	err     error
}

func (m *mockRunner) Run(_ context.Context, cfg domain.QueryConfig) (query.Summary, error) {
	m.configs = append(m.configs, cfg)
	if m.err != nil && len(m.configs) == m.failAt {
		return query.Summary{Queries: 1}, m.err
	}
	return query.Summary{Queries: 10}, nil
}

type mockFlusher struct{ calls int }

func (m *mockFlusher) Flush() []collector.Record {
	m.calls++
	return []collector.Record{{Op: provider.OpQuery, Ops: int64(m.calls)}}
}

type mockSources struct{ queries []domain.Query }

func (m *mockSources) Queries(context.Context, string) ([]domain.Query, error) {
	return m.queries, nil
}

func (m *mockSources) Docs(context.Context, string) (dataset.DocumentSource, error) {
	return dataset.SliceSource(dataset.Generator{Seed: 1, Dim: 2}.Docs(100)), nil
}

func base() domain.QueryParams {
	return domain.QueryParams{
		Size:        "1m",
		Collection:  "bench",
		Queries:     dataset.SyntheticLocation,
		Input:       dataset.SyntheticLocation,
		Concurrency: 3,
		Timeout:     time.Second,
		TopK:        10,
		Warmup:      true,
	}
}

// --- Tests ---

func TestQPSSweep(t *testing.T) {
	steps, err := QPSSweep(base())
	if err != nil {
		t.Fatal(err)
	}
	if len(steps) != len(SweepConcurrency) {
		t.Fatalf("steps = %d", len(steps))
	}
	for i, s := range steps {
		cfg := s.Config
		if cfg.Concurrency() != SweepConcurrency[i] {
			t.Errorf("step %d concurrency = %d", i, cfg.Concurrency())
		}
		if cfg.Warmup() != (i == 0) {
			t.Errorf("step %d warmup = %v", i, cfg.Warmup())
		}
		if cfg.Mode() != domain.ModeQPS || !cfg.Predicate().IsEmpty() {
			t.Errorf("step %d = %s", i, cfg)
		}
	}
}

func TestFilterMatrix(t *testing.T) {
	steps, err := FilterMatrix(base())
	if err != nil {
		t.Fatal(err)
	}
	matrix := domain.FilterMatrix()
	if len(steps) != len(matrix) {
		t.Fatalf("steps = %d, want %d", len(steps), len(matrix))
	}
	for i, s := range steps {
		if s.Config.Concurrency() != FilterConcurrency {
			t.Errorf("%s concurrency = %d", s.Name, s.Config.Concurrency())
		}
		if s.Config.Predicate().Label() != matrix[i].Label() {
			t.Errorf("%s predicate = %s, want %s", s.Name, s.Config.Predicate().Label(), matrix[i].Label())
		}
		if s.Config.Mode() != domain.ModeFilter {
			t.Errorf("%s mode = %s", s.Name, s.Config.Mode())
		}
	}
}

func TestReadWrite(t *testing.T) {
	steps, err := ReadWrite(base())
	if err != nil {
		t.Fatal(err)
	}
	if len(steps) != 2 || steps[0].Config.ReadWrite() || !steps[1].Config.ReadWrite() {
		t.Fatalf("steps = %+v", steps)
	}
	if steps[1].Config.Mode() != domain.ModeRW {
		t.Errorf("mode = %s", steps[1].Config.Mode())
	}
}

func TestReadWrite_RequiresInput(t *testing.T) {
	p := base()
	p.Input = ""
	_, err := ReadWrite(p)
	if !errors.Is(err, domain.ErrInvalidConfig) {
		t.Fatalf("err = %v", err)
	}
}

func TestPlan_UnknownSuite(t *testing.T) {
	_, err := Plan("mixed", base())
	var ce *domain.ConfigError
	if !errors.As(err, &ce) || ce.Field != "suite" {
		t.Fatalf("err = %v", err)
	}
}

func TestRun_FlushesEveryStep(t *testing.T) {
	steps, _ := QPSSweep(base())
	runner := &mockRunner{}
	flusher := &mockFlusher{}
	var sunk []string
	sink := func(_ context.Context, s Step, recs []collector.Record) error {
		if len(recs) != 1 {
			t.Errorf("step %s records = %d", s.Name, len(recs))
		}
		sunk = append(sunk, s.Name)
		return nil
	}

	results, err := New(runner, flusher, sink, zap.NewNop()).Run(context.Background(), steps)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 4 || flusher.calls != 4 || len(sunk) != 4 {
		t.Fatalf("results=%d flushes=%d sunk=%v", len(results), flusher.calls, sunk)
	}
	if sunk[3] != "qps-c8" {
		t.Errorf("last step = %s", sunk[3])
	}
}

func TestRun_FailedStepStillFlushed(t *testing.T) {
	steps, _ := FilterMatrix(base())
	runner := &mockRunner{failAt: 2, err: dataset.ErrEmpty}
	flusher := &mockFlusher{}
	sinks := 0
	sink := func(context.Context, Step, []collector.Record) error { sinks++; return nil }

	results, err := New(runner, flusher, sink, zap.NewNop()).Run(context.Background(), steps)
	if !errors.Is(err, dataset.ErrEmpty) {
		t.Fatalf("err = %v", err)
	}
	if len(results) != 2 || flusher.calls != 2 || sinks != 2 {
		t.Errorf("results=%d flushes=%d sinks=%d", len(results), flusher.calls, sinks)
	}
	if len(runner.configs) != 2 {
		t.Errorf("suite continued after failure: %d runs", len(runner.configs))
	}
}

func TestRun_SinkErrorStops(t *testing.T) {
	steps, _ := QPSSweep(base())
	runner := &mockRunner{}
	boom := errors.New("disk full")
	sink := func(context.Context, Step, []collector.Record) error { return boom }

	_, err := New(runner, &mockFlusher{}, sink, zap.NewNop()).Run(context.Background(), steps)
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v", err)
	}
	if len(runner.configs) != 1 {
		t.Errorf("runs = %d", len(runner.configs))
	}
}

func TestRun_QPSSweepAgainstStub(t *testing.T) {
	p := stub.New(stub.Config{Latency: time.Millisecond})
	rec := collector.New("run")
	queries := make([]domain.Query, 16)
	for i := range queries {
		queries[i] = domain.Query{Dense: []float32{1, 0}}
	}
	runner := query.New(p, &mockSources{queries: queries}, rec, zap.NewNop())

	var concurrency []int64
	sink := func(_ context.Context, _ Step, recs []collector.Record) error {
		for _, r := range recs {
			concurrency = append(concurrency, r.Concurrency)
			if r.OK != 16 {
				t.Errorf("c=%d ok = %d", r.Concurrency, r.OK)
			}
		}
		return nil
	}

	steps, _ := QPSSweep(base())
	if _, err := New(runner, rec, sink, zap.NewNop()).Run(context.Background(), steps); err != nil {
		t.Fatal(err)
	}
	want := []int64{1, 2, 4, 8}
	if len(concurrency) != len(want) {
		t.Fatalf("records per step = %v", concurrency)
	}
	for i := range want {
		if concurrency[i] != want[i] {
			t.Errorf("step %d concurrency = %d", i, concurrency[i])
		}
	}
	// one unrecorded warmup pass plus four recorded passes
	if got := p.Calls(provider.OpQuery); got != 5*16 {
		t.Errorf("query calls = %d", got)
	}
}
