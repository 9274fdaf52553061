package stub

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/kailas-cloud/vecbench/internal/domain"
	"github.com/kailas-cloud/vecbench/internal/provider"
)

func TestQuery_FixedListTruncated(t *testing.T) {
	s := New(Config{Hits: []provider.Hit{{ID: 1, Score: 0.9}, {ID: 2, Score: 0.8}, {ID: 3, Score: 0.7}}})

	hits, err := s.Query(context.Background(), "c", provider.Request{Vector: []float32{1}, TopK: 2})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := provider.HitIDs(hits); !slices.Equal(got, []int64{1, 2}) {
		t.Errorf("ids = %v, want [1 2]", got)
	}
	if s.Calls(provider.OpQuery) != 1 {
		t.Errorf("calls = %d", s.Calls(provider.OpQuery))
	}
}

func TestFailFirst(t *testing.T) {
	s := New(Config{FailFirst: 2, FailOps: []string{provider.OpUpsert}, FailKind: provider.KindRateLimited})
	ctx := context.Background()
	docs := []domain.Document{{ID: 1}}

	for i := range 2 {
		err := s.Upsert(ctx, "c", docs)
		if provider.KindOf(err) != provider.KindRateLimited {
			t.Fatalf("call %d: expected rate_limited, got %v", i+1, err)
		}
	}
	if err := s.Upsert(ctx, "c", docs); err != nil {
		t.Fatalf("third call should succeed: %v", err)
	}
	if _, err := s.Query(ctx, "c", provider.Request{Vector: []float32{1}, TopK: 1}); err != nil {
		t.Errorf("query is not an affected op: %v", err)
	}
	if s.Failed() != 2 {
		t.Errorf("failed = %d, want 2", s.Failed())
	}
}

func TestFailIf_ByIDs(t *testing.T) {
	s := New(Config{FailIf: func(op string, ids []int64) bool {
		return op == provider.OpUpsert && slices.Contains(ids, 13)
	}})
	ctx := context.Background()

	if err := s.Upsert(ctx, "c", []domain.Document{{ID: 12}}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := s.Upsert(ctx, "c", []domain.Document{{ID: 13}}); err == nil {
		t.Fatal("expected failure for id 13")
	}
	if s.Stored() != 1 {
		t.Errorf("stored = %d, want 1", s.Stored())
	}
}

func TestSetupFailure_IsSetupError(t *testing.T) {
	s := New(Config{FailFirst: 1, FailOps: []string{provider.OpSetup}})
	var se *provider.SetupError
	if err := s.Setup(context.Background(), "c"); !errors.As(err, &se) {
		t.Fatalf("expected *SetupError, got %v", err)
	}
}

func TestSetup_NotAffectedByDefault(t *testing.T) {
	s := New(Config{FailFirst: 10})
	if err := s.Setup(context.Background(), "c"); err != nil {
		t.Fatalf("setup should not fail without FailOps: %v", err)
	}
}

func TestQueryByID_AfterUpsert(t *testing.T) {
	s := New(Config{})
	ctx := context.Background()

	if _, err := s.QueryByID(ctx, "c", 5); !errors.Is(err, provider.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if err := s.Upsert(ctx, "c", []domain.Document{{ID: 5}}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.QueryByID(ctx, "c", 5); err != nil {
		t.Fatalf("expected doc, got %v", err)
	}
	if err := s.DeleteByID(ctx, "c", []int64{5}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.QueryByID(ctx, "c", 5); !errors.Is(err, provider.ErrNotFound) {
		t.Fatalf("expected not found after delete, got %v", err)
	}
}

func TestLatency_RespectsContext(t *testing.T) {
	s := New(Config{Latency: time.Second})
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := s.Query(ctx, "c", provider.Request{Vector: []float32{1}, TopK: 1})
	if provider.KindOf(err) != provider.KindTimeout {
		t.Fatalf("expected timeout, got %v", err)
	}
	if time.Since(start) > 500*time.Millisecond {
		t.Error("stub did not stop at the deadline")
	}
}

func TestPeakInFlight(t *testing.T) {
	s := New(Config{Latency: 20 * time.Millisecond})
	var wg sync.WaitGroup
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = s.Query(context.Background(), "c", provider.Request{Vector: []float32{1}, TopK: 1})
		}()
	}
	wg.Wait()

	if p := s.PeakInFlight(); p < 2 || p > 4 {
		t.Errorf("peak in flight = %d, want 2..4", p)
	}
}
