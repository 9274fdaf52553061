// Package stub is a scripted provider with fixed latency, a fixed result list
// and a configurable failure schedule. It measures the harness, not a database.
package stub

import (
	"context"
	"math/rand/v2"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kailas-cloud/vecbench/internal/domain"
	"github.com/kailas-cloud/vecbench/internal/provider"
)

var _ provider.Provider = (*Provider)(nil)

// Config scripts the stub's behavior.
type Config struct {
	Name    string
	Latency time.Duration
	// Hits is returned by every Query, truncated to TopK.
	Hits []provider.Hit

	// FailKind classifies scripted failures. Defaults to unavailable.
	FailKind provider.ErrorKind
	// FailFirst fails the first n calls of the affected ops.
	FailFirst int64
	// FailRate fails each affected call with this probability.
	FailRate float64
	// FailOps limits scripted failures to these ops. Empty means every op but setup.
	FailOps []string
	// FailIf fails a call when it returns true. ids are the documents or ids
	// the call touches, nil for queries.
	FailIf func(op string, ids []int64) bool
}

// Provider is safe for concurrent use.
type Provider struct {
	cfg Config

	calls    sync.Map // op -> *atomic.Int64
	failed   atomic.Int64
	inFlight atomic.Int64
	peak     atomic.Int64

	mu      sync.RWMutex
	visible map[int64]domain.Document
}

// New creates a stub from cfg.
func New(cfg Config) *Provider {
	if cfg.Name == "" {
		cfg.Name = "stub"
	}
	if cfg.FailKind == "" {
		cfg.FailKind = provider.KindUnavailable
	}
	return &Provider{cfg: cfg, visible: make(map[int64]domain.Document)}
}

func (s *Provider) Name() string { return s.cfg.Name }

func (s *Provider) Setup(ctx context.Context, collection string) error {
	if err := s.call(ctx, provider.OpSetup, nil); err != nil {
		return &provider.SetupError{Provider: s.cfg.Name, Collection: collection, Err: err}
	}
	return nil
}

// QueryByID finds documents previously upserted into the stub.
func (s *Provider) QueryByID(ctx context.Context, _ string, id int64) (domain.Document, error) {
	if err := s.call(ctx, provider.OpQueryByID, []int64{id}); err != nil {
		return domain.Document{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.visible[id]
	if !ok {
		return domain.Document{}, provider.ErrNotFound
	}
	return doc, nil
}

func (s *Provider) Query(ctx context.Context, _ string, req provider.Request) ([]provider.Hit, error) {
	if err := req.Validate(provider.OpQuery); err != nil {
		return nil, err
	}
	if err := s.call(ctx, provider.OpQuery, nil); err != nil {
		return nil, err
	}
	n := min(req.TopK, len(s.cfg.Hits))
	return slices.Clone(s.cfg.Hits[:n]), nil
}

func (s *Provider) Upsert(ctx context.Context, _ string, docs []domain.Document) error {
	ids := make([]int64, len(docs))
	for i := range docs {
		ids[i] = docs[i].ID
	}
	if err := s.call(ctx, provider.OpUpsert, ids); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range docs {
		s.visible[docs[i].ID] = domain.Document{ID: docs[i].ID, IntFilter: docs[i].IntFilter, KeywordFilter: docs[i].KeywordFilter}
	}
	return nil
}

func (s *Provider) DeleteByID(ctx context.Context, _ string, ids []int64) error {
	if err := s.call(ctx, provider.OpDelete, ids); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		delete(s.visible, id)
	}
	return nil
}

func (s *Provider) DeleteCollection(ctx context.Context, _ string) error {
	if err := s.call(ctx, provider.OpDeleteCollection, nil); err != nil {
		return err
	}
	s.mu.Lock()
	clear(s.visible)
	s.mu.Unlock()
	return nil
}

func (s *Provider) Close() error { return nil }

// Calls returns how many times op was invoked, failures included.
func (s *Provider) Calls(op string) int64 {
	if c, ok := s.calls.Load(op); ok {
		return c.(*atomic.Int64).Load()
	}
	return 0
}

// Failed returns the number of scripted failures returned so far.
func (s *Provider) Failed() int64 { return s.failed.Load() }

// PeakInFlight returns the highest number of concurrent calls observed.
func (s *Provider) PeakInFlight() int64 { return s.peak.Load() }

// Stored returns the number of documents currently visible.
func (s *Provider) Stored() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.visible)
}

func (s *Provider) call(ctx context.Context, op string, ids []int64) error {
	c, _ := s.calls.LoadOrStore(op, new(atomic.Int64))
	n := c.(*atomic.Int64).Add(1)

	cur := s.inFlight.Add(1)
	defer s.inFlight.Add(-1)
	for {
		p := s.peak.Load()
		if cur <= p || s.peak.CompareAndSwap(p, cur) {
			break
		}
	}

	if err := s.sleep(ctx); err != nil {
		return provider.Wrap(provider.KindUnknown, op, err)
	}
	if s.shouldFail(op, n, ids) {
		s.failed.Add(1)
		return provider.Errorf(s.cfg.FailKind, op, "scripted failure on call %d", n)
	}
	return nil
}

func (s *Provider) sleep(ctx context.Context) error {
	if s.cfg.Latency <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(s.cfg.Latency)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Provider) shouldFail(op string, n int64, ids []int64) bool {
	if len(s.cfg.FailOps) > 0 {
		if !slices.Contains(s.cfg.FailOps, op) {
			return false
		}
	} else if op == provider.OpSetup {
		return false
	}
	if s.cfg.FailIf != nil && s.cfg.FailIf(op, ids) {
		return true
	}
	if n <= s.cfg.FailFirst {
		return true
	}
	return s.cfg.FailRate > 0 && rand.Float64() < s.cfg.FailRate
}
