// Package memory is an exact, in-process provider. It scores every visible
// document by cosine similarity, so its results equal brute-force ground truth.
package memory

import (
	"context"
	"math"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/kailas-cloud/vecbench/internal/domain"
	"github.com/kailas-cloud/vecbench/internal/provider"
)

var (
	_ provider.Provider = (*Provider)(nil)
	_ provider.Lister   = (*Provider)(nil)
)

// Option configures a Provider.
type Option func(*Provider)

// WithVisibilityDelay hides upserted documents from reads for d after the ack.
func WithVisibilityDelay(d time.Duration) Option {
	return func(p *Provider) { p.delay = d }
}

// WithName overrides the provider name reported in metrics.
func WithName(name string) Option {
	return func(p *Provider) { p.name = name }
}

// Provider keeps collections in memory.
type Provider struct {
	name  string
	delay time.Duration
	now   func() time.Time

	mu          sync.RWMutex
	collections map[string]*collection
}

// New creates an empty memory provider.
func New(opts ...Option) *Provider {
	p := &Provider{
		name:        "memory",
		now:         time.Now,
		collections: make(map[string]*collection),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

type entry struct {
	doc       domain.Document
	norm      float64
	visibleAt time.Time
}

type collection struct {
	mu       sync.RWMutex
	docs     map[int64]*entry
	postings map[string]*roaring.Bitmap
}

func newCollection() *collection {
	return &collection{
		docs:     make(map[int64]*entry),
		postings: make(map[string]*roaring.Bitmap),
	}
}

func (p *Provider) Name() string { return p.name }

// Setup creates the collection if it is missing.
func (p *Provider) Setup(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return provider.Wrap(provider.KindUnknown, provider.OpSetup, err)
	}
	if name == "" {
		return &provider.SetupError{
			Provider: p.name,
			Err:      provider.Errorf(provider.KindInvalidArgument, provider.OpSetup, "collection name is empty"),
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.collections[name]; !ok {
		p.collections[name] = newCollection()
	}
	return nil
}

func (p *Provider) lookup(op, name string) (*collection, error) {
	p.mu.RLock()
	c, ok := p.collections[name]
	p.mu.RUnlock()
	if !ok {
		return nil, provider.Errorf(provider.KindInvalidArgument, op, "collection %q does not exist", name)
	}
	return c, nil
}

// Upsert stores docs, replacing any previous version with the same id.
func (p *Provider) Upsert(ctx context.Context, name string, docs []domain.Document) error {
	if err := ctx.Err(); err != nil {
		return provider.Wrap(provider.KindUnknown, provider.OpUpsert, err)
	}
	c, err := p.lookup(provider.OpUpsert, name)
	if err != nil {
		return err
	}
	for i := range docs {
		if docs[i].ID < 0 || docs[i].ID > math.MaxUint32 {
			return provider.Errorf(provider.KindInvalidArgument, provider.OpUpsert, "id %d out of range", docs[i].ID)
		}
	}

	visibleAt := p.now().Add(p.delay)

	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range docs {
		d := docs[i]
		d.Dense = slices.Clone(d.Dense)
		if old, ok := c.docs[d.ID]; ok {
			c.unindex(old.doc)
		}
		c.docs[d.ID] = &entry{doc: d, norm: norm(d.Dense), visibleAt: visibleAt}
		for _, kw := range d.Keywords() {
			bm, ok := c.postings[kw]
			if !ok {
				bm = roaring.New()
				c.postings[kw] = bm
			}
			bm.Add(uint32(d.ID))
		}
	}
	return nil
}

func (c *collection) unindex(d domain.Document) {
	for _, kw := range d.Keywords() {
		if bm, ok := c.postings[kw]; ok {
			bm.Remove(uint32(d.ID))
		}
	}
}

// QueryByID returns a visible document or provider.ErrNotFound.
func (p *Provider) QueryByID(ctx context.Context, name string, id int64) (domain.Document, error) {
	if err := ctx.Err(); err != nil {
		return domain.Document{}, provider.Wrap(provider.KindUnknown, provider.OpQueryByID, err)
	}
	c, err := p.lookup(provider.OpQueryByID, name)
	if err != nil {
		return domain.Document{}, err
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.docs[id]
	if !ok || p.now().Before(e.visibleAt) {
		return domain.Document{}, provider.ErrNotFound
	}
	doc := e.doc
	doc.Dense = slices.Clone(doc.Dense)
	return doc, nil
}

// Query scores every visible document that passes the predicate.
func (p *Provider) Query(ctx context.Context, name string, req provider.Request) ([]provider.Hit, error) {
	if err := req.Validate(provider.OpQuery); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, provider.Wrap(provider.KindUnknown, provider.OpQuery, err)
	}
	c, err := p.lookup(provider.OpQuery, name)
	if err != nil {
		return nil, err
	}

	qnorm := norm(req.Vector)
	now := p.now()
	pred := req.Predicate

	c.mu.RLock()
	defer c.mu.RUnlock()

	hits := make([]provider.Hit, 0, req.TopK)
	score := func(e *entry) {
		if now.Before(e.visibleAt) || !pred.Matches(e.doc) {
			return
		}
		hits = append(hits, provider.Hit{ID: e.doc.ID, Score: cosine(req.Vector, qnorm, e.doc.Dense, e.norm)})
	}

	if kw, ok := pred.Keyword(); ok {
		bm, ok := c.postings[kw]
		if !ok {
			return []provider.Hit{}, nil
		}
		it := bm.Iterator()
		for it.HasNext() {
			if e, ok := c.docs[int64(it.Next())]; ok {
				score(e)
			}
		}
	} else {
		for _, e := range c.docs {
			score(e)
		}
	}

	provider.SortHits(hits)
	if len(hits) > req.TopK {
		hits = hits[:req.TopK]
	}
	return hits, nil
}

// DeleteByID removes ids; unknown ids are ignored.
func (p *Provider) DeleteByID(ctx context.Context, name string, ids []int64) error {
	if err := ctx.Err(); err != nil {
		return provider.Wrap(provider.KindUnknown, provider.OpDelete, err)
	}
	c, err := p.lookup(provider.OpDelete, name)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, id := range ids {
		if e, ok := c.docs[id]; ok {
			c.unindex(e.doc)
			delete(c.docs, id)
		}
	}
	return nil
}

// DeleteCollection drops the collection; a missing one is not an error.
func (p *Provider) DeleteCollection(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return provider.Wrap(provider.KindUnknown, provider.OpDeleteCollection, err)
	}
	p.mu.Lock()
	delete(p.collections, name)
	p.mu.Unlock()
	return nil
}

// ListCollections returns collection names in lexical order.
func (p *Provider) ListCollections(_ context.Context) ([]string, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	names := make([]string, 0, len(p.collections))
	for n := range p.collections {
		names = append(names, n)
	}
	sort.Strings(names)
	return names, nil
}

// Len returns the number of stored documents, visible or not.
func (p *Provider) Len(name string) int {
	c, err := p.lookup("len", name)
	if err != nil {
		return 0
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.docs)
}

func (p *Provider) Close() error { return nil }

func norm(v []float32) float64 {
	var s float64
	for _, x := range v {
		s += float64(x) * float64(x)
	}
	return math.Sqrt(s)
}

func cosine(a []float32, na float64, b []float32, nb float64) float32 {
	if na == 0 || nb == 0 {
		return 0
	}
	n := min(len(a), len(b))
	var dot float64
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
	}
	return float32(dot / (na * nb))
}
