// Package collector aggregates per-operation samples into metric records.
//
// A Collector is created per run and shared by every worker. Recording takes
// the map read lock plus one per-key mutex, so workers on different keys never
// contend. Flush swaps the whole map under the write lock: a sample is either
// in the flushed snapshot or in the next cycle, never lost and never in both.
package collector

import (
	"cmp"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/beorn7/perks/quantile"
	"github.com/google/uuid"

	"github.com/kailas-cloud/vecbench/internal/provider"
)

// Key groups samples into one record.
type Key struct {
	Provider    string
	Mode        string
	Size        string
	Concurrency int
	Selectivity string
	Op          string
}

// Sample is one finished operation. Kind is empty for a successful call.
type Sample struct {
	Key     Key
	Start   time.Time
	End     time.Time
	Kind    provider.ErrorKind
	Units   int
	Bytes   int64
	Retries int

	Recall    float64
	HasRecall bool
}

// Latency is the wall time of the operation.
func (s Sample) Latency() time.Duration { return s.End.Sub(s.Start) }

// OK reports whether the operation succeeded.
func (s Sample) OK() bool { return s.Kind == "" }

var quantileTargets = map[float64]float64{0.5: 0.01, 0.95: 0.005, 0.99: 0.001}

type entry struct {
	mu sync.Mutex

	ops     int64
	ok      int64
	failed  int64
	retries int64
	units   int64
	bytes   int64
	byKind  map[provider.ErrorKind]int64

	latN   int64
	latSum float64
	latMin float64
	latMax float64
	lat    *quantile.Stream

	recallN   int64
	recallSum float64
	recallMin float64

	freshMax float64
	fresh    *quantile.Stream

	first time.Time
	last  time.Time
}

func newEntry() *entry {
	return &entry{
		byKind: make(map[provider.ErrorKind]int64, len(provider.Kinds)),
		lat:    quantile.NewTargeted(quantileTargets),
		fresh:  quantile.NewTargeted(quantileTargets),
	}
}

// Collector is safe for concurrent use.
type Collector struct {
	runID  string
	mu     sync.RWMutex
	byKey  map[Key]*entry
	closed atomic.Bool
}

// New creates an empty collector. An empty runID is replaced by a random UUID.
func New(runID string) *Collector {
	if runID == "" {
		runID = uuid.NewString()
	}
	return &Collector{runID: runID, byKey: make(map[Key]*entry)}
}

// RunID identifies the run every record belongs to.
func (c *Collector) RunID() string { return c.runID }

// Record adds one operation sample. It is a no-op after Close.
func (c *Collector) Record(s Sample) {
	c.update(s.Key, func(e *entry) { e.add(s) })
}

// RecordFreshness adds one write-to-visible delay under key.
func (c *Collector) RecordFreshness(key Key, d time.Duration) {
	ms := durationMS(d)
	c.update(key, func(e *entry) {
		e.fresh.Insert(ms)
		e.freshMax = max(e.freshMax, ms)
	})
}

func (c *Collector) update(key Key, fn func(*entry)) {
	for !c.closed.Load() {
		c.mu.RLock()
		if c.byKey == nil {
			c.mu.RUnlock()
			return
		}
		if e, ok := c.byKey[key]; ok {
			e.mu.Lock()
			fn(e)
			e.mu.Unlock()
			c.mu.RUnlock()
			return
		}
		c.mu.RUnlock()

		c.mu.Lock()
		if c.byKey != nil {
			if _, ok := c.byKey[key]; !ok {
				c.byKey[key] = newEntry()
			}
		}
		c.mu.Unlock()
	}
}

// Flush returns the accumulated records and starts a new cycle.
func (c *Collector) Flush() []Record {
	c.mu.Lock()
	old := c.byKey
	if old != nil {
		c.byKey = make(map[Key]*entry)
	}
	c.mu.Unlock()
	return c.snapshot(old)
}

// Snapshot returns the accumulated records without clearing them.
func (c *Collector) Snapshot() []Record {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snapshot(c.byKey)
}

// Close discards all state. Later calls to Record are ignored.
func (c *Collector) Close() {
	c.closed.Store(true)
	c.mu.Lock()
	c.byKey = nil
	c.mu.Unlock()
}

func (c *Collector) snapshot(m map[Key]*entry) []Record {
	out := make([]Record, 0, len(m))
	for k, e := range m {
		e.mu.Lock()
		out = append(out, e.record(c.runID, k))
		e.mu.Unlock()
	}
	SortRecords(out)
	return out
}

func (e *entry) add(s Sample) {
	e.ops++
	e.retries += int64(s.Retries)
	if e.first.IsZero() || s.Start.Before(e.first) {
		e.first = s.Start
	}
	if s.End.After(e.last) {
		e.last = s.End
	}

	if !s.OK() {
		e.failed++
		e.byKind[s.Kind]++
		return
	}

	e.ok++
	e.units += int64(s.Units)
	e.bytes += s.Bytes

	ms := durationMS(s.Latency())
	if e.latN == 0 || ms < e.latMin {
		e.latMin = ms
	}
	e.latMax = max(e.latMax, ms)
	e.latSum += ms
	e.latN++
	e.lat.Insert(ms)

	if s.HasRecall {
		if e.recallN == 0 || s.Recall < e.recallMin {
			e.recallMin = s.Recall
		}
		e.recallSum += s.Recall
		e.recallN++
	}
}

func (e *entry) record(runID string, k Key) Record {
	r := Record{
		RunID:       runID,
		Provider:    k.Provider,
		Mode:        k.Mode,
		Size:        k.Size,
		Concurrency: int64(k.Concurrency),
		Selectivity: k.Selectivity,
		Op:          k.Op,

		Ops:     e.ops,
		OK:      e.ok,
		Failed:  e.failed,
		Retries: e.retries,
		Count:   e.units,
		Bytes:   e.bytes,

		FailTimeout:         e.byKind[provider.KindTimeout],
		FailUnavailable:     e.byKind[provider.KindUnavailable],
		FailInvalidArgument: e.byKind[provider.KindInvalidArgument],
		FailRateLimited:     e.byKind[provider.KindRateLimited],
		FailUnknown:         e.byKind[provider.KindUnknown],

		RecallSamples:  e.recallN,
		FreshnessCount: int64(e.fresh.Count()),
	}

	if !e.first.IsZero() {
		r.FirstUnixMS = e.first.UnixMilli()
		r.LastUnixMS = e.last.UnixMilli()
		if window := e.last.Sub(e.first).Seconds(); window > 0 {
			r.Throughput = float64(e.units) / window
		}
	}
	if e.latN > 0 {
		r.LatencyMeanMS = e.latSum / float64(e.latN)
		r.LatencyMinMS = e.latMin
		r.LatencyMaxMS = e.latMax
		r.LatencyP50MS = e.lat.Query(0.5)
		r.LatencyP95MS = e.lat.Query(0.95)
		r.LatencyP99MS = e.lat.Query(0.99)
	}
	if e.recallN > 0 {
		r.RecallMean = e.recallSum / float64(e.recallN)
		r.RecallMin = e.recallMin
	}
	if r.FreshnessCount > 0 {
		r.FreshnessP50MS = e.fresh.Query(0.5)
		r.FreshnessP99MS = e.fresh.Query(0.99)
		r.FreshnessMaxMS = e.freshMax
	}
	return r
}

func durationMS(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

// SortRecords orders records by key for stable output.
func SortRecords(rs []Record) {
	slices.SortFunc(rs, func(a, b Record) int {
		return cmp.Or(
			cmp.Compare(a.Provider, b.Provider),
			cmp.Compare(a.Mode, b.Mode),
			cmp.Compare(a.Size, b.Size),
			cmp.Compare(a.Concurrency, b.Concurrency),
			cmp.Compare(a.Selectivity, b.Selectivity),
			cmp.Compare(a.Op, b.Op),
		)
	})
}
