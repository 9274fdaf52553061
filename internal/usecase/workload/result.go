// Package workload holds the execution primitives shared by every benchmark
// mode: the worker pool, the per-call timeout race, bounded retries and
// freshness probes.
package workload

import (
	"time"

	"github.com/kailas-cloud/vecbench/internal/collector"
	"github.com/kailas-cloud/vecbench/internal/provider"
)

// Result is the outcome of one provider operation.
type Result struct {
	Op      string
	Start   time.Time
	End     time.Time
	Err     error
	Kind    provider.ErrorKind
	Units   int
	Bytes   int64
	Retries int
	IDs     []int64
}

// Latency is the time from dispatch to result.
func (r Result) Latency() time.Duration { return r.End.Sub(r.Start) }

// OK reports whether the operation succeeded.
func (r Result) OK() bool { return r.Err == nil }

// Finish stamps the end time and classifies err.
func (r *Result) Finish(err error) {
	r.End = time.Now()
	r.Err = err
	r.Kind = provider.KindOf(err)
	if err != nil && r.Kind == "" {
		// not found is a failure for the call that expected a hit
		r.Kind = provider.KindUnknown
	}
}

// Sample converts the result into a collector sample under key.
func (r Result) Sample(key collector.Key) collector.Sample {
	key.Op = r.Op
	return collector.Sample{
		Key:     key,
		Start:   r.Start,
		End:     r.End,
		Kind:    r.Kind,
		Units:   r.Units,
		Bytes:   r.Bytes,
		Retries: r.Retries,
	}
}
