// Package report prints a live, colored per-key summary of a running benchmark.
package report

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"

	"github.com/kailas-cloud/vecbench/internal/collector"
	"github.com/kailas-cloud/vecbench/internal/provider"
)

// Source yields live aggregates without resetting them.
type Source interface {
	Snapshot() []collector.Record
}

// Reporter renders one line per key on every tick.
type Reporter struct {
	src   Source
	out   io.Writer
	every time.Duration
	now   func() time.Time

	mu   sync.Mutex
	prev map[collector.Key]collector.Record
	last time.Time

	good, warn, bad, rate, lat, tail, plain *color.Color
}

// Option configures a Reporter.
type Option func(*Reporter)

// WithColor forces color on or off. By default fatih/color decides from the terminal.
func WithColor(on bool) Option {
	return func(r *Reporter) {
		for _, c := range r.colors() {
			if on {
				c.EnableColor()
			} else {
				c.DisableColor()
			}
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(r *Reporter) { r.now = now }
}

// New creates a reporter writing to out every interval.
func New(src Source, out io.Writer, every time.Duration, opts ...Option) *Reporter {
	if every <= 0 {
		every = time.Second
	}
	r := &Reporter{
		src:   src,
		out:   out,
		every: every,
		now:   time.Now,
		prev:  make(map[collector.Key]collector.Record),
		good:  color.New(color.FgGreen, color.Bold),
		warn:  color.New(color.FgYellow, color.Bold),
		bad:   color.New(color.FgRed, color.Bold),
		rate:  color.New(color.FgBlue, color.Bold),
		lat:   color.New(color.FgYellow, color.Bold),
		tail:  color.New(color.FgMagenta, color.Bold),
		plain: color.New(color.Bold),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

func (r *Reporter) colors() []*color.Color {
	return []*color.Color{r.good, r.warn, r.bad, r.rate, r.lat, r.tail, r.plain}
}

// Run prints until ctx is done, then prints a final tick.
func (r *Reporter) Run(ctx context.Context) {
	t := time.NewTicker(r.every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			r.Tick()
			return
		case <-t.C:
			r.Tick()
		}
	}
}

// Tick prints the current state once.
func (r *Reporter) Tick() {
	lines := r.Lines()
	if len(lines) == 0 {
		_, _ = fmt.Fprintln(r.out, "Waiting for metrics...")
		return
	}
	for _, l := range lines {
		_, _ = fmt.Fprintln(r.out, l)
	}
}

// Lines renders the current snapshot. Throughput is the rate since the
// previous call; the first call falls back to the record's overall rate.
func (r *Reporter) Lines() []string {
	recs := r.src.Snapshot()
	now := r.now()

	r.mu.Lock()
	defer r.mu.Unlock()
	elapsed := now.Sub(r.last).Seconds()
	first := r.last.IsZero()
	r.last = now

	lines := make([]string, 0, len(recs))
	next := make(map[collector.Key]collector.Record, len(recs))
	for _, rec := range recs {
		k := rec.Key()
		next[k] = rec

		rate := rec.Throughput
		if p, ok := r.prev[k]; ok && !first && elapsed > 0 {
			delta := rec.Count - p.Count
			if delta < 0 {
				// flushed since the previous tick
				delta = rec.Count
			}
			rate = float64(delta) / elapsed
		}
		lines = append(lines, r.line(rec, rate, now))
	}
	r.prev = next
	return lines
}

func (r *Reporter) line(rec collector.Record, rate float64, now time.Time) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%24s] %s, Throughput: %s, Latency: %s, %s",
		label(rec),
		r.availability(rec.Availability()),
		r.rate.Sprintf("%.1f %s/s", rate, unit(rec.Op)),
		r.lat.Sprintf("p50=%.2fms", rec.LatencyP50MS),
		r.tail.Sprintf("p99=%.2fms", rec.LatencyP99MS),
	)
	if rec.RecallSamples > 0 {
		fmt.Fprintf(&b, ", Recall: %s", r.lat.Sprintf("avg=%.2f", rec.RecallMean))
	}
	if rec.FreshnessCount > 0 {
		fmt.Fprintf(&b, ", %s", r.plain.Sprintf("Freshness max=%.2fms", rec.FreshnessMaxMS))
	}
	if rec.LastUnixMS > 0 {
		skew := now.Sub(time.UnixMilli(rec.LastUnixMS)).Truncate(time.Second)
		if skew < 0 {
			skew = 0
		}
		fmt.Fprintf(&b, ", within last %s", skew)
	}
	return b.String()
}

func (r *Reporter) availability(a float64) string {
	pct := a * 100
	switch {
	case pct >= 100:
		return r.good.Sprint("100%")
	case pct > 99:
		return r.warn.Sprintf("%.2f%%", pct)
	default:
		return r.bad.Sprintf("%.2f%%", pct)
	}
}

func label(rec collector.Record) string {
	l := fmt.Sprintf("%s/%s/c%d/%s", rec.Provider, rec.Mode, rec.Concurrency, rec.Op)
	if rec.Selectivity != "" && rec.Selectivity != "none" {
		l += "/" + rec.Selectivity
	}
	return l
}

func unit(op string) string {
	switch op {
	case provider.OpQuery, provider.OpQueryByID:
		return "queries"
	default:
		return "docs"
	}
}
