package collector

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/parquet-go/parquet-go"

	"github.com/kailas-cloud/vecbench/internal/objstore"
)

// Record is the exported aggregate of one key. Latencies are milliseconds,
// throughput is units per second over the record's wall window.
type Record struct {
	RunID       string `parquet:"run_id" json:"run_id"`
	Provider    string `parquet:"provider" json:"provider"`
	Mode        string `parquet:"mode" json:"mode"`
	Size        string `parquet:"size" json:"size"`
	Concurrency int64  `parquet:"concurrency" json:"concurrency"`
	Selectivity string `parquet:"selectivity" json:"selectivity"`
	Op          string `parquet:"op" json:"op"`

	Ops     int64 `parquet:"ops" json:"ops"`
	OK      int64 `parquet:"ok" json:"ok"`
	Failed  int64 `parquet:"failed" json:"failed"`
	Retries int64 `parquet:"retries" json:"retries"`
	Count   int64 `parquet:"count" json:"count"`
	Bytes   int64 `parquet:"bytes" json:"bytes"`

	LatencyMeanMS float64 `parquet:"latency_mean_ms" json:"latency_mean_ms"`
	LatencyMinMS  float64 `parquet:"latency_min_ms" json:"latency_min_ms"`
	LatencyMaxMS  float64 `parquet:"latency_max_ms" json:"latency_max_ms"`
	LatencyP50MS  float64 `parquet:"latency_p50_ms" json:"latency_p50_ms"`
	LatencyP95MS  float64 `parquet:"latency_p95_ms" json:"latency_p95_ms"`
	LatencyP99MS  float64 `parquet:"latency_p99_ms" json:"latency_p99_ms"`
	Throughput    float64 `parquet:"throughput" json:"throughput"`

	RecallMean    float64 `parquet:"recall_mean" json:"recall_mean"`
	RecallMin     float64 `parquet:"recall_min" json:"recall_min"`
	RecallSamples int64   `parquet:"recall_samples" json:"recall_samples"`

	FreshnessCount int64   `parquet:"freshness_count" json:"freshness_count"`
	FreshnessP50MS float64 `parquet:"freshness_p50_ms" json:"freshness_p50_ms"`
	FreshnessP99MS float64 `parquet:"freshness_p99_ms" json:"freshness_p99_ms"`
	FreshnessMaxMS float64 `parquet:"freshness_max_ms" json:"freshness_max_ms"`

	FailTimeout         int64 `parquet:"fail_timeout" json:"fail_timeout"`
	FailUnavailable     int64 `parquet:"fail_unavailable" json:"fail_unavailable"`
	FailInvalidArgument int64 `parquet:"fail_invalid_argument" json:"fail_invalid_argument"`
	FailRateLimited     int64 `parquet:"fail_rate_limited" json:"fail_rate_limited"`
	FailUnknown         int64 `parquet:"fail_unknown" json:"fail_unknown"`

	FirstUnixMS int64 `parquet:"first_unix_ms" json:"first_unix_ms"`
	LastUnixMS  int64 `parquet:"last_unix_ms" json:"last_unix_ms"`
}

// Key returns the grouping key of the record.
func (r Record) Key() Key {
	return Key{
		Provider:    r.Provider,
		Mode:        r.Mode,
		Size:        r.Size,
		Concurrency: int(r.Concurrency),
		Selectivity: r.Selectivity,
		Op:          r.Op,
	}
}

// Availability is the share of successful operations, 1 when nothing ran.
func (r Record) Availability() float64 {
	if r.Ops == 0 {
		return 1
	}
	return float64(r.OK) / float64(r.Ops)
}

// WriteMetrics writes records as parquet to dest, a local path or a remote
// URI served by stores. stores may be nil for local destinations.
func WriteMetrics(ctx context.Context, stores *objstore.Registry, records []Record, dest string) error {
	if dest == "" {
		return fmt.Errorf("write metrics: destination is empty")
	}

	local := dest
	if objstore.IsRemote(dest) {
		f, err := os.CreateTemp("", "vecbench-metrics-*.parquet")
		if err != nil {
			return fmt.Errorf("write metrics: %w", err)
		}
		local = f.Name()
		_ = f.Close()
		defer func() { _ = os.Remove(local) }()
	}

	if err := writeParquet(local, records); err != nil {
		return fmt.Errorf("write metrics: %w", err)
	}
	if local == dest {
		return nil
	}
	if stores == nil {
		return fmt.Errorf("write metrics: %w for %s", objstore.ErrNoStore, dest)
	}
	return stores.Publish(ctx, local, dest)
}

// ReadMetrics reads records written by WriteMetrics. Remote sources are
// downloaded into cacheDir first.
func ReadMetrics(ctx context.Context, stores *objstore.Registry, src, cacheDir string) ([]Record, error) {
	path := src
	if objstore.IsRemote(src) {
		if stores == nil {
			return nil, fmt.Errorf("read metrics: %w for %s", objstore.ErrNoStore, src)
		}
		var err error
		if path, err = stores.Fetch(ctx, src, cacheDir); err != nil {
			return nil, fmt.Errorf("read metrics: %w", err)
		}
	}
	rows, err := parquet.ReadFile[Record](path)
	if err != nil {
		return nil, fmt.Errorf("read metrics %s: %w", path, err)
	}
	return rows, nil
}

// writeParquet writes to a sibling tmp file and renames it into place.
func writeParquet(path string, records []Record) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("mkdir: %w", err)
		}
	}
	tmp := path + ".tmp"
	f, err := os.Create(filepath.Clean(tmp))
	if err != nil {
		return fmt.Errorf("create: %w", err)
	}

	w := parquet.NewGenericWriter[Record](f)
	_, err = w.Write(records)
	if closeErr := w.Close(); closeErr != nil && err == nil {
		err = closeErr
	}
	if closeErr := f.Close(); closeErr != nil && err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}
