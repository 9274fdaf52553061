package domain

import (
	"fmt"
	"time"
)

// Size is a dataset size token.
type Size string

// Supported dataset sizes.
const (
	Size100K Size = "100k"
	Size1M   Size = "1m"
	Size10M  Size = "10m"
)

// ParseSize validates a size token.
func ParseSize(s string) (Size, error) {
	switch Size(s) {
	case Size100K, Size1M, Size10M:
		return Size(s), nil
	default:
		return "", configErr("size", "unknown size %q (want 100k, 1m or 10m)", s)
	}
}

// Docs returns the number of documents of the size.
func (s Size) Docs() int64 {
	switch s {
	case Size100K:
		return 100_000
	case Size1M:
		return 1_000_000
	case Size10M:
		return 10_000_000
	default:
		return 0
	}
}

// Mode is the workload mode recorded in every metric key.
type Mode string

// Workload modes.
const (
	ModeIngest Mode = "ingest"
	ModeQPS    Mode = "qps"
	ModeFilter Mode = "filter"
	ModeRW     Mode = "rw"
)

// IngestParams is the mutable input to NewIngestConfig.
type IngestParams struct {
	Size        string
	Collection  string
	Input       string
	BatchSize   int
	Concurrency int
	CacheDir    string
	Mode        string
	// Freshness enables the per-batch visibility probe.
	Freshness bool
}

// IngestConfig is a validated, immutable ingest workload description.
type IngestConfig struct {
	size        Size
	collection  string
	input       string
	batchSize   int
	concurrency int
	cacheDir    string
	mode        Mode
	freshness   bool
}

// NewIngestConfig validates p and returns an immutable config or a *ConfigError.
func NewIngestConfig(p IngestParams) (IngestConfig, error) {
	size, err := ParseSize(p.Size)
	if err != nil {
		return IngestConfig{}, err
	}
	if p.Collection == "" {
		return IngestConfig{}, configErr("collection", "is required")
	}
	if p.Input == "" {
		return IngestConfig{}, configErr("input", "is required")
	}
	if p.BatchSize <= 0 {
		return IngestConfig{}, configErr("batch_size", "must be positive, got %d", p.BatchSize)
	}
	if p.Concurrency <= 0 {
		return IngestConfig{}, configErr("concurrency", "must be positive, got %d", p.Concurrency)
	}
	mode := ModeIngest
	if p.Mode != "" && Mode(p.Mode) != ModeIngest {
		return IngestConfig{}, configErr("mode", "unknown ingest mode %q", p.Mode)
	}
	return IngestConfig{
		size:        size,
		collection:  p.Collection,
		input:       p.Input,
		batchSize:   p.BatchSize,
		concurrency: p.Concurrency,
		cacheDir:    p.CacheDir,
		mode:        mode,
		freshness:   p.Freshness,
	}, nil
}

// Size returns the dataset size.
func (c IngestConfig) Size() Size { return c.size }

// Collection returns the target collection.
func (c IngestConfig) Collection() string { return c.collection }

// Input returns the document source location.
func (c IngestConfig) Input() string { return c.input }

// BatchSize returns documents per upsert.
func (c IngestConfig) BatchSize() int { return c.batchSize }

// Concurrency returns the in-flight upsert cap.
func (c IngestConfig) Concurrency() int { return c.concurrency }

// CacheDir returns the local dataset cache directory.
func (c IngestConfig) CacheDir() string { return c.cacheDir }

// Mode returns ModeIngest.
func (c IngestConfig) Mode() Mode { return c.mode }

// Freshness reports whether visibility probes run after each batch.
func (c IngestConfig) Freshness() bool { return c.freshness }

// QueryParams is the mutable input to NewQueryConfig.
type QueryParams struct {
	Size          string
	Collection    string
	Queries       string
	Concurrency   int
	Timeout       time.Duration
	TopK          int
	IntFilter     *uint32
	KeywordFilter *string
	Warmup        bool
	Mode          string
	ReadWrite     bool

	// Duration loops the query set until it elapses. Zero replays once.
	Duration time.Duration
	// Input is the document source for the rw writer.
	Input string
	// WriteRate caps rw writer batches per second. Zero is unlimited.
	WriteRate float64
	// DeleteRatio is the chance the rw writer also deletes an old id per batch.
	DeleteRatio float64
}

// QueryConfig is a validated, immutable query workload description.
type QueryConfig struct {
	size        Size
	collection  string
	queries     string
	concurrency int
	timeout     time.Duration
	topK        int
	predicate   Predicate
	warmup      bool
	mode        Mode
	readWrite   bool
	duration    time.Duration
	input       string
	writeRate   float64
	deleteRatio float64
}

// NewQueryConfig validates p and returns an immutable config or a *ConfigError.
func NewQueryConfig(p QueryParams) (QueryConfig, error) {
	size, err := ParseSize(p.Size)
	if err != nil {
		return QueryConfig{}, err
	}
	if p.Collection == "" {
		return QueryConfig{}, configErr("collection", "is required")
	}
	if p.Queries == "" {
		return QueryConfig{}, configErr("queries", "is required")
	}
	if p.Concurrency <= 0 {
		return QueryConfig{}, configErr("concurrency", "must be positive, got %d", p.Concurrency)
	}
	if p.Timeout <= 0 {
		return QueryConfig{}, configErr("timeout", "must be positive, got %s", p.Timeout)
	}
	if p.TopK <= 0 || p.TopK > MaxTopK {
		return QueryConfig{}, configErr("top_k", "must be in [1, %d], got %d", MaxTopK, p.TopK)
	}
	if p.Duration < 0 {
		return QueryConfig{}, configErr("duration", "must not be negative, got %s", p.Duration)
	}
	if p.WriteRate < 0 {
		return QueryConfig{}, configErr("write_rate", "must not be negative, got %g", p.WriteRate)
	}
	if p.DeleteRatio < 0 || p.DeleteRatio > 1 {
		return QueryConfig{}, configErr("delete_ratio", "must be in [0, 1], got %g", p.DeleteRatio)
	}
	if p.IntFilter != nil && *p.IntFilter > IntFilterRange {
		return QueryConfig{}, configErr("int_filter", "must be at most %d, got %d", IntFilterRange, *p.IntFilter)
	}

	mode, err := parseQueryMode(p.Mode, p.ReadWrite)
	if err != nil {
		return QueryConfig{}, err
	}
	if mode == ModeRW && p.Input == "" {
		return QueryConfig{}, configErr("input", "is required in rw mode")
	}

	return QueryConfig{
		size:        size,
		collection:  p.Collection,
		queries:     p.Queries,
		concurrency: p.Concurrency,
		timeout:     p.Timeout,
		topK:        p.TopK,
		predicate:   NewPredicate(p.IntFilter, p.KeywordFilter),
		warmup:      p.Warmup,
		mode:        mode,
		readWrite:   mode == ModeRW,
		duration:    p.Duration,
		input:       p.Input,
		writeRate:   p.WriteRate,
		deleteRatio: p.DeleteRatio,
	}, nil
}

func parseQueryMode(s string, readWrite bool) (Mode, error) {
	if readWrite {
		if s != "" && Mode(s) != ModeRW && Mode(s) != ModeQPS {
			return "", configErr("mode", "read_write conflicts with mode %q", s)
		}
		return ModeRW, nil
	}
	switch Mode(s) {
	case "", ModeQPS:
		return ModeQPS, nil
	case ModeFilter, ModeRW:
		return Mode(s), nil
	default:
		return "", configErr("mode", "unknown query mode %q", s)
	}
}

// Size returns the dataset size.
func (c QueryConfig) Size() Size { return c.size }

// Collection returns the target collection.
func (c QueryConfig) Collection() string { return c.collection }

// Queries returns the query set location.
func (c QueryConfig) Queries() string { return c.queries }

// Concurrency returns the in-flight query cap.
func (c QueryConfig) Concurrency() int { return c.concurrency }

// Timeout returns the per-query deadline.
func (c QueryConfig) Timeout() time.Duration { return c.timeout }

// TopK returns the requested result depth.
func (c QueryConfig) TopK() int { return c.topK }

// Predicate returns the fixed filter predicate.
func (c QueryConfig) Predicate() Predicate { return c.predicate }

// Warmup reports whether an unrecorded warmup pass runs first.
func (c QueryConfig) Warmup() bool { return c.warmup }

// Mode returns the query sub-mode.
func (c QueryConfig) Mode() Mode { return c.mode }

// ReadWrite reports whether a concurrent writer runs during the replay.
func (c QueryConfig) ReadWrite() bool { return c.readWrite }

// Duration returns the time box of the replay, zero for a single pass.
func (c QueryConfig) Duration() time.Duration { return c.duration }

// Input returns the document source used by the rw writer.
func (c QueryConfig) Input() string { return c.input }

// WriteRate returns the rw writer batch rate limit.
func (c QueryConfig) WriteRate() float64 { return c.writeRate }

// DeleteRatio returns the rw writer delete probability.
func (c QueryConfig) DeleteRatio() float64 { return c.deleteRatio }

// String summarizes the config for logs.
func (c QueryConfig) String() string {
	return fmt.Sprintf("%s/%s/%s c=%d k=%d %s", c.mode, c.size, c.collection, c.concurrency, c.topK, c.predicate.Label())
}

// Params returns the parameters the config was built from, for deriving variants.
func (c QueryConfig) Params() QueryParams {
	p := QueryParams{
		Size:        string(c.size),
		Collection:  c.collection,
		Queries:     c.queries,
		Concurrency: c.concurrency,
		Timeout:     c.timeout,
		TopK:        c.topK,
		Warmup:      c.warmup,
		Mode:        string(c.mode),
		ReadWrite:   c.readWrite,
		Duration:    c.duration,
		Input:       c.input,
		WriteRate:   c.writeRate,
		DeleteRatio: c.deleteRatio,
	}
	if t, ok := c.predicate.IntFilter(); ok {
		p.IntFilter = &t
	}
	if kw, ok := c.predicate.Keyword(); ok {
		p.KeywordFilter = &kw
	}
	return p
}
