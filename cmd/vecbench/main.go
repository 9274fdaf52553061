// Command vecbench benchmarks vector databases: ingest throughput, query
// latency and recall, filtered search, and read-write freshness.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/vecbench/internal/config"
	logpkg "github.com/kailas-cloud/vecbench/internal/logger"
	"github.com/kailas-cloud/vecbench/internal/version"
)

const usage = `usage: vecbench <command> [flags]

commands:
  ingest              load the dataset into the provider
  qps                 replay the query set without filters
  filter              replay the query set with -int-filter / -keyword
  rw                  replay queries while a writer upserts
  suite qps|filter|rw run a predefined sequence of query runs
  cleanup [-wet]      list (and with -wet, delete) provider collections
  gen -out DIR        write a synthetic parquet dataset with ground truth
  show FILE           print records from a metrics parquet file
  version             print build information

Configuration is read from config/$ENV.yaml; flags override it.
`

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// options are flag overrides on top of the YAML config.
type options struct {
	configPath  string
	runID       string
	size        string
	location    string
	queries     string
	output      string
	concurrency int
	batchSize   int
	topK        int
	timeout     time.Duration
	duration    time.Duration
	intFilter   int
	keyword     string
	warmup      bool
	freshness   bool
	wet         bool
	synthDocs   int
	synthQuery  int

	set map[string]bool
}

func parseFlags(name string, args []string, stderr io.Writer) (*options, []string, error) {
	o := &options{set: make(map[string]bool)}
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&o.configPath, "config", "", "config file (default config/$ENV.yaml)")
	fs.StringVar(&o.runID, "run-id", "", "run id (default random uuid)")
	fs.StringVar(&o.size, "size", "", "dataset size: 100k, 1m or 10m")
	fs.StringVar(&o.location, "dataset", "", "dataset location: dir, s3://, minio:// or synthetic")
	fs.StringVar(&o.queries, "queries", "", "query set location (default: dataset)")
	fs.StringVar(&o.output, "out", "", "metrics destination, {run_id} is expanded; gen: output dir")
	fs.IntVar(&o.concurrency, "concurrency", 0, "in-flight operations")
	fs.IntVar(&o.batchSize, "batch-size", 0, "documents per upsert")
	fs.IntVar(&o.topK, "top-k", 0, "results per query")
	fs.DurationVar(&o.timeout, "timeout", 0, "per-query timeout")
	fs.DurationVar(&o.duration, "duration", 0, "loop queries for this long (0 replays once)")
	fs.IntVar(&o.intFilter, "int-filter", -1, "int_filter < T predicate (-1 disables)")
	fs.StringVar(&o.keyword, "keyword", "", "keyword_filter token predicate")
	fs.BoolVar(&o.warmup, "warmup", false, "run one unrecorded pass first")
	fs.BoolVar(&o.freshness, "freshness", false, "probe visibility after each ingest batch")
	fs.BoolVar(&o.wet, "wet", false, "cleanup: actually delete")
	fs.IntVar(&o.synthDocs, "docs", 0, "gen: number of documents")
	fs.IntVar(&o.synthQuery, "n-queries", 0, "gen: number of queries")
	if err := fs.Parse(args); err != nil {
		return nil, nil, err
	}
	fs.Visit(func(f *flag.Flag) { o.set[f.Name] = true })
	return o, fs.Args(), nil
}

// apply overrides cfg with every flag given on the command line.
func (o *options) apply(cfg *config.Config) {
	if o.set["size"] {
		cfg.Dataset.Size = o.size
	}
	if o.set["dataset"] {
		cfg.Dataset.Location = o.location
	}
	if o.set["queries"] {
		cfg.Dataset.Queries = o.queries
	}
	if o.set["out"] {
		cfg.Output.Destination = o.output
	}
	if o.set["concurrency"] {
		cfg.Ingest.Concurrency = o.concurrency
		cfg.Query.Concurrency = o.concurrency
	}
	if o.set["batch-size"] {
		cfg.Ingest.BatchSize = o.batchSize
	}
	if o.set["top-k"] {
		cfg.Query.TopK = o.topK
	}
	if o.set["timeout"] {
		cfg.Query.TimeoutMS = int(o.timeout / time.Millisecond)
	}
	if o.set["duration"] {
		cfg.Query.DurationSec = int(o.duration / time.Second)
	}
	if o.set["int-filter"] {
		if o.intFilter < 0 {
			cfg.Query.IntFilter = nil
		} else {
			t := uint32(o.intFilter) //nolint:gosec // bounded by validation downstream
			cfg.Query.IntFilter = &t
		}
	}
	if o.set["keyword"] {
		kw := o.keyword
		cfg.Query.KeywordFilter = &kw
	}
	if o.set["warmup"] {
		cfg.Query.Warmup = o.warmup
	}
	if o.set["freshness"] {
		cfg.Ingest.Freshness = o.freshness
	}
	if o.set["docs"] {
		cfg.Dataset.SyntheticDocs = o.synthDocs
	}
	if o.set["n-queries"] {
		cfg.Dataset.SyntheticQueries = o.synthQuery
	}
}

func loadConfig(o *options) (config.Config, string, error) {
	env := config.GetEnv()
	var (
		cfg config.Config
		err error
	)
	if o.configPath != "" {
		cfg, err = config.LoadFile(o.configPath)
	} else {
		cfg, err = config.Load(env)
	}
	if err != nil {
		return config.Config{}, env, err
	}
	o.apply(&cfg)
	if err := cfg.Validate(); err != nil {
		return config.Config{}, env, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, env, nil
}

func run(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		_, _ = fmt.Fprint(stderr, usage)
		return 2
	}
	cmd, rest := args[0], args[1:]

	switch cmd {
	case "version":
		_, _ = fmt.Fprintln(stdout, version.String())
		return 0
	case "help", "-h", "--help":
		_, _ = fmt.Fprint(stdout, usage)
		return 0
	}

	var suiteKind string
	if cmd == "suite" {
		if len(rest) == 0 {
			_, _ = fmt.Fprintln(stderr, "suite: missing kind (qps, filter or rw)")
			return 2
		}
		suiteKind, rest = rest[0], rest[1:]
	}

	o, positional, err := parseFlags(cmd, rest, stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}

	cfg, env, err := loadConfig(o)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "vecbench: %v\n", err)
		return 1
	}

	logger, err := logpkg.NewLogger(env, cfg.Logging.Level)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "vecbench: %v\n", err)
		return 1
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logpkg.ContextWithLogger(ctx, logger)

	logger.Info("Starting vecbench",
		zap.String("command", cmd),
		zap.String("version", version.Version),
		zap.String("commit", version.Commit),
		zap.String("env", env),
		zap.String("driver", cfg.Provider.Driver),
		zap.String("size", cfg.Dataset.Size),
	)

	switch cmd {
	case "gen":
		err = runGen(ctx, cfg, o)
	case "show":
		err = runShow(ctx, cfg, positional, stdout)
	default:
		err = runBench(ctx, cmd, suiteKind, cfg, o)
	}
	if err != nil {
		if errors.Is(err, context.Canceled) {
			logger.Warn("Interrupted", zap.String("command", cmd))
			return 130
		}
		logger.Error("Command failed", zap.String("command", cmd), zap.Error(err))
		return 1
	}
	return 0
}
