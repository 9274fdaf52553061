// Package suite runs ordered sequences of query runs and flushes results
// between them.
package suite

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/vecbench/internal/domain"
)

// Kind names a suite.
type Kind string

// Suites.
const (
	KindQPS    Kind = "qps"
	KindFilter Kind = "filter"
	KindRW     Kind = "rw"
)

// SweepConcurrency is the concurrency ladder of the QPS sweep.
var SweepConcurrency = []int{1, 2, 4, 8}

// FilterConcurrency is the concurrency of every filter matrix step.
const FilterConcurrency = 8

// Step is one query run of a suite.
type Step struct {
	Name   string
	Config domain.QueryConfig
}

// Result is the outcome of one step.
type Result struct {
	Step     Step
	Queries  int64
	Failed   int64
	Writes   int64
	Records  int
	Duration time.Duration
}

// Plan expands kind into steps derived from base. Fields the suite varies
// are overwritten; everything else is taken from base.
func Plan(kind Kind, base domain.QueryParams) ([]Step, error) {
	switch kind {
	case KindQPS:
		return QPSSweep(base)
	case KindFilter:
		return FilterMatrix(base)
	case KindRW:
		return ReadWrite(base)
	default:
		return nil, &domain.ConfigError{Field: "suite", Reason: fmt.Sprintf("unknown suite %q (want qps, filter or rw)", kind)}
	}
}

// QPSSweep steps through SweepConcurrency without filters. Only the first
// step warms up.
func QPSSweep(base domain.QueryParams) ([]Step, error) {
	steps := make([]Step, 0, len(SweepConcurrency))
	for i, c := range SweepConcurrency {
		p := base
		p.Mode = string(domain.ModeQPS)
		p.ReadWrite = false
		p.IntFilter, p.KeywordFilter = nil, nil
		p.Concurrency = c
		p.Warmup = i == 0
		if err := appendStep(&steps, fmt.Sprintf("qps-c%d", c), p); err != nil {
			return nil, err
		}
	}
	return steps, nil
}

// FilterMatrix runs every predicate of domain.FilterMatrix at FilterConcurrency.
func FilterMatrix(base domain.QueryParams) ([]Step, error) {
	matrix := domain.FilterMatrix()
	steps := make([]Step, 0, len(matrix))
	for _, pred := range matrix {
		p := base
		p.Mode = string(domain.ModeFilter)
		p.ReadWrite = false
		p.Concurrency = FilterConcurrency
		p.IntFilter, p.KeywordFilter = nil, nil
		if t, ok := pred.IntFilter(); ok {
			p.IntFilter = &t
		}
		if kw, ok := pred.Keyword(); ok {
			p.KeywordFilter = &kw
		}
		if err := appendStep(&steps, "filter-"+pred.Label(), p); err != nil {
			return nil, err
		}
	}
	return steps, nil
}

// ReadWrite runs the query set without, then with, a concurrent writer.
func ReadWrite(base domain.QueryParams) ([]Step, error) {
	steps := make([]Step, 0, 2)

	ro := base
	ro.Mode = string(domain.ModeQPS)
	ro.ReadWrite = false
	if err := appendStep(&steps, "rw-off", ro); err != nil {
		return nil, err
	}

	rw := base
	rw.Mode = string(domain.ModeRW)
	rw.ReadWrite = true
	if err := appendStep(&steps, "rw-on", rw); err != nil {
		return nil, err
	}
	return steps, nil
}

func appendStep(steps *[]Step, name string, p domain.QueryParams) error {
	cfg, err := domain.NewQueryConfig(p)
	if err != nil {
		return fmt.Errorf("suite: step %s: %w", name, err)
	}
	*steps = append(*steps, Step{Name: name, Config: cfg})
	return nil
}

// Service runs suites.
type Service struct {
	runner  QueryRunner
	flusher Flusher
	sink    Sink
	logger  *zap.Logger
}

// New creates a suite service. sink may be nil.
func New(runner QueryRunner, flusher Flusher, sink Sink, logger *zap.Logger) *Service {
	return &Service{runner: runner, flusher: flusher, sink: sink, logger: logger}
}

// Run executes steps in order. Records are flushed after every step, even a
// failed one, so a step never leaks samples into the next. A cancelled
// context stops the suite after flushing the interrupted step.
func (s *Service) Run(ctx context.Context, steps []Step) ([]Result, error) {
	results := make([]Result, 0, len(steps))
	for i, step := range steps {
		logger := s.logger.With(
			zap.String("step", step.Name),
			zap.Int("index", i+1),
			zap.Int("steps", len(steps)),
		)
		logger.Info("Suite step started", zap.Stringer("config", step.Config))

		sum, runErr := s.runner.Run(ctx, step.Config)
		records := s.flusher.Flush()

		res := Result{
			Step:     step,
			Queries:  sum.Queries,
			Failed:   sum.Failed,
			Writes:   sum.Writes,
			Records:  len(records),
			Duration: sum.Duration,
		}
		results = append(results, res)

		if s.sink != nil && len(records) > 0 {
			if err := s.sink(context.WithoutCancel(ctx), step, records); err != nil {
				return results, fmt.Errorf("suite: flush %s: %w", step.Name, err)
			}
		}

		if runErr != nil {
			if errors.Is(runErr, context.Canceled) || errors.Is(runErr, context.DeadlineExceeded) {
				logger.Warn("Suite interrupted")
			} else {
				logger.Error("Suite step failed", zap.Error(runErr))
			}
			return results, fmt.Errorf("suite: step %s: %w", step.Name, runErr)
		}
		logger.Info("Suite step finished",
			zap.Int64("queries", res.Queries),
			zap.Int64("failed", res.Failed),
			zap.Int("records", res.Records),
			zap.Duration("duration", res.Duration),
		)
	}
	return results, nil
}
