package workload

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kailas-cloud/vecbench/internal/provider"
)

// Producer feeds items into out and returns when done. The pool closes out.
type Producer[T any] func(ctx context.Context, out chan<- T) error

// Handler processes one item. It must not block past ctx cancellation.
type Handler[T any] func(ctx context.Context, item T)

// Run starts workers goroutines draining the producer's channel. At most
// workers handlers run at once. When ctx is cancelled the producer stops and
// workers drain remaining items without handling them. The producer error, if
// any, is returned.
func Run[T any](ctx context.Context, workers int, produce Producer[T], handle Handler[T]) error {
	if workers <= 0 {
		return fmt.Errorf("workload: workers must be positive, got %d", workers)
	}

	items := make(chan T, workers*2)
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer close(items)
		return produce(gctx, items)
	})
	for range workers {
		g.Go(func() error {
			for item := range items {
				if gctx.Err() != nil {
					continue
				}
				handle(gctx, item)
			}
			return nil
		})
	}
	return g.Wait()
}

// Send delivers item unless ctx is done first.
func Send[T any](ctx context.Context, out chan<- T, item T) bool {
	select {
	case out <- item:
		return true
	case <-ctx.Done():
		return false
	}
}

// Call runs fn under a per-call deadline. fn runs in its own goroutine; when
// the deadline fires first Call returns a Timeout error immediately and the
// abandoned call sees its context cancelled. A result that is already
// available wins over a deadline that fires at the same time.
func Call[T any](ctx context.Context, op string, timeout time.Duration, fn func(context.Context) (T, error)) (T, error) {
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type outcome struct {
		v   T
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		v, err := fn(callCtx)
		done <- outcome{v, err}
	}()

	select {
	case o := <-done:
		return o.v, o.err
	case <-callCtx.Done():
		select {
		case o := <-done:
			return o.v, o.err
		default:
		}
		var zero T
		if ctx.Err() != nil {
			return zero, provider.Wrap(provider.KindUnknown, op, ctx.Err())
		}
		return zero, provider.Errorf(provider.KindTimeout, op, "no result within %s", timeout)
	}
}
