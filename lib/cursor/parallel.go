package cursor

import (
	"context"
	"runtime"

	"golang.org/x/sync/errgroup"
)

// ParallelForEach consumes the iterator on the calling goroutine and hands
// every element to fn on a pool of at most parallelism goroutines
// (parallelism <= 0 uses GOMAXPROCS). Consuming stops at the first failure
// of fn, the first failure is returned.
//
// The iterator itself is only ever touched by the calling goroutine, so
// iterators with single-consumer state (e.g. seen-key tracking) stay valid.
func ParallelForEach[T any](ctx context.Context, it Iterator[T], parallelism int, fn func(context.Context, T) error) error {
	defer it.Close()

	if parallelism <= 0 {
		parallelism = runtime.GOMAXPROCS(0)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(parallelism)

	for gctx.Err() == nil && it.Next() {
		v := it.Value()
		g.Go(func() error {
			return fn(gctx, v)
		})
	}
	iterErr := it.Err()

	if err := g.Wait(); err != nil {
		return err
	}
	if iterErr != nil {
		return iterErr
	}
	return ctx.Err()
}
