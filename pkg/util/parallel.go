package util

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// Parallel runs fn for every input on at most workerLimit goroutines.
// The first error cancels the remaining work and is returned. A cancelled
// ctx stops handing out inputs and its error is returned.
func Parallel[T any](ctx context.Context, inputs []T, workerLimit int, fn func(context.Context, T) error) error {
	if workerLimit <= 0 {
		workerLimit = 1
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workerLimit)
	for _, item := range inputs {
		if gctx.Err() != nil {
			break
		}
		item := item
		g.Go(func() error {
			return fn(gctx, item)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}
