// Package ml holds the pieces shared by the ensemble models: parallel member
// construction, dataset splitting and evaluation reports.
package ml

import (
	"context"
	"runtime"

	"golang.org/x/sync/errgroup"
)

// Build runs fn for every member index in [0, n) on at most workers
// goroutines. Members must not share mutable state; each gets its own index
// so results are independent of scheduling.
func Build(ctx context.Context, n, workers int, fn func(ctx context.Context, i int) error) error {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i := 0; i < n; i++ {
		i := i
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			return fn(gctx, i)
		})
	}
	return g.Wait()
}

// MemberSeed derives the seed stream of ensemble member i.
func MemberSeed(i int) uint64 {
	return uint64(i) + 1
}
