// Package fanout runs independent store calls with a cap on how many are in
// flight at once.
package fanout

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// Run calls fn for every index in [0, n) with at most limit calls in flight.
// The first error cancels the context handed to the remaining calls and is
// returned once every started call has finished.
func Run(ctx context.Context, n, limit int, fn func(ctx context.Context, i int) error) error {
	if n <= 0 {
		return nil
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(clamp(limit, n))
	for i := 0; i < n; i++ {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			return fn(gctx, i)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

// Each calls fn for every index in [0, n) with at most limit calls in flight.
// Calls do not affect each other; fn records its own outcome.
func Each(ctx context.Context, n, limit int, fn func(ctx context.Context, i int)) {
	if n <= 0 {
		return
	}
	var g errgroup.Group
	g.SetLimit(clamp(limit, n))
	for i := 0; i < n; i++ {
		g.Go(func() error {
			fn(ctx, i)
			return nil
		})
	}
	_ = g.Wait()
}

// Chunk splits items into consecutive slices of at most size elements.
func Chunk[T any](items []T, size int) [][]T {
	if size <= 0 {
		size = len(items)
	}
	if len(items) == 0 {
		return nil
	}
	chunks := make([][]T, 0, (len(items)+size-1)/size)
	for start := 0; start < len(items); start += size {
		end := min(start+size, len(items))
		chunks = append(chunks, items[start:end])
	}
	return chunks
}

// Pages returns how many pages of pageSize cover total rows.
func Pages(total, pageSize int) int {
	if total <= 0 || pageSize <= 0 {
		return 0
	}
	return (total + pageSize - 1) / pageSize
}

func clamp(limit, n int) int {
	if limit <= 0 || limit > n {
		return n
	}
	return limit
}
