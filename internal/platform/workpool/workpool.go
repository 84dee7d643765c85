// Package workpool runs bounded fan-out work on top of errgroup.
package workpool

import (
	"context"
	"runtime"

	"golang.org/x/sync/errgroup"
)

// Size returns perCPU*NumCPU clamped to [minimum, maximum].
func Size(perCPU, minimum, maximum int) int {
	return Clamp(runtime.NumCPU()*perCPU, minimum, maximum)
}

// Clamp bounds n to [minimum, maximum].
func Clamp(n, minimum, maximum int) int {
	if n < minimum {
		return minimum
	}
	if maximum > 0 && n > maximum {
		return maximum
	}
	return n
}

// Run calls fn for every item with at most limit calls in flight. The first
// error cancels the shared context and is returned once all started calls
// finish.
func Run[T any](ctx context.Context, limit int, items []T, fn func(context.Context, T) error) error {
	if limit <= 0 {
		limit = 1
	}
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(limit)
	for _, item := range items {
		if groupCtx.Err() != nil {
			break
		}
		group.Go(func() error {
			return fn(groupCtx, item)
		})
	}
	return group.Wait()
}
