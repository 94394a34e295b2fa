package provider

import (
	"context"
	"errors"
	"fmt"
)

// First runs fn once per index concurrently and returns the index and
// value of the first call to succeed. The context passed to the other
// calls is cancelled as soon as a winner is known. When every call
// fails, the joined errors are returned wrapped in
// ErrProviderUnavailable.
func First[T any](ctx context.Context, n int, fn func(ctx context.Context, i int) (T, error)) (int, T, error) {
	var zero T
	if n == 0 {
		return -1, zero, fmt.Errorf("%w: no endpoints configured", ErrProviderUnavailable)
	}

	raceCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	type result struct {
		idx int
		val T
		err error
	}
	// Buffered so losers never block after the winner returns.
	results := make(chan result, n)
	for i := 0; i < n; i++ {
		go func(i int) {
			v, err := fn(raceCtx, i)
			results <- result{idx: i, val: v, err: err}
		}(i)
	}

	errs := make([]error, 0, n)
	for i := 0; i < n; i++ {
		r := <-results
		if r.err == nil {
			return r.idx, r.val, nil
		}
		errs = append(errs, r.err)
	}
	return -1, zero, fmt.Errorf("%w: %w", ErrProviderUnavailable, errors.Join(errs...))
}
