// Package asyncx provides small concurrency helpers used by the async
// pipelines: fire-and-forget goroutines and awaitable futures.
package asyncx

import (
	"context"
	"sync"
)

type result[T any] struct {
	value T
	err   error
}

// Future represents a value that becomes available asynchronously.
type Future[T any] struct {
	ch  chan result[T]
	res *result[T]
	mu  sync.Mutex
}

// Run executes fn in a goroutine and returns a Future for its result.
func Run[T any](fn func() (T, error)) *Future[T] {
	f := &Future[T]{ch: make(chan result[T], 1)}
	go func() {
		v, err := fn()
		f.ch <- result[T]{value: v, err: err}
	}()
	return f
}

// Await blocks until the Future completes. Safe to call multiple times;
// subsequent calls return the cached result.
func (f *Future[T]) Await() (T, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.res == nil {
		r := <-f.ch
		f.res = &r
	}
	return f.res.value, f.res.err
}

// Do fires fn in a goroutine and forgets it.
func Do(fn func()) {
	go fn()
}

// DoCtx fires fn in a goroutine unless ctx is already done.
func DoCtx(ctx context.Context, fn func(context.Context)) {
	go func() {
		select {
		case <-ctx.Done():
			return
		default:
			fn(ctx)
		}
	}()
}

// All runs every fn concurrently and waits for all of them. The first
// non-nil error is returned after every goroutine has finished.
func All[T any](ctx context.Context, fns ...func(context.Context) (T, error)) ([]T, error) {
	results := make([]T, len(fns))
	errs := make([]error, len(fns))

	var wg sync.WaitGroup
	wg.Add(len(fns))
	for i, fn := range fns {
		go func(i int, fn func(context.Context) (T, error)) {
			defer wg.Done()
			results[i], errs[i] = fn(ctx)
		}(i, fn)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}
	return results, nil
}
