package pipeline

import "context"

// Future is the asynchronous counterpart to Expected[T]: a value that will
// resolve to an Expected[T] once its producing goroutine completes. The
// repo-download and preload workflows use Future where a step suspends on
// network I/O; everything else in this package works identically whether
// called synchronously or chained off a Future, matching the single
// threaded event-loop model described for the source system (here
// approximated with goroutines and channels rather than true
// single-threaded cooperative suspension).
type Future[T any] struct {
	ch <-chan Expected[T]
}

// Go starts fn in a new goroutine and returns a Future that resolves to its
// result.
func Go[T any](ctx context.Context, fn func(context.Context) Expected[T]) Future[T] {
	ch := make(chan Expected[T], 1)
	go func() {
		ch <- fn(ctx)
	}()
	return Future[T]{ch: ch}
}

// Resolved returns a Future that is already resolved to e. Useful for
// composing a synchronous step into an otherwise asynchronous pipeline.
func Resolved[T any](e Expected[T]) Future[T] {
	ch := make(chan Expected[T], 1)
	ch <- e
	return Future[T]{ch: ch}
}

// Wait blocks until the Future resolves, or ctx is cancelled first.
func (f Future[T]) Wait(ctx context.Context) Expected[T] {
	select {
	case e := <-f.ch:
		return e
	case <-ctx.Done():
		var zero T
		return Expected[T]{val: zero, err: ctx.Err()}
	}
}

// FutureAndThen chains an asynchronous step after f, running fn in a new
// goroutine once f resolves successfully. Errors from f propagate without
// running fn, matching AndThen's short-circuit semantics.
func FutureAndThen[T, U any](ctx context.Context, f Future[T], fn func(context.Context, T) Expected[U]) Future[U] {
	ch := make(chan Expected[U], 1)
	go func() {
		e := f.Wait(ctx)
		if !e.IsOk() {
			ch <- Expected[U]{err: e.Error()}
			return
		}
		v, _ := e.Value()
		ch <- fn(ctx, v)
	}()
	return Future[U]{ch: ch}
}

// FutureCollect waits on every Future in fs and collects their results in
// order, short-circuiting (but still draining every channel, to avoid
// leaking the producing goroutines) on the first error.
func FutureCollect[T any](ctx context.Context, fs []Future[T]) Expected[[]T] {
	results := make([]Expected[T], len(fs))
	for i, f := range fs {
		results[i] = f.Wait(ctx)
	}
	return Collect(results)
}
