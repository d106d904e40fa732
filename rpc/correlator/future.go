package correlator

import (
	"context"
	"sync/atomic"
)

// Future is the caller's handle on one pending request. It is resolved at
// most once, either with a response or with an error; whichever comes first
// wins and later attempts are ignored.
type Future[T any] struct {
	resolved atomic.Bool
	done     chan struct{}
	value    T
	err      error
}

func newFuture[T any]() *Future[T] {
	return &Future[T]{done: make(chan struct{})}
}

// complete resolves the future and reports whether this call was the one that did it
func (f *Future[T]) complete(value T, err error) bool {
	if !f.resolved.CompareAndSwap(false, true) {
		return false
	}
	f.value = value
	f.err = err
	close(f.done)
	return true
}

// Done is closed once the future is resolved
func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}

// IsDone reports whether the future is resolved, without blocking
func (f *Future[T]) IsDone() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}

// Result blocks until the future is resolved and returns its outcome
func (f *Future[T]) Result() (T, error) {
	<-f.done
	return f.value, f.err
}

// Wait is Result bounded by ctx. It does not touch the correlator, use
// Correlator.Await to also drop the pending entry on expiry.
func (f *Future[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.value, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}
