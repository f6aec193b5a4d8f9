package client

import (
	"context"
	"sync"
	"time"
)

// Future is the single-assignment result of a call.
type Future struct {
	once  sync.Once
	done  chan struct{}
	value any
	err   error
}

func newFuture() *Future {
	return &Future{done: make(chan struct{})}
}

func completedFuture(v any, err error) *Future {
	f := newFuture()
	f.complete(v, err)
	return f
}

// complete assigns the outcome. Only the first call has an effect.
func (f *Future) complete(v any, err error) bool {
	ok := false
	f.once.Do(func() {
		f.value, f.err = v, err
		close(f.done)
		ok = true
	})
	return ok
}

// Done is closed once the future has an outcome.
func (f *Future) Done() <-chan struct{} { return f.done }

// Await blocks until the outcome is known or ctx ends.
func (f *Future) Await(ctx context.Context) (any, error) {
	select {
	case <-f.done:
		return f.value, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// AwaitTimeout waits at most d. When d elapses first it returns
// ErrWaitTimeout and leaves the call pending: the correlation timeout is a
// separate timer and still applies.
func (f *Future) AwaitTimeout(d time.Duration) (any, error) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-f.done:
		return f.value, f.err
	case <-t.C:
		return nil, ErrWaitTimeout
	}
}
