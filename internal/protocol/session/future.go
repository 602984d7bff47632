package session

import (
	"context"

	"github.com/danmuck/postal/internal/protocol/codec"
)

// Future is the pending result of SendAsync.
type Future struct {
	done  chan struct{}
	value codec.Values
	err   error
}

func newFuture(task func() (codec.Values, error)) *Future {
	f := &Future{done: make(chan struct{})}
	go func() {
		defer close(f.done)
		f.value, f.err = task()
	}()
	return f
}

// Await blocks until the exchange completes or ctx ends. Abandoning the wait
// does not abandon the exchange; a later Await still observes its result.
func (f *Future) Await(ctx context.Context) (codec.Values, error) {
	select {
	case <-f.done:
		return f.value, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Done is closed once the result is available.
func (f *Future) Done() <-chan struct{} { return f.done }
