package indexing

import (
	"context"
	"sync"
)

// Future is the eventual outcome of index initialization.
type Future struct {
	done chan struct{}
	once sync.Once
	gen  Generator
	err  error
}

func newFuture() *Future {
	return &Future{done: make(chan struct{})}
}

func (f *Future) resolve(gen Generator, err error) {
	f.once.Do(func() {
		f.gen, f.err = gen, err
		close(f.done)
	})
}

// Done is closed once the future has resolved.
func (f *Future) Done() <-chan struct{} { return f.done }

// Wait blocks until the future resolves or ctx ends. A nil generator with a
// nil error means indexing is disabled.
func (f *Future) Wait(ctx context.Context) (Generator, error) {
	select {
	case <-f.done:
		return f.gen, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
