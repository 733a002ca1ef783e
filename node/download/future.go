package download

import (
	"sync"

	"github.com/pkg/errors"
)

// ErrCancelled is the failure delivered to futures whose work was
// abandoned by shutdown or reorg.
var ErrCancelled = errors.New("operation cancelled")

// Future is the read side of a single-assignment value. Cancelling or
// dropping a future does not stop the work producing it; that work's
// later result is discarded once the future has been cancelled.
type Future[T any] struct {
	done  chan struct{}
	once  sync.Once
	value T
	err   error
}

// NewFuture returns an unresolved future and its resolve side.
func NewFuture[T any]() (*Future[T], *Promise[T]) {
	f := &Future[T]{done: make(chan struct{})}
	return f, &Promise[T]{future: f}
}

// Resolved returns a future already holding value.
func Resolved[T any](value T) *Future[T] {
	f, p := NewFuture[T]()
	p.Resolve(value)
	return f
}

// Done returns a channel closed once the future holds a value or an
// error.
func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}

// Ready reports whether the future has resolved.
func (f *Future[T]) Ready() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}

// Result blocks until the future resolves and returns its value or
// error.
func (f *Future[T]) Result() (T, error) {
	<-f.done
	return f.value, f.err
}

// Cancel fails the future with ErrCancelled. Resolving and cancelling
// race benignly; the first wins.
func (f *Future[T]) Cancel() {
	f.once.Do(func() {
		f.err = errors.WithStack(ErrCancelled)
		close(f.done)
	})
}

// Promise is the resolve side of a future.
type Promise[T any] struct {
	future *Future[T]
}

// Resolve fulfils the future with value.
func (p *Promise[T]) Resolve(value T) {
	p.future.once.Do(func() {
		p.future.value = value
		close(p.future.done)
	})
}

// Fail rejects the future with err.
func (p *Promise[T]) Fail(err error) {
	p.future.once.Do(func() {
		p.future.err = err
		close(p.future.done)
	})
}
