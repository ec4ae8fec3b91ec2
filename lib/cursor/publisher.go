package cursor

import (
	"context"
	"errors"
)

// DefaultPrefetch is the size of the buffer between a publisher and the
// iterator consuming it.
const DefaultPrefetch = 128

// Publisher is a lazy push-style sequence. Calling the function subscribes:
// the publisher calls emit for every element until emit returns false, the
// context is done or the sequence ends. It returns the failure of the
// sequence (nil at a regular end or when emit returned false).
type Publisher[T any] func(ctx context.Context, emit func(T) bool) error

// SlicePublisher publishes the elements of a slice.
func SlicePublisher[T any](items []T) Publisher[T] {
	return func(ctx context.Context, emit func(T) bool) error {
		for _, v := range items {
			if err := ctx.Err(); err != nil {
				return err
			}
			if !emit(v) {
				return nil
			}
		}
		return nil
	}
}

// FilterPublisher publishes the elements of pub that satisfy pred.
func FilterPublisher[T any](pub Publisher[T], pred func(T) bool) Publisher[T] {
	return func(ctx context.Context, emit func(T) bool) error {
		return pub(ctx, func(v T) bool {
			if !pred(v) {
				return true
			}
			return emit(v)
		})
	}
}

// MapPublisher publishes fn applied to every element of pub.
func MapPublisher[T, U any](pub Publisher[T], fn func(T) U) Publisher[U] {
	return func(ctx context.Context, emit func(U) bool) error {
		return pub(ctx, func(v T) bool {
			return emit(fn(v))
		})
	}
}

// FirstOf subscribes to pub and returns its first element.
// The boolean is false if pub published nothing.
func FirstOf[T any](ctx context.Context, pub Publisher[T]) (T, bool, error) {
	var (
		first T
		found bool
	)
	err := pub(ctx, func(v T) bool {
		first = v
		found = true
		return false
	})
	return first, found, err
}

// Drain subscribes to pub and blocks until every element was handed to fn.
func Drain[T any](ctx context.Context, pub Publisher[T], fn func(T) error) error {
	var fnErr error
	err := pub(ctx, func(v T) bool {
		if fnErr = fn(v); fnErr != nil {
			return false
		}
		return true
	})
	if fnErr != nil {
		return fnErr
	}
	return err
}

// --------------------------------------------------------------------------
// Publisher -> Iterator
// --------------------------------------------------------------------------

type publisherIterator[T any] struct {
	parent   context.Context
	pub      Publisher[T]
	prefetch int

	started bool
	closed  bool
	cancel  context.CancelFunc
	ch      chan T
	pubErr  error // written by the producer before ch is closed
	err     error
	cur     T
}

// FromPublisher converts pub into an iterator. The publisher is subscribed
// on the first call to Next (never if the iterator is closed first) and runs
// on its own goroutine, it can run ahead of the consumer by at most prefetch
// elements.
func FromPublisher[T any](ctx context.Context, pub Publisher[T], prefetch int) Iterator[T] {
	if prefetch <= 0 {
		prefetch = DefaultPrefetch
	}
	return &publisherIterator[T]{parent: ctx, pub: pub, prefetch: prefetch}
}

func (it *publisherIterator[T]) start() {
	ctx, cancel := context.WithCancel(it.parent)
	it.cancel = cancel
	it.ch = make(chan T, it.prefetch)
	it.started = true

	go func() {
		defer close(it.ch)
		it.pubErr = it.pub(ctx, func(v T) bool {
			select {
			case it.ch <- v:
				return true
			case <-ctx.Done():
				return false
			}
		})
	}()
}

func (it *publisherIterator[T]) Next() bool {
	if it.closed || it.err != nil {
		return false
	}
	if !it.started {
		it.start()
	}
	v, ok := <-it.ch
	if ok {
		it.cur = v
		return true
	}
	if it.pubErr != nil && !errors.Is(it.pubErr, context.Canceled) {
		it.err = it.pubErr
	} else if err := it.parent.Err(); err != nil {
		it.err = err
	}
	return false
}

func (it *publisherIterator[T]) Value() T { return it.cur }

func (it *publisherIterator[T]) Err() error { return it.err }

func (it *publisherIterator[T]) Close() error {
	if it.closed {
		return nil
	}
	it.closed = true
	if it.started {
		it.cancel()
		// unblock the producer and wait until it is gone
		for range it.ch {
		}
	}
	return nil
}
