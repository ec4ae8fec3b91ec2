package cursor

import (
	"errors"
)

var (
	// ErrClosed is returned when an iterator is used after Close.
	ErrClosed = errors.New("cursor: iterator closed")
	// ErrNoCurrent is returned by Remove if no element was returned yet.
	ErrNoCurrent = errors.New("cursor: no current element")
)

// Iterator is a pull-style iterator.
//
//	it := ...
//	defer it.Close()
//	for it.Next() {
//		v := it.Value()
//	}
//	if err := it.Err(); err != nil { ... }
type Iterator[T any] interface {
	// Next advances to the next element. It returns false at the end or on failure.
	Next() bool
	// Value returns the current element (only valid after Next returned true).
	Value() T
	// Err returns the failure that stopped the iteration (nil at a regular end).
	Err() error
	// Close releases the resources of the iterator. It is safe to call Close more than once.
	Close() error
}

// --------------------------------------------------------------------------
// Slice
// --------------------------------------------------------------------------

type sliceIterator[T any] struct {
	items  []T
	pos    int
	closed bool
}

// FromSlice returns an iterator over the given slice.
func FromSlice[T any](items []T) Iterator[T] {
	return &sliceIterator[T]{items: items, pos: -1}
}

// Empty returns an iterator without elements.
func Empty[T any]() Iterator[T] {
	return FromSlice[T](nil)
}

func (it *sliceIterator[T]) Next() bool {
	if it.closed || it.pos+1 >= len(it.items) {
		return false
	}
	it.pos++
	return true
}

func (it *sliceIterator[T]) Value() T { return it.items[it.pos] }
func (it *sliceIterator[T]) Err() error {
	return nil
}
func (it *sliceIterator[T]) Close() error {
	it.closed = true
	return nil
}

// --------------------------------------------------------------------------
// Map / Filter / Peek
// --------------------------------------------------------------------------

type mapIterator[T, U any] struct {
	src Iterator[T]
	fn  func(T) U
	cur U
}

// Map returns an iterator that applies fn to every element of src.
func Map[T, U any](src Iterator[T], fn func(T) U) Iterator[U] {
	return &mapIterator[T, U]{src: src, fn: fn}
}

func (it *mapIterator[T, U]) Next() bool {
	if !it.src.Next() {
		return false
	}
	it.cur = it.fn(it.src.Value())
	return true
}

func (it *mapIterator[T, U]) Value() U     { return it.cur }
func (it *mapIterator[T, U]) Err() error   { return it.src.Err() }
func (it *mapIterator[T, U]) Close() error { return it.src.Close() }

type filterIterator[T any] struct {
	src  Iterator[T]
	pred func(T) bool
	cur  T
}

// Filter returns an iterator over the elements of src that satisfy pred.
func Filter[T any](src Iterator[T], pred func(T) bool) Iterator[T] {
	return &filterIterator[T]{src: src, pred: pred}
}

func (it *filterIterator[T]) Next() bool {
	for it.src.Next() {
		if v := it.src.Value(); it.pred(v) {
			it.cur = v
			return true
		}
	}
	return false
}

func (it *filterIterator[T]) Value() T     { return it.cur }
func (it *filterIterator[T]) Err() error   { return it.src.Err() }
func (it *filterIterator[T]) Close() error { return it.src.Close() }

// Peek returns an iterator that calls fn for every element of src right
// before the element is returned to the caller.
func Peek[T any](src Iterator[T], fn func(T)) Iterator[T] {
	return Map(src, func(v T) T {
		fn(v)
		return v
	})
}

// --------------------------------------------------------------------------
// Lazy concatenation
// --------------------------------------------------------------------------

type lazyConcatIterator[T any] struct {
	first    Iterator[T]
	supplier func() Iterator[T]
	second   Iterator[T]
	onSecond bool
	err      error
	closed   bool
}

// LazyConcat returns an iterator over all elements of first followed by all
// elements of the iterator returned by supplier. supplier is only called once
// first is exhausted without failure, so an abandoned iteration never
// creates the second iterator.
func LazyConcat[T any](first Iterator[T], supplier func() Iterator[T]) Iterator[T] {
	return &lazyConcatIterator[T]{first: first, supplier: supplier}
}

func (it *lazyConcatIterator[T]) Next() bool {
	if it.closed || it.err != nil {
		return false
	}
	if !it.onSecond {
		if it.first.Next() {
			return true
		}
		if err := it.first.Err(); err != nil {
			it.err = err
			return false
		}
		if err := it.first.Close(); err != nil {
			it.err = err
			return false
		}
		it.onSecond = true
		it.second = it.supplier()
	}
	if it.second.Next() {
		return true
	}
	it.err = it.second.Err()
	return false
}

func (it *lazyConcatIterator[T]) Value() T {
	if it.onSecond {
		return it.second.Value()
	}
	return it.first.Value()
}

func (it *lazyConcatIterator[T]) Err() error { return it.err }

func (it *lazyConcatIterator[T]) Close() error {
	if it.closed {
		return nil
	}
	it.closed = true
	if it.onSecond {
		return it.second.Close()
	}
	return it.first.Close()
}

// --------------------------------------------------------------------------
// Removable
// --------------------------------------------------------------------------

// RemovableIterator is an Iterator that can remove the last returned element.
type RemovableIterator[T any] interface {
	Iterator[T]
	// Remove removes the element last returned by Value.
	Remove() error
}

type removableIterator[T any] struct {
	Iterator[T]
	remove  func(T) error
	current T
	valid   bool
}

// Removable wraps src so that Remove() calls remove with the current element.
func Removable[T any](src Iterator[T], remove func(T) error) RemovableIterator[T] {
	return &removableIterator[T]{Iterator: src, remove: remove}
}

func (it *removableIterator[T]) Next() bool {
	it.valid = it.Iterator.Next()
	if it.valid {
		it.current = it.Iterator.Value()
	}
	return it.valid
}

func (it *removableIterator[T]) Value() T { return it.current }

func (it *removableIterator[T]) Remove() error {
	if !it.valid {
		return ErrNoCurrent
	}
	it.valid = false
	return it.remove(it.current)
}

// --------------------------------------------------------------------------
// Terminal operations
// --------------------------------------------------------------------------

// Count consumes and closes the iterator and returns the number of elements.
func Count[T any](it Iterator[T]) (int64, error) {
	defer it.Close()
	var n int64
	for it.Next() {
		n++
	}
	return n, it.Err()
}

// Collect consumes and closes the iterator and returns all elements.
func Collect[T any](it Iterator[T]) ([]T, error) {
	defer it.Close()
	var out []T
	for it.Next() {
		out = append(out, it.Value())
	}
	return out, it.Err()
}

// ForEach consumes and closes the iterator, calling fn for every element.
// Iteration stops at the first error returned by fn.
func ForEach[T any](it Iterator[T], fn func(T) error) error {
	defer it.Close()
	for it.Next() {
		if err := fn(it.Value()); err != nil {
			return err
		}
	}
	return it.Err()
}
