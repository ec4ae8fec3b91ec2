// Package async provides a minimal completion-stage abstraction used to
// compose asynchronous store loads and listener notifications.
//
// A Stage is completed exactly once, either with a value or with an error.
// Callbacks registered with WhenComplete run on the goroutine that completes
// the stage, or immediately on the caller if the stage is already done.
// Then and Compose chain follow-up work without blocking; Await is the only
// blocking operation.
//
// Aggregate joins any number of stages into a single stage that completes
// once every constituent completed and carries the first observed failure.
package async

import (
	"context"
	"errors"
	"sync"
)

// ErrAlreadyCompleted is returned by Complete / Fail on a completed stage.
var ErrAlreadyCompleted = errors.New("async: stage already completed")

// Void is the value type of stages that only signal completion.
type Void = struct{}

// Completion is implemented by every stage regardless of its value type.
type Completion interface {
	// OnDone registers a callback that receives the failure of the stage (nil on success).
	OnDone(fn func(err error))
}

// Stage is the eventual result of an asynchronous computation.
//
// Thread-safety: All methods are safe for concurrent use.
type Stage[T any] struct {
	mu        sync.Mutex
	done      chan struct{}
	completed bool
	value     T
	err       error
	callbacks []func(T, error)
}

// NewStage creates a new incomplete stage.
func NewStage[T any]() *Stage[T] {
	return &Stage[T]{done: make(chan struct{})}
}

// Completed returns a stage that is already completed with value.
func Completed[T any](value T) *Stage[T] {
	s := NewStage[T]()
	s.complete(value, nil)
	return s
}

// Failed returns a stage that is already completed with err.
func Failed[T any](err error) *Stage[T] {
	s := NewStage[T]()
	var zero T
	s.complete(zero, err)
	return s
}

// Done returns a completed Void stage.
func Done() *Stage[Void] {
	return Completed(Void{})
}

// Go runs fn on a new goroutine and returns a stage completed with its result.
func Go[T any](fn func() (T, error)) *Stage[T] {
	s := NewStage[T]()
	go func() {
		v, err := fn()
		s.complete(v, err)
	}()
	return s
}

// Complete completes the stage with value.
func (s *Stage[T]) Complete(value T) error {
	if !s.complete(value, nil) {
		return ErrAlreadyCompleted
	}
	return nil
}

// Fail completes the stage with err.
func (s *Stage[T]) Fail(err error) error {
	var zero T
	if !s.complete(zero, err) {
		return ErrAlreadyCompleted
	}
	return nil
}

// complete stores the result and runs all callbacks (outside the lock).
func (s *Stage[T]) complete(value T, err error) bool {
	s.mu.Lock()
	if s.completed {
		s.mu.Unlock()
		return false
	}
	s.completed = true
	s.value = value
	s.err = err
	callbacks := s.callbacks
	s.callbacks = nil
	close(s.done)
	s.mu.Unlock()

	for _, cb := range callbacks {
		cb(value, err)
	}
	return true
}

// DoneCh returns a channel that is closed once the stage is completed.
func (s *Stage[T]) DoneCh() <-chan struct{} {
	return s.done
}

// IsDone returns whether the stage is completed.
func (s *Stage[T]) IsDone() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// IsCompletedSuccessfully returns whether the stage is completed without failure.
func (s *Stage[T]) IsCompletedSuccessfully() bool {
	if !s.IsDone() {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err == nil
}

// Result returns value and failure of a completed stage.
// On an incomplete stage the zero value and a nil error are returned.
func (s *Stage[T]) Result() (T, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.value, s.err
}

// Await blocks until the stage is completed or ctx is done.
func (s *Stage[T]) Await(ctx context.Context) (T, error) {
	select {
	case <-s.done:
		return s.Result()
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// WhenComplete registers fn to be called with the result of the stage.
func (s *Stage[T]) WhenComplete(fn func(T, error)) {
	s.mu.Lock()
	if !s.completed {
		s.callbacks = append(s.callbacks, fn)
		s.mu.Unlock()
		return
	}
	value, err := s.value, s.err
	s.mu.Unlock()
	fn(value, err)
}

// OnDone implements Completion. A nil stage counts as completed successfully.
func (s *Stage[T]) OnDone(fn func(err error)) {
	if s == nil {
		fn(nil)
		return
	}
	s.WhenComplete(func(_ T, err error) { fn(err) })
}

// --------------------------------------------------------------------------
// Composition
// --------------------------------------------------------------------------

// Then returns a stage completed with fn applied to the value of s.
// A failure of s is propagated without calling fn.
func Then[T, U any](s *Stage[T], fn func(T) (U, error)) *Stage[U] {
	next := NewStage[U]()
	s.WhenComplete(func(v T, err error) {
		if err != nil {
			_ = next.Fail(err)
			return
		}
		u, err := fn(v)
		next.complete(u, err)
	})
	return next
}

// Compose returns a stage completed with the result of the stage returned by fn.
// A failure of s is propagated without calling fn. A nil stage returned by
// fn counts as completed with the zero value.
func Compose[T, U any](s *Stage[T], fn func(T) *Stage[U]) *Stage[U] {
	next := NewStage[U]()
	s.WhenComplete(func(v T, err error) {
		if err != nil {
			_ = next.Fail(err)
			return
		}
		inner := fn(v)
		if inner == nil {
			var zero U
			next.complete(zero, nil)
			return
		}
		inner.WhenComplete(func(u U, err error) {
			next.complete(u, err)
		})
	})
	return next
}

// Ignore converts any stage into a Void stage with the same outcome.
func Ignore[T any](s *Stage[T]) *Stage[Void] {
	return Then(s, func(T) (Void, error) { return Void{}, nil })
}
