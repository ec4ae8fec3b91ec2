package loader

import (
	"bytes"
	"context"

	"github.com/ValentinKolb/dGrid/lib/cursor"
	"github.com/ValentinKolb/dGrid/lib/grid"
	"github.com/ValentinKolb/dGrid/lib/persistence"
)

// LoaderSet is a key-set or entry-set view over the in-memory view of the
// cache united with the stores. R is string (key-set) or grid.InternalEntry
// (entry-set).
//
// Thread-safety: The view can be shared, every iterator belongs to the
// goroutine that created it.
type LoaderSet[R any] struct {
	l      *Loader
	ctx    context.Context
	inner  grid.CacheSet[R]
	flags  grid.Flag
	remote bool

	keyOf        func(R) string
	publish      func(filter persistence.KeyFilter) cursor.Publisher[R]
	storeHolds   func(o R, stored *grid.InternalEntry) bool
	removeByView func(ctx context.Context, cache Remover, o R) (bool, error)
}

var (
	_ grid.CacheSet[string]             = (*LoaderSet[string])(nil)
	_ grid.CacheSet[grid.InternalEntry] = (*LoaderSet[grid.InternalEntry])(nil)
)

// WrapKeySet wraps the in-memory key-set of a key-set command. remote is
// the FlagRemoteIteration state of the command before the loader set it.
func (l *Loader) WrapKeySet(ctx context.Context, cmd *grid.Command, remote bool, inner grid.CacheSet[string]) *LoaderSet[string] {
	flags := cmd.Flags &^ grid.FlagRemoteIteration
	return &LoaderSet[string]{
		l:      l,
		ctx:    ctx,
		inner:  inner,
		flags:  flags,
		remote: remote,
		keyOf:  func(k string) string { return k },
		publish: func(filter persistence.KeyFilter) cursor.Publisher[string] {
			return l.persistence.PublishKeys(filter, persistence.AccessBoth)
		},
		storeHolds: func(_ string, stored *grid.InternalEntry) bool {
			return stored != nil
		},
		removeByView: func(ctx context.Context, cache Remover, key string) (bool, error) {
			return cache.Remove(ctx, key, flags)
		},
	}
}

// WrapEntrySet wraps the in-memory entry-set of an entry-set command.
func (l *Loader) WrapEntrySet(ctx context.Context, cmd *grid.Command, remote bool, inner grid.CacheSet[grid.InternalEntry]) *LoaderSet[grid.InternalEntry] {
	flags := cmd.Flags &^ grid.FlagRemoteIteration
	return &LoaderSet[grid.InternalEntry]{
		l:      l,
		ctx:    ctx,
		inner:  inner,
		flags:  flags,
		remote: remote,
		keyOf:  grid.EntryKey,
		publish: func(filter persistence.KeyFilter) cursor.Publisher[grid.InternalEntry] {
			return l.persistence.PublishEntries(filter, false, persistence.AccessBoth)
		},
		storeHolds: func(e grid.InternalEntry, stored *grid.InternalEntry) bool {
			return stored != nil && bytes.Equal(e.Value, stored.Value)
		},
		removeByView: func(ctx context.Context, cache Remover, e grid.InternalEntry) (bool, error) {
			return cache.RemoveIfValue(ctx, e.Key, e.Value, flags)
		},
	}
}

// --------------------------------------------------------------------------
// Iteration
// --------------------------------------------------------------------------

// Iterator returns a new pass over memory and stores. Unless the command
// was a remote iteration the iterator is a cursor.RemovableIterator whose
// Remove goes through the cache.
func (s *LoaderSet[R]) Iterator() cursor.Iterator[R] {
	if s.remote {
		return s.mergedIterator()
	}
	return cursor.Removable(s.mergedIterator(), func(o R) error {
		_, err := s.Remove(o)
		return err
	})
}

// mergedIterator concatenates the in-memory iterator with a store iterator
// that skips every key seen in memory. The store is subscribed once the
// in-memory iterator is exhausted.
func (s *LoaderSet[R]) mergedIterator() cursor.Iterator[R] {
	// only written by the consuming goroutine before the store is subscribed
	seen := make(map[string]struct{}, s.l.container.SizeIncludingExpired())

	local := cursor.Peek(s.inner.Iterator(), func(v R) {
		seen[s.keyOf(v)] = struct{}{}
	})
	return cursor.LazyConcat(local, func() cursor.Iterator[R] {
		unseen := func(key string) bool {
			_, ok := seen[key]
			return !ok
		}
		return cursor.FromPublisher(s.ctx, s.publish(unseen), s.l.cfg.Prefetch)
	})
}

// ForEachParallel hands every element to fn on up to Config.Parallelism
// goroutines. The iteration itself stays on the calling goroutine.
func (s *LoaderSet[R]) ForEachParallel(fn func(ctx context.Context, v R) error) error {
	return cursor.ParallelForEach(s.ctx, s.mergedIterator(), s.l.cfg.Parallelism, fn)
}

// --------------------------------------------------------------------------
// Set operations
// --------------------------------------------------------------------------

// Contains checks the in-memory view first, then loads the key from the
// stores directly.
func (s *LoaderSet[R]) Contains(o R) (bool, error) {
	ok, err := s.inner.Contains(o)
	if err != nil || ok {
		return ok, err
	}
	stored, err := s.l.persistence.Load(s.ctx, s.keyOf(o), false).Await(s.ctx)
	if err != nil {
		return false, err
	}
	return s.storeHolds(o, stored), nil
}

// Size returns the count of a shared, synchronous store if the command
// flags allow it, otherwise it counts the merged iterator.
func (s *LoaderSet[R]) Size() (int, error) {
	n, err := s.l.trySizeOptimization(s.ctx, s.flags)
	if err != nil {
		return 0, err
	}
	if n >= 0 {
		return clampSize(n), nil
	}
	n, err = cursor.Count(s.mergedIterator())
	if err != nil {
		return 0, err
	}
	return clampSize(n), nil
}

// IsEmpty checks the in-memory view, then whether any store holds a key.
func (s *LoaderSet[R]) IsEmpty() (bool, error) {
	empty, err := s.inner.IsEmpty()
	if err != nil || !empty {
		return empty, err
	}
	_, found, err := cursor.FirstOf(s.ctx, s.l.persistence.PublishKeys(nil, persistence.AccessBoth))
	if err != nil {
		return false, err
	}
	return !found, nil
}

// Remove removes the element through the cache and reports whether it was removed.
func (s *LoaderSet[R]) Remove(o R) (bool, error) {
	if s.l.cache == nil {
		return false, ErrNoCache
	}
	return s.removeByView(s.ctx, s.l.cache, o)
}

// Clear clears the whole cache (memory and stores).
func (s *LoaderSet[R]) Clear() error {
	if s.l.cache == nil {
		return ErrNoCache
	}
	return s.l.cache.Clear(s.ctx)
}
