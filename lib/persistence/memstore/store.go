// Package memstore implements a process local store tier on top of a
// lock-free map. The tier is mainly used for tests and single node setups,
// its Config flags (shared, write-behind) are freely configurable so that
// every code path of the persistence manager can be exercised.
package memstore

import (
	"context"
	"sort"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/dGrid/lib/cursor"
	"github.com/ValentinKolb/dGrid/lib/grid"
	"github.com/ValentinKolb/dGrid/lib/persistence"
	"github.com/puzpuzpuz/xsync/v3"
)

// Options configures a memory store.
type Options struct {
	Name   string           // Name of the tier (default "memory")
	Shared bool             // Report the tier as shared
	Async  bool             // Report the tier as write-behind
	Clock  func() time.Time // Time source for expiration (nil = time.Now)
}

type storeImpl struct {
	cfg    persistence.Config
	data   *xsync.MapOf[string, grid.InternalEntry]
	now    func() time.Time
	closed atomic.Bool
}

// NewMemoryStore creates a new memory store tier with the given options (optional).
func NewMemoryStore(opts *Options) persistence.Store {
	if opts == nil {
		opts = &Options{}
	}
	name := opts.Name
	if name == "" {
		name = "memory"
	}
	now := opts.Clock
	if now == nil {
		now = time.Now
	}
	return &storeImpl{
		cfg:  persistence.Config{Name: name, Shared: opts.Shared, Async: opts.Async},
		data: xsync.NewMapOf[string, grid.InternalEntry](),
		now:  now,
	}
}

// Factory returns a persistence.StoreFactory producing memory stores.
func Factory(opts *Options) persistence.StoreFactory {
	return func() (persistence.Store, error) {
		return NewMemoryStore(opts), nil
	}
}

func (s *storeImpl) checkOpen() error {
	if s.closed.Load() {
		return persistence.NewError(persistence.RetCStoreUnavailable, "store "+s.cfg.Name+" is closed")
	}
	return nil
}

// --------------------------------------------------------------------------
// Interface Methods (docu see persistence/store.go)
// --------------------------------------------------------------------------

func (s *storeImpl) Config() persistence.Config {
	return s.cfg
}

func (s *storeImpl) Load(_ context.Context, key string) (grid.InternalEntry, bool, error) {
	if err := s.checkOpen(); err != nil {
		return grid.InternalEntry{}, false, err
	}
	e, ok := s.data.Load(key)
	if !ok {
		return grid.InternalEntry{}, false, nil
	}
	return copyEntry(e), true, nil
}

func (s *storeImpl) Write(_ context.Context, e grid.InternalEntry) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	if e.Value == nil {
		return persistence.NewError(persistence.RetCInvalidOperation, "can not write a null value")
	}
	s.data.Store(e.Key, copyEntry(e))
	return nil
}

func (s *storeImpl) Delete(_ context.Context, key string) (bool, error) {
	if err := s.checkOpen(); err != nil {
		return false, err
	}
	_, existed := s.data.LoadAndDelete(key)
	return existed, nil
}

func (s *storeImpl) PublishKeys(filter persistence.KeyFilter) cursor.Publisher[string] {
	return cursor.MapPublisher(s.PublishEntries(filter, false), grid.EntryKey)
}

// PublishEntries publishes a snapshot of the matching entries in key order.
func (s *storeImpl) PublishEntries(filter persistence.KeyFilter, includeExpired bool) cursor.Publisher[grid.InternalEntry] {
	return func(ctx context.Context, emit func(grid.InternalEntry) bool) error {
		if err := s.checkOpen(); err != nil {
			return err
		}
		now := s.now()
		var entries []grid.InternalEntry
		s.data.Range(func(key string, e grid.InternalEntry) bool {
			if filter.Accept(key) && (includeExpired || !e.IsExpired(now)) {
				entries = append(entries, e)
			}
			return true
		})
		sort.Slice(entries, func(i, j int) bool { return entries[i].Key < entries[j].Key })

		for _, e := range entries {
			if err := ctx.Err(); err != nil {
				return err
			}
			if !emit(copyEntry(e)) {
				return nil
			}
		}
		return nil
	}
}

func (s *storeImpl) Size(_ context.Context) (int64, error) {
	if err := s.checkOpen(); err != nil {
		return 0, err
	}
	now := s.now()
	var n int64
	s.data.Range(func(_ string, e grid.InternalEntry) bool {
		if !e.IsExpired(now) {
			n++
		}
		return true
	})
	return n, nil
}

func (s *storeImpl) Clear(_ context.Context) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	s.data.Clear()
	return nil
}

func (s *storeImpl) Close() error {
	s.closed.Store(true)
	return nil
}

// copyEntry copies the value so that callers can not corrupt the stored data.
func copyEntry(e grid.InternalEntry) grid.InternalEntry {
	value := make([]byte, len(e.Value))
	copy(value, e.Value)
	e.Value = value
	return e
}
