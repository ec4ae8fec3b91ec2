package persistence

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/dGrid/lib/async"
	"github.com/ValentinKolb/dGrid/lib/cursor"
	"github.com/ValentinKolb/dGrid/lib/grid"
	"github.com/lni/dragonboat/v4/logger"
	"golang.org/x/sync/errgroup"
)

var log = logger.GetLogger("persistence")

// --------------------------------------------------------------------------
// Manager
// --------------------------------------------------------------------------

type tier struct {
	store   Store
	cfg     Config
	enabled atomic.Bool
}

// StoreStatus is the public view of a configured tier.
type StoreStatus struct {
	Config
	Enabled bool `json:"enabled"`
}

// Manager orders the configured store tiers and exposes them asynchronously.
//
// Thread-safety: All methods are safe for concurrent use.
type Manager struct {
	tiers []*tier
	now   func() time.Time
}

// NewManager creates a manager over the given tiers. Tiers are consulted in
// the given order. The clock is used to decide whether a loaded entry is
// expired (nil = time.Now).
func NewManager(clock func() time.Time, stores ...Store) (*Manager, error) {
	if clock == nil {
		clock = time.Now
	}
	m := &Manager{now: clock}
	names := make(map[string]struct{}, len(stores))
	for _, s := range stores {
		cfg := s.Config()
		if _, dup := names[cfg.Name]; dup {
			return nil, Errorf(RetCInvalidOperation, "duplicate store name %q", cfg.Name)
		}
		names[cfg.Name] = struct{}{}

		t := &tier{store: s, cfg: cfg}
		t.enabled.Store(true)
		m.tiers = append(m.tiers, t)
		log.Infof("Registered store %s", cfg)
	}
	return m, nil
}

// enabledTiers returns the enabled tiers that are selected by pred.
func (m *Manager) enabledTiers(pred Predicate) []*tier {
	out := make([]*tier, 0, len(m.tiers))
	for _, t := range m.tiers {
		if t.enabled.Load() && (pred == nil || pred(t.cfg)) {
			out = append(out, t)
		}
	}
	return out
}

// IsEnabled returns true if at least one tier is enabled.
func (m *Manager) IsEnabled() bool {
	return len(m.enabledTiers(nil)) > 0
}

// Stores returns the status of all configured tiers in order.
func (m *Manager) Stores() []StoreStatus {
	out := make([]StoreStatus, len(m.tiers))
	for i, t := range m.tiers {
		out[i] = StoreStatus{Config: t.cfg, Enabled: t.enabled.Load()}
	}
	return out
}

// StoreNames returns the names of all configured tiers in order.
func (m *Manager) StoreNames() []string {
	out := make([]string, len(m.tiers))
	for i, t := range m.tiers {
		out[i] = t.cfg.Name
	}
	return out
}

// Store returns the tier with the given name.
func (m *Manager) Store(name string) (Store, error) {
	for _, t := range m.tiers {
		if t.cfg.Name == name {
			if !t.enabled.Load() {
				return nil, ErrStoreDisabled
			}
			return t.store, nil
		}
	}
	return nil, Errorf(RetCInvalidOperation, "unknown store %q", name)
}

// DisableStore disables the tier with the given name. A disabled tier is
// skipped by all operations and can not be enabled again.
func (m *Manager) DisableStore(name string) error {
	for _, t := range m.tiers {
		if t.cfg.Name == name {
			if t.enabled.CompareAndSwap(true, false) {
				log.Warningf("Store %s disabled", name)
			}
			return nil
		}
	}
	return Errorf(RetCInvalidOperation, "unknown store %q", name)
}

// --------------------------------------------------------------------------
// Point Operations
// --------------------------------------------------------------------------

// Load looks the key up in all enabled tiers (in order) on a new goroutine.
// The stage is completed with the first live entry found, or nil if no tier
// holds one. Expired entries count as absent unless includeExpired is set.
func (m *Manager) Load(ctx context.Context, key string, includeExpired bool) *async.Stage[*grid.InternalEntry] {
	tiers := m.enabledTiers(nil)
	if len(tiers) == 0 {
		return async.Completed[*grid.InternalEntry](nil)
	}
	return async.Go(func() (*grid.InternalEntry, error) {
		for _, t := range tiers {
			e, ok, err := t.store.Load(ctx, key)
			if err != nil {
				return nil, fmt.Errorf("load %q from store %s: %w", key, t.cfg.Name, err)
			}
			if !ok {
				continue
			}
			if !includeExpired && e.IsExpired(m.now()) {
				log.Debugf("Ignoring expired entry %s from store %s", key, t.cfg.Name)
				continue
			}
			return &e, nil
		}
		return nil, nil
	})
}

// Write writes the entry to all enabled tiers. A tier failure does not stop
// the remaining tiers, all failures are returned.
func (m *Manager) Write(ctx context.Context, e grid.InternalEntry) error {
	var errs []error
	for _, t := range m.enabledTiers(nil) {
		if err := t.store.Write(ctx, e); err != nil {
			errs = append(errs, fmt.Errorf("write %q to store %s: %w", e.Key, t.cfg.Name, err))
		}
	}
	return errors.Join(errs...)
}

// Delete removes the key from all enabled tiers and reports whether any tier held it.
func (m *Manager) Delete(ctx context.Context, key string) (bool, error) {
	var (
		existed bool
		errs    []error
	)
	for _, t := range m.enabledTiers(nil) {
		ok, err := t.store.Delete(ctx, key)
		if err != nil {
			errs = append(errs, fmt.Errorf("delete %q from store %s: %w", key, t.cfg.Name, err))
			continue
		}
		existed = existed || ok
	}
	return existed, errors.Join(errs...)
}

// Clear removes all entries from all enabled tiers.
func (m *Manager) Clear(ctx context.Context) error {
	var errs []error
	for _, t := range m.enabledTiers(nil) {
		if err := t.store.Clear(ctx); err != nil {
			errs = append(errs, fmt.Errorf("clear store %s: %w", t.cfg.Name, err))
		}
	}
	return errors.Join(errs...)
}

// Size returns the number of entries of the first enabled tier that is
// selected by pred, or -1 if no tier is selected.
func (m *Manager) Size(ctx context.Context, pred Predicate) (int64, error) {
	tiers := m.enabledTiers(pred)
	if len(tiers) == 0 {
		return -1, nil
	}
	n, err := tiers[0].store.Size(ctx)
	if err != nil {
		return -1, fmt.Errorf("size of store %s: %w", tiers[0].cfg.Name, err)
	}
	return n, nil
}

// --------------------------------------------------------------------------
// Enumeration
// --------------------------------------------------------------------------

// PublishKeys publishes the keys of all enabled tiers selected by mode that
// pass the filter. A key held by several tiers is published once.
func (m *Manager) PublishKeys(filter KeyFilter, mode AccessMode) cursor.Publisher[string] {
	return func(ctx context.Context, emit func(string) bool) error {
		tiers := m.enabledTiers(mode.matches)
		return publishDistinct(ctx, tiers, emit, func(k string) string { return k },
			func(t *tier) cursor.Publisher[string] { return t.store.PublishKeys(filter) })
	}
}

// PublishEntries publishes the entries of all enabled tiers selected by mode
// whose key passes the filter. A key held by several tiers is published once
// (the first tier wins). Expired entries are skipped unless includeExpired is set.
func (m *Manager) PublishEntries(filter KeyFilter, includeExpired bool, mode AccessMode) cursor.Publisher[grid.InternalEntry] {
	return func(ctx context.Context, emit func(grid.InternalEntry) bool) error {
		tiers := m.enabledTiers(mode.matches)
		return publishDistinct(ctx, tiers, emit, grid.EntryKey,
			func(t *tier) cursor.Publisher[grid.InternalEntry] {
				pub := t.store.PublishEntries(filter, includeExpired)
				if includeExpired {
					return pub
				}
				return cursor.FilterPublisher(pub, func(e grid.InternalEntry) bool {
					return !e.IsExpired(m.now())
				})
			})
	}
}

// publishDistinct subscribes to the publisher of every tier in order and
// forwards every element whose key was not forwarded before.
func publishDistinct[T any](ctx context.Context, tiers []*tier, emit func(T) bool, keyOf func(T) string, pubOf func(*tier) cursor.Publisher[T]) error {
	if len(tiers) == 1 {
		return pubOf(tiers[0])(ctx, emit)
	}

	seen := make(map[string]struct{})
	for _, t := range tiers {
		stopped := false
		err := pubOf(t)(ctx, func(v T) bool {
			k := keyOf(v)
			if _, dup := seen[k]; dup {
				return true
			}
			seen[k] = struct{}{}
			if !emit(v) {
				stopped = true
				return false
			}
			return true
		})
		if err != nil {
			return fmt.Errorf("publish from store %s: %w", t.cfg.Name, err)
		}
		if stopped {
			return nil
		}
	}
	return nil
}

// --------------------------------------------------------------------------
// Shutdown
// --------------------------------------------------------------------------

// Close closes all tiers (enabled or not) concurrently.
func (m *Manager) Close() error {
	var g errgroup.Group
	for _, t := range m.tiers {
		t := t
		g.Go(func() error {
			if err := t.store.Close(); err != nil {
				return fmt.Errorf("close store %s: %w", t.cfg.Name, err)
			}
			return nil
		})
	}
	return g.Wait()
}
