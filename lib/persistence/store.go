package persistence

import (
	"context"
	"fmt"

	"github.com/ValentinKolb/dGrid/lib/cursor"
	"github.com/ValentinKolb/dGrid/lib/grid"
)

// --------------------------------------------------------------------------
// Store Configuration
// --------------------------------------------------------------------------

// Config describes a store tier.
type Config struct {
	Name   string `json:"name"`   // Unique name of the tier
	Shared bool   `json:"shared"` // The tier holds the data of the whole cluster
	Async  bool   `json:"async"`  // Writes reach the tier in the background (write-behind)
}

func (c Config) String() string {
	return fmt.Sprintf("%s{shared=%t, async=%t}", c.Name, c.Shared, c.Async)
}

// Predicate selects store tiers by their configuration.
type Predicate func(Config) bool

var (
	// Shared selects tiers that hold the data of the whole cluster.
	Shared Predicate = func(c Config) bool { return c.Shared }
	// NotAsync selects tiers that are written synchronously.
	NotAsync Predicate = func(c Config) bool { return !c.Async }
	// Any selects every tier.
	Any Predicate = func(Config) bool { return true }
)

// And combines predicates, a tier must satisfy all of them.
func And(preds ...Predicate) Predicate {
	return func(c Config) bool {
		for _, p := range preds {
			if !p(c) {
				return false
			}
		}
		return true
	}
}

// AccessMode selects tiers for enumeration by their locality.
type AccessMode uint8

const (
	AccessBoth    AccessMode = iota // shared and private tiers
	AccessShared                    // only shared tiers
	AccessPrivate                   // only private tiers
)

func (m AccessMode) String() string {
	switch m {
	case AccessBoth:
		return "BOTH"
	case AccessShared:
		return "SHARED"
	case AccessPrivate:
		return "PRIVATE"
	default:
		return "Unknown"
	}
}

// matches returns whether a tier with the given config is selected by the mode.
func (m AccessMode) matches(c Config) bool {
	switch m {
	case AccessShared:
		return c.Shared
	case AccessPrivate:
		return !c.Shared
	default:
		return true
	}
}

// --------------------------------------------------------------------------
// Store Interface
// --------------------------------------------------------------------------

// KeyFilter selects keys. A nil filter selects every key.
type KeyFilter func(key string) bool

// StoreFactory creates a store tier.
type StoreFactory func() (Store, error)

// Store is a single persistent tier.
//
// All methods must be safe for concurrent use. Publishers call emit on the
// subscribing goroutine, honor the context they are subscribed with and stop
// as soon as emit returns false.
type Store interface {
	// Config returns the configuration of the tier.
	Config() Config
	// Load returns the entry of a key. Expired entries may be returned, the
	// caller decides whether to use them. The boolean is false if the tier
	// has no entry for the key.
	Load(ctx context.Context, key string) (grid.InternalEntry, bool, error)
	// Write inserts or replaces an entry.
	Write(ctx context.Context, e grid.InternalEntry) error
	// Delete removes the entry of a key and reports whether one existed.
	Delete(ctx context.Context, key string) (bool, error)
	// PublishKeys publishes the keys of all live entries that pass the filter.
	PublishKeys(filter KeyFilter) cursor.Publisher[string]
	// PublishEntries publishes all entries whose key passes the filter.
	// Expired entries are only published if includeExpired is set.
	PublishEntries(filter KeyFilter, includeExpired bool) cursor.Publisher[grid.InternalEntry]
	// Size returns the number of live entries.
	Size(ctx context.Context) (int64, error)
	// Clear removes all entries.
	Clear(ctx context.Context) error
	// Close releases the resources of the tier.
	Close() error
}

// Accept applies a possibly nil filter.
func (f KeyFilter) Accept(key string) bool {
	return f == nil || f(key)
}
