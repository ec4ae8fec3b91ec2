package loader

import (
	"context"
	"errors"
	"fmt"

	"github.com/ValentinKolb/dGrid/lib/async"
	"github.com/ValentinKolb/dGrid/lib/cursor"
	"github.com/ValentinKolb/dGrid/lib/grid"
	"github.com/ValentinKolb/dGrid/lib/persistence"
	"github.com/lni/dragonboat/v4/logger"
)

var log = logger.GetLogger("loader")

// ErrNoCache is returned by view operations that need the owning cache
// (remove, clear) when no cache was bound to the loader.
var ErrNoCache = errors.New("loader: no cache bound")

// --------------------------------------------------------------------------
// Collaborators
// --------------------------------------------------------------------------

// Persistence is the store side of the loader (implemented by *persistence.Manager).
type Persistence interface {
	Load(ctx context.Context, key string, includeExpired bool) *async.Stage[*grid.InternalEntry]
	PublishKeys(filter persistence.KeyFilter, mode persistence.AccessMode) cursor.Publisher[string]
	PublishEntries(filter persistence.KeyFilter, includeExpired bool, mode persistence.AccessMode) cursor.Publisher[grid.InternalEntry]
	Size(ctx context.Context, pred persistence.Predicate) (int64, error)
	Stores() []persistence.StoreStatus
	DisableStore(name string) error
	IsEnabled() bool
}

// DataContainer is the in-memory side of the loader (implemented by *container.Container).
type DataContainer interface {
	Segment(key string) int
	Peek(key string) (grid.InternalEntry, bool)
	PutIfAbsent(seg int, e grid.InternalEntry) (grid.InternalEntry, bool)
	SizeIncludingExpired() int
}

// Notifier delivers the lifecycle events (implemented by *notify.Notifier).
type Notifier interface {
	NotifyEntryLoaded(ctx context.Context, ictx *grid.InvocationContext, cmd *grid.Command, key string, value []byte, md grid.Metadata, pre bool) *async.Stage[async.Void]
	NotifyEntryActivated(ctx context.Context, ictx *grid.InvocationContext, cmd *grid.Command, key string, value []byte, md grid.Metadata, pre bool) *async.Stage[async.Void]
}

// Remover is the owning cache. Removals and clears issued through the
// enumeration views are executed as regular cache operations.
type Remover interface {
	Remove(ctx context.Context, key string, flags grid.Flag) (bool, error)
	RemoveIfValue(ctx context.Context, key string, value []byte, flags grid.Flag) (bool, error)
	Clear(ctx context.Context) error
}

// Next continues the pipeline after the loader and returns the command's result.
type Next func(ctx context.Context, ictx *grid.InvocationContext, cmd *grid.Command) (any, error)

// --------------------------------------------------------------------------
// Loader
// --------------------------------------------------------------------------

// Config configures a Loader.
type Config struct {
	Passivation bool              // The stores are an overflow tier, fire activation events
	Statistics  bool              // Record load statistics
	Prefetch    int               // Buffer between store publishers and view iterators (0 = cursor.DefaultPrefetch)
	Parallelism int               // Workers of ForEachParallel (0 = GOMAXPROCS)
	CanLoad     func(string) bool // Ownership predicate (nil = every key can be loaded)
	GroupOf     grid.GroupFunc    // Group of a key (nil = grid.KeyGroup)
}

// Loader is the read-through loader of a cache.
//
// Thread-safety: A Loader is safe for concurrent use by any number of operations.
type Loader struct {
	cfg         Config
	persistence Persistence
	container   DataContainer
	notifier    Notifier
	stats       *Stats
	cache       Remover
}

// New creates a loader. notifier may be nil, then no events are fired.
func New(cfg Config, p Persistence, c DataContainer, n Notifier) *Loader {
	if cfg.Prefetch <= 0 {
		cfg.Prefetch = cursor.DefaultPrefetch
	}
	if cfg.GroupOf == nil {
		cfg.GroupOf = grid.KeyGroup
	}
	return &Loader{
		cfg:         cfg,
		persistence: p,
		container:   c,
		notifier:    n,
		stats:       NewStats(cfg.Statistics),
	}
}

// Bind sets the cache the enumeration views delegate removals to.
// It must be called before the loader handles its first command.
func (l *Loader) Bind(cache Remover) {
	l.cache = cache
}

// Stats returns the statistics of the loader.
func (l *Loader) Stats() *Stats {
	return l.stats
}

// Stores returns the configured store tiers, or nil if persistence is disabled.
func (l *Loader) Stores() []persistence.StoreStatus {
	if !l.persistence.IsEnabled() {
		return nil
	}
	return l.persistence.Stores()
}

// DisableStore disables the store tier with the given name.
func (l *Loader) DisableStore(name string) error {
	if err := l.persistence.DisableStore(name); err != nil {
		return err
	}
	log.Infof("Disabled store %s", name)
	return nil
}

func (l *Loader) canLoad(key string) bool {
	return l.cfg.CanLoad == nil || l.cfg.CanLoad(key)
}

// --------------------------------------------------------------------------
// Dispatch
// --------------------------------------------------------------------------

// VisitAsync starts all loads the command needs and returns the stage the
// pipeline has to wait for before it continues. A nil stage means nothing
// was loaded. Enumeration and size commands never load and return nil.
//
// The group strategy blocks until the group members were drained from the
// store, a failure is returned as a failed stage.
func (l *Loader) VisitAsync(ctx context.Context, ictx *grid.InvocationContext, cmd *grid.Command) *async.Stage[async.Void] {
	switch cmd.Type.Strategy() {
	case grid.StrategySingleKey:
		return l.LoadIfNeeded(ctx, ictx, cmd.Key, cmd)
	case grid.StrategyManyKeys:
		return l.loadAll(ctx, ictx, cmd.Keys, cmd)
	case grid.StrategyGroup:
		if err := l.loadGroup(ctx, ictx, cmd); err != nil {
			return async.Failed[async.Void](err)
		}
		return nil
	default:
		return nil
	}
}

// Visit handles the command and calls next once every load completed.
//
// Key-set and entry-set results of next are wrapped into LoaderSets, size
// commands are answered from an authoritative store count when possible.
func (l *Loader) Visit(ctx context.Context, ictx *grid.InvocationContext, cmd *grid.Command, next Next) (any, error) {
	switch cmd.Type.Strategy() {
	case grid.StrategyKeySet:
		return l.visitKeySet(ctx, ictx, cmd, next)
	case grid.StrategyEntrySet:
		return l.visitEntrySet(ctx, ictx, cmd, next)
	case grid.StrategySize:
		n, err := l.trySizeOptimization(ctx, cmd.Flags)
		if err != nil {
			return nil, err
		}
		if n >= 0 {
			return clampSize(n), nil
		}
		return next(ctx, ictx, cmd)
	}

	if stage := l.VisitAsync(ctx, ictx, cmd); stage != nil {
		if _, err := stage.Await(ctx); err != nil {
			return nil, fmt.Errorf("%s: %w", cmd.Type, err)
		}
	}
	return next(ctx, ictx, cmd)
}

func (l *Loader) visitKeySet(ctx context.Context, ictx *grid.InvocationContext, cmd *grid.Command, next Next) (any, error) {
	// the views below the loader never need removable iterators
	remote := cmd.HasAnyFlag(grid.FlagRemoteIteration)
	cmd.AddFlags(grid.FlagRemoteIteration)

	rv, err := next(ctx, ictx, cmd)
	if err != nil || cmd.HasAnyFlag(grid.FlagSkipCacheLoad) {
		return rv, err
	}
	inner, ok := rv.(grid.CacheSet[string])
	if !ok {
		return nil, fmt.Errorf("%s: unexpected result type %T", cmd.Type, rv)
	}
	return l.WrapKeySet(ctx, cmd, remote, inner), nil
}

func (l *Loader) visitEntrySet(ctx context.Context, ictx *grid.InvocationContext, cmd *grid.Command, next Next) (any, error) {
	remote := cmd.HasAnyFlag(grid.FlagRemoteIteration)
	cmd.AddFlags(grid.FlagRemoteIteration)

	rv, err := next(ctx, ictx, cmd)
	if err != nil || cmd.HasAnyFlag(grid.FlagSkipCacheLoad) {
		return rv, err
	}
	inner, ok := rv.(grid.CacheSet[grid.InternalEntry])
	if !ok {
		return nil, fmt.Errorf("%s: unexpected result type %T", cmd.Type, rv)
	}
	return l.WrapEntrySet(ctx, cmd, remote, inner), nil
}
