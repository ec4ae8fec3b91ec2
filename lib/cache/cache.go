package cache

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ValentinKolb/dGrid/lib/grid"
	"github.com/ValentinKolb/dGrid/lib/grid/container"
	"github.com/ValentinKolb/dGrid/lib/loader"
	"github.com/ValentinKolb/dGrid/lib/persistence"
	"github.com/lni/dragonboat/v4/logger"
)

var log = logger.GetLogger("cache")

// ErrNullValue is returned when a nil value is written. Use Remove instead.
var ErrNullValue = errors.New("cache: null values are not allowed")

// Options configures a Cache.
type Options struct {
	Passivation bool             // Entries reach the stores only on eviction
	GroupOf     grid.GroupFunc   // Group of a key (nil = grid.KeyGroup)
	Clock       func() time.Time // Time source for metadata (nil = time.Now)
}

// Cache is the cache of a grid node.
type Cache struct {
	opts        Options
	container   *container.Container
	persistence *persistence.Manager
	loader      *loader.Loader
}

var _ loader.Remover = (*Cache)(nil)

// New creates a cache and binds it to the loader.
func New(opts Options, c *container.Container, p *persistence.Manager, l *loader.Loader) *Cache {
	if opts.GroupOf == nil {
		opts.GroupOf = grid.KeyGroup
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	cache := &Cache{
		opts:        opts,
		container:   c,
		persistence: p,
		loader:      l,
	}
	l.Bind(cache)
	return cache
}

// Loader returns the read-through loader of the cache.
func (c *Cache) Loader() *loader.Loader {
	return c.loader
}

// --------------------------------------------------------------------------
// Pipeline
// --------------------------------------------------------------------------

// invoke wraps the affected keys of cmd into a new context and runs the
// command through the loader into the terminal operation.
func (c *Cache) invoke(ctx context.Context, cmd *grid.Command, terminal loader.Next) (any, error) {
	ictx := grid.NewInvocationContext()
	for _, key := range cmd.AffectedKeys() {
		c.wrap(ictx, key)
	}
	if cmd.Type == grid.CommandTGetKeysInGroup {
		it := c.container.Iterator()
		for it.Next() {
			if e := it.Value(); c.opts.GroupOf(e.Key) == cmd.GroupName {
				ictx.WrapExternalEntry(e)
			}
		}
		_ = it.Close()
	}
	return c.loader.Visit(ctx, ictx, cmd, terminal)
}

func (c *Cache) wrap(ictx *grid.InvocationContext, key string) {
	if ictx.LookupEntry(key) != nil {
		return
	}
	if ice, ok := c.container.Peek(key); ok {
		ictx.PutLookedUpEntry(key, grid.NewEntry(ice))
		return
	}
	ictx.PutLookedUpEntry(key, grid.NewNullEntry(key))
}

// store writes the entry to the container and (write-through) to the stores.
func (c *Cache) store(ctx context.Context, e grid.InternalEntry) error {
	c.container.Put(c.container.Segment(e.Key), e)
	if c.opts.Passivation {
		return nil
	}
	if err := c.persistence.Write(ctx, e); err != nil {
		return fmt.Errorf("write-through %s: %w", e.Key, err)
	}
	return nil
}

// delete removes the key from the container and from the stores.
func (c *Cache) delete(ctx context.Context, key string) (bool, error) {
	_, removed := c.container.Remove(key)
	deleted, err := c.persistence.Delete(ctx, key)
	if err != nil {
		return removed, fmt.Errorf("delete %s: %w", key, err)
	}
	return removed || deleted, nil
}

func (c *Cache) newEntry(key string, value []byte, prev *grid.Entry, lifespan time.Duration) grid.InternalEntry {
	now := c.opts.Clock()
	md := grid.Metadata{Version: 1, Created: now.UnixNano()}
	if prev != nil && !prev.IsNull() {
		md.Version = prev.Metadata.Version + 1
	}
	if lifespan > 0 {
		md.ExpireAt = now.Add(lifespan).UnixNano()
	}
	return grid.InternalEntry{Key: key, Value: value, Metadata: md}
}

func value(e *grid.Entry) []byte {
	if e == nil {
		return nil
	}
	return e.Value
}

// --------------------------------------------------------------------------
// Reads
// --------------------------------------------------------------------------

// Get returns the value of the key and whether it was found.
func (c *Cache) Get(ctx context.Context, key string, flags grid.Flag) ([]byte, bool, error) {
	rv, err := c.invoke(ctx, grid.NewKeyCommand(grid.CommandTGet, key, flags), func(_ context.Context, ictx *grid.InvocationContext, _ *grid.Command) (any, error) {
		return value(ictx.LookupEntry(key)), nil
	})
	if err != nil {
		return nil, false, err
	}
	v, _ := rv.([]byte)
	return v, v != nil, nil
}

// GetEntry returns the entry (value and metadata) of the key.
func (c *Cache) GetEntry(ctx context.Context, key string, flags grid.Flag) (grid.InternalEntry, bool, error) {
	rv, err := c.invoke(ctx, grid.NewKeyCommand(grid.CommandTGetEntry, key, flags), func(_ context.Context, ictx *grid.InvocationContext, _ *grid.Command) (any, error) {
		e := ictx.LookupEntry(key)
		if e == nil || e.IsNull() {
			return nil, nil
		}
		return e.ToInternal(), nil
	})
	if err != nil || rv == nil {
		return grid.InternalEntry{}, false, err
	}
	return rv.(grid.InternalEntry), true, nil
}

// GetAll returns the values of all keys that were found.
func (c *Cache) GetAll(ctx context.Context, keys []string, flags grid.Flag) (map[string][]byte, error) {
	rv, err := c.invoke(ctx, grid.NewManyCommand(grid.CommandTGetAll, keys, flags), func(_ context.Context, ictx *grid.InvocationContext, _ *grid.Command) (any, error) {
		out := make(map[string][]byte, len(keys))
		for _, key := range keys {
			if v := value(ictx.LookupEntry(key)); v != nil {
				out[key] = v
			}
		}
		return out, nil
	})
	if err != nil {
		return nil, err
	}
	return rv.(map[string][]byte), nil
}

// GetGroup returns all entries of the group, resident or stored.
func (c *Cache) GetGroup(ctx context.Context, group string, flags grid.Flag) (map[string][]byte, error) {
	rv, err := c.invoke(ctx, grid.NewGroupCommand(group, true, flags), func(_ context.Context, ictx *grid.InvocationContext, _ *grid.Command) (any, error) {
		out := make(map[string][]byte)
		ictx.ForEach(func(e *grid.Entry) bool {
			if !e.IsNull() && c.opts.GroupOf(e.Key) == group {
				out[e.Key] = e.Value
			}
			return true
		})
		return out, nil
	})
	if err != nil {
		return nil, err
	}
	return rv.(map[string][]byte), nil
}

// --------------------------------------------------------------------------
// Writes
// --------------------------------------------------------------------------

// Put writes the value and returns the previous value (nil if absent).
func (c *Cache) Put(ctx context.Context, key string, v []byte, flags grid.Flag) ([]byte, error) {
	return c.PutWithLifespan(ctx, key, v, 0, flags)
}

// PutWithLifespan writes a value that expires after the lifespan (0 = never).
func (c *Cache) PutWithLifespan(ctx context.Context, key string, v []byte, lifespan time.Duration, flags grid.Flag) ([]byte, error) {
	if v == nil {
		return nil, ErrNullValue
	}
	cmd := grid.NewKeyCommand(grid.CommandTPut, key, flags).WithValue(v).WithLoadType(grid.LoadTypePrimary)
	rv, err := c.invoke(ctx, cmd, func(ctx context.Context, ictx *grid.InvocationContext, _ *grid.Command) (any, error) {
		prev := ictx.LookupEntry(key)
		old := value(prev)
		if err := c.store(ctx, c.newEntry(key, v, prev, lifespan)); err != nil {
			return nil, err
		}
		return old, nil
	})
	if err != nil {
		return nil, err
	}
	old, _ := rv.([]byte)
	return old, nil
}

// Replace writes the value only if the key exists. It returns the previous
// value and whether the value was replaced.
func (c *Cache) Replace(ctx context.Context, key string, v []byte, flags grid.Flag) ([]byte, bool, error) {
	if v == nil {
		return nil, false, ErrNullValue
	}
	cmd := grid.NewKeyCommand(grid.CommandTReplace, key, flags).WithValue(v).WithLoadType(grid.LoadTypePrimary)
	rv, err := c.invoke(ctx, cmd, func(ctx context.Context, ictx *grid.InvocationContext, _ *grid.Command) (any, error) {
		prev := ictx.LookupEntry(key)
		old := value(prev)
		if old == nil {
			return nil, nil
		}
		return old, c.store(ctx, c.newEntry(key, v, prev, 0))
	})
	if err != nil {
		return nil, false, err
	}
	old, _ := rv.([]byte)
	return old, old != nil, nil
}

// Compute replaces the value with the result of fn. fn receives the
// current value (nil if absent), a nil result removes the key.
func (c *Cache) Compute(ctx context.Context, key string, fn func(old []byte) []byte, flags grid.Flag) ([]byte, error) {
	cmd := grid.NewKeyCommand(grid.CommandTCompute, key, flags).WithLoadType(grid.LoadTypePrimary)
	rv, err := c.invoke(ctx, cmd, func(ctx context.Context, ictx *grid.InvocationContext, _ *grid.Command) (any, error) {
		prev := ictx.LookupEntry(key)
		v := fn(value(prev))
		if v == nil {
			if _, err := c.delete(ctx, key); err != nil {
				return nil, err
			}
			return nil, nil
		}
		return v, c.store(ctx, c.newEntry(key, v, prev, 0))
	})
	if err != nil {
		return nil, err
	}
	v, _ := rv.([]byte)
	return v, nil
}

// ComputeIfAbsent returns the value of the key. If the key is absent it
// stores the result of fn, a nil result stores nothing.
func (c *Cache) ComputeIfAbsent(ctx context.Context, key string, fn func(key string) []byte, flags grid.Flag) ([]byte, error) {
	cmd := grid.NewKeyCommand(grid.CommandTComputeIfAbsent, key, flags).WithLoadType(grid.LoadTypePrimary)
	rv, err := c.invoke(ctx, cmd, func(ctx context.Context, ictx *grid.InvocationContext, _ *grid.Command) (any, error) {
		if old := value(ictx.LookupEntry(key)); old != nil {
			return old, nil
		}
		v := fn(key)
		if v == nil {
			return nil, nil
		}
		return v, c.store(ctx, c.newEntry(key, v, nil, 0))
	})
	if err != nil {
		return nil, err
	}
	v, _ := rv.([]byte)
	return v, nil
}

// Remove removes the key from memory and stores and reports whether it existed.
func (c *Cache) Remove(ctx context.Context, key string, flags grid.Flag) (bool, error) {
	rv, err := c.invoke(ctx, grid.NewKeyCommand(grid.CommandTRemove, key, flags), func(ctx context.Context, _ *grid.InvocationContext, _ *grid.Command) (any, error) {
		return c.delete(ctx, key)
	})
	if err != nil {
		return false, err
	}
	return rv.(bool), nil
}

// RemoveIfValue removes the key only if it currently maps to the value.
func (c *Cache) RemoveIfValue(ctx context.Context, key string, v []byte, flags grid.Flag) (bool, error) {
	cmd := grid.NewKeyCommand(grid.CommandTRemove, key, flags).WithValue(v).WithLoadType(grid.LoadTypePrimary)
	rv, err := c.invoke(ctx, cmd, func(ctx context.Context, ictx *grid.InvocationContext, _ *grid.Command) (any, error) {
		old := value(ictx.LookupEntry(key))
		if old == nil || !bytes.Equal(old, v) {
			return false, nil
		}
		if _, err := c.delete(ctx, key); err != nil {
			return false, err
		}
		return true, nil
	})
	if err != nil {
		return false, err
	}
	return rv.(bool), nil
}

// Invalidate drops the keys from memory. The stores are not touched.
func (c *Cache) Invalidate(ctx context.Context, keys []string, flags grid.Flag) error {
	_, err := c.invoke(ctx, grid.NewManyCommand(grid.CommandTInvalidate, keys, flags), func(context.Context, *grid.InvocationContext, *grid.Command) (any, error) {
		for _, key := range keys {
			c.container.Remove(key)
		}
		return nil, nil
	})
	return err
}

// Evict drops the key from memory. With passivation the entry is written
// to the stores first.
func (c *Cache) Evict(ctx context.Context, key string) (bool, error) {
	e, ok := c.container.Evict(key)
	if !ok {
		return false, nil
	}
	if c.opts.Passivation {
		if err := c.persistence.Write(ctx, e); err != nil {
			// keep the entry, it would be lost otherwise
			c.container.PutIfAbsent(grid.NoSegment, e)
			return false, fmt.Errorf("passivate %s: %w", key, err)
		}
		log.Debugf("Passivated %s", e)
	}
	return true, nil
}

// Clear removes every entry from memory and from the stores.
func (c *Cache) Clear(ctx context.Context) error {
	c.container.Clear()
	if err := c.persistence.Clear(ctx); err != nil {
		return fmt.Errorf("clear: %w", err)
	}
	log.Infof("Cleared the cache")
	return nil
}

// --------------------------------------------------------------------------
// Enumeration
// --------------------------------------------------------------------------

// KeySet returns a view over all keys in memory and in the stores.
func (c *Cache) KeySet(ctx context.Context, flags grid.Flag) (grid.CacheSet[string], error) {
	rv, err := c.invoke(ctx, grid.NewCommand(grid.CommandTKeySet, flags), func(context.Context, *grid.InvocationContext, *grid.Command) (any, error) {
		return c.container.KeySet(), nil
	})
	if err != nil {
		return nil, err
	}
	return rv.(grid.CacheSet[string]), nil
}

// EntrySet returns a view over all entries in memory and in the stores.
func (c *Cache) EntrySet(ctx context.Context, flags grid.Flag) (grid.CacheSet[grid.InternalEntry], error) {
	rv, err := c.invoke(ctx, grid.NewCommand(grid.CommandTEntrySet, flags), func(context.Context, *grid.InvocationContext, *grid.Command) (any, error) {
		return c.container.EntrySet(), nil
	})
	if err != nil {
		return nil, err
	}
	return rv.(grid.CacheSet[grid.InternalEntry]), nil
}

// Size returns the number of entries. A shared synchronous store answers
// directly, otherwise the merged key-set is counted.
func (c *Cache) Size(ctx context.Context, flags grid.Flag) (int, error) {
	rv, err := c.invoke(ctx, grid.NewCommand(grid.CommandTSize, flags), func(ctx context.Context, _ *grid.InvocationContext, cmd *grid.Command) (any, error) {
		keys, err := c.KeySet(ctx, cmd.Flags|grid.FlagSkipSizeOptimization)
		if err != nil {
			return nil, err
		}
		return keys.Size()
	})
	if err != nil {
		return 0, err
	}
	return rv.(int), nil
}
