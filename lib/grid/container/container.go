// Package container implements the in-memory data container of a grid node.
//
// The container partitions the key space into a fixed number of segments.
// Every segment is an independent lock-free hash map, the segment of a key is
// derived from a seeded FNV-1a hash (see Segment). The segment id doubles as
// the unit of placement that commands carry through the pipeline.
//
// Expiration is driven by the wall clock: an entry whose Metadata.ExpireAt is
// reached is invisible to every read and is removed lazily on access or by the
// optional background reaper.
package container

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/dGrid/lib/cursor"
	"github.com/ValentinKolb/dGrid/lib/grid"
	"github.com/puzpuzpuz/xsync/v3"
)

// --------------------------------------------------------------------------
// Options
// --------------------------------------------------------------------------

// Options configures a container.
type Options struct {
	NumSegments  int              // Number of segments (0 = default of 256)
	ReapInterval time.Duration    // Interval of the background reaper (0 = no background reaper)
	Clock        func() time.Time // Time source for expiration (nil = time.Now)
}

const defaultNumSegments = 256

// DefaultOptions returns the default container options.
func DefaultOptions() *Options {
	return &Options{NumSegments: defaultNumSegments}
}

// --------------------------------------------------------------------------
// Container
// --------------------------------------------------------------------------

type segment = xsync.MapOf[string, grid.InternalEntry]

// Container is the segmented in-memory data container.
//
// Thread-safety: All methods are safe for concurrent use. Iterators are
// weakly consistent, they reflect every entry that existed when the
// iteration reached its segment.
type Container struct {
	seed     uint64
	segments []*segment
	now      func() time.Time

	reaping  atomic.Bool
	stopReap chan struct{}
	reapDone sync.WaitGroup
}

// New creates a new container with the given options (optional).
func New(opts *Options) *Container {
	if opts == nil {
		opts = DefaultOptions()
	}
	n := opts.NumSegments
	if n <= 0 {
		n = defaultNumSegments
	}
	now := opts.Clock
	if now == nil {
		now = time.Now
	}

	c := &Container{
		seed:     newSeed(),
		segments: make([]*segment, n),
		now:      now,
	}
	for i := range c.segments {
		c.segments[i] = xsync.NewMapOf[string, grid.InternalEntry]()
	}

	if opts.ReapInterval > 0 {
		c.startReaper(opts.ReapInterval)
	}
	return c
}

// NumSegments returns the number of segments.
func (c *Container) NumSegments() int {
	return len(c.segments)
}

// Segment returns the segment of a key.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (c *Container) Segment(key string) int {
	return segmentOf(hashKey(key, c.seed), len(c.segments))
}

// segmentFor returns the map of the segment that owns key. The given
// segment is only a hint: grid.NoSegment or a segment that does not own
// the key is replaced by the key's segment.
func (c *Container) segmentFor(seg int, key string) *segment {
	if owner := c.Segment(key); seg != owner {
		seg = owner
	}
	return c.segments[seg]
}

// --------------------------------------------------------------------------
// Read Operations
// --------------------------------------------------------------------------

// Peek returns the entry of a key without touching any statistics.
// An expired entry is removed and reported as absent.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (c *Container) Peek(key string) (grid.InternalEntry, bool) {
	seg := c.segmentFor(grid.NoSegment, key)
	e, ok := seg.Load(key)
	if !ok {
		return grid.InternalEntry{}, false
	}
	if e.IsExpired(c.now()) {
		c.reap(seg, key)
		return grid.InternalEntry{}, false
	}
	return e, true
}

// ContainsKey returns whether a non-expired entry exists for the key.
func (c *Container) ContainsKey(key string) bool {
	_, ok := c.Peek(key)
	return ok
}

// reap removes the entry of key from seg if it is (still) expired.
func (c *Container) reap(seg *segment, key string) {
	now := c.now()
	seg.Compute(key, func(old grid.InternalEntry, loaded bool) (grid.InternalEntry, bool) {
		return old, !loaded || old.IsExpired(now)
	})
}

// --------------------------------------------------------------------------
// Write Operations
// --------------------------------------------------------------------------

// Put stores the entry in the segment of its key, overwriting any previous
// entry. seg is a hint, see segmentFor.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (c *Container) Put(seg int, e grid.InternalEntry) {
	c.segmentFor(seg, e.Key).Store(e.Key, e)
}

// PutIfAbsent stores the entry only if no live entry exists for its key.
// It returns the entry that is resident afterward and whether e was stored.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (c *Container) PutIfAbsent(seg int, e grid.InternalEntry) (grid.InternalEntry, bool) {
	now := c.now()
	stored := false
	actual, _ := c.segmentFor(seg, e.Key).Compute(e.Key, func(old grid.InternalEntry, loaded bool) (grid.InternalEntry, bool) {
		if loaded && !old.IsExpired(now) {
			return old, false
		}
		stored = true
		return e, false
	})
	return actual, stored
}

// Compute atomically replaces the entry of a key with the result of fn.
// fn receives the live entry (expired entries count as absent) and returns
// the new entry and whether the key should be removed instead.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
// fn must not call back into the container.
func (c *Container) Compute(key string, fn func(old grid.InternalEntry, exists bool) (grid.InternalEntry, bool)) (grid.InternalEntry, bool) {
	now := c.now()
	return c.segmentFor(grid.NoSegment, key).Compute(key, func(old grid.InternalEntry, loaded bool) (grid.InternalEntry, bool) {
		exists := loaded && !old.IsExpired(now)
		if !exists {
			old = grid.InternalEntry{}
		}
		e, del := fn(old, exists)
		if del {
			return old, true
		}
		e.Key = key
		return e, false
	})
}

// Remove removes the entry of a key and returns it (if it was live).
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (c *Container) Remove(key string) (grid.InternalEntry, bool) {
	e, ok := c.segmentFor(grid.NoSegment, key).LoadAndDelete(key)
	if !ok || e.IsExpired(c.now()) {
		return grid.InternalEntry{}, false
	}
	return e, true
}

// Evict drops the entry of a key from memory. Unlike a removal by the cache
// an eviction never reaches the stores.
func (c *Container) Evict(key string) (grid.InternalEntry, bool) {
	return c.Remove(key)
}

// Clear removes all entries.
func (c *Container) Clear() {
	for _, seg := range c.segments {
		seg.Clear()
	}
}

// --------------------------------------------------------------------------
// Size and Enumeration
// --------------------------------------------------------------------------

// Size returns the number of live entries. Expired entries are skipped but
// not reaped.
func (c *Container) Size() int {
	now := c.now()
	n := 0
	for _, seg := range c.segments {
		seg.Range(func(_ string, e grid.InternalEntry) bool {
			if !e.IsExpired(now) {
				n++
			}
			return true
		})
	}
	return n
}

// SizeIncludingExpired returns the number of entries including expired
// entries that were not reaped yet. It does not iterate.
func (c *Container) SizeIncludingExpired() int {
	n := 0
	for _, seg := range c.segments {
		n += seg.Size()
	}
	return n
}

// Iterator returns a weakly consistent iterator over all live entries.
// Segments are visited in order, every segment is snapshotted when the
// iteration reaches it.
func (c *Container) Iterator() cursor.Iterator[grid.InternalEntry] {
	return &containerIterator{c: c, seg: -1}
}

// SegmentIterator returns an iterator over the live entries of one segment.
func (c *Container) SegmentIterator(seg int) cursor.Iterator[grid.InternalEntry] {
	if seg < 0 || seg >= len(c.segments) {
		return cursor.Empty[grid.InternalEntry]()
	}
	return cursor.FromSlice(c.snapshot(seg))
}

func (c *Container) snapshot(seg int) []grid.InternalEntry {
	now := c.now()
	out := make([]grid.InternalEntry, 0, c.segments[seg].Size())
	c.segments[seg].Range(func(_ string, e grid.InternalEntry) bool {
		if !e.IsExpired(now) {
			out = append(out, e)
		}
		return true
	})
	return out
}

type containerIterator struct {
	c      *Container
	seg    int
	buf    []grid.InternalEntry
	pos    int
	cur    grid.InternalEntry
	closed bool
}

func (it *containerIterator) Next() bool {
	if it.closed {
		return false
	}
	for it.pos >= len(it.buf) {
		it.seg++
		if it.seg >= len(it.c.segments) {
			it.buf = nil
			return false
		}
		it.buf = it.c.snapshot(it.seg)
		it.pos = 0
	}
	it.cur = it.buf[it.pos]
	it.pos++
	return true
}

func (it *containerIterator) Value() grid.InternalEntry { return it.cur }
func (it *containerIterator) Err() error                { return nil }
func (it *containerIterator) Close() error {
	it.closed = true
	it.buf = nil
	return nil
}

// --------------------------------------------------------------------------
// Reaper
// --------------------------------------------------------------------------

// ReapExpired removes every expired entry and returns the number of removed entries.
func (c *Container) ReapExpired() int {
	now := c.now()
	removed := 0
	for _, seg := range c.segments {
		var expired []string
		seg.Range(func(key string, e grid.InternalEntry) bool {
			if e.IsExpired(now) {
				expired = append(expired, key)
			}
			return true
		})
		for _, key := range expired {
			seg.Compute(key, func(old grid.InternalEntry, loaded bool) (grid.InternalEntry, bool) {
				del := !loaded || old.IsExpired(now)
				if loaded && del {
					removed++
				}
				return old, del
			})
		}
	}
	return removed
}

// startReaper starts the background reaper. It does nothing if the reaper
// is already running.
func (c *Container) startReaper(interval time.Duration) {
	if !c.reaping.CompareAndSwap(false, true) {
		return
	}
	c.stopReap = make(chan struct{})
	c.reapDone.Add(1)
	go func() {
		defer c.reapDone.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				c.ReapExpired()
			case <-c.stopReap:
				return
			}
		}
	}()
}

// Close stops the background reaper. The container stays usable.
func (c *Container) Close() error {
	if c.reaping.CompareAndSwap(true, false) {
		close(c.stopReap)
		c.reapDone.Wait()
	}
	return nil
}

// --------------------------------------------------------------------------
// Info
// --------------------------------------------------------------------------

// Info returns statistics about the container.
func (c *Container) Info() Info {
	now := c.now()
	info := Info{Segments: len(c.segments)}
	sizes := make([]float64, len(c.segments))
	for i, seg := range c.segments {
		n := 0
		seg.Range(func(_ string, e grid.InternalEntry) bool {
			n++
			info.ValueBytes += int64(len(e.Value))
			if e.IsExpired(now) {
				info.Expired++
			}
			return true
		})
		sizes[i] = float64(n)
		info.Entries += n
	}
	info.Distribution = newSegmentSpread(sizes)
	return info
}
