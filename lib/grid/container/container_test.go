package container

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ValentinKolb/dGrid/lib/cursor"
	"github.com/ValentinKolb/dGrid/lib/grid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct{ now atomic.Int64 }

func newFakeClock() *fakeClock {
	c := &fakeClock{}
	c.now.Store(time.Unix(1000, 0).UnixNano())
	return c
}

func (c *fakeClock) Now() time.Time           { return time.Unix(0, c.now.Load()) }
func (c *fakeClock) Advance(d time.Duration)  { c.now.Add(int64(d)) }
func (c *fakeClock) In(d time.Duration) int64 { return c.now.Load() + int64(d) }

func entry(key, value string) grid.InternalEntry {
	return grid.InternalEntry{Key: key, Value: []byte(value)}
}

func TestSegmentIsStable(t *testing.T) {
	c := New(&Options{NumSegments: 16})
	for i := 0; i < 100; i++ {
		key := fmt.Sprintf("key-%d", i)
		seg := c.Segment(key)
		assert.GreaterOrEqual(t, seg, 0)
		assert.Less(t, seg, 16)
		assert.Equal(t, seg, c.Segment(key))
	}
}

func TestPutPeekRemove(t *testing.T) {
	c := New(nil)

	_, ok := c.Peek("a")
	assert.False(t, ok)

	c.Put(c.Segment("a"), entry("a", "1"))
	c.Put(grid.NoSegment, entry("b", "2"))

	e, ok := c.Peek("a")
	require.True(t, ok)
	assert.Equal(t, []byte("1"), e.Value)
	assert.True(t, c.ContainsKey("b"))
	assert.Equal(t, 2, c.Size())

	removed, ok := c.Remove("a")
	require.True(t, ok)
	assert.Equal(t, "a", removed.Key)
	assert.False(t, c.ContainsKey("a"))

	_, ok = c.Evict("b")
	assert.True(t, ok)
	assert.Equal(t, 0, c.Size())
}

func TestPutIfAbsent(t *testing.T) {
	c := New(nil)
	actual, stored := c.PutIfAbsent(grid.NoSegment, entry("k", "first"))
	assert.True(t, stored)
	assert.Equal(t, []byte("first"), actual.Value)

	actual, stored = c.PutIfAbsent(grid.NoSegment, entry("k", "second"))
	assert.False(t, stored)
	assert.Equal(t, []byte("first"), actual.Value)
}

func TestForeignSegmentIsIgnored(t *testing.T) {
	c := New(&Options{NumSegments: 8})
	wrong := (c.Segment("a") + 1) % c.NumSegments()
	other := (c.Segment("b") + 3) % c.NumSegments()

	c.Put(wrong, entry("a", "1"))
	_, stored := c.PutIfAbsent(other, entry("b", "2"))
	require.True(t, stored)

	// a second write with the right segment replaces the first one
	c.Put(c.Segment("a"), entry("a", "3"))
	_, stored = c.PutIfAbsent(c.Segment("b"), entry("b", "4"))
	assert.False(t, stored)

	e, ok := c.Peek("a")
	require.True(t, ok)
	assert.Equal(t, []byte("3"), e.Value)

	inWrong, err := cursor.Collect(c.SegmentIterator(wrong))
	require.NoError(t, err)
	for _, e := range inWrong {
		assert.NotEqual(t, "a", e.Key)
	}

	keys, err := cursor.Collect(c.KeySet().Iterator())
	require.NoError(t, err)
	sort.Strings(keys)
	assert.Equal(t, []string{"a", "b"}, keys)

	_, ok = c.Remove("b")
	assert.True(t, ok)
	assert.False(t, c.ContainsKey("b"))
}

func TestExpiration(t *testing.T) {
	clock := newFakeClock()
	c := New(&Options{NumSegments: 4, Clock: clock.Now})

	c.Put(grid.NoSegment, grid.InternalEntry{Key: "ttl", Value: []byte("v"), Metadata: grid.Metadata{ExpireAt: clock.In(time.Second)}})
	c.Put(grid.NoSegment, entry("forever", "v"))
	assert.Equal(t, 2, c.Size())

	clock.Advance(2 * time.Second)
	assert.Equal(t, 1, c.Size())
	assert.Equal(t, 2, c.SizeIncludingExpired())
	assert.Equal(t, 1, c.Info().Expired)

	// an expired entry does not block PutIfAbsent
	_, stored := c.PutIfAbsent(grid.NoSegment, entry("ttl", "fresh"))
	assert.True(t, stored)

	c.Put(grid.NoSegment, grid.InternalEntry{Key: "ttl2", Value: []byte("v"), Metadata: grid.Metadata{ExpireAt: clock.In(time.Second)}})
	clock.Advance(2 * time.Second)
	assert.Equal(t, 1, c.ReapExpired())
	assert.Equal(t, 2, c.SizeIncludingExpired())

	// peek reaps lazily
	c.Put(grid.NoSegment, grid.InternalEntry{Key: "ttl3", Value: []byte("v"), Metadata: grid.Metadata{ExpireAt: clock.In(time.Second)}})
	clock.Advance(2 * time.Second)
	_, ok := c.Peek("ttl3")
	assert.False(t, ok)
	assert.Equal(t, 2, c.SizeIncludingExpired())
}

func TestCompute(t *testing.T) {
	c := New(nil)
	e, ok := c.Compute("n", func(old grid.InternalEntry, exists bool) (grid.InternalEntry, bool) {
		assert.False(t, exists)
		return grid.InternalEntry{Value: []byte("1")}, false
	})
	require.True(t, ok)
	assert.Equal(t, "n", e.Key)

	_, ok = c.Compute("n", func(old grid.InternalEntry, exists bool) (grid.InternalEntry, bool) {
		assert.True(t, exists)
		return old, true
	})
	assert.False(t, ok)
	assert.False(t, c.ContainsKey("n"))
}

func TestIteratorAndViews(t *testing.T) {
	c := New(&Options{NumSegments: 8})
	for i := 0; i < 50; i++ {
		c.Put(grid.NoSegment, entry(fmt.Sprintf("k%02d", i), "v"))
	}

	keys, err := cursor.Collect(c.KeySet().Iterator())
	require.NoError(t, err)
	sort.Strings(keys)
	require.Len(t, keys, 50)
	assert.Equal(t, "k00", keys[0])
	assert.Equal(t, "k49", keys[49])

	size, err := c.EntrySet().Size()
	require.NoError(t, err)
	assert.Equal(t, 50, size)

	ok, err := c.EntrySet().Contains(entry("k01", "v"))
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = c.EntrySet().Contains(entry("k01", "other"))
	require.NoError(t, err)
	assert.False(t, ok)

	total := 0
	for seg := 0; seg < c.NumSegments(); seg++ {
		n, err := cursor.Count(c.SegmentIterator(seg))
		require.NoError(t, err)
		total += int(n)
	}
	assert.Equal(t, 50, total)

	c.Clear()
	empty, err := c.KeySet().IsEmpty()
	require.NoError(t, err)
	assert.True(t, empty)
}

func TestConcurrentAccess(t *testing.T) {
	c := New(&Options{NumSegments: 8})
	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				key := fmt.Sprintf("w%d-%d", w, i)
				c.Put(grid.NoSegment, entry(key, "v"))
				_, _ = c.Peek(key)
			}
		}(w)
	}
	wg.Wait()
	assert.Equal(t, 1600, c.Size())
	assert.InDelta(t, 200.0, c.Info().Distribution.Mean, 0.001)
}

func TestBackgroundReaper(t *testing.T) {
	clock := newFakeClock()
	c := New(&Options{NumSegments: 2, Clock: clock.Now, ReapInterval: 5 * time.Millisecond})
	defer c.Close()

	c.Put(grid.NoSegment, grid.InternalEntry{Key: "x", Value: []byte("v"), Metadata: grid.Metadata{ExpireAt: clock.In(time.Second)}})
	clock.Advance(2 * time.Second)

	assert.Eventually(t, func() bool { return c.SizeIncludingExpired() == 0 }, time.Second, 5*time.Millisecond)
	require.NoError(t, c.Close())
}
