package cache

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/ValentinKolb/dGrid/lib/cursor"
	"github.com/ValentinKolb/dGrid/lib/grid"
	"github.com/ValentinKolb/dGrid/lib/grid/container"
	"github.com/ValentinKolb/dGrid/lib/loader"
	"github.com/ValentinKolb/dGrid/lib/notify"
	"github.com/ValentinKolb/dGrid/lib/persistence"
	"github.com/ValentinKolb/dGrid/lib/persistence/memstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testCache struct {
	*Cache
	store     persistence.Store
	container *container.Container

	mu     sync.Mutex
	events []notify.Event
}

func newTestCache(t *testing.T, opts Options) *testCache {
	t.Helper()
	store := memstore.NewMemoryStore(&memstore.Options{Name: "mem"})
	manager, err := persistence.NewManager(nil, store)
	require.NoError(t, err)

	ctr := container.New(nil)
	notifier := notify.NewNotifier()
	ldr := loader.New(loader.Config{Passivation: opts.Passivation, Statistics: true}, manager, ctr, notifier)

	tc := &testCache{
		Cache:     New(opts, ctr, manager, ldr),
		store:     store,
		container: ctr,
	}
	notifier.AddListener(func(_ context.Context, ev notify.Event) error {
		tc.mu.Lock()
		tc.events = append(tc.events, ev)
		tc.mu.Unlock()
		return nil
	}, false)

	t.Cleanup(func() {
		notifier.Close()
		_ = manager.Close()
		_ = ctr.Close()
	})
	return tc
}

func (tc *testCache) stored(t *testing.T, key string) ([]byte, bool) {
	t.Helper()
	e, ok, err := tc.store.Load(context.Background(), key)
	require.NoError(t, err)
	return e.Value, ok
}

func (tc *testCache) seed(t *testing.T, kv ...string) {
	t.Helper()
	for i := 0; i+1 < len(kv); i += 2 {
		require.NoError(t, tc.store.Write(context.Background(), grid.InternalEntry{Key: kv[i], Value: []byte(kv[i+1])}))
	}
}

func TestReadThrough(t *testing.T) {
	ctx := context.Background()
	tc := newTestCache(t, Options{})
	tc.seed(t, "a", "42")

	v, found, err := tc.Get(ctx, "a", 0)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "42", string(v))
	assert.True(t, tc.container.ContainsKey("a"))

	_, found, err = tc.Get(ctx, "b", 0)
	require.NoError(t, err)
	assert.False(t, found)

	// the second read is served from memory
	_, _, err = tc.Get(ctx, "a", 0)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), tc.Loader().Stats().Loads())
	assert.Equal(t, uint64(1), tc.Loader().Stats().Misses())
}

func TestSkipCacheLoad(t *testing.T) {
	tc := newTestCache(t, Options{})
	tc.seed(t, "a", "42")

	_, found, err := tc.Get(context.Background(), "a", grid.FlagSkipCacheLoad)
	require.NoError(t, err)
	assert.False(t, found)
	assert.Equal(t, uint64(0), tc.Loader().Stats().Loads())
}

func TestGetEntry(t *testing.T) {
	ctx := context.Background()
	tc := newTestCache(t, Options{})

	_, err := tc.Put(ctx, "a", []byte("1"), 0)
	require.NoError(t, err)
	_, err = tc.Put(ctx, "a", []byte("2"), 0)
	require.NoError(t, err)

	e, found, err := tc.GetEntry(ctx, "a", 0)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "2", string(e.Value))
	assert.Equal(t, uint64(2), e.Metadata.Version)

	_, found, err = tc.GetEntry(ctx, "missing", 0)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestGetAll(t *testing.T) {
	tc := newTestCache(t, Options{})
	tc.seed(t, "a", "1", "b", "2")
	_, err := tc.Put(context.Background(), "c", []byte("3"), 0)
	require.NoError(t, err)

	values, err := tc.GetAll(context.Background(), []string{"a", "b", "c", "d"}, 0)
	require.NoError(t, err)
	assert.Equal(t, map[string][]byte{"a": []byte("1"), "b": []byte("2"), "c": []byte("3")}, values)
}

func TestWriteThrough(t *testing.T) {
	ctx := context.Background()
	tc := newTestCache(t, Options{})
	tc.seed(t, "a", "old")

	prev, err := tc.Put(ctx, "a", []byte("new"), 0)
	require.NoError(t, err)
	assert.Equal(t, "old", string(prev), "previous value is loaded")

	v, ok := tc.stored(t, "a")
	require.True(t, ok)
	assert.Equal(t, "new", string(v))

	_, err = tc.Put(ctx, "a", nil, 0)
	assert.ErrorIs(t, err, ErrNullValue)

	empty, err := tc.Put(ctx, "e", []byte{}, 0)
	require.NoError(t, err)
	assert.Nil(t, empty)
	v, found, err := tc.Get(ctx, "e", 0)
	require.NoError(t, err)
	assert.True(t, found, "an empty value is a value")
	assert.Empty(t, v)
}

func TestPassivation(t *testing.T) {
	ctx := context.Background()
	tc := newTestCache(t, Options{Passivation: true})

	_, err := tc.Put(ctx, "a", []byte("1"), 0)
	require.NoError(t, err)
	_, ok := tc.stored(t, "a")
	assert.False(t, ok, "passivation writes only on eviction")

	evicted, err := tc.Evict(ctx, "a")
	require.NoError(t, err)
	assert.True(t, evicted)
	assert.False(t, tc.container.ContainsKey("a"))
	v, ok := tc.stored(t, "a")
	require.True(t, ok)
	assert.Equal(t, "1", string(v))

	v, found, err := tc.Get(ctx, "a", 0)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "1", string(v))

	tc.mu.Lock()
	defer tc.mu.Unlock()
	require.Len(t, tc.events, 4)
	assert.Equal(t, notify.EventEntryLoaded, tc.events[0].Type)
	assert.True(t, tc.events[0].Pre)
	assert.Equal(t, notify.EventEntryActivated, tc.events[3].Type)
	assert.False(t, tc.events[3].Pre)

	evicted, err = tc.Evict(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, evicted)
}

func TestRemove(t *testing.T) {
	ctx := context.Background()
	tc := newTestCache(t, Options{})
	tc.seed(t, "stored", "1")
	_, err := tc.Put(ctx, "resident", []byte("2"), 0)
	require.NoError(t, err)

	for _, key := range []string{"stored", "resident"} {
		removed, err := tc.Remove(ctx, key, 0)
		require.NoError(t, err)
		assert.True(t, removed, key)
		_, ok := tc.stored(t, key)
		assert.False(t, ok, key)
	}

	removed, err := tc.Remove(ctx, "missing", 0)
	require.NoError(t, err)
	assert.False(t, removed)
}

func TestRemoveIfValue(t *testing.T) {
	ctx := context.Background()
	tc := newTestCache(t, Options{})
	tc.seed(t, "a", "1")

	removed, err := tc.RemoveIfValue(ctx, "a", []byte("2"), 0)
	require.NoError(t, err)
	assert.False(t, removed)

	removed, err = tc.RemoveIfValue(ctx, "a", []byte("1"), 0)
	require.NoError(t, err)
	assert.True(t, removed)

	_, found, err := tc.Get(ctx, "a", 0)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestReplace(t *testing.T) {
	ctx := context.Background()
	tc := newTestCache(t, Options{})

	_, replaced, err := tc.Replace(ctx, "a", []byte("x"), 0)
	require.NoError(t, err)
	assert.False(t, replaced)
	assert.False(t, tc.container.ContainsKey("a"))

	tc.seed(t, "a", "1")
	prev, replaced, err := tc.Replace(ctx, "a", []byte("2"), 0)
	require.NoError(t, err)
	assert.True(t, replaced)
	assert.Equal(t, "1", string(prev))
	v, _ := tc.stored(t, "a")
	assert.Equal(t, "2", string(v))
}

func TestCompute(t *testing.T) {
	ctx := context.Background()
	tc := newTestCache(t, Options{})
	tc.seed(t, "n", "a")

	v, err := tc.Compute(ctx, "n", func(old []byte) []byte { return append(old, 'b') }, 0)
	require.NoError(t, err)
	assert.Equal(t, "ab", string(v))

	v, err = tc.Compute(ctx, "n", func([]byte) []byte { return nil }, 0)
	require.NoError(t, err)
	assert.Nil(t, v)
	_, ok := tc.stored(t, "n")
	assert.False(t, ok)
}

func TestComputeIfAbsent(t *testing.T) {
	ctx := context.Background()
	tc := newTestCache(t, Options{})
	tc.seed(t, "a", "stored")

	calls := 0
	fn := func(key string) []byte {
		calls++
		return []byte("computed-" + key)
	}

	v, err := tc.ComputeIfAbsent(ctx, "a", fn, 0)
	require.NoError(t, err)
	assert.Equal(t, "stored", string(v))
	assert.Equal(t, 0, calls)

	v, err = tc.ComputeIfAbsent(ctx, "b", fn, 0)
	require.NoError(t, err)
	assert.Equal(t, "computed-b", string(v))
	assert.Equal(t, 1, calls)

	v, err = tc.ComputeIfAbsent(ctx, "c", func(string) []byte { return nil }, 0)
	require.NoError(t, err)
	assert.Nil(t, v)
	assert.False(t, tc.container.ContainsKey("c"))
}

func TestInvalidate(t *testing.T) {
	ctx := context.Background()
	tc := newTestCache(t, Options{})
	_, err := tc.Put(ctx, "a", []byte("1"), 0)
	require.NoError(t, err)

	require.NoError(t, tc.Invalidate(ctx, []string{"a"}, 0))
	assert.False(t, tc.container.ContainsKey("a"))
	_, ok := tc.stored(t, "a")
	assert.True(t, ok)

	v, found, err := tc.Get(ctx, "a", 0)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "1", string(v))
	assert.Equal(t, uint64(1), tc.Loader().Stats().Loads())
}

func TestLifespan(t *testing.T) {
	ctx := context.Background()
	now := time.Now().Truncate(time.Second)
	tc := newTestCache(t, Options{Clock: func() time.Time { return now }})

	_, err := tc.PutWithLifespan(ctx, "a", []byte("1"), time.Minute, 0)
	require.NoError(t, err)
	e, found, err := tc.GetEntry(ctx, "a", 0)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, now.Add(time.Minute).UnixNano(), e.Metadata.ExpireAt)
}

func TestGetGroup(t *testing.T) {
	ctx := context.Background()
	tc := newTestCache(t, Options{})
	tc.seed(t, "user#1", "alice", "user#2", "bob", "order#1", "x")
	_, err := tc.Put(ctx, "user#3", []byte("carol"), 0)
	require.NoError(t, err)

	members, err := tc.GetGroup(ctx, "user", 0)
	require.NoError(t, err)
	assert.Equal(t, map[string][]byte{
		"user#1": []byte("alice"),
		"user#2": []byte("bob"),
		"user#3": []byte("carol"),
	}, members)

	members, err = tc.GetGroup(ctx, "user", grid.FlagSkipCacheLoad)
	require.NoError(t, err)
	assert.Equal(t, map[string][]byte{"user#3": []byte("carol")}, members)
}

func TestEnumeration(t *testing.T) {
	ctx := context.Background()
	tc := newTestCache(t, Options{})
	tc.seed(t, "a", "1", "b", "2")
	_, err := tc.Put(ctx, "c", []byte("3"), 0)
	require.NoError(t, err)

	keys, err := tc.KeySet(ctx, 0)
	require.NoError(t, err)
	all, err := cursor.Collect(keys.Iterator())
	require.NoError(t, err)
	sort.Strings(all)
	assert.Equal(t, []string{"a", "b", "c"}, all)

	n, err := tc.Size(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	local, err := tc.Size(ctx, grid.FlagSkipCacheLoad)
	require.NoError(t, err)
	assert.Equal(t, 1, local)

	// removal through an iterator passes the cache
	entries, err := tc.EntrySet(ctx, 0)
	require.NoError(t, err)
	it := entries.Iterator().(cursor.RemovableIterator[grid.InternalEntry])
	for it.Next() {
		if it.Value().Key == "a" {
			require.NoError(t, it.Remove())
		}
	}
	require.NoError(t, it.Close())
	_, ok := tc.stored(t, "a")
	assert.False(t, ok)

	n, err = tc.Size(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	require.NoError(t, keys.(interface{ Clear() error }).Clear())
	empty, err := keys.IsEmpty()
	require.NoError(t, err)
	assert.True(t, empty)
}
