package persistence_test

import (
	"context"
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/ValentinKolb/dGrid/lib/cursor"
	"github.com/ValentinKolb/dGrid/lib/grid"
	"github.com/ValentinKolb/dGrid/lib/persistence"
	"github.com/ValentinKolb/dGrid/lib/persistence/memstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func write(t *testing.T, s persistence.Store, kv ...string) {
	t.Helper()
	for i := 0; i+1 < len(kv); i += 2 {
		require.NoError(t, s.Write(context.Background(), grid.InternalEntry{Key: kv[i], Value: []byte(kv[i+1])}))
	}
}

type failingStore struct {
	persistence.Store
	err error
}

func (f failingStore) Load(context.Context, string) (grid.InternalEntry, bool, error) {
	return grid.InternalEntry{}, false, f.err
}

func (f failingStore) PublishKeys(persistence.KeyFilter) cursor.Publisher[string] {
	return func(context.Context, func(string) bool) error { return f.err }
}

func TestManagerLoad(t *testing.T) {
	ctx := context.Background()
	first := memstore.NewMemoryStore(&memstore.Options{Name: "first"})
	second := memstore.NewMemoryStore(&memstore.Options{Name: "second", Shared: true})
	write(t, first, "a", "from-first")
	write(t, second, "a", "from-second", "b", "only-second")

	m, err := persistence.NewManager(nil, first, second)
	require.NoError(t, err)

	e, err := m.Load(ctx, "a", false).Await(ctx)
	require.NoError(t, err)
	require.NotNil(t, e)
	assert.Equal(t, "from-first", string(e.Value))

	e, err = m.Load(ctx, "b", false).Await(ctx)
	require.NoError(t, err)
	require.NotNil(t, e)
	assert.Equal(t, "only-second", string(e.Value))

	e, err = m.Load(ctx, "missing", false).Await(ctx)
	require.NoError(t, err)
	assert.Nil(t, e)
}

func TestManagerLoadSkipsExpired(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(5000, 0)
	s := memstore.NewMemoryStore(&memstore.Options{Clock: func() time.Time { return now }})
	require.NoError(t, s.Write(ctx, grid.InternalEntry{Key: "old", Value: []byte("v"), Metadata: grid.Metadata{ExpireAt: now.Add(-time.Second).UnixNano()}}))

	m, err := persistence.NewManager(func() time.Time { return now }, s)
	require.NoError(t, err)

	e, err := m.Load(ctx, "old", false).Await(ctx)
	require.NoError(t, err)
	assert.Nil(t, e)

	e, err = m.Load(ctx, "old", true).Await(ctx)
	require.NoError(t, err)
	assert.NotNil(t, e)
}

func TestManagerLoadFailure(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("connection refused")
	m, err := persistence.NewManager(nil, failingStore{Store: memstore.NewMemoryStore(nil), err: boom})
	require.NoError(t, err)

	_, err = m.Load(ctx, "a", false).Await(ctx)
	assert.ErrorIs(t, err, boom)
}

func TestManagerPublishDeduplicates(t *testing.T) {
	ctx := context.Background()
	private := memstore.NewMemoryStore(&memstore.Options{Name: "private"})
	shared := memstore.NewMemoryStore(&memstore.Options{Name: "shared", Shared: true})
	write(t, private, "a", "p", "b", "p")
	write(t, shared, "b", "s", "c", "s")

	m, err := persistence.NewManager(nil, private, shared)
	require.NoError(t, err)

	keys := func(mode persistence.AccessMode, filter persistence.KeyFilter) []string {
		var out []string
		require.NoError(t, cursor.Drain(ctx, m.PublishKeys(filter, mode), func(k string) error {
			out = append(out, k)
			return nil
		}))
		sort.Strings(out)
		return out
	}

	assert.Equal(t, []string{"a", "b", "c"}, keys(persistence.AccessBoth, nil))
	assert.Equal(t, []string{"b", "c"}, keys(persistence.AccessShared, nil))
	assert.Equal(t, []string{"a", "b"}, keys(persistence.AccessPrivate, nil))
	assert.Equal(t, []string{"a", "c"}, keys(persistence.AccessBoth, func(k string) bool { return k != "b" }))

	entries, err := cursor.Collect(cursor.FromPublisher(ctx, m.PublishEntries(nil, false, persistence.AccessBoth), 2))
	require.NoError(t, err)
	require.Len(t, entries, 3)
	for _, e := range entries {
		if e.Key == "b" {
			assert.Equal(t, "p", string(e.Value), "the first tier wins")
		}
	}
}

func TestManagerPublishFailure(t *testing.T) {
	boom := errors.New("scan failed")
	m, err := persistence.NewManager(nil,
		memstore.NewMemoryStore(&memstore.Options{Name: "ok"}),
		failingStore{Store: memstore.NewMemoryStore(&memstore.Options{Name: "bad"}), err: boom},
	)
	require.NoError(t, err)
	err = cursor.Drain(context.Background(), m.PublishKeys(nil, persistence.AccessBoth), func(string) error { return nil })
	assert.ErrorIs(t, err, boom)
}

func TestManagerSize(t *testing.T) {
	ctx := context.Background()
	private := memstore.NewMemoryStore(&memstore.Options{Name: "private"})
	writeBehind := memstore.NewMemoryStore(&memstore.Options{Name: "write-behind", Shared: true, Async: true})
	shared := memstore.NewMemoryStore(&memstore.Options{Name: "shared", Shared: true})
	write(t, shared, "a", "1", "b", "2")

	m, err := persistence.NewManager(nil, private, writeBehind, shared)
	require.NoError(t, err)

	n, err := m.Size(ctx, persistence.And(persistence.Shared, persistence.NotAsync))
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	require.NoError(t, m.DisableStore("shared"))
	n, err = m.Size(ctx, persistence.And(persistence.Shared, persistence.NotAsync))
	require.NoError(t, err)
	assert.Equal(t, int64(-1), n)
}

func TestManagerAdministration(t *testing.T) {
	ctx := context.Background()
	a := memstore.NewMemoryStore(&memstore.Options{Name: "a"})
	b := memstore.NewMemoryStore(&memstore.Options{Name: "b", Shared: true})

	_, err := persistence.NewManager(nil, a, memstore.NewMemoryStore(&memstore.Options{Name: "a"}))
	assert.Error(t, err, "duplicate names are rejected")

	m, err := persistence.NewManager(nil, a, b)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, m.StoreNames())
	assert.True(t, m.IsEnabled())

	require.NoError(t, m.Write(ctx, grid.InternalEntry{Key: "k", Value: []byte("v")}))
	_, ok, _ := b.Load(ctx, "k")
	assert.True(t, ok, "writes reach every tier")

	require.NoError(t, m.DisableStore("a"))
	_, err = m.Store("a")
	assert.ErrorIs(t, err, persistence.ErrStoreDisabled)
	assert.Error(t, m.DisableStore("unknown"))

	statuses := m.Stores()
	require.Len(t, statuses, 2)
	assert.False(t, statuses[0].Enabled)
	assert.True(t, statuses[1].Enabled)

	existed, err := m.Delete(ctx, "k")
	require.NoError(t, err)
	assert.True(t, existed)
	_, ok, _ = a.Load(ctx, "k")
	assert.True(t, ok, "disabled tiers are not touched")

	require.NoError(t, m.DisableStore("b"))
	assert.False(t, m.IsEnabled())
	e, err := m.Load(ctx, "k", false).Await(ctx)
	require.NoError(t, err)
	assert.Nil(t, e)

	require.NoError(t, m.Clear(ctx))
	require.NoError(t, m.Close())
}
