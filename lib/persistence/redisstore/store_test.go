package redisstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/ValentinKolb/dGrid/lib/grid"
	"github.com/ValentinKolb/dGrid/lib/persistence"
	storetesting "github.com/ValentinKolb/dGrid/lib/persistence/testing"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisStore(t *testing.T) {
	mr := miniredis.RunT(t)

	// every sub test gets its own namespace on the same server
	n := 0
	storetesting.RunStoreTests(t, "redisstore", func() (persistence.Store, error) {
		n++
		return NewRedisStore(redis.NewClient(&redis.Options{Addr: mr.Addr()}), &Options{Prefix: "suite" + string(rune('a'+n))})
	})
}

func TestLayoutAndExpiry(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := context.Background()

	s, err := Factory(&redis.Options{Addr: mr.Addr()}, &Options{Prefix: "grid"})()
	require.NoError(t, err)
	defer s.Close()

	cfg := s.Config()
	assert.True(t, cfg.Shared)
	assert.False(t, cfg.Async)

	expireAt := time.Now().Add(time.Minute)
	require.NoError(t, s.Write(ctx, grid.InternalEntry{
		Key:      "user:1",
		Value:    []byte("alice"),
		Metadata: grid.Metadata{Version: 7, ExpireAt: expireAt.UnixNano()},
	}))

	assert.True(t, mr.Exists("grid:user:1"))
	assert.Equal(t, "alice", mr.HGet("grid:user:1", fieldValue))
	assert.Equal(t, "7", mr.HGet("grid:user:1", fieldVersion))
	assert.Greater(t, mr.TTL("grid:user:1"), time.Duration(0))

	mr.FastForward(2 * time.Minute)
	_, ok, err := s.Load(ctx, "user:1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestForeignKeysAreIgnored(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := context.Background()
	require.NoError(t, mr.Set("other:key", "x"))

	s, err := NewRedisStore(redis.NewClient(&redis.Options{Addr: mr.Addr()}), nil)
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Write(ctx, grid.InternalEntry{Key: "k", Value: []byte("v")}))
	n, err := s.Size(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	require.NoError(t, s.Clear(ctx))
	assert.True(t, mr.Exists("other:key"))
}

// commandRecorder records the commands a client sends and the number of
// pipelines that check keys.
type commandRecorder struct {
	mu        sync.Mutex
	names     map[string]int
	pipelines int
}

func (r *commandRecorder) record(cmd redis.Cmder) {
	r.mu.Lock()
	r.names[cmd.Name()]++
	r.mu.Unlock()
}

func (r *commandRecorder) reset() {
	r.mu.Lock()
	r.names = make(map[string]int)
	r.pipelines = 0
	r.mu.Unlock()
}

func (r *commandRecorder) DialHook(next redis.DialHook) redis.DialHook { return next }

func (r *commandRecorder) ProcessHook(next redis.ProcessHook) redis.ProcessHook {
	return func(ctx context.Context, cmd redis.Cmder) error {
		r.record(cmd)
		return next(ctx, cmd)
	}
}

func (r *commandRecorder) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return func(ctx context.Context, cmds []redis.Cmder) error {
		if len(cmds) > 0 && cmds[0].Name() == "hmget" {
			r.mu.Lock()
			r.pipelines++
			r.mu.Unlock()
		}
		for _, cmd := range cmds {
			r.record(cmd)
		}
		return next(ctx, cmds)
	}
}

func TestKeyEnumerationReadsNoValues(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := context.Background()

	now := time.Now()
	rec := &commandRecorder{names: make(map[string]int)}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	rdb.AddHook(rec)
	s, err := NewRedisStore(rdb, &Options{Clock: func() time.Time { return now }})
	require.NoError(t, err)
	defer s.Close()

	const n = 300
	var expected []string
	for i := 0; i < n; i++ {
		key := fmt.Sprintf("k%03d", i)
		expected = append(expected, key)
		require.NoError(t, s.Write(ctx, grid.InternalEntry{Key: key, Value: []byte("value")}))
	}
	require.NoError(t, s.Write(ctx, grid.InternalEntry{
		Key:      "expiring",
		Value:    []byte("value"),
		Metadata: grid.Metadata{ExpireAt: now.Add(time.Second).UnixNano()},
	}))
	now = now.Add(2 * time.Second)
	rec.reset()

	var keys []string
	require.NoError(t, s.PublishKeys(nil)(ctx, func(key string) bool {
		keys = append(keys, key)
		return true
	}))
	sort.Strings(keys)
	assert.Equal(t, expected, keys)

	size, err := s.Size(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(n), size)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.Zero(t, rec.names["hgetall"])
	assert.Equal(t, 2*(n+1), rec.names["hmget"])
	// one pipeline per scanned batch and pass
	assert.Equal(t, 2*((n+1+scanBatchSize-1)/scanBatchSize), rec.pipelines)
}

func TestKeyEnumerationStopsEarly(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := context.Background()

	s, err := NewRedisStore(redis.NewClient(&redis.Options{Addr: mr.Addr()}), nil)
	require.NoError(t, err)
	defer s.Close()

	for i := 0; i < 10; i++ {
		require.NoError(t, s.Write(ctx, grid.InternalEntry{Key: fmt.Sprintf("k%d", i), Value: []byte("v")}))
	}
	// removed behind the back of the store
	mr.Del("dgrid:k0")

	var keys []string
	require.NoError(t, s.PublishKeys(nil)(ctx, func(key string) bool {
		keys = append(keys, key)
		return len(keys) < 3
	}))
	assert.Len(t, keys, 3)
	assert.NotContains(t, keys, "k0")
}

func TestInvalidPrefix(t *testing.T) {
	_, err := NewRedisStore(redis.NewClient(&redis.Options{Addr: "localhost:0"}), &Options{Prefix: "bad*"})
	assert.Error(t, err)
}

func TestUnreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	_, err := Factory(&redis.Options{Addr: addr, MaxRetries: -1}, nil)()
	assert.ErrorIs(t, err, persistence.NewError(persistence.RetCStoreUnavailable, ""))
}
