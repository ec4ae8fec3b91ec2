// Package testing provides a conformance suite for persistence.Store tiers.
package testing

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/ValentinKolb/dGrid/lib/cursor"
	"github.com/ValentinKolb/dGrid/lib/grid"
	"github.com/ValentinKolb/dGrid/lib/persistence"
)

// RunStoreTests runs the conformance suite against a store tier.
// The factory must return a new, empty tier for every call.
func RunStoreTests(t *testing.T, name string, factory persistence.StoreFactory) {
	t.Run(name, func(t *testing.T) {
		t.Run("Write&Load", func(t *testing.T) {
			testWriteLoad(t, mustCreate(t, factory))
		})

		t.Run("Delete", func(t *testing.T) {
			testDelete(t, mustCreate(t, factory))
		})

		t.Run("Expiration", func(t *testing.T) {
			testExpiration(t, mustCreate(t, factory))
		})

		t.Run("PublishKeys", func(t *testing.T) {
			testPublishKeys(t, mustCreate(t, factory))
		})

		t.Run("PublishEntries", func(t *testing.T) {
			testPublishEntries(t, mustCreate(t, factory))
		})

		t.Run("PublisherStops", func(t *testing.T) {
			testPublisherStops(t, mustCreate(t, factory))
		})

		t.Run("SizeAndClear", func(t *testing.T) {
			testSizeAndClear(t, mustCreate(t, factory))
		})

		t.Run("Concurrent", func(t *testing.T) {
			testConcurrent(t, mustCreate(t, factory))
		})
	})
}

// --------------------------------------------------------------------------
// Helper functions
// --------------------------------------------------------------------------

func mustCreate(t *testing.T, factory persistence.StoreFactory) persistence.Store {
	t.Helper()
	s, err := factory()
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func entry(key, value string) grid.InternalEntry {
	return grid.InternalEntry{Key: key, Value: []byte(value), Metadata: grid.Metadata{Version: 1}}
}

func mustWrite(t *testing.T, s persistence.Store, entries ...grid.InternalEntry) {
	t.Helper()
	for _, e := range entries {
		if err := s.Write(context.Background(), e); err != nil {
			t.Fatalf("Write(%s) failed: %v", e.Key, err)
		}
	}
}

func collectKeys(t *testing.T, pub cursor.Publisher[string]) []string {
	t.Helper()
	var keys []string
	if err := cursor.Drain(context.Background(), pub, func(k string) error {
		keys = append(keys, k)
		return nil
	}); err != nil {
		t.Fatalf("Publisher failed: %v", err)
	}
	sort.Strings(keys)
	return keys
}

// --------------------------------------------------------------------------
// Test functions
// --------------------------------------------------------------------------

func testWriteLoad(t *testing.T, s persistence.Store) {
	ctx := context.Background()

	if _, ok, err := s.Load(ctx, "missing"); err != nil || ok {
		t.Errorf("Expected missing key to be absent, got ok=%t err=%v", ok, err)
	}

	mustWrite(t, s, entry("k", "v1"))
	e, ok, err := s.Load(ctx, "k")
	if err != nil || !ok {
		t.Fatalf("Expected key k to exist after Write, got ok=%t err=%v", ok, err)
	}
	if !bytes.Equal(e.Value, []byte("v1")) || e.Key != "k" {
		t.Errorf("Expected k=v1, got %s", e)
	}
	if e.Metadata.Version != 1 {
		t.Errorf("Expected version 1, got %d", e.Metadata.Version)
	}

	mustWrite(t, s, entry("k", "v2"))
	e, _, _ = s.Load(ctx, "k")
	if !bytes.Equal(e.Value, []byte("v2")) {
		t.Errorf("Expected overwritten value v2, got %s", e.Value)
	}

	// an empty value is a value
	mustWrite(t, s, grid.InternalEntry{Key: "empty", Value: []byte{}})
	e, ok, err = s.Load(ctx, "empty")
	if err != nil || !ok {
		t.Fatalf("Expected key empty to exist, got ok=%t err=%v", ok, err)
	}
	if e.Value == nil || len(e.Value) != 0 {
		t.Errorf("Expected a non nil empty value, got %v", e.Value)
	}
}

func testDelete(t *testing.T, s persistence.Store) {
	ctx := context.Background()
	mustWrite(t, s, entry("a", "1"))

	existed, err := s.Delete(ctx, "a")
	if err != nil || !existed {
		t.Errorf("Expected Delete to report an existing key, got existed=%t err=%v", existed, err)
	}
	if _, ok, _ := s.Load(ctx, "a"); ok {
		t.Errorf("Expected key a to be absent after Delete")
	}
	existed, err = s.Delete(ctx, "a")
	if err != nil || existed {
		t.Errorf("Expected second Delete to report a missing key, got existed=%t err=%v", existed, err)
	}
}

func testExpiration(t *testing.T, s persistence.Store) {
	ctx := context.Background()
	past := time.Now().Add(-time.Minute).UnixNano()
	future := time.Now().Add(time.Hour).UnixNano()

	mustWrite(t, s,
		grid.InternalEntry{Key: "live", Value: []byte("v"), Metadata: grid.Metadata{ExpireAt: future}},
		grid.InternalEntry{Key: "dead", Value: []byte("v"), Metadata: grid.Metadata{ExpireAt: past}},
	)

	// a tier may either drop expired entries or return them marked as expired
	if e, ok, err := s.Load(ctx, "dead"); err != nil {
		t.Errorf("Load of expired entry failed: %v", err)
	} else if ok && !e.IsExpired(time.Now()) {
		t.Errorf("Expected expired entry to be absent or expired, got %s", e)
	}

	e, ok, err := s.Load(ctx, "live")
	if err != nil || !ok {
		t.Fatalf("Expected live entry, got ok=%t err=%v", ok, err)
	}
	if e.Metadata.ExpireAt/int64(time.Millisecond) != future/int64(time.Millisecond) {
		t.Errorf("Expected expiration %d, got %d", future, e.Metadata.ExpireAt)
	}

	keys := collectKeys(t, s.PublishKeys(nil))
	if len(keys) != 1 || keys[0] != "live" {
		t.Errorf("Expected only the live key to be published, got %v", keys)
	}

	n, err := s.Size(ctx)
	if err != nil || n != 1 {
		t.Errorf("Expected size 1, got %d (err=%v)", n, err)
	}
}

func testPublishKeys(t *testing.T, s persistence.Store) {
	for i := 0; i < 20; i++ {
		mustWrite(t, s, entry(fmt.Sprintf("key-%02d", i), "v"))
	}

	all := collectKeys(t, s.PublishKeys(nil))
	if len(all) != 20 {
		t.Errorf("Expected 20 keys, got %d", len(all))
	}

	even := collectKeys(t, s.PublishKeys(func(k string) bool {
		var i int
		_, _ = fmt.Sscanf(k, "key-%d", &i)
		return i%2 == 0
	}))
	if len(even) != 10 || even[0] != "key-00" || even[9] != "key-18" {
		t.Errorf("Expected the 10 even keys, got %v", even)
	}
}

func testPublishEntries(t *testing.T, s persistence.Store) {
	mustWrite(t, s, entry("x", "1"), entry("y", "2"), entry("z", "3"))

	got := map[string]string{}
	err := cursor.Drain(context.Background(), s.PublishEntries(func(k string) bool { return k != "y" }, false), func(e grid.InternalEntry) error {
		got[e.Key] = string(e.Value)
		return nil
	})
	if err != nil {
		t.Fatalf("PublishEntries failed: %v", err)
	}
	if len(got) != 2 || got["x"] != "1" || got["z"] != "3" {
		t.Errorf("Expected {x:1, z:3}, got %v", got)
	}
}

func testPublisherStops(t *testing.T, s persistence.Store) {
	for i := 0; i < 10; i++ {
		mustWrite(t, s, entry(fmt.Sprintf("k%d", i), "v"))
	}

	emitted := 0
	err := s.PublishKeys(nil)(context.Background(), func(string) bool {
		emitted++
		return emitted < 3
	})
	if err != nil {
		t.Errorf("Expected a stopped publisher to return nil, got %v", err)
	}
	if emitted != 3 {
		t.Errorf("Expected the publisher to stop after 3 elements, got %d", emitted)
	}

	first, ok, err := cursor.FirstOf(context.Background(), s.PublishKeys(nil))
	if err != nil || !ok || first == "" {
		t.Errorf("Expected a first key, got %q ok=%t err=%v", first, ok, err)
	}
}

func testSizeAndClear(t *testing.T, s persistence.Store) {
	ctx := context.Background()
	if n, err := s.Size(ctx); err != nil || n != 0 {
		t.Errorf("Expected empty store, got size %d (err=%v)", n, err)
	}

	mustWrite(t, s, entry("a", "1"), entry("b", "2"), entry("c", "3"))
	if n, err := s.Size(ctx); err != nil || n != 3 {
		t.Errorf("Expected size 3, got %d (err=%v)", n, err)
	}

	if err := s.Clear(ctx); err != nil {
		t.Fatalf("Clear failed: %v", err)
	}
	if n, err := s.Size(ctx); err != nil || n != 0 {
		t.Errorf("Expected size 0 after Clear, got %d (err=%v)", n, err)
	}
	if keys := collectKeys(t, s.PublishKeys(nil)); len(keys) != 0 {
		t.Errorf("Expected no keys after Clear, got %v", keys)
	}
}

func testConcurrent(t *testing.T, s persistence.Store) {
	ctx := context.Background()
	var wg sync.WaitGroup
	workers, perWorker := 4, 25
	errs := make(chan error, workers*perWorker)

	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				key := fmt.Sprintf("w%d-%d", w, i)
				if err := s.Write(ctx, entry(key, key)); err != nil {
					errs <- err
					continue
				}
				e, ok, err := s.Load(ctx, key)
				if err != nil || !ok || string(e.Value) != key {
					errs <- fmt.Errorf("read back %s: ok=%t err=%v", key, ok, err)
				}
			}
		}(w)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}

	if n, err := s.Size(ctx); err != nil || n != int64(workers*perWorker) {
		t.Errorf("Expected size %d, got %d (err=%v)", workers*perWorker, n, err)
	}
}
