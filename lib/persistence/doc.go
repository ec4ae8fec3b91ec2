/*
Package persistence contains the store collaborator of the grid: the Store
tier interface, the Manager that orders several tiers, and the predicates
used to ask the tiers for authoritative answers.

# Tiers

A Store is one persistent tier. Three implementations exist:

  - memstore: a process local tier backed by a lock-free map. It can be
    configured as shared and/or write-behind, mainly for tests.
  - redisstore: a shared, synchronous tier on top of Redis.
  - raftstore: a shared, synchronous tier replicated with Raft (dragonboat).

Every tier reports its Config. Shared tiers hold the data of the whole
cluster, write-behind (Async) tiers may lag behind the in-memory container.

# Manager

The Manager hides the tiers behind an asynchronous API:

	stage := manager.Load(ctx, "key", false)
	entry, err := stage.Await(ctx) // entry == nil -> absent

	pub := manager.PublishKeys(func(k string) bool { return !seen[k] }, persistence.AccessBoth)
	it := cursor.FromPublisher(ctx, pub, cursor.DefaultPrefetch)

Loads ask the tiers in order and the first hit wins. Publishers never
emit a key twice, even if several tiers contain it. Size(pred) returns the
count of the first enabled tier that satisfies pred, or -1 if none does.

Tiers can be disabled at runtime with DisableStore; a disabled tier is
skipped by every operation.

# Errors

Tier failures are returned as *Error values carrying a RetCode, failures of
asynchronous operations travel inside the returned stage or surface at the
failing element of a publisher.
*/
package persistence
