// Package grid defines the data model shared by every layer of the dGrid
// per-operation processing pipeline.
//
// The package is deliberately free of behaviour. It only describes what flows
// through the pipeline:
//
//   - Command: a tagged union over all operation kinds (get, put, remove,
//     compute, bulk reads, functional read/write commands, group reads,
//     key-set, entry-set and size queries). Each command carries its keys,
//     flags, load type and group data. CommandType.Strategy() maps a command
//     kind to the way the read-through loader has to handle it.
//
//   - Flag: bit flags attached to a command (e.g. FlagSkipCacheLoad) that
//     change how the loader and the enumeration views behave.
//
//   - InternalEntry: an entry as it is held by the in-memory container or
//     returned by a persistent store (key, value and metadata).
//
//   - Entry: the resident representation of a key inside an
//     InvocationContext. Besides the value and metadata it tracks whether a
//     load was already resolved for this context (loaded) and whether the
//     store must not be consulted again (skip-lookup).
//
//   - InvocationContext: the per-operation scope. It is created when an
//     operation starts and discarded when it completes. It holds at most one
//     Entry per key.
//
//   - CacheSet: the set contract implemented by key-set and entry-set views.
//
// Values are opaque byte slices. A nil value means "no value"; an empty but
// non-nil slice is a valid value.
package grid
