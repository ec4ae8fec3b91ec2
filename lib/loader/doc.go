/*
Package loader implements read-through loading for the grid cache.

When a command needs a key that is not resident in memory, the Loader
consults the persistence layer, puts the found entry into the in-memory
container and the command's InvocationContext and fires the lifecycle
events. Commands never wait for loads they do not need: the decision is
made per key (see below) before any store is touched.

# Skip decision

A key is loaded only if all of the following hold:

  - the context holds an entry for the key (the pipeline looked it up)
  - the entry has no value yet and is not marked skip-lookup
  - the node may load the key (or the command skips the ownership check)
  - the command does not carry grid.FlagSkipCacheLoad
  - write commands additionally need a load type other than LoadTypeDontLoad

# Load protocol

Loads are asynchronous. LoadIfNeeded returns nil if nothing was loaded,
otherwise an async.Stage that completes after the entry was placed in the
context and every notification was delivered. The events of one key are
fired strictly in the order

	loaded(pre) -> loaded(post) -> activated(pre) -> activated(post)

the activation pair only if passivation is enabled. Multi-key commands join
all their loads with an async.Aggregate. A load keeps running when the
caller's context is cancelled.

# Enumeration

Key-set and entry-set commands are answered with a LoaderSet that lazily
concatenates the in-memory view with the store. The store is subscribed
only after the in-memory iterator is exhausted and is asked only for keys
that were not seen in memory, so no key is returned twice.

	ks := l.WrapKeySet(ctx, cmd, false, container.KeySet())
	it := ks.Iterator()
	defer it.Close()
	for it.Next() {
		fmt.Println(it.Value())
	}

Size and IsEmpty are answered from the store count when a shared,
synchronous store exists, otherwise by counting the merged iterator.

# Groups

A group read on the group owner is the one blocking operation: every group
member that is only in the store is drained into the context before the
pipeline continues.
*/
package loader
