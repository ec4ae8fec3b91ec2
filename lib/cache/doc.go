// Package cache implements the cache of a grid node on top of the in-memory
// container, the persistence manager and the read-through loader.
//
// Every operation runs through the same short pipeline:
//
//  1. A new grid.InvocationContext is created and the affected keys are
//     wrapped into it. A key that is resident in the container is wrapped
//     with its value, any other key as a null placeholder.
//  2. The command visits the loader, which loads the null placeholders from
//     the stores (read-through) or wraps the enumeration results.
//  3. The terminal operation reads and mutates the context entries and
//     writes the result to the container (and to the stores).
//
// Writes go to the container and, unless passivation is enabled, through to
// every enabled store tier. With passivation the stores are an overflow tier:
// an entry only reaches the stores when it is evicted from memory.
//
// The Cache is the loader.Remover of its loader. Removals issued through an
// enumeration view (or its iterators) therefore pass the pipeline again.
//
// Thread Safety:
//
//	All operations are safe for concurrent use. Operations on the same key
//	are not isolated from each other: the last write to the container wins.
//
// Usage Example:
//
//	c := cache.New(cache.Options{}, ctr, manager, ldr)
//	if _, err := c.Put(ctx, "user#1", []byte("alice"), 0); err != nil {
//	    // Handle error
//	}
//	value, found, err := c.Get(ctx, "user#1", 0)
package cache
