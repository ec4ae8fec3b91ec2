// Package cursor provides a small set of composable, pull-style iterators and
// lazy push-style publishers.
//
// The merged key-set and entry-set views of the read-through loader are
// built entirely from these adapters instead of a view type per variant:
//
//   - FromSlice: iterate an in-memory slice
//   - Map / Filter / Peek: element-wise adapters
//   - LazyConcat: concatenate two iterators, the second one is only created
//     after the first is exhausted
//   - FromPublisher: convert a lazy Publisher into an Iterator with a bounded
//     prefetch buffer (backpressure between the producing goroutine and the
//     consuming caller)
//   - Removable: add Remove() of the last returned element
//
// A Publisher does nothing until it is called. It pushes elements to the
// emit callback until emit returns false, the context is done or the
// sequence ends. Publishers can be filtered and mapped without subscribing.
//
// Errors are never raised eagerly: an iterator reports a failure of its
// source only once the failing element is reached (Next returns false and
// Err returns the failure).
//
// Iterators are not safe for concurrent use. Every iterator must be closed,
// closing an iterator built on a publisher cancels the producing goroutine.
package cursor
