package internal

import "github.com/ValentinKolb/dGrid/lib/grid"

// QueryType defines the possible queries for the state machine.
type QueryType uint8

const (
	QueryTLoad    QueryType = iota // Retrieve an entry by key.
	QueryTEntries                  // Retrieve all entries whose key passes the filter.
	QueryTSize                     // Count the live entries.
)

func (q QueryType) String() string {
	switch q {
	case QueryTLoad:
		return "Load"
	case QueryTEntries:
		return "Entries"
	case QueryTSize:
		return "Size"
	default:
		return "Unknown"
	}
}

// Query defines the structure for lookup requests (read-only) sent via SyncRead.
// Queries never leave the local node, so they can carry a filter function.
type Query struct {
	Type           QueryType         // The type of query to perform.
	Key            string            // QueryTLoad only.
	Filter         func(string) bool // QueryTEntries only (nil = all keys).
	IncludeExpired bool              // QueryTEntries only.
	Now            int64             // Reference time for expiration (unix nanoseconds).
}

// LoadResult is the result of a QueryTLoad operation.
// QueryTEntries returns []grid.InternalEntry and QueryTSize returns int64.
type LoadResult struct {
	Ok    bool
	Entry grid.InternalEntry
}
