package grid

import "github.com/ValentinKolb/dGrid/lib/cursor"

// CacheSet is the set contract of the key-set and entry-set views.
// R is either string (key-set) or InternalEntry (entry-set).
//
// Every call to Iterator starts a fresh pass. Iterators are not restartable
// and must be closed.
type CacheSet[R any] interface {
	// Iterator returns a new iterator over all elements of the set.
	Iterator() cursor.Iterator[R]
	// Contains returns whether the element is part of the set.
	Contains(o R) (bool, error)
	// Size returns the number of elements in the set.
	Size() (int, error)
	// IsEmpty returns whether the set has no elements.
	IsEmpty() (bool, error)
}
