package container

import (
	"github.com/ValentinKolb/dGrid/lib/cursor"
	"github.com/ValentinKolb/dGrid/lib/grid"
)

// KeySet returns a live key-set view over the container.
func (c *Container) KeySet() grid.CacheSet[string] {
	return keySet{c}
}

// EntrySet returns a live entry-set view over the container.
func (c *Container) EntrySet() grid.CacheSet[grid.InternalEntry] {
	return entrySet{c}
}

type keySet struct{ c *Container }

func (s keySet) Iterator() cursor.Iterator[string] {
	return cursor.Map(s.c.Iterator(), grid.EntryKey)
}

func (s keySet) Contains(key string) (bool, error) {
	return s.c.ContainsKey(key), nil
}

func (s keySet) Size() (int, error) {
	return s.c.Size(), nil
}

func (s keySet) IsEmpty() (bool, error) {
	return isEmpty(s.c), nil
}

type entrySet struct{ c *Container }

func (s entrySet) Iterator() cursor.Iterator[grid.InternalEntry] {
	return s.c.Iterator()
}

// Contains compares key and value, metadata is ignored.
func (s entrySet) Contains(e grid.InternalEntry) (bool, error) {
	resident, ok := s.c.Peek(e.Key)
	return ok && resident.Equal(e), nil
}

func (s entrySet) Size() (int, error) {
	return s.c.Size(), nil
}

func (s entrySet) IsEmpty() (bool, error) {
	return isEmpty(s.c), nil
}

func isEmpty(c *Container) bool {
	it := c.Iterator()
	defer it.Close()
	return !it.Next()
}
