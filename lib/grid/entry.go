package grid

import (
	"bytes"
	"fmt"
	"time"
)

// --------------------------------------------------------------------------
// Metadata
// --------------------------------------------------------------------------

// Metadata holds the version and expiration information of an entry.
type Metadata struct {
	Version  uint64 // Logical version of the value (0 = unversioned)
	Created  int64  // Creation time in unix nanoseconds (0 = unknown)
	ExpireAt int64  // Expiration time in unix nanoseconds (0 = never expires)
}

// IsExpired returns whether the metadata is expired at the given time.
func (m Metadata) IsExpired(now time.Time) bool {
	return m.ExpireAt != 0 && now.UnixNano() >= m.ExpireAt
}

// --------------------------------------------------------------------------
// Internal Entry (container / store representation)
// --------------------------------------------------------------------------

// InternalEntry is a key-value pair with metadata as it is stored by the
// in-memory container or returned by a persistent store.
type InternalEntry struct {
	Key      string
	Value    []byte
	Metadata Metadata
}

// IsExpired returns whether the entry is expired at the given time.
func (e InternalEntry) IsExpired(now time.Time) bool {
	return e.Metadata.IsExpired(now)
}

// Equal compares key and value of two entries. Metadata is ignored.
func (e InternalEntry) Equal(other InternalEntry) bool {
	return e.Key == other.Key && bytes.Equal(e.Value, other.Value)
}

func (e InternalEntry) String() string {
	return fmt.Sprintf("InternalEntry{key=%s, value=%d bytes, version=%d}", e.Key, len(e.Value), e.Metadata.Version)
}

// EntryKey is the key projection used by the enumeration views.
func EntryKey(e InternalEntry) string { return e.Key }

// --------------------------------------------------------------------------
// Resident Entry (context representation)
// --------------------------------------------------------------------------

// Entry is the representation of a key while an operation holds it in its
// InvocationContext.
//
// Thread-safety: An Entry is owned by a single operation. Mutations done by a
// store completion happen before the operation observes the completion.
type Entry struct {
	Key      string
	Value    []byte
	Metadata Metadata

	loaded     bool // a load attempt was resolved for this context
	skipLookup bool // never consult the store for this key again
	changed    bool // the value was replaced by the operation
}

// NewNullEntry creates a resident entry without a value.
// Such an entry is a candidate for a read-through load.
func NewNullEntry(key string) *Entry {
	return &Entry{Key: key}
}

// NewEntry creates a resident entry from an internal entry.
func NewEntry(ice InternalEntry) *Entry {
	return &Entry{Key: ice.Key, Value: ice.Value, Metadata: ice.Metadata}
}

// IsNull returns true if the entry holds no value.
func (e *Entry) IsNull() bool {
	return e.Value == nil
}

// IsLoaded returns whether a load attempt was resolved for this entry.
func (e *Entry) IsLoaded() bool {
	return e.loaded
}

// SetLoaded marks whether a load attempt was resolved for this entry.
func (e *Entry) SetLoaded(loaded bool) {
	e.loaded = loaded
}

// SkipLookup returns whether the store must not be consulted for this entry.
func (e *Entry) SkipLookup() bool {
	return e.skipLookup
}

// SetSkipLookup sets the skip-lookup hint.
func (e *Entry) SetSkipLookup(skip bool) {
	e.skipLookup = skip
}

// IsChanged returns whether the operation replaced the value.
func (e *Entry) IsChanged() bool {
	return e.changed
}

// SetValue replaces the value of the entry and marks it changed.
func (e *Entry) SetValue(value []byte) {
	e.Value = value
	e.changed = true
}

// ToInternal converts the resident entry to its container representation.
func (e *Entry) ToInternal() InternalEntry {
	return InternalEntry{Key: e.Key, Value: e.Value, Metadata: e.Metadata}
}

func (e *Entry) String() string {
	return fmt.Sprintf("Entry{key=%s, null=%t, loaded=%t, skipLookup=%t}", e.Key, e.IsNull(), e.loaded, e.skipLookup)
}
