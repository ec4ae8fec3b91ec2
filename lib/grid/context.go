package grid

import (
	"github.com/google/uuid"
	"github.com/puzpuzpuz/xsync/v3"
)

// InvocationContext is the per-operation scope. It holds at most one Entry
// per key and lives from the start of an operation until its completion.
//
// Thread-safety: The entry map is safe for concurrent use because the
// completions of independent loads of a bulk operation may write different
// keys at the same time. A single Entry is only ever written by one party.
type InvocationContext struct {
	id      uuid.UUID
	origin  string
	entries *xsync.MapOf[string, *Entry]
	loads   *xsync.MapOf[string, struct{}]
}

// NewInvocationContext creates a new empty context for a local operation.
func NewInvocationContext() *InvocationContext {
	return NewRemoteInvocationContext("")
}

// NewRemoteInvocationContext creates a new context for an operation that was
// issued by another node. An empty origin means local.
func NewRemoteInvocationContext(origin string) *InvocationContext {
	return &InvocationContext{
		id:      uuid.New(),
		origin:  origin,
		entries: xsync.NewMapOf[string, *Entry](),
		loads:   xsync.NewMapOf[string, struct{}](),
	}
}

// ID returns the unique id of the operation.
func (c *InvocationContext) ID() uuid.UUID {
	return c.id
}

// IsOriginLocal returns true if the operation was issued on this node.
func (c *InvocationContext) IsOriginLocal() bool {
	return c.origin == ""
}

// Origin returns the node that issued the operation (empty for local operations).
func (c *InvocationContext) Origin() string {
	return c.origin
}

// LookupEntry returns the entry of a key or nil if the context holds none.
func (c *InvocationContext) LookupEntry(key string) *Entry {
	e, _ := c.entries.Load(key)
	return e
}

// PutLookedUpEntry stores the entry of a key in the context.
func (c *InvocationContext) PutLookedUpEntry(key string, e *Entry) {
	c.entries.Store(key, e)
}

// RemoveLookedUpEntry drops the entry of a key from the context.
func (c *InvocationContext) RemoveLookedUpEntry(key string) {
	c.entries.Delete(key)
}

// WrapExternalEntry puts an entry that was obtained outside the context
// (container or store) into the context and returns the resident entry.
//
// An existing resident entry with a value is left untouched, an existing
// null entry receives the value and metadata. Otherwise a new entry is created.
func (c *InvocationContext) WrapExternalEntry(ice InternalEntry) *Entry {
	e, _ := c.entries.Compute(ice.Key, func(old *Entry, loaded bool) (*Entry, bool) {
		if !loaded {
			return NewEntry(ice), false
		}
		if old.IsNull() {
			old.Value = ice.Value
			old.Metadata = ice.Metadata
		}
		return old, false
	})
	return e
}

// MarkLoadIssued records that a load of the key was started in this
// context. It returns false if a load was already issued for the key.
func (c *InvocationContext) MarkLoadIssued(key string) bool {
	_, loaded := c.loads.LoadOrStore(key, struct{}{})
	return !loaded
}

// LoadIssued returns whether a load of the key was started in this context.
func (c *InvocationContext) LoadIssued(key string) bool {
	_, ok := c.loads.Load(key)
	return ok
}

// Keys returns all keys held by the context.
func (c *InvocationContext) Keys() []string {
	keys := make([]string, 0, c.entries.Size())
	c.entries.Range(func(key string, _ *Entry) bool {
		keys = append(keys, key)
		return true
	})
	return keys
}

// Len returns the number of entries held by the context.
func (c *InvocationContext) Len() int {
	return c.entries.Size()
}

// ForEach calls fn for every entry of the context until fn returns false.
func (c *InvocationContext) ForEach(fn func(e *Entry) bool) {
	c.entries.Range(func(_ string, e *Entry) bool {
		return fn(e)
	})
}
