// Package notify delivers cache lifecycle events to registered listeners.
//
// Every event is fired as a pre and a post variant around the state change.
// Synchronous listeners are called on the notifying goroutine, asynchronous
// listeners are handed to a single dispatcher goroutine through a lock-free
// queue. Each Notify call returns an async.Stage that completes once every
// listener handled the event, the first listener error fails it.
package notify

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ValentinKolb/dGrid/lib/async"
	"github.com/ValentinKolb/dGrid/lib/grid"
	"github.com/google/uuid"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"
)

var log = logger.GetLogger("notify")

// ErrClosed is returned for events fired after the notifier was closed.
var ErrClosed = errors.New("notify: notifier closed")

// EventType is the kind of a lifecycle event.
type EventType uint8

const (
	EventEntryLoaded    EventType = iota // An entry was read from a store into memory
	EventEntryActivated                  // A passivated entry was brought back into memory
)

func (t EventType) String() string {
	switch t {
	case EventEntryLoaded:
		return "ENTRY_LOADED"
	case EventEntryActivated:
		return "ENTRY_ACTIVATED"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", t)
	}
}

// Event describes a single lifecycle notification.
type Event struct {
	Type     EventType
	Key      string
	Value    []byte
	Metadata grid.Metadata
	Pre      bool      // fired before the state change
	Origin   string    // node that issued the operation (empty = local)
	TxID     uuid.UUID // id of the invocation context
}

func (e Event) String() string {
	phase := "post"
	if e.Pre {
		phase = "pre"
	}
	return fmt.Sprintf("%s(%s){key=%s}", e.Type, phase, e.Key)
}

// Listener handles an event. Returning an error fails the notification.
type Listener func(ctx context.Context, ev Event) error

type listener struct {
	id    uuid.UUID
	fn    Listener
	async bool
	types map[EventType]bool // nil = every type
}

func (l *listener) accepts(t EventType) bool {
	return l.types == nil || l.types[t]
}

type delivery struct {
	ctx   context.Context
	ev    Event
	l     *listener
	stage *async.Stage[async.Void]
}

// Notifier is the listener registry and event dispatcher of a cache.
type Notifier struct {
	listeners *xsync.MapOf[uuid.UUID, *listener]
	queue     *mpscQueue[delivery]
	done      sync.WaitGroup

	// mu makes sure nothing is queued after the queue was closed
	mu     sync.RWMutex
	closed bool
}

// NewNotifier creates a notifier and starts its dispatcher goroutine.
func NewNotifier() *Notifier {
	n := &Notifier{
		listeners: xsync.NewMapOf[uuid.UUID, *listener](),
		queue:     newMPSCQueue[delivery](),
	}
	n.done.Add(1)
	go n.dispatch()
	return n
}

// AddListener registers a listener for the given event types (none = all)
// and returns its id. Async listeners run on the dispatcher goroutine.
func (n *Notifier) AddListener(fn Listener, async bool, types ...EventType) uuid.UUID {
	l := &listener{id: uuid.New(), fn: fn, async: async}
	if len(types) > 0 {
		l.types = make(map[EventType]bool, len(types))
		for _, t := range types {
			l.types[t] = true
		}
	}
	n.listeners.Store(l.id, l)
	log.Debugf("Added listener %s (async=%t)", l.id, async)
	return l.id
}

// RemoveListener unregisters a listener. It returns false if the id is unknown.
func (n *Notifier) RemoveListener(id uuid.UUID) bool {
	_, ok := n.listeners.LoadAndDelete(id)
	return ok
}

// HasListeners returns true if at least one listener accepts the event type.
func (n *Notifier) HasListeners(t EventType) bool {
	found := false
	n.listeners.Range(func(_ uuid.UUID, l *listener) bool {
		found = l.accepts(t)
		return !found
	})
	return found
}

// Pending returns the number of queued asynchronous deliveries.
func (n *Notifier) Pending() int {
	return n.queue.len()
}

// NotifyEntryLoaded fires an EventEntryLoaded for the key.
func (n *Notifier) NotifyEntryLoaded(ctx context.Context, ictx *grid.InvocationContext, cmd *grid.Command, key string, value []byte, md grid.Metadata, pre bool) *async.Stage[async.Void] {
	return n.notify(ctx, ictx, cmd, EventEntryLoaded, key, value, md, pre)
}

// NotifyEntryActivated fires an EventEntryActivated for the key.
func (n *Notifier) NotifyEntryActivated(ctx context.Context, ictx *grid.InvocationContext, cmd *grid.Command, key string, value []byte, md grid.Metadata, pre bool) *async.Stage[async.Void] {
	return n.notify(ctx, ictx, cmd, EventEntryActivated, key, value, md, pre)
}

func (n *Notifier) notify(ctx context.Context, ictx *grid.InvocationContext, cmd *grid.Command, t EventType, key string, value []byte, md grid.Metadata, pre bool) *async.Stage[async.Void] {
	if cmd != nil && cmd.HasAnyFlag(grid.FlagSkipListenerNotification) {
		return async.Done()
	}

	ev := Event{Type: t, Key: key, Value: value, Metadata: md, Pre: pre}
	if ictx != nil {
		ev.Origin = ictx.Origin()
		ev.TxID = ictx.ID()
	}

	n.mu.RLock()
	defer n.mu.RUnlock()
	if n.closed {
		return async.Failed[async.Void](ErrClosed)
	}

	agg := async.NewAggregate()
	n.listeners.Range(func(_ uuid.UUID, l *listener) bool {
		if !l.accepts(t) {
			return true
		}
		if !l.async {
			if err := invoke(ctx, l, ev); err != nil {
				agg.DependsOn(async.Failed[async.Void](err))
			}
			return true
		}
		d := &delivery{ctx: ctx, ev: ev, l: l, stage: async.NewStage[async.Void]()}
		agg.DependsOn(d.stage)
		n.queue.push(d)
		return true
	})
	return agg.Freeze()
}

// invoke calls a listener and turns a panic into an error.
func invoke(ctx context.Context, l *listener, ev Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("listener %s panicked: %v", l.id, r)
		}
	}()
	if err = l.fn(ctx, ev); err != nil {
		log.Warningf("Listener %s failed on %s: %v", l.id, ev, err)
		return fmt.Errorf("listener %s: %w", l.id, err)
	}
	return nil
}

func (n *Notifier) dispatch() {
	defer n.done.Done()
	for d := range n.queue.recv() {
		if err := invoke(d.ctx, d.l, d.ev); err != nil {
			_ = d.stage.Fail(err)
			continue
		}
		_ = d.stage.Complete(async.Void{})
	}
}

// Close stops accepting events and waits until every queued event was
// delivered. It is safe to call Close more than once.
func (n *Notifier) Close() {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return
	}
	n.closed = true
	n.mu.Unlock()

	n.queue.close()
	n.done.Wait()
}
