package notify

import (
	"runtime"
	"sync"
	"sync/atomic"
)

// qnode is a single element of the delivery queue
type qnode[T any] struct {
	value *T
	next  atomic.Pointer[qnode[T]]
}

// mpscQueue is an unbounded lock-free multi-producer single-consumer queue.
// Producers append to a linked list with CAS, a single goroutine moves the
// items to the out channel. Items pushed before Close are still delivered.
type mpscQueue[T any] struct {
	head     atomic.Pointer[qnode[T]]
	tail     atomic.Pointer[qnode[T]]
	out      chan *T
	consumer sync.WaitGroup
	closed   atomic.Bool

	// mu guards the wait of the consumer, producers take it to signal
	mu   sync.Mutex
	cond *sync.Cond
}

func newMPSCQueue[T any]() *mpscQueue[T] {
	sentinel := &qnode[T]{}

	q := &mpscQueue[T]{out: make(chan *T)}
	q.cond = sync.NewCond(&q.mu)
	q.head.Store(sentinel)
	q.tail.Store(sentinel)

	q.consumer.Add(1)
	go q.consume()
	return q
}

// push appends an item. It returns false if the queue is closed.
func (q *mpscQueue[T]) push(value *T) bool {
	if value == nil || q.closed.Load() {
		return false
	}

	n := &qnode[T]{value: value}
	var backoff uint8

	for {
		tail := q.tail.Load()
		next := tail.next.Load()
		if next == nil {
			if tail.next.CompareAndSwap(nil, n) {
				q.tail.CompareAndSwap(tail, n)
				q.signal()
				return true
			}
		} else {
			// another producer appended but did not move the tail yet
			q.tail.CompareAndSwap(tail, next)
		}

		if backoff < 10 {
			backoff++
			for i := 0; i < 1<<backoff; i++ {
				runtime.Gosched()
			}
		}
		runtime.Gosched()
	}
}

// signal wakes the consumer. Holding mu makes sure the consumer is either
// before its emptiness check or already waiting.
func (q *mpscQueue[T]) signal() {
	q.mu.Lock()
	q.cond.Signal()
	q.mu.Unlock()
}

func (q *mpscQueue[T]) consume() {
	defer q.consumer.Done()
	defer close(q.out)

	for {
		drained := false
		for {
			head := q.head.Load()
			next := head.next.Load()
			if next == nil {
				break
			}
			drained = true

			value := next.value
			q.head.Store(next)
			q.out <- value
			next.value = nil
		}

		if !drained && q.closed.Load() {
			return
		}

		if !drained {
			q.mu.Lock()
			if q.head.Load().next.Load() == nil && !q.closed.Load() {
				q.cond.Wait()
			}
			q.mu.Unlock()
		}
	}
}

// recv returns the channel the consumer reads from. It is closed after Close
// once every pending item was delivered.
func (q *mpscQueue[T]) recv() <-chan *T {
	return q.out
}

// close stops accepting items.
func (q *mpscQueue[T]) close() {
	q.closed.Store(true)
	q.signal()
}

// len counts the pending items (O(n), for stats only).
func (q *mpscQueue[T]) len() int {
	count := 0
	for cur := q.head.Load().next.Load(); cur != nil; cur = cur.next.Load() {
		count++
	}
	return count
}
