package util

import (
	"runtime"
	"sync"
	"sync/atomic"
)

// node represents a single element in the queue
type node[T any] struct {
	value T
	next  atomic.Pointer[node[T]]
}

// MPSCQueue is a lock-free multi-producer single-consumer queue.
// Producers append to a linked list with CAS; one goroutine moves values from
// the list to the channel returned by Recv.
//
// Used as the per-connection outbound queue: every caller pushes its encoded
// frames, a single writer goroutine drains them to the socket, so frames of
// one message are never interleaved with frames of another.
type MPSCQueue[T any] struct {
	head     atomic.Pointer[node[T]]
	tail     atomic.Pointer[node[T]]
	out      chan T
	consumer sync.WaitGroup
	closed   atomic.Bool

	mu     sync.Mutex
	cond   *sync.Cond
	exited bool // consumer gave up on the list, guarded by mu
}

// NewMPSCQueue creates the queue and starts its consumer goroutine
func NewMPSCQueue[T any]() *MPSCQueue[T] {
	sentinel := &node[T]{}

	q := &MPSCQueue[T]{
		out: make(chan T),
	}
	q.cond = sync.NewCond(&q.mu)
	q.head.Store(sentinel)
	q.tail.Store(sentinel)

	q.consumer.Add(1)
	go q.consume()

	return q
}

// Push appends value. It returns true only if value will be delivered on
// Recv; a Push racing with Close may return either, but never true for a
// value the consumer has already given up on.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (q *MPSCQueue[T]) Push(value T) bool {
	if q.closed.Load() {
		return false
	}

	newNode := &node[T]{value: value}
	var backoff uint8

	for {
		tailNode := q.tail.Load()
		next := tailNode.next.Load()
		if next == nil {
			if tailNode.next.CompareAndSwap(nil, newNode) {
				// a failed CAS means another producer already advanced the tail
				q.tail.CompareAndSwap(tailNode, newNode)

				// take the lock so the signal cannot fall between the consumer's
				// emptiness check and its Wait, or its decision to exit
				q.mu.Lock()
				delivered := !q.exited
				q.cond.Signal()
				q.mu.Unlock()
				return delivered
			}
		} else {
			// help a producer that linked its node but has not moved the tail yet
			q.tail.CompareAndSwap(tailNode, next)
		}

		// spin briefly under low contention, yield under high contention
		if backoff < 10 {
			backoff++
			for i := 0; i < 1<<backoff; i++ {
				runtime.Gosched()
			}
		}
		runtime.Gosched()
	}
}

// consume moves values from the list to the output channel until the queue
// is closed and drained
func (q *MPSCQueue[T]) consume() {
	defer q.consumer.Done()
	defer close(q.out)

	var zero T
	for {
		hasItems := false

		for {
			head := q.head.Load()
			next := head.next.Load()
			if next == nil {
				break
			}
			hasItems = true

			value := next.value
			q.head.Store(next)
			q.out <- value

			// the node is the new sentinel, drop its reference for the gc
			next.value = zero
		}

		if !hasItems {
			q.mu.Lock()
			if q.head.Load().next.Load() == nil {
				if q.closed.Load() {
					// producers linking after this point see exited
					q.exited = true
					q.mu.Unlock()
					return
				}
				q.cond.Wait()
			}
			q.mu.Unlock()
		}
	}
}

// Recv returns the channel the consumer goroutine delivers values on.
// The channel is closed after Close once every pushed value was delivered.
func (q *MPSCQueue[T]) Recv() <-chan T {
	return q.out
}

// Close stops accepting values. Values already pushed are still delivered.
func (q *MPSCQueue[T]) Close() {
	q.closed.Store(true)

	q.mu.Lock()
	q.cond.Signal()
	q.mu.Unlock()
}

// IsClosed returns true if the queue is closed.
func (q *MPSCQueue[T]) IsClosed() bool {
	return q.closed.Load()
}

// Len walks the list and counts undelivered values. O(n), for debugging only.
func (q *MPSCQueue[T]) Len() int {
	count := 0
	current := q.head.Load()
	for {
		next := current.next.Load()
		if next == nil {
			break
		}
		count++
		current = next
	}
	return count
}
