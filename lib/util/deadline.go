package util

import (
	"container/heap"
	"time"
)

// deadlineItem is one scheduled request id
type deadlineItem struct {
	key      uint32
	deadline int64 // unix nanoseconds
	index    int   // maintained by container/heap
}

// DeadlineQueue is a min-heap of request ids ordered by deadline, combined
// with an index for O(1) lookup and O(log n) removal by id.
//
// Not safe for concurrent use; the correlator guards it with the lock of the
// connection state that owns it.
type DeadlineQueue struct {
	items []*deadlineItem
	index map[uint32]*deadlineItem
}

// NewDeadlineQueue creates an empty queue
func NewDeadlineQueue() *DeadlineQueue {
	return &DeadlineQueue{
		items: make([]*deadlineItem, 0),
		index: make(map[uint32]*deadlineItem),
	}
}

// --------------------------------------------------------------------------
// heap.Interface
// --------------------------------------------------------------------------

func (q *DeadlineQueue) Len() int { return len(q.items) }

func (q *DeadlineQueue) Less(i, j int) bool {
	return q.items[i].deadline < q.items[j].deadline
}

func (q *DeadlineQueue) Swap(i, j int) {
	q.items[i], q.items[j] = q.items[j], q.items[i]
	q.items[i].index = i
	q.items[j].index = j
}

func (q *DeadlineQueue) Push(x interface{}) {
	it := x.(*deadlineItem)
	it.index = len(q.items)
	q.items = append(q.items, it)
	q.index[it.key] = it
}

func (q *DeadlineQueue) Pop() interface{} {
	old := q.items
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	it.index = -1
	q.items = old[:n-1]
	delete(q.index, it.key)
	return it
}

// --------------------------------------------------------------------------
// Key based access
// --------------------------------------------------------------------------

// Schedule sets the deadline of key, replacing an earlier one
func (q *DeadlineQueue) Schedule(key uint32, deadline time.Time) {
	d := deadline.UnixNano()
	if it, ok := q.index[key]; ok {
		it.deadline = d
		heap.Fix(q, it.index)
		return
	}
	heap.Push(q, &deadlineItem{key: key, deadline: d})
}

// Unschedule removes key and reports whether it was scheduled
func (q *DeadlineQueue) Unschedule(key uint32) bool {
	it, ok := q.index[key]
	if !ok {
		return false
	}
	heap.Remove(q, it.index)
	return true
}

// Contains reports whether key is scheduled
func (q *DeadlineQueue) Contains(key uint32) bool {
	_, ok := q.index[key]
	return ok
}

// Next returns the earliest deadline
func (q *DeadlineQueue) Next() (uint32, time.Time, bool) {
	if len(q.items) == 0 {
		return 0, time.Time{}, false
	}
	it := q.items[0]
	return it.key, time.Unix(0, it.deadline), true
}

// PopExpired removes and returns every key whose deadline is not after now,
// earliest first
func (q *DeadlineQueue) PopExpired(now time.Time) []uint32 {
	n := now.UnixNano()
	var expired []uint32
	for len(q.items) > 0 && q.items[0].deadline <= n {
		it := heap.Pop(q).(*deadlineItem)
		expired = append(expired, it.key)
	}
	return expired
}

// Reset drops every scheduled key
func (q *DeadlineQueue) Reset() {
	q.items = q.items[:0]
	q.index = make(map[uint32]*deadlineItem)
}
