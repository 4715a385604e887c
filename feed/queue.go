package feed

import "sync"

// Queue is an unbounded FIFO. Push never blocks; the ring doubles once a
// push would take it past 70% full. Pop blocks until an item arrives or
// the queue is closed.
type Queue[T any] struct {
	mu     sync.Mutex
	cond   *sync.Cond
	ring   []T
	head   int
	size   int
	closed bool

	pushed  int64
	popped  int64
	resizes int
}

// minQueueCap keeps the 70% threshold above one item.
const minQueueCap = 4

func NewQueue[T any](capacity int) *Queue[T] {
	q := &Queue[T]{ring: make([]T, max(capacity, minQueueCap))}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Push appends item. It returns false once the queue is closed.
func (q *Queue[T]) Push(item T) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return false
	}
	if q.size+1 > len(q.ring)*7/10 {
		q.growLocked()
	}
	q.ring[(q.head+q.size)%len(q.ring)] = item
	q.size++
	q.pushed++
	q.cond.Signal()
	return true
}

// Pop removes the oldest item. ok is false when the queue is closed and
// empty.
func (q *Queue[T]) Pop() (item T, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for q.size == 0 && !q.closed {
		q.cond.Wait()
	}
	if q.size == 0 {
		return item, false
	}
	return q.popLocked(), true
}

// Close wakes all waiters. Items already queued can still be popped.
func (q *Queue[T]) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.cond.Broadcast()
}

func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.size
}

type QueueStats struct {
	Len      int
	Capacity int
	Pushed   int64
	Popped   int64
	Resizes  int
}

func (q *Queue[T]) Stats() QueueStats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return QueueStats{
		Len:      q.size,
		Capacity: len(q.ring),
		Pushed:   q.pushed,
		Popped:   q.popped,
		Resizes:  q.resizes,
	}
}

func (q *Queue[T]) popLocked() T {
	var zero T
	item := q.ring[q.head]
	q.ring[q.head] = zero
	q.head = (q.head + 1) % len(q.ring)
	q.size--
	q.popped++
	return item
}

func (q *Queue[T]) growLocked() {
	ring := make([]T, len(q.ring)*2)
	for i := 0; i < q.size; i++ {
		ring[i] = q.ring[(q.head+i)%len(q.ring)]
	}
	q.ring = ring
	q.head = 0
	q.resizes++
}
