package queue

import "sync/atomic"

// ring is a bounded MPMC ring buffer using per-cell sequence numbers
// (the Dmitry Vyukov MPMC queue pattern), adapted from
// core/concurrency/lock_free_queue.go. It backs each worker's pinned
// lane: tasks for a single-threaded stage that must run on one
// particular worker (spec.md section 4.2, origin-hash pinning).
type ring[T any] struct {
	head  uint64
	_     [cacheLinePad]byte
	tail  uint64
	_     [cacheLinePad]byte
	mask  uint64
	cells []cell[T]
}

const cacheLinePad = 64

type cell[T any] struct {
	sequence atomic.Uint64
	data     T
}

// newRing creates a ring with capacity rounded up to a power of two.
func newRing[T any](capacity int) *ring[T] {
	if capacity < 2 {
		capacity = 2
	}
	size := 1
	for size < capacity {
		size <<= 1
	}
	r := &ring[T]{
		mask:  uint64(size - 1),
		cells: make([]cell[T], size),
	}
	for i := range r.cells {
		r.cells[i].sequence.Store(uint64(i))
	}
	return r
}

// tryPush enqueues val; returns false if the ring is full.
func (r *ring[T]) tryPush(val T) bool {
	for {
		tail := atomic.LoadUint64(&r.tail)
		idx := tail & r.mask
		c := &r.cells[idx]
		seq := c.sequence.Load()
		diff := int64(seq) - int64(tail)
		switch {
		case diff == 0:
			if atomic.CompareAndSwapUint64(&r.tail, tail, tail+1) {
				c.data = val
				c.sequence.Store(tail + 1)
				return true
			}
		case diff < 0:
			return false
		}
	}
}

// tryPop dequeues an item; ok is false if the ring is empty.
func (r *ring[T]) tryPop() (item T, ok bool) {
	for {
		head := atomic.LoadUint64(&r.head)
		idx := head & r.mask
		c := &r.cells[idx]
		seq := c.sequence.Load()
		diff := int64(seq) - int64(head+1)
		switch {
		case diff == 0:
			if atomic.CompareAndSwapUint64(&r.head, head, head+1) {
				item = c.data
				var zero T
				c.data = zero
				c.sequence.Store(head + r.mask + 1)
				return item, true
			}
		case diff < 0:
			var zero T
			return zero, false
		}
	}
}
