package chatsock

import (
	"errors"

	"github.com/eapache/queue"
)

// DefaultQueueDepth is the capacity of an endpoint's inbound and outbound queues.
const DefaultQueueDepth = 8

// ErrQueueFull is returned when a frame cannot be queued.
// The frame is not retained; callers treat this as message loss.
var ErrQueueFull = errors.New("chatsock: queue full")

// Queue is a bounded FIFO of buffer handles.
// Enqueue takes a reference; Dequeue hands that reference to the caller.
type Queue struct {
	items    *queue.Queue
	capacity int
}

// NewQueue creates a queue holding at most capacity buffers.
func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = DefaultQueueDepth
	}
	return &Queue{items: queue.New(), capacity: capacity}
}

// Enqueue retains b and appends it. A full queue is left unchanged.
func (q *Queue) Enqueue(b *Buffer) error {
	if q.Full() {
		return ErrQueueFull
	}
	q.items.Add(b.Retain())
	return nil
}

// Dequeue removes the head. The caller must Release it once consumed.
func (q *Queue) Dequeue() (*Buffer, bool) {
	if q.items.Length() == 0 {
		return nil, false
	}
	return q.items.Remove().(*Buffer), true
}

// Peek returns the head without removing it.
func (q *Queue) Peek() (*Buffer, bool) {
	if q.items.Length() == 0 {
		return nil, false
	}
	return q.items.Peek().(*Buffer), true
}

// Len returns the number of queued buffers.
func (q *Queue) Len() int {
	return q.items.Length()
}

// Cap returns the queue capacity.
func (q *Queue) Cap() int {
	return q.capacity
}

// Full reports whether another Enqueue would fail.
func (q *Queue) Full() bool {
	return q.items.Length() >= q.capacity
}

// Reset releases every queued buffer and returns how many there were.
func (q *Queue) Reset() int {
	n := 0
	for q.items.Length() > 0 {
		q.items.Remove().(*Buffer).Release()
		n++
	}
	return n
}
