package relay

import (
	"sync"
	"time"
)

// Queue is an unbounded, thread-safe FIFO of records. Enqueue never blocks;
// growth is unbounded if the consumer stalls.
type Queue struct {
	mu     sync.Mutex
	items  []Record
	notify chan struct{}
}

// NewQueue creates an empty queue
func NewQueue() *Queue {
	return &Queue{
		notify: make(chan struct{}, 1),
	}
}

// Enqueue appends a record to the tail of the queue
func (q *Queue) Enqueue(rec Record) {
	q.mu.Lock()
	q.items = append(q.items, rec)
	q.mu.Unlock()

	q.signal()
}

// Dequeue removes the head of the queue, waiting up to timeout for a record
// to arrive. The boolean is false when no record became available.
func (q *Queue) Dequeue(timeout time.Duration) (Record, bool) {
	return q.dequeue(timeout, nil)
}

// dequeue is Dequeue with an extra wake-up channel; when cancel is closed the
// wait ends early.
func (q *Queue) dequeue(timeout time.Duration, cancel <-chan struct{}) (Record, bool) {
	if rec, ok := q.pop(); ok {
		return rec, true
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		select {
		case <-q.notify:
			if rec, ok := q.pop(); ok {
				return rec, true
			}
		case <-timer.C:
			return q.pop()
		case <-cancel:
			return q.pop()
		}
	}
}

// Len returns the number of queued records
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *Queue) pop() (Record, bool) {
	q.mu.Lock()
	if len(q.items) == 0 {
		q.mu.Unlock()
		return Record{}, false
	}

	rec := q.items[0]
	q.items[0] = Record{}
	q.items = q.items[1:]
	if len(q.items) == 0 {
		q.items = nil
	}
	more := len(q.items) > 0
	q.mu.Unlock()

	// Another waiter may have lost the wake-up for the remaining items
	if more {
		q.signal()
	}
	return rec, true
}

func (q *Queue) signal() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}
