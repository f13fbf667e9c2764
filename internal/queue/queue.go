// Package queue stages work handed from network and HTTP goroutines to the
// simulation goroutine.
package queue

import "sync"

// Staged is a thread-safe FIFO where keyed items supersede each other.
// Unkeyed items always run; of the pending items sharing a key only the
// latest is kept, at the position it was pushed.
type Staged[T any] struct {
	mu    sync.Mutex
	items []entry[T]
}

type entry[T any] struct {
	key  string
	item T
}

// New returns an empty queue.
func New[T any]() *Staged[T] {
	return &Staged[T]{}
}

// Push appends item. A non-empty key removes any pending item with the
// same key first.
func (q *Staged[T]) Push(key string, item T) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if key != "" {
		kept := q.items[:0]
		for _, e := range q.items {
			if e.key != key {
				kept = append(kept, e)
			}
		}
		clear(q.items[len(kept):])
		q.items = kept
	}
	q.items = append(q.items, entry[T]{key: key, item: item})
}

// Drain returns the pending items in order and empties the queue.
func (q *Staged[T]) Drain() []T {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]T, len(q.items))
	for i, e := range q.items {
		out[i] = e.item
	}
	q.items = q.items[:0]
	return out
}
