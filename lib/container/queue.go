package container

// UniqueQueue is a queue that has unique items.
// UniqueQueue is a queue, so the value pushed first will popped first.
// Same values cannot be exist in this queue.
type UniqueQueue[T comparable] struct {
	has     map[T]bool
	removed map[T]bool
	first   *queueItem[T]
	last    *queueItem[T]
}

// queueItem is a queueItem that wraps a value.
// It directs the next queueItem, so the queue can traverse.
type queueItem[T comparable] struct {
	v    T
	next *queueItem[T]
}

// NewUniqueQueue creates a new UniqueQueue.
func NewUniqueQueue[T comparable]() *UniqueQueue[T] {
	return &UniqueQueue[T]{
		has:     make(map[T]bool),
		removed: make(map[T]bool),
	}
}

// Push pushs a value to the queue.
// If the same value has already exists in the queue, it does nothing.
func (q *UniqueQueue[T]) Push(v T) {
	if q.removed[v] {
		delete(q.removed, v)
		return
	}
	if q.has[v] {
		return
	}
	q.has[v] = true
	item := &queueItem[T]{v: v}
	if q.first == nil {
		q.first = item
	} else {
		q.last.next = item
	}
	q.last = item
}

// Pop pops a value from the queue.
// The second return value indicates whether the queue gave a value.
// It will clean up any removed value it met.
func (q *UniqueQueue[T]) Pop() (T, bool) {
	for {
		if q.first == nil {
			var zero T
			return zero, false
		}
		v := q.first.v
		if q.first == q.last {
			q.first = nil
			q.last = nil
		} else {
			q.first = q.first.next
		}
		delete(q.has, v)
		if q.removed[v] {
			delete(q.removed, v)
			continue
		}
		return v, true
	}
}

// Remove finds and removes the given value from the queue.
// If the queue has the value, it removes the value and returns true.
// Otherwise, it does nothing and returns false.
// It doesn't remove the element right away.
// Pop will clean removed elements internally.
func (q *UniqueQueue[T]) Remove(v T) bool {
	if !q.has[v] {
		return false
	}
	if q.removed[v] {
		return false
	}
	q.removed[v] = true
	return true
}

// Len returns the number of values currently in the queue,
// not counting values marked as removed.
func (q *UniqueQueue[T]) Len() int {
	return len(q.has) - len(q.removed)
}
