// Package ring provides a bounded, append-only ring buffer.
package ring

import "sync"

// Buffer holds at most Cap items, evicting the oldest first.
// It is safe for concurrent use.
type Buffer[T any] struct {
	mu    sync.RWMutex
	items []T
	start int
	size  int
}

// New creates a buffer holding at most capacity items.
// A non-positive capacity is treated as 1.
func New[T any](capacity int) *Buffer[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Buffer[T]{items: make([]T, capacity)}
}

// Push appends an item, evicting the oldest one when full.
func (b *Buffer[T]) Push(item T) {
	b.mu.Lock()
	defer b.mu.Unlock()

	idx := (b.start + b.size) % len(b.items)
	b.items[idx] = item
	if b.size < len(b.items) {
		b.size++
		return
	}
	b.start = (b.start + 1) % len(b.items)
}

// Items returns a copy of the buffered items, oldest first.
func (b *Buffer[T]) Items() []T {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]T, b.size)
	for i := 0; i < b.size; i++ {
		out[i] = b.items[(b.start+i)%len(b.items)]
	}
	return out
}

// Last returns the newest item and whether one exists.
func (b *Buffer[T]) Last() (T, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var zero T
	if b.size == 0 {
		return zero, false
	}
	return b.items[(b.start+b.size-1)%len(b.items)], true
}

// Len returns the number of buffered items.
func (b *Buffer[T]) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.size
}

// Cap returns the maximum number of items.
func (b *Buffer[T]) Cap() int {
	return len(b.items)
}
