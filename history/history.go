// Package history holds the bounded conversational context: the last N chat
// events in arrival order, used to build generation prompts. The store is the
// single owner of its buffer; callers only ever see copies.
package history

import (
	"sync"

	"github.com/onnwee/reply-tender/event"
)

// Store is a fixed-capacity FIFO ring of chat events. Appending beyond
// capacity evicts the oldest entry. Safe for concurrent use.
type Store struct {
	mu    sync.Mutex
	buf   []event.ChatEvent
	head  int // index of oldest element
	count int
}

// NewStore returns a store holding at most capacity events. Capacity below 1
// is clamped to 1.
func NewStore(capacity int) *Store {
	if capacity < 1 {
		capacity = 1
	}
	return &Store{buf: make([]event.ChatEvent, capacity)}
}

// Append adds an event, evicting the oldest when full. O(1).
func (s *Store) Append(ev event.ChatEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tail := (s.head + s.count) % len(s.buf)
	s.buf[tail] = ev
	if s.count < len(s.buf) {
		s.count++
	} else {
		s.head = (s.head + 1) % len(s.buf)
	}
}

// Snapshot returns a copy of the buffered events, oldest first. The returned
// slice is owned by the caller; later appends never mutate it, so concurrent
// prompt construction can never observe a partially updated context.
func (s *Store) Snapshot() []event.ChatEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]event.ChatEvent, s.count)
	for i := 0; i < s.count; i++ {
		out[i] = s.buf[(s.head+i)%len(s.buf)]
	}
	return out
}

// Clear empties the buffer.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.head, s.count = 0, 0
}

// Len returns the number of buffered events.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count
}

// Cap returns the configured capacity.
func (s *Store) Cap() int { return len(s.buf) }
