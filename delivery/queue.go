// Package delivery serializes outbound replies onto the single device
// channel. A queue decouples the ingestion pipeline from the slow
// device-automation send; one worker drains it with enforced spacing and
// bounded per-message retry.
package delivery

import (
	"sync"
	"time"
)

// Message is one outbound reply. Consumed exactly once: discarded on
// success, requeued internally by the worker up to its retry limit on
// failure.
type Message struct {
	Text       string
	EnqueuedAt time.Time
	// Mode records how the reply was produced: "preset", "generated" or
	// "manual".
	Mode string
	// SourceEventID links back to the triggering chat event; empty for
	// manual or system sends.
	SourceEventID string
	// Priority messages (operator sends) are drained before any queued
	// background traffic.
	Priority bool
}

// Queue is a FIFO of outbound messages with priority insertion. Priority
// messages form their own FIFO at the head of the queue so interactive
// sends are never starved, while staying ordered among themselves.
type Queue struct {
	mu     sync.Mutex
	items  []Message
	wake   chan struct{}
	closed bool
}

// NewQueue returns an empty open queue.
func NewQueue() *Queue {
	return &Queue{wake: make(chan struct{}, 1)}
}

// Enqueue adds m, stamping EnqueuedAt if unset. Priority messages are
// inserted after any already-queued priority messages, ahead of everything
// else. Returns false if the queue is closed.
func (q *Queue) Enqueue(m Message) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	if m.EnqueuedAt.IsZero() {
		m.EnqueuedAt = time.Now()
	}
	if m.Priority {
		pos := 0
		for pos < len(q.items) && q.items[pos].Priority {
			pos++
		}
		q.items = append(q.items, Message{})
		copy(q.items[pos+1:], q.items[pos:])
		q.items[pos] = m
	} else {
		q.items = append(q.items, m)
	}
	q.mu.Unlock()
	select {
	case q.wake <- struct{}{}:
	default:
	}
	return true
}

// Dequeue removes and returns the head message, blocking until one is
// available, the queue is closed (ok=false once drained), or done is
// closed.
func (q *Queue) Dequeue(done <-chan struct{}) (Message, bool) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			m := q.items[0]
			q.items = q.items[1:]
			q.mu.Unlock()
			return m, true
		}
		closed := q.closed
		q.mu.Unlock()
		if closed {
			return Message{}, false
		}
		select {
		case <-q.wake:
		case <-done:
			return Message{}, false
		}
	}
}

// Len returns the number of queued messages.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Close stops accepting new messages. Already-queued messages can still be
// dequeued.
func (q *Queue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	select {
	case q.wake <- struct{}{}:
	default:
	}
}
