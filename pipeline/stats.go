package pipeline

import (
	"sync"
	"time"

	"github.com/onnwee/reply-tender/event"
)

// Stats accumulates session counters. All methods are safe for concurrent
// use; the pipeline, the delivery worker and the command handler all
// touch it.
type Stats struct {
	mu sync.Mutex

	started time.Time

	eventsReceived int64
	eventsByKind   map[event.Kind]int64
	queuedByMode   map[string]int64
	sentByMode     map[string]int64
	genFailures    int64
	dropped        int64
	filtered       int64
	reconnects     int64
}

// Snapshot is a point-in-time copy of the counters.
type Snapshot struct {
	Uptime         time.Duration
	EventsReceived int64
	EventsByKind   map[string]int64
	QueuedByMode   map[string]int64
	SentByMode     map[string]int64
	GenFailures    int64
	Dropped        int64
	Filtered       int64
	Reconnects     int64
}

// NewStats returns zeroed stats with the uptime clock started.
func NewStats() *Stats {
	return &Stats{
		started:      time.Now(),
		eventsByKind: make(map[event.Kind]int64),
		queuedByMode: make(map[string]int64),
		sentByMode:   make(map[string]int64),
	}
}

func (s *Stats) NoteEvent(kind event.Kind) {
	s.mu.Lock()
	s.eventsReceived++
	s.eventsByKind[kind]++
	s.mu.Unlock()
}

func (s *Stats) NoteQueued(mode string) {
	s.mu.Lock()
	s.queuedByMode[mode]++
	s.mu.Unlock()
}

func (s *Stats) NoteSent(mode string) {
	s.mu.Lock()
	s.sentByMode[mode]++
	s.mu.Unlock()
}

func (s *Stats) NoteGenFailure() {
	s.mu.Lock()
	s.genFailures++
	s.mu.Unlock()
}

func (s *Stats) NoteDropped() {
	s.mu.Lock()
	s.dropped++
	s.mu.Unlock()
}

func (s *Stats) NoteFiltered() {
	s.mu.Lock()
	s.filtered++
	s.mu.Unlock()
}

func (s *Stats) NoteReconnect() {
	s.mu.Lock()
	s.reconnects++
	s.mu.Unlock()
}

// Snapshot copies the counters out.
func (s *Stats) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := Snapshot{
		Uptime:         time.Since(s.started),
		EventsReceived: s.eventsReceived,
		EventsByKind:   make(map[string]int64, len(s.eventsByKind)),
		QueuedByMode:   make(map[string]int64, len(s.queuedByMode)),
		SentByMode:     make(map[string]int64, len(s.sentByMode)),
		GenFailures:    s.genFailures,
		Dropped:        s.dropped,
		Filtered:       s.filtered,
		Reconnects:     s.reconnects,
	}
	for k, v := range s.eventsByKind {
		snap.EventsByKind[k.String()] = v
	}
	for k, v := range s.queuedByMode {
		snap.QueuedByMode[k] = v
	}
	for k, v := range s.sentByMode {
		snap.SentByMode[k] = v
	}
	return snap
}

// Reset zeroes every counter and restarts the uptime clock.
func (s *Stats) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.started = time.Now()
	s.eventsReceived = 0
	s.eventsByKind = make(map[event.Kind]int64)
	s.queuedByMode = make(map[string]int64)
	s.sentByMode = make(map[string]int64)
	s.genFailures = 0
	s.dropped = 0
	s.filtered = 0
	s.reconnects = 0
}
