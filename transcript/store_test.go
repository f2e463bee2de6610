package transcript

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/onnwee/reply-tender/event"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "transcript.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func textEvent(id, user, msg string, at time.Time) event.ChatEvent {
	return event.ChatEvent{
		ID:          id,
		Kind:        event.KindText,
		UserID:      user,
		DisplayName: user,
		Payload:     event.TextPayload{Message: msg},
		ReceivedAt:  at,
	}
}

func TestRecordAndQueryEvents(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	base := time.Now().Add(-time.Minute)

	for i, msg := range []string{"first", "second", "third"} {
		ev := textEvent(
			"ev-"+msg, "alice", msg,
			base.Add(time.Duration(i)*time.Second),
		)
		if err := s.RecordEvent(ctx, ev); err != nil {
			t.Fatalf("RecordEvent: %v", err)
		}
	}

	got, err := s.Events(ctx, base.Add(-time.Second), time.Time{}, 0)
	if err != nil {
		t.Fatalf("Events: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d events, want 3", len(got))
	}
	if got[0].Text != "first" || got[2].Text != "third" {
		t.Fatalf("events out of order: %+v", got)
	}
	if got[0].Kind != "text" || got[0].UserID != "alice" {
		t.Fatalf("event fields wrong: %+v", got[0])
	}
}

func TestRecordEventIgnoresDuplicates(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	ev := textEvent("ev-dup", "bob", "hello", time.Now())

	if err := s.RecordEvent(ctx, ev); err != nil {
		t.Fatalf("RecordEvent: %v", err)
	}
	if err := s.RecordEvent(ctx, ev); err != nil {
		t.Fatalf("RecordEvent duplicate: %v", err)
	}
	got, err := s.Events(ctx, time.Now().Add(-time.Hour), time.Time{}, 0)
	if err != nil {
		t.Fatalf("Events: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d events, want 1 after duplicate insert", len(got))
	}
}

func TestEventsRespectsWindowAndLimit(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	base := time.Now().Add(-time.Hour)

	for i := 0; i < 10; i++ {
		ev := textEvent(
			"ev-"+string(rune('a'+i)), "carol", "msg",
			base.Add(time.Duration(i)*time.Minute),
		)
		if err := s.RecordEvent(ctx, ev); err != nil {
			t.Fatalf("RecordEvent: %v", err)
		}
	}

	got, err := s.Events(ctx, base.Add(2*time.Minute), base.Add(5*time.Minute), 0)
	if err != nil {
		t.Fatalf("Events: %v", err)
	}
	if len(got) != 4 {
		t.Fatalf("window returned %d events, want 4", len(got))
	}

	got, err = s.Events(ctx, base, time.Time{}, 3)
	if err != nil {
		t.Fatalf("Events: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("limit returned %d events, want 3", len(got))
	}
}

func TestRecordAndQueryReplies(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now()

	if err := s.RecordReply(ctx, "preset", "thanks for the gift!", "ev-1", now.Add(-2*time.Second)); err != nil {
		t.Fatalf("RecordReply: %v", err)
	}
	if err := s.RecordReply(ctx, "generated", "welcome in!", "ev-2", now); err != nil {
		t.Fatalf("RecordReply: %v", err)
	}

	got, err := s.Replies(ctx, 0)
	if err != nil {
		t.Fatalf("Replies: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d replies, want 2", len(got))
	}
	// Newest first.
	if got[0].Mode != "generated" || got[1].Mode != "preset" {
		t.Fatalf("replies out of order: %+v", got)
	}
	if got[1].SourceEventID != "ev-1" {
		t.Fatalf("source event id lost: %+v", got[1])
	}
}

func TestCleanupBefore(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	old := time.Now().Add(-48 * time.Hour)
	recent := time.Now()

	if err := s.RecordEvent(ctx, textEvent("ev-old", "d", "old", old)); err != nil {
		t.Fatalf("RecordEvent: %v", err)
	}
	if err := s.RecordEvent(ctx, textEvent("ev-new", "d", "new", recent)); err != nil {
		t.Fatalf("RecordEvent: %v", err)
	}
	if err := s.RecordReply(ctx, "manual", "hi", "", old); err != nil {
		t.Fatalf("RecordReply: %v", err)
	}

	n, err := s.CleanupBefore(ctx, time.Now().Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("CleanupBefore: %v", err)
	}
	if n != 2 {
		t.Fatalf("cleaned %d rows, want 2", n)
	}
	got, err := s.Events(ctx, old.Add(-time.Hour), time.Time{}, 0)
	if err != nil {
		t.Fatalf("Events: %v", err)
	}
	if len(got) != 1 || got[0].EventID != "ev-new" {
		t.Fatalf("surviving events %+v, want only ev-new", got)
	}
}

func TestRunRetentionSweepsOldRows(t *testing.T) {
	s := openTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := s.RecordEvent(ctx, textEvent("ev-stale", "d", "stale", time.Now().Add(-48*time.Hour))); err != nil {
		t.Fatalf("RecordEvent: %v", err)
	}
	if err := s.RecordEvent(ctx, textEvent("ev-live", "d", "live", time.Now())); err != nil {
		t.Fatalf("RecordEvent: %v", err)
	}

	// The loop sweeps once on startup, so a long interval still cleans.
	done := make(chan struct{})
	go func() {
		s.RunRetention(ctx, 24*time.Hour, time.Hour)
		close(done)
	}()

	deadline := time.After(2 * time.Second)
	for {
		got, err := s.Events(ctx, time.Now().Add(-72*time.Hour), time.Time{}, 0)
		if err != nil {
			t.Fatalf("Events: %v", err)
		}
		if len(got) == 1 && got[0].EventID == "ev-live" {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("stale row not swept, have %+v", got)
		case <-time.After(10 * time.Millisecond):
		}
	}
	cancel()
	<-done
}
