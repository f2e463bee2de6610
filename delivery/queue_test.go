package delivery

import (
	"testing"
	"time"
)

func TestQueueFIFO(t *testing.T) {
	q := NewQueue()
	q.Enqueue(Message{Text: "a"})
	q.Enqueue(Message{Text: "b"})
	q.Enqueue(Message{Text: "c"})
	q.Close()
	var got []string
	for {
		msg, ok := q.Dequeue(nil)
		if !ok {
			break
		}
		got = append(got, msg.Text)
	}
	want := []string{"a", "b", "c"}
	if len(got) != len(want) {
		t.Fatalf("drained %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("drained %v, want %v", got, want)
		}
	}
}

func TestQueuePriorityJumpsAhead(t *testing.T) {
	q := NewQueue()
	q.Enqueue(Message{Text: "a"})
	q.Enqueue(Message{Text: "b", Priority: true})
	q.Enqueue(Message{Text: "c"})
	q.Close()
	var got []string
	for {
		msg, ok := q.Dequeue(nil)
		if !ok {
			break
		}
		got = append(got, msg.Text)
	}
	want := []string{"b", "a", "c"}
	for i := range want {
		if i >= len(got) || got[i] != want[i] {
			t.Fatalf("drained %v, want %v", got, want)
		}
	}
}

func TestQueuePriorityMessagesStayOrdered(t *testing.T) {
	q := NewQueue()
	q.Enqueue(Message{Text: "p1", Priority: true})
	q.Enqueue(Message{Text: "n1"})
	q.Enqueue(Message{Text: "p2", Priority: true})
	q.Close()
	var got []string
	for {
		msg, ok := q.Dequeue(nil)
		if !ok {
			break
		}
		got = append(got, msg.Text)
	}
	want := []string{"p1", "p2", "n1"}
	for i := range want {
		if i >= len(got) || got[i] != want[i] {
			t.Fatalf("drained %v, want %v", got, want)
		}
	}
}

func TestQueueDequeueBlocksUntilEnqueue(t *testing.T) {
	q := NewQueue()
	got := make(chan Message, 1)
	go func() {
		msg, ok := q.Dequeue(nil)
		if ok {
			got <- msg
		}
	}()
	time.Sleep(10 * time.Millisecond)
	q.Enqueue(Message{Text: "late"})
	select {
	case msg := <-got:
		if msg.Text != "late" {
			t.Fatalf("got %q, want %q", msg.Text, "late")
		}
	case <-time.After(time.Second):
		t.Fatal("dequeue did not wake on enqueue")
	}
}

func TestQueueDequeueHonorsDone(t *testing.T) {
	q := NewQueue()
	done := make(chan struct{})
	ret := make(chan bool, 1)
	go func() {
		_, ok := q.Dequeue(done)
		ret <- ok
	}()
	close(done)
	select {
	case ok := <-ret:
		if ok {
			t.Fatal("expected ok=false after done closed")
		}
	case <-time.After(time.Second):
		t.Fatal("dequeue did not return after done closed")
	}
}

func TestQueueCloseDrainsThenStops(t *testing.T) {
	q := NewQueue()
	q.Enqueue(Message{Text: "last"})
	q.Close()
	msg, ok := q.Dequeue(nil)
	if !ok || msg.Text != "last" {
		t.Fatalf("expected queued message before close takes effect, got ok=%v msg=%q", ok, msg.Text)
	}
	if _, ok := q.Dequeue(nil); ok {
		t.Fatal("expected ok=false once closed queue is empty")
	}
	// Enqueue after close is a no-op.
	q.Enqueue(Message{Text: "late"})
	if q.Len() != 0 {
		t.Fatalf("enqueue after close added item, len=%d", q.Len())
	}
}

func TestQueueStampsEnqueuedAt(t *testing.T) {
	q := NewQueue()
	before := time.Now()
	q.Enqueue(Message{Text: "a"})
	q.Close()
	msg, _ := q.Dequeue(nil)
	if msg.EnqueuedAt.Before(before) {
		t.Fatalf("EnqueuedAt %v predates Enqueue call", msg.EnqueuedAt)
	}
}
