package command

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/onnwee/reply-tender/delivery"
	"github.com/onnwee/reply-tender/event"
	"github.com/onnwee/reply-tender/history"
	"github.com/onnwee/reply-tender/persona"
	"github.com/onnwee/reply-tender/pipeline"
	"github.com/onnwee/reply-tender/policy"
)

type stubGen struct{}

func (stubGen) Generate(ctx context.Context, ev event.ChatEvent, snapshot []event.ChatEvent) (string, error) {
	return "ok", nil
}

func newTestHandler(t *testing.T) (*Handler, *delivery.Queue, *policy.Engine) {
	t.Helper()
	queue := delivery.NewQueue()
	filter, err := policy.LoadFilter(filepath.Join(t.TempDir(), "filters.json"))
	if err != nil {
		t.Fatalf("LoadFilter: %v", err)
	}
	engine := policy.NewEngine(policy.Config{ResponseRate: 0.5, Cooldown: 5 * time.Second}, filter)
	hist := history.NewStore(10)
	p := pipeline.New(pipeline.Config{}, nil, hist, engine, persona.DefaultPresets(), stubGen{}, queue, nil, nil)
	worker := delivery.NewWorker(queue, nopSender{}, delivery.WorkerConfig{})
	h := NewHandler(Deps{
		Pipeline: p,
		Engine:   engine,
		History:  hist,
		Worker:   worker,
		Presets:  persona.DefaultPresets(),
	})
	return h, queue, engine
}

type nopSender struct{}

func (nopSender) Send(ctx context.Context, text string) error { return nil }
func (nopSender) Ready() bool                                 { return true }

func TestBareTextIsManualSend(t *testing.T) {
	h, queue, _ := newTestHandler(t)
	out, err := h.Execute("hello chat")
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if out != "queued" {
		t.Fatalf("out = %q", out)
	}
	m, ok := queue.Dequeue(closedCh())
	if !ok || m.Text != "hello chat" || !m.Priority || m.Mode != "manual" {
		t.Fatalf("queued %+v", m)
	}
}

func TestSendCommand(t *testing.T) {
	h, queue, _ := newTestHandler(t)
	if _, err := h.Execute("/send two words"); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	m, _ := queue.Dequeue(closedCh())
	if m.Text != "two words" {
		t.Fatalf("queued %q", m.Text)
	}
	if _, err := h.Execute("/send"); err == nil {
		t.Fatal("expected usage error for bare /send")
	}
}

func TestRateShowAndSet(t *testing.T) {
	h, _, engine := newTestHandler(t)
	out, err := h.Execute("/rate")
	if err != nil || !strings.Contains(out, "0.50") {
		t.Fatalf("show rate: %q %v", out, err)
	}
	if _, err := h.Execute("/rate 0.9"); err != nil {
		t.Fatalf("set rate: %v", err)
	}
	if got := engine.Rate(); got != 0.9 {
		t.Fatalf("rate = %v", got)
	}
	for _, bad := range []string{"/rate 1.5", "/rate -1", "/rate abc"} {
		if _, err := h.Execute(bad); err == nil {
			t.Fatalf("%s accepted", bad)
		}
	}
}

func TestCooldownShowAndSet(t *testing.T) {
	h, _, engine := newTestHandler(t)
	out, err := h.Execute("/cooldown")
	if err != nil || !strings.Contains(out, "5s") {
		t.Fatalf("show cooldown: %q %v", out, err)
	}
	if _, err := h.Execute("/cooldown 10s"); err != nil {
		t.Fatalf("set cooldown: %v", err)
	}
	if got := engine.Cooldown(); got != 10*time.Second {
		t.Fatalf("cooldown = %v", got)
	}
	if _, err := h.Execute("/cooldown soon"); err == nil {
		t.Fatal("bad duration accepted")
	}
}

func TestBlockUnblockFilters(t *testing.T) {
	h, _, engine := newTestHandler(t)
	if out, err := h.Execute("/block user-9"); err != nil || !strings.Contains(out, "blocked user-9") {
		t.Fatalf("block: %q %v", out, err)
	}
	if engine.Filter().Allows("user-9") {
		t.Fatal("user still allowed after /block")
	}
	if out, _ := h.Execute("/filters"); !strings.Contains(out, "user-9") {
		t.Fatalf("filters output %q", out)
	}
	if out, err := h.Execute("/unblock user-9"); err != nil || !strings.Contains(out, "unblocked") {
		t.Fatalf("unblock: %q %v", out, err)
	}
	if !engine.Filter().Allows("user-9") {
		t.Fatal("user still blocked after /unblock")
	}
	if out, _ := h.Execute("/filters"); out != "no blocked users" {
		t.Fatalf("filters output %q", out)
	}
}

func TestAutoToggle(t *testing.T) {
	h, _, _ := newTestHandler(t)
	if out, err := h.Execute("/auto off"); err != nil || out != "auto replies off" {
		t.Fatalf("auto off: %q %v", out, err)
	}
	if out, _ := h.Execute("/auto"); out != "auto replies off" {
		t.Fatalf("auto show: %q", out)
	}
	if out, err := h.Execute("/auto on"); err != nil || out != "auto replies on" {
		t.Fatalf("auto on: %q %v", out, err)
	}
	if _, err := h.Execute("/auto maybe"); err == nil {
		t.Fatal("bad /auto arg accepted")
	}
}

func TestClear(t *testing.T) {
	h, _, engine := newTestHandler(t)
	h.deps.History.Append(event.ChatEvent{ID: "x", Kind: event.KindText})
	gift := event.ChatEvent{ID: "g1", Kind: event.KindGift, UserID: "u1",
		Payload: event.GiftPayload{GiftID: "rose", Count: 1}}
	if d := engine.Evaluate(gift); !d.Respond {
		t.Fatalf("gift not answered: %+v", d)
	}
	if d := engine.Evaluate(gift); d.Respond {
		t.Fatal("duplicate answered before clear")
	}

	if out, err := h.Execute("/clear"); err != nil || out != "context cleared" {
		t.Fatalf("clear: %q %v", out, err)
	}
	if h.deps.History.Len() != 0 {
		t.Fatal("history not cleared")
	}
	// /clear also resets the engine's answered-event memory and cooldown.
	if d := engine.Evaluate(gift); !d.Respond {
		t.Fatalf("engine memory survived /clear: %+v", d)
	}
}

func TestExitAndUnknown(t *testing.T) {
	h, _, _ := newTestHandler(t)
	if _, err := h.Execute("/exit"); !errors.Is(err, ErrExit) {
		t.Fatalf("exit err = %v", err)
	}
	if _, err := h.Execute("/frobnicate"); err == nil {
		t.Fatal("unknown command accepted")
	}
}

func TestStatsOutput(t *testing.T) {
	h, _, _ := newTestHandler(t)
	h.deps.Pipeline.Stats().NoteEvent(event.KindText)
	h.deps.Pipeline.Stats().NoteQueued("manual")
	out, err := h.Execute("/stats")
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	for _, want := range []string{"events received: 1", "text: 1", "manual=1"} {
		if !strings.Contains(out, want) {
			t.Fatalf("stats output missing %q:\n%s", want, out)
		}
	}

	if out, err := h.Execute("/stats reset"); err != nil || out != "stats reset" {
		t.Fatalf("stats reset: %q %v", out, err)
	}
	if snap := h.deps.Pipeline.Stats().Snapshot(); snap.EventsReceived != 0 {
		t.Fatalf("events after reset = %d", snap.EventsReceived)
	}
}

func TestCharacterCommand(t *testing.T) {
	h, _, _ := newTestHandler(t)
	if out, err := h.Execute("/character"); err != nil || out != "no character file configured" {
		t.Fatalf("character without path: %q %v", out, err)
	}
	path := filepath.Join(t.TempDir(), "character.md")
	if err := os.WriteFile(path, []byte("stay upbeat"), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}
	h.deps.CharacterPath = path
	out, err := h.Execute("/character")
	if err != nil || !strings.Contains(out, "stay upbeat") {
		t.Fatalf("character: %q %v", out, err)
	}
}

func TestCharacterSet(t *testing.T) {
	h, _, _ := newTestHandler(t)
	path := filepath.Join(t.TempDir(), "character.md")
	h.deps.CharacterPath = path

	// Without a generator the new prompt is persisted for the next start.
	out, err := h.Execute("/character be extremely dramatic")
	if err != nil || !strings.Contains(out, "restart") {
		t.Fatalf("set without generator: %q %v", out, err)
	}
	data, err := os.ReadFile(path)
	if err != nil || string(data) != "be extremely dramatic" {
		t.Fatalf("character file = %q, %v", data, err)
	}

	// With a generator hooked up the prompt applies immediately.
	var pushed string
	h.deps.SetCharacter = func(p string) { pushed = p }
	if out, err := h.Execute("/character keep it mellow"); err != nil || out != "character updated" {
		t.Fatalf("set with generator: %q %v", out, err)
	}
	if pushed != "keep it mellow" {
		t.Fatalf("generator got %q", pushed)
	}
	if out, _ := h.Execute("/character"); !strings.Contains(out, "keep it mellow") {
		t.Fatalf("round trip: %q", out)
	}
}

func TestRunConsoleExecutesUntilExit(t *testing.T) {
	h, queue, _ := newTestHandler(t)
	in := strings.NewReader("hello\n/exit\nnever runs\n")
	var out strings.Builder
	err := RunConsole(context.Background(), in, &out, h)
	if !errors.Is(err, ErrExit) {
		t.Fatalf("RunConsole = %v, want ErrExit", err)
	}
	if queue.Len() != 1 {
		t.Fatalf("queue len = %d, want 1 manual send", queue.Len())
	}
	if !strings.Contains(out.String(), "bye") {
		t.Fatalf("output %q missing bye", out.String())
	}
}

// closedCh returns an already-closed done channel for non-blocking dequeues.
func closedCh() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}
