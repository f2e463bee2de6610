package respond

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/onnwee/reply-tender/event"
	"github.com/onnwee/reply-tender/testutil"
)

type fakeBackend struct {
	reply   string
	err     error
	lastReq openai.ChatCompletionRequest
	block   bool
}

func (f *fakeBackend) CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	f.lastReq = req
	if f.block {
		<-ctx.Done()
		return openai.ChatCompletionResponse{}, ctx.Err()
	}
	if f.err != nil {
		return openai.ChatCompletionResponse{}, f.err
	}
	return openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{{Message: openai.ChatCompletionMessage{Content: f.reply}}},
	}, nil
}

func testGenerator(backend chatBackend) *Generator {
	g := NewGenerator(GeneratorConfig{
		Model:    "test-model",
		BotName:  "streambot",
		Preamble: "You are a test persona.",
		Timeout:  time.Second,
	})
	g.backend = backend
	return g
}

func textEvent(name, msg string) event.ChatEvent {
	return event.ChatEvent{Kind: event.KindText, DisplayName: name, Payload: event.TextPayload{Message: msg}}
}

func TestSetPreambleAppliesToNextCall(t *testing.T) {
	fb := &fakeBackend{reply: "arr"}
	g := testGenerator(fb)
	g.SetPreamble("You are a pirate.")
	if _, err := g.Generate(context.Background(), textEvent("alice", "hi"), nil); err != nil {
		t.Fatalf("Generate: %v", err)
	}
	sys := fb.lastReq.Messages[0].Content
	if !strings.Contains(sys, "pirate") || strings.Contains(sys, "test persona") {
		t.Errorf("system prompt kept the old preamble: %q", sys)
	}
}

func TestGeneratePromptIncludesContext(t *testing.T) {
	fb := &fakeBackend{reply: "hello there!"}
	g := testGenerator(fb)
	snapshot := []event.ChatEvent{
		textEvent("bob", "first message"),
		textEvent("carol", "second message"),
	}
	got, err := g.Generate(context.Background(), textEvent("alice", "hi bot"), snapshot)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if got != "hello there!" {
		t.Errorf("reply = %q", got)
	}
	if len(fb.lastReq.Messages) != 2 {
		t.Fatalf("messages = %d, want system+user", len(fb.lastReq.Messages))
	}
	sys := fb.lastReq.Messages[0].Content
	if !strings.Contains(sys, "test persona") || !strings.Contains(sys, `"alice"`) {
		t.Errorf("system prompt missing persona or username: %q", sys)
	}
	user := fb.lastReq.Messages[1].Content
	for _, want := range []string{"bob: first message", "carol: second message", "hi bot"} {
		if !strings.Contains(user, want) {
			t.Errorf("user prompt missing %q: %q", want, user)
		}
	}
}

func TestGenerateBackendError(t *testing.T) {
	g := testGenerator(&fakeBackend{err: errors.New("upstream 500")})
	_, err := g.Generate(context.Background(), textEvent("alice", "hi"), nil)
	if !errors.Is(err, ErrGeneration) {
		t.Errorf("error = %v, want ErrGeneration", err)
	}
}

func TestGenerateTimeout(t *testing.T) {
	g := testGenerator(&fakeBackend{block: true})
	g.cfg.Timeout = 20 * time.Millisecond
	start := time.Now()
	_, err := g.Generate(context.Background(), textEvent("alice", "hi"), nil)
	if !errors.Is(err, ErrGeneration) {
		t.Errorf("error = %v, want ErrGeneration", err)
	}
	if time.Since(start) > time.Second {
		t.Error("timeout not enforced")
	}
}

func TestGenerateStripsThinkBlocksAndEcho(t *testing.T) {
	g := testGenerator(&fakeBackend{reply: "<think>internal\nreasoning</think>\nalice: welcome in!"})
	got, err := g.Generate(context.Background(), textEvent("alice", "hi"), nil)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if got != "welcome in!" {
		t.Errorf("reply = %q, want %q", got, "welcome in!")
	}
}

func TestGenerateOverHTTP(t *testing.T) {
	srv := testutil.NewMockOpenAIServer(t, "glad you made it!")
	g := NewGenerator(GeneratorConfig{
		APIKey:   "test-key",
		BaseURL:  srv.URL + "/v1",
		Model:    "test-model",
		BotName:  "streambot",
		Preamble: "You are a test persona.",
		Timeout:  2 * time.Second,
	})
	got, err := g.Generate(context.Background(), textEvent("alice", "just joined"), nil)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if got != "glad you made it!" {
		t.Errorf("reply = %q", got)
	}
	reqs := srv.Requests()
	if len(reqs) != 1 {
		t.Fatalf("requests = %d, want 1", len(reqs))
	}
	if reqs[0]["model"] != "test-model" {
		t.Errorf("model = %v", reqs[0]["model"])
	}
}

func TestSanitize(t *testing.T) {
	tests := []struct {
		name string
		in   string
		max  int
		want string
	}{
		{"collapses whitespace", "a  b\n\nc\td", 0, "a b c d"},
		{"strips control chars", "ok\x00\x07fine", 0, "okfine"},
		{"trims to rune budget", "héllo wörld", 5, "héllo"},
		{"think block removed", "<think>hmm</think>answer", 0, "answer"},
		{"empty stays empty", "  \n ", 0, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Sanitize(tt.in, tt.max); got != tt.want {
				t.Errorf("Sanitize(%q, %d) = %q, want %q", tt.in, tt.max, got, tt.want)
			}
		})
	}
}
