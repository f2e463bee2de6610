// Package respond produces reply text: preset template rendering lives in
// persona; this package owns the generative path (an OpenAI-compatible chat
// completion call over the conversation context) and output sanitation.
package respond

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"
	"unicode"

	openai "github.com/sashabaranov/go-openai"

	"github.com/onnwee/reply-tender/event"
)

// ErrGeneration wraps backend failures and timeouts. The caller treats it as
// "no response this turn"; the same event is never retried, a late reply to
// a fast-moving chat is worse than none.
var ErrGeneration = errors.New("generation failed")

// GeneratorConfig configures the generative backend call.
type GeneratorConfig struct {
	APIKey      string
	BaseURL     string // OpenAI-compatible endpoint
	Model       string
	Temperature float32
	// Timeout bounds a single completion call.
	Timeout time.Duration
	// MaxReplyRunes trims the sanitized output; 0 means the default of 200.
	MaxReplyRunes int
	// BotName is the display name the bot posts under, given to the model
	// so it does not address itself.
	BotName string
	// Preamble is the personality prompt prefix (persona.LoadCharacter).
	Preamble string
}

// chatBackend is the slice of the OpenAI client the generator needs; a seam
// for tests.
type chatBackend interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// Generator builds prompts from the context snapshot and calls the backend.
type Generator struct {
	backend chatBackend
	cfg     GeneratorConfig

	mu       sync.RWMutex
	preamble string
}

// NewGenerator returns a generator talking to cfg.BaseURL.
func NewGenerator(cfg GeneratorConfig) *Generator {
	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = cfg.BaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxReplyRunes <= 0 {
		cfg.MaxReplyRunes = 200
	}
	return &Generator{
		backend:  openai.NewClientWithConfig(oc),
		cfg:      cfg,
		preamble: cfg.Preamble,
	}
}

// SetPreamble swaps the personality prompt for subsequent generations.
// Safe to call while Generate is running.
func (g *Generator) SetPreamble(p string) {
	g.mu.Lock()
	g.preamble = p
	g.mu.Unlock()
}

// Generate produces a reply to ev using snapshot as conversational context.
// The call is bounded by the configured timeout; failures come back wrapped
// in ErrGeneration.
func (g *Generator) Generate(ctx context.Context, ev event.ChatEvent, snapshot []event.ChatEvent) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, g.cfg.Timeout)
	defer cancel()

	resp, err := g.backend.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: g.cfg.Model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: g.systemPrompt(ev.DisplayName)},
			{Role: openai.ChatMessageRoleUser, Content: g.userPrompt(ev, snapshot)},
		},
		Temperature: g.cfg.Temperature,
		MaxTokens:   500,
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrGeneration, err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%w: empty choices", ErrGeneration)
	}
	reply := Sanitize(stripEcho(resp.Choices[0].Message.Content, ev.DisplayName), g.cfg.MaxReplyRunes)
	if reply == "" {
		return "", fmt.Errorf("%w: empty reply after sanitation", ErrGeneration)
	}
	return reply, nil
}

func (g *Generator) systemPrompt(username string) string {
	g.mu.RLock()
	preamble := g.preamble
	g.mu.RUnlock()

	var b strings.Builder
	b.WriteString(preamble)
	b.WriteString("\n")
	if g.cfg.BotName != "" {
		fmt.Fprintf(&b, "Your username is %q.\n", g.cfg.BotName)
	}
	fmt.Fprintf(&b, "You are replying to a comment from %q.\n", username)
	b.WriteString("Keep the reply friendly, engaging and concise.")
	return b.String()
}

func (g *Generator) userPrompt(ev event.ChatEvent, snapshot []event.ChatEvent) string {
	var b strings.Builder
	if len(snapshot) > 0 {
		b.WriteString("Recent messages:\n")
		for _, c := range snapshot {
			if text := c.Text(); text != "" {
				fmt.Fprintf(&b, "%s: %s\n", c.DisplayName, text)
			}
		}
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "Reply to this comment from %s: %q", ev.DisplayName, ev.Text())
	return b.String()
}

var (
	thinkBlockRe = regexp.MustCompile(`(?s)<think>.*?</think>\s*`)
	spaceRunRe   = regexp.MustCompile(`\s+`)
)

// Sanitize strips reasoning tags and control characters, collapses
// whitespace and trims the result to at most maxRunes runes. Applied to
// everything that reaches the delivery queue.
func Sanitize(s string, maxRunes int) string {
	s = thinkBlockRe.ReplaceAllString(s, "")
	s = strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' {
			return ' '
		}
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, s)
	s = strings.TrimSpace(spaceRunRe.ReplaceAllString(s, " "))
	if maxRunes > 0 {
		if runes := []rune(s); len(runes) > maxRunes {
			s = strings.TrimSpace(string(runes[:maxRunes]))
		}
	}
	return s
}

// stripEcho removes a leading "username:" echo some models prepend.
func stripEcho(s, username string) string {
	trimmed := strings.TrimSpace(s)
	if username == "" {
		return trimmed
	}
	if rest, ok := strings.CutPrefix(trimmed, username); ok {
		rest = strings.TrimLeft(rest, ": ")
		return rest
	}
	return trimmed
}
