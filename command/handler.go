// Package command implements the operator console: slash commands for
// runtime control, bare text for manual sends.
package command

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/onnwee/reply-tender/delivery"
	"github.com/onnwee/reply-tender/history"
	"github.com/onnwee/reply-tender/persona"
	"github.com/onnwee/reply-tender/pipeline"
	"github.com/onnwee/reply-tender/policy"
	"github.com/onnwee/reply-tender/transport"
)

// ErrExit signals the console loop to stop and the process to shut down.
var ErrExit = errors.New("exit requested")

// Deps are the handles the console operates on. Feed, Worker and StopFeed
// may be nil; the matching commands then report unavailability.
type Deps struct {
	Pipeline      *pipeline.Pipeline
	Engine        *policy.Engine
	History       *history.Store
	Worker        *delivery.Worker
	Presets       *persona.Presets
	CharacterPath string
	// SetCharacter pushes a new persona prompt to the generator; nil when
	// generation is disabled, in which case an edit applies on restart.
	SetCharacter func(string)
	Feed         *transport.Client
	// StopFeed tears down the feed connection without exiting.
	StopFeed func()
}

// Handler executes console lines.
type Handler struct {
	deps Deps
}

// NewHandler builds a handler over deps.
func NewHandler(deps Deps) *Handler {
	return &Handler{deps: deps}
}

const helpText = `commands:
  /help                 show this help
  /stats [reset]        show or reset session counters
  /rate [0..1]          show or set the response rate
  /cooldown [duration]  show or set the reply cooldown (e.g. 5s)
  /send <text>          send text now, ahead of queued replies
  /auto on|off          enable or disable automatic replies
  /clear                clear the conversation context
  /block <user id>      stop replying to a user
  /unblock <user id>    reply to a user again
  /filters              list blocked users
  /presets [reload]     show or reload preset templates
  /character [text]     show the persona prompt, or replace it
  /reconnect            drop and redial the chat feed
  /disconnect           close the chat feed
  /exit                 quit
anything else is sent to chat as-is`

// Execute runs one console line and returns its output. ErrExit is
// returned for /exit.
func (h *Handler) Execute(line string) (string, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return "", nil
	}
	if !strings.HasPrefix(line, "/") {
		if h.deps.Pipeline.SendManual(line) {
			return "queued", nil
		}
		return "", errors.New("nothing to send")
	}

	fields := strings.Fields(line)
	cmd, args := fields[0], fields[1:]
	switch cmd {
	case "/help":
		return helpText, nil
	case "/exit", "/quit":
		return "bye", ErrExit
	case "/stats":
		if len(args) == 1 && args[0] == "reset" {
			h.deps.Pipeline.Stats().Reset()
			return "stats reset", nil
		}
		return h.stats(), nil
	case "/rate":
		return h.rate(args)
	case "/cooldown":
		return h.cooldown(args)
	case "/send":
		if len(args) == 0 {
			return "", errors.New("usage: /send <text>")
		}
		if h.deps.Pipeline.SendManual(strings.Join(args, " ")) {
			return "queued", nil
		}
		return "", errors.New("nothing to send")
	case "/auto":
		return h.auto(args)
	case "/clear":
		h.deps.History.Clear()
		h.deps.Engine.Reset()
		return "context cleared", nil
	case "/block":
		if len(args) != 1 {
			return "", errors.New("usage: /block <user id>")
		}
		return h.block(args[0], true)
	case "/unblock":
		if len(args) != 1 {
			return "", errors.New("usage: /unblock <user id>")
		}
		return h.block(args[0], false)
	case "/filters":
		return h.filters(), nil
	case "/presets":
		return h.presets(args)
	case "/character":
		return h.character(args)
	case "/reconnect":
		if h.deps.Feed == nil {
			return "", errors.New("feed not connected")
		}
		h.deps.Feed.Reconnect()
		return "reconnecting", nil
	case "/disconnect":
		if h.deps.StopFeed == nil {
			return "", errors.New("feed not connected")
		}
		h.deps.StopFeed()
		return "disconnected", nil
	default:
		return "", fmt.Errorf("unknown command %s (try /help)", cmd)
	}
}

func (h *Handler) stats() string {
	snap := h.deps.Pipeline.Stats().Snapshot()
	var b strings.Builder
	fmt.Fprintf(&b, "uptime %s\n", snap.Uptime.Round(time.Second))
	fmt.Fprintf(&b, "events received: %d\n", snap.EventsReceived)
	for _, kind := range sortedKeys(snap.EventsByKind) {
		fmt.Fprintf(&b, "  %s: %d\n", kind, snap.EventsByKind[kind])
	}
	fmt.Fprintf(&b, "replies queued: %s\n", modeLine(snap.QueuedByMode))
	fmt.Fprintf(&b, "replies sent: %s\n", modeLine(snap.SentByMode))
	fmt.Fprintf(&b, "generation failures: %d\n", snap.GenFailures)
	fmt.Fprintf(&b, "delivery drops: %d\n", snap.Dropped)
	fmt.Fprintf(&b, "feed reconnects: %d", snap.Reconnects)
	if h.deps.Feed != nil {
		fmt.Fprintf(&b, "\nfeed health: %s", h.deps.Feed.Health())
	}
	return b.String()
}

func (h *Handler) rate(args []string) (string, error) {
	if len(args) == 0 {
		return fmt.Sprintf("response rate %.2f", h.deps.Engine.Rate()), nil
	}
	v, err := strconv.ParseFloat(args[0], 64)
	if err != nil || v < 0 || v > 1 {
		return "", errors.New("rate must be a number in [0,1]")
	}
	h.deps.Engine.SetRate(v)
	return fmt.Sprintf("response rate set to %.2f", v), nil
}

func (h *Handler) cooldown(args []string) (string, error) {
	if len(args) == 0 {
		return fmt.Sprintf("cooldown %s", h.deps.Engine.Cooldown()), nil
	}
	d, err := time.ParseDuration(args[0])
	if err != nil || d < 0 {
		return "", errors.New("cooldown must be a duration like 5s")
	}
	h.deps.Engine.SetCooldown(d)
	return fmt.Sprintf("cooldown set to %s", d), nil
}

func (h *Handler) auto(args []string) (string, error) {
	if h.deps.Worker == nil {
		return "", errors.New("delivery worker not running")
	}
	if len(args) == 0 {
		if h.deps.Worker.Paused() {
			return "auto replies off", nil
		}
		return "auto replies on", nil
	}
	switch args[0] {
	case "on":
		h.deps.Worker.SetPaused(false)
		return "auto replies on", nil
	case "off":
		h.deps.Worker.SetPaused(true)
		return "auto replies off", nil
	default:
		return "", errors.New("usage: /auto on|off")
	}
}

func (h *Handler) block(userID string, deny bool) (string, error) {
	f := h.deps.Engine.Filter()
	var changed bool
	if deny {
		changed = f.Deny(userID)
	} else {
		changed = f.Undeny(userID)
	}
	if err := f.Save(); err != nil {
		return "", fmt.Errorf("filter saved partially: %w", err)
	}
	switch {
	case deny && changed:
		return fmt.Sprintf("blocked %s", userID), nil
	case deny:
		return fmt.Sprintf("%s already blocked", userID), nil
	case changed:
		return fmt.Sprintf("unblocked %s", userID), nil
	default:
		return fmt.Sprintf("%s was not blocked", userID), nil
	}
}

func (h *Handler) filters() string {
	denied := h.deps.Engine.Filter().Denied()
	if len(denied) == 0 {
		return "no blocked users"
	}
	sort.Strings(denied)
	return "blocked users:\n  " + strings.Join(denied, "\n  ")
}

func (h *Handler) presets(args []string) (string, error) {
	if len(args) == 1 && args[0] == "reload" {
		if err := h.deps.Presets.Reload(); err != nil {
			return "", fmt.Errorf("reload failed: %w", err)
		}
		return "presets reloaded", nil
	}
	return h.deps.Presets.Describe(), nil
}

func (h *Handler) character(args []string) (string, error) {
	if h.deps.CharacterPath == "" {
		return "no character file configured", nil
	}
	if len(args) == 0 {
		prompt, err := persona.LoadCharacter(h.deps.CharacterPath)
		if err != nil {
			return "", err
		}
		return prompt, nil
	}
	prompt := strings.Join(args, " ")
	if err := persona.SaveCharacter(h.deps.CharacterPath, prompt); err != nil {
		return "", err
	}
	if h.deps.SetCharacter == nil {
		return "character saved (applies on restart)", nil
	}
	h.deps.SetCharacter(prompt)
	return "character updated", nil
}

func sortedKeys(m map[string]int64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func modeLine(m map[string]int64) string {
	if len(m) == 0 {
		return "none"
	}
	parts := make([]string, 0, len(m))
	for _, k := range sortedKeys(m) {
		parts = append(parts, fmt.Sprintf("%s=%d", k, m[k]))
	}
	return strings.Join(parts, " ")
}
