// Package policy decides, per inbound chat event, whether the bot responds
// and how: a preset template for interaction events, a generative call for
// sampled text messages, or nothing. Evaluation is fail-closed: any internal
// problem yields a no-response decision, never a panic up the pipeline.
package policy

import (
	"math/rand"
	"sync"
	"time"

	"github.com/onnwee/reply-tender/event"
)

// Mode says how a reply should be produced.
type Mode int

const (
	ModeNone Mode = iota
	ModePreset
	ModeGenerated
	// ModeManual marks operator-issued sends; the engine never produces it,
	// but it flows through the same OutboundMessage path.
	ModeManual
)

func (m Mode) String() string {
	switch m {
	case ModePreset:
		return "preset"
	case ModeGenerated:
		return "generated"
	case ModeManual:
		return "manual"
	default:
		return "none"
	}
}

// Decision is the per-event outcome of policy evaluation. Ephemeral; nothing
// persists it.
type Decision struct {
	Respond     bool
	Mode        Mode
	TemplateKey string // set for ModePreset
	// Filtered marks a no-response caused by the user deny list, so callers
	// can count suppressions separately from ordinary sampling misses.
	Filtered bool
}

var noResponse = Decision{}

// Config carries the tunables the engine starts with. All of them can be
// changed at runtime through the engine's setters.
type Config struct {
	// ResponseRate is the sampling probability for replying to text events,
	// in [0,1]. It is a global dampener for busy rooms.
	ResponseRate float64
	// Cooldown is the minimum interval between responses. Zero disables it.
	Cooldown time.Duration
	// CooldownBypass lists kinds whose presets ignore the cooldown
	// (typically gift).
	CooldownBypass []event.Kind
	// PresetKinds lists kinds answered with a preset template. Defaults to
	// join/like/follow/gift when nil.
	PresetKinds []event.Kind
	// HistoryCutoff ignores events whose source timestamp predates the
	// connection by more than this grace period; the stream replays recent
	// history on connect and the bot must not answer it.
	HistoryCutoff time.Duration
}

// Engine evaluates events against the current policy configuration. All
// mutable state is owned here and guarded; the ingestion loop and the
// operator command path are the only writers and both go through methods.
type Engine struct {
	mu           sync.Mutex
	rate         float64
	cooldown     time.Duration
	bypass       map[event.Kind]bool
	presetKinds  map[event.Kind]bool
	cutoffGrace  time.Duration
	connectedAt  time.Time
	lastResponse time.Time
	filter       *Filter
	seen         map[string]struct{} // event ids already answered or considered
	randFloat    func() float64
	now          func() time.Time
}

// NewEngine builds an engine from cfg using filter for user rules. A nil
// filter allows everyone.
func NewEngine(cfg Config, filter *Filter) *Engine {
	e := &Engine{
		rate:        clampRate(cfg.ResponseRate),
		cooldown:    cfg.Cooldown,
		bypass:      kindSet(cfg.CooldownBypass),
		presetKinds: kindSet(cfg.PresetKinds),
		cutoffGrace: cfg.HistoryCutoff,
		filter:      filter,
		seen:        make(map[string]struct{}),
		randFloat:   rand.Float64,
		now:         time.Now,
	}
	if filter == nil {
		e.filter = NewFilter()
	}
	if len(e.presetKinds) == 0 {
		e.presetKinds = kindSet([]event.Kind{event.KindJoin, event.KindLike, event.KindFollow, event.KindGift})
	}
	return e
}

// NoteConnected records the connection time used for the history cutoff.
func (e *Engine) NoteConnected(t time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.connectedAt = t
}

// Evaluate produces a decision for ev. It never fails; anything it cannot
// make sense of is a no-response.
func (e *Engine) Evaluate(ev event.ChatEvent) Decision {
	e.mu.Lock()
	defer e.mu.Unlock()

	// Per-event containment: a panic inside evaluation must not take the
	// pipeline down. Fail closed.
	defer func() { _ = recover() }()

	if ev.Self || ev.Kind == event.KindSystem || ev.Kind == event.KindUnknown {
		return noResponse
	}
	if _, dup := e.seen[ev.ID]; dup {
		return noResponse
	}
	if len(e.seen) >= maxSeen {
		e.seen = make(map[string]struct{})
	}
	if !e.connectedAt.IsZero() && ev.Timestamp.Before(e.connectedAt.Add(e.cutoffGrace)) {
		// Replayed history. Everything stamped earlier than connect time
		// plus the grace window is surfaced but never answered.
		return noResponse
	}
	if !e.filter.Allows(ev.UserID) {
		return Decision{Filtered: true}
	}

	now := e.now()
	cooled := e.cooldown > 0 && !e.lastResponse.IsZero() && now.Sub(e.lastResponse) < e.cooldown

	if e.presetKinds[ev.Kind] {
		if cooled && !e.bypass[ev.Kind] {
			return noResponse
		}
		e.seen[ev.ID] = struct{}{}
		e.lastResponse = now
		return Decision{Respond: true, Mode: ModePreset, TemplateKey: ev.Kind.String()}
	}

	if ev.Kind != event.KindText {
		return noResponse
	}
	if e.rate <= 0 || e.randFloat() >= e.rate {
		return noResponse
	}
	if cooled {
		// Cooldown downgrades a would-be generated reply to silence.
		return noResponse
	}
	e.seen[ev.ID] = struct{}{}
	// Reserve the slot at decision time so concurrent generation cannot
	// produce two replies inside one cooldown window.
	e.lastResponse = now
	return Decision{Respond: true, Mode: ModeGenerated}
}

// maxSeen caps the answered-id memory; long sessions would otherwise grow it
// without bound. Duplicate suppression only matters for recent redeliveries.
const maxSeen = 8192

// SetRate updates the response rate, clamped to [0,1].
func (e *Engine) SetRate(r float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rate = clampRate(r)
}

// Rate returns the current response rate.
func (e *Engine) Rate() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.rate
}

// SetCooldown updates the minimum inter-response interval.
func (e *Engine) SetCooldown(d time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if d < 0 {
		d = 0
	}
	e.cooldown = d
}

// Cooldown returns the current cooldown.
func (e *Engine) Cooldown() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cooldown
}

// Filter exposes the user filter for the operator command surface.
func (e *Engine) Filter() *Filter { return e.filter }

// Reset drops the answered-event memory and the cooldown clock. Used by the
// operator clear command together with the context store.
func (e *Engine) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.seen = make(map[string]struct{})
	e.lastResponse = time.Time{}
}

func clampRate(r float64) float64 {
	switch {
	case r < 0:
		return 0
	case r > 1:
		return 1
	default:
		return r
	}
}

func kindSet(kinds []event.Kind) map[event.Kind]bool {
	m := make(map[event.Kind]bool, len(kinds))
	for _, k := range kinds {
		m[k] = true
	}
	return m
}
