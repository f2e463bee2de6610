// Package persona holds the bot's voice: canned reply templates for
// interaction events and the personality preamble used for generated
// replies. Both load from operator-editable files with built-in defaults.
package persona

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// ErrTemplateMissing is returned when no template exists for a key. Callers
// treat it as "no reply this turn", never as a pipeline fault.
var ErrTemplateMissing = errors.New("no preset template for key")

// templateSet is one key's entry in the presets file.
type templateSet struct {
	Description string   `json:"description,omitempty"`
	Replies     []string `json:"replies"`
}

// Presets maps template keys (event kind names) to reply template lists.
// Template text may contain {username}, replaced with the display name of
// the user being answered.
type Presets struct {
	mu   sync.RWMutex
	sets map[string]templateSet
	path string
	pick func(n int) int // index chooser, seam for tests
}

// DefaultPresets returns the built-in template set.
func DefaultPresets() *Presets {
	return &Presets{sets: defaultSets(), pick: rand.Intn}
}

// LoadPresets reads templates from path. When the file does not exist the
// defaults are written there so operators have something to edit.
func LoadPresets(path string) (*Presets, error) {
	p := &Presets{path: path, pick: rand.Intn}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		p.sets = defaultSets()
		if werr := p.save(); werr != nil {
			return nil, werr
		}
		return p, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read presets: %w", err)
	}
	var sets map[string]templateSet
	if err := json.Unmarshal(data, &sets); err != nil {
		return nil, fmt.Errorf("parse presets %s: %w", path, err)
	}
	p.sets = sets
	return p, nil
}

// Render picks one template for key uniformly at random and substitutes
// {username}. Returns ErrTemplateMissing when the key has no usable
// templates.
func (p *Presets) Render(key, username string) (string, error) {
	p.mu.RLock()
	set, ok := p.sets[key]
	p.mu.RUnlock()
	if !ok || len(set.Replies) == 0 {
		return "", fmt.Errorf("%w: %s", ErrTemplateMissing, key)
	}
	tmpl := set.Replies[p.pick(len(set.Replies))]
	return strings.ReplaceAll(tmpl, "{username}", username), nil
}

// Keys returns the configured template keys, sorted.
func (p *Presets) Keys() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	keys := make([]string, 0, len(p.sets))
	for k := range p.sets {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Describe returns a human-readable listing for the operator /presets
// command.
func (p *Presets) Describe() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	var b strings.Builder
	for _, key := range p.keysLocked() {
		set := p.sets[key]
		fmt.Fprintf(&b, "%s (%d templates)", strings.ToUpper(key), len(set.Replies))
		if set.Description != "" {
			fmt.Fprintf(&b, " - %s", set.Description)
		}
		b.WriteString("\n")
		for _, r := range set.Replies {
			fmt.Fprintf(&b, "  - %s\n", r)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

// Reload re-reads the backing file, keeping current templates on failure.
func (p *Presets) Reload() error {
	if p.path == "" {
		return nil
	}
	data, err := os.ReadFile(p.path)
	if err != nil {
		return fmt.Errorf("reload presets: %w", err)
	}
	var sets map[string]templateSet
	if err := json.Unmarshal(data, &sets); err != nil {
		return fmt.Errorf("parse presets %s: %w", p.path, err)
	}
	p.mu.Lock()
	p.sets = sets
	p.mu.Unlock()
	return nil
}

func (p *Presets) keysLocked() []string {
	keys := make([]string, 0, len(p.sets))
	for k := range p.sets {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (p *Presets) save() error {
	if p.path == "" {
		return nil
	}
	p.mu.RLock()
	data, err := json.MarshalIndent(p.sets, "", "  ")
	p.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("encode presets: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(p.path), 0o755); err != nil {
		return fmt.Errorf("mkdir presets dir: %w", err)
	}
	if err := os.WriteFile(p.path, data, 0o644); err != nil {
		return fmt.Errorf("write presets: %w", err)
	}
	return nil
}

func defaultSets() map[string]templateSet {
	return map[string]templateSet{
		"join": {
			Description: "sent when a user joins the stream",
			Replies: []string{
				"Welcome {username}! 😊",
				"Hi {username}, glad you're here!",
				"{username} just joined, welcome! 👋",
			},
		},
		"like": {
			Description: "sent when a user likes the stream",
			Replies: []string{
				"Thanks for the like, {username}! ❤️",
				"{username} sent some love, thank you!",
			},
		},
		"follow": {
			Description: "sent when a user follows",
			Replies: []string{
				"Thank you for following, {username}! 🎉",
				"Welcome aboard, {username}!",
			},
		},
		"gift": {
			Description: "sent when a user sends a gift",
			Replies: []string{
				"Wow, thank you for the gift {username}!",
				"{username}, you're too generous! 🎁",
				"A gift from {username}! Thank you so much!",
			},
		},
	}
}
