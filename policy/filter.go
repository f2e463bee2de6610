package policy

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

// Filter decides which users may receive replies. Deny always wins; when an
// allow list is present, only listed users pass. An empty filter passes
// everyone. The zero value is usable.
type Filter struct {
	mu    sync.RWMutex
	deny  map[string]struct{}
	allow map[string]struct{}
	path  string // backing file; empty means in-memory only
}

// filterFile is the on-disk JSON shape, kept compatible with the original
// filter_list.json layout.
type filterFile struct {
	Filters struct {
		Denied  []string `json:"blocked_vlive_ids"`
		Allowed []string `json:"allowed_vlive_ids,omitempty"`
	} `json:"filters"`
}

// NewFilter returns an empty in-memory filter.
func NewFilter() *Filter {
	return &Filter{deny: make(map[string]struct{}), allow: make(map[string]struct{})}
}

// LoadFilter reads filter rules from path. A missing file yields an empty
// filter bound to that path (it is created on first save).
func LoadFilter(path string) (*Filter, error) {
	f := NewFilter()
	f.path = path
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return f, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read filter file: %w", err)
	}
	var ff filterFile
	if err := json.Unmarshal(data, &ff); err != nil {
		return nil, fmt.Errorf("parse filter file %s: %w", path, err)
	}
	for _, id := range ff.Filters.Denied {
		f.deny[id] = struct{}{}
	}
	for _, id := range ff.Filters.Allowed {
		f.allow[id] = struct{}{}
	}
	return f, nil
}

// Allows reports whether a user id may receive replies. Unknown (empty) user
// ids pass; identity-less events are gated by kind, not by user.
func (f *Filter) Allows(userID string) bool {
	if userID == "" {
		return true
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	if _, denied := f.deny[userID]; denied {
		return false
	}
	if len(f.allow) > 0 {
		_, ok := f.allow[userID]
		return ok
	}
	return true
}

// Deny adds a user to the deny list. Returns false if already denied.
func (f *Filter) Deny(userID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.deny[userID]; ok {
		return false
	}
	f.deny[userID] = struct{}{}
	return true
}

// Undeny removes a user from the deny list. Returns false if not present.
func (f *Filter) Undeny(userID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.deny[userID]; !ok {
		return false
	}
	delete(f.deny, userID)
	return true
}

// Denied returns the deny list, sorted for stable display.
func (f *Filter) Denied() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]string, 0, len(f.deny))
	for id := range f.deny {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Save writes the current rules to the backing file. No-op without a path.
func (f *Filter) Save() error {
	f.mu.RLock()
	path := f.path
	var ff filterFile
	for id := range f.deny {
		ff.Filters.Denied = append(ff.Filters.Denied, id)
	}
	for id := range f.allow {
		ff.Filters.Allowed = append(ff.Filters.Allowed, id)
	}
	f.mu.RUnlock()
	if path == "" {
		return nil
	}
	sort.Strings(ff.Filters.Denied)
	sort.Strings(ff.Filters.Allowed)
	data, err := json.MarshalIndent(ff, "", "  ")
	if err != nil {
		return fmt.Errorf("encode filter file: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("mkdir filter dir: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write filter file: %w", err)
	}
	return nil
}
