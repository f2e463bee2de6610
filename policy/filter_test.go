package policy

import (
	"path/filepath"
	"testing"
)

func TestFilterDenyUndeny(t *testing.T) {
	f := NewFilter()
	if !f.Allows("u1") {
		t.Error("empty filter should allow everyone")
	}
	if !f.Deny("u1") {
		t.Error("first Deny should report a change")
	}
	if f.Deny("u1") {
		t.Error("second Deny should report no change")
	}
	if f.Allows("u1") {
		t.Error("denied user allowed")
	}
	if !f.Undeny("u1") {
		t.Error("Undeny of denied user should report a change")
	}
	if f.Undeny("u1") {
		t.Error("Undeny of absent user should report no change")
	}
	if !f.Allows("u1") {
		t.Error("user still denied after Undeny")
	}
}

func TestFilterEmptyUserIDPasses(t *testing.T) {
	f := NewFilter()
	f.Deny("someone")
	if !f.Allows("") {
		t.Error("events without a user id must pass the filter")
	}
}

func TestFilterSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cfg", "filter_list.json")
	f, err := LoadFilter(path)
	if err != nil {
		t.Fatalf("LoadFilter on missing file: %v", err)
	}
	f.Deny("u1")
	f.Deny("u2")
	if err := f.Save(); err != nil {
		t.Fatalf("Save: %v", err)
	}

	g, err := LoadFilter(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if g.Allows("u1") || g.Allows("u2") {
		t.Errorf("reloaded filter lost deny entries: denied=%v", g.Denied())
	}
	if !g.Allows("u3") {
		t.Error("reloaded filter denies unlisted user")
	}
	want := []string{"u1", "u2"}
	got := g.Denied()
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Errorf("Denied() = %v, want %v", got, want)
	}
}

func TestFilterAllowList(t *testing.T) {
	f := NewFilter()
	f.allow["vip"] = struct{}{}
	if !f.Allows("vip") {
		t.Error("allow-listed user rejected")
	}
	if f.Allows("rando") {
		t.Error("non-listed user passed while allow list active")
	}
}
