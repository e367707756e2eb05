package bugtrack

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestBundleStateParsing(t *testing.T) {
	for _, st := range BundleStates {
		got, err := ParseBundleState(st.String())
		if err != nil || got != st {
			t.Fatalf("parse %s: got %v %v", st, got, err)
		}
	}
	if _, err := ParseBundleState("archived"); err == nil || err.Error() != "state archived is not a valid state" {
		t.Fatalf("unexpected error: %v", err)
	}
	if BundleDevelopment.Label() != "In Development" || BundlePending.Label() != "Pending Release" {
		t.Fatalf("unexpected labels")
	}

	var b Bundle
	if err := json.Unmarshal([]byte(`{"id":"b1","state":"archived"}`), &b); err != nil {
		t.Fatalf("unknown state should decode, got %v", err)
	}
	if b.State != BundleStateUnknown {
		t.Fatalf("expected unknown state, got %v", b.State)
	}
	if err := (&Bundle{ID: "b1", Name: "n", Description: "d"}).Validate(); err == nil {
		t.Fatalf("bundle without a state should not validate")
	}
	if err := (&Bundle{ID: "b1", State: BundleActive}).Validate(); err == nil {
		t.Fatalf("bundle without name should not validate")
	}
}

func TestParseEntityAndRole(t *testing.T) {
	if e, err := ParseEntityType("test_results"); err != nil || e != EntityTestResult {
		t.Fatalf("plural entity: %v %v", e, err)
	}
	if _, err := ParseEntityType("spaceship"); !errors.Is(err, ErrUnknownEntity) {
		t.Fatalf("expected ErrUnknownEntity, got %v", err)
	}
	if r, err := ParseRole("dev"); err != nil || r != RoleDeveloper {
		t.Fatalf("legacy dev tag: %v %v", r, err)
	}
	set := NewRoleSet("admin", "bogus", "user", "admin")
	if set.String() != "user,admin" {
		t.Fatalf("expected sorted, deduplicated roles, got %s", set)
	}
	if NewRoleSet().String() != "unverified" {
		t.Fatalf("empty tags should be unverified")
	}
}

func TestParseAction(t *testing.T) {
	cases := map[string]Action{"show": ActionRead, "new": ActionCreate, "edit": ActionUpdate, "destroy": ActionDelete, "NDA": ActionNDA}
	for in, want := range cases {
		if got, err := ParseAction(in); err != nil || got != want {
			t.Fatalf("ParseAction(%q) = %v %v", in, got, err)
		}
	}
	if _, err := ParseAction("fly"); err == nil {
		t.Fatalf("expected error for unknown action")
	}
}

func TestHostResolution(t *testing.T) {
	b := &Bundle{ID: "b1", State: BundleActive}
	g := &Game{ID: "g1", Bundle: b}
	issue := &Issue{ID: "i1", Game: g}
	note := &Note{ID: "n1", Noteable: issue}
	result := &TestResult{ID: "t1", Release: &Release{ID: "r1", Game: g}}
	for _, target := range []Target{g, issue, note, result} {
		if hostBundle(target) != b {
			t.Fatalf("%s should resolve to bundle b1", target.EntityType())
		}
	}
	if hostGame(&Note{ID: "orphan"}) != nil {
		t.Fatalf("orphan note has no game")
	}
	if (&Release{Checksum: "d41d8cd98f00b204e9800998ecf8427e"}).ChecksumLabel() != "MD5: d41d8cd98f00b204e9800998ecf8427e" {
		t.Fatalf("unexpected checksum label")
	}
}

func TestNoteInheritsIssueVisibility(t *testing.T) {
	e := MustNewEngine(nil)
	defer e.Close()
	p := principalWith("u", "user")
	visible := &Note{ID: "n1", Noteable: &Issue{ID: "i1", Game: gameIn(bundleIn(BundleActive), GameNormal)}}
	hidden := &Note{ID: "n2", Noteable: &Issue{ID: "i2", Game: gameIn(bundleIn(BundlePlanned), GameNormal)}}
	if !e.Decide(p, ActionCreate, visible).Allowed {
		t.Fatalf("user should note issues of an active bundle")
	}
	if e.Decide(p, ActionCreate, hidden).Allowed {
		t.Fatalf("user must not note issues of a planned bundle")
	}
}

func TestHelpers(t *testing.T) {
	e := MustNewEngine(nil)
	defer e.Close()
	d := &Developer{ID: "d1", Name: "Studio", Website: "https://studio.example.com"}
	if l := DeveloperLink(e, principalWith("u", "user"), d); l.Href != "/developers/d1" {
		t.Fatalf("user should link to the studio page, got %+v", l)
	}
	if l := DeveloperLink(e, Anonymous(), d); l.Href != "https://studio.example.com" {
		t.Fatalf("anonymous should link to the website, got %+v", l)
	}
	if l := DeveloperLink(e, Anonymous(), &Developer{ID: "d2", Name: "Quiet"}); l.Href != "" || l.Text != "Quiet" {
		t.Fatalf("expected plain name, got %+v", l)
	}

	tags := []*PredefinedTag{{Name: "crash", Context: "issue"}, {Name: "audio", Context: "issue"}, {Name: "x", Context: "release"}}
	got := TagsForContext(tags, "issue")
	if len(got) != 2 || got[0].Name != "audio" {
		t.Fatalf("unexpected tags %+v", got)
	}
	if s := PlatformList([]*System{{Name: "Linux"}, {Name: "Mac"}}, ""); s != "Linux, Mac" {
		t.Fatalf("unexpected platform list %q", s)
	}
}
