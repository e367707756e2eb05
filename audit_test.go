package bugtrack_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/oarkflow/bugtrack"
	"github.com/oarkflow/bugtrack/stores"
)

func TestEngineAuditsDecisions(t *testing.T) {
	audit := stores.NewMemoryAuditStore()
	now := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	n := 0
	engine, err := bugtrack.NewEngine(nil,
		bugtrack.WithAuditStore(audit, 16),
		bugtrack.WithClock(func() time.Time { return now }),
		bugtrack.WithTraceIDFunc(func() string { n++; return fmt.Sprintf("evt-%d", n) }),
	)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}

	p := bugtrack.NewPrincipal(&bugtrack.User{ID: "u1", Roles: []string{"user"}})
	active := &bugtrack.Bundle{ID: "b1", State: bugtrack.BundleActive}
	planned := &bugtrack.Bundle{ID: "b2", State: bugtrack.BundlePlanned}
	engine.Decide(p, bugtrack.ActionRead, active)
	engine.Decide(p, bugtrack.ActionRead, planned)
	engine.Close()

	entries, err := engine.GetAccessLog(context.Background(), bugtrack.AuditFilter{UserID: "u1"})
	if err != nil {
		t.Fatalf("access log: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].ID != "evt-1" || !entries[0].Allowed || entries[0].RecordID != "b1" {
		t.Fatalf("unexpected first entry: %+v", entries[0])
	}
	if entries[1].Allowed || entries[1].Entity != bugtrack.EntityBundle || !entries[1].Timestamp.Equal(now) {
		t.Fatalf("unexpected second entry: %+v", entries[1])
	}
	if entries[0].Roles != "user" {
		t.Fatalf("expected roles to be recorded, got %q", entries[0].Roles)
	}

	denied, _ := audit.GetAccessLog(context.Background(), bugtrack.AuditFilter{RecordID: "b2", Limit: 5})
	if len(denied) != 1 || denied[0].MatchedBy != "" {
		t.Fatalf("expected one unmatched denial for b2, got %+v", denied)
	}
}

func TestEngineWithoutAuditHasNoLog(t *testing.T) {
	engine := bugtrack.MustNewEngine(nil)
	defer engine.Close()
	engine.Decide(bugtrack.Anonymous(), bugtrack.ActionRead, bugtrack.EntityBundle)
	entries, err := engine.GetAccessLog(context.Background(), bugtrack.AuditFilter{})
	if err != nil || entries != nil {
		t.Fatalf("expected no log, got %v %v", entries, err)
	}
}

func TestResolverMergesStores(t *testing.T) {
	ctx := context.Background()
	catalog := stores.NewMemoryStore()
	members := stores.NewMemoryRoleMembershipStore()
	bundle := &bugtrack.Bundle{Name: "Spring", Description: "d", State: bugtrack.BundlePlanned}
	if err := catalog.SaveBundle(ctx, bundle); err != nil {
		t.Fatalf("save bundle: %v", err)
	}
	game := &bugtrack.Game{Name: "Quest", BundleID: bundle.ID, State: bugtrack.GameTesting}
	if err := catalog.SaveGame(ctx, game); err != nil {
		t.Fatalf("save game: %v", err)
	}
	if err := catalog.SavePort(ctx, &bugtrack.Port{GameID: game.ID, PorterID: "u1"}); err != nil {
		t.Fatalf("save port: %v", err)
	}
	if err := members.AssignRole(ctx, "u1", "porter"); err != nil {
		t.Fatalf("assign: %v", err)
	}

	p, err := bugtrack.NewRoleResolver(members, catalog).Resolve(ctx, &bugtrack.User{ID: "u1", Roles: []string{"user"}})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if !p.Roles.Has(bugtrack.RolePorter) || !p.Roles.Has(bugtrack.RoleUser) {
		t.Fatalf("expected user and porter roles, got %s", p.Roles)
	}
	if !p.Ports(game.ID) {
		t.Fatalf("expected principal to port %s", game.ID)
	}

	loaded, err := catalog.GetGame(ctx, game.ID)
	if err != nil {
		t.Fatalf("get game: %v", err)
	}
	engine := bugtrack.MustNewEngine(nil)
	defer engine.Close()
	if !engine.Decide(p, bugtrack.ActionRead, loaded).Allowed {
		t.Fatalf("porter should read own game in a planned bundle")
	}
	other := bugtrack.NewPrincipal(&bugtrack.User{ID: "u2", Roles: []string{"user"}})
	if engine.Decide(other, bugtrack.ActionRead, loaded).Allowed {
		t.Fatalf("other users must not read the game")
	}
}
