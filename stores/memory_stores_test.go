package stores

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/oarkflow/bugtrack"
)

func TestMemoryStoreCopies(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	b := &bugtrack.Bundle{Name: "Summer", Description: "d", State: bugtrack.BundleActive}
	_ = s.SaveBundle(ctx, b)
	g := &bugtrack.Game{Name: "Quest", BundleID: b.ID, State: bugtrack.GameNormal}
	_ = s.SaveGame(ctx, g)

	loaded, err := s.GetGame(ctx, g.ID)
	if err != nil {
		t.Fatalf("get game: %v", err)
	}
	loaded.Bundle.State = bugtrack.BundleCompleted
	again, _ := s.GetGame(ctx, g.ID)
	if again.Bundle.State != bugtrack.BundleActive {
		t.Fatalf("mutating a loaded record must not change the store")
	}

	bundle, _ := s.GetBundle(ctx, b.ID)
	if len(bundle.Games) != 1 {
		t.Fatalf("expected bundle games, got %+v", bundle.Games)
	}
	if _, err := s.GetBundle(ctx, "missing"); !errors.Is(err, bugtrack.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestMemoryStoreUsers(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	if err := s.SaveUser(ctx, &bugtrack.User{ID: "u1", Email: "a@example.com"}); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := s.SaveUser(ctx, &bugtrack.User{ID: "u2", Email: "a@example.com"}); err == nil {
		t.Fatalf("duplicate email should fail")
	}
	if _, err := s.FindUserByResetToken(ctx, ""); !errors.Is(err, bugtrack.ErrNotFound) {
		t.Fatalf("empty token should not match, got %v", err)
	}
	u, err := s.FindUserByEmail(ctx, "a@example.com")
	if err != nil || u.ID != "u1" {
		t.Fatalf("find by email: %+v %v", u, err)
	}
}

func TestMemoryAuditStoreFilter(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryAuditStore()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, user := range []string{"a", "b", "a", "a"} {
		_ = s.LogDecision(ctx, &bugtrack.AuditEntry{ID: string(rune('1' + i)), UserID: user, Timestamp: base.Add(time.Duration(i) * time.Hour)})
	}
	got, _ := s.GetAccessLog(ctx, bugtrack.AuditFilter{UserID: "a", Limit: 2})
	if len(got) != 2 || got[0].ID != "1" || got[1].ID != "3" {
		t.Fatalf("unexpected entries %+v", got)
	}
	got, _ = s.GetAccessLog(ctx, bugtrack.AuditFilter{StartTime: base.Add(2 * time.Hour)})
	if len(got) != 2 {
		t.Fatalf("expected two entries after start, got %d", len(got))
	}
}

func TestMemoryRoleMembershipStore(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryRoleMembershipStore()
	_ = m.AssignRole(ctx, "u1", "porter")
	_ = m.AssignRole(ctx, "u1", "developer")
	_ = m.RevokeRole(ctx, "u1", "porter")
	_ = m.RevokeRole(ctx, "nobody", "porter")
	roles, _ := m.ListRoles(ctx, "u1")
	if len(roles) != 1 || roles[0] != "developer" {
		t.Fatalf("unexpected roles %v", roles)
	}
}
