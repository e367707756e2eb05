package stores

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/oarkflow/bugtrack"
)

func TestSQLUserStore(t *testing.T) {
	ctx := context.Background()
	users := NewSQLUserStore(newTestDB(t))
	sent := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	u := &bugtrack.User{Email: "alice@example.com", Name: "Alice", Roles: []string{"user", "porter"}, PasswordResetToken: "tok", PasswordResetSentAt: sent}
	if err := users.SaveUser(ctx, u); err != nil {
		t.Fatalf("save: %v", err)
	}
	if u.ID == "" {
		t.Fatalf("expected generated id")
	}

	byToken, err := users.FindUserByResetToken(ctx, "tok")
	if err != nil {
		t.Fatalf("by token: %v", err)
	}
	if byToken.ID != u.ID || len(byToken.Roles) != 2 || !byToken.PasswordResetSentAt.Equal(sent) {
		t.Fatalf("unexpected user: %+v", byToken)
	}

	byToken.PasswordResetToken = ""
	byToken.PasswordResetSentAt = time.Time{}
	if err := users.SaveUser(ctx, byToken); err != nil {
		t.Fatalf("update: %v", err)
	}
	if _, err := users.FindUserByResetToken(ctx, "tok"); !errors.Is(err, bugtrack.ErrNotFound) {
		t.Fatalf("cleared token should not be found, got %v", err)
	}
	again, err := users.FindUserByEmail(ctx, "alice@example.com")
	if err != nil || !again.PasswordResetSentAt.IsZero() {
		t.Fatalf("unexpected reload: %+v %v", again, err)
	}
	if _, err := users.GetUser(ctx, "missing"); !errors.Is(err, bugtrack.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := users.FindUserByEmail(ctx, ""); !errors.Is(err, bugtrack.ErrNotFound) {
		t.Fatalf("empty email should be not found, got %v", err)
	}
}

func TestSQLCatalogStore(t *testing.T) {
	ctx := context.Background()
	catalog := NewSQLCatalogStore(newTestDB(t))
	bundle := &bugtrack.Bundle{Name: "Summer", Description: "d", State: bugtrack.BundleActive}
	if err := catalog.SaveBundle(ctx, bundle); err != nil {
		t.Fatalf("save bundle: %v", err)
	}
	game := &bugtrack.Game{Name: "Quest", BundleID: bundle.ID, State: bugtrack.GameTesting}
	if err := catalog.SaveGame(ctx, game); err != nil {
		t.Fatalf("save game: %v", err)
	}
	loose := &bugtrack.Game{Name: "Alone", State: bugtrack.GameNormal}
	if err := catalog.SaveGame(ctx, loose); err != nil {
		t.Fatalf("save game: %v", err)
	}

	got, err := catalog.GetGame(ctx, game.ID)
	if err != nil {
		t.Fatalf("get game: %v", err)
	}
	if got.State != bugtrack.GameTesting || got.Bundle == nil || got.Bundle.State != bugtrack.BundleActive {
		t.Fatalf("game should load with its bundle: %+v", got)
	}
	alone, _ := catalog.GetGame(ctx, loose.ID)
	if alone.Bundle != nil {
		t.Fatalf("game without bundle should have nil bundle")
	}

	b, err := catalog.GetBundle(ctx, bundle.ID)
	if err != nil || len(b.Games) != 1 || b.Games[0].ID != game.ID {
		t.Fatalf("bundle should list its games: %+v %v", b, err)
	}
	all, _ := catalog.ListGames(ctx, "")
	if len(all) != 2 || all[0].Name != "Alone" {
		t.Fatalf("expected games ordered by name, got %+v", all)
	}

	issue := &bugtrack.Issue{GameID: game.ID, Description: "crash", Status: bugtrack.IssueNew}
	if err := catalog.SaveIssue(ctx, issue); err != nil {
		t.Fatalf("save issue: %v", err)
	}
	loaded, err := catalog.GetIssue(ctx, issue.ID)
	if err != nil {
		t.Fatalf("get issue: %v", err)
	}
	if loaded.Status != bugtrack.IssueNew || loaded.Game == nil || loaded.Game.Bundle == nil {
		t.Fatalf("issue should load with game and bundle: %+v", loaded)
	}
	if _, err := catalog.GetIssue(ctx, "missing"); !errors.Is(err, bugtrack.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}

	for _, name := range []string{"crash", "audio"} {
		if err := catalog.SaveTag(ctx, &bugtrack.PredefinedTag{Name: name, Context: "issue"}); err != nil {
			t.Fatalf("save tag: %v", err)
		}
	}
	tags, _ := catalog.ListTags(ctx, "issue")
	if len(tags) != 2 || tags[0].Name != "audio" {
		t.Fatalf("unexpected tags %+v", tags)
	}

	if err := catalog.SavePort(ctx, &bugtrack.Port{GameID: game.ID, PorterID: "p1", SystemID: "linux"}); err != nil {
		t.Fatalf("save port: %v", err)
	}
	ports, err := catalog.ListPortsByPorter(ctx, "p1")
	if err != nil || len(ports) != 1 {
		t.Fatalf("expected one port, got %+v %v", ports, err)
	}
	if ports[0].Game == nil || ports[0].Game.Bundle == nil || ports[0].SystemID != "linux" {
		t.Fatalf("port should load with game: %+v", ports[0])
	}
	byGame, _ := catalog.ListPortsByGame(ctx, game.ID)
	if len(byGame) != 1 || byGame[0].PorterID != "p1" {
		t.Fatalf("unexpected ports by game: %+v", byGame)
	}
}

func TestSQLStoresDriveDecisions(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	catalog := NewSQLCatalogStore(db)
	members := NewSQLRoleMembershipStore(db)

	bundle := &bugtrack.Bundle{Name: "Winter", Description: "d", State: bugtrack.BundlePending}
	_ = catalog.SaveBundle(ctx, bundle)
	game := &bugtrack.Game{Name: "Frost", BundleID: bundle.ID, State: bugtrack.GameTesting}
	_ = catalog.SaveGame(ctx, game)
	_ = catalog.SavePort(ctx, &bugtrack.Port{GameID: game.ID, PorterID: "p1"})
	if err := members.AssignRole(ctx, "p1", "porter"); err != nil {
		t.Fatalf("assign: %v", err)
	}
	if err := members.AssignRole(ctx, "p1", "porter"); err != nil {
		t.Fatalf("assign twice: %v", err)
	}

	p, err := bugtrack.NewRoleResolver(members, catalog).Resolve(ctx, &bugtrack.User{ID: "p1"})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	loaded, _ := catalog.GetGame(ctx, game.ID)
	engine := bugtrack.MustNewEngine(nil)
	defer engine.Close()
	if !engine.Decide(p, bugtrack.ActionRead, loaded).Allowed {
		t.Fatalf("porter should read own game")
	}

	if err := members.RevokeRole(ctx, "p1", "porter"); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	roles, _ := members.ListRoles(ctx, "p1")
	if len(roles) != 0 {
		t.Fatalf("expected no roles after revoke, got %v", roles)
	}
	p, _ = bugtrack.NewRoleResolver(members, catalog).Resolve(ctx, &bugtrack.User{ID: "p1"})
	if engine.Decide(p, bugtrack.ActionRead, loaded).Allowed {
		t.Fatalf("revoked porter must not read the game")
	}
}

func TestSQLCatalogStoreReportsCursorErrors(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	// abs of the smallest integer fails while rows are produced
	for _, stmt := range []string{
		`DROP TABLE predefined_tags`,
		`CREATE VIEW predefined_tags AS SELECT id, name, context FROM (
			SELECT 'a' AS id, 'audio' AS name, 'issue' AS context, 1 AS n
			UNION ALL SELECT 'b', 'crash', 'issue', -9223372036854775807 - 1
		) WHERE abs(n) > 0`,
	} {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			t.Fatalf("prepare schema: %v", err)
		}
	}
	tags, err := NewSQLCatalogStore(db).ListTags(ctx, "issue")
	if err == nil {
		t.Fatalf("expected an error instead of a short result, got %d tags", len(tags))
	}
}
