package bugtrack_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/oarkflow/bugtrack"
	"github.com/oarkflow/bugtrack/stores"
)

const sampleConfig = `
version: 1
engine:
  audit: true
  audit_buffer: 8
  ristretto_num_counter: 1000
  ristretto_max_cost: 100
  ristretto_buffer: 64
  decision_cache_ttl_ms: 500
password_reset:
  expiry: 90m
  base_url: https://tracker.example.com
feedback:
  email: feedback@tracker.example.com
database:
  driver: sqlite
  dsn: ":memory:"
rules:
  - rule predefined_tag unverified allow index,read
memberships:
  - user_id: alice
    role: admin
`

func TestConfigLoadYAML(t *testing.T) {
	cfg, err := bugtrack.NewConfigLoader().LoadYAML([]byte(sampleConfig))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	expiry, err := cfg.ResetExpiry()
	if err != nil || expiry != 90*time.Minute {
		t.Fatalf("expected 90m expiry, got %v %v", expiry, err)
	}
	if cfg.Database.DSN != ":memory:" || cfg.PasswordReset.BaseURL != "https://tracker.example.com" {
		t.Fatalf("unexpected config: %+v", cfg)
	}

	audit := stores.NewMemoryAuditStore()
	engine, err := bugtrack.NewEngineFromConfig(cfg, audit)
	if err != nil {
		t.Fatalf("engine from config: %v", err)
	}
	if !engine.Decide(bugtrack.Anonymous(), bugtrack.ActionRead, &bugtrack.PredefinedTag{ID: "t1"}).Allowed {
		t.Fatalf("extra rule should let anonymous read tags")
	}
	engine.Close()
	entries, _ := audit.GetAccessLog(context.Background(), bugtrack.AuditFilter{})
	if len(entries) != 1 {
		t.Fatalf("expected audit entry, got %d", len(entries))
	}

	members := stores.NewMemoryRoleMembershipStore()
	if err := cfg.ApplyMemberships(context.Background(), members); err != nil {
		t.Fatalf("apply memberships: %v", err)
	}
	roles, _ := members.ListRoles(context.Background(), "alice")
	if len(roles) != 1 || roles[0] != "admin" {
		t.Fatalf("expected alice to be admin, got %v", roles)
	}
}

func TestConfigFeedbackAddress(t *testing.T) {
	cfg := &bugtrack.Config{Feedback: bugtrack.FeedbackConfig{Email: "cfg@example.com"}}
	t.Setenv("FEEDBACK_EMAIL", "")
	if got := cfg.FeedbackAddress(); got != "cfg@example.com" {
		t.Fatalf("expected config address, got %s", got)
	}
	t.Setenv("FEEDBACK_EMAIL", "env@example.com")
	if got := cfg.FeedbackAddress(); got != "env@example.com" {
		t.Fatalf("expected env override, got %s", got)
	}
	t.Setenv("FEEDBACK_EMAIL", "")
	if got := (&bugtrack.Config{}).FeedbackAddress(); got != bugtrack.DefaultFeedbackEmail {
		t.Fatalf("expected default, got %s", got)
	}
}

func TestConfigErrors(t *testing.T) {
	bad := &bugtrack.Config{PasswordReset: bugtrack.PasswordResetConfig{Expiry: "soon"}}
	if _, err := bad.ResetExpiry(); err == nil {
		t.Fatalf("expected error for bad expiry")
	}
	neg := &bugtrack.Config{PasswordReset: bugtrack.PasswordResetConfig{Expiry: "-1h"}}
	if _, err := neg.ResetExpiry(); err == nil {
		t.Fatalf("expected error for negative expiry")
	}
	if d, err := (&bugtrack.Config{}).ResetExpiry(); err != nil || d != bugtrack.DefaultResetExpiry {
		t.Fatalf("expected default expiry, got %v %v", d, err)
	}
	rules := &bugtrack.Config{Rules: []string{"rule game user allow fly"}}
	if _, err := bugtrack.NewEngineFromConfig(rules, nil); err == nil {
		t.Fatalf("expected error for bad extra rule")
	}
	members := &bugtrack.Config{Memberships: []bugtrack.RoleMembership{{UserID: "x", Role: "overlord"}}}
	if err := members.ApplyMemberships(context.Background(), stores.NewMemoryRoleMembershipStore()); err == nil {
		t.Fatalf("expected error for unknown membership role")
	}
}

func TestConfigBuilderRoundTrip(t *testing.T) {
	cfg := bugtrack.NewConfigBuilder().
		ResetExpiry(45*time.Minute).
		ResetBaseURL("https://bugs.example.com").
		Database("sqlite", "file:test.db").
		Redis("localhost:6379", 2, "bt:").
		AddRule("rule system unverified allow index,read").
		AddMembership("bob", "porter").
		EngineSettings(func(e *bugtrack.EngineConfig) { e.Audit = true }).
		Build()

	dir := t.TempDir()
	for _, name := range []string{"config.yaml", "config.json"} {
		var data []byte
		var err error
		if filepath.Ext(name) == ".json" {
			data, err = cfg.ToJSON()
		} else {
			data, err = cfg.ToYAML()
		}
		if err != nil {
			t.Fatalf("%s: encode: %v", name, err)
		}
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, data, 0o644); err != nil {
			t.Fatalf("%s: write: %v", name, err)
		}
		back, err := bugtrack.NewConfigLoader().LoadFile(path)
		if err != nil {
			t.Fatalf("%s: load: %v", name, err)
		}
		if d, _ := back.ResetExpiry(); d != 45*time.Minute {
			t.Fatalf("%s: expiry lost, got %v", name, d)
		}
		if back.Redis.KeyPrefix != "bt:" || back.Redis.DB != 2 || !back.Engine.Audit {
			t.Fatalf("%s: unexpected round trip: %+v", name, back)
		}
		if len(back.Rules) != 1 || len(back.Memberships) != 1 {
			t.Fatalf("%s: rules or memberships lost: %+v", name, back)
		}
	}
}
