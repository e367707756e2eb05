package bugtrack

import (
	"context"
	"time"
)

// ============================================================================
// STORAGE INTERFACES
// ============================================================================

// UserStore persists accounts. Lookups that match nothing return ErrNotFound.
type UserStore interface {
	GetUser(ctx context.Context, id string) (*User, error)
	FindUserByEmail(ctx context.Context, email string) (*User, error)
	FindUserByResetToken(ctx context.Context, token string) (*User, error)
	SaveUser(ctx context.Context, u *User) error
}

// RoleMembershipStore holds role tags granted outside the user record.
type RoleMembershipStore interface {
	AssignRole(ctx context.Context, userID, role string) error
	RevokeRole(ctx context.Context, userID, role string) error
	ListRoles(ctx context.Context, userID string) ([]string, error)
}

// PortStore persists port assignments.
type PortStore interface {
	SavePort(ctx context.Context, p *Port) error
	GetPort(ctx context.Context, id string) (*Port, error)
	ListPortsByPorter(ctx context.Context, userID string) ([]*Port, error)
	ListPortsByGame(ctx context.Context, gameID string) ([]*Port, error)
}

// CatalogStore persists bundles, games, issues and tags. Loaded games carry
// their bundle and loaded issues carry their game, so decisions can be made
// on the returned snapshot.
type CatalogStore interface {
	SaveBundle(ctx context.Context, b *Bundle) error
	GetBundle(ctx context.Context, id string) (*Bundle, error)
	ListBundles(ctx context.Context) ([]*Bundle, error)
	SaveGame(ctx context.Context, g *Game) error
	GetGame(ctx context.Context, id string) (*Game, error)
	ListGames(ctx context.Context, bundleID string) ([]*Game, error)
	SaveIssue(ctx context.Context, i *Issue) error
	GetIssue(ctx context.Context, id string) (*Issue, error)
	SaveTag(ctx context.Context, t *PredefinedTag) error
	ListTags(ctx context.Context, tagContext string) ([]*PredefinedTag, error)
}

// AuditStore manages decision logs
type AuditStore interface {
	LogDecision(ctx context.Context, entry *AuditEntry) error
	GetAccessLog(ctx context.Context, filter AuditFilter) ([]*AuditEntry, error)
}

// AuditEntry is one logged decision
type AuditEntry struct {
	ID        string     `json:"id"`
	Timestamp time.Time  `json:"timestamp"`
	UserID    string     `json:"user_id"`
	Roles     string     `json:"roles"`
	Action    Action     `json:"action"`
	Entity    EntityType `json:"entity"`
	RecordID  string     `json:"record_id,omitempty"`
	Allowed   bool       `json:"allowed"`
	MatchedBy string     `json:"matched_by,omitempty"`
	Reason    string     `json:"reason"`
}

// AuditFilter for querying audit logs
type AuditFilter struct {
	UserID    string
	Entity    EntityType
	RecordID  string
	Action    Action
	StartTime time.Time
	EndTime   time.Time
	Limit     int
}

// Match reports whether entry passes the filter.
func (f AuditFilter) Match(entry *AuditEntry) bool {
	if f.UserID != "" && entry.UserID != f.UserID {
		return false
	}
	if f.Entity != "" && entry.Entity != f.Entity {
		return false
	}
	if f.RecordID != "" && entry.RecordID != f.RecordID {
		return false
	}
	if f.Action != "" && entry.Action != f.Action {
		return false
	}
	if !f.StartTime.IsZero() && entry.Timestamp.Before(f.StartTime) {
		return false
	}
	if !f.EndTime.IsZero() && entry.Timestamp.After(f.EndTime) {
		return false
	}
	return true
}
