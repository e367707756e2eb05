package bugtrack

import (
	"fmt"
	"reflect"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
)

// ============================================================================
// ENTITY TYPES
// ============================================================================

// EntityType names a kind of record. An EntityType is itself a Target: it stands
// for the whole class and is used for collection-level checks such as index.
type EntityType string

const (
	EntityBundle        EntityType = "bundle"
	EntityDeveloper     EntityType = "developer"
	EntityGame          EntityType = "game"
	EntityIssue         EntityType = "issue"
	EntityNote          EntityType = "note"
	EntityPort          EntityType = "port"
	EntityPredefinedTag EntityType = "predefined_tag"
	EntityRelease       EntityType = "release"
	EntityTestResult    EntityType = "test_result"
	EntitySystem        EntityType = "system"
	EntityUser          EntityType = "user"
)

// AllEntityTypes lists every entity type in canonical order.
var AllEntityTypes = []EntityType{
	EntityBundle,
	EntityDeveloper,
	EntityGame,
	EntityIssue,
	EntityNote,
	EntityPort,
	EntityPredefinedTag,
	EntityRelease,
	EntityTestResult,
	EntitySystem,
	EntityUser,
}

func (t EntityType) EntityType() EntityType { return t }

func (t EntityType) Valid() bool {
	for _, known := range AllEntityTypes {
		if t == known {
			return true
		}
	}
	return false
}

// ParseEntityType accepts the canonical names plus common plural forms.
func ParseEntityType(s string) (EntityType, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	t := EntityType(strings.TrimSuffix(s, "s"))
	if t.Valid() {
		return t, nil
	}
	if EntityType(s).Valid() {
		return EntityType(s), nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownEntity, s)
}

// Target is anything a decision can be made about: a loaded record or an
// EntityType standing for the whole collection.
type Target interface {
	EntityType() EntityType
}

// Record is a Target backed by a concrete row.
type Record interface {
	Target
	RecordID() string
}

// ============================================================================
// STATES
// ============================================================================

// BundleState is the closed lifecycle of a bundle. The zero value is the
// unknown state produced by malformed data; it never satisfies a guard.
type BundleState uint8

const (
	BundleStateUnknown BundleState = iota
	BundlePlanned
	BundleDevelopment
	BundlePending
	BundleActive
	BundleCompleted
)

// BundleStates lists the valid states in lifecycle order.
var BundleStates = []BundleState{BundlePlanned, BundleDevelopment, BundlePending, BundleActive, BundleCompleted}

func (s BundleState) String() string {
	switch s {
	case BundlePlanned:
		return "planned"
	case BundleDevelopment:
		return "development"
	case BundlePending:
		return "pending"
	case BundleActive:
		return "active"
	case BundleCompleted:
		return "completed"
	case BundleStateUnknown:
		return ""
	}
	return ""
}

// Label is the human readable name shown in listings.
func (s BundleState) Label() string {
	switch s {
	case BundlePlanned:
		return "Planned"
	case BundleDevelopment:
		return "In Development"
	case BundlePending:
		return "Pending Release"
	case BundleActive:
		return "Active"
	case BundleCompleted:
		return "Completed"
	case BundleStateUnknown:
		return "Unknown"
	}
	return "Unknown"
}

func ParseBundleState(s string) (BundleState, error) {
	for _, st := range BundleStates {
		if st.String() == strings.TrimSpace(s) {
			return st, nil
		}
	}
	return BundleStateUnknown, fmt.Errorf("state %s is not a valid state", s)
}

func (s BundleState) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// UnmarshalText never fails: unrecognized input decodes to the unknown state.
func (s *BundleState) UnmarshalText(b []byte) error {
	*s, _ = ParseBundleState(string(b))
	return nil
}

// GameState is the closed lifecycle of a game.
type GameState uint8

const (
	GameStateUnknown GameState = iota
	GameNormal
	GameTesting
)

var GameStates = []GameState{GameNormal, GameTesting}

func (s GameState) String() string {
	switch s {
	case GameNormal:
		return "normal"
	case GameTesting:
		return "testing"
	case GameStateUnknown:
		return ""
	}
	return ""
}

func ParseGameState(s string) (GameState, error) {
	for _, st := range GameStates {
		if st.String() == strings.TrimSpace(s) {
			return st, nil
		}
	}
	return GameStateUnknown, fmt.Errorf("game state %q is not a valid state", s)
}

func (s GameState) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *GameState) UnmarshalText(b []byte) error {
	*s, _ = ParseGameState(string(b))
	return nil
}

// IssueStatus tracks an issue through triage.
type IssueStatus uint8

const (
	IssueStatusUnknown IssueStatus = iota
	IssueNew
	IssueConfirmed
	IssueFixed
	IssueVerified
	IssueClosed
)

var IssueStatuses = []IssueStatus{IssueNew, IssueConfirmed, IssueFixed, IssueVerified, IssueClosed}

func (s IssueStatus) String() string {
	switch s {
	case IssueNew:
		return "new"
	case IssueConfirmed:
		return "confirmed"
	case IssueFixed:
		return "fixed"
	case IssueVerified:
		return "verified"
	case IssueClosed:
		return "closed"
	case IssueStatusUnknown:
		return ""
	}
	return ""
}

func ParseIssueStatus(s string) (IssueStatus, error) {
	for _, st := range IssueStatuses {
		if st.String() == strings.TrimSpace(s) {
			return st, nil
		}
	}
	return IssueStatusUnknown, fmt.Errorf("issue status %q is not a valid status", s)
}

func (s IssueStatus) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *IssueStatus) UnmarshalText(b []byte) error {
	*s, _ = ParseIssueStatus(string(b))
	return nil
}

// ============================================================================
// RECORDS
// ============================================================================

type User struct {
	ID                  string    `json:"id"`
	Email               string    `json:"email"`
	Name                string    `json:"name"`
	Roles               []string  `json:"roles"`
	DeveloperID         string    `json:"developer_id,omitempty"`
	PasswordHash        string    `json:"-"`
	PasswordResetToken  string    `json:"-"`
	PasswordResetSentAt time.Time `json:"-"`
}

func (u *User) EntityType() EntityType { return EntityUser }
func (u *User) RecordID() string       { return u.ID }

// SetPassword stores a bcrypt hash of password.
func (u *User) SetPassword(password string, cost int) error {
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	u.PasswordHash = string(hash)
	return nil
}

func (u *User) CheckPassword(password string) bool {
	if u.PasswordHash == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) == nil
}

// Developer is a studio account.
type Developer struct {
	ID                 string `json:"id"`
	Name               string `json:"name"`
	Website            string `json:"website,omitempty"`
	TimeZone           string `json:"time_zone,omitempty"`
	Address            string `json:"address,omitempty"`
	ContactInformation string `json:"contact_information,omitempty"`
}

func (d *Developer) EntityType() EntityType { return EntityDeveloper }
func (d *Developer) RecordID() string       { return d.ID }

// System is a target platform.
type System struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

func (s *System) EntityType() EntityType { return EntitySystem }
func (s *System) RecordID() string       { return s.ID }

type Bundle struct {
	ID          string      `json:"id"`
	Name        string      `json:"name"`
	Description string      `json:"description"`
	State       BundleState `json:"state"`
	Games       []*Game     `json:"games,omitempty"`
}

func (b *Bundle) EntityType() EntityType { return EntityBundle }
func (b *Bundle) RecordID() string       { return b.ID }

func (b *Bundle) Validate() error {
	var missing []string
	if strings.TrimSpace(b.Name) == "" {
		missing = append(missing, "name")
	}
	if strings.TrimSpace(b.Description) == "" {
		missing = append(missing, "description")
	}
	if len(missing) > 0 {
		return fmt.Errorf("bundle %s: missing %s", b.ID, strings.Join(missing, ", "))
	}
	if b.State == BundleStateUnknown {
		return fmt.Errorf("bundle %s: state is not a valid state", b.ID)
	}
	return nil
}

type Game struct {
	ID       string    `json:"id"`
	Name     string    `json:"name"`
	BundleID string    `json:"bundle_id,omitempty"`
	Bundle   *Bundle   `json:"bundle,omitempty"`
	State    GameState `json:"state"`
}

func (g *Game) EntityType() EntityType { return EntityGame }
func (g *Game) RecordID() string       { return g.ID }

// Port assigns a porter to a game on one system.
type Port struct {
	ID       string `json:"id"`
	GameID   string `json:"game_id"`
	Game     *Game  `json:"game,omitempty"`
	PorterID string `json:"porter_id"`
	SystemID string `json:"system_id,omitempty"`
}

func (p *Port) EntityType() EntityType { return EntityPort }
func (p *Port) RecordID() string       { return p.ID }

// Noteable is a record notes can be attached to.
type Noteable interface {
	Record
	HostGame() *Game
}

type Issue struct {
	ID                string      `json:"id"`
	GameID            string      `json:"game_id"`
	Game              *Game       `json:"game,omitempty"`
	Description       string      `json:"description"`
	Status            IssueStatus `json:"status"`
	ReportedAgainstID string      `json:"reported_against_id,omitempty"`
	FixedInID         string      `json:"fixed_in_id,omitempty"`
}

func (i *Issue) EntityType() EntityType { return EntityIssue }
func (i *Issue) RecordID() string       { return i.ID }

func (i *Issue) HostGame() *Game {
	if i == nil {
		return nil
	}
	if i.Game != nil {
		return i.Game
	}
	if i.GameID != "" {
		return &Game{ID: i.GameID}
	}
	return nil
}

type Note struct {
	ID       string   `json:"id"`
	Noteable Noteable `json:"-"`
	Body     string   `json:"body"`
}

func (n *Note) EntityType() EntityType { return EntityNote }
func (n *Note) RecordID() string       { return n.ID }

type Release struct {
	ID       string `json:"id"`
	GameID   string `json:"game_id"`
	Game     *Game  `json:"game,omitempty"`
	Version  string `json:"version"`
	Checksum string `json:"checksum,omitempty"`
}

func (r *Release) EntityType() EntityType { return EntityRelease }
func (r *Release) RecordID() string       { return r.ID }

// ChecksumLabel names the digest by its length.
func (r *Release) ChecksumLabel() string {
	switch len(r.Checksum) {
	case 32:
		return "MD5: " + r.Checksum
	case 40:
		return "SHA1: " + r.Checksum
	}
	return ""
}

type TestResult struct {
	ID        string   `json:"id"`
	ReleaseID string   `json:"release_id"`
	Release   *Release `json:"release,omitempty"`
	UserID    string   `json:"user_id,omitempty"`
	Passed    bool     `json:"passed"`
	Notes     string   `json:"notes,omitempty"`
}

func (t *TestResult) EntityType() EntityType { return EntityTestResult }
func (t *TestResult) RecordID() string       { return t.ID }

// PredefinedTag is a fixed tag offered for one context, e.g. "issue_category".
type PredefinedTag struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Context string `json:"context"`
}

func (t *PredefinedTag) EntityType() EntityType { return EntityPredefinedTag }
func (t *PredefinedTag) RecordID() string       { return t.ID }

// hostGame returns the game a record hangs off, or nil.
func hostGame(t Target) *Game {
	switch r := t.(type) {
	case *Game:
		return r
	case *Issue:
		return r.HostGame()
	case *Note:
		if r.Noteable == nil || isNilRecord(r.Noteable) {
			return nil
		}
		return r.Noteable.HostGame()
	case *Port:
		if r.Game != nil {
			return r.Game
		}
		if r.GameID != "" {
			return &Game{ID: r.GameID}
		}
	case *Release:
		if r.Game != nil {
			return r.Game
		}
		if r.GameID != "" {
			return &Game{ID: r.GameID}
		}
	case *TestResult:
		if r.Release != nil {
			return hostGame(r.Release)
		}
	}
	return nil
}

// isNilRecord reports whether t is a typed nil pointer, such as the *Issue of
// a failed lookup.
func isNilRecord(t any) bool {
	v := reflect.ValueOf(t)
	return v.Kind() == reflect.Pointer && v.IsNil()
}

// hostBundle returns the bundle governing a record's visibility, or nil.
func hostBundle(t Target) *Bundle {
	if b, ok := t.(*Bundle); ok {
		return b
	}
	if g := hostGame(t); g != nil {
		return g.Bundle
	}
	return nil
}

// NewRecord returns an empty record of the given type, ready for decoding.
func NewRecord(t EntityType) (Record, error) {
	switch t {
	case EntityBundle:
		return &Bundle{}, nil
	case EntityDeveloper:
		return &Developer{}, nil
	case EntityGame:
		return &Game{}, nil
	case EntityIssue:
		return &Issue{}, nil
	case EntityNote:
		return &Note{}, nil
	case EntityPort:
		return &Port{}, nil
	case EntityPredefinedTag:
		return &PredefinedTag{}, nil
	case EntityRelease:
		return &Release{}, nil
	case EntityTestResult:
		return &TestResult{}, nil
	case EntitySystem:
		return &System{}, nil
	case EntityUser:
		return &User{}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownEntity, t)
}
