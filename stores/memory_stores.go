package stores

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/oarkflow/bugtrack"
)

// MemoryStore keeps users, ports and the catalog in memory for tests and
// demos. Returned records are copies; loaded games carry their bundle.
type MemoryStore struct {
	mu      sync.RWMutex
	users   map[string]*bugtrack.User
	bundles map[string]*bugtrack.Bundle
	games   map[string]*bugtrack.Game
	ports   map[string]*bugtrack.Port
	issues  map[string]*bugtrack.Issue
	tags    map[string]*bugtrack.PredefinedTag
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:   make(map[string]*bugtrack.User),
		bundles: make(map[string]*bugtrack.Bundle),
		games:   make(map[string]*bugtrack.Game),
		ports:   make(map[string]*bugtrack.Port),
		issues:  make(map[string]*bugtrack.Issue),
		tags:    make(map[string]*bugtrack.PredefinedTag),
	}
}

func (s *MemoryStore) SaveUser(ctx context.Context, u *bugtrack.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	for id, other := range s.users {
		if id != u.ID && other.Email == u.Email {
			return fmt.Errorf("email %s already taken", u.Email)
		}
	}
	dup := *u
	dup.Roles = append([]string(nil), u.Roles...)
	s.users[u.ID] = &dup
	return nil
}

func (s *MemoryStore) GetUser(ctx context.Context, id string) (*bugtrack.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return nil, fmt.Errorf("user %s: %w", id, bugtrack.ErrNotFound)
	}
	dup := *u
	return &dup, nil
}

func (s *MemoryStore) FindUserByEmail(ctx context.Context, email string) (*bugtrack.User, error) {
	return s.findUser(func(u *bugtrack.User) bool { return email != "" && u.Email == email }, "email "+email)
}

func (s *MemoryStore) FindUserByResetToken(ctx context.Context, token string) (*bugtrack.User, error) {
	return s.findUser(func(u *bugtrack.User) bool { return token != "" && u.PasswordResetToken == token }, "reset token")
}

func (s *MemoryStore) findUser(match func(*bugtrack.User) bool, what string) (*bugtrack.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, u := range s.users {
		if match(u) {
			dup := *u
			return &dup, nil
		}
	}
	return nil, fmt.Errorf("user with %s: %w", what, bugtrack.ErrNotFound)
}

func (s *MemoryStore) SaveBundle(ctx context.Context, b *bugtrack.Bundle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	dup := *b
	dup.Games = nil
	s.bundles[b.ID] = &dup
	return nil
}

func (s *MemoryStore) GetBundle(ctx context.Context, id string) (*bugtrack.Bundle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.bundles[id]
	if !ok {
		return nil, fmt.Errorf("bundle %s: %w", id, bugtrack.ErrNotFound)
	}
	dup := *b
	for _, g := range s.sortedGames() {
		if g.BundleID == id {
			dup.Games = append(dup.Games, s.loadGame(g))
		}
	}
	return &dup, nil
}

func (s *MemoryStore) ListBundles(ctx context.Context) ([]*bugtrack.Bundle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*bugtrack.Bundle, 0, len(s.bundles))
	for _, b := range s.bundles {
		dup := *b
		out = append(out, &dup)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *MemoryStore) SaveGame(ctx context.Context, g *bugtrack.Game) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if g.ID == "" {
		g.ID = uuid.NewString()
	}
	dup := *g
	if dup.Bundle != nil && dup.BundleID == "" {
		dup.BundleID = dup.Bundle.ID
	}
	dup.Bundle = nil
	s.games[g.ID] = &dup
	return nil
}

func (s *MemoryStore) GetGame(ctx context.Context, id string) (*bugtrack.Game, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	g, ok := s.games[id]
	if !ok {
		return nil, fmt.Errorf("game %s: %w", id, bugtrack.ErrNotFound)
	}
	return s.loadGame(g), nil
}

func (s *MemoryStore) ListGames(ctx context.Context, bundleID string) ([]*bugtrack.Game, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*bugtrack.Game, 0)
	for _, g := range s.sortedGames() {
		if bundleID == "" || g.BundleID == bundleID {
			out = append(out, s.loadGame(g))
		}
	}
	return out, nil
}

func (s *MemoryStore) sortedGames() []*bugtrack.Game {
	games := make([]*bugtrack.Game, 0, len(s.games))
	for _, g := range s.games {
		games = append(games, g)
	}
	sort.Slice(games, func(i, j int) bool { return games[i].Name < games[j].Name })
	return games
}

// loadGame copies g and attaches its bundle. Callers hold the lock.
func (s *MemoryStore) loadGame(g *bugtrack.Game) *bugtrack.Game {
	dup := *g
	if b, ok := s.bundles[g.BundleID]; ok {
		bd := *b
		bd.Games = nil
		dup.Bundle = &bd
	}
	return &dup
}

func (s *MemoryStore) SaveIssue(ctx context.Context, i *bugtrack.Issue) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i.ID == "" {
		i.ID = uuid.NewString()
	}
	dup := *i
	dup.Game = nil
	s.issues[i.ID] = &dup
	return nil
}

func (s *MemoryStore) GetIssue(ctx context.Context, id string) (*bugtrack.Issue, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i, ok := s.issues[id]
	if !ok {
		return nil, fmt.Errorf("issue %s: %w", id, bugtrack.ErrNotFound)
	}
	dup := *i
	if g, ok := s.games[i.GameID]; ok {
		dup.Game = s.loadGame(g)
	}
	return &dup, nil
}

func (s *MemoryStore) SaveTag(ctx context.Context, t *bugtrack.PredefinedTag) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	dup := *t
	s.tags[t.ID] = &dup
	return nil
}

func (s *MemoryStore) ListTags(ctx context.Context, tagContext string) ([]*bugtrack.PredefinedTag, error) {
	s.mu.RLock()
	all := make([]*bugtrack.PredefinedTag, 0, len(s.tags))
	for _, t := range s.tags {
		dup := *t
		all = append(all, &dup)
	}
	s.mu.RUnlock()
	return bugtrack.TagsForContext(all, tagContext), nil
}

func (s *MemoryStore) SavePort(ctx context.Context, p *bugtrack.Port) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	dup := *p
	dup.Game = nil
	s.ports[p.ID] = &dup
	return nil
}

func (s *MemoryStore) GetPort(ctx context.Context, id string) (*bugtrack.Port, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.ports[id]
	if !ok {
		return nil, fmt.Errorf("port %s: %w", id, bugtrack.ErrNotFound)
	}
	return s.loadPort(p), nil
}

func (s *MemoryStore) ListPortsByPorter(ctx context.Context, userID string) ([]*bugtrack.Port, error) {
	return s.listPorts(func(p *bugtrack.Port) bool { return p.PorterID == userID }), nil
}

func (s *MemoryStore) ListPortsByGame(ctx context.Context, gameID string) ([]*bugtrack.Port, error) {
	return s.listPorts(func(p *bugtrack.Port) bool { return p.GameID == gameID }), nil
}

func (s *MemoryStore) listPorts(match func(*bugtrack.Port) bool) []*bugtrack.Port {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*bugtrack.Port, 0)
	for _, p := range s.ports {
		if match(p) {
			out = append(out, s.loadPort(p))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *MemoryStore) loadPort(p *bugtrack.Port) *bugtrack.Port {
	dup := *p
	if g, ok := s.games[p.GameID]; ok {
		dup.Game = s.loadGame(g)
	}
	return &dup
}

// MemoryAuditStore keeps audit entries in insertion order
type MemoryAuditStore struct {
	mu      sync.RWMutex
	entries []*bugtrack.AuditEntry
}

func NewMemoryAuditStore() *MemoryAuditStore {
	return &MemoryAuditStore{entries: make([]*bugtrack.AuditEntry, 0)}
}

func (s *MemoryAuditStore) LogDecision(ctx context.Context, entry *bugtrack.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	dup := *entry
	s.entries = append(s.entries, &dup)
	return nil
}

func (s *MemoryAuditStore) GetAccessLog(ctx context.Context, filter bugtrack.AuditFilter) ([]*bugtrack.AuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]*bugtrack.AuditEntry, 0)
	for _, entry := range s.entries {
		if !filter.Match(entry) {
			continue
		}
		result = append(result, entry)
		if filter.Limit > 0 && len(result) >= filter.Limit {
			break
		}
	}
	return result, nil
}

// MemoryRoleMembershipStore implements role membership in memory
type MemoryRoleMembershipStore struct {
	mu    sync.RWMutex
	store map[string]map[string]bool
}

func NewMemoryRoleMembershipStore() *MemoryRoleMembershipStore {
	return &MemoryRoleMembershipStore{store: make(map[string]map[string]bool)}
}

func (m *MemoryRoleMembershipStore) AssignRole(ctx context.Context, userID, role string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.store[userID]; !ok {
		m.store[userID] = make(map[string]bool)
	}
	m.store[userID][role] = true
	return nil
}

func (m *MemoryRoleMembershipStore) RevokeRole(ctx context.Context, userID, role string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.store[userID], role)
	return nil
}

func (m *MemoryRoleMembershipStore) ListRoles(ctx context.Context, userID string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.store[userID]))
	for r := range m.store[userID] {
		out = append(out, r)
	}
	sort.Strings(out)
	return out, nil
}
