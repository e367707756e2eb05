package bugtrack

import (
	"context"
	"fmt"
	"sort"
	"strings"
)

// Role is one of the closed set of account roles.
type Role string

const (
	RoleUnverified Role = "unverified"
	RoleUser       Role = "user"
	RolePorter     Role = "porter"
	RoleDeveloper  Role = "developer"
	RoleAdmin      Role = "admin"
)

// AllRoles lists every role in evaluation order.
var AllRoles = []Role{RoleUnverified, RoleUser, RolePorter, RoleDeveloper, RoleAdmin}

func (r Role) rank() int {
	for i, known := range AllRoles {
		if r == known {
			return i
		}
	}
	return -1
}

func (r Role) Valid() bool { return r.rank() >= 0 }

// ParseRole maps a stored role tag to a Role. "dev" is the legacy tag for developer.
func ParseRole(tag string) (Role, error) {
	tag = strings.ToLower(strings.TrimSpace(tag))
	if tag == "dev" {
		return RoleDeveloper, nil
	}
	if r := Role(tag); r.Valid() {
		return r, nil
	}
	return "", fmt.Errorf("unknown role %q", tag)
}

// RoleSet is an ordered, duplicate-free set of roles.
type RoleSet []Role

func (s RoleSet) Has(r Role) bool {
	for _, have := range s {
		if have == r {
			return true
		}
	}
	return false
}

func (s RoleSet) String() string {
	parts := make([]string, len(s))
	for i, r := range s {
		parts[i] = string(r)
	}
	return strings.Join(parts, ",")
}

// NewRoleSet parses tags, dropping unknown ones. An empty result is {unverified}.
func NewRoleSet(tags ...string) RoleSet {
	seen := make(map[Role]bool, len(tags))
	set := make(RoleSet, 0, len(tags))
	for _, tag := range tags {
		r, err := ParseRole(tag)
		if err != nil || seen[r] {
			continue
		}
		seen[r] = true
		set = append(set, r)
	}
	if len(set) == 0 {
		return RoleSet{RoleUnverified}
	}
	sort.Slice(set, func(i, j int) bool { return set[i].rank() < set[j].rank() })
	return set
}

// RolesFor returns the role set of a user. Nil users are unverified.
func RolesFor(u *User) RoleSet {
	if u == nil {
		return RoleSet{RoleUnverified}
	}
	return NewRoleSet(u.Roles...)
}

// Principal is the acting user frozen for one request. Decisions read only
// the principal, so its roles and port assignments cannot change mid-decision.
type Principal struct {
	User        *User
	Roles       RoleSet
	portedGames map[string]struct{}
}

// Anonymous is the principal of an unauthenticated request.
func Anonymous() *Principal {
	return &Principal{Roles: RoleSet{RoleUnverified}}
}

// NewPrincipal builds a principal from a user and the ports assigned to them.
func NewPrincipal(u *User, ports ...*Port) *Principal {
	p := &Principal{User: u, Roles: RolesFor(u), portedGames: make(map[string]struct{})}
	for _, port := range ports {
		if port == nil || port.GameID == "" {
			continue
		}
		if u != nil && port.PorterID != "" && port.PorterID != u.ID {
			continue
		}
		p.portedGames[port.GameID] = struct{}{}
	}
	return p
}

func (p *Principal) UserID() string {
	if p == nil || p.User == nil {
		return ""
	}
	return p.User.ID
}

// Ports reports whether the principal is the porter of the game.
func (p *Principal) Ports(gameID string) bool {
	if p == nil || gameID == "" {
		return false
	}
	_, ok := p.portedGames[gameID]
	return ok
}

// PortedGameIDs returns the ported game IDs in sorted order.
func (p *Principal) PortedGameIDs() []string {
	if p == nil {
		return nil
	}
	ids := make([]string, 0, len(p.portedGames))
	for id := range p.portedGames {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// RoleResolver resolves a principal once per request, merging role tags and
// port assignments held in optional stores.
type RoleResolver struct {
	members RoleMembershipStore
	ports   PortStore
}

func NewRoleResolver(members RoleMembershipStore, ports PortStore) *RoleResolver {
	return &RoleResolver{members: members, ports: ports}
}

func (r *RoleResolver) Resolve(ctx context.Context, u *User) (*Principal, error) {
	if u == nil {
		return Anonymous(), nil
	}
	tags := append([]string(nil), u.Roles...)
	if r.members != nil {
		stored, err := r.members.ListRoles(ctx, u.ID)
		if err != nil {
			return nil, fmt.Errorf("resolve roles for %s: %w", u.ID, err)
		}
		tags = append(tags, stored...)
	}
	var ports []*Port
	if r.ports != nil {
		var err error
		ports, err = r.ports.ListPortsByPorter(ctx, u.ID)
		if err != nil {
			return nil, fmt.Errorf("resolve ports for %s: %w", u.ID, err)
		}
	}
	resolved := *u
	resolved.Roles = tags
	return NewPrincipal(&resolved, ports...), nil
}
