package bugtrack

import (
	"fmt"
	"strings"
)

// ============================================================================
// RULE TABLES
// ============================================================================

// Effect is the outcome a rule yields when it matches.
type Effect string

const (
	EffectAllow Effect = "allow"
	EffectDeny  Effect = "deny"
)

func ParseEffect(s string) (Effect, error) {
	switch Effect(strings.ToLower(strings.TrimSpace(s))) {
	case EffectAllow:
		return EffectAllow, nil
	case EffectDeny:
		return EffectDeny, nil
	}
	return "", fmt.Errorf("%w: unknown effect %q", ErrInvalidRule, s)
}

// Rule is one (actions, guard, effect) entry of a rule list.
type Rule struct {
	ID      string
	Effect  Effect
	Actions []Action
	Guard   Guard
}

// Matches reports whether the rule's action patterns cover action.
func (r Rule) Matches(action Action) bool {
	for _, pattern := range r.Actions {
		if matchAction(pattern, action) {
			return true
		}
	}
	return false
}

func (r Rule) Validate() error {
	if r.Effect != EffectAllow && r.Effect != EffectDeny {
		return fmt.Errorf("%w: rule %s: unknown effect %q", ErrInvalidRule, r.ID, r.Effect)
	}
	if len(r.Actions) == 0 {
		return fmt.Errorf("%w: rule %s: no actions", ErrInvalidRule, r.ID)
	}
	for _, a := range r.Actions {
		if !validActionPattern(a) {
			return fmt.Errorf("%w: rule %s: unknown action %q", ErrInvalidRule, r.ID, a)
		}
	}
	if err := r.Guard.Validate(); err != nil {
		return fmt.Errorf("rule %s: %w", r.ID, err)
	}
	return nil
}

// RuleTable holds the ordered rule lists per (entity type, role). It is built
// once at startup and only read afterwards.
type RuleTable struct {
	rules map[EntityType]map[Role][]Rule
}

func NewRuleTable() *RuleTable {
	return &RuleTable{rules: make(map[EntityType]map[Role][]Rule)}
}

// Register declares an entity type without adding rules.
func (t *RuleTable) Register(entity EntityType) {
	if _, ok := t.rules[entity]; !ok {
		t.rules[entity] = make(map[Role][]Rule)
	}
}

// Add appends rules for each role, keeping declaration order. Rules without
// an ID get "<entity>.<role>.<n>".
func (t *RuleTable) Add(entity EntityType, roles []Role, rules ...Rule) {
	t.Register(entity)
	for _, role := range roles {
		list := t.rules[entity][role]
		for _, r := range rules {
			r.Actions = append([]Action(nil), r.Actions...)
			if r.ID == "" {
				r.ID = fmt.Sprintf("%s.%s.%d", entity, role, len(list)+1)
			}
			list = append(list, r)
		}
		t.rules[entity][role] = list
	}
}

// Rules returns the ordered rules for an entity type and role.
func (t *RuleTable) Rules(entity EntityType, role Role) []Rule {
	byRole, ok := t.rules[entity]
	if !ok {
		return nil
	}
	return byRole[role]
}

func (t *RuleTable) Registered(entity EntityType) bool {
	_, ok := t.rules[entity]
	return ok
}

// Len returns the number of rules in the table.
func (t *RuleTable) Len() int {
	n := 0
	for _, byRole := range t.rules {
		for _, list := range byRole {
			n += len(list)
		}
	}
	return n
}

// Each visits every rule in canonical entity and role order.
func (t *RuleTable) Each(fn func(entity EntityType, role Role, r Rule)) {
	for _, entity := range AllEntityTypes {
		byRole, ok := t.rules[entity]
		if !ok {
			continue
		}
		for _, role := range AllRoles {
			for _, r := range byRole[role] {
				fn(entity, role, r)
			}
		}
	}
}

// Merge appends every rule of other after the rules already present.
func (t *RuleTable) Merge(other *RuleTable) {
	if other == nil {
		return
	}
	for entity := range other.rules {
		t.Register(entity)
	}
	other.Each(func(entity EntityType, role Role, r Rule) {
		r.ID = ""
		t.Add(entity, []Role{role}, r)
	})
}

// Validate checks that every entity type is registered and every rule is well formed.
func (t *RuleTable) Validate() error {
	for _, entity := range AllEntityTypes {
		if !t.Registered(entity) {
			return fmt.Errorf("%w: entity type %s has no rule set", ErrInvalidRule, entity)
		}
	}
	for entity, byRole := range t.rules {
		if !entity.Valid() {
			return fmt.Errorf("%w: %q", ErrUnknownEntity, entity)
		}
		for role, list := range byRole {
			if !role.Valid() {
				return fmt.Errorf("%w: unknown role %q for %s", ErrInvalidRule, role, entity)
			}
			for _, r := range list {
				if err := r.Validate(); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// DefaultRules returns the access policy of the tracker. Within one role the
// first matching rule decides, so relationship grants precede state denials.
func DefaultRules() *RuleTable {
	var (
		public   = []Role{RoleUnverified, RoleUser, RolePorter}
		members  = []Role{RoleUser, RolePorter}
		verified = []Role{RoleUser, RolePorter, RoleDeveloper}
		dev      = []Role{RoleDeveloper}
		porter   = []Role{RolePorter}
		contrib  = []Action{ActionIndex, ActionCreate, ActionRead, ActionUpdate}
	)

	b := NewTableBuilder()

	b.For(EntityBundle, public...).
		Rule(Allow(ActionIndex).When(WhenBundleActive())).
		Rule(Allow(ActionRead).When(WhenBundleActive()))
	b.For(EntityBundle, dev...).Rule(Allow(ActionAll))

	b.For(EntityGame, RoleUnverified).
		Rule(Allow(ActionIndex).When(WhenBundleActive())).
		Rule(Deny(ActionRead).When(WhenGameTesting())).
		Rule(Allow(ActionRead).When(WhenBundleActive()))
	// a port assignment is honoured even before the porter tag is granted
	b.For(EntityGame, RoleUser).
		Rule(Allow(ActionIndex).When(WhenBundleActive())).
		Rule(Allow(ActionIndex, ActionRead).When(WhenPorter())).
		Rule(Deny(ActionRead).When(WhenGameTesting())).
		Rule(Allow(ActionRead).When(WhenBundleActive()))
	b.For(EntityGame, porter...).
		Rule(Allow(ActionIndex, ActionRead).When(WhenPorter())).
		Rule(Deny(ActionRead).When(WhenGameTesting())).
		Rule(Allow(ActionIndex, ActionRead).When(WhenBundleActive()))
	b.For(EntityGame, dev...).Rule(Allow(ActionAll))

	for _, entity := range []EntityType{EntityIssue, EntityNote} {
		b.For(entity, RoleUser).Rule(Allow(contrib...).When(WhenBundleActive()))
		b.For(entity, porter...).Rule(Allow(contrib...).When(AnyOf(WhenPorter(), WhenBundleActive())))
		b.For(entity, dev...).Rule(Allow(contrib...))
	}

	b.For(EntityPort, porter...).
		Rule(Allow(ActionUpdate).When(WhenOwnPort())).
		Rule(Allow(ActionIndex, ActionRead).When(WhenPorter()))
	b.For(EntityPort, dev...).Rule(Allow(ActionAll))

	b.For(EntityPredefinedTag, verified...).Rule(Allow(ActionIndex, ActionRead))

	for _, entity := range []EntityType{EntityRelease, EntityTestResult} {
		b.For(entity, porter...).Rule(Allow(ActionAll).When(WhenPorter()))
		b.For(entity, dev...).Rule(Allow(ActionAll))
	}

	b.For(EntityDeveloper, members...).Rule(Allow(ActionIndex, ActionRead))
	b.For(EntityDeveloper, dev...).
		Rule(Allow(ActionIndex, ActionRead, ActionReadAddress)).
		Rule(Allow(ActionUpdate, ActionUpdateAddress).When(WhenOwnStudio()))

	b.For(EntitySystem, members...).Rule(Allow(ActionIndex, ActionRead))
	b.For(EntitySystem, dev...).Rule(Allow(ActionAll))

	b.For(EntityUser, AllRoles...).Rule(Allow(ActionRead, ActionUpdate).When(WhenSelf()))
	b.For(EntityUser, verified...).Rule(Allow(ActionNDA).When(WhenSelf()))

	for _, entity := range AllEntityTypes {
		b.For(entity, RoleAdmin).Rule(Allow(ActionAll))
	}
	return b.Table()
}
