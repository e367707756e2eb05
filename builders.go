package bugtrack

// Builders provide a fluent API for assembling rule tables

// RuleBuilder builds a Rule
type RuleBuilder struct {
	r Rule
}

func Allow(actions ...Action) *RuleBuilder {
	return &RuleBuilder{r: Rule{Effect: EffectAllow, Actions: actions}}
}

func Deny(actions ...Action) *RuleBuilder {
	return &RuleBuilder{r: Rule{Effect: EffectDeny, Actions: actions}}
}

func (b *RuleBuilder) ID(id string) *RuleBuilder   { b.r.ID = id; return b }
func (b *RuleBuilder) When(g Guard) *RuleBuilder { b.r.Guard = g; return b }
func (b *RuleBuilder) Build() Rule               { return b.r }

// TableBuilder builds a RuleTable
type TableBuilder struct {
	t *RuleTable
}

func NewTableBuilder() *TableBuilder { return &TableBuilder{t: NewRuleTable()} }

// For starts a rule list for an entity type shared by the given roles.
func (b *TableBuilder) For(entity EntityType, roles ...Role) *EntityRules {
	b.t.Register(entity)
	return &EntityRules{t: b.t, entity: entity, roles: roles}
}

func (b *TableBuilder) Table() *RuleTable { return b.t }

// Build validates and returns the table.
func (b *TableBuilder) Build() (*RuleTable, error) {
	if err := b.t.Validate(); err != nil {
		return nil, err
	}
	return b.t, nil
}

// EntityRules appends rules for one entity type and a group of roles
type EntityRules struct {
	t      *RuleTable
	entity EntityType
	roles  []Role
}

func (e *EntityRules) Rule(rb *RuleBuilder) *EntityRules {
	e.t.Add(e.entity, e.roles, rb.Build())
	return e
}
