package bugtrack

import (
	"bytes"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// DSL Syntax:
// rule <entity> <roles> <effect> <actions> [guard...]
// member <user_id> <role>
//
// <roles> and <actions> are comma separated; the guard is the rest of the line
// and follows ParseGuard. Lines starting with '#' are comments.

// PolicyFile is the parsed content of a rules file.
type PolicyFile struct {
	Rules       *RuleTable
	Memberships []RoleMembership
}

type RoleMembership struct {
	UserID string `json:"user_id" yaml:"user_id"`
	Role   string `json:"role" yaml:"role"`
}

type DSLParser struct {
	line int
}

func NewDSLParser() *DSLParser {
	return &DSLParser{}
}

func (p *DSLParser) Parse(data []byte) (*PolicyFile, error) {
	out := &PolicyFile{Rules: NewRuleTable()}
	p.line = 0
	for _, raw := range bytes.Split(data, []byte{'\n'}) {
		p.line++
		line := strings.TrimSpace(string(raw))
		if line == "" || line[0] == '#' {
			continue
		}
		parts := strings.Fields(line)
		switch parts[0] {
		case "rule":
			if err := p.parseRule(out.Rules, parts[1:]); err != nil {
				return nil, fmt.Errorf("line %d: %w", p.line, err)
			}
		case "member":
			if len(parts) != 3 {
				return nil, fmt.Errorf("line %d: member requires: <user_id> <role>", p.line)
			}
			if _, err := ParseRole(parts[2]); err != nil {
				return nil, fmt.Errorf("line %d: %w", p.line, err)
			}
			out.Memberships = append(out.Memberships, RoleMembership{UserID: parts[1], Role: parts[2]})
		default:
			return nil, fmt.Errorf("line %d: unknown directive: %s", p.line, parts[0])
		}
	}
	return out, nil
}

func (p *DSLParser) parseRule(t *RuleTable, parts []string) error {
	if len(parts) < 4 {
		return fmt.Errorf("%w: rule requires: <entity> <roles> <effect> <actions> [guard]", ErrInvalidRule)
	}
	entity, err := ParseEntityType(parts[0])
	if err != nil {
		return err
	}
	var roles []Role
	for _, tag := range strings.Split(parts[1], ",") {
		r, err := ParseRole(tag)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidRule, err)
		}
		roles = append(roles, r)
	}
	effect, err := ParseEffect(parts[2])
	if err != nil {
		return err
	}
	actions := parseActionList(parts[3])
	guard, err := ParseGuard(strings.Join(parts[4:], " "))
	if err != nil {
		return err
	}
	r := Rule{ID: parts[0] + "." + parts[1], Effect: effect, Actions: actions, Guard: guard}
	if err := r.Validate(); err != nil {
		return err
	}
	r.ID = ""
	t.Add(entity, roles, r)
	return nil
}

func parseActionList(s string) []Action {
	var out []Action
	for _, a := range strings.Split(s, ",") {
		a = strings.TrimSpace(a)
		if a != "" {
			out = append(out, Action(a))
		}
	}
	return out
}

type DSLEncoder struct {
	buf bytes.Buffer
}

func NewDSLEncoder() *DSLEncoder {
	return &DSLEncoder{}
}

// Encode writes one rule per line in evaluation order.
func (e *DSLEncoder) Encode(f *PolicyFile) []byte {
	e.buf.Reset()
	if f.Rules != nil {
		f.Rules.Each(func(entity EntityType, role Role, r Rule) {
			fmt.Fprintf(&e.buf, "rule %s %s %s %s", entity, role, r.Effect, joinActions(r.Actions))
			if r.Guard.Kind != GuardAlways {
				e.buf.WriteByte(' ')
				e.buf.WriteString(r.Guard.String())
			}
			e.buf.WriteByte('\n')
		})
	}
	for _, m := range f.Memberships {
		fmt.Fprintf(&e.buf, "member %s %s\n", m.UserID, m.Role)
	}
	return append([]byte(nil), e.buf.Bytes()...)
}

// RuleRecord is the flat, serializable form of one rule.
type RuleRecord struct {
	Entity  string   `json:"entity" yaml:"entity"`
	Role    string   `json:"role" yaml:"role"`
	Effect  string   `json:"effect" yaml:"effect"`
	Actions []string `json:"actions" yaml:"actions,flow"`
	Guard   string   `json:"guard,omitempty" yaml:"guard,omitempty"`
}

// RulesDocument is the YAML/JSON form of a rules file.
type RulesDocument struct {
	Rules       []RuleRecord     `json:"rules" yaml:"rules"`
	Memberships []RoleMembership `json:"memberships,omitempty" yaml:"memberships,omitempty"`
}

// Records flattens the table in evaluation order.
func (t *RuleTable) Records() []RuleRecord {
	var out []RuleRecord
	t.Each(func(entity EntityType, role Role, r Rule) {
		actions := make([]string, len(r.Actions))
		for i, a := range r.Actions {
			actions[i] = string(a)
		}
		rec := RuleRecord{Entity: string(entity), Role: string(role), Effect: string(r.Effect), Actions: actions}
		if r.Guard.Kind != GuardAlways {
			rec.Guard = r.Guard.String()
		}
		out = append(out, rec)
	})
	return out
}

// TableFromRecords rebuilds a table, keeping record order within each role.
func TableFromRecords(records []RuleRecord) (*RuleTable, error) {
	t := NewRuleTable()
	for i, rec := range records {
		entity, err := ParseEntityType(rec.Entity)
		if err != nil {
			return nil, fmt.Errorf("rule %d: %w", i+1, err)
		}
		role, err := ParseRole(rec.Role)
		if err != nil {
			return nil, fmt.Errorf("rule %d: %w: %v", i+1, ErrInvalidRule, err)
		}
		effect, err := ParseEffect(rec.Effect)
		if err != nil {
			return nil, fmt.Errorf("rule %d: %w", i+1, err)
		}
		guard, err := ParseGuard(rec.Guard)
		if err != nil {
			return nil, fmt.Errorf("rule %d: %w", i+1, err)
		}
		actions := make([]Action, len(rec.Actions))
		for j, a := range rec.Actions {
			actions[j] = Action(a)
		}
		r := Rule{ID: fmt.Sprintf("rule %d", i+1), Effect: effect, Actions: actions, Guard: guard}
		if err := r.Validate(); err != nil {
			return nil, err
		}
		r.ID = ""
		t.Add(entity, []Role{role}, r)
	}
	return t, nil
}

func (f *PolicyFile) ToYAML() ([]byte, error) {
	doc := RulesDocument{Memberships: f.Memberships}
	if f.Rules != nil {
		doc.Rules = f.Rules.Records()
	}
	return yaml.Marshal(doc)
}

func PolicyFileFromYAML(data []byte) (*PolicyFile, error) {
	var doc RulesDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	t, err := TableFromRecords(doc.Rules)
	if err != nil {
		return nil, err
	}
	return &PolicyFile{Rules: t, Memberships: doc.Memberships}, nil
}
