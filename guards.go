package bugtrack

import (
	"fmt"
	"strings"
)

// ============================================================================
// GUARDS
// ============================================================================

// GuardKind tags a Guard variant.
type GuardKind uint8

const (
	GuardAlways GuardKind = iota
	GuardNever
	GuardBundleActive
	GuardGameTesting
	GuardPorter
	GuardOwnPort
	GuardSelf
	GuardOwnStudio
	GuardAll
	GuardAny
	GuardNot
)

var guardNames = map[GuardKind]string{
	GuardAlways:       "always",
	GuardNever:        "never",
	GuardBundleActive: "bundle_active",
	GuardGameTesting:  "game_testing",
	GuardPorter:       "porter",
	GuardOwnPort:      "own_port",
	GuardSelf:         "self",
	GuardOwnStudio:    "own_studio",
	GuardAll:          "all",
	GuardAny:          "any",
	GuardNot:          "not",
}

func (k GuardKind) String() string {
	if n, ok := guardNames[k]; ok {
		return n
	}
	return fmt.Sprintf("guard(%d)", uint8(k))
}

// Guard is a boolean condition over the principal and the target record.
// The zero Guard always holds.
type Guard struct {
	Kind     GuardKind
	Children []Guard
}

func Always() Guard           { return Guard{Kind: GuardAlways} }
func Never() Guard            { return Guard{Kind: GuardNever} }
func WhenBundleActive() Guard { return Guard{Kind: GuardBundleActive} }
func WhenGameTesting() Guard  { return Guard{Kind: GuardGameTesting} }
func WhenPorter() Guard       { return Guard{Kind: GuardPorter} }
func WhenOwnPort() Guard      { return Guard{Kind: GuardOwnPort} }
func WhenSelf() Guard         { return Guard{Kind: GuardSelf} }
func WhenOwnStudio() Guard    { return Guard{Kind: GuardOwnStudio} }
func AllOf(g ...Guard) Guard  { return Guard{Kind: GuardAll, Children: g} }
func AnyOf(g ...Guard) Guard  { return Guard{Kind: GuardAny, Children: g} }
func Not(g Guard) Guard       { return Guard{Kind: GuardNot, Children: []Guard{g}} }

func (g Guard) String() string {
	switch g.Kind {
	case GuardNot:
		if len(g.Children) == 1 {
			return "not " + g.Children[0].String()
		}
	case GuardAll, GuardAny:
		parts := make([]string, len(g.Children))
		for i, c := range g.Children {
			parts[i] = c.String()
		}
		return g.Kind.String() + "(" + strings.Join(parts, ", ") + ")"
	}
	return g.Kind.String()
}

// Validate reports malformed guards: unknown kinds or wrong arity.
func (g Guard) Validate() error {
	switch g.Kind {
	case GuardAlways, GuardNever, GuardBundleActive, GuardGameTesting,
		GuardPorter, GuardOwnPort, GuardSelf, GuardOwnStudio:
		if len(g.Children) != 0 {
			return fmt.Errorf("%w: guard %s takes no operands", ErrInvalidRule, g.Kind)
		}
		return nil
	case GuardNot:
		if len(g.Children) != 1 {
			return fmt.Errorf("%w: not takes exactly one operand", ErrInvalidRule)
		}
	case GuardAll, GuardAny:
		if len(g.Children) == 0 {
			return fmt.Errorf("%w: %s needs at least one operand", ErrInvalidRule, g.Kind)
		}
	default:
		return fmt.Errorf("%w: unknown guard kind %d", ErrInvalidRule, uint8(g.Kind))
	}
	for _, c := range g.Children {
		if err := c.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// RecordDependent reports whether the guard needs a concrete record to evaluate.
func (g Guard) RecordDependent() bool {
	switch g.Kind {
	case GuardAlways, GuardNever:
		return false
	case GuardAll, GuardAny, GuardNot:
		for _, c := range g.Children {
			if c.RecordDependent() {
				return true
			}
		}
		return false
	}
	return true
}

// ============================================================================
// FACTS
// ============================================================================

// facts is everything a guard may read, extracted once per decision. It is
// comparable so it can key the decision cache.
type facts struct {
	class       bool
	bundleState BundleState
	gameState   GameState
	hasGame     bool
	porter      bool
	ownPort     bool
	self        bool
	ownStudio   bool
}

func extractFacts(p *Principal, t Target) facts {
	if _, ok := t.(EntityType); ok {
		return facts{class: true}
	}
	var f facts
	if b := hostBundle(t); b != nil {
		f.bundleState = b.State
	}
	if g := hostGame(t); g != nil {
		f.gameState = g.State
		f.hasGame = true
		f.porter = p.Ports(g.ID)
	}
	uid := p.UserID()
	switch r := t.(type) {
	case *Port:
		f.ownPort = uid != "" && r.PorterID == uid
	case *User:
		f.self = uid != "" && r.ID == uid
	case *Developer:
		f.ownStudio = p != nil && p.User != nil && p.User.DeveloperID != "" && p.User.DeveloperID == r.ID
	}
	return f
}

// ============================================================================
// INTERPRETER
// ============================================================================

// outcome is the result of a guard: class checks cannot see record state, so
// record-dependent guards evaluate to outcomeScoped there.
type outcome uint8

const (
	outcomeFalse outcome = iota
	outcomeTrue
	outcomeScoped
)

func boolOutcome(b bool) outcome {
	if b {
		return outcomeTrue
	}
	return outcomeFalse
}

func evalGuard(g Guard, f facts) outcome {
	switch g.Kind {
	case GuardAlways:
		return outcomeTrue
	case GuardNever:
		return outcomeFalse
	case GuardAll:
		res := outcomeTrue
		for _, c := range g.Children {
			switch evalGuard(c, f) {
			case outcomeFalse:
				return outcomeFalse
			case outcomeScoped:
				res = outcomeScoped
			}
		}
		return res
	case GuardAny:
		res := outcomeFalse
		for _, c := range g.Children {
			switch evalGuard(c, f) {
			case outcomeTrue:
				return outcomeTrue
			case outcomeScoped:
				res = outcomeScoped
			}
		}
		return res
	case GuardNot:
		if len(g.Children) != 1 {
			return outcomeFalse
		}
		switch evalGuard(g.Children[0], f) {
		case outcomeTrue:
			return outcomeFalse
		case outcomeFalse:
			return outcomeTrue
		}
		return outcomeScoped
	}
	if f.class {
		return outcomeScoped
	}
	switch g.Kind {
	case GuardBundleActive:
		return boolOutcome(bundleIsActive(f.bundleState))
	case GuardGameTesting:
		return boolOutcome(f.hasGame && gameIsTesting(f.gameState))
	case GuardPorter:
		return boolOutcome(f.porter)
	case GuardOwnPort:
		return boolOutcome(f.ownPort)
	case GuardSelf:
		return boolOutcome(f.self)
	case GuardOwnStudio:
		return boolOutcome(f.ownStudio)
	}
	return outcomeFalse
}

func bundleIsActive(s BundleState) bool {
	switch s {
	case BundleActive:
		return true
	case BundlePlanned, BundleDevelopment, BundlePending, BundleCompleted:
		return false
	case BundleStateUnknown:
		return false
	}
	return false
}

// gameIsTesting treats an unrecognized game state as restricted.
func gameIsTesting(s GameState) bool {
	switch s {
	case GameTesting:
		return true
	case GameNormal:
		return false
	case GameStateUnknown:
		return true
	}
	return true
}
