package bugtrack

import (
	"fmt"
	"strings"
	"unicode"
)

// ParseGuard parses a guard expression. Accepted forms:
//
//	porter
//	not game_testing
//	any(porter, bundle_active)
//	porter or bundle.active and not game.testing
//
// "and" binds tighter than "or". An empty string is "always".
func ParseGuard(s string) (Guard, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Always(), nil
	}
	p := &guardParser{toks: tokenizeGuard(s)}
	g, err := p.parseOr()
	if err != nil {
		return Guard{}, fmt.Errorf("%w: guard %q: %v", ErrInvalidRule, s, err)
	}
	if p.pos < len(p.toks) {
		return Guard{}, fmt.Errorf("%w: guard %q: unexpected %q", ErrInvalidRule, s, p.toks[p.pos])
	}
	return g, nil
}

// MustParseGuard panics on malformed input.
func MustParseGuard(s string) Guard {
	g, err := ParseGuard(s)
	if err != nil {
		panic(err)
	}
	return g
}

var guardAliases = map[string]GuardKind{
	"always":          GuardAlways,
	"true":            GuardAlways,
	"never":           GuardNever,
	"false":           GuardNever,
	"bundle_active":   GuardBundleActive,
	"bundle.active":   GuardBundleActive,
	"game_testing":    GuardGameTesting,
	"game.testing":    GuardGameTesting,
	"porter":          GuardPorter,
	"porter_of_game":  GuardPorter,
	"own_port":        GuardOwnPort,
	"self":            GuardSelf,
	"own_studio":      GuardOwnStudio,
	"developer.owner": GuardOwnStudio,
}

func tokenizeGuard(s string) []string {
	var toks []string
	var cur strings.Builder
	flush := func() {
		if cur.Len() > 0 {
			toks = append(toks, cur.String())
			cur.Reset()
		}
	}
	for _, r := range s {
		switch {
		case r == '(' || r == ')' || r == ',' || r == '!':
			flush()
			toks = append(toks, string(r))
		case unicode.IsSpace(r):
			flush()
		default:
			cur.WriteRune(unicode.ToLower(r))
		}
	}
	flush()
	return toks
}

type guardParser struct {
	toks []string
	pos  int
}

func (p *guardParser) peek() string {
	if p.pos < len(p.toks) {
		return p.toks[p.pos]
	}
	return ""
}

func (p *guardParser) next() string {
	t := p.peek()
	p.pos++
	return t
}

func (p *guardParser) parseOr() (Guard, error) {
	left, err := p.parseAnd()
	if err != nil {
		return Guard{}, err
	}
	children := []Guard{left}
	for p.peek() == "or" || p.peek() == "||" {
		p.next()
		right, err := p.parseAnd()
		if err != nil {
			return Guard{}, err
		}
		children = append(children, right)
	}
	if len(children) == 1 {
		return left, nil
	}
	return AnyOf(children...), nil
}

func (p *guardParser) parseAnd() (Guard, error) {
	left, err := p.parseUnary()
	if err != nil {
		return Guard{}, err
	}
	children := []Guard{left}
	for p.peek() == "and" || p.peek() == "&&" {
		p.next()
		right, err := p.parseUnary()
		if err != nil {
			return Guard{}, err
		}
		children = append(children, right)
	}
	if len(children) == 1 {
		return left, nil
	}
	return AllOf(children...), nil
}

func (p *guardParser) parseUnary() (Guard, error) {
	if t := p.peek(); t == "not" || t == "!" {
		p.next()
		inner, err := p.parseUnary()
		if err != nil {
			return Guard{}, err
		}
		return Not(inner), nil
	}
	return p.parsePrimary()
}

func (p *guardParser) parsePrimary() (Guard, error) {
	t := p.next()
	switch t {
	case "":
		return Guard{}, fmt.Errorf("unexpected end of expression")
	case "(":
		g, err := p.parseOr()
		if err != nil {
			return Guard{}, err
		}
		if p.next() != ")" {
			return Guard{}, fmt.Errorf("missing )")
		}
		return g, nil
	case "any", "all", "not":
		if p.peek() != "(" {
			return Guard{}, fmt.Errorf("%s needs operands in parentheses", t)
		}
		p.next()
		var children []Guard
		for {
			c, err := p.parseOr()
			if err != nil {
				return Guard{}, err
			}
			children = append(children, c)
			sep := p.next()
			if sep == ")" {
				break
			}
			if sep != "," {
				return Guard{}, fmt.Errorf("expected , or ) after operand")
			}
		}
		switch t {
		case "any":
			return AnyOf(children...), nil
		case "all":
			return AllOf(children...), nil
		}
		if len(children) != 1 {
			return Guard{}, fmt.Errorf("not takes exactly one operand")
		}
		return Not(children[0]), nil
	}
	kind, ok := guardAliases[t]
	if !ok {
		return Guard{}, fmt.Errorf("unknown guard %q", t)
	}
	return Guard{Kind: kind}, nil
}
