package utils

import "strings"

// MatchAction reports whether an action name matches a rule pattern. "*"
// matches everything and a trailing '*' matches by prefix ("update*" covers
// "update_address").
func MatchAction(pattern, action string) bool {
	if pattern == "*" || pattern == action {
		return true
	}
	if prefix, ok := strings.CutSuffix(pattern, "*"); ok {
		return strings.HasPrefix(action, prefix)
	}
	return false
}

// MatchRoute checks a "METHOD /path" value against a route pattern such as
// "GET /bundles/:id/games". A pattern without a method matches any method.
// ':name' segments match one path segment and '*' matches the remainder of a
// segment, or everything when it ends the pattern.
func MatchRoute(value, pattern string) bool {
	valMethod, valPath, valHas := strings.Cut(value, " ")
	patMethod, patPath, patHas := strings.Cut(pattern, " ")
	if !patHas {
		if valHas {
			return matchPath(valPath, pattern)
		}
		return matchPath(value, pattern)
	}
	if !valHas {
		return false
	}
	if patMethod != "*" && !strings.EqualFold(patMethod, valMethod) {
		return false
	}
	return matchPath(valPath, patPath)
}

// RouteParams extracts ':name' segments of pattern from path. ok is false
// when the path does not match.
func RouteParams(path, pattern string) (params map[string]string, ok bool) {
	pathSegs := splitPath(path)
	patSegs := splitPath(pattern)
	params = make(map[string]string)
	for i, seg := range patSegs {
		if seg == "*" && i == len(patSegs)-1 {
			return params, true
		}
		if i >= len(pathSegs) {
			return nil, false
		}
		switch {
		case strings.HasPrefix(seg, ":"):
			params[seg[1:]] = pathSegs[i]
		case seg == "*":
		case seg != pathSegs[i]:
			return nil, false
		}
	}
	if len(pathSegs) != len(patSegs) {
		return nil, false
	}
	return params, true
}

func matchPath(value, pattern string) bool {
	_, ok := RouteParams(value, pattern)
	return ok
}

func splitPath(p string) []string {
	p = strings.Trim(p, "/")
	if p == "" {
		return nil
	}
	return strings.Split(p, "/")
}
