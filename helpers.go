package bugtrack

import (
	"sort"
	"strings"
)

// Link is a rendered anchor; an empty Href means plain text.
type Link struct {
	Text string
	Href string
}

// DeveloperLink links to the studio page when p may read it, otherwise to the
// studio website, otherwise shows the name alone.
func DeveloperLink(e *Engine, p *Principal, d *Developer) *Link {
	if d == nil {
		return nil
	}
	if e.Decide(p, ActionRead, d).Allowed {
		return &Link{Text: d.Name, Href: "/developers/" + d.ID}
	}
	if d.Website != "" {
		return &Link{Text: d.Name, Href: d.Website}
	}
	return &Link{Text: d.Name}
}

// TagsForContext returns the tags of one context ordered by name.
func TagsForContext(tags []*PredefinedTag, context string) []*PredefinedTag {
	out := make([]*PredefinedTag, 0, len(tags))
	for _, t := range tags {
		if t.Context == context {
			out = append(out, t)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// PlatformList joins system names; separator defaults to ", ".
func PlatformList(systems []*System, separator string) string {
	if separator == "" {
		separator = ", "
	}
	names := make([]string, 0, len(systems))
	for _, s := range systems {
		names = append(names, s.Name)
	}
	return strings.Join(names, separator)
}
