package check

import (
	"regexp"
	"slices"
	"strings"
)

type matcherKind int

const (
	matchAny matcherKind = iota
	matchExact
	matchOneOf
	matchPattern
)

// Matcher selects string values for a Filter. The zero Matcher is absent
// and matches everything.
type Matcher struct {
	kind    matcherKind
	values  []string
	pattern *regexp.Regexp
}

// Exact matches a single value, case-sensitively.
func Exact(value string) Matcher {
	return Matcher{kind: matchExact, values: []string{value}}
}

// OneOf matches any of the given values.
func OneOf(values ...string) Matcher {
	return Matcher{kind: matchOneOf, values: append([]string(nil), values...)}
}

// Pattern matches values containing a match for re anywhere in the string.
func Pattern(re *regexp.Regexp) Matcher {
	if re == nil {
		return Matcher{}
	}
	return Matcher{kind: matchPattern, pattern: re}
}

// ParseMatcher builds a Matcher from command line or environment text.
// "/expr/" is a regular expression, a comma separated list matches any of
// its items and anything else is an exact match. Empty text is absent.
func ParseMatcher(text string) (Matcher, error) {
	text = strings.TrimSpace(text)
	switch {
	case text == "":
		return Matcher{}, nil
	case len(text) >= 2 && strings.HasPrefix(text, "/") && strings.HasSuffix(text, "/"):
		re, err := regexp.Compile(text[1 : len(text)-1])
		if err != nil {
			return Matcher{}, &ValidationError{Field: "pattern", Value: text, Err: err}
		}
		return Pattern(re), nil
	case strings.Contains(text, ","):
		return OneOf(splitList(text)...), nil
	default:
		return Exact(text), nil
	}
}

// IsSet reports whether the matcher constrains anything.
func (m Matcher) IsSet() bool {
	return m.kind != matchAny
}

// Match reports whether value satisfies the matcher.
func (m Matcher) Match(value string) bool {
	switch m.kind {
	case matchAny:
		return true
	case matchExact:
		return value == m.values[0]
	case matchOneOf:
		return slices.Contains(m.values, value)
	case matchPattern:
		return m.pattern.MatchString(value)
	default:
		// A matcher built outside this package's constructors matches nothing.
		return false
	}
}

func (m Matcher) String() string {
	switch m.kind {
	case matchExact:
		return m.values[0]
	case matchOneOf:
		return strings.Join(m.values, ",")
	case matchPattern:
		return "/" + m.pattern.String() + "/"
	default:
		return ""
	}
}

// Filter selects a subset of checks by name, id and tags. Dimensions are
// combined with AND; tags match when any filter tag is present on the
// check. The zero Filter is empty and matches every check.
type Filter struct {
	Name Matcher
	ID   Matcher
	// Tags is nil when tags are not filtered on.
	Tags []string
}

// NewFilter builds a Filter, validating the tags.
func NewFilter(name, id Matcher, tags ...string) (Filter, error) {
	f := Filter{Name: name, ID: id}
	if len(tags) > 0 {
		if err := validateTags(tags); err != nil {
			return Filter{}, err
		}
		f.Tags = normalizeTags(tags)
	}
	return f, nil
}

// ParseFilter builds a Filter from text forms of each dimension. tags is a
// comma separated list.
func ParseFilter(name, id, tags string) (Filter, error) {
	nameMatcher, err := ParseMatcher(name)
	if err != nil {
		return Filter{}, err
	}
	idMatcher, err := ParseMatcher(id)
	if err != nil {
		return Filter{}, err
	}
	return NewFilter(nameMatcher, idMatcher, splitList(tags)...)
}

// Empty reports whether no constraint is in effect.
func (f Filter) Empty() bool {
	return !f.Name.IsSet() && !f.ID.IsSet() && f.Tags == nil
}

// Any reports whether at least one constraint is in effect.
func (f Filter) Any() bool {
	return !f.Empty()
}

// Matches reports whether r satisfies every constraint of the filter.
func (f Filter) Matches(r Result) bool {
	if f.Empty() {
		return true
	}
	return f.Name.Match(r.Name) && f.ID.Match(r.ID) && f.matchesTags(r)
}

func (f Filter) matchesTags(r Result) bool {
	if f.Tags == nil {
		return true
	}
	// untagged checks never match a tag filter
	for _, tag := range r.Tags {
		if slices.Contains(f.Tags, tag) {
			return true
		}
	}
	return false
}

func (f Filter) String() string {
	parts := make([]string, 0, 3)
	if f.Name.IsSet() {
		parts = append(parts, "name="+f.Name.String())
	}
	if f.ID.IsSet() {
		parts = append(parts, "id="+f.ID.String())
	}
	if f.Tags != nil {
		parts = append(parts, "tags="+strings.Join(f.Tags, ","))
	}
	return strings.Join(parts, " ")
}

func splitList(text string) []string {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	raw := strings.Split(text, ",")
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		out = append(out, item)
	}
	return out
}
