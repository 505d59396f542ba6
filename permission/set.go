package permission

import "sort"

// Set is an unordered collection of permission names.
type Set map[string]struct{}

// NewSet builds a Set from names.
func NewSet(names ...string) Set {
	s := make(Set, len(names))
	for _, n := range names {
		s[n] = struct{}{}
	}
	return s
}

// Add inserts names into s.
func (s Set) Add(names ...string) {
	for _, n := range names {
		s[n] = struct{}{}
	}
}

// Union adds every member of other to s.
func (s Set) Union(other Set) {
	for n := range other {
		s[n] = struct{}{}
	}
}

// Has reports membership.
func (s Set) Has(name string) bool {
	_, ok := s[name]
	return ok
}

// HasAll reports whether every name is a member. An empty argument list is
// never satisfied, so callers cannot accidentally authorize "nothing".
func (s Set) HasAll(names ...string) bool {
	if len(names) == 0 {
		return false
	}
	for _, n := range names {
		if !s.Has(n) {
			return false
		}
	}
	return true
}

// Missing returns the names not present in s, in input order.
func (s Set) Missing(names ...string) []string {
	var out []string
	for _, n := range names {
		if !s.Has(n) {
			out = append(out, n)
		}
	}
	return out
}

// Exceeding returns the members of other that s does not hold, sorted.
// A wildcard in s covers everything.
func (s Set) Exceeding(other Set) []string {
	if s.Has(Wildcard) {
		return nil
	}
	var out []string
	for n := range other {
		if !s.Has(n) {
			out = append(out, n)
		}
	}
	sort.Strings(out)
	return out
}

// Sorted returns the members in lexical order.
func (s Set) Sorted() []string {
	out := make([]string, 0, len(s))
	for n := range s {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}
