package twig

import (
	"path"
	"slices"
	"strings"
)

// String serializes the Twig into its canonical representation.
func (t *Twig) String() string {
	if t == nil {
		return ""
	}
	return strings.Join(t.Segments, Separator)
}

// Equal checks for equality of two twigs, including segment order.
func (t *Twig) Equal(other *Twig) bool {
	if t == nil || other == nil {
		return t == other
	}
	return slices.Equal(t.Segments, other.Segments)
}

// Matches reports whether every segment of the twig is satisfied by at
// least one of the given tag values. Empty tag values never match.
func (t *Twig) Matches(values []string) bool {
	if t.IsEmpty() {
		return true
	}
	for _, segment := range t.Segments {
		if !matchAny(segment, values) {
			return false
		}
	}
	return true
}

// MatchSegment reports whether a single segment (possibly a glob) matches value.
func MatchSegment(segment, value string) bool {
	if value == "" {
		return false
	}
	if !strings.Contains(segment, "*") {
		return segment == value
	}
	ok, err := path.Match(segment, value)
	return err == nil && ok
}

func matchAny(segment string, values []string) bool {
	for _, v := range values {
		if MatchSegment(segment, v) {
			return true
		}
	}
	return false
}
