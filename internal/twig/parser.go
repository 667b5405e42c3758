package twig

import (
	"fmt"
	"regexp"
	"strings"
)

// segmentRegex is used to validate a single segment of a twig, e.g. `requiv` or `mesh*`.
var segmentRegex = regexp.MustCompile(`^[a-zA-Z0-9_.*\-]+$`)

// isValidSegmentName checks for undesirable but technically valid names.
func isValidSegmentName(name string) bool {
	if name == "." || name == ".." || name == "-" {
		return false
	}
	return true
}

// Parse creates a new Twig by parsing its canonical string representation.
func Parse(raw string) (*Twig, error) {
	if raw == "" {
		return nil, fmt.Errorf("twig cannot be empty")
	}

	t := &Twig{}
	for _, segment := range strings.Split(raw, Separator) {
		if segment == "" {
			return nil, fmt.Errorf("twig %q contains empty segment", raw)
		}
		if !segmentRegex.MatchString(segment) {
			return nil, fmt.Errorf("invalid twig segment format: %q", segment)
		}
		if !isValidSegmentName(segment) {
			return nil, fmt.Errorf("invalid twig segment name: %q", segment)
		}
		t.Segments = append(t.Segments, segment)
	}

	return t, nil
}

// MustParse is like Parse but panics on error. Intended for literals.
func MustParse(raw string) *Twig {
	t, err := Parse(raw)
	if err != nil {
		panic(err)
	}
	return t
}
