package paramstore

import (
	"fmt"
	"strings"

	"github.com/vk/starbundle/internal/param"
	"github.com/vk/starbundle/internal/twig"
)

// Query selects parameters. A parameter matches when every segment of
// Twig matches one of its tag values and every non-empty field of Tags
// equals (or globs) the corresponding tag.
type Query struct {
	Twig string
	Tags param.Tags

	// IncludeHidden disables VisibleIf filtering.
	IncludeHidden bool
}

// Twig builds a query from a twig string.
func Twig(raw string) Query {
	return Query{Twig: raw}
}

// Validate reports a malformed twig.
func (q Query) Validate() error {
	if q.Twig == "" {
		return nil
	}
	_, err := twig.Parse(q.Twig)
	return err
}

// Qualifier returns the qualifier the query most likely refers to. It is
// used to compute suggestions.
func (q Query) Qualifier() string {
	if q.Tags.Qualifier != "" {
		return q.Tags.Qualifier
	}
	if q.Twig != "" {
		first, _, _ := strings.Cut(q.Twig, twig.Separator)
		return first
	}
	return ""
}

// String renders the query for error messages.
func (q Query) String() string {
	var parts []string
	if q.Twig != "" {
		parts = append(parts, fmt.Sprintf("twig=%q", q.Twig))
	}
	for _, name := range param.TagNames {
		if v := q.Tags.Get(name); v != "" {
			parts = append(parts, fmt.Sprintf("%s=%q", name, v))
		}
	}
	if len(parts) == 0 {
		return "{}"
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

// matcher is a compiled query.
type matcher struct {
	twig *twig.Twig
	tags param.Tags
	bad  bool
}

func compile(q Query) matcher {
	m := matcher{tags: q.Tags}
	if q.Twig != "" {
		t, err := twig.Parse(q.Twig)
		if err != nil {
			m.bad = true
			return m
		}
		m.twig = t
	}
	return m
}

func (m matcher) match(p *param.Parameter) bool {
	if m.bad {
		return false
	}
	for _, name := range param.TagNames {
		want := m.tags.Get(name)
		if want == "" {
			continue
		}
		if !twig.MatchSegment(want, p.Tags.Get(name)) {
			return false
		}
	}
	return m.twig.Matches(p.Tags.Values())
}
