package paramstore

import (
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"

	"github.com/agnivade/levenshtein"
	"github.com/vk/starbundle/internal/param"
)

// maxSuggestionDistance bounds the edit distance for "did you mean" hints.
const maxSuggestionDistance = 2

// Set is an ordered collection of parameters keyed by their full tag tuple.
//
// A Set returned by Filter is a view: it holds the same *param.Parameter
// pointers as its parent, so value changes are shared while membership is not.
type Set struct {
	mu     sync.RWMutex
	params []*param.Parameter
	byKey  map[string]*param.Parameter
	byID   map[string]*param.Parameter

	// parent is consulted for VisibleIf sibling lookups on views.
	parent *Set
}

// New creates a set holding the given parameters. Duplicate keys are
// rejected with ErrDuplicateKey.
func New(params ...*param.Parameter) (*Set, error) {
	s := &Set{
		byKey: make(map[string]*param.Parameter),
		byID:  make(map[string]*param.Parameter),
	}
	for _, p := range params {
		if err := s.Add(p); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Empty creates a new, empty set.
func Empty() *Set {
	s, _ := New()
	return s
}

// Add appends a parameter.
func (s *Set) Add(p *param.Parameter) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addLocked(p)
}

func (s *Set) addLocked(p *param.Parameter) error {
	key := p.Tags.Key()
	if existing, ok := s.byKey[key]; ok {
		return fmt.Errorf("%w: %s (uniqueid %s)", ErrDuplicateKey, p.Twig(), existing.UniqueID)
	}
	if _, ok := s.byID[p.UniqueID]; ok {
		return fmt.Errorf("%w: uniqueid %s", ErrDuplicateKey, p.UniqueID)
	}
	s.params = append(s.params, p)
	s.byKey[key] = p
	s.byID[p.UniqueID] = p
	return nil
}

// AddAll appends every parameter or none of them.
func (s *Set) AddAll(params ...*param.Parameter) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	seen := make(map[string]bool, len(params))
	for _, p := range params {
		key := p.Tags.Key()
		if _, ok := s.byKey[key]; ok || seen[key] {
			return fmt.Errorf("%w: %s", ErrDuplicateKey, p.Twig())
		}
		seen[key] = true
	}
	for _, p := range params {
		if err := s.addLocked(p); err != nil {
			return err
		}
	}
	return nil
}

// Remove deletes every parameter matching q (hidden ones included) and
// returns them.
func (s *Set) Remove(q Query) []*param.Parameter {
	q.IncludeHidden = true
	m := compile(q)

	s.mu.Lock()
	defer s.mu.Unlock()

	var removed []*param.Parameter
	kept := s.params[:0]
	for _, p := range s.params {
		if m.match(p) {
			removed = append(removed, p)
			delete(s.byKey, p.Tags.Key())
			delete(s.byID, p.UniqueID)
			continue
		}
		kept = append(kept, p)
	}
	clear(s.params[len(kept):])
	s.params = kept
	return removed
}

// RemoveID deletes the parameter with the given uniqueid.
func (s *Set) RemoveID(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.byID[id]
	if !ok {
		return false
	}
	delete(s.byID, id)
	delete(s.byKey, p.Tags.Key())
	s.params = slices.DeleteFunc(s.params, func(q *param.Parameter) bool { return q == p })
	return true
}

// ByID looks a parameter up by uniqueid.
func (s *Set) ByID(id string) (*param.Parameter, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.byID[id]
	return p, ok
}

// Len returns the number of parameters.
func (s *Set) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.params)
}

// All returns the parameters in insertion order.
func (s *Set) All() []*param.Parameter {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.params)
}

// Filter returns a view holding every matching, visible parameter.
func (s *Set) Filter(q Query) *Set {
	m := compile(q)
	view := Empty()
	view.parent = s.root()

	for _, p := range s.All() {
		if !m.match(p) {
			continue
		}
		if !q.IncludeHidden && !view.parent.visible(p) {
			continue
		}
		_ = view.Add(p)
	}
	return view
}

// Get returns the single parameter matching q.
func (s *Set) Get(q Query) (*param.Parameter, error) {
	if err := q.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParameterNotFound, err)
	}
	matches := s.Filter(q).All()
	switch len(matches) {
	case 1:
		return matches[0], nil
	case 0:
		return nil, &NotFoundError{Query: q, Suggestions: s.suggest(q.Qualifier())}
	}
	twigs := make([]string, len(matches))
	for i, p := range matches {
		twigs[i] = p.Twig()
	}
	return nil, &AmbiguousError{Query: q, Matches: twigs}
}

// Values returns the distinct non-empty values of a tag, in order of first
// appearance.
func (s *Set) Values(tag string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, p := range s.All() {
		v := p.Tags.Get(tag)
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}

// Twigs returns the twig of every parameter.
func (s *Set) Twigs() []string {
	params := s.All()
	out := make([]string, len(params))
	for i, p := range params {
		out[i] = p.Twig()
	}
	return out
}

// Clone deep-copies every parameter into a new, independent set.
func (s *Set) Clone() *Set {
	c := Empty()
	for _, p := range s.All() {
		_ = c.Add(p.Clone())
	}
	return c
}

// String renders the set one parameter per line.
func (s *Set) String() string {
	params := s.All()
	if len(params) == 0 {
		return "ParameterSet: (empty)"
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "ParameterSet: %d parameters\n", len(params))
	width := 0
	for _, p := range params {
		width = max(width, len(p.Twig()))
	}
	for _, p := range params {
		value := param.FormatValue(p.Value)
		if p.Unit != "" {
			value += " " + p.Unit
		}
		fmt.Fprintf(&sb, "%*s: %s\n", width+3, p.Twig(), value)
	}
	return sb.String()
}

func (s *Set) root() *Set {
	if s.parent != nil {
		return s.parent
	}
	return s
}

// visible evaluates p.VisibleIf against its siblings in s.
func (s *Set) visible(p *param.Parameter) bool {
	if p.VisibleIf == "" {
		return true
	}
	return p.Visible(func(qualifier string) (string, bool) {
		s.mu.RLock()
		sibling, ok := s.byKey[p.Tags.With("qualifier", qualifier).Key()]
		s.mu.RUnlock()
		if !ok {
			return "", false
		}
		return param.FormatValue(sibling.Value), true
	})
}

func (s *Set) suggest(qualifier string) []string {
	if qualifier == "" {
		return nil
	}
	type candidate struct {
		name string
		dist int
	}
	var candidates []candidate
	for _, name := range s.Values("qualifier") {
		if name == qualifier {
			continue
		}
		if d := levenshtein.ComputeDistance(qualifier, name); d <= maxSuggestionDistance {
			candidates = append(candidates, candidate{name, d})
		}
	}
	sort.SliceStable(candidates, func(i, j int) bool { return candidates[i].dist < candidates[j].dist })
	out := make([]string, len(candidates))
	for i, c := range candidates {
		out[i] = c.name
	}
	return out
}
