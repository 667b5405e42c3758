package twig

// Separator joins the segments of a twig.
const Separator = "@"

// Twig is a parsed twig address.
type Twig struct {
	Segments []string
}

// New builds a twig from already validated segments, skipping empty ones.
func New(segments ...string) *Twig {
	t := &Twig{}
	for _, s := range segments {
		if s != "" {
			t.Segments = append(t.Segments, s)
		}
	}
	return t
}

// IsEmpty reports whether the twig has no segments.
func (t *Twig) IsEmpty() bool {
	return t == nil || len(t.Segments) == 0
}
