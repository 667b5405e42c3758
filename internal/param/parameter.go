package param

import (
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/google/uuid"
	"github.com/zclconf/go-cty/cty"
)

// Type is the value type of a parameter.
type Type string

const (
	TypeFloat        Type = "float"
	TypeInt          Type = "int"
	TypeBool         Type = "bool"
	TypeString       Type = "string"
	TypeChoice       Type = "choice"
	TypeSelect       Type = "select"
	TypeFloatArray   Type = "float_array"
	TypeArray        Type = "array"
	TypeConstraint   Type = "constraint"
	TypeDistribution Type = "distribution"
)

// Limits bounds the value of a float or int parameter. A nil bound is open.
type Limits struct {
	Min          *float64
	Max          *float64
	ExclusiveMax bool
}

// Parameter is a single addressable value in a bundle.
type Parameter struct {
	Tags

	UniqueID    string
	Type        Type
	Value       cty.Value
	Unit        string
	Description string
	Choices     []string
	Limits      *Limits

	// VisibleIf hides the parameter unless a sibling parameter (same
	// sub-configuration) has the given value: "qualifier:value" or
	// "qualifier:!value".
	VisibleIf string
	Readonly  bool

	// Expression, Vars, SolveFor and Forms are only set on constraint
	// parameters. Vars maps expression aliases to the uniqueid of the
	// referenced parameter. Forms maps an alias to the expression that solves
	// for it; the constraint can be flipped to any alias listed there.
	Expression string
	Vars       map[string]string
	SolveFor   string
	Forms      map[string]string

	// ConstrainedBy is the uniqueid of the constraint currently driving
	// this parameter, if any.
	ConstrainedBy string
}

// Option customizes a parameter at construction time.
type Option func(*Parameter)

// WithUnit sets the display unit.
func WithUnit(unit string) Option {
	return func(p *Parameter) { p.Unit = unit }
}

// WithLimits bounds a numeric parameter to [min, max].
func WithLimits(min, max *float64) Option {
	return func(p *Parameter) { p.Limits = &Limits{Min: min, Max: max} }
}

// WithExclusiveMax bounds a numeric parameter to [min, max).
func WithExclusiveMax(min, max float64) Option {
	return func(p *Parameter) { p.Limits = &Limits{Min: &min, Max: &max, ExclusiveMax: true} }
}

// WithVisibleIf attaches a visibility condition.
func WithVisibleIf(cond string) Option {
	return func(p *Parameter) { p.VisibleIf = cond }
}

// WithReadonly marks the parameter as not settable by callers.
func WithReadonly() Option {
	return func(p *Parameter) { p.Readonly = true }
}

// Float64 is a helper for building optional limits.
func Float64(v float64) *float64 { return &v }

// New builds a parameter of the given type. The value is converted and
// validated; construction fails on a value that does not fit the type.
func New(tags Tags, typ Type, value any, description string, opts ...Option) (*Parameter, error) {
	p := &Parameter{
		Tags:        tags,
		UniqueID:    uuid.NewString(),
		Type:        typ,
		Description: description,
	}
	for _, opt := range opts {
		opt(p)
	}
	v, err := p.Convert(value)
	if err != nil {
		return nil, fmt.Errorf("parameter %s: %w", tags.Twig(), err)
	}
	if err := p.Validate(v); err != nil {
		return nil, fmt.Errorf("parameter %s: %w", tags.Twig(), err)
	}
	p.Value = v
	return p, nil
}

// MustNew is like New but panics on error. It is used for the built-in
// parameter catalog where a failure is a programming error.
func MustNew(tags Tags, typ Type, value any, description string, opts ...Option) *Parameter {
	p, err := New(tags, typ, value, description, opts...)
	if err != nil {
		panic(err)
	}
	return p
}

// NewChoice builds a choice parameter.
func NewChoice(tags Tags, value string, choices []string, description string, opts ...Option) (*Parameter, error) {
	opts = append([]Option{func(p *Parameter) { p.Choices = slices.Clone(choices) }}, opts...)
	return New(tags, TypeChoice, value, description, opts...)
}

// NewSelect builds a multi-choice parameter.
func NewSelect(tags Tags, values []string, choices []string, description string, opts ...Option) (*Parameter, error) {
	opts = append([]Option{func(p *Parameter) { p.Choices = slices.Clone(choices) }}, opts...)
	return New(tags, TypeSelect, values, description, opts...)
}

// NewConstraint builds a constraint parameter. solveFor is the uniqueid of
// the parameter the expression assigns.
func NewConstraint(tags Tags, expression string, vars map[string]string, solveFor, description string) *Parameter {
	tags.Context = ContextConstraint
	return &Parameter{
		Tags:        tags,
		UniqueID:    uuid.NewString(),
		Type:        TypeConstraint,
		Value:       cty.StringVal(expression),
		Description: description,
		Expression:  expression,
		Vars:        maps.Clone(vars),
		SolveFor:    solveFor,
	}
}

// Alias returns the expression alias bound to uniqueid, if any.
func (p *Parameter) Alias(uniqueid string) (string, bool) {
	for alias, id := range p.Vars {
		if id == uniqueid {
			return alias, true
		}
	}
	return "", false
}

// Twig returns the twig built from all tags of the parameter.
func (p *Parameter) Twig() string {
	return p.Tags.Twig()
}

// IsConstrained reports whether a constraint currently drives the parameter.
func (p *Parameter) IsConstrained() bool {
	return p.ConstrainedBy != ""
}

// Clone returns a deep copy. cty values are immutable and are shared.
func (p *Parameter) Clone() *Parameter {
	c := *p
	c.Choices = slices.Clone(p.Choices)
	c.Vars = maps.Clone(p.Vars)
	c.Forms = maps.Clone(p.Forms)
	if p.Limits != nil {
		l := *p.Limits
		c.Limits = &l
	}
	return &c
}

// Duplicate returns a deep copy with a fresh uniqueid.
func (p *Parameter) Duplicate() *Parameter {
	c := p.Clone()
	c.UniqueID = uuid.NewString()
	c.ConstrainedBy = ""
	return c
}

// Visible evaluates VisibleIf using lookup, which returns the display value
// of a sibling parameter by qualifier.
func (p *Parameter) Visible(lookup func(qualifier string) (string, bool)) bool {
	if p.VisibleIf == "" {
		return true
	}
	qualifier, want, ok := strings.Cut(p.VisibleIf, ":")
	if !ok {
		return true
	}
	negate := strings.HasPrefix(want, "!")
	want = strings.TrimPrefix(want, "!")

	got, found := lookup(qualifier)
	if !found {
		return true
	}
	if negate {
		return got != want
	}
	return got == want
}

// String renders the parameter for display.
func (p *Parameter) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Parameter: %s\n", p.Twig())
	fmt.Fprintf(&sb, "                       Qualifier: %s\n", p.Qualifier)
	fmt.Fprintf(&sb, "                     Description: %s\n", p.Description)
	value := FormatValue(p.Value)
	if p.Unit != "" {
		value += " " + p.Unit
	}
	fmt.Fprintf(&sb, "                           Value: %s\n", value)
	if len(p.Choices) > 0 {
		fmt.Fprintf(&sb, "                         Choices: %s\n", strings.Join(p.Choices, ", "))
	}
	if p.IsConstrained() {
		fmt.Fprintf(&sb, "                  Constrained by: %s\n", p.ConstrainedBy)
	}
	if p.VisibleIf != "" {
		fmt.Fprintf(&sb, "                  Only visible if: %s\n", p.VisibleIf)
	}
	return sb.String()
}
